package codec

import (
	"math/big"
	"testing"
)

func TestDoubleSHA256KnownVector(t *testing.T) {
	hash := DoubleSHA256([]byte("hello"))
	got := HashHex(hash)
	want := "9595c9df90075148eb06860365df33584b75bff782a510c6cd4883a419833d50"
	if got != want {
		t.Errorf("DoubleSHA256(\"hello\") = %s, want %s", got, want)
	}
}

func TestAmountRoundTrip(t *testing.T) {
	v := new(big.Int)
	v.SetString("123456789012345678901234567890", 10)
	a, err := AmountFromBigInt(v)
	if err != nil {
		t.Fatalf("AmountFromBigInt: %v", err)
	}
	if a.BigInt().Cmp(v) != 0 {
		t.Errorf("round trip mismatch: got %s want %s", a.BigInt(), v)
	}

	w := NewWriter()
	w.WriteAmount(a)
	r := NewReader(w.Bytes())
	got, err := r.ReadAmount()
	if err != nil {
		t.Fatalf("ReadAmount: %v", err)
	}
	if got.Cmp(a) != 0 {
		t.Error("encode/decode amount mismatch")
	}
}

func TestAmountArithmetic(t *testing.T) {
	one := AmountFromUint64(1)
	max64 := AmountFromUint64(^uint64(0))

	sum, overflow := max64.Add(one)
	if overflow {
		t.Fatal("unexpected overflow adding 1 to max uint64 within 256 bits")
	}
	if sum.Words[0] != 0 || sum.Words[1] != 1 {
		t.Errorf("carry propagation failed: %+v", sum)
	}

	diff, underflow := one.Sub(AmountFromUint64(2))
	if !underflow {
		t.Error("expected underflow subtracting 2 from 1")
	}
	_ = diff
}

func TestMerkleRootSingleAndOddCounts(t *testing.T) {
	a := DoubleSHA256([]byte("a"))
	b := DoubleSHA256([]byte("b"))
	c := DoubleSHA256([]byte("c"))

	single := MerkleRoot([][32]byte{a})
	if single != a {
		t.Errorf("single-element root should equal the element")
	}

	// Odd count duplicates the last leaf — root([a,b,c]) must equal
	// root([a,b,c,c]).
	odd := MerkleRoot([][32]byte{a, b, c})
	dup := MerkleRoot([][32]byte{a, b, c, c})
	if odd != dup {
		t.Error("odd-count merkle root should equal duplicated-last-leaf root")
	}

	empty := MerkleRoot(nil)
	if empty != DoubleSHA256(nil) {
		t.Error("empty merkle root should be double_sha256(empty)")
	}
}

func TestBlockHeaderHashAndNonceOffset(t *testing.T) {
	h := &BlockHeader{
		Index:      7,
		Timestamp:  1738800000,
		Nonce:      42,
		Difficulty: 1,
	}
	encoded := h.Encode()
	if len(encoded) != NonceOffset+8+4 {
		t.Fatalf("unexpected header length %d", len(encoded))
	}

	decoded, err := DecodeBlockHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeBlockHeader: %v", err)
	}
	if *decoded != *h {
		t.Errorf("header round trip mismatch: got %+v want %+v", decoded, h)
	}
	if decoded.Hash() != h.Hash() {
		t.Error("hash should be deterministic across encode/decode")
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := &Transaction{
		Inputs: []TxInput{
			{Txid: "deadbeef", Vout: 0, Pubkey: "04aa", Signature: "bb"},
		},
		Outputs: []TxOutput{
			{To: "0xabc", Amount: AmountFromUint64(1000)},
		},
		Timestamp: 1738800001,
	}
	tx.Txid = tx.ComputeTxid()
	tx.EthHash = tx.ComputeEthHash()

	encoded := tx.Encode()
	decoded, err := DecodeTransaction(encoded)
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if decoded.Txid != tx.Txid || decoded.EthHash != tx.EthHash {
		t.Errorf("identifier mismatch after round trip")
	}
	if len(decoded.Inputs) != 1 || decoded.Inputs[0].Txid != "deadbeef" {
		t.Errorf("input mismatch after round trip: %+v", decoded.Inputs)
	}
	if decoded.Outputs[0].Amount.Cmp(AmountFromUint64(1000)) != 0 {
		t.Errorf("output amount mismatch after round trip")
	}
}

func TestPeerMessageRoundTripEachVariant(t *testing.T) {
	cases := []*PeerMessage{
		{Type: MsgVersion, VersionString: "1.0.0", Height: 10},
		{Type: MsgVerAck},
		{Type: MsgGetHeaders, Locators: [][32]byte{{1}, {2}}, StopHash: [32]byte{9}},
		{Type: MsgHeaders, HeaderList: []BlockHeader{{Index: 1}, {Index: 2}}},
		{Type: MsgInv, ObjType: InvBlock, Hashes: [][32]byte{{5}}},
		{Type: MsgGetData, ObjType: InvTx, Hashes: [][32]byte{{6}, {7}}},
		{Type: MsgBlock, Block: &Block{Header: BlockHeader{Index: 3}}},
		{Type: MsgTx, Tx: &Transaction{Txid: "ab", Timestamp: 1}},
		{Type: MsgPing, Nonce: 99},
		{Type: MsgPong, Nonce: 100},
	}

	for _, want := range cases {
		encoded := want.Encode()
		got, err := DecodePeerMessage(encoded)
		if err != nil {
			t.Fatalf("DecodePeerMessage(type=%d): %v", want.Type, err)
		}
		if got.Type != want.Type {
			t.Errorf("type mismatch: got %d want %d", got.Type, want.Type)
		}
	}
}

func TestHeadersMessageRejectsOverCap(t *testing.T) {
	w := NewWriter()
	w.WriteByte(byte(MsgHeaders))
	w.WriteUint64(201)
	if _, err := DecodePeerMessage(w.Bytes()); err == nil {
		t.Error("expected error decoding a Headers message claiming 201 headers")
	}
}
