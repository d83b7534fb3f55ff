package codec

import "fmt"

// TxInput references a prior UTXO by (txid, vout) and carries the spending
// key material. Signature is either a 64-byte compact ECDSA signature (hex)
// or the sentinel "eth_sig:v:r:s" for EIP-155-originated inputs.
type TxInput struct {
	Txid      string
	Vout      uint32
	Pubkey    string // uncompressed public key, hex
	Signature string
}

// TxOutput carries a recipient address (lowercase 0x-prefixed 20-byte hex)
// and an amount.
type TxOutput struct {
	To     string
	Amount Amount
}

// Transaction is the ledger's unit of value transfer. Txid is the internal
// double-SHA256 identifier; EthHash is the external Keccak-256 identifier
// Ethereum-compat clients see.
type Transaction struct {
	Txid      string
	EthHash   string
	Inputs    []TxInput
	Outputs   []TxOutput
	Timestamp int64
}

// signingEncode serializes inputs (stripped of Pubkey/Signature, i.e. only
// txid+vout survive) plus outputs plus timestamp — the body every native
// signature is computed over, and the body both hash functions digest to
// derive Txid/EthHash.
func (t *Transaction) signingEncode() []byte {
	w := NewWriter()
	w.WriteUint64(uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		w.WriteBytes([]byte(in.Txid))
		w.WriteUint32(in.Vout)
	}
	w.WriteUint64(uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		w.WriteBytes([]byte(out.To))
		w.WriteAmount(out.Amount)
	}
	w.WriteInt64(t.Timestamp)
	return w.Bytes()
}

// ComputeTxid returns the internal identifier: double_sha256 over the
// signing body.
func (t *Transaction) ComputeTxid() string {
	return HashHex(DoubleSHA256(t.signingEncode()))
}

// ComputeEthHash returns the external identifier: 0x-prefixed Keccak-256
// over the same canonical body.
func (t *Transaction) ComputeEthHash() string {
	return "0x" + HashHex(Keccak256(t.signingEncode()))
}

// SigningDigest is what native secp256k1 signatures are computed over: the
// SHA-256 of the signing body (see spec.md §4.4.1 rule 5).
func (t *Transaction) SigningDigest() [32]byte {
	return sha256Sum(t.signingEncode())
}

func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 0
}

// Encode serializes the full transaction, including identifiers and input
// key material, for storage and wire transfer.
func (t *Transaction) Encode() []byte {
	w := NewWriter()
	w.WriteBytes([]byte(t.Txid))
	w.WriteBytes([]byte(t.EthHash))
	w.WriteUint64(uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		w.WriteBytes([]byte(in.Txid))
		w.WriteUint32(in.Vout)
		w.WriteBytes([]byte(in.Pubkey))
		w.WriteBytes([]byte(in.Signature))
	}
	w.WriteUint64(uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		w.WriteBytes([]byte(out.To))
		w.WriteAmount(out.Amount)
	}
	w.WriteInt64(t.Timestamp)
	return w.Bytes()
}

func DecodeTransaction(data []byte) (*Transaction, error) {
	r := NewReader(data)
	t := &Transaction{}

	txidB, err := r.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("codec: decode txid: %w", err)
	}
	t.Txid = string(txidB)

	ethB, err := r.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("codec: decode eth_hash: %w", err)
	}
	t.EthHash = string(ethB)

	nIn, err := r.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("codec: decode input count: %w", err)
	}
	t.Inputs = make([]TxInput, 0, nIn)
	for i := uint64(0); i < nIn; i++ {
		var in TxInput
		txid, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		in.Txid = string(txid)
		if in.Vout, err = r.ReadUint32(); err != nil {
			return nil, err
		}
		pk, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		in.Pubkey = string(pk)
		sig, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		in.Signature = string(sig)
		t.Inputs = append(t.Inputs, in)
	}

	nOut, err := r.ReadUint64()
	if err != nil {
		return nil, fmt.Errorf("codec: decode output count: %w", err)
	}
	t.Outputs = make([]TxOutput, 0, nOut)
	for i := uint64(0); i < nOut; i++ {
		var out TxOutput
		to, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		out.To = string(to)
		if out.Amount, err = r.ReadAmount(); err != nil {
			return nil, err
		}
		t.Outputs = append(t.Outputs, out)
	}

	if t.Timestamp, err = r.ReadInt64(); err != nil {
		return nil, fmt.Errorf("codec: decode timestamp: %w", err)
	}

	return t, nil
}

// UTXO is an unspent output: (txid, vout, to, amount).
type UTXO struct {
	Txid   string
	Vout   uint32
	To     string
	Amount Amount
}

func (u *UTXO) Encode() []byte {
	w := NewWriter()
	w.WriteBytes([]byte(u.Txid))
	w.WriteUint32(u.Vout)
	w.WriteBytes([]byte(u.To))
	w.WriteAmount(u.Amount)
	return w.Bytes()
}

func DecodeUTXO(data []byte) (*UTXO, error) {
	r := NewReader(data)
	u := &UTXO{}
	var err error
	txid, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	u.Txid = string(txid)
	if u.Vout, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	to, err := r.ReadBytes()
	if err != nil {
		return nil, err
	}
	u.To = string(to)
	if u.Amount, err = r.ReadAmount(); err != nil {
		return nil, err
	}
	return u, nil
}
