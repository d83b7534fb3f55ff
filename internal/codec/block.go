package codec

// BlockHeader is the fixed-width encodable header. Difficulty is the count
// of leading zero hex nibbles the header's double-SHA256 digest must carry.
type BlockHeader struct {
	Index        uint64
	PreviousHash [32]byte
	MerkleRoot   [32]byte
	Timestamp    int64
	Nonce        uint64
	Difficulty   uint32
}

// Encode produces the canonical fixed-width encoding. The nonce's offset is
// fixed so the miner can rewrite just those 8 bytes between attempts
// instead of re-serializing the whole header.
func (h *BlockHeader) Encode() []byte {
	w := NewWriter()
	w.WriteUint64(h.Index)
	w.WriteHash(h.PreviousHash)
	w.WriteHash(h.MerkleRoot)
	w.WriteInt64(h.Timestamp)
	w.WriteUint64(h.Nonce) // NonceOffset below must track this position
	w.WriteUint32(h.Difficulty)
	return w.Bytes()
}

// NonceOffset is the fixed byte offset of the nonce field within
// BlockHeader.Encode()'s output: 8 (index) + 32 (prev) + 32 (merkle) + 8
// (timestamp) = 80.
const NonceOffset = 8 + 32 + 32 + 8

func DecodeBlockHeader(data []byte) (*BlockHeader, error) {
	r := NewReader(data)
	h := &BlockHeader{}
	var err error
	if h.Index, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if h.PreviousHash, err = r.ReadHash(); err != nil {
		return nil, err
	}
	if h.MerkleRoot, err = r.ReadHash(); err != nil {
		return nil, err
	}
	if h.Timestamp, err = r.ReadInt64(); err != nil {
		return nil, err
	}
	if h.Nonce, err = r.ReadUint64(); err != nil {
		return nil, err
	}
	if h.Difficulty, err = r.ReadUint32(); err != nil {
		return nil, err
	}
	return h, nil
}

// Hash returns hex(double_sha256(encode(header))).
func (h *BlockHeader) Hash() string {
	return HashHex(DoubleSHA256(h.Encode()))
}

// MeetsDifficulty reports whether the header's hash has at least
// Difficulty leading zero hex nibbles.
func (h *BlockHeader) MeetsDifficulty() bool {
	return HashMeetsDifficulty(h.Hash(), h.Difficulty)
}

// HashMeetsDifficulty checks a lowercase hex hash string for a run of
// leading '0' nibbles of at least the given count.
func HashMeetsDifficulty(hexHash string, difficulty uint32) bool {
	if uint32(len(hexHash)) < difficulty {
		return false
	}
	for i := uint32(0); i < difficulty; i++ {
		if hexHash[i] != '0' {
			return false
		}
	}
	return true
}

// Block is the persisted unit: header, ordered transactions, and the
// header's own hash (cached rather than recomputed on every access).
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
	Hash         string
}

func (b *Block) Encode() []byte {
	w := NewWriter()
	w.buf = append(w.buf, b.Header.Encode()...)
	w.WriteUint64(uint64(len(b.Transactions)))
	for _, tx := range b.Transactions {
		w.WriteBytes(tx.Encode())
	}
	return w.Bytes()
}

func DecodeBlock(data []byte) (*Block, error) {
	if len(data) < NonceOffset+8+4 {
		return nil, errShortBlock
	}
	headerLen := NonceOffset + 8 + 4
	hdr, err := DecodeBlockHeader(data[:headerLen])
	if err != nil {
		return nil, err
	}
	r := NewReader(data[headerLen:])
	n, err := r.ReadUint64()
	if err != nil {
		return nil, err
	}
	txs := make([]*Transaction, 0, n)
	for i := uint64(0); i < n; i++ {
		raw, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return &Block{Header: *hdr, Transactions: txs, Hash: hdr.Hash()}, nil
}

// ComputeMerkleRoot derives the Merkle root from this block's ordered
// transaction ids.
func (b *Block) ComputeMerkleRoot() ([32]byte, error) {
	ids := make([][32]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		h, err := HashFromHex(tx.Txid)
		if err != nil {
			return [32]byte{}, err
		}
		ids[i] = h
	}
	return MerkleRoot(ids), nil
}

var errShortBlock = decodeErr("codec: block data too short for a header")

type decodeErr string

func (e decodeErr) Error() string { return string(e) }
