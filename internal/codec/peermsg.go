package codec

import "fmt"

// MessageType identifies the PeerMessage variant on the wire.
type MessageType byte

const (
	MsgVersion     MessageType = 1
	MsgVerAck      MessageType = 2
	MsgGetHeaders  MessageType = 3
	MsgHeaders     MessageType = 4
	MsgInv         MessageType = 5
	MsgGetData     MessageType = 6
	MsgBlock       MessageType = 7
	MsgTx          MessageType = 8
	MsgPing        MessageType = 9
	MsgPong        MessageType = 10
)

// InvType distinguishes the object kind an Inv/GetData message refers to.
type InvType byte

const (
	InvTx    InvType = 1
	InvBlock InvType = 2
)

// PeerMessage is the sum type exchanged over the length-delimited P2P
// frame. Exactly one of the typed fields is populated, selected by Type.
type PeerMessage struct {
	Type MessageType

	// Version
	VersionString string
	Height        uint64

	// GetHeaders
	Locators [][32]byte
	StopHash [32]byte

	// Headers
	HeaderList []BlockHeader

	// Inv / GetData
	ObjType InvType
	Hashes  [][32]byte

	// Block
	Block *Block

	// Tx
	Tx *Transaction

	// Ping / Pong
	Nonce uint64
}

// Encode serializes a PeerMessage to the canonical binary form: a 1-byte
// type tag followed by the variant's fields.
func (m *PeerMessage) Encode() []byte {
	w := NewWriter()
	w.WriteByte(byte(m.Type))

	switch m.Type {
	case MsgVersion:
		w.WriteBytes([]byte(m.VersionString))
		w.WriteUint64(m.Height)
	case MsgVerAck:
		// no payload
	case MsgGetHeaders:
		w.WriteUint64(uint64(len(m.Locators)))
		for _, h := range m.Locators {
			w.WriteHash(h)
		}
		w.WriteHash(m.StopHash)
	case MsgHeaders:
		w.WriteUint64(uint64(len(m.HeaderList)))
		for _, h := range m.HeaderList {
			w.WriteBytes(h.Encode())
		}
	case MsgInv, MsgGetData:
		w.WriteByte(byte(m.ObjType))
		w.WriteUint64(uint64(len(m.Hashes)))
		for _, h := range m.Hashes {
			w.WriteHash(h)
		}
	case MsgBlock:
		w.WriteBytes(m.Block.Encode())
	case MsgTx:
		w.WriteBytes(m.Tx.Encode())
	case MsgPing, MsgPong:
		w.WriteUint64(m.Nonce)
	}
	return w.Bytes()
}

// DecodePeerMessage decodes a PeerMessage from its canonical binary form.
func DecodePeerMessage(data []byte) (*PeerMessage, error) {
	r := NewReader(data)
	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	m := &PeerMessage{Type: MessageType(typeByte)}

	switch m.Type {
	case MsgVersion:
		v, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		m.VersionString = string(v)
		if m.Height, err = r.ReadUint64(); err != nil {
			return nil, err
		}
	case MsgVerAck:
		// no payload
	case MsgGetHeaders:
		n, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		m.Locators = make([][32]byte, 0, n)
		for i := uint64(0); i < n; i++ {
			h, err := r.ReadHash()
			if err != nil {
				return nil, err
			}
			m.Locators = append(m.Locators, h)
		}
		if m.StopHash, err = r.ReadHash(); err != nil {
			return nil, err
		}
	case MsgHeaders:
		n, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		if n > 200 {
			return nil, fmt.Errorf("codec: Headers message exceeds 200-header cap (%d)", n)
		}
		m.HeaderList = make([]BlockHeader, 0, n)
		for i := uint64(0); i < n; i++ {
			raw, err := r.ReadBytes()
			if err != nil {
				return nil, err
			}
			hdr, err := DecodeBlockHeader(raw)
			if err != nil {
				return nil, err
			}
			m.HeaderList = append(m.HeaderList, *hdr)
		}
	case MsgInv, MsgGetData:
		ot, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		m.ObjType = InvType(ot)
		n, err := r.ReadUint64()
		if err != nil {
			return nil, err
		}
		m.Hashes = make([][32]byte, 0, n)
		for i := uint64(0); i < n; i++ {
			h, err := r.ReadHash()
			if err != nil {
				return nil, err
			}
			m.Hashes = append(m.Hashes, h)
		}
	case MsgBlock:
		raw, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		blk, err := DecodeBlock(raw)
		if err != nil {
			return nil, err
		}
		m.Block = blk
	case MsgTx:
		raw, err := r.ReadBytes()
		if err != nil {
			return nil, err
		}
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return nil, err
		}
		m.Tx = tx
	case MsgPing, MsgPong:
		if m.Nonce, err = r.ReadUint64(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("codec: unknown peer message type %d", typeByte)
	}

	return m, nil
}
