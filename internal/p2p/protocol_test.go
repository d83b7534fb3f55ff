package p2p

import (
	"encoding/binary"
	"net"
	"testing"

	"netcoin/internal/codec"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	msg := &codec.PeerMessage{Type: codec.MsgPing, Nonce: 42}
	errCh := make(chan error, 1)
	go func() { errCh <- writeFrame(client, msg.Encode()) }()

	raw, err := readFrame(server)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	got, err := codec.DecodePeerMessage(raw)
	if err != nil {
		t.Fatalf("DecodePeerMessage: %v", err)
	}
	if got.Type != codec.MsgPing || got.Nonce != 42 {
		t.Errorf("got %+v, want Ping{Nonce: 42}", got)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	// Write only the 4-byte length header (claiming an oversized payload)
	// so readFrame rejects it before ever trying to read a huge body.
	go func() {
		var hdr [4]byte
		binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
		client.Write(hdr[:])
	}()

	_, err := readFrame(server)
	if err == nil {
		t.Error("expected an error for a frame exceeding MaxFrameSize")
	}
}
