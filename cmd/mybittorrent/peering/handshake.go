package peering

import (
	"bytes"
	"fmt"
)

const (
	// ProtocolID is the protocol label sent in every handshake.
	ProtocolID = "BitTorrent protocol"
	// HandshakeLen is the fixed length of a handshake message.
	HandshakeLen = 1 + len(ProtocolID) + 8 + 20 + 20
)

// Handshake is the greeting exchanged before any other peer wire message.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// Marshal encodes h into its 68-byte wire form.
func (h Handshake) Marshal() []byte {
	b := make([]byte, HandshakeLen)
	b[0] = byte(len(ProtocolID))
	copy(b[1:20], ProtocolID)
	copy(b[20:28], h.Reserved[:])
	copy(b[28:48], h.InfoHash[:])
	copy(b[48:68], h.PeerID[:])
	return b
}

// ParseHandshake decodes a 68-byte handshake. Only the length prefix and the
// protocol label are validated; reserved bytes and both ids are taken as is.
func ParseHandshake(b []byte) (Handshake, error) {
	if len(b) != HandshakeLen {
		return Handshake{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHandshake, len(b), HandshakeLen)
	}
	if b[0] != byte(len(ProtocolID)) || !bytes.Equal(b[1:20], []byte(ProtocolID)) {
		return Handshake{}, fmt.Errorf("%w: unexpected protocol %q", ErrInvalidHandshake, b[0:20])
	}

	var h Handshake
	copy(h.Reserved[:], b[20:28])
	copy(h.InfoHash[:], b[28:48])
	copy(h.PeerID[:], b[48:68])
	return h, nil
}
