package peering

import (
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
)

// DefaultPeerIDPrefix identifies this client in generated peer ids.
const DefaultPeerIDPrefix = "-MB0001-"

// Peer is a swarm member as reported by a tracker. IP may be a hostname.
type Peer struct {
	IP   string
	Port uint16
	ID   []byte
}

// Addr returns host:port, suitable for dialing.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(int(p.Port)))
}

func (p Peer) String() string {
	return p.Addr()
}

// NewPeerID returns a 20-byte peer id made of prefix followed by random
// bytes. It is meant to be called once per process and passed around.
func NewPeerID(prefix string) ([20]byte, error) {
	var id [20]byte
	if len(prefix) > len(id) {
		return id, fmt.Errorf("peer id prefix %q is longer than %d bytes", prefix, len(id))
	}

	n := copy(id[:], prefix)
	for n < len(id) {
		u, err := uuid.NewRandom()
		if err != nil {
			return id, fmt.Errorf("failed to generate peer id: %w", err)
		}
		n += copy(id[n:], u[:])
	}

	return id, nil
}
