package peering

import (
	"errors"
	"fmt"
	"net"
	"os"
)

var (
	ErrNoEndpoint        = errors.New("torrent has no announce URL")
	ErrUnsupportedScheme = errors.New("unsupported tracker URL scheme")
	ErrMalformedReply    = errors.New("malformed tracker response")
	ErrInvalidHandshake  = errors.New("invalid handshake response")
	ErrInfoHashMismatch  = errors.New("peer answered with a different info hash")
	ErrPeerClosed        = errors.New("connection closed by peer")
	ErrTimeout           = errors.New("operation timed out")
)

// NetError reports a failed network operation against a tracker or a peer.
type NetError struct {
	Op   string
	Addr string
	Err  error
}

func (e *NetError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

// Is makes transport timeouts match ErrTimeout.
func (e *NetError) Is(target error) bool {
	return target == ErrTimeout && isTimeout(e.Err)
}

// TrackerFailure carries the "failure reason" sent by a tracker.
type TrackerFailure struct {
	Reason string
}

func (e *TrackerFailure) Error() string {
	return fmt.Sprintf("tracker returned failure: %s", e.Reason)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
