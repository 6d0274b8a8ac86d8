package peering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// DefaultHandshakeTimeout bounds the whole send and receive sequence.
const DefaultHandshakeTimeout = 30 * time.Second

// State is the position of a Session in the handshake.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateSending
	StateAwaitingReply
	StateVerified
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateSending:
		return "sending"
	case StateAwaitingReply:
		return "awaiting reply"
	case StateVerified:
		return "verified"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Dialer opens streams to peers. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Session drives the handshake over one stream. It is not safe for
// concurrent use; each peer gets its own Session.
type Session struct {
	conn     net.Conn
	addr     string
	infoHash [20]byte
	peerID   [20]byte

	timeout        time.Duration
	verifyInfoHash bool
	logger         *zap.Logger

	state State
	read  int
	err   error
}

type SessionOption func(*Session)

// WithHandshakeTimeout overrides DefaultHandshakeTimeout. Zero disables the
// session's own timeout, leaving only the caller's context deadline.
func WithHandshakeTimeout(d time.Duration) SessionOption {
	return func(s *Session) { s.timeout = d }
}

// WithInfoHashCheck makes the handshake fail when the peer echoes a
// different info hash.
func WithInfoHashCheck(enabled bool) SessionOption {
	return func(s *Session) { s.verifyInfoHash = enabled }
}

func WithSessionLogger(logger *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// Dial connects to peer and returns a session in StateConnected.
func Dial(ctx context.Context, d Dialer, peer Peer, infoHash, peerID [20]byte, opts ...SessionOption) (*Session, error) {
	addr := peer.Addr()

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &NetError{Op: "dial", Addr: addr, Err: err}
	}

	return NewSession(conn, infoHash, peerID, opts...), nil
}

// NewSession wraps an already connected stream.
func NewSession(conn net.Conn, infoHash, peerID [20]byte, opts ...SessionOption) *Session {
	s := &Session{
		conn:     conn,
		infoHash: infoHash,
		peerID:   peerID,
		timeout:  DefaultHandshakeTimeout,
		state:    StateConnected,
	}
	if remote := conn.RemoteAddr(); remote != nil {
		s.addr = remote.String()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.L()
	}
	s.logger = s.logger.With(zap.String("peer", s.addr))
	return s
}

func (s *Session) State() State {
	return s.state
}

// BytesRead reports how much of the peer's handshake has been received.
func (s *Session) BytesRead() int {
	return s.read
}

// Err returns the error that moved the session to StateFailed.
func (s *Session) Err() error {
	return s.err
}

// Close closes the underlying stream. The session does not close it on its
// own, not even after a timeout.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Handshake sends our handshake and waits for the peer's. It may be called
// once. The session timeout and ctx together bound the whole exchange;
// whichever expires first aborts it with ErrTimeout.
func (s *Session) Handshake(ctx context.Context) (Handshake, error) {
	if s.state != StateConnected {
		return Handshake{}, fmt.Errorf("handshake not allowed in state %s", s.state)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.conn.SetDeadline(deadline); err != nil {
			return Handshake{}, s.fail(&NetError{Op: "set deadline", Addr: s.addr, Err: err})
		}
	}

	// Deadlines alone do not notice cancellation. The deadline is cleared
	// only once the callback can no longer run or has finished.
	aborted := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Now())
		close(aborted)
	})
	defer func() {
		if !stop() {
			<-aborted
		}
		s.conn.SetDeadline(time.Time{})
	}()

	h, err := s.exchange()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: handshake after %d of %d bytes: %w", ErrTimeout, s.read, HandshakeLen, ctxErr)
			} else {
				err = fmt.Errorf("handshake aborted: %w", ctxErr)
			}
		}
		return Handshake{}, s.fail(err)
	}

	s.transition(StateVerified)
	return h, nil
}

func (s *Session) exchange() (Handshake, error) {
	s.transition(StateSending)

	out := Handshake{InfoHash: s.infoHash, PeerID: s.peerID}.Marshal()
	if _, err := s.conn.Write(out); err != nil {
		return Handshake{}, &NetError{Op: "write", Addr: s.addr, Err: err}
	}

	s.transition(StateAwaitingReply)

	buf := make([]byte, HandshakeLen)
	for s.read < HandshakeLen {
		n, err := s.conn.Read(buf[s.read:])
		s.read += n
		if n > 0 {
			s.logger.Debug("Read handshake bytes", zap.Int("read", n), zap.Int("total", s.read))
		}
		if err != nil && s.read < HandshakeLen {
			if errors.Is(err, io.EOF) {
				return Handshake{}, fmt.Errorf("%w after %d of %d bytes", ErrPeerClosed, s.read, HandshakeLen)
			}
			return Handshake{}, &NetError{Op: "read", Addr: s.addr, Err: err}
		}
	}

	h, err := ParseHandshake(buf)
	if err != nil {
		return Handshake{}, err
	}

	if s.verifyInfoHash && h.InfoHash != s.infoHash {
		return Handshake{}, fmt.Errorf("%w: got %x", ErrInfoHashMismatch, h.InfoHash)
	}

	return h, nil
}

func (s *Session) transition(to State) {
	s.logger.Debug("Handshake state", zap.Stringer("from", s.state), zap.Stringer("to", to))
	s.state = to
}

func (s *Session) fail(err error) error {
	s.transition(StateFailed)
	s.err = err
	s.logger.Debug("Handshake failed", zap.Error(err))
	return err
}
