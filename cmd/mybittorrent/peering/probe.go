package peering

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProbeResult is a peer that completed the handshake.
type ProbeResult struct {
	Peer      Peer
	Handshake Handshake
}

// Prober handshakes with many peers at once. Each peer gets its own Session;
// nothing is shared between them except the read-only ids.
type Prober struct {
	Dialer      Dialer
	InfoHash    [20]byte
	PeerID      [20]byte
	Concurrency int
	Options     []SessionOption
	Logger      *zap.Logger
}

// Probe handshakes with every peer and returns the ones that answered, in the
// order of peers. Failures do not stop the other handshakes; they are
// combined into the returned error.
func (p *Prober) Probe(ctx context.Context, peers []Peer) ([]ProbeResult, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.L()
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		errs    error
		results = make([]*ProbeResult, len(peers))
	)

	if p.Concurrency > 0 {
		g.SetLimit(p.Concurrency)
	}

	for i, peer := range peers {
		g.Go(func() error {
			h, err := p.handshake(ctx, dialer, peer)
			if err != nil {
				logger.Debug("Probe failed", zap.Stringer("peer", peer), zap.Error(err))
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", peer, err))
				mu.Unlock()
				return nil
			}
			results[i] = &ProbeResult{Peer: peer, Handshake: h}
			return nil
		})
	}
	_ = g.Wait()

	ok := make([]ProbeResult, 0, len(peers))
	for _, r := range results {
		if r != nil {
			ok = append(ok, *r)
		}
	}

	return ok, errs
}

func (p *Prober) handshake(ctx context.Context, dialer Dialer, peer Peer) (Handshake, error) {
	session, err := Dial(ctx, dialer, peer, p.InfoHash, p.PeerID, p.Options...)
	if err != nil {
		return Handshake{}, err
	}
	defer session.Close()

	return session.Handshake(ctx)
}
