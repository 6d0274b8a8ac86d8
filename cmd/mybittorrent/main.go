package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/config"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/magnet"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/peering"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/torrent"
)

var logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

func init() {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = logLevel
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
}

type app struct {
	cfg     *config.Config
	peerID  [20]byte
	tracker *peering.TrackerClient
}

func main() {
	logger := zap.L()
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Error("Usage: mybittorrent <command> [args...]")
		os.Exit(1)
	}
	command := os.Args[1]

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		os.Exit(1)
	}
	if cfg.Debug {
		logLevel.SetLevel(zap.DebugLevel)
	}

	peerID, err := peering.NewPeerID(cfg.PeerIDPrefix)
	if err != nil {
		logger.Error("Failed to generate peer id", zap.Error(err))
		os.Exit(1)
	}

	a := &app{
		cfg:    cfg,
		peerID: peerID,
		tracker: peering.NewTrackerClient(
			peering.WithHTTPClient(&http.Client{Timeout: cfg.TrackerTimeout}),
			peering.WithListenPort(cfg.ListenPort),
		),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handlers := map[string]func(context.Context, []string) error{
		"decode":       a.handleDecode,
		"info":         a.handleInfo,
		"peers":        a.handlePeers,
		"handshake":    a.handleHandshake,
		"probe":        a.handleProbe,
		"magnet_parse": a.handleMagnetParse,
		"magnet_peers": a.handleMagnetPeers,
	}

	handler, ok := handlers[command]
	if !ok {
		logger.Error("Unknown command", zap.String("command", command))
		os.Exit(1)
	}

	if err := handler(ctx, os.Args); err != nil {
		logger.Error("Command failed", zap.String("command", command), zap.Error(err))
		stop()
		os.Exit(1)
	}
}

// Command handlers

func (a *app) handleDecode(_ context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: decode <bencoded-value>")
	}

	decoded, _, err := bencode.Decode([]byte(args[2]))
	if err != nil {
		return err
	}

	jsonOutput, err := json.Marshal(bencode.Native(decoded))
	if err != nil {
		return err
	}
	fmt.Println(string(jsonOutput))
	return nil
}

func (a *app) handleInfo(_ context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: info <torrent-file>")
	}

	t, err := loadTorrent(args[2])
	if err != nil {
		return err
	}

	if t.Announce != "" {
		fmt.Printf("Tracker URL: %s\n", t.Announce)
	}
	for _, u := range t.URLList {
		fmt.Printf("URL: %s\n", u)
	}
	fmt.Printf("Name: %s\n", t.Name)
	fmt.Printf("Length: %d\n", t.Length)
	fmt.Printf("Info Hash: %s\n", t.InfoHashHex())
	fmt.Printf("Piece Length: %d\n", t.PieceLength)
	fmt.Printf("Piece Hashes (%d):\n", t.PieceCount())
	for _, h := range t.PieceHashesHex() {
		fmt.Println(h)
	}
	return nil
}

func (a *app) handlePeers(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: peers <torrent-file>")
	}

	t, err := loadTorrent(args[2])
	if err != nil {
		return err
	}

	resp, err := a.tracker.GetPeers(ctx, t, a.peerID)
	if err != nil {
		return err
	}

	printPeers(resp)
	return nil
}

func (a *app) handleHandshake(ctx context.Context, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: handshake <torrent-file> <peer-address>")
	}

	t, err := loadTorrent(args[2])
	if err != nil {
		return err
	}

	peer, err := parsePeer(args[3])
	if err != nil {
		return err
	}

	session, err := peering.Dial(ctx, a.dialer(), peer, t.InfoHash, a.peerID, a.sessionOptions()...)
	if err != nil {
		return err
	}
	defer session.Close()

	h, err := session.Handshake(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Peer ID: %x\n", h.PeerID)
	return nil
}

func (a *app) handleProbe(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: probe <torrent-file>")
	}

	t, err := loadTorrent(args[2])
	if err != nil {
		return err
	}

	resp, err := a.tracker.GetPeers(ctx, t, a.peerID)
	if err != nil {
		return err
	}

	prober := &peering.Prober{
		Dialer:      a.dialer(),
		InfoHash:    t.InfoHash,
		PeerID:      a.peerID,
		Concurrency: a.cfg.MaxProbes,
		Options:     a.sessionOptions(),
	}

	results, err := prober.Probe(ctx, resp.Peers)
	for _, perr := range multierr.Errors(err) {
		zap.L().Warn("Handshake failed", zap.Error(perr))
	}

	for _, r := range results {
		fmt.Printf("%s %x\n", r.Peer, r.Handshake.PeerID)
	}

	if len(results) == 0 && len(resp.Peers) > 0 {
		return fmt.Errorf("no peer completed the handshake: %w", err)
	}
	return nil
}

func (a *app) handleMagnetParse(_ context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_parse <magnet-link>")
	}

	link, err := magnet.Parse(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse magnet link: %w", err)
	}

	tracker, err := link.Tracker()
	if err != nil {
		return err
	}

	fmt.Printf("Tracker URL: %s\n", tracker)
	fmt.Printf("Info Hash: %s\n", link.InfoHashHex())

	return nil
}

func (a *app) handleMagnetPeers(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: magnet_peers <magnet-link>")
	}

	link, err := magnet.Parse(args[2])
	if err != nil {
		return fmt.Errorf("failed to parse magnet link: %w", err)
	}

	tracker, err := link.Tracker()
	if err != nil {
		return err
	}

	// The content length is unknown until the metainfo is fetched.
	resp, err := a.tracker.Announce(ctx, tracker, peering.AnnounceRequest{
		InfoHash: link.InfoHash,
		PeerID:   a.peerID,
	})
	if err != nil {
		return err
	}

	printPeers(resp)
	return nil
}

func (a *app) dialer() *net.Dialer {
	return &net.Dialer{Timeout: a.cfg.DialTimeout}
}

func (a *app) sessionOptions() []peering.SessionOption {
	return []peering.SessionOption{
		peering.WithHandshakeTimeout(a.cfg.HandshakeTimeout),
		peering.WithInfoHashCheck(a.cfg.VerifyInfoHash),
	}
}

func loadTorrent(path string) (*torrent.Torrent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read torrent file: %w", err)
	}

	t, err := torrent.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent file: %w", err)
	}
	return t, nil
}

func parsePeer(addr string) (peering.Peer, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return peering.Peer{}, fmt.Errorf("invalid peer address %q: %w", addr, err)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return peering.Peer{}, fmt.Errorf("invalid peer port %q: %w", portStr, err)
	}

	return peering.Peer{IP: host, Port: uint16(port)}, nil
}

func printPeers(resp *peering.TrackerResponse) {
	if resp.WarningMessage != "" {
		zap.L().Warn("Tracker warning", zap.String("message", resp.WarningMessage))
	}
	for _, p := range resp.Peers {
		fmt.Println(p)
	}
}
