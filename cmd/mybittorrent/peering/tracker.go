package peering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/torrent"
)

// DefaultPort is the listening port announced to trackers.
const DefaultPort = 6881

// AnnounceRequest holds the parameters of a single announce.
type AnnounceRequest struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Port     uint16
	Left     int64
}

// TrackerResponse is a decoded announce reply.
type TrackerResponse struct {
	Interval       time.Duration
	MinInterval    time.Duration
	Complete       int64
	Incomplete     int64
	TrackerID      string
	WarningMessage string
	Peers          []Peer
	// Skipped counts peer entries that were dropped for lacking a usable
	// "ip" or "port".
	Skipped int
}

// TrackerClient talks to HTTP trackers. Every call performs exactly one
// request; there is no retry and no caching.
type TrackerClient struct {
	client *http.Client
	port   uint16
	logger *zap.Logger
}

type TrackerOption func(*TrackerClient)

func WithHTTPClient(c *http.Client) TrackerOption {
	return func(t *TrackerClient) { t.client = c }
}

func WithListenPort(port uint16) TrackerOption {
	return func(t *TrackerClient) { t.port = port }
}

func WithTrackerLogger(logger *zap.Logger) TrackerOption {
	return func(t *TrackerClient) { t.logger = logger }
}

func NewTrackerClient(opts ...TrackerOption) *TrackerClient {
	c := &TrackerClient{
		client: &http.Client{Timeout: 15 * time.Second},
		port:   DefaultPort,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.L()
	}
	return c
}

// GetPeers announces t to its tracker and returns the peers it knows about.
// The announce URL is t.Announce, or the first url-list entry when there is
// no announce.
func (c *TrackerClient) GetPeers(ctx context.Context, t *torrent.Torrent, peerID [20]byte) (*TrackerResponse, error) {
	endpoint, err := AnnounceURL(t)
	if err != nil {
		return nil, err
	}

	return c.Announce(ctx, endpoint, AnnounceRequest{
		InfoHash: t.InfoHash,
		PeerID:   peerID,
		Port:     c.port,
		Left:     t.Length,
	})
}

// Announce sends req to the tracker at endpoint.
func (c *TrackerClient) Announce(ctx context.Context, endpoint string, req AnnounceRequest) (*TrackerResponse, error) {
	if req.Port == 0 {
		req.Port = c.port
	}

	trackerURL, err := BuildAnnounceURL(endpoint, req)
	if err != nil {
		return nil, err
	}

	host := endpoint
	if u, err := url.Parse(endpoint); err == nil {
		host = u.Host
	}

	c.logger.Debug("Announcing to tracker", zap.String("url", trackerURL))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, trackerURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracker request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &NetError{Op: "announce", Addr: host, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetError{Op: "read tracker response", Addr: host, Err: err}
	}

	c.logger.Debug("Tracker responded", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))

	trackerResp, err := ParseTrackerResponse(body)
	if err != nil {
		if resp.StatusCode/100 != 2 && errors.Is(err, bencode.ErrSyntax) {
			return nil, &NetError{Op: "announce", Addr: host, Err: fmt.Errorf("tracker returned %s", resp.Status)}
		}
		return nil, err
	}

	c.logger.Debug("Decoded peers",
		zap.Int("peers", len(trackerResp.Peers)),
		zap.Int("skipped", trackerResp.Skipped),
		zap.Duration("interval", trackerResp.Interval))

	return trackerResp, nil
}

// AnnounceURL picks the tracker endpoint of t.
func AnnounceURL(t *torrent.Torrent) (string, error) {
	if t.Announce != "" {
		return t.Announce, nil
	}
	if len(t.URLList) > 0 && t.URLList[0] != "" {
		return t.URLList[0], nil
	}
	return "", ErrNoEndpoint
}

// BuildAnnounceURL appends the announce parameters to endpoint. The info hash
// and peer id are escaped byte for byte, including printable bytes.
func BuildAnnounceURL(endpoint string, req AnnounceRequest) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid tracker URL %q: %w", endpoint, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	var q strings.Builder
	if u.RawQuery != "" {
		q.WriteString(u.RawQuery)
		q.WriteByte('&')
	}
	q.WriteString("info_hash=")
	q.WriteString(escapeBytes(req.InfoHash[:]))
	q.WriteString("&peer_id=")
	q.WriteString(escapeBytes(req.PeerID[:]))
	q.WriteString("&port=")
	q.WriteString(strconv.Itoa(int(req.Port)))
	q.WriteString("&uploaded=0&downloaded=0&left=")
	q.WriteString(strconv.FormatInt(req.Left, 10))

	u.RawQuery = q.String()
	return u.String(), nil
}

const upperHex = "0123456789ABCDEF"

func escapeBytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(3 * len(b))
	for _, c := range b {
		sb.WriteByte('%')
		sb.WriteByte(upperHex[c>>4])
		sb.WriteByte(upperHex[c&0x0f])
	}
	return sb.String()
}

// ParseTrackerResponse decodes an announce reply body. Only the dictionary
// peer list is understood; entries without a byte-string "ip" and an integer
// "port" are skipped rather than reported.
func ParseTrackerResponse(body []byte) (*TrackerResponse, error) {
	dict, _, err := bencode.DecodeAs[bencode.Dict](body)
	if err != nil {
		var typeErr *bencode.TypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: got %s instead of a dictionary", ErrMalformedReply, typeErr.Got)
		}
		return nil, fmt.Errorf("failed to decode tracker response: %w", err)
	}

	if reason, ok := dict.Bytes("failure reason"); ok {
		return nil, &TrackerFailure{Reason: string(reason)}
	}

	interval, ok := dict.Int("interval")
	if !ok {
		return nil, fmt.Errorf("%w: missing or invalid field 'interval'", ErrMalformedReply)
	}

	peers, ok := dict.List("peers")
	if !ok {
		return nil, fmt.Errorf("%w: missing or invalid field 'peers'", ErrMalformedReply)
	}

	resp := &TrackerResponse{Interval: time.Duration(interval) * time.Second}

	if v, ok := dict.Int("min interval"); ok {
		resp.MinInterval = time.Duration(v) * time.Second
	}
	if v, ok := dict.Int("complete"); ok {
		resp.Complete = v
	}
	if v, ok := dict.Int("incomplete"); ok {
		resp.Incomplete = v
	}
	if v, ok := dict.Bytes("tracker id"); ok {
		resp.TrackerID = string(v)
	}
	if v, ok := dict.Bytes("warning message"); ok {
		resp.WarningMessage = string(v)
	}

	resp.Peers, resp.Skipped = decodePeers(peers)

	return resp, nil
}

// peerEntry holds the fields that decide whether an entry is usable. The
// optional peer id is read separately so a bad one never drops the peer.
type peerEntry struct {
	IP   *string `mapstructure:"ip"`
	Port *int64  `mapstructure:"port"`
}

func decodePeers(list bencode.List) ([]Peer, int) {
	peers := make([]Peer, 0, len(list))
	skipped := 0

	for _, item := range list {
		var entry peerEntry
		if err := mapstructure.Decode(bencode.Native(item), &entry); err != nil {
			skipped++
			continue
		}
		if entry.IP == nil || entry.Port == nil || *entry.Port < 0 || *entry.Port > 0xffff {
			skipped++
			continue
		}

		p := Peer{IP: *entry.IP, Port: uint16(*entry.Port)}
		if d, ok := item.(bencode.Dict); ok {
			if id, ok := d.Bytes("peer id"); ok {
				p.ID = []byte(id)
			}
		}
		peers = append(peers, p)
	}

	return peers, skipped
}
