package peering_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/peering"
	"github.com/mcheviron/bittorrent/cmd/mybittorrent/torrent"
)

func testIDs() (infoHash, peerID [20]byte) {
	copy(infoHash[:], strings.Repeat("A", 20))
	copy(peerID[:], "-MB0001-abcdefghijkl")
	return infoHash, peerID
}

func TestBuildAnnounceURL(t *testing.T) {
	infoHash, peerID := testIDs()
	infoHash[0] = 0x00
	infoHash[1] = 0xff
	infoHash[2] = 0x0a

	got, err := peering.BuildAnnounceURL("http://tracker.test/announce", peering.AnnounceRequest{
		InfoHash: infoHash,
		PeerID:   peerID,
		Port:     6881,
		Left:     1234,
	})
	require.NoError(t, err)

	want := "http://tracker.test/announce?" +
		"info_hash=%00%FF%0A" + strings.Repeat("%41", 17) +
		"&peer_id=%2D%4D%42%30%30%30%31%2D%61%62%63%64%65%66%67%68%69%6A%6B%6C" +
		"&port=6881&uploaded=0&downloaded=0&left=1234"
	assert.Equal(t, want, got)
}

func TestBuildAnnounceURL_EveryByteEscaped(t *testing.T) {
	infoHash, peerID := testIDs()

	got, err := peering.BuildAnnounceURL("https://tracker.test/a", peering.AnnounceRequest{InfoHash: infoHash, PeerID: peerID, Port: 6881})
	require.NoError(t, err)

	query := got[strings.Index(got, "?")+1:]
	params := strings.Split(query, "&")
	require.GreaterOrEqual(t, len(params), 2)

	for _, param := range params[:2] {
		value := param[strings.Index(param, "=")+1:]
		require.Len(t, value, 60, param)
		for i := 0; i < len(value); i += 3 {
			assert.Equal(t, byte('%'), value[i])
			assert.Contains(t, "0123456789ABCDEF", string(value[i+1]))
			assert.Contains(t, "0123456789ABCDEF", string(value[i+2]))
		}
	}
}

func TestBuildAnnounceURL_KeepsExistingQuery(t *testing.T) {
	infoHash, peerID := testIDs()

	got, err := peering.BuildAnnounceURL("http://tracker.test/announce?passkey=secret", peering.AnnounceRequest{InfoHash: infoHash, PeerID: peerID, Port: 6881})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "http://tracker.test/announce?passkey=secret&info_hash=%41"), got)
}

func TestBuildAnnounceURL_Scheme(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		wantErr  error
	}{
		{name: "http", endpoint: "http://tracker.test/"},
		{name: "https", endpoint: "https://tracker.test/"},
		{name: "upper case scheme", endpoint: "HTTP://tracker.test/"},
		{name: "udp", endpoint: "udp://tracker.test:80/announce", wantErr: peering.ErrUnsupportedScheme},
		{name: "no scheme", endpoint: "tracker.test/announce", wantErr: peering.ErrUnsupportedScheme},
		{name: "ftp", endpoint: "ftp://tracker.test/", wantErr: peering.ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := peering.BuildAnnounceURL(tt.endpoint, peering.AnnounceRequest{})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAnnounceURL(t *testing.T) {
	tests := []struct {
		name    string
		torrent torrent.Torrent
		want    string
		wantErr error
	}{
		{
			name:    "announce wins",
			torrent: torrent.Torrent{Announce: "http://a.test/", URLList: []string{"http://b.test/"}},
			want:    "http://a.test/",
		},
		{
			name:    "first url-list entry",
			torrent: torrent.Torrent{URLList: []string{"http://b.test/", "http://c.test/"}},
			want:    "http://b.test/",
		},
		{
			name:    "nothing",
			torrent: torrent.Torrent{},
			wantErr: peering.ErrNoEndpoint,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := peering.AnnounceURL(&tt.torrent)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTrackerResponse(t *testing.T) {
	body := bencode.Encode(bencode.Dict{
		"interval":     bencode.Int(1800),
		"min interval": bencode.Int(60),
		"complete":     bencode.Int(5),
		"incomplete":   bencode.Int(2),
		"tracker id":   bencode.String("tid"),
		"peers": bencode.List{
			bencode.Dict{"ip": bencode.String("10.0.0.1"), "port": bencode.Int(6881), "peer id": bencode.String("-XX0001-000000000000")},
			bencode.Dict{"ip": bencode.String("peer.example"), "port": bencode.Int(51413)},
			bencode.Dict{"ip": bencode.String("10.0.0.5"), "port": bencode.Int(6881), "peer id": bencode.Int(7)},
			bencode.Dict{"port": bencode.Int(1)},
			bencode.Dict{"ip": bencode.String("10.0.0.2")},
			bencode.Dict{"ip": bencode.Int(5), "port": bencode.Int(1)},
			bencode.Dict{"ip": bencode.String("10.0.0.3"), "port": bencode.String("1")},
			bencode.Dict{"ip": bencode.String("10.0.0.4"), "port": bencode.Int(70000)},
			bencode.Int(3),
		},
	})

	resp, err := peering.ParseTrackerResponse(body)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, resp.Interval)
	assert.Equal(t, time.Minute, resp.MinInterval)
	assert.Equal(t, int64(5), resp.Complete)
	assert.Equal(t, int64(2), resp.Incomplete)
	assert.Equal(t, "tid", resp.TrackerID)
	assert.Equal(t, 6, resp.Skipped)
	require.Len(t, resp.Peers, 3)
	assert.Equal(t, peering.Peer{IP: "10.0.0.1", Port: 6881, ID: []byte("-XX0001-000000000000")}, resp.Peers[0])
	assert.Equal(t, "peer.example:51413", resp.Peers[1].Addr())
	assert.Nil(t, resp.Peers[1].ID)
	assert.Equal(t, peering.Peer{IP: "10.0.0.5", Port: 6881}, resp.Peers[2], "a non-string peer id keeps the peer")
}

func TestParseTrackerResponse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{name: "malformed failure reply", body: "d14:failure reason7:bannedd", wantErr: bencode.ErrSyntax},
		{name: "not a dictionary", body: "l4:spame", wantErr: peering.ErrMalformedReply},
		{name: "missing interval", body: "d5:peerslee", wantErr: peering.ErrMalformedReply},
		{name: "missing peers", body: "d8:intervali1800ee", wantErr: peering.ErrMalformedReply},
		{name: "compact peers unsupported", body: "d8:intervali1800e5:peers6:abcdefe", wantErr: peering.ErrMalformedReply},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := peering.ParseTrackerResponse([]byte(tt.body))
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.wantErr)

			var failure *peering.TrackerFailure
			assert.False(t, errors.As(err, &failure))
		})
	}
}

func TestParseTrackerResponse_Failure(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "exact reason", body: "d14:failure reason6:bannede", want: "banned"},
		// The 7-byte string swallows the first trailing 'd'.
		{name: "reason of seven bytes", body: "d14:failure reason7:bannedde", want: "bannedd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := peering.ParseTrackerResponse([]byte(tt.body))

			var failure *peering.TrackerFailure
			require.ErrorAs(t, err, &failure)
			assert.Equal(t, tt.want, failure.Reason)
		})
	}
}

func TestTrackerClient_GetPeers(t *testing.T) {
	tor, err := torrent.Parse([]byte("d8:announce20:http://tracker.test/4:infod6:lengthi4096e4:name3:abc12:piece lengthi16384e6:pieces20:AAAAAAAAAAAAAAAAAAAAee"))
	require.NoError(t, err)
	_, peerID := testIDs()

	queries := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		w.Write(bencode.Encode(bencode.Dict{
			"interval": bencode.Int(900),
			"peers": bencode.List{
				bencode.Dict{"ip": bencode.String("127.0.0.1"), "port": bencode.Int(6881)},
			},
		}))
	}))
	defer server.Close()

	local := *tor
	local.Announce = server.URL + "/announce"

	client := peering.NewTrackerClient(
		peering.WithHTTPClient(server.Client()),
		peering.WithTrackerLogger(zaptest.NewLogger(t)),
	)

	resp, err := client.GetPeers(context.Background(), &local, peerID)
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, resp.Interval)
	assert.Equal(t, []peering.Peer{{IP: "127.0.0.1", Port: 6881}}, resp.Peers)

	gotQuery := <-queries
	assert.Contains(t, gotQuery, "info_hash="+escapeAll(tor.InfoHash[:]))
	assert.Contains(t, gotQuery, "peer_id="+escapeAll(peerID[:]))
	assert.Contains(t, gotQuery, "&port=6881&uploaded=0&downloaded=0&left=4096")
}

func TestTrackerClient_ListenPort(t *testing.T) {
	queries := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries <- r.URL.RawQuery
		w.Write([]byte("d8:intervali60e5:peerslee"))
	}))
	defer server.Close()

	client := peering.NewTrackerClient(peering.WithListenPort(7000))
	_, err := client.Announce(context.Background(), server.URL, peering.AnnounceRequest{})
	require.NoError(t, err)
	assert.Contains(t, <-queries, "&port=7000&")
}

func TestTrackerClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "failure reason",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("d14:failure reason6:bannede"))
			},
			check: func(t *testing.T, err error) {
				var failure *peering.TrackerFailure
				require.ErrorAs(t, err, &failure)
				assert.Equal(t, "banned", failure.Reason)
			},
		},
		{
			name: "failure reason with error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte("d14:failure reason11:bad requeste"))
			},
			check: func(t *testing.T, err error) {
				var failure *peering.TrackerFailure
				require.ErrorAs(t, err, &failure)
				assert.Equal(t, "bad request", failure.Reason)
			},
		},
		{
			name: "server error with html body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "<html>oops</html>", http.StatusInternalServerError)
			},
			check: func(t *testing.T, err error) {
				var netErr *peering.NetError
				require.ErrorAs(t, err, &netErr)
				assert.Contains(t, netErr.Error(), "500")
			},
		},
		{
			name: "garbage with ok status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("not bencode"))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, bencode.ErrSyntax)
			},
		},
		{
			name: "slow tracker",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(2 * time.Second):
				}
			},
			check: func(t *testing.T, err error) {
				var netErr *peering.NetError
				require.ErrorAs(t, err, &netErr)
				assert.ErrorIs(t, err, peering.ErrTimeout)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := peering.NewTrackerClient(peering.WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
			resp, err := client.Announce(context.Background(), server.URL, peering.AnnounceRequest{})
			assert.Nil(t, resp)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestTrackerClient_RejectsSchemeBeforeRequest(t *testing.T) {
	client := peering.NewTrackerClient()

	_, err := client.GetPeers(context.Background(), &torrent.Torrent{Announce: "udp://tracker.test:6969"}, [20]byte{})
	assert.ErrorIs(t, err, peering.ErrUnsupportedScheme)

	_, err = client.GetPeers(context.Background(), &torrent.Torrent{}, [20]byte{})
	assert.ErrorIs(t, err, peering.ErrNoEndpoint)
}

func escapeAll(b []byte) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for _, c := range b {
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&0xf])
	}
	return sb.String()
}
