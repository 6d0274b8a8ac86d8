// Package torrent builds torrent descriptors from metainfo files.
package torrent

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/mcheviron/bittorrent/cmd/mybittorrent/bencode"
)

// HashLen is the size of the info hash and of every piece hash.
const HashLen = sha1.Size

// Torrent describes a single-file torrent. It is built once by Parse and must
// be treated as read-only afterwards, so it is safe to share between
// goroutines.
type Torrent struct {
	Announce    string
	URLList     []string
	Name        string
	PieceLength int64
	Pieces      [][HashLen]byte
	// Length is zero when the metainfo does not carry one.
	Length   int64
	InfoHash [HashLen]byte
}

// Parse decodes a metainfo file and computes its info hash from the canonical
// encoding of the info dictionary.
//
// The whole input must already be canonically encoded: if re-encoding the
// decoded value does not reproduce data byte for byte, Parse fails with
// ErrNotCanonical.
func Parse(data []byte) (*Torrent, error) {
	root, _, err := bencode.DecodeAs[bencode.Dict](data)
	if err != nil {
		var typeErr *bencode.TypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: got %s", ErrNotDictionary, typeErr.Got)
		}
		return nil, fmt.Errorf("failed to decode metainfo: %w", err)
	}

	t := &Torrent{}

	if err := t.parseEndpoints(root); err != nil {
		return nil, err
	}

	info, ok := root.Dict("info")
	if !ok {
		return nil, fieldError("info", ErrMissingField)
	}

	if err := t.parseInfo(info); err != nil {
		return nil, err
	}

	if encoded := bencode.Encode(root); !bytes.Equal(encoded, data) {
		return nil, fmt.Errorf("%w: first difference at offset %d", ErrNotCanonical, firstDifference(encoded, data))
	}

	t.InfoHash = sha1.Sum(bencode.Encode(info))

	return t, nil
}

func (t *Torrent) parseEndpoints(root bencode.Dict) error {
	if announce, ok := root.Bytes("announce"); ok {
		if !utf8.Valid(announce) {
			return fieldError("announce", ErrInvalidUTF8)
		}
		t.Announce = string(announce)
	}

	var urls bencode.List
	switch v := root["url-list"].(type) {
	case bencode.List:
		urls = v
	case bencode.String:
		urls = bencode.List{v}
	}

	for _, item := range urls {
		u, ok := item.(bencode.String)
		if !ok {
			continue
		}
		if !utf8.Valid(u) {
			return fieldError("url-list", ErrInvalidUTF8)
		}
		t.URLList = append(t.URLList, string(u))
	}

	if t.Announce == "" && len(t.URLList) == 0 {
		return ErrNoEndpoint
	}

	return nil
}

func (t *Torrent) parseInfo(info bencode.Dict) error {
	name, ok := info.Bytes("name")
	if !ok {
		return fieldError("name", ErrMissingField)
	}
	if !utf8.Valid(name) {
		return fieldError("name", ErrInvalidUTF8)
	}
	t.Name = string(name)

	pieceLength, ok := info.Int("piece length")
	if !ok {
		return fieldError("piece length", ErrMissingField)
	}
	if pieceLength <= 0 {
		return fieldError("piece length", ErrInvalidValue)
	}
	t.PieceLength = pieceLength

	pieces, ok := info.Bytes("pieces")
	if !ok {
		return fieldError("pieces", ErrMissingField)
	}
	if len(pieces)%HashLen != 0 {
		return fieldError("pieces", ErrInvalidValue)
	}
	t.Pieces = make([][HashLen]byte, len(pieces)/HashLen)
	for i := range t.Pieces {
		copy(t.Pieces[i][:], pieces[i*HashLen:])
	}

	// Multi-file layouts carry "files" instead; they are not supported, so the
	// length simply stays zero.
	if length, ok := info.Int("length"); ok {
		if length < 0 {
			return fieldError("length", ErrInvalidValue)
		}
		t.Length = length
	}

	return nil
}

// InfoHashHex returns the info hash as lowercase hex.
func (t *Torrent) InfoHashHex() string {
	return hex.EncodeToString(t.InfoHash[:])
}

func (t *Torrent) PieceCount() int {
	return len(t.Pieces)
}

// PieceHashesHex returns every piece hash as lowercase hex, in piece order.
func (t *Torrent) PieceHashesHex() []string {
	hashes := make([]string, len(t.Pieces))
	for i, p := range t.Pieces {
		hashes[i] = hex.EncodeToString(p[:])
	}
	return hashes
}

func firstDifference(a, b []byte) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
