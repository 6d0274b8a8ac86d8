package magnet

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	ErrInvalidURI      = errors.New("invalid magnet URI format")
	ErrMissingInfoHash = errors.New("invalid or missing urn:btih prefix in xt parameter")
	ErrInvalidInfoHash = errors.New("invalid info hash")
	ErrNoTrackers      = errors.New("no trackers found in magnet link")
)

// Link represents a parsed magnet link with its components
type Link struct {
	InfoHash [20]byte
	Name     string
	Trackers []string
}

// Parse parses a magnet URI and returns a Link object containing the extracted information.
// The info hash may be given either as 40 hex digits or as 32 base32 characters.
func Parse(uri string) (*Link, error) {
	queryStr, ok := strings.CutPrefix(uri, "magnet:?")
	if !ok {
		return nil, ErrInvalidURI
	}

	values, err := url.ParseQuery(queryStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse magnet URI query: %w", err)
	}

	encoded, ok := strings.CutPrefix(values.Get("xt"), "urn:btih:")
	if !ok {
		return nil, ErrMissingInfoHash
	}

	infoHash, err := decodeInfoHash(encoded)
	if err != nil {
		return nil, err
	}

	return &Link{
		InfoHash: infoHash,
		Name:     values.Get("dn"),
		Trackers: values["tr"],
	}, nil
}

// Tracker returns the first tracker of the link.
func (l *Link) Tracker() (string, error) {
	if len(l.Trackers) == 0 {
		return "", ErrNoTrackers
	}
	return l.Trackers[0], nil
}

// InfoHashHex returns the info hash as lowercase hex.
func (l *Link) InfoHashHex() string {
	return hex.EncodeToString(l.InfoHash[:])
}

func decodeInfoHash(s string) ([20]byte, error) {
	var hash [20]byte

	var (
		raw []byte
		err error
	)
	switch len(s) {
	case 40:
		raw, err = hex.DecodeString(s)
	case 32:
		raw, err = base32.StdEncoding.DecodeString(strings.ToUpper(s))
	default:
		return hash, fmt.Errorf("%w: length %d", ErrInvalidInfoHash, len(s))
	}
	if err != nil {
		return hash, fmt.Errorf("%w: %w", ErrInvalidInfoHash, err)
	}

	copy(hash[:], raw)
	return hash, nil
}
