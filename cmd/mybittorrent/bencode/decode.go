package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// ErrSyntax is matched by every *SyntaxError.
var ErrSyntax = errors.New("bencode: invalid syntax")

// maxDepth bounds list and dictionary nesting.
const maxDepth = 512

// SyntaxError describes malformed input.
type SyntaxError struct {
	Offset int // byte offset where the offending value starts
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("bencode: %s at offset %d", e.Msg, e.Offset)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// TypeError is returned by DecodeAs when the input is well formed but holds a
// different kind of value than requested.
type TypeError struct {
	Want string
	Got  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("bencode: expected %s, got %s", e.Want, e.Got)
}

// Decode decodes the first value in data and returns it together with the
// bytes that follow it.
//
// Dictionary keys are not required to be sorted or unique on input; the last
// occurrence of a duplicated key wins.
func Decode(data []byte) (Value, []byte, error) {
	d := &decoder{data: data}

	v, err := d.value()
	if err != nil {
		return nil, nil, err
	}

	return v, data[d.pos:], nil
}

// DecodeAs decodes the first value in data and asserts that it is a T.
func DecodeAs[T Value](data []byte) (T, []byte, error) {
	var zero T

	v, rest, err := Decode(data)
	if err != nil {
		return zero, nil, err
	}

	t, ok := v.(T)
	if !ok {
		return zero, nil, &TypeError{Want: kind(zero), Got: kind(v)}
	}

	return t, rest, nil
}

type decoder struct {
	data  []byte
	pos   int
	depth int
}

func (d *decoder) errorAt(offset int, format string, args ...any) error {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func (d *decoder) value() (Value, error) {
	if d.pos >= len(d.data) {
		return nil, d.errorAt(d.pos, "unexpected end of input")
	}

	switch c := d.data[d.pos]; {
	case c >= '0' && c <= '9':
		return d.byteString()
	case c == 'i':
		return d.integer()
	case c == 'l':
		return d.list()
	case c == 'd':
		return d.dict()
	default:
		return nil, d.errorAt(d.pos, "unexpected byte %q", c)
	}
}

func (d *decoder) integer() (Int, error) {
	start := d.pos

	end := bytes.IndexByte(d.data[start+1:], 'e')
	if end < 0 {
		return 0, d.errorAt(start, "unterminated integer")
	}

	text := d.data[start+1 : start+1+end]
	if !validInt(text) {
		return 0, d.errorAt(start, "malformed integer %q", text)
	}

	n, err := strconv.ParseInt(string(text), 10, 64)
	if err != nil {
		return 0, d.errorAt(start, "integer %s out of range", text)
	}

	d.pos = start + end + 2
	return Int(n), nil
}

func (d *decoder) byteString() (String, error) {
	start := d.pos

	colon := bytes.IndexByte(d.data[start:], ':')
	if colon < 0 {
		return nil, d.errorAt(start, "byte string length not terminated")
	}

	prefix := d.data[start : start+colon]
	if !validDigits(prefix) {
		return nil, d.errorAt(start, "malformed byte string length %q", prefix)
	}

	n, err := strconv.Atoi(string(prefix))
	if err != nil {
		return nil, d.errorAt(start, "byte string length %s out of range", prefix)
	}

	body := start + colon + 1
	if n > len(d.data)-body {
		return nil, d.errorAt(start, "byte string of length %d exceeds the %d remaining bytes", n, len(d.data)-body)
	}

	s := make(String, n)
	copy(s, d.data[body:body+n])
	d.pos = body + n

	return s, nil
}

func (d *decoder) list() (List, error) {
	start := d.pos
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	d.pos++
	list := List{}

	for {
		if d.pos >= len(d.data) {
			return nil, d.errorAt(start, "unterminated list")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return list, nil
		}

		v, err := d.value()
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
}

func (d *decoder) dict() (Dict, error) {
	start := d.pos
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.leave()

	d.pos++
	dict := Dict{}

	for {
		if d.pos >= len(d.data) {
			return nil, d.errorAt(start, "unterminated dictionary")
		}

		c := d.data[d.pos]
		if c == 'e' {
			d.pos++
			return dict, nil
		}
		if c < '0' || c > '9' {
			return nil, d.errorAt(d.pos, "dictionary key must be a byte string")
		}

		key, err := d.byteString()
		if err != nil {
			return nil, err
		}

		v, err := d.value()
		if err != nil {
			return nil, err
		}
		dict[string(key)] = v
	}
}

func (d *decoder) enter() error {
	d.depth++
	if d.depth > maxDepth {
		return d.errorAt(d.pos, "nesting deeper than %d", maxDepth)
	}
	return nil
}

func (d *decoder) leave() {
	d.depth--
}

// validDigits reports whether b is a plain decimal number without leading
// zeros.
func validDigits(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return b[0] != '0' || len(b) == 1
}

// validInt is validDigits with an optional minus sign; "-0" is rejected.
func validInt(b []byte) bool {
	if len(b) > 0 && b[0] == '-' {
		return validDigits(b[1:]) && b[1] != '0'
	}
	return validDigits(b)
}
