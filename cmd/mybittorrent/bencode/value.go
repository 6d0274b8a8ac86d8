// Package bencode implements the restricted bencoding used by metainfo files
// and tracker replies: integers, byte strings, lists and dictionaries.
package bencode

// Value is a decoded bencode value. It is always one of Int, String, List or
// Dict.
type Value interface {
	appendTo(dst []byte) []byte
}

// Int is a bencoded signed 64-bit integer.
type Int int64

// String is a bencoded byte string. It is not required to be valid UTF-8.
type String []byte

// List is an ordered sequence of values.
type List []Value

// Dict maps raw byte-string keys to values. Go strings hold arbitrary bytes,
// so keys are not required to be valid UTF-8 either.
type Dict map[string]Value

// Bytes returns the byte string stored under key.
func (d Dict) Bytes(key string) ([]byte, bool) {
	s, ok := d[key].(String)
	return []byte(s), ok
}

// Int returns the integer stored under key.
func (d Dict) Int(key string) (int64, bool) {
	i, ok := d[key].(Int)
	return int64(i), ok
}

// List returns the list stored under key.
func (d Dict) List(key string) (List, bool) {
	l, ok := d[key].(List)
	return l, ok
}

// Dict returns the dictionary stored under key.
func (d Dict) Dict(key string) (Dict, bool) {
	m, ok := d[key].(Dict)
	return m, ok
}

// Native converts v into plain Go values: int64, string, []any and
// map[string]any. It is meant for display and for decoding into structs.
func Native(v Value) any {
	switch v := v.(type) {
	case Int:
		return int64(v)
	case String:
		return string(v)
	case List:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Native(item)
		}
		return out
	case Dict:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Native(item)
		}
		return out
	default:
		return nil
	}
}

func kind(v Value) string {
	switch v.(type) {
	case Int:
		return "integer"
	case String:
		return "byte string"
	case List:
		return "list"
	case Dict:
		return "dictionary"
	default:
		return "nothing"
	}
}
