package bencode

import (
	"slices"
	"strconv"
)

// Encode returns the canonical encoding of v. Dictionary keys are always
// emitted in byte order, whatever order they were decoded in. A nil Value
// encodes to nothing: nil list elements are dropped and dictionary keys
// holding nil are omitted.
func Encode(v Value) []byte {
	if v == nil {
		return nil
	}
	return v.appendTo(nil)
}

func (i Int) appendTo(dst []byte) []byte {
	dst = append(dst, 'i')
	dst = strconv.AppendInt(dst, int64(i), 10)
	return append(dst, 'e')
}

func (s String) appendTo(dst []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, ':')
	return append(dst, s...)
}

func (l List) appendTo(dst []byte) []byte {
	dst = append(dst, 'l')
	for _, item := range l {
		if item == nil {
			continue
		}
		dst = item.appendTo(dst)
	}
	return append(dst, 'e')
}

func (d Dict) appendTo(dst []byte) []byte {
	keys := make([]string, 0, len(d))
	for k, v := range d {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)

	dst = append(dst, 'd')
	for _, k := range keys {
		dst = String(k).appendTo(dst)
		dst = d[k].appendTo(dst)
	}
	return append(dst, 'e')
}
