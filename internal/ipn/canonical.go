package ipn

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

const maxDepth = 64

// Canonicalize re-encodes a JSON document the way the processor signs it:
// object keys sorted at every depth (UTF-16 code unit order), no
// whitespace, numbers in shortest round-trip form, strings escaped
// minimally. Duplicate keys keep the last value.
func Canonicalize(body []byte) ([]byte, error) {
	// jx stops after the first value; json.Valid also rejects trailing data.
	if !json.Valid(body) {
		return nil, errors.New("invalid JSON document")
	}
	return appendCanonical(nil, jx.DecodeBytes(body), 0)
}

type canonicalField struct {
	key   string
	value []byte
}

func appendCanonical(dst []byte, d *jx.Decoder, depth int) ([]byte, error) {
	if depth > maxDepth {
		return nil, errors.New("JSON nesting too deep")
	}
	switch d.Next() {
	case jx.Object:
		var fields []canonicalField
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			v, err := appendCanonical(nil, d, depth+1)
			if err != nil {
				return errors.Wrapf(err, "field %q", key)
			}
			if i := slices.IndexFunc(fields, func(f canonicalField) bool { return f.key == key }); i >= 0 {
				fields[i].value = v
				return nil
			}
			fields = append(fields, canonicalField{key: key, value: v})
			return nil
		}); err != nil {
			return nil, err
		}
		slices.SortFunc(fields, func(a, b canonicalField) int {
			return compareUTF16(a.key, b.key)
		})
		dst = append(dst, '{')
		for i, f := range fields {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendQuoted(dst, f.key)
			dst = append(dst, ':')
			dst = append(dst, f.value...)
		}
		return append(dst, '}'), nil
	case jx.Array:
		first := true
		dst = append(dst, '[')
		if err := d.Arr(func(d *jx.Decoder) error {
			if !first {
				dst = append(dst, ',')
			}
			first = false
			var err error
			dst, err = appendCanonical(dst, d, depth+1)
			return err
		}); err != nil {
			return nil, err
		}
		return append(dst, ']'), nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return nil, err
		}
		return appendQuoted(dst, s), nil
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(n.String(), 64)
		if err != nil && !math.IsInf(f, 0) {
			return nil, errors.Wrap(err, "parse number")
		}
		return appendNumber(dst, f), nil
	case jx.Bool:
		b, err := d.Bool()
		if err != nil {
			return nil, err
		}
		return strconv.AppendBool(dst, b), nil
	case jx.Null:
		if err := d.Null(); err != nil {
			return nil, err
		}
		return append(dst, "null"...), nil
	default:
		return nil, errors.New("invalid JSON value")
	}
}

// appendNumber formats f like ECMAScript Number::toString: fixed notation
// for magnitudes in [1e-6, 1e21), exponent notation otherwise.
func appendNumber(dst []byte, f float64) []byte {
	switch {
	case f == 0:
		return append(dst, '0')
	case math.IsInf(f, 0):
		// Out-of-range literals parse to Infinity in JS, which stringifies as null.
		return append(dst, "null"...)
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.AppendFloat(dst, f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	exp = strings.TrimLeft(exp[1:], "0")
	dst = append(dst, mant...)
	dst = append(dst, 'e', sign)
	return append(dst, exp...)
}

const hexDigits = "0123456789abcdef"

// appendQuoted writes s as a JSON string escaping only what JSON.stringify
// escapes: quote, backslash and control characters.
func appendQuoted(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for i := range len(s) {
		c := s[i]
		switch c {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if c < 0x20 {
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0xf])
				continue
			}
			dst = append(dst, c)
		}
	}
	return append(dst, '"')
}

// compareUTF16 orders strings by UTF-16 code units, matching
// Array.prototype.sort on string keys.
func compareUTF16(a, b string) int {
	if isASCII(a) && isASCII(b) {
		return strings.Compare(a, b)
	}
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

func isASCII(s string) bool {
	for i := range len(s) {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
