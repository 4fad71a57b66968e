// Package wire reads and writes the JSON tree stored in state files.
//
// Decoded trees hold only nil, bool, string, int64, float64, []any and
// map[string]any, plus uint64 for integers too large for int64. Duplicate
// object keys are rejected instead of silently keeping the last one.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	j "github.com/goccy/go-json"

	"github.com/reoring/statefile"
)

// ErrEmpty is returned by Decode when the input holds no JSON value.
var ErrEmpty = errors.New("wire: empty document")

type decoder struct {
	dec *j.Decoder
}

// Decode reads exactly one JSON value from r.
func Decode(r io.Reader) (any, error) {
	dec := j.NewDecoder(r)
	dec.UseNumber()
	d := &decoder{dec: dec}

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, parseError("", err)
	}
	v, err := d.value(tok, "")
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, statefile.Issues{statefile.IssueAt("/", statefile.CodeParseError, "trailing data after document")}
	}
	return v, nil
}

// DecodeBytes is Decode over a byte slice.
func DecodeBytes(b []byte) (any, error) { return Decode(bytes.NewReader(b)) }

func (d *decoder) value(tok j.Token, path string) (any, error) {
	switch v := tok.(type) {
	case j.Delim:
		switch v {
		case '{':
			return d.object(path)
		case '[':
			return d.array(path)
		}
		return nil, parseError(path, fmt.Errorf("unexpected %q", rune(v)))
	case j.Number:
		if n, err := v.Int64(); err == nil {
			return n, nil
		}
		if !strings.ContainsAny(v.String(), ".eE-") {
			// integers above MaxInt64
			if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
				return u, nil
			}
		}
		f, err := v.Float64()
		if err != nil {
			return nil, parseError(path, err)
		}
		return f, nil
	case float64:
		// some decoder paths ignore UseNumber
		if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
			return int64(v), nil
		}
		return v, nil
	case string, bool, nil:
		return v, nil
	}
	return nil, parseError(path, fmt.Errorf("unexpected token %T", tok))
}

func (d *decoder) object(path string) (any, error) {
	m := map[string]any{}
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, parseError(path, unexpectedEOF(err))
		}
		if tok == j.Delim('}') {
			return m, nil
		}
		key, ok := tok.(string)
		if !ok {
			return nil, parseError(path, fmt.Errorf("expected object key, got %v", tok))
		}
		sub := path + statefile.PointerKey(key)
		if _, dup := m[key]; dup {
			return nil, statefile.Issues{statefile.IssueAt(sub, statefile.CodeDuplicateKey, key)}
		}
		vt, err := d.dec.Token()
		if err != nil {
			return nil, parseError(sub, unexpectedEOF(err))
		}
		v, err := d.value(vt, sub)
		if err != nil {
			return nil, err
		}
		m[key] = v
	}
}

func (d *decoder) array(path string) (any, error) {
	out := []any{}
	for {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, parseError(path, unexpectedEOF(err))
		}
		if tok == j.Delim(']') {
			return out, nil
		}
		v, err := d.value(tok, path+statefile.PointerIndex(len(out)))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
}

func unexpectedEOF(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func parseError(path string, err error) error {
	if path == "" {
		path = "/"
	}
	it := statefile.IssueAt(path, statefile.CodeParseError, err.Error())
	it.Cause = err
	return statefile.Issues{it}
}

// Encode renders v as indented JSON with object keys sorted and a trailing
// newline.
func Encode(v any) ([]byte, error) {
	b, err := j.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
