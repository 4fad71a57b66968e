package wire

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/reoring/statefile"
)

func TestDecode_NormalizesNumbers(t *testing.T) {
	v, err := DecodeBytes([]byte(`{"a": 1, "b": [1.5, "x", null, true], "c": {"d": -2}}`))
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	want := map[string]any{
		"a": int64(1),
		"b": []any{1.5, "x", nil, true},
		"c": map[string]any{"d": int64(-2)},
	}
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("got %#v", v)
	}
}

func TestDecode_DuplicateKey(t *testing.T) {
	_, err := DecodeBytes([]byte(`{"c": {"d": 1, "d": 2}}`))
	iss, ok := statefile.AsIssues(err)
	if !ok || iss[0].Code != statefile.CodeDuplicateKey || iss[0].Path != "/c/d" {
		t.Fatalf("expected duplicate_key at /c/d, got %v", err)
	}
}

func TestDecode_Empty(t *testing.T) {
	if _, err := Decode(strings.NewReader("  \n")); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, in := range []string{`{"a":`, `{} {}`, `[1, 2`} {
		_, err := DecodeBytes([]byte(in))
		iss, ok := statefile.AsIssues(err)
		if !ok || iss[0].Code != statefile.CodeParseError {
			t.Fatalf("%q: expected parse_error, got %v", in, err)
		}
	}
}

func TestEncode_SortedIndented(t *testing.T) {
	b, err := Encode(map[string]any{"b": 1, "a": []any{}})
	if err != nil {
		t.Fatalf("encode err: %v", err)
	}
	want := "{\n  \"a\": [],\n  \"b\": 1\n}\n"
	if string(b) != want {
		t.Fatalf("got %q", b)
	}
}

func TestDecode_LargeIntegers(t *testing.T) {
	v, err := DecodeBytes([]byte(`[18446744073709551615, 9223372036854775809, 18446744073709551616, -9223372036854775809, 1e3]`))
	if err != nil {
		t.Fatalf("decode err: %v", err)
	}
	want := []any{uint64(18446744073709551615), uint64(9223372036854775809), 1.8446744073709552e19, -9.223372036854776e18, float64(1000)}
	if !reflect.DeepEqual(v, want) {
		t.Fatalf("got %#v", v)
	}
}
