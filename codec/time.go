package codec

import (
	"context"
	"reflect"
	"time"

	"github.com/reoring/statefile"
)

var timeType = reflect.TypeFor[time.Time]()

// Epoch returns the serializer writing time.Time as integer UTC epoch seconds.
// Sub-second precision is dropped.
func Epoch() statefile.Serializer { return epoch{} }

type epoch struct{}

func (epoch) Supports(t reflect.Type) bool { return t == timeType }

func (epoch) Claims() []reflect.Type { return []reflect.Type{timeType} }

func (epoch) Serialize(_ context.Context, v any, _ reflect.Type) (any, error) {
	tm, ok := v.(time.Time)
	if !ok {
		return nil, nil
	}
	return tm.Unix(), nil
}

func (epoch) Deserialize(_ context.Context, raw any, _ reflect.Type) (any, error) {
	rv := reflect.ValueOf(raw)
	if !rv.IsValid() || !(isInt(rv.Kind()) || isUint(rv.Kind())) {
		return nil, nil
	}
	n, ok := asInt64(rv)
	if !ok {
		return nil, nil
	}
	return time.Unix(n, 0).UTC(), nil
}

// RFC3339 returns a serializer writing time.Time as an RFC 3339 string in UTC
// with nanoseconds when present. Register it instead of Epoch, not alongside.
func RFC3339() statefile.Serializer { return rfc3339{} }

type rfc3339 struct{}

func (rfc3339) Supports(t reflect.Type) bool { return t == timeType }

func (rfc3339) Claims() []reflect.Type { return []reflect.Type{timeType} }

func (rfc3339) Serialize(_ context.Context, v any, _ reflect.Type) (any, error) {
	tm, ok := v.(time.Time)
	if !ok {
		return nil, nil
	}
	return formatRFC3339Canonical(tm), nil
}

func (rfc3339) Deserialize(_ context.Context, raw any, _ reflect.Type) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, nil
	}
	tm, err := parseRFC3339(s)
	if err != nil {
		return nil, nil
	}
	return tm, nil
}

func parseRFC3339(s string) (time.Time, error) {
	// RFC3339Nano also accepts values without fractional seconds
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339, s); err2 == nil {
			return t2.UTC(), nil
		}
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func formatRFC3339Canonical(t time.Time) string {
	// Go trims trailing zeros with RFC3339Nano
	return t.UTC().Format(time.RFC3339Nano)
}
