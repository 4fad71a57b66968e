package codec_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/reoring/statefile"
	"github.com/reoring/statefile/codec"
	"github.com/reoring/statefile/metrics"
)

type channel struct {
	Guild string
	ID    string
}

type limits struct {
	Max int `json:"max"`
	Min int `json:"min"`
}

type task struct {
	Name     string   `json:"name"`
	Progress int      `json:"progress"`
	Channel  *channel `json:"channel"`
	Note     *string  `json:"note"`
	Limits   limits   `statefile:"limits,group"`
}

// removals collects the raw values remediation handlers saw.
type removals struct{ raws []any }

var taskSchema = statefile.Define[task]().
	Named("Task").
	Default("progress", 0).
	Default("note", (*string)(nil)).
	Default("limits.max", 10).
	Default("limits.min", 0).
	Without(func(ctx context.Context, _ *task, raw any) error {
		if rm, ok := statefile.Service[*removals](ctx); ok {
			rm.raws = append(rm.raws, raw)
		}
		return nil
	}, "channel").
	MustBuild()

func (*task) Schema() statefile.AnySchema { return taskSchema }

var channels = map[string]*channel{
	"g1|c1": {Guild: "g1", ID: "c1"},
	"g1|c2": {Guild: "g1", ID: "c2"},
}

func channelRef() statefile.Serializer {
	return codec.Ref(func(_ context.Context, id string) (*channel, bool, error) {
		if _, ok := codec.SplitIDs(id, 2); !ok {
			return nil, false, nil
		}
		c, ok := channels[id]
		return c, ok, nil
	}, func(c *channel) string { return codec.JoinIDs(c.Guild, c.ID) })
}

func newRegistrar(t *testing.T, opts ...statefile.Option) *statefile.Registrar {
	t.Helper()
	r := codec.NewRegistrar(opts...)
	if err := r.Register(channelRef()); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func TestRecords_Serialize(t *testing.T) {
	ctx := context.Background()
	r := newRegistrar(t)
	rec := &task{Name: "docs", Progress: 3, Channel: channels["g1|c1"], Limits: limits{Max: 5}}

	w, err := r.Serialize(ctx, rec, reflect.TypeFor[*task]())
	if err != nil {
		t.Fatalf("serialize err: %v", err)
	}
	want := map[string]any{
		"name":     "docs",
		"progress": 3,
		"channel":  "g1|c1",
		"limits":   map[string]any{"max": 5, "min": 0},
	}
	if !reflect.DeepEqual(w, want) {
		t.Fatalf("got %#v", w)
	}
}

func TestRecords_DeserializeDefaults(t *testing.T) {
	ctx := context.Background()
	r := newRegistrar(t)

	v, err := r.Deserialize(ctx, map[string]any{
		"name":    "docs",
		"channel": "g1|c2",
		"limits":  map[string]any{"min": int64(2)},
	}, reflect.TypeFor[*task]())
	if err != nil {
		t.Fatalf("deserialize err: %v", err)
	}
	got := v.(*task)
	if got.Name != "docs" || got.Progress != 0 || got.Channel != channels["g1|c2"] || got.Note != nil {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Limits != (limits{Max: 10, Min: 2}) {
		t.Fatalf("unexpected group: %+v", got.Limits)
	}
}

func TestRecords_StaleReferenceRunsRemediation(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := metrics.New(reg)
	r := newRegistrar(t, statefile.WithMetrics(mc))
	rm := &removals{}
	ctx := statefile.WithService(context.Background(), rm)

	raw := []any{
		map[string]any{"name": "a", "channel": "g1|c1"},
		map[string]any{"name": "b", "channel": "g1|gone"},
		map[string]any{"name": "c", "channel": "g1|c2"},
	}
	v, err := r.Deserialize(ctx, raw, reflect.TypeFor[[]*task]())
	if err != nil {
		t.Fatalf("deserialize err: %v", err)
	}
	got := v.([]*task)
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Fatalf("expected stale entry to be dropped, got %+v", got)
	}
	if len(rm.raws) != 1 || rm.raws[0] != "g1|gone" {
		t.Fatalf("remediation saw %#v", rm.raws)
	}
	if n := testutil.ToFloat64(mc.Remediations.WithLabelValues("Task", "channel")); n != 1 {
		t.Fatalf("remediations = %v", n)
	}
	if n := testutil.ToFloat64(mc.Unresolved.WithLabelValues("*codec_test.channel")); n != 1 {
		t.Fatalf("unresolved = %v", n)
	}
}

func TestRecords_UnknownKeyIsStructural(t *testing.T) {
	r := newRegistrar(t)
	_, err := r.Deserialize(context.Background(), []any{map[string]any{"name": "a", "colour": "red"}}, reflect.TypeFor[[]*task]())
	iss, ok := statefile.AsIssues(err)
	if !ok || iss[0].Code != statefile.CodeUnknownKey || iss[0].Path != "/0/colour" {
		t.Fatalf("expected unknown_key at /0/colour, got %v", err)
	}
}

func TestRecords_ValueType(t *testing.T) {
	ctx := context.Background()
	r := newRegistrar(t)
	typ := reflect.TypeFor[map[string]task]()

	in := map[string]task{"x": {Name: "x", Progress: 1, Channel: channels["g1|c1"], Limits: limits{Max: 1}}}
	w, err := r.Serialize(ctx, in, typ)
	if err != nil {
		t.Fatalf("serialize err: %v", err)
	}
	back, err := r.Deserialize(ctx, w, typ)
	if err != nil {
		t.Fatalf("deserialize err: %v", err)
	}
	if !reflect.DeepEqual(back, in) {
		t.Fatalf("roundtrip: %#v", back)
	}
}

func TestRef_FatalResolverError(t *testing.T) {
	boom := errors.New("platform down")
	r := statefile.NewRegistrar().MustRegister(codec.Ref(func(context.Context, string) (*channel, bool, error) {
		return nil, false, boom
	}, func(c *channel) string { return c.ID }))
	_, err := r.Deserialize(context.Background(), "c1", reflect.TypeFor[*channel]())
	if !errors.Is(err, boom) {
		t.Fatalf("expected resolver error, got %v", err)
	}
}

func TestSplitIDs(t *testing.T) {
	if got := codec.JoinIDs("g", "c"); got != "g|c" {
		t.Fatalf("join = %q", got)
	}
	parts, ok := codec.SplitIDs("g|c", 2)
	if !ok || parts[0] != "g" || parts[1] != "c" {
		t.Fatalf("split = %v %v", parts, ok)
	}
	for _, bad := range []string{"g", "g|", "|c", "a|b|c"} {
		if _, ok := codec.SplitIDs(bad, 2); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
