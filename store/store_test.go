package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/reoring/statefile"
	"github.com/reoring/statefile/codec"
	"github.com/reoring/statefile/metrics"
	"github.com/reoring/statefile/store"
)

type state struct {
	Title string   `json:"title"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

var stateSchema = statefile.Define[state]().
	Default("title", "untitled").
	Default("count", 0).
	Default("tags", []string(nil)).
	MustBuild()

func (*state) Schema() statefile.AnySchema { return stateSchema }

type member struct{ ID string }

type guarded struct {
	Owner *member `json:"owner"`
}

var guardedSchema = statefile.Define[guarded]().
	Without(func(context.Context, *guarded, any) error { return nil }, "owner").
	MustBuild()

func (*guarded) Schema() statefile.AnySchema { return guardedSchema }

type hooked struct {
	Name string   `json:"name"`
	Hook chan int `json:"hook"`
}

var hookedSchema = statefile.Define[hooked]().
	Default("name", "x").
	Default("hook", (chan int)(nil)).
	MustBuild()

func (*hooked) Schema() statefile.AnySchema { return hookedSchema }

func registrar(t *testing.T) *statefile.Registrar {
	t.Helper()
	r := codec.NewRegistrar()
	gone := codec.Ref(func(context.Context, string) (*member, bool, error) { return nil, false, nil },
		func(m *member) string { return m.ID })
	if err := r.Register(gone); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

// ticking returns a clock that advances one second per call.
func ticking() func() time.Time {
	var n atomic.Int64
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return base.Add(time.Duration(n.Add(1)) * time.Second) }
}

func paths(t *testing.T) (string, string) {
	dir := t.TempDir()
	return filepath.Join(dir, "state.json"), filepath.Join(dir, "backups")
}

func load[R any](t *testing.T, path, backups string, opts ...store.Option) *store.Store[R] {
	t.Helper()
	s, err := store.Load[R](context.Background(), path, backups, registrar(t), opts...)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func backups[R any](t *testing.T, s *store.Store[R]) []store.Backup {
	t.Helper()
	bs, err := s.Backups()
	if err != nil {
		t.Fatalf("backups: %v", err)
	}
	return bs
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path, dir := paths(t)
	s := load[state](t, path, dir)

	if got := s.Data(); got.Title != "untitled" || got.Count != 0 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("backup dir not created: %v", err)
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	path, dir := paths(t)
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s := load[state](t, path, dir)
	if s.Data().Title != "untitled" {
		t.Fatalf("unexpected record: %+v", s.Data())
	}
}

func TestLoad_ReadsDocument(t *testing.T) {
	path, dir := paths(t)
	if err := os.WriteFile(path, []byte(`{"title": "t", "count": 4, "tags": ["a", 7, "b"]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s := load[state](t, path, dir)
	got := s.Data()
	if got.Title != "t" || got.Count != 4 || strings.Join(got.Tags, ",") != "a,b" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestLoad_UnresolvedRootIsFatal(t *testing.T) {
	path, dir := paths(t)
	for i := 0; i < 2; i++ {
		_, err := store.Load[guarded](context.Background(), path, dir, registrar(t))
		if !errors.Is(err, statefile.ErrUnresolved) {
			t.Fatalf("attempt %d: expected ErrUnresolved, got %v", i, err)
		}
	}
}

func TestLoad_UnresolvedRootReportsOutcome(t *testing.T) {
	path, dir := paths(t)
	if err := os.WriteFile(path, []byte(`{"owner": "m1"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := store.Load[guarded](context.Background(), path, dir, registrar(t))
	var ue *statefile.UnresolvedError
	if !errors.As(err, &ue) || !errors.Is(err, statefile.ErrUnresolved) {
		t.Fatalf("expected UnresolvedError, got %v", err)
	}
	if ue.Outcome.Status != statefile.StatusRepaired || len(ue.Outcome.Unresolved) != 1 || ue.Outcome.Unresolved[0] != "owner" {
		t.Fatalf("unexpected outcome: %+v", ue.Outcome)
	}
	if !strings.Contains(err.Error(), "repaired (owner)") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestLoad_EmptyFileWithoutDefaultsFailsEarly(t *testing.T) {
	path, dir := paths(t)
	_, err := store.Load[guarded](context.Background(), path, dir, registrar(t))
	var ue *statefile.UnresolvedError
	if !errors.Is(err, statefile.ErrUnresolved) || errors.As(err, &ue) {
		t.Fatalf("expected plain ErrUnresolved before construction, got %v", err)
	}
	if !strings.Contains(err.Error(), "without a default") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestLoad_ReadOnly(t *testing.T) {
	path, dir := paths(t)
	if err := os.WriteFile(path, []byte(`{"title": "t"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	s := load[state](t, path, dir, store.ReadOnly())
	if s.Data().Title != "t" {
		t.Fatalf("unexpected record: %+v", s.Data())
	}
	if _, err := os.Stat(dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read-only load created the backup dir: %v", err)
	}
	if err := s.Save(context.Background(), 3); !errors.Is(err, store.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly from Save, got %v", err)
	}
	if _, err := s.Prune(0); !errors.Is(err, store.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly from Prune, got %v", err)
	}
	if bs := backups(t, s); len(bs) != 0 {
		t.Fatalf("expected no backups, got %d", len(bs))
	}
}

func TestSave_FileMode(t *testing.T) {
	path, dir := paths(t)
	s := load[state](t, path, dir, store.WithFileMode(0o600))
	if err := s.Save(context.Background(), 0); err != nil {
		t.Fatalf("save: %v", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("mode = %o, want 600", fi.Mode().Perm())
	}
}

func TestLoad_StructuralErrorIsFatal(t *testing.T) {
	path, dir := paths(t)
	if err := os.WriteFile(path, []byte(`{"title": "t", "colour": "red"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := store.Load[state](context.Background(), path, dir, registrar(t))
	iss, ok := statefile.AsIssues(err)
	if !ok || iss[0].Code != statefile.CodeUnknownKey {
		t.Fatalf("expected unknown_key, got %v", err)
	}
}

func TestLoad_InUseUntilClosed(t *testing.T) {
	path, dir := paths(t)
	s, err := store.Load[state](context.Background(), path, dir, registrar(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := store.Load[state](context.Background(), path, dir, registrar(t)); !errors.Is(err, store.ErrInUse) {
		t.Fatalf("expected ErrInUse, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Save(context.Background(), 1); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	load[state](t, path, dir)
}

func TestLoad_PathChecks(t *testing.T) {
	path, dir := paths(t)
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load[state](context.Background(), path, dir, registrar(t)); !errors.Is(err, store.ErrNotFile) {
		t.Fatalf("expected ErrNotFile, got %v", err)
	}

	path, dir = paths(t)
	if err := os.WriteFile(dir, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Load[state](context.Background(), path, dir, registrar(t)); !errors.Is(err, store.ErrNotDir) {
		t.Fatalf("expected ErrNotDir, got %v", err)
	}
}

func TestSave_WritesSortedIndentedJSON(t *testing.T) {
	path, dir := paths(t)
	s := load[state](t, path, dir)
	*s.Data() = state{Title: "t", Count: 2, Tags: []string{"a"}}

	if err := s.Save(context.Background(), 3); err != nil {
		t.Fatalf("save: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"count\": 2,\n  \"tags\": [\n    \"a\"\n  ],\n  \"title\": \"t\"\n}\n"
	if string(b) != want {
		t.Fatalf("got %q", b)
	}
}

func TestSave_UnchangedContentMakesOneBackup(t *testing.T) {
	path, dir := paths(t)
	reg := prometheus.NewRegistry()
	mc := metrics.New(reg)
	s := load[state](t, path, dir, store.WithClock(ticking()), store.WithMetrics(mc))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Save(ctx, 5); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if n := len(backups(t, s)); n != 1 {
		t.Fatalf("expected exactly one backup, got %d", n)
	}
	if n := testutil.ToFloat64(mc.Backups.WithLabelValues(s.Path(), metrics.BackupSkipped)); n != 1 {
		t.Fatalf("skipped = %v", n)
	}

	s.Data().Count = 1
	if err := s.Save(ctx, 5); err != nil {
		t.Fatalf("save: %v", err)
	}
	if n := len(backups(t, s)); n != 2 {
		t.Fatalf("expected a new backup after a change, got %d", n)
	}
}

func TestSave_PrunesToBackupCount(t *testing.T) {
	path, dir := paths(t)
	s := load[state](t, path, dir, store.WithClock(ticking()))
	ctx := context.Background()

	for i := 1; i <= 6; i++ {
		s.Data().Count = i
		if err := s.Save(ctx, 3); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	bs := backups(t, s)
	if len(bs) != 3 {
		t.Fatalf("expected 3 backups, got %d", len(bs))
	}
	b, err := os.ReadFile(bs[0].Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"count": 5`) {
		t.Fatalf("newest backup should hold the previous state, got %s", b)
	}
	if !strings.HasPrefix(bs[0].Name, "state-2024") || !strings.HasSuffix(bs[0].Name, ".json") {
		t.Fatalf("unexpected backup name %q", bs[0].Name)
	}
}

func TestSave_ZeroBackupCountDisablesBackups(t *testing.T) {
	path, dir := paths(t)
	s := load[state](t, path, dir)
	for i := 0; i < 3; i++ {
		s.Data().Count = i
		if err := s.Save(context.Background(), 0); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if n := len(backups(t, s)); n != 0 {
		t.Fatalf("expected no backups, got %d", n)
	}
}

func TestSave_SerializeFailureLeavesFileUntouched(t *testing.T) {
	path, dir := paths(t)
	orig := []byte(`{"name": "x"}`)
	if err := os.WriteFile(path, orig, 0o644); err != nil {
		t.Fatal(err)
	}
	s := load[hooked](t, path, dir)

	err := s.Save(context.Background(), 3)
	iss, ok := statefile.AsIssues(err)
	if !ok || iss[0].Code != statefile.CodeNoSerializer || iss[0].Path != "/hook" {
		t.Fatalf("expected no_serializer at /hook, got %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != string(orig) {
		t.Fatalf("file changed: %s", b)
	}
	if n := len(backups(t, s)); n != 0 {
		t.Fatalf("expected no backups, got %d", n)
	}
}

func TestRestore(t *testing.T) {
	path, dir := paths(t)
	s := load[state](t, path, dir, store.WithClock(ticking()))
	ctx := context.Background()

	s.Data().Count = 1
	if err := s.Save(ctx, 3); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Data().Count = 2
	if err := s.Save(ctx, 3); err != nil {
		t.Fatalf("save: %v", err)
	}
	bs := backups(t, s)
	if len(bs) != 1 {
		t.Fatalf("expected one backup, got %d", len(bs))
	}
	if err := s.Restore(ctx, bs[0].Name); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if s.Data().Count != 1 {
		t.Fatalf("restored count = %d", s.Data().Count)
	}
	if err := s.Restore(ctx, "../state.json"); err == nil {
		t.Fatalf("expected error for a path outside the backup dir")
	}
}

func TestPrune(t *testing.T) {
	path, dir := paths(t)
	s := load[state](t, path, dir, store.WithClock(ticking()))
	for i := 1; i <= 4; i++ {
		s.Data().Count = i
		if err := s.Save(context.Background(), 10); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := s.Prune(1)
	if err != nil || n != 2 {
		t.Fatalf("prune: removed %d err=%v", n, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Fatalf("unrelated file removed: %v", err)
	}
}

func TestWatch_ReportsExternalWrites(t *testing.T) {
	path, dir := paths(t)
	s := load[state](t, path, dir)
	if err := s.Save(context.Background(), 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	changed := make(chan store.Change, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func(_ context.Context, c store.Change) {
			select {
			case changed <- c:
			default:
			}
		})
	}()

	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for i := 0; ; i++ {
		select {
		case c := <-changed:
			if c.Removed || c.Path != s.Path() {
				t.Fatalf("unexpected change %+v", c)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("watch: %v", err)
			}
			return
		case <-tick.C:
			body := `{"title": "edited", "count": ` + strings.Repeat("1", i%8+1) + `}`
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-ctx.Done():
			t.Fatalf("no change reported")
		}
	}
}
