// Package store persists one record to a JSON file, rotating timestamped
// backups on every save that changes the file.
//
// A Store is obtained with Load and is the only open handle for its file in
// the process until Close. Saves are serialized in memory before anything on
// disk is touched, so a failed or cancelled save never leaves a partial file.
// There is no file locking: other processes writing the same file are not
// detected except through Watch.
package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reoring/statefile"
	"github.com/reoring/statefile/internal/wire"
	"github.com/reoring/statefile/metrics"
)

var (
	// ErrInUse is returned by Load while another Store holds the same file.
	ErrInUse = errors.New("store: file is already open")
	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("store: closed")
	// ErrNotFile is returned when the state path exists but is not a regular file.
	ErrNotFile = errors.New("store: path exists and is not a file")
	// ErrNotDir is returned when the backup path exists but is not a directory.
	ErrNotDir = errors.New("store: backup path exists and is not a directory")
	// ErrReadOnly is returned by Save and Prune on a store opened with ReadOnly.
	ErrReadOnly = errors.New("store: opened read-only")
)

var (
	openMu sync.Mutex
	open   = map[string]struct{}{}
)

func claim(path string) error {
	openMu.Lock()
	defer openMu.Unlock()
	if _, ok := open[path]; ok {
		return fmt.Errorf("%w: %s", ErrInUse, path)
	}
	open[path] = struct{}{}
	return nil
}

func release(path string) {
	openMu.Lock()
	defer openMu.Unlock()
	delete(open, path)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	log     zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time
	perm    fs.FileMode
	ro      bool
}

// WithLogger sets the logger for store events. It is also attached to the
// context passed to serializers unless that context already carries one.
func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.log = l } }

// WithMetrics records loads, saves and backup rotation on c.
func WithMetrics(c *metrics.Collector) Option { return func(o *options) { o.metrics = c } }

// WithClock overrides the time source used to name backups.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithFileMode sets the permissions of the written state file (default 0o644).
func WithFileMode(m fs.FileMode) Option { return func(o *options) { o.perm = m } }

// ReadOnly opens the store for reading: the backup directory is not created
// and Save and Prune fail with ErrReadOnly. Restore still works in memory.
func ReadOnly() Option { return func(o *options) { o.ro = true } }

// Store owns the live record of type R persisted at one path.
type Store[R any] struct {
	path      string
	backupDir string
	stem      string
	suffix    string
	reg       *statefile.Registrar
	opts      options

	mu       sync.Mutex
	data     *R
	lastHash [sha256.Size]byte
	closed   bool
}

// Load reads path (treating an absent or empty file as {}) and builds the
// record through reg. The backup directory is created when missing unless the
// store is ReadOnly. A document that does not produce a record is fatal: the
// error is a *statefile.UnresolvedError when the record reported its outcome,
// and wraps statefile.ErrUnresolved either way.
func Load[R any](ctx context.Context, path, backupDir string, reg *statefile.Registrar, opts ...Option) (*Store[R], error) {
	o := options{log: zerolog.Nop(), now: time.Now, perm: 0o644}
	for _, fn := range opts {
		fn(&o)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	absDir, err := filepath.Abs(backupDir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if err := claim(abs); err != nil {
		return nil, err
	}
	s := &Store[R]{path: abs, backupDir: absDir, reg: reg, opts: o}
	s.suffix = filepath.Ext(abs)
	s.stem = filepath.Base(abs)[:len(filepath.Base(abs))-len(s.suffix)]

	data, err := s.load(ctx)
	o.metrics.LoadDone(abs, err)
	if err != nil {
		release(abs)
		o.log.Error().Err(err).Str("path", abs).Msg("state load failed")
		return nil, err
	}
	s.data = data
	o.log.Info().Str("path", abs).Str("record", typeName[R]()).Msg("state loaded")
	return s, nil
}

func (s *Store[R]) load(ctx context.Context) (*R, error) {
	if fi, err := os.Stat(s.path); err == nil && !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotFile, s.path)
	}
	if fi, err := os.Stat(s.backupDir); err == nil && !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDir, s.backupDir)
	}

	b, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read state: %w", err)
	}
	rec, err := s.decode(ctx, b, s.path)
	if err != nil {
		return nil, err
	}
	if len(b) > 0 {
		s.lastHash = sha256.Sum256(b)
	}
	if s.opts.ro {
		return rec, nil
	}
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return rec, nil
}

// decode turns the contents of src into a record; empty contents mean {}.
func (s *Store[R]) decode(ctx context.Context, b []byte, src string) (*R, error) {
	var raw any
	empty := true
	if len(b) > 0 {
		v, err := wire.DecodeBytes(b)
		switch {
		case errors.Is(err, wire.ErrEmpty):
		case err != nil:
			return nil, err
		default:
			raw, empty = v, false
		}
	}
	if empty {
		if sch, ok := statefile.SchemaOf(reflect.TypeFor[*R]()); ok && !sch.HasDefault() {
			return nil, fmt.Errorf("%w: %s is empty and %s has fields without a default", statefile.ErrUnresolved, src, sch.Name())
		}
		raw = map[string]any{}
	}
	ctx, outcome := statefile.CaptureOutcome(s.ctx(ctx))
	v, err := s.reg.Deserialize(ctx, raw, reflect.TypeFor[*R]())
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*R)
	if rec == nil {
		if o, ok := outcome(); ok {
			return nil, &statefile.UnresolvedError{Record: typeName[R](), Source: src, Outcome: o}
		}
		return nil, fmt.Errorf("%w: %s from %s", statefile.ErrUnresolved, typeName[R](), src)
	}
	return rec, nil
}

// ctx attaches the store logger unless ctx already has one.
func (s *Store[R]) ctx(ctx context.Context) context.Context {
	if zerolog.Ctx(ctx).GetLevel() != zerolog.Disabled {
		return ctx
	}
	return s.opts.log.WithContext(ctx)
}

// Path returns the absolute path of the state file.
func (s *Store[R]) Path() string { return s.path }

// BackupDir returns the backup directory.
func (s *Store[R]) BackupDir() string { return s.backupDir }

// Data returns the live record. Callers must not mutate it while Save runs.
func (s *Store[R]) Data() *R {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}

// Save writes the live record to disk. The current file is moved into the
// backup directory first unless it matches the newest backup, and backups
// beyond the backupCount most recent are removed. backupCount <= 0 disables
// backups entirely.
func (s *Store[R]) Save(ctx context.Context, backupCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.opts.ro {
		return ErrReadOnly
	}
	start := time.Now()
	err := s.save(s.ctx(ctx), backupCount)
	s.opts.metrics.SaveDone(s.path, err, time.Since(start))
	if err != nil {
		s.opts.log.Error().Err(err).Str("path", s.path).Msg("state save failed")
		return err
	}
	s.opts.log.Debug().Str("path", s.path).Dur("took", time.Since(start)).Msg("state saved")
	return nil
}

func (s *Store[R]) save(ctx context.Context, backupCount int) error {
	raw, err := s.reg.Serialize(ctx, s.data, reflect.TypeFor[*R]())
	if err != nil {
		return fmt.Errorf("serialize %s: %w", typeName[R](), err)
	}
	if raw == nil {
		return fmt.Errorf("serialize %s: %w", typeName[R](), statefile.ErrUnresolved)
	}
	b, err := wire.Encode(raw)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typeName[R](), err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if backupCount > 0 {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	if err := writeAtomic(s.path, b, s.opts.perm); err != nil {
		return err
	}
	s.lastHash = sha256.Sum256(b)
	if backupCount > 0 {
		if _, err := s.prune(backupCount); err != nil {
			return err
		}
	}
	return nil
}

// writeAtomic replaces path with b through a temporary file in the same
// directory.
func writeAtomic(path string, b []byte, perm fs.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	if _, err := f.Write(b); err != nil {
		f.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// Restore loads the named backup through the Registrar and makes it the live
// record. The state file itself is only rewritten by the next Save.
func (s *Store[R]) Restore(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if filepath.Base(name) != name {
		return fmt.Errorf("restore: %q is not a backup name", name)
	}
	src := filepath.Join(s.backupDir, name)
	b, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	rec, err := s.decode(ctx, b, src)
	if err != nil {
		return fmt.Errorf("restore %s: %w", name, err)
	}
	s.data = rec
	s.opts.log.Info().Str("path", s.path).Str("backup", name).Msg("state restored from backup")
	return nil
}

// Close releases the file so it can be loaded again.
func (s *Store[R]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	release(s.path)
	return nil
}

func typeName[R any]() string { return reflect.TypeFor[R]().String() }
