package store

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/reoring/statefile/metrics"
)

// BackupLayout is the UTC timestamp layout embedded in backup names.
const BackupLayout = "20060102T150405.000000000Z"

// Backup describes one backup file.
type Backup struct {
	Name string
	Path string
	Time time.Time
	Size int64
}

// Backups lists the backups of this store's file, newest first. Files in the
// backup directory that do not follow the naming scheme are ignored.
func (s *Store[R]) Backups() ([]Backup, error) {
	return listBackups(s.backupDir, s.stem, s.suffix)
}

// Prune removes all but the keep most recent backups and reports how many
// were removed.
func (s *Store[R]) Prune(keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.opts.ro {
		return 0, ErrReadOnly
	}
	return s.prune(keep)
}

func (s *Store[R]) prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	bs, err := s.Backups()
	if err != nil {
		return 0, err
	}
	if len(bs) <= keep {
		return 0, nil
	}
	n := 0
	for _, b := range bs[keep:] {
		if err := os.Remove(b.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.opts.metrics.Backup(s.path, metrics.BackupPruned, n)
			return n, fmt.Errorf("remove backup: %w", err)
		}
		n++
		s.opts.log.Debug().Str("backup", b.Name).Msg("backup pruned")
	}
	s.opts.metrics.Backup(s.path, metrics.BackupPruned, n)
	return n, nil
}

// rotate moves the live file into the backup directory unless it is missing
// or identical to the newest backup.
func (s *Store[R]) rotate() error {
	fi, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat state: %w", err)
	}
	bs, err := s.Backups()
	if err != nil {
		return err
	}
	if len(bs) > 0 && bs[0].Size == fi.Size() {
		same, err := sameContent(s.path, bs[0].Path)
		if err != nil {
			return err
		}
		if same {
			s.opts.metrics.Backup(s.path, metrics.BackupSkipped, 1)
			s.opts.log.Debug().Str("backup", bs[0].Name).Msg("state unchanged since last backup")
			return nil
		}
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	ts := s.opts.now().UTC()
	if len(bs) > 0 && !ts.After(bs[0].Time) {
		// keep names ordered even when the clock stalls or goes backwards
		ts = bs[0].Time.Add(time.Nanosecond)
	}
	name := backupName(s.stem, s.suffix, ts)
	dst := filepath.Join(s.backupDir, name)
	if err := os.Rename(s.path, dst); err != nil {
		return fmt.Errorf("move state to backup: %w", err)
	}
	s.opts.metrics.Backup(s.path, metrics.BackupCreated, 1)
	s.opts.log.Info().Str("backup", name).Msg("backup created")
	return nil
}

func backupName(stem, suffix string, t time.Time) string {
	return stem + "-" + t.UTC().Format(BackupLayout) + suffix
}

func parseBackupName(name, stem, suffix string) (time.Time, bool) {
	prefix := stem + "-"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return time.Time{}, false
	}
	ts := name[len(prefix) : len(name)-len(suffix)]
	if len(ts) != len(BackupLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(BackupLayout, ts)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func listBackups(dir, stem, suffix string) ([]Backup, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var out []Backup
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		t, ok := parseBackupName(e.Name(), stem, suffix)
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Backup{Name: e.Name(), Path: filepath.Join(dir, e.Name()), Time: t, Size: info.Size()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

func sameContent(a, b string) (bool, error) {
	ha, err := fileHash(a)
	if err != nil {
		return false, err
	}
	hb, err := fileHash(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ha, hb), nil
}

func fileHash(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash %s: %w", filepath.Base(path), err)
	}
	return h.Sum(nil), nil
}
