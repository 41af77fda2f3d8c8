// Package store persists the content document on a billy filesystem.
//
// Every write is preceded by a timestamped backup of the current file and
// replaces the document atomically: the new content goes to a temp file in
// the same directory, which is then renamed over the document.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/agentic-research/contentsync/api"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.uber.org/zap"
)

// BackupLayout is the time layout of backup suffixes.
const BackupLayout = "20060102_150405"

// Mirror receives a copy of every backup. Failures are logged, not fatal.
type Mirror interface {
	Put(ctx context.Context, name string, data []byte) error
}

// Store reads and replaces one document file.
type Store struct {
	fs     billy.Filesystem
	path   string
	now    func() time.Time
	mirror Mirror
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for backup names.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMirror copies each backup to m after it is written locally.
func WithMirror(m Mirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store for the document at p on fs.
func New(fs billy.Filesystem, p string, opts ...Option) *Store {
	s := &Store{fs: fs, path: p, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

// Load reads the document. A missing file is an empty document.
func (s *Store) Load() (*api.Document, error) {
	data, err := util.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &api.Document{}, nil
	}
	if err != nil {
		return nil, persistErr("load", s.path, err)
	}
	doc, err := api.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, persistErr("load", s.path, err)
	}
	return doc, nil
}

// CommitInfo describes a completed write.
type CommitInfo struct {
	// Backup is the path of the copy of the previous document, "" if there
	// was none.
	Backup string
	Bytes  int
}

// Commit backs up the current document and atomically replaces it with doc.
// The caller holds the lock. Any failure is a *PersistenceError, and the
// previous document is left in place.
func (s *Store) Commit(ctx context.Context, doc *api.Document) (CommitInfo, error) {
	data, err := api.Marshal(doc)
	if err != nil {
		return CommitInfo{}, persistErr("encode", s.path, err)
	}

	var info CommitInfo
	prev, err := util.ReadFile(s.fs, s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return CommitInfo{}, persistErr("backup", s.path, err)
	default:
		info.Backup, err = s.backup(prev)
		if err != nil {
			return CommitInfo{}, err
		}
	}

	if err := s.replace(data); err != nil {
		return info, err
	}
	info.Bytes = len(data)

	if info.Backup != "" && s.mirror != nil {
		if err := s.mirror.Put(ctx, path.Base(info.Backup), prev); err != nil {
			s.logger.Warn("mirror backup failed", zap.String("backup", info.Backup), zap.Error(err))
		}
	}
	return info, nil
}

// backup writes prev to a new backup file. Existing backups are never
// overwritten; a counter is appended on a name collision.
func (s *Store) backup(prev []byte) (string, error) {
	base := s.path + ".backup." + s.now().Format(BackupLayout)
	name := base
	for i := 1; ; i++ {
		f, err := s.fs.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = fmt.Sprintf("%s.%d", base, i)
			continue
		}
		if err != nil {
			return "", persistErr("backup", name, err)
		}
		if _, err := f.Write(prev); err != nil {
			_ = f.Close()
			_ = s.fs.Remove(name) // best-effort cleanup
			return "", persistErr("backup", name, err)
		}
		if err := f.Close(); err != nil {
			return "", persistErr("backup", name, err)
		}
		s.logger.Debug("backup written", zap.String("backup", name), zap.Int("bytes", len(prev)))
		return name, nil
	}
}

// replace writes data to a temp file next to the document and renames it over.
func (s *Store) replace(data []byte) error {
	dir := path.Dir(s.path)
	if dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return persistErr("write", dir, err)
		}
	}
	tmp, err := s.fs.TempFile(dir, ".contentsync-")
	if err != nil {
		return persistErr("write", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName) // best-effort cleanup
		return persistErr("write", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName) // best-effort cleanup
		return persistErr("write", tmpName, err)
	}

	if ch, ok := s.fs.(billy.Change); ok {
		if fi, err := s.fs.Stat(s.path); err == nil {
			_ = ch.Chmod(tmpName, fi.Mode()) // best-effort permission sync
		} else {
			_ = ch.Chmod(tmpName, 0o644) // temp files start at 0600
		}
	}

	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName) // best-effort cleanup
		return persistErr("rename", s.path, err)
	}
	return nil
}

// Backups lists backup files of the document, oldest first.
func (s *Store) Backups() ([]string, error) {
	dir := path.Dir(s.path)
	infos, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, persistErr("list", dir, err)
	}
	prefix := path.Base(s.path) + ".backup."
	var out []string
	for _, fi := range infos {
		if !fi.IsDir() && strings.HasPrefix(fi.Name(), prefix) {
			out = append(out, path.Join(dir, fi.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Restore commits the content of a backup as the current document. The
// document being replaced is itself backed up first.
func (s *Store) Restore(ctx context.Context, backup string) (CommitInfo, error) {
	f, err := s.fs.Open(backup)
	if err != nil {
		return CommitInfo{}, persistErr("load", backup, err)
	}
	defer func() { _ = f.Close() }() // safe to ignore

	doc, err := api.Decode(f)
	if err != nil {
		return CommitInfo{}, persistErr("load", backup, err)
	}
	return s.Commit(ctx, doc)
}
