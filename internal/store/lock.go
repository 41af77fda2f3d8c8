package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Locker serializes writers of one document across processes.
type Locker interface {
	// Lock blocks until the lock is held. If ctx is done first it returns
	// an error wrapping ErrLocked.
	Lock(ctx context.Context, owner string) (Unlocker, error)
}

// Unlocker releases a held lock.
type Unlocker interface {
	Unlock(ctx context.Context) error
}

// lockPoll is how often a blocked Lock retries.
const lockPoll = 100 * time.Millisecond

// FileLock is an advisory flock(2) on a file next to the document. It
// guards writers on one host.
type FileLock struct {
	Path string
}

// NewFileLock returns a lock on docPath + ".lock".
func NewFileLock(docPath string) *FileLock {
	return &FileLock{Path: docPath + ".lock"}
}

type fileUnlocker struct {
	f *os.File
}

// Lock acquires an exclusive flock. The owner string is written into the
// lock file so a blocked writer can report who holds it.
func (l *FileLock) Lock(ctx context.Context, owner string) (Unlocker, error) {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(l.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return nil, fmt.Errorf("flock %s: %w", l.Path, err)
		}
		select {
		case <-ctx.Done():
			holder := readHolder(f)
			_ = f.Close()
			return nil, fmt.Errorf("%w (held by %s)", ErrLocked, holder)
		case <-time.After(lockPoll):
		}
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(owner+" pid="+strconv.Itoa(os.Getpid())+"\n"), 0) // informational only
	}
	return &fileUnlocker{f: f}, nil
}

func readHolder(f *os.File) string {
	buf := make([]byte, 256)
	n, _ := f.ReadAt(buf, 0)
	if h := strings.TrimSpace(string(buf[:n])); h != "" {
		return h
	}
	return "unknown"
}

func (u *fileUnlocker) Unlock(_ context.Context) error {
	if err := unix.Flock(int(u.f.Fd()), unix.LOCK_UN); err != nil {
		_ = u.f.Close()
		return fmt.Errorf("unlock: %w", err)
	}
	return u.f.Close()
}

// NopLock never contends. It suits a single process that serializes its own
// writers, such as tests.
type NopLock struct{}

func (NopLock) Lock(context.Context, string) (Unlocker, error) { return nopUnlocker{}, nil }

type nopUnlocker struct{}

func (nopUnlocker) Unlock(context.Context) error { return nil }
