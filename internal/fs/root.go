// Package fs mounts the projected content tree through FUSE (cgofuse).
package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/winfsp/cgofuse/fuse"

	"github.com/agentic-research/contentsync/internal/graph"
)

// ContentFS implements the read-only FUSE interface from cgofuse.
type ContentFS struct {
	fuse.FileSystemBase
	Graph     graph.Graph
	mountTime fuse.Timespec

	mu      sync.Mutex
	dirs    map[uint64][]string
	nextDir uint64
}

func NewContentFS(g graph.Graph) *ContentFS {
	return &ContentFS{
		Graph:     g,
		mountTime: fuse.NewTimespec(time.Now()),
		dirs:      make(map[uint64][]string),
		nextDir:   1,
	}
}

// Host mounts a ContentFS.
type Host struct {
	host *fuse.FileSystemHost
}

func NewHost(fs *ContentFS) *Host {
	return &Host{host: fuse.NewFileSystemHost(fs)}
}

// Mount serves at mountpoint and blocks until the filesystem is unmounted.
func (h *Host) Mount(mountpoint string) error {
	// Use -o uid=N,gid=N to ensure we own the mount (critical for fuse-t/NFS)
	opts := []string{
		"-o", "ro",
		"-o", fmt.Sprintf("uid=%d", os.Getuid()),
		"-o", fmt.Sprintf("gid=%d", os.Getgid()),
	}
	if !h.host.Mount(mountpoint, opts) {
		return errors.New("fuse mount failed")
	}
	return nil
}

// Unmount detaches a mounted filesystem.
func (h *Host) Unmount() bool {
	return h.host.Unmount()
}

func (fs *ContentFS) Open(path string, flags int) (int, uint64) {
	if flags&(fuse.O_WRONLY|fuse.O_RDWR) != 0 {
		return -fuse.EROFS, 0
	}
	node, err := fs.Graph.GetNode(path)
	if err != nil {
		return -fuse.ENOENT, 0
	}
	if node.Mode.IsDir() {
		return -fuse.EISDIR, 0
	}
	return 0, 0
}

func (fs *ContentFS) Getattr(path string, stat *fuse.Stat_t, fh uint64) int {
	stat.Atim = fs.mountTime
	stat.Mtim = fs.mountTime
	stat.Ctim = fs.mountTime
	stat.Birthtim = fs.mountTime

	if path == "/" {
		stat.Mode = fuse.S_IFDIR | 0o555
		stat.Nlink = 2
		return 0
	}

	node, err := fs.Graph.GetNode(path)
	if err != nil {
		return -fuse.ENOENT
	}
	if !node.ModTime.IsZero() {
		stat.Mtim = fuse.NewTimespec(node.ModTime)
		stat.Ctim = stat.Mtim
	}
	if node.Mode.IsDir() {
		stat.Mode = fuse.S_IFDIR | 0o555
		stat.Nlink = 2
		return 0
	}
	stat.Mode = fuse.S_IFREG | 0o444
	stat.Nlink = 1
	stat.Size = node.ContentSize()
	return 0
}

// Opendir snapshots the entry list so paged Readdir calls stay consistent
// across a graph swap.
func (fs *ContentFS) Opendir(path string) (int, uint64) {
	entries, errc := fs.entries(path)
	if errc != 0 {
		return errc, ^uint64(0)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh := fs.nextDir
	fs.nextDir++
	fs.dirs[fh] = entries
	return 0, fh
}

func (fs *ContentFS) Readdir(path string, fill func(name string, stat *fuse.Stat_t, ofst int64) bool, ofst int64, fh uint64) int {
	fs.mu.Lock()
	entries, ok := fs.dirs[fh]
	fs.mu.Unlock()
	if !ok {
		var errc int
		if entries, errc = fs.entries(path); errc != 0 {
			return errc
		}
	}

	for i := ofst; i < int64(len(entries)); i++ {
		if !fill(entries[i], nil, i+1) {
			break
		}
	}
	return 0
}

func (fs *ContentFS) Releasedir(path string, fh uint64) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.dirs, fh)
	return 0
}

func (fs *ContentFS) Read(path string, buff []byte, ofst int64, fh uint64) int {
	n, err := fs.Graph.ReadContent(path, buff, ofst)
	if err != nil {
		return -fuse.ENOENT
	}
	return n
}

func (fs *ContentFS) entries(path string) ([]string, int) {
	if path != "/" {
		node, err := fs.Graph.GetNode(path)
		if err != nil {
			return nil, -fuse.ENOENT
		}
		if !node.Mode.IsDir() {
			return nil, -fuse.ENOTDIR
		}
	}
	children, err := fs.Graph.ListChildren(path)
	if err != nil {
		return nil, -fuse.ENOENT
	}
	out := make([]string, 0, len(children)+2)
	out = append(out, ".", "..")
	for _, id := range children {
		out = append(out, filepath.Base(id))
	}
	return out, 0
}
