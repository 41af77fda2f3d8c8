package nfsmount

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
	"runtime"
	"strings"

	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"github.com/agentic-research/contentsync/internal/graph"
)

// Server exports a graph read-only over NFSv3 on a loopback port.
type Server struct {
	listener   net.Listener
	port       int
	mountpoint string
	done       chan struct{}
}

// Serve starts exporting g on an ephemeral port.
func Serve(g graph.Graph) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("nfs listen: %w", err)
	}
	handler := nfshelper.NewCachingHandler(nfshelper.NewNullAuthHandler(NewGraphFS(g)), 4096)

	s := &Server{
		listener: listener,
		port:     listener.Addr().(*net.TCPAddr).Port,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		_ = nfs.Serve(listener, handler) // returns once the listener is closed
	}()
	return s, nil
}

// Port returns the TCP port being served.
func (s *Server) Port() int { return s.port }

// Mount attaches the export at mountpoint with the system mount command.
// Requires sudo.
func (s *Server) Mount(mountpoint string) error {
	args, err := mountArgs(runtime.GOOS, s.port, mountpoint)
	if err != nil {
		return err
	}
	if out, err := exec.Command("sudo", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("mount %s: %w\n%s", mountpoint, err, out)
	}
	s.mountpoint = mountpoint
	return nil
}

// Close unmounts the export if it was mounted and stops serving.
func (s *Server) Close() error {
	var errs []error
	if s.mountpoint != "" {
		if err := unmount(runtime.GOOS, s.mountpoint); err != nil {
			errs = append(errs, err)
		}
		s.mountpoint = ""
	}
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	<-s.done
	return errors.Join(errs...)
}

func mountArgs(goos string, port int, mountpoint string) ([]string, error) {
	opts := []string{fmt.Sprintf("port=%d", port), fmt.Sprintf("mountport=%d", port), "vers=3", "tcp"}
	switch goos {
	case "darwin":
		opts = append(opts, "locallocks", "noresvport", "rdonly")
	case "linux":
		opts = append(opts, "local_lock=all", "nolock", "ro")
	default:
		return nil, fmt.Errorf("nfs mount: unsupported OS %s", goos)
	}
	return []string{"mount", "-t", "nfs", "-o", strings.Join(opts, ","), "localhost:/", mountpoint}, nil
}

// unmountCommands lists the commands tried in order. On macOS diskutil
// needs no sudo for user NFS mounts.
func unmountCommands(goos, mountpoint string) [][]string {
	if goos == "darwin" {
		return [][]string{{"diskutil", "unmount", mountpoint}, {"sudo", "umount", mountpoint}}
	}
	return [][]string{{"sudo", "umount", mountpoint}}
}

func unmount(goos, mountpoint string) error {
	var last error
	for _, c := range unmountCommands(goos, mountpoint) {
		out, err := exec.Command(c[0], c[1:]...).CombinedOutput()
		if err == nil {
			return nil
		}
		last = fmt.Errorf("unmount %s with %s: %w\n%s", mountpoint, c[0], err, out)
	}
	return last
}
