//go:build linux

package ws

import (
	"errors"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var errEpollUnsupported = errors.New("ws: epoll not supported on this platform")

// Epoll reports read readiness for registered socket fds. It keeps no
// connection state of its own: the ConnectionManager resolves fds back to
// connections, so a connection removed between Wait and lookup is simply
// not found.
type Epoll struct {
	fd     int
	events []unix.EpollEvent
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Epoll{fd: fd, events: make([]unix.EpollEvent, 128)}, nil
}

// Add watches fd for input and hangup. A negative fd (a pipe or other
// connection with no socket behind it) yields errEpollUnsupported.
func (e *Epoll) Add(fd int) error {
	if fd < 0 {
		return errEpollUnsupported
	}
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	})
}

// Remove stops watching fd. Unknown and negative fds are ignored.
func (e *Epoll) Remove(fd int) error {
	if fd < 0 {
		return nil
	}
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		return nil
	}
	return err
}

// Wait returns the fds that became ready within timeout. An interrupted
// wait returns no fds and no error.
func (e *Epoll) Wait(timeout time.Duration) ([]int, error) {
	n, err := unix.EpollWait(e.fd, e.events, int(timeout/time.Millisecond))
	if errors.Is(err, unix.EINTR) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	fds := make([]int, n)
	for i := 0; i < n; i++ {
		fds[i] = int(e.events[i].Fd)
	}
	return fds, nil
}

// Close releases the epoll fd.
func (e *Epoll) Close() error {
	return unix.Close(e.fd)
}

// socketFD returns the descriptor behind conn without dup'ing it, or -1.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(sfd uintptr) { fd = int(sfd) }); err != nil {
		return -1
	}
	return fd
}
