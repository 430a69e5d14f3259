package index

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollEventsCap bounds how many ready events a single Poll call drains at
// once. 128 matches the buffer size the rest of the pack's epoll-based OOM
// watchers (e.g. containerd's v1 cgroups collector) use.
const epollEventsCap = 128

// poller wraps an epoll instance for read-readiness notifications on a set
// of file descriptors. It is not safe for concurrent use; the Index is its
// only caller, from the single main/index goroutine.
type poller struct {
	epfd int
}

// openPoller allocates a new epoll instance.
func openPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &poller{epfd: fd}, nil
}

// add registers fd for read-readiness.
func (p *poller) add(fd int) error {
	event := unix.EpollEvent{Fd: int32(fd), Events: unix.EPOLLIN}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl(ADD, %d): %w", fd, err)
	}
	return nil
}

// remove unregisters fd. Removing an fd that was already closed returns an
// error; the Index only calls this before closing fd itself.
func (p *poller) remove(fd int) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl(DEL, %d): %w", fd, err)
	}
	return nil
}

// wait blocks up to timeoutMillis (negative means forever) for readiness on
// any registered descriptor, returning the ready file descriptors. EINTR is
// swallowed and reported as a zero-length, nil-error result so callers don't
// need their own retry loop.
func (p *poller) wait(timeoutMillis int) ([]unix.EpollEvent, error) {
	var events [epollEventsCap]unix.EpollEvent

	n, err := unix.EpollWait(p.epfd, events[:], timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}
	return events[:n], nil
}

// close releases the epoll instance.
func (p *poller) close() error {
	return unix.Close(p.epfd)
}
