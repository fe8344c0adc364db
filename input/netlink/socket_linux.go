//go:build linux

package netlink

import (
	stderrors "errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kuhl33d/ODC-Embedded-Linux/errors"
)

// socketSource reads multicast frames from a raw netlink socket.
type socketSource struct {
	mu          sync.Mutex
	fd          int
	pollTimeout int // milliseconds
}

func openSocket(cfg Config) (Source, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, cfg.Protocol)
	if err != nil {
		return nil, fmt.Errorf("create netlink socket (protocol %d): %w", cfg.Protocol, err)
	}

	if cfg.ReceiveBuffer > 0 {
		// Not fatal: the kernel clamps to rmem_max.
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.ReceiveBuffer)
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1 << (cfg.Group - 1)}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind netlink socket to group %d: %w", cfg.Group, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, cfg.Group); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("join netlink group %d: %w", cfg.Group, err)
	}

	return &socketSource{fd: fd, pollTimeout: int(cfg.IdleBackoff.Milliseconds())}, nil
}

func (s *socketSource) Read(buf []byte) (int, error) {
	s.mu.Lock()
	fd := s.fd
	s.mu.Unlock()
	if fd < 0 {
		return 0, errors.ErrConnectionLost
	}

	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	count, err := unix.Poll(fds, s.pollTimeout)
	if err != nil {
		if err == unix.EINTR {
			return 0, errors.ErrWouldBlock
		}
		return 0, fmt.Errorf("poll netlink socket: %w", err)
	}
	if count == 0 {
		return 0, errors.ErrWouldBlock
	}

	n, _, err := unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return 0, errors.ErrWouldBlock
		}
		// ENOBUFS: the receive queue overflowed and frames were lost.
		return 0, fmt.Errorf("receive from netlink socket: %w", err)
	}
	return n, nil
}

func (s *socketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

// permanentOpenError reports errors that retrying cannot fix.
func permanentOpenError(err error) bool {
	return stderrors.Is(err, unix.EPERM) ||
		stderrors.Is(err, unix.EACCES) ||
		stderrors.Is(err, unix.EPROTONOSUPPORT) ||
		stderrors.Is(err, unix.EAFNOSUPPORT)
}
