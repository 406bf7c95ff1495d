//go:build linux || freebsd

package shm

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

type segment struct {
	fd   int
	mem  []byte
	path string
}

func openSegment(path string, create bool) (*segment, error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC | unix.O_NOFOLLOW
	if create {
		flags |= unix.O_CREAT
	}
	fd, err := unix.Open(path, flags, 0o666)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if create {
		if err := unix.Ftruncate(fd, Size); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("truncate %s: %w", path, err)
		}
	} else {
		var st unix.Stat_t
		if err := unix.Fstat(fd, &st); err != nil {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if st.Size < Size {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("shm: %s is %d bytes, want %d", path, st.Size, Size)
		}
	}
	mem, err := unix.Mmap(fd, 0, Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &segment{fd: fd, mem: mem, path: path}, nil
}

func (s *segment) close(unlink bool) error {
	var errs []error
	if s.mem != nil {
		if err := unix.Munmap(s.mem); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
		s.mem = nil
	}
	if s.fd >= 0 {
		if err := unix.Close(s.fd); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		s.fd = -1
	}
	if unlink {
		if err := unix.Unlink(s.path); err != nil && !errors.Is(err, unix.ENOENT) {
			errs = append(errs, fmt.Errorf("unlink: %w", err))
		}
	}
	return errors.Join(errs...)
}
