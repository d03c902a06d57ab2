// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package link

import (
	"errors"
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

type deviceLock struct {
	fd int
}

// lockDevice takes a non-blocking exclusive flock on the device node
func lockDevice(name string) (io.Closer, error) {
	fd, err := unix.Open(name, unix.O_RDONLY|unix.O_NOCTTY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpen, name, err)
	}

	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s is locked by another process", ErrBusy, name)
		}
		return nil, fmt.Errorf("%w: lock %s: %v", ErrOpen, name, err)
	}
	return &deviceLock{fd: fd}, nil
}

func (l *deviceLock) Close() error {
	unix.Flock(l.fd, unix.LOCK_UN)
	return unix.Close(l.fd)
}
