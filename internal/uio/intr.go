//go:build linux

package uio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/hal"
)

// pollTimeout bounds how long the interrupt goroutine waits before
// checking whether it was stopped, in milliseconds.
const pollTimeout = 100

var errNotSupported = errors.New("not supported by uio_pci_generic")

type controller struct {
	path string
}

func (c *controller) SupportedTypes() (csr.IntrType, error) {
	if _, err := os.Stat(c.path); err != nil {
		return csr.IntrNone, err
	}
	return csr.IntrFixed, nil
}

func (c *controller) Available(typ csr.IntrType) (int, error) {
	if typ != csr.IntrFixed {
		return 0, nil
	}
	return 1, nil
}

func (c *controller) Alloc(typ csr.IntrType, count int) ([]hal.Interrupt, error) {
	if typ != csr.IntrFixed || count != 1 {
		return nil, fmt.Errorf("alloc %d %s: %w", count, typ, errNotSupported)
	}
	f, err := os.OpenFile(c.path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return []hal.Interrupt{&intx{f: f}}, nil
}

func (c *controller) BlockEnable([]hal.Interrupt) error  { return errNotSupported }
func (c *controller) BlockDisable([]hal.Interrupt) error { return errNotSupported }

// intx is the legacy interrupt line exposed by /dev/uioN. Reading the
// device blocks until an interrupt arrives. Writing 1 or 0 unmasks or
// masks the line.
type intx struct {
	f       *os.File
	handler hal.Handler
	stop    atomic.Bool
	wg      sync.WaitGroup
}

func (i *intx) Priority() (uint, error) { return 0, nil }

func (i *intx) AddHandler(h hal.Handler) error {
	if i.handler != nil {
		return errors.New("handler already installed")
	}
	i.handler = h
	return nil
}

func (i *intx) RemoveHandler() error {
	if i.handler == nil {
		return errors.New("no handler installed")
	}
	i.handler = nil
	return nil
}

func (i *intx) Capabilities() (csr.IntrCap, error) { return csr.CapLevel, nil }

func (i *intx) Enable() error {
	if i.handler == nil {
		return errors.New("enable without handler")
	}
	if err := i.irqcontrol(1); err != nil {
		return err
	}
	i.stop.Store(false)
	i.wg.Add(1)
	go i.serve(i.handler)
	return nil
}

func (i *intx) Disable() error {
	i.stop.Store(true)
	i.wg.Wait()
	return i.irqcontrol(0)
}

func (i *intx) Free() error {
	return i.f.Close()
}

func (i *intx) irqcontrol(enable uint32) error {
	var buf [4]byte
	binary.NativeEndian.PutUint32(buf[:], enable)
	_, err := i.f.Write(buf[:])
	return err
}

func (i *intx) serve(h hal.Handler) {
	defer i.wg.Done()
	fd := int32(i.f.Fd())
	var buf [4]byte
	for !i.stop.Load() {
		fds := []unix.PollFd{{Fd: fd, Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeout)
		if err == unix.EINTR || n == 0 {
			continue
		} else if err != nil {
			return
		}
		// Consume the interrupt count.
		if _, err := unix.Read(int(fd), buf[:]); err != nil {
			return
		}
		h()
		// uio_pci_generic masks the line on delivery.
		if err := i.irqcontrol(1); err != nil {
			return
		}
	}
}
