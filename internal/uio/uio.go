//go:build linux

// package uio gives the iwm driver access to a real adapter from Linux
// userspace. The PCI function must be bound to uio_pci_generic, which
// only forwards the legacy INTx line, so the fixed interrupt type is the
// only one offered.
package uio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/soypat/iwm/hal"
)

const sysfsPCI = "/sys/bus/pci/devices"

var _ hal.Bus = (*Device)(nil)

// Device is a PCI function bound to uio_pci_generic.
type Device struct {
	sysfs string
	uio   string
}

// Open locates the function at the PCI address addr, e.g. "0000:03:00.0",
// and its uio character device.
func Open(addr string) (*Device, error) {
	dir := filepath.Join(sysfsPCI, addr)
	entries, err := os.ReadDir(filepath.Join(dir, "uio"))
	if err != nil {
		return nil, fmt.Errorf("%s not bound to uio_pci_generic: %w", addr, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "uio") {
			return openAt(dir, filepath.Join("/dev", e.Name())), nil
		}
	}
	return nil, fmt.Errorf("%s: no uio device", addr)
}

func openAt(sysfs, uio string) *Device {
	return &Device{sysfs: sysfs, uio: uio}
}

// OpenConfig implements hal.Bus.
func (d *Device) OpenConfig() (hal.ConfigSpace, error) {
	f, err := os.OpenFile(filepath.Join(d.sysfs, "config"), os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &configSpace{f: f}, nil
}

// MapRegisters implements hal.Bus by mapping the sysfs resource file of bar.
func (d *Device) MapRegisters(bar int) (hal.RegisterWindow, error) {
	f, err := os.OpenFile(filepath.Join(d.sysfs, "resource"+strconv.Itoa(bar)), os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := int(fi.Size())
	if size <= 0 {
		return nil, fmt.Errorf("bar%d: empty resource", bar)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap bar%d: %w", bar, err)
	}
	return &window{mem: mem}, nil
}

// Interrupts implements hal.Bus.
func (d *Device) Interrupts() hal.InterruptController {
	return &controller{path: d.uio}
}

// Delay implements hal.Bus.
func (d *Device) Delay(dur time.Duration) { time.Sleep(dur) }

type configSpace struct {
	f *os.File
}

func (c *configSpace) ReadConfig(offset uint16, size uint8) (uint32, error) {
	if size != 1 && size != 2 && size != 4 {
		return 0, fmt.Errorf("bad config access size %d", size)
	}
	var buf [4]byte
	_, err := c.f.ReadAt(buf[:size], int64(offset))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (c *configSpace) WriteConfig(offset uint16, size uint8, value uint32) error {
	if size != 1 && size != 2 && size != 4 {
		return fmt.Errorf("bad config access size %d", size)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	_, err := c.f.WriteAt(buf[:size], int64(offset))
	return err
}

func (c *configSpace) Close() error { return c.f.Close() }

// window is an mmapped BAR. Every access is a single aligned 32-bit load
// or store so the device sees one bus transaction per register access.
type window struct {
	mem []byte
}

func (w *window) word(p []byte, off int64) (*uint32, error) {
	if w.mem == nil {
		return nil, errors.New("window unmapped")
	}
	if len(p) != 4 || off%4 != 0 || off < 0 || off+4 > int64(len(w.mem)) {
		return nil, fmt.Errorf("bad register access len=%d off=%#x", len(p), off)
	}
	return (*uint32)(unsafe.Pointer(&w.mem[off])), nil
}

func (w *window) ReadAt(p []byte, off int64) (int, error) {
	ptr, err := w.word(p, off)
	if err != nil {
		return 0, err
	}
	// Store in native order to hand back the bytes as laid out on the bus.
	binary.NativeEndian.PutUint32(p, atomic.LoadUint32(ptr))
	return 4, nil
}

func (w *window) WriteAt(p []byte, off int64) (int, error) {
	ptr, err := w.word(p, off)
	if err != nil {
		return 0, err
	}
	atomic.StoreUint32(ptr, binary.NativeEndian.Uint32(p))
	return 4, nil
}

func (w *window) Unmap() error {
	if w.mem == nil {
		return errors.New("window unmapped")
	}
	mem := w.mem
	w.mem = nil
	return unix.Munmap(mem)
}
