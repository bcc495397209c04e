// package hal declares the primitives a host environment provides to the iwm
// driver: PCI configuration access, register window mapping, interrupt
// negotiation and a blocking delay.
package hal

import (
	"io"
	"time"

	"github.com/soypat/iwm/csr"
)

// Bus is the set of primitives the host environment provides for a single
// PCI function. internal/sim provides a simulated adapter and internal/uio
// Linux userspace access.
type Bus interface {
	// OpenConfig opens the function's configuration space.
	OpenConfig() (ConfigSpace, error)
	// MapRegisters maps the register window of the given BAR.
	MapRegisters(bar int) (RegisterWindow, error)
	// Interrupts returns the function's interrupt controller.
	Interrupts() InterruptController
	// Delay blocks the caller for at least d.
	Delay(d time.Duration)
}

// ConfigSpace models PCI configuration space access for an open function.
type ConfigSpace interface {
	ReadConfig(offset uint16, size uint8) (uint32, error)
	WriteConfig(offset uint16, size uint8, value uint32) error
	Close() error
}

// RegisterWindow is a mapped register window. Offsets are relative to the
// start of the BAR. Byte order of the window is the device's.
type RegisterWindow interface {
	io.ReaderAt
	io.WriterAt
	Unmap() error
}

// InterruptController negotiates interrupt resources for a PCI function.
type InterruptController interface {
	// SupportedTypes returns the bitfield of supported delivery types.
	SupportedTypes() (csr.IntrType, error)
	// Available returns how many interrupts of typ can be allocated.
	Available(typ csr.IntrType) (int, error)
	// Alloc allocates exactly count interrupts of typ or fails.
	Alloc(typ csr.IntrType, count int) ([]Interrupt, error)
	BlockEnable(intrs []Interrupt) error
	BlockDisable(intrs []Interrupt) error
}

// Interrupt is a single allocated interrupt resource.
type Interrupt interface {
	Priority() (uint, error)
	AddHandler(h Handler) error
	RemoveHandler() error
	Capabilities() (csr.IntrCap, error)
	Enable() error
	Disable() error
	Free() error
}

// Handler services an interrupt. It runs concurrently with all other code
// touching the device and must not block.
type Handler func() Claim

// Claim is the result of servicing an interrupt.
type Claim uint8

const (
	Unclaimed Claim = iota
	Claimed
)

func (c Claim) String() string {
	if c == Claimed {
		return "claimed"
	}
	return "unclaimed"
}
