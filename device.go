package iwm

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/hal"
)

var (
	ErrConfigOpen       = errors.New("pci config space unavailable")
	ErrRegisterMap      = errors.New("register window mapping failed")
	ErrInterruptSetup   = errors.New("no interrupt type could be negotiated")
	ErrHandshakeTimeout = errors.New("hw ready handshake timeout")
	ErrRegistration     = errors.New("registration failed")
	ErrDetached         = errors.New("device detached")
)

// LinkState is the link state reported to the registration collaborator.
type LinkState uint8

const (
	LinkUnknown LinkState = iota
	LinkDown
	LinkUp
)

func (l LinkState) String() (s string) {
	switch l {
	case LinkDown:
		s = "down"
	case LinkUp:
		s = "up"
	default:
		s = "unknown"
	}
	return s
}

// Registrar is the networking-stack collaborator a ready device is handed
// to at the end of attach.
type Registrar interface {
	Register(d *Device) error
	Unregister(d *Device) error
	LinkUpdate(d *Device, state LinkState)
}

// NopRegistrar accepts every device and ignores link updates.
type NopRegistrar struct{}

func (NopRegistrar) Register(*Device) error         { return nil }
func (NopRegistrar) Unregister(*Device) error       { return nil }
func (NopRegistrar) LinkUpdate(*Device, LinkState) {}

type Config struct {
	Logger *slog.Logger
	// Registrar receives the device once the hardware is ready.
	// If nil NopRegistrar is used.
	Registrar Registrar
	// Private is an opaque value associated with the device, retrievable
	// with Device.Private.
	Private any

	instance int
	name     string
}

// Device is the handle of one attached adapter. It owns every hardware
// resource acquired during attach.
type Device struct {
	// mu serializes read-modify-write register access against the
	// interrupt handler.
	mu   sync.Mutex
	bus  hal.Bus
	cfg  hal.ConfigSpace
	regs hal.RegisterWindow
	intr *InterruptSet
	// held releases acquired resources in reverse order.
	held  releaseStack
	hwRev uint8
	// hwRevValid is set only after a successful handshake.
	hwRevValid bool
	link       LinkState
	registrar  Registrar
	private    any
	instance   int
	name       string
	detached   bool

	logger        *slog.Logger
	_traceenabled bool
}

func newDevice(bus hal.Bus, cfg Config) *Device {
	d := &Device{
		bus:       bus,
		registrar: cfg.Registrar,
		private:   cfg.Private,
		logger:    cfg.Logger,
		instance:  -1,
	}
	if d.registrar == nil {
		d.registrar = NopRegistrar{}
	}
	if cfg.name != "" {
		d.instance = cfg.instance
		d.name = cfg.name
	}
	d._traceenabled = d.logger != nil && d.logger.Handler().Enabled(context.Background(), levelTrace)
	return d
}

// HWRevision returns the hardware revision byte read after the HW ready
// handshake. ok is false if the handshake never succeeded.
func (d *Device) HWRevision() (rev uint8, ok bool) {
	return d.hwRev, d.hwRevValid
}

// InterruptType returns the negotiated interrupt delivery type.
func (d *Device) InterruptType() csr.IntrType {
	if d.intr == nil {
		return csr.IntrNone
	}
	return d.intr.Type()
}

// Interrupts returns the installed interrupt set, or nil.
func (d *Device) Interrupts() *InterruptSet { return d.intr }

// LinkState returns the last link state reported to the registrar.
func (d *Device) LinkState() LinkState { return d.link }

// Name returns the device's minor node name, e.g. "iwm0". It is empty for
// devices attached outside a Driver.
func (d *Device) Name() string { return d.name }

// Instance returns the device's instance number or -1.
func (d *Device) Instance() int { return d.instance }

// Private returns the value passed in Config.Private.
func (d *Device) Private() any { return d.private }

// ReadRegister reads a CSR. It is meant for the registration collaborator
// and diagnostics. Calling it on a detached device returns ErrDetached.
func (d *Device) ReadRegister(offset uint32) (uint32, error) {
	if d.regs == nil {
		return 0, ErrDetached
	}
	return d.read32(offset), nil
}

func (d *Device) setLink(state LinkState) {
	d.link = state
	d.registrar.LinkUpdate(d, state)
}

func (d *Device) lock()   { d.mu.Lock() }
func (d *Device) unlock() { d.mu.Unlock() }
