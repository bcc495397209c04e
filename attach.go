package iwm

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/hal"
)

// Attach brings up the adapter behind bus. On success the returned device
// holds the config space, mapped registers and an enabled interrupt set,
// has a hardware revision and has been handed to cfg.Registrar. On failure
// every resource acquired so far is released in reverse order.
//
//	reference: iwm_attach
func Attach(bus hal.Bus, cfg Config) (*Device, error) {
	if bus == nil {
		return nil, errors.New("nil bus")
	}
	d := newDevice(bus, cfg)
	err := d.attach()
	if err != nil {
		d.logerr("attach failed", slog.String("err", err.Error()))
		if uerr := d.unwind(); uerr != nil {
			err = errors.Join(err, uerr)
		}
		d.detached = true
		return nil, err
	}
	return d, nil
}

func (d *Device) attach() error {
	d.info("attach:start")
	start := time.Now()

	err := d.openConfig()
	if err != nil {
		return err
	}
	d.held.push("config", d.closeConfig)

	err = d.clearRetryTimeout()
	if err != nil {
		return err
	}

	err = d.mapRegisters()
	if err != nil {
		return err
	}
	d.held.push("registers", d.unmapRegisters)

	set, err := d.setupInterrupts(d.bus.Interrupts(), interruptHandler(d))
	if err != nil {
		return err
	}
	d.intr = set
	d.held.push("interrupts", d.teardownInterrupts)

	err = d.prepare_card_hw()
	if err != nil {
		return fmt.Errorf("hardware init: %w", err)
	}
	d.hwRev = uint8(d.read32(csr.HW_REV))
	d.hwRevValid = true
	d.debug("hw ready", slog.Uint64("hwrev", uint64(d.hwRev)))

	err = d.registrar.Register(d)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistration, err)
	}
	d.held.push("registration", d.unregister)

	d.setLink(LinkDown)
	d.info("attach:done", slog.Duration("took", time.Since(start)))
	return nil
}

// Detach releases every resource held by an attached device in reverse
// order of acquisition. Calling Detach more than once returns ErrDetached.
//
//	reference: iwm_detach
func (d *Device) Detach() error {
	if d.detached {
		return ErrDetached
	}
	d.info("detach")
	d.detached = true
	return d.unwind()
}

func (d *Device) teardownInterrupts() error {
	set := d.intr
	d.intr = nil
	return set.Teardown()
}

func (d *Device) unregister() error {
	d.link = LinkUnknown
	return d.registrar.Unregister(d)
}
