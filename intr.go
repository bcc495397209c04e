package iwm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/hal"
)

// InterruptSet is the set of interrupts installed for a device. It is
// either fully enabled or torn down.
type InterruptSet struct {
	ic    hal.InterruptController
	typ   csr.IntrType
	intrs []hal.Interrupt
	pri   uint
	caps  csr.IntrCap
	// Progress through the setup sequence, consulted by Teardown.
	handlers int
	enabled  bool
}

// Type returns the negotiated delivery type.
func (s *InterruptSet) Type() csr.IntrType {
	if s == nil {
		return csr.IntrNone
	}
	return s.typ
}

// Priority returns the priority of the installed interrupt.
func (s *InterruptSet) Priority() uint { return s.pri }

// Capabilities returns the capability flags of the installed interrupt.
func (s *InterruptSet) Capabilities() csr.IntrCap { return s.caps }

// Len returns the number of interrupt resources held by the set.
func (s *InterruptSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.intrs)
}

// setupInterrupts negotiates the richest supported interrupt type and
// installs h on it. Types whose setup fails midway are fully released
// before the next type is tried.
func (d *Device) setupInterrupts(ic hal.InterruptController, h hal.Handler) (*InterruptSet, error) {
	supported, err := ic.SupportedTypes()
	if err != nil {
		return nil, fmt.Errorf("%w: query types: %w", ErrInterruptSetup, err)
	}
	d.debug("setupInterrupts", slog.Uint64("supported", uint64(supported)))
	var errs []error
	for _, typ := range csr.IntrPreference {
		if supported&typ == 0 {
			continue
		}
		set, err := d.trySetupInterrupts(ic, typ, h)
		if err == nil {
			d.info("interrupts enabled",
				slog.String("type", typ.String()),
				slog.Uint64("pri", uint64(set.pri)),
				slog.Bool("block", set.caps&csr.CapBlock != 0),
			)
			return set, nil
		}
		d.warn("interrupt type failed", slog.String("type", typ.String()), slog.String("err", err.Error()))
		errs = append(errs, fmt.Errorf("%s: %w", typ, err))
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: no supported types", ErrInterruptSetup)
	}
	return nil, fmt.Errorf("%w: %w", ErrInterruptSetup, errors.Join(errs...))
}

func (d *Device) trySetupInterrupts(ic hal.InterruptController, typ csr.IntrType, h hal.Handler) (set *InterruptSet, err error) {
	const count = 1
	set = &InterruptSet{ic: ic, typ: typ}
	defer func() {
		if err != nil {
			set.Teardown()
			set = nil
		}
	}()
	avail, err := ic.Available(typ)
	if err != nil {
		return set, fmt.Errorf("query available: %w", err)
	} else if avail < count {
		return set, fmt.Errorf("%d available, need %d", avail, count)
	}

	intrs, err := ic.Alloc(typ, count)
	if err != nil {
		return set, fmt.Errorf("alloc: %w", err)
	}
	set.intrs = intrs
	if len(intrs) != count {
		return set, fmt.Errorf("alloc returned %d interrupts, need %d", len(intrs), count)
	}

	set.pri, err = intrs[0].Priority()
	if err != nil {
		return set, fmt.Errorf("get priority: %w", err)
	}

	for _, intr := range intrs {
		err = intr.AddHandler(h)
		if err != nil {
			return set, fmt.Errorf("add handler: %w", err)
		}
		set.handlers++
	}

	set.caps, err = intrs[0].Capabilities()
	if err != nil {
		return set, fmt.Errorf("get capabilities: %w", err)
	}

	if set.caps&csr.CapBlock != 0 {
		err = ic.BlockEnable(intrs)
	} else {
		err = intrs[0].Enable()
	}
	if err != nil {
		return set, fmt.Errorf("enable: %w", err)
	}
	set.enabled = true
	return set, nil
}

// Teardown disables, unhooks and frees the interrupts of the set.
// It is safe to call on a nil, partially set up or already torn down set.
func (s *InterruptSet) Teardown() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.enabled {
		var err error
		if s.caps&csr.CapBlock != 0 {
			err = s.ic.BlockDisable(s.intrs)
		} else {
			err = s.intrs[0].Disable()
		}
		errs = append(errs, err)
		s.enabled = false
	}
	for i := s.handlers - 1; i >= 0; i-- {
		errs = append(errs, s.intrs[i].RemoveHandler())
	}
	s.handlers = 0
	for _, intr := range s.intrs {
		if intr != nil {
			errs = append(errs, intr.Free())
		}
	}
	s.intrs = nil
	return errors.Join(errs...)
}

// interruptHandler returns the handler installed for d.
//
//	reference: iwm_intr
func interruptHandler(d *Device) hal.Handler {
	return func() hal.Claim {
		if d == nil {
			return hal.Unclaimed
		}
		d.lock()
		defer d.unlock()
		if d.regs == nil {
			return hal.Unclaimed
		}
		intr := d.read32(csr.INT)
		fh := d.read32(csr.FH_INT_STATUS)
		d.trace("intr", slog.String("int", hex32(intr)), slog.String("fh", hex32(fh)))
		return hal.Claimed
	}
}
