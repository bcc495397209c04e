package sim

import (
	"errors"
	"fmt"
	"slices"

	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/hal"
)

// Step names a point of the interrupt setup sequence where a fault can be
// injected.
type Step string

const (
	StepAvailable    Step = "available"
	StepAlloc        Step = "alloc"
	StepPriority     Step = "priority"
	StepAddHandler   Step = "add_handler"
	StepCapabilities Step = "capabilities"
	StepEnable       Step = "enable"
)

var _ hal.InterruptController = (*Controller)(nil)

// Controller is a simulated interrupt controller. It shares the lock of
// its adapter.
type Controller struct {
	a          *Adapter
	supported  csr.IntrType
	failQuery  bool
	avail      map[csr.IntrType]int
	caps       map[csr.IntrType]csr.IntrCap
	fail       map[csr.IntrType]Step
	pri        uint
	live       []*Interrupt
	allocCalls int
}

func newController(a *Adapter, p InterruptProfile, failQuery bool) *Controller {
	c := &Controller{
		a:         a,
		failQuery: failQuery,
		avail:     make(map[csr.IntrType]int),
		caps:      make(map[csr.IntrType]csr.IntrCap),
		fail:      make(map[csr.IntrType]Step),
		pri:       p.Priority,
	}
	for _, name := range p.Types {
		typ, err := ParseIntrType(name)
		if err != nil {
			continue
		}
		c.supported |= typ
		c.avail[typ] = 1
	}
	for name, n := range p.Available {
		if typ, err := ParseIntrType(name); err == nil {
			c.avail[typ] = n
		}
	}
	for _, name := range p.Block {
		if typ, err := ParseIntrType(name); err == nil {
			c.caps[typ] |= csr.CapBlock
		}
	}
	for name, step := range p.Fail {
		if typ, err := ParseIntrType(name); err == nil {
			c.fail[typ] = step
		}
	}
	return c
}

// ParseIntrType parses "fixed", "msi" or "msix".
func ParseIntrType(s string) (csr.IntrType, error) {
	for _, typ := range csr.IntrPreference {
		if typ.String() == s {
			return typ, nil
		}
	}
	return csr.IntrNone, fmt.Errorf("unknown interrupt type %q", s)
}

func (c *Controller) failing(typ csr.IntrType, step Step) error {
	if c.fail[typ] == step {
		return fmt.Errorf("%s %s: %w", typ, step, errInjected)
	}
	return nil
}

// SupportedTypes implements hal.InterruptController.
func (c *Controller) SupportedTypes() (csr.IntrType, error) {
	if c.failQuery {
		return csr.IntrNone, errInjected
	}
	return c.supported, nil
}

// Available implements hal.InterruptController.
func (c *Controller) Available(typ csr.IntrType) (int, error) {
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	if err := c.failing(typ, StepAvailable); err != nil {
		return 0, err
	}
	if c.supported&typ == 0 {
		return 0, fmt.Errorf("%s not supported", typ)
	}
	n := c.avail[typ]
	for _, intr := range c.live {
		if intr.typ == typ {
			n--
		}
	}
	return n, nil
}

// Alloc implements hal.InterruptController. Allocation is strict.
func (c *Controller) Alloc(typ csr.IntrType, count int) ([]hal.Interrupt, error) {
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	c.allocCalls++
	if err := c.failing(typ, StepAlloc); err != nil {
		return nil, err
	}
	if c.supported&typ == 0 {
		return nil, fmt.Errorf("%s not supported", typ)
	}
	inUse := 0
	for _, intr := range c.live {
		if intr.typ == typ {
			inUse++
		}
	}
	if count <= 0 || inUse+count > c.avail[typ] {
		return nil, fmt.Errorf("cannot allocate %d %s interrupts", count, typ)
	}
	intrs := make([]hal.Interrupt, count)
	for i := range intrs {
		intr := &Interrupt{c: c, typ: typ, vec: inUse + i}
		c.live = append(c.live, intr)
		intrs[i] = intr
		c.a.logEvent("intr:alloc:" + typ.String())
	}
	return intrs, nil
}

// AllocCalls returns how many times Alloc was called.
func (c *Controller) AllocCalls() int {
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	return c.allocCalls
}

// BlockEnable implements hal.InterruptController.
func (c *Controller) BlockEnable(intrs []hal.Interrupt) error {
	return c.block(intrs, true)
}

// BlockDisable implements hal.InterruptController.
func (c *Controller) BlockDisable(intrs []hal.Interrupt) error {
	return c.block(intrs, false)
}

func (c *Controller) block(intrs []hal.Interrupt, enable bool) error {
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	sims := make([]*Interrupt, len(intrs))
	for i, hi := range intrs {
		intr, ok := hi.(*Interrupt)
		if !ok || intr.freed {
			return errors.New("invalid interrupt in block")
		}
		if intr.caps()&csr.CapBlock == 0 {
			return errors.New("block operation on interrupt without block capability")
		}
		if enable {
			if err := c.failing(intr.typ, StepEnable); err != nil {
				return err
			}
			if intr.handler == nil {
				return errors.New("enable without handler")
			}
		}
		sims[i] = intr
	}
	for _, intr := range sims {
		intr.enabled = enable
	}
	if enable {
		c.a.logEvent("intr:block-enable")
	} else {
		c.a.logEvent("intr:block-disable")
	}
	return nil
}

// Fire delivers an interrupt to every enabled handler and returns their
// claims.
func (c *Controller) Fire() []hal.Claim {
	c.a.mu.Lock()
	var handlers []hal.Handler
	for _, intr := range c.live {
		if intr.enabled && intr.handler != nil {
			handlers = append(handlers, intr.handler)
		}
	}
	c.a.mu.Unlock()
	claims := make([]hal.Claim, len(handlers))
	for i, h := range handlers {
		claims[i] = h()
	}
	return claims
}

// Handlers returns the handlers currently installed, enabled or not.
func (c *Controller) Handlers() []hal.Handler {
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	var handlers []hal.Handler
	for _, intr := range c.live {
		if intr.handler != nil {
			handlers = append(handlers, intr.handler)
		}
	}
	return handlers
}

// Interrupt is a simulated interrupt resource.
type Interrupt struct {
	c       *Controller
	typ     csr.IntrType
	vec     int
	handler hal.Handler
	enabled bool
	freed   bool
}

var _ hal.Interrupt = (*Interrupt)(nil)

func (i *Interrupt) caps() csr.IntrCap { return i.c.caps[i.typ] }

func (i *Interrupt) Priority() (uint, error) {
	i.c.a.mu.Lock()
	defer i.c.a.mu.Unlock()
	if err := i.c.failing(i.typ, StepPriority); err != nil {
		return 0, err
	}
	return i.c.pri, nil
}

func (i *Interrupt) AddHandler(h hal.Handler) error {
	i.c.a.mu.Lock()
	defer i.c.a.mu.Unlock()
	if err := i.c.failing(i.typ, StepAddHandler); err != nil {
		return err
	}
	if i.freed {
		return errors.New("add handler on freed interrupt")
	} else if i.handler != nil {
		return errors.New("handler already installed")
	}
	i.handler = h
	i.c.a.logEvent("intr:add-handler:" + i.typ.String())
	return nil
}

func (i *Interrupt) RemoveHandler() error {
	i.c.a.mu.Lock()
	defer i.c.a.mu.Unlock()
	if i.handler == nil {
		return errors.New("no handler installed")
	} else if i.enabled {
		return errors.New("remove handler of enabled interrupt")
	}
	i.handler = nil
	i.c.a.logEvent("intr:remove-handler:" + i.typ.String())
	return nil
}

func (i *Interrupt) Capabilities() (csr.IntrCap, error) {
	i.c.a.mu.Lock()
	defer i.c.a.mu.Unlock()
	if err := i.c.failing(i.typ, StepCapabilities); err != nil {
		return 0, err
	}
	return i.caps(), nil
}

func (i *Interrupt) Enable() error {
	i.c.a.mu.Lock()
	defer i.c.a.mu.Unlock()
	if err := i.c.failing(i.typ, StepEnable); err != nil {
		return err
	}
	if i.handler == nil {
		return errors.New("enable without handler")
	}
	i.enabled = true
	i.c.a.logEvent("intr:enable:" + i.typ.String())
	return nil
}

func (i *Interrupt) Disable() error {
	i.c.a.mu.Lock()
	defer i.c.a.mu.Unlock()
	if !i.enabled {
		return errors.New("interrupt not enabled")
	}
	i.enabled = false
	i.c.a.logEvent("intr:disable:" + i.typ.String())
	return nil
}

// Free releases the interrupt. Freeing twice panics.
func (i *Interrupt) Free() error {
	i.c.a.mu.Lock()
	defer i.c.a.mu.Unlock()
	if i.freed {
		panic("double free")
	}
	if i.handler != nil {
		return errors.New("free with handler installed")
	}
	i.freed = true
	i.c.live = slices.DeleteFunc(i.c.live, func(other *Interrupt) bool { return other == i })
	i.c.a.logEvent("intr:free:" + i.typ.String())
	return nil
}
