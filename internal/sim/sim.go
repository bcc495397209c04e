// package sim implements a simulated Intel 7265-class adapter behind the
// hal interfaces. Time is virtual: Delay advances the adapter's clock
// instead of sleeping, so bring-up timing can be asserted exactly.
package sim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/hal"
)

// WindowSize is the size of the simulated BAR0.
const WindowSize = 0x2000

const never = time.Duration(-1)

var (
	errInjected = errors.New("injected fault")
	errClosed   = errors.New("config space closed")
	errUnmapped = errors.New("register window unmapped")
)

var _ hal.Bus = (*Adapter)(nil)

// Adapter is a simulated PCI function. It is safe for concurrent use.
type Adapter struct {
	mu   sync.Mutex
	prof Profile
	now  time.Duration
	// delays accumulates total delayed time per requested delay size.
	delays map[time.Duration]time.Duration
	cfg    [256]byte
	regs   [WindowSize / 4]uint32
	// Resource state.
	cfgOpen bool
	mapped  bool
	// Times at which NIC_READY and NIC_PREPARE were first requested.
	readyReq  time.Duration
	prepareAt time.Duration
	ic        *Controller
	events    []string
}

// New returns an adapter behaving as described by prof.
func New(prof Profile) *Adapter {
	a := &Adapter{
		prof:      prof,
		delays:    make(map[time.Duration]time.Duration),
		readyReq:  never,
		prepareAt: never,
	}
	a.cfg[csr.PCI_CFG_RETRY_TIMEOUT] = prof.RetryTimeout
	a.ic = newController(a, prof.Interrupts, prof.Faults.QueryTypes)
	return a
}

// OpenConfig implements hal.Bus.
func (a *Adapter) OpenConfig() (hal.ConfigSpace, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.prof.Faults.ConfigOpen {
		return nil, errInjected
	}
	if a.cfgOpen {
		return nil, errors.New("config space already open")
	}
	a.cfgOpen = true
	a.logEvent("config:open")
	return &configSpace{a: a}, nil
}

// MapRegisters implements hal.Bus.
func (a *Adapter) MapRegisters(bar int) (hal.RegisterWindow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if bar != csr.RegisterBAR {
		return nil, fmt.Errorf("bar%d not implemented", bar)
	}
	if a.prof.Faults.MapRegisters {
		return nil, errInjected
	}
	if a.mapped {
		return nil, errors.New("bar already mapped")
	}
	a.mapped = true
	a.logEvent("regs:map")
	return &window{a: a}, nil
}

// Interrupts implements hal.Bus.
func (a *Adapter) Interrupts() hal.InterruptController { return a.ic }

// Controller returns the simulated interrupt controller.
func (a *Adapter) Controller() *Controller { return a.ic }

// Delay implements hal.Bus by advancing the virtual clock.
func (a *Adapter) Delay(d time.Duration) {
	a.mu.Lock()
	a.now += d
	a.delays[d] += d
	a.mu.Unlock()
}

// Now returns the virtual time elapsed since the adapter was created.
func (a *Adapter) Now() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.now
}

// Delayed returns the total time spent in Delay calls of exactly d.
func (a *Adapter) Delayed(d time.Duration) time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delays[d]
}

// Events returns the log of resource acquisitions and releases.
func (a *Adapter) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// Register returns the stored value of a register, bypassing read side
// effects.
func (a *Adapter) Register(offset uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.regs[offset/4]
}

// SetRegister stores v in a register as if the device had written it.
func (a *Adapter) SetRegister(offset, v uint32) {
	a.mu.Lock()
	a.regs[offset/4] = v
	a.mu.Unlock()
}

// ConfigByte returns a byte of configuration space.
func (a *Adapter) ConfigByte(offset uint8) uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg[offset]
}

// Resources counts resources currently held by the driver.
type Resources struct {
	ConfigOpen bool
	Mapped     bool
	Allocated  int
	Handlers   int
	Enabled    int
}

// Zero reports whether no resource is held.
func (r Resources) Zero() bool { return r == Resources{} }

// Live returns the resources currently held on the adapter.
func (a *Adapter) Live() Resources {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := Resources{ConfigOpen: a.cfgOpen, Mapped: a.mapped}
	for _, intr := range a.ic.live {
		r.Allocated++
		if intr.handler != nil {
			r.Handlers++
		}
		if intr.enabled {
			r.Enabled++
		}
	}
	return r
}

func (a *Adapter) logEvent(ev string) {
	a.events = append(a.events, ev)
}

// ready reports whether the device acknowledges NIC_READY at the current time.
// Called with mu held.
func (a *Adapter) ready() bool {
	switch {
	case a.prof.NeverReady || a.readyReq == never:
		return false
	case a.prof.NeedsPrepare:
		return a.prepareAt != never && a.now >= a.prepareAt+a.prof.ReadyAfter
	}
	return a.now >= a.readyReq+a.prof.ReadyAfter
}

func (a *Adapter) readReg(offset uint32) uint32 {
	v := a.regs[offset/4]
	switch offset {
	case csr.HW_IF_CONFIG_REG:
		v &^= csr.HW_IF_CONFIG_REG_BIT_NIC_READY
		if a.ready() {
			v |= csr.HW_IF_CONFIG_REG_BIT_NIC_READY
		}
	case csr.HW_REV:
		v = a.prof.HWRev
	}
	return v
}

func (a *Adapter) writeReg(offset, v uint32) {
	if offset == csr.HW_IF_CONFIG_REG {
		if csr.Has(v, csr.HW_IF_CONFIG_REG_BIT_NIC_READY) && a.readyReq == never {
			a.readyReq = a.now
		}
		if csr.Has(v, csr.HW_IF_CONFIG_REG_BIT_NIC_PREPARE) && a.prepareAt == never {
			a.prepareAt = a.now
		}
	}
	a.regs[offset/4] = v
}

type window struct {
	a *Adapter
}

func checkAccess(p []byte, off int64) error {
	if len(p) != 4 || off%4 != 0 {
		return fmt.Errorf("unaligned access len=%d off=%#x", len(p), off)
	}
	if off < 0 || off+4 > WindowSize {
		return fmt.Errorf("access out of window off=%#x", off)
	}
	return nil
}

func (w *window) ReadAt(p []byte, off int64) (int, error) {
	if err := checkAccess(p, off); err != nil {
		return 0, err
	}
	w.a.mu.Lock()
	defer w.a.mu.Unlock()
	if !w.a.mapped {
		return 0, errUnmapped
	}
	binary.LittleEndian.PutUint32(p, w.a.readReg(uint32(off)))
	return 4, nil
}

func (w *window) WriteAt(p []byte, off int64) (int, error) {
	if err := checkAccess(p, off); err != nil {
		return 0, err
	}
	w.a.mu.Lock()
	defer w.a.mu.Unlock()
	if !w.a.mapped {
		return 0, errUnmapped
	}
	w.a.writeReg(uint32(off), binary.LittleEndian.Uint32(p))
	return 4, nil
}

func (w *window) Unmap() error {
	w.a.mu.Lock()
	defer w.a.mu.Unlock()
	if !w.a.mapped {
		return errUnmapped
	}
	w.a.mapped = false
	w.a.logEvent("regs:unmap")
	return nil
}

type configSpace struct {
	a *Adapter
}

func cfgBounds(offset uint16, size uint8) error {
	switch size {
	case 1, 2, 4:
	default:
		return fmt.Errorf("bad config access size %d", size)
	}
	if int(offset)+int(size) > 256 {
		return fmt.Errorf("config offset %#x out of range", offset)
	}
	return nil
}

func (c *configSpace) ReadConfig(offset uint16, size uint8) (uint32, error) {
	if err := cfgBounds(offset, size); err != nil {
		return 0, err
	}
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	if !c.a.cfgOpen {
		return 0, errClosed
	}
	if c.a.prof.Faults.ConfigRead {
		return 0, errInjected
	}
	var buf [4]byte
	copy(buf[:size], c.a.cfg[offset:])
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (c *configSpace) WriteConfig(offset uint16, size uint8, value uint32) error {
	if err := cfgBounds(offset, size); err != nil {
		return err
	}
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	if !c.a.cfgOpen {
		return errClosed
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	copy(c.a.cfg[offset:int(offset)+int(size)], buf[:size])
	c.a.logEvent(fmt.Sprintf("config:write:%#x", offset))
	return nil
}

func (c *configSpace) Close() error {
	c.a.mu.Lock()
	defer c.a.mu.Unlock()
	if !c.a.cfgOpen {
		return errClosed
	}
	c.a.cfgOpen = false
	c.a.logEvent("config:close")
	return nil
}
