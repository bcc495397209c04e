package iwm

import (
	"errors"
	"slices"
	"testing"

	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/internal/sim"
)

func TestAttachDetach(t *testing.T) {
	a := sim.New(sim.DefaultProfile())
	reg := &recordingRegistrar{}
	d, err := Attach(a, Config{Logger: testLogger(t), Registrar: reg, Private: "priv"})
	if err != nil {
		t.Fatal(err)
	}
	rev, ok := d.HWRevision()
	if !ok || rev != 0x10 {
		t.Errorf("hw rev %#x ok=%v", rev, ok)
	}
	if d.InterruptType() != csr.IntrMSIX {
		t.Errorf("interrupt type %s", d.InterruptType())
	}
	if a.ConfigByte(csr.PCI_CFG_RETRY_TIMEOUT) != 0 {
		t.Error("retry timeout not cleared")
	}
	if d.LinkState() != LinkDown || !slices.Equal(reg.links, []LinkState{LinkDown}) {
		t.Errorf("link %s updates %v", d.LinkState(), reg.links)
	}
	if len(reg.registered) != 1 {
		t.Errorf("registered %v", reg.registered)
	}
	if d.Private() != "priv" {
		t.Errorf("private %v", d.Private())
	}
	v, err := d.ReadRegister(csr.HW_REV)
	if err != nil || v != 0x210 {
		t.Errorf("ReadRegister %#x %v", v, err)
	}
	acquired := len(a.Events())

	err = d.Detach()
	if err != nil {
		t.Fatal(err)
	}
	if live := a.Live(); !live.Zero() {
		t.Errorf("leaked %+v", live)
	}
	released := a.Events()[acquired:]
	want := []string{
		"intr:disable:msix",
		"intr:remove-handler:msix",
		"intr:free:msix",
		"regs:unmap",
		"config:close",
	}
	if !slices.Equal(released, want) {
		t.Errorf("release order\ngot  %v\nwant %v", released, want)
	}
	if len(reg.unregistered) != 1 {
		t.Errorf("unregistered %v", reg.unregistered)
	}
	if err := d.Detach(); !errors.Is(err, ErrDetached) {
		t.Errorf("second detach: %v", err)
	}
	if _, err := d.ReadRegister(csr.HW_REV); !errors.Is(err, ErrDetached) {
		t.Errorf("ReadRegister after detach: %v", err)
	}
}

func TestAttachAcquisitionOrder(t *testing.T) {
	a := sim.New(sim.DefaultProfile())
	d, err := Attach(a, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Detach()
	want := []string{
		"config:open",
		"config:write:0x41",
		"regs:map",
		"intr:alloc:msix",
		"intr:add-handler:msix",
		"intr:enable:msix",
	}
	if got := a.Events(); !slices.Equal(got, want) {
		t.Errorf("acquisition order\ngot  %v\nwant %v", got, want)
	}
}

func TestAttachRetryTimeoutAlreadyClear(t *testing.T) {
	prof := sim.DefaultProfile()
	prof.RetryTimeout = 0
	a := sim.New(prof)
	d, err := Attach(a, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Detach()
	if slices.Contains(a.Events(), "config:write:0x41") {
		t.Error("retry timeout rewritten while already zero")
	}
}

func TestAttachFailureUnwinds(t *testing.T) {
	for _, test := range []struct {
		name    string
		prof    func(*sim.Profile)
		regfail bool
		want    error
	}{
		{name: "config open", prof: func(p *sim.Profile) { p.Faults.ConfigOpen = true }, want: ErrConfigOpen},
		{name: "config read", prof: func(p *sim.Profile) { p.Faults.ConfigRead = true }, want: ErrConfigOpen},
		{name: "map", prof: func(p *sim.Profile) { p.Faults.MapRegisters = true }, want: ErrRegisterMap},
		{name: "query types", prof: func(p *sim.Profile) { p.Faults.QueryTypes = true }, want: ErrInterruptSetup},
		{name: "no interrupts", prof: func(p *sim.Profile) { p.Interrupts.Types = nil }, want: ErrInterruptSetup},
		{name: "handshake", prof: func(p *sim.Profile) { p.NeverReady = true }, want: ErrHandshakeTimeout},
		{name: "registration", prof: func(p *sim.Profile) {}, regfail: true, want: ErrRegistration},
	} {
		prof := sim.DefaultProfile()
		test.prof(&prof)
		a := sim.New(prof)
		reg := &recordingRegistrar{}
		if test.regfail {
			reg.fail = errors.New("mac_register failed")
		}
		d, err := Attach(a, Config{Registrar: reg})
		if !errors.Is(err, test.want) {
			t.Errorf("%s: got %v, want %v", test.name, err, test.want)
		}
		if d != nil {
			t.Errorf("%s: device returned on failure", test.name)
		}
		if live := a.Live(); !live.Zero() {
			t.Errorf("%s: leaked %+v", test.name, live)
		}
		if len(reg.links) != 0 {
			t.Errorf("%s: link updated on failed attach", test.name)
		}
	}
}

func TestAttachHandshakeFailureOrder(t *testing.T) {
	prof := sim.DefaultProfile()
	prof.NeverReady = true
	prof.Interrupts = sim.InterruptProfile{Types: []string{"fixed"}}
	a := sim.New(prof)
	_, err := Attach(a, Config{})
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatal(err)
	}
	want := []string{
		"config:open",
		"config:write:0x41",
		"regs:map",
		"intr:alloc:fixed",
		"intr:add-handler:fixed",
		"intr:enable:fixed",
		"intr:disable:fixed",
		"intr:remove-handler:fixed",
		"intr:free:fixed",
		"regs:unmap",
		"config:close",
	}
	if got := a.Events(); !slices.Equal(got, want) {
		t.Errorf("events\ngot  %v\nwant %v", got, want)
	}
}

func TestReleaseStack(t *testing.T) {
	d := newDevice(sim.New(sim.DefaultProfile()), Config{})
	var order []int
	fail := errors.New("fail")
	for i := 0; i < 4; i++ {
		i := i
		d.held.push("res", func() error {
			order = append(order, i)
			if i == 2 {
				return fail
			}
			return nil
		})
	}
	err := d.unwind()
	if !errors.Is(err, fail) {
		t.Errorf("got %v", err)
	}
	if !slices.Equal(order, []int{3, 2, 1, 0}) {
		t.Errorf("order %v", order)
	}
	if d.held.len() != 0 {
		t.Error("stack not emptied")
	}
	if err := d.unwind(); err != nil {
		t.Error(err)
	}
}
