package iwm

import (
	"errors"
	"testing"
	"time"

	"github.com/soypat/iwm/csr"
	"github.com/soypat/iwm/internal/sim"
)

const us = time.Microsecond

func TestPollBitTiming(t *testing.T) {
	for _, test := range []struct {
		readyAfter time.Duration
		timeout    time.Duration
		want       bool
		elapsed    time.Duration
	}{
		{readyAfter: 0, timeout: 50 * us, want: true, elapsed: 0},
		{readyAfter: 45 * us, timeout: 50 * us, want: true, elapsed: 50 * us},
		{readyAfter: 50 * us, timeout: 50 * us, want: true, elapsed: 50 * us},
		{readyAfter: 60 * us, timeout: 50 * us, want: false, elapsed: 50 * us},
		{readyAfter: 20 * us, timeout: 25 * us, want: true, elapsed: 20 * us},
		{readyAfter: 30 * us, timeout: 25 * us, want: false, elapsed: 20 * us},
		{readyAfter: 10 * us, timeout: 5 * us, want: false, elapsed: 0},
		{readyAfter: 10 * us, timeout: 0, want: false, elapsed: 0},
	} {
		prof := sim.DefaultProfile()
		prof.ReadyAfter = test.readyAfter
		d, a := newMappedDevice(t, prof)
		d.setBits(csr.HW_IF_CONFIG_REG, csr.HW_IF_CONFIG_REG_BIT_NIC_READY)
		got := d.poll_bit(csr.HW_IF_CONFIG_REG, csr.HW_IF_CONFIG_REG_BIT_NIC_READY, csr.HW_IF_CONFIG_REG_BIT_NIC_READY, test.timeout)
		if got != test.want {
			t.Errorf("ready=%s timeout=%s: got %v, want %v", test.readyAfter, test.timeout, got, test.want)
		}
		if a.Now() != test.elapsed {
			t.Errorf("ready=%s timeout=%s: elapsed %s, want %s", test.readyAfter, test.timeout, a.Now(), test.elapsed)
		}
		if a.Now() > test.timeout.Truncate(pollStep) {
			t.Errorf("elapsed %s exceeds timeout %s", a.Now(), test.timeout)
		}
	}
}

func TestPollBitMask(t *testing.T) {
	const value = 0x00f0_0f0f
	for _, test := range []struct {
		bits, mask uint32
	}{
		{bits: 0x0f, mask: 0x0f},
		{bits: 0x00, mask: 0xf0},
		{bits: 0xff, mask: 0x0f},
		{bits: 0x0f00, mask: 0xff00},
		{bits: 0, mask: 0},
		{bits: 0x0f, mask: 0xff},
		{bits: 0xf0, mask: 0xf0},
		{bits: 0x00f0_0000, mask: 0x00ff_0000},
		{bits: 0x00f0_0000, mask: 0xffff_ffff},
	} {
		d, a := newMappedDevice(t, sim.DefaultProfile())
		a.SetRegister(csr.GP_CNTRL, value)
		want := value&test.mask == test.bits&test.mask
		got := d.poll_bit(csr.GP_CNTRL, test.bits, test.mask, 35*us)
		if got != want {
			t.Errorf("bits=%#x mask=%#x: got %v, want %v", test.bits, test.mask, got, want)
		}
		wantElapsed := time.Duration(0)
		if !want {
			wantElapsed = 30 * us
		}
		if a.Now() != wantElapsed {
			t.Errorf("bits=%#x mask=%#x: elapsed %s, want %s", test.bits, test.mask, a.Now(), wantElapsed)
		}
	}
}

func TestSetHWReady(t *testing.T) {
	for _, test := range []struct {
		name  string
		prof  func(*sim.Profile)
		ready bool
	}{
		{name: "immediate", prof: func(p *sim.Profile) {}, ready: true},
		{name: "at deadline", prof: func(p *sim.Profile) { p.ReadyAfter = 50 * us }, ready: true},
		{name: "late", prof: func(p *sim.Profile) { p.ReadyAfter = 51 * us }, ready: false},
		{name: "never", prof: func(p *sim.Profile) { p.NeverReady = true }, ready: false},
	} {
		prof := sim.DefaultProfile()
		test.prof(&prof)
		d, a := newMappedDevice(t, prof)
		got := d.set_hw_ready()
		if got != test.ready {
			t.Errorf("%s: got %v", test.name, got)
		}
		alive := csr.Has(a.Register(csr.MBOX_SET_REG), csr.MBOX_SET_REG_OS_ALIVE)
		if alive != test.ready {
			t.Errorf("%s: os alive %v with ready %v", test.name, alive, got)
		}
		if !csr.Has(a.Register(csr.HW_IF_CONFIG_REG), csr.HW_IF_CONFIG_REG_BIT_NIC_READY) {
			t.Errorf("%s: nic ready not requested", test.name)
		}
		if a.Now() > hwReadyTimeout {
			t.Errorf("%s: took %s", test.name, a.Now())
		}
	}
}

func TestPrepareCardHWFastPath(t *testing.T) {
	prof := sim.DefaultProfile()
	prof.ReadyAfter = 30 * us
	d, a := newMappedDevice(t, prof)
	err := d.prepare_card_hw()
	if err != nil {
		t.Fatal(err)
	}
	if a.Now() != 30*us {
		t.Errorf("took %s", a.Now())
	}
	if csr.Has(a.Register(csr.HW_IF_CONFIG_REG), csr.HW_IF_CONFIG_REG_BIT_NIC_PREPARE) {
		t.Error("prepare requested on fast path")
	}
}

func TestPrepareCardHWSlowPath(t *testing.T) {
	for _, test := range []struct {
		name       string
		readyAfter time.Duration
		prepare    bool
	}{
		{name: "after first window", readyAfter: 60 * us},
		{name: "needs prepare", readyAfter: time.Millisecond, prepare: true},
		{name: "needs prepare late", readyAfter: 149 * time.Millisecond, prepare: true},
	} {
		prof := sim.DefaultProfile()
		prof.ReadyAfter = test.readyAfter
		prof.NeedsPrepare = test.prepare
		d, a := newMappedDevice(t, prof)
		err := d.prepare_card_hw()
		if err != nil {
			t.Errorf("%s: %v", test.name, err)
			continue
		}
		if !csr.Has(a.Register(csr.HW_IF_CONFIG_REG), csr.HW_IF_CONFIG_REG_BIT_NIC_PREPARE) {
			t.Errorf("%s: prepare not requested", test.name)
		}
		if !csr.Has(a.Register(csr.MBOX_SET_REG), csr.MBOX_SET_REG_OS_ALIVE) {
			t.Errorf("%s: os alive not set", test.name)
		}
		if a.Delayed(prepareInitialDelay) != prepareInitialDelay {
			t.Errorf("%s: initial delay %s", test.name, a.Delayed(prepareInitialDelay))
		}
		if a.Delayed(prepareStep) >= prepareTimeout {
			t.Errorf("%s: slow path exhausted budget", test.name)
		}
	}
}

func TestPrepareCardHWTimeout(t *testing.T) {
	for _, test := range []struct {
		name string
		prof func(*sim.Profile)
	}{
		{name: "never", prof: func(p *sim.Profile) { p.NeverReady = true }},
		{name: "too late", prof: func(p *sim.Profile) {
			p.NeedsPrepare = true
			p.ReadyAfter = 200 * time.Millisecond
		}},
	} {
		prof := sim.DefaultProfile()
		test.prof(&prof)
		d, a := newMappedDevice(t, prof)
		err := d.prepare_card_hw()
		if !errors.Is(err, ErrHandshakeTimeout) {
			t.Errorf("%s: got %v", test.name, err)
		}
		if got := a.Delayed(prepareStep); got != prepareTimeout {
			t.Errorf("%s: slow path delayed %s, want %s", test.name, got, prepareTimeout)
		}
		// Fast path window, initial delay, then 750 rounds of a full poll
		// window plus one step.
		const rounds = int64(prepareTimeout / prepareStep)
		want := hwReadyTimeout + prepareInitialDelay + time.Duration(rounds)*(hwReadyTimeout+prepareStep)
		if a.Now() != want {
			t.Errorf("%s: total %s, want %s", test.name, a.Now(), want)
		}
		if csr.Has(a.Register(csr.MBOX_SET_REG), csr.MBOX_SET_REG_OS_ALIVE) {
			t.Errorf("%s: os alive set on timeout", test.name)
		}
	}
}
