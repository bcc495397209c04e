package iwm

import (
	"log/slog"
	"time"

	"github.com/soypat/iwm/csr"
)

// HW ready protocol timing. Values come from the device's bring-up
// sequence and are not tunable.
const (
	pollStep            = 10 * time.Microsecond
	hwReadyTimeout      = 50 * time.Microsecond
	prepareInitialDelay = 100 * time.Microsecond
	prepareStep         = 200 * time.Microsecond
	prepareTimeout      = 150000 * time.Microsecond
)

// poll_bit reads reg until the bits selected by mask equal those of bits,
// sleeping pollStep between reads. It gives up once less than pollStep of
// timeout remains.
//
//	reference: iwm_poll_bit
func (d *Device) poll_bit(reg, bits, mask uint32, timeout time.Duration) bool {
	for {
		if csr.Match(d.read32(reg), bits, mask) {
			return true
		}
		if timeout < pollStep {
			return false
		}
		d.bus.Delay(pollStep)
		timeout -= pollStep
	}
}

// set_hw_ready requests NIC ready and on acknowledgement tells the device
// the OS is alive.
//
//	reference: iwm_set_hw_ready
func (d *Device) set_hw_ready() bool {
	d.setBits(csr.HW_IF_CONFIG_REG, csr.HW_IF_CONFIG_REG_BIT_NIC_READY)
	ready := d.poll_bit(csr.HW_IF_CONFIG_REG,
		csr.HW_IF_CONFIG_REG_BIT_NIC_READY,
		csr.HW_IF_CONFIG_REG_BIT_NIC_READY,
		hwReadyTimeout)
	if ready {
		d.setBits(csr.MBOX_SET_REG, csr.MBOX_SET_REG_OS_ALIVE)
	}
	d.trace("set_hw_ready", slog.Bool("ready", ready))
	return ready
}

// prepare_card_hw brings the card out of reset. If the card is not ready
// right away it is asked to wake up and polled for up to prepareTimeout.
//
//	reference: iwm_prepare_card_hw
func (d *Device) prepare_card_hw() error {
	if d.set_hw_ready() {
		d.debug("prepare_card_hw:ready")
		return nil
	}
	d.debug("prepare_card_hw:wake")
	d.bus.Delay(prepareInitialDelay)
	d.setBits(csr.HW_IF_CONFIG_REG, csr.HW_IF_CONFIG_REG_BIT_NIC_PREPARE)

	var elapsed time.Duration
	for {
		if d.set_hw_ready() {
			d.debug("prepare_card_hw:ready", slog.Duration("waited", elapsed))
			return nil
		}
		d.bus.Delay(prepareStep)
		elapsed += prepareStep
		if elapsed >= prepareTimeout {
			break
		}
	}
	d.logerr("prepare_card_hw:timeout", slog.Duration("waited", elapsed))
	return ErrHandshakeTimeout
}
