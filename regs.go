package iwm

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/soypat/iwm/csr"
)

// Registers are little endian on the device regardless of host order.
var _busOrder = binary.LittleEndian

// read32 reads the 32-bit register at offset. Reading before the window is
// mapped is a programming error.
func (d *Device) read32(offset uint32) uint32 {
	var buf [4]byte
	_, err := d.regs.ReadAt(buf[:], int64(offset))
	if err != nil {
		d.logerr("read32", slog.String("off", hex32(offset)), slog.String("err", err.Error()))
		return 0
	}
	v := _busOrder.Uint32(buf[:])
	d.trace("read32", slog.String("off", hex32(offset)), slog.String("val", hex32(v)))
	return v
}

func (d *Device) write32(offset, value uint32) {
	var buf [4]byte
	_busOrder.PutUint32(buf[:], value)
	d.trace("write32", slog.String("off", hex32(offset)), slog.String("val", hex32(value)))
	_, err := d.regs.WriteAt(buf[:], int64(offset))
	if err != nil {
		d.logerr("write32", slog.String("off", hex32(offset)), slog.String("err", err.Error()))
	}
}

// setBits ORs mask into the register at offset.
func (d *Device) setBits(offset, mask uint32) {
	d.lock()
	d.write32(offset, d.read32(offset)|mask)
	d.unlock()
}

// mapRegisters maps the CSR BAR and publishes the window. The window is
// only visible on the device once mapping fully succeeded.
func (d *Device) mapRegisters() error {
	w, err := d.bus.MapRegisters(csr.RegisterBAR)
	if err != nil {
		return fmt.Errorf("%w: bar%d: %w", ErrRegisterMap, csr.RegisterBAR, err)
	}
	if w == nil {
		return fmt.Errorf("%w: bar%d: nil window", ErrRegisterMap, csr.RegisterBAR)
	}
	d.lock()
	d.regs = w
	d.unlock()
	return nil
}

func (d *Device) unmapRegisters() error {
	d.lock()
	w := d.regs
	d.regs = nil
	d.unlock()
	if w == nil {
		return nil
	}
	return w.Unmap()
}
