package iwm

import (
	"fmt"
	"log/slog"

	"github.com/soypat/iwm/csr"
)

func (d *Device) openConfig() error {
	cfg, err := d.bus.OpenConfig()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfigOpen, err)
	}
	if cfg == nil {
		return ErrConfigOpen
	}
	d.cfg = cfg
	return nil
}

func (d *Device) closeConfig() error {
	cfg := d.cfg
	d.cfg = nil
	if cfg == nil {
		return nil
	}
	return cfg.Close()
}

// clearRetryTimeout disables the PCI retry timeout, which otherwise
// interferes with C3 CPU state. The register is only written when set.
//
//	reference: iwl_pci_probe
func (d *Device) clearRetryTimeout() error {
	v, err := d.cfg.ReadConfig(csr.PCI_CFG_RETRY_TIMEOUT, 1)
	if err != nil {
		return fmt.Errorf("%w: read retry timeout: %w", ErrConfigOpen, err)
	}
	if v&0xff == 0 {
		return nil
	}
	d.debug("clearRetryTimeout", slog.Uint64("was", uint64(v&0xff)))
	err = d.cfg.WriteConfig(csr.PCI_CFG_RETRY_TIMEOUT, 1, 0)
	if err != nil {
		return fmt.Errorf("%w: clear retry timeout: %w", ErrConfigOpen, err)
	}
	return nil
}
