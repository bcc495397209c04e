// package csr holds the fixed register map of Intel 7265-class wireless
// adapters: control/status register offsets, bit masks and PCI config space
// fields used during bring-up.
package csr

import "golang.org/x/exp/constraints"

// Control and status registers, offsets into BAR0.
const (
	HW_IF_CONFIG_REG = 0x000
	INT              = 0x008
	INT_MASK         = 0x00c
	FH_INT_STATUS    = 0x010
	RESET            = 0x020
	GP_CNTRL         = 0x024
	HW_REV           = 0x028
	MBOX_SET_REG     = 0x088
)

// HW_IF_CONFIG_REG bits.
const (
	HW_IF_CONFIG_REG_BIT_NIC_READY   = 0x00400000 // NIC ready request/ack.
	HW_IF_CONFIG_REG_BIT_NIC_PREPARE = 0x08000000 // Wake me.
)

// MBOX_SET_REG bits.
const (
	MBOX_SET_REG_OS_ALIVE = 0x20
)

// PCI configuration space.
const (
	PCI_CFG_RETRY_TIMEOUT = 0x041 // Single byte.
)

// BAR holding the CSR window.
const RegisterBAR = 0

// Match reports whether v equals want on the bits selected by mask.
func Match[T constraints.Unsigned](v, want, mask T) bool {
	return v&mask == want&mask
}

// Has reports whether every bit of mask is set in v.
func Has[T constraints.Unsigned](v, mask T) bool {
	return v&mask == mask
}
