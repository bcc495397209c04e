package csr

// IntrType is a bitfield of interrupt delivery types.
type IntrType uint8

const (
	IntrFixed IntrType = 1 << iota // Legacy INTx line.
	IntrMSI
	IntrMSIX

	IntrNone IntrType = 0
)

// IntrPreference lists delivery types richest first.
var IntrPreference = [...]IntrType{IntrMSIX, IntrMSI, IntrFixed}

func (t IntrType) String() (s string) {
	switch t {
	case IntrNone:
		s = "none"
	case IntrFixed:
		s = "fixed"
	case IntrMSI:
		s = "msi"
	case IntrMSIX:
		s = "msix"
	default:
		s = "mixed"
	}
	return s
}

// IntrCap is a bitfield of interrupt capabilities.
type IntrCap uint8

const (
	// CapBlock means the interrupt set must be enabled and disabled as a block.
	CapBlock IntrCap = 1 << iota
	CapEdge
	CapLevel
)
