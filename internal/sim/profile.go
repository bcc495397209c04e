package sim

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile describes how a simulated adapter behaves during bring-up.
type Profile struct {
	Name string `yaml:"name"`
	// HWRev is the value of the HW_REV register.
	HWRev uint32 `yaml:"hw_rev"`
	// RetryTimeout is the initial PCI retry timeout config byte.
	RetryTimeout uint8 `yaml:"retry_timeout"`
	// ReadyAfter is how long after the NIC ready request the device
	// acknowledges it. With NeedsPrepare it is counted from the prepare
	// request instead.
	ReadyAfter   time.Duration    `yaml:"ready_after"`
	NeedsPrepare bool             `yaml:"needs_prepare"`
	NeverReady   bool             `yaml:"never_ready"`
	Interrupts   InterruptProfile `yaml:"interrupts"`
	Faults       Faults           `yaml:"faults"`
}

// InterruptProfile describes the interrupt capabilities of the adapter.
// Interrupt types are named "fixed", "msi" and "msix".
type InterruptProfile struct {
	Types []string `yaml:"types"`
	// Available overrides the number of interrupts per type. Default 1.
	Available map[string]int `yaml:"available,omitempty"`
	// Block lists types that must be enabled as a block.
	Block []string `yaml:"block,omitempty"`
	// Fail injects a failure at a setup step of a type.
	Fail     map[string]Step `yaml:"fail,omitempty"`
	Priority uint            `yaml:"priority"`
}

// Faults injects failures outside the interrupt controller.
type Faults struct {
	ConfigOpen   bool `yaml:"config_open"`
	ConfigRead   bool `yaml:"config_read"`
	MapRegisters bool `yaml:"map_registers"`
	QueryTypes   bool `yaml:"query_types"`
}

// DefaultProfile returns an adapter that supports every interrupt type and
// acknowledges NIC ready immediately.
func DefaultProfile() Profile {
	return Profile{
		Name:         "7265",
		HWRev:        0x210,
		RetryTimeout: 0x80,
		Interrupts: InterruptProfile{
			Types:    []string{"msix", "msi", "fixed"},
			Priority: 5,
		},
	}
}

// ParseProfile decodes a YAML profile. Fields absent from data keep the
// values of DefaultProfile.
func ParseProfile(data []byte) (Profile, error) {
	prof := DefaultProfile()
	if err := yaml.Unmarshal(data, &prof); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	if err := prof.Validate(); err != nil {
		return Profile{}, err
	}
	return prof, nil
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return ParseProfile(data)
}

// Validate checks interrupt type and step names.
func (p *Profile) Validate() error {
	names := append([]string(nil), p.Interrupts.Types...)
	names = append(names, p.Interrupts.Block...)
	for name := range p.Interrupts.Available {
		names = append(names, name)
	}
	for name, step := range p.Interrupts.Fail {
		names = append(names, name)
		switch step {
		case StepAvailable, StepAlloc, StepPriority, StepAddHandler, StepCapabilities, StepEnable:
		default:
			return fmt.Errorf("unknown setup step %q", step)
		}
	}
	for _, name := range names {
		if _, err := ParseIntrType(name); err != nil {
			return err
		}
	}
	if p.ReadyAfter < 0 {
		return fmt.Errorf("negative ready_after %s", p.ReadyAfter)
	}
	return nil
}
