package iwm

import (
	"errors"
	"fmt"
	"log/slog"
)

// releaseStack records how to release each acquired resource. Releasing
// runs in reverse order of acquisition.
type releaseStack struct {
	entries []releaseEntry
}

type releaseEntry struct {
	name    string
	release func() error
}

func (s *releaseStack) push(name string, release func() error) {
	s.entries = append(s.entries, releaseEntry{name: name, release: release})
}

func (s *releaseStack) len() int { return len(s.entries) }

// unwind releases every held resource, last acquired first, and empties
// the stack. All release errors are returned joined.
func (d *Device) unwind() error {
	var errs []error
	for i := len(d.held.entries) - 1; i >= 0; i-- {
		e := d.held.entries[i]
		d.held.entries = d.held.entries[:i]
		d.debug("release", slog.String("res", e.name))
		if err := e.release(); err != nil {
			d.logerr("release", slog.String("res", e.name), slog.String("err", err.Error()))
			errs = append(errs, fmt.Errorf("release %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}
