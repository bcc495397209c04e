package iwm

import (
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/soypat/iwm/internal/sim"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// newMappedDevice returns a device with its register window mapped on a
// simulated adapter, skipping the rest of attach.
func newMappedDevice(t *testing.T, prof sim.Profile) (*Device, *sim.Adapter) {
	t.Helper()
	a := sim.New(prof)
	d := newDevice(a, Config{})
	if err := d.mapRegisters(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { d.unmapRegisters() })
	return d, a
}

type recordingRegistrar struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
	links        []LinkState
	fail         error
}

func (r *recordingRegistrar) Register(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.registered = append(r.registered, d.Name())
	return nil
}

func (r *recordingRegistrar) Unregister(d *Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, d.Name())
	return nil
}

func (r *recordingRegistrar) LinkUpdate(d *Device, state LinkState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, state)
}
