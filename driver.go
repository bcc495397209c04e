package iwm

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/soypat/iwm/hal"
)

var (
	ErrInstanceExists = errors.New("instance already attached")
	ErrNoInstance     = errors.New("no such instance")
)

// DriverName is the prefix of device minor node names.
const DriverName = "iwm"

// Driver tracks the devices attached by one driver lifecycle, keyed by
// instance number. Each device is owned exclusively by the Driver until
// detached.
type Driver struct {
	mu        sync.Mutex
	devs      map[int]*Device
	logger    *slog.Logger
	registrar Registrar
}

// NewDriver returns an empty driver. logger and registrar apply to every
// device attached through it and may be nil.
func NewDriver(logger *slog.Logger, registrar Registrar) *Driver {
	return &Driver{
		devs:      make(map[int]*Device),
		logger:    logger,
		registrar: registrar,
	}
}

// Attach attaches the adapter behind bus as the given instance. priv is
// associated with the device and returned by Device.Private.
func (drv *Driver) Attach(instance int, bus hal.Bus, priv any) (*Device, error) {
	if instance < 0 {
		return nil, fmt.Errorf("invalid instance %d", instance)
	}
	drv.mu.Lock()
	defer drv.mu.Unlock()
	if _, ok := drv.devs[instance]; ok {
		return nil, fmt.Errorf("%w: %d", ErrInstanceExists, instance)
	}
	d, err := Attach(bus, Config{
		Logger:    drv.logger,
		Registrar: drv.registrar,
		Private:   priv,
		instance:  instance,
		name:      DriverName + strconv.Itoa(instance),
	})
	if err != nil {
		return nil, fmt.Errorf("%s%d: %w", DriverName, instance, err)
	}
	drv.devs[instance] = d
	return d, nil
}

// Detach detaches and forgets the given instance.
func (drv *Driver) Detach(instance int) error {
	drv.mu.Lock()
	d, ok := drv.devs[instance]
	delete(drv.devs, instance)
	drv.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoInstance, instance)
	}
	return d.Detach()
}

// Device returns the device attached as instance.
func (drv *Driver) Device(instance int) (*Device, bool) {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	d, ok := drv.devs[instance]
	return d, ok
}

// Instances returns the attached instance numbers in ascending order.
func (drv *Driver) Instances() []int {
	drv.mu.Lock()
	defer drv.mu.Unlock()
	instances := make([]int, 0, len(drv.devs))
	for i := range drv.devs {
		instances = append(instances, i)
	}
	slices.Sort(instances)
	return instances
}

// Close detaches every device, highest instance first.
func (drv *Driver) Close() error {
	instances := drv.Instances()
	slices.Reverse(instances)
	var errs []error
	for _, i := range instances {
		errs = append(errs, drv.Detach(i))
	}
	return errors.Join(errs...)
}
