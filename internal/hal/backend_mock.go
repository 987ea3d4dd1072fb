package hal

import (
	"github.com/pkg/errors"
)

// MockBackend discovers a configured set of simulated devices. It stands in
// for a vendor backend in tests and in the daemon's simulation mode.
type MockBackend struct {
	configs []MockConfig
}

// NewMockBackend builds a backend that will discover one MockDriver per
// config entry.
func NewMockBackend(configs ...MockConfig) *MockBackend {
	return &MockBackend{configs: configs}
}

func (b *MockBackend) Name() string { return "mock" }

// Discover materializes the configured drivers in preference order.
func (b *MockBackend) Discover() ([]Driver, error) {
	if len(b.configs) == 0 {
		return nil, ErrInitFailure(b.Name(), "no simulated devices configured")
	}
	drivers := make([]Driver, 0, len(b.configs))
	for i, cfg := range b.configs {
		d := NewMockDriver(cfg)
		if err := d.Init(); err != nil {
			return nil, errors.Wrapf(err, "init simulated device %d", i)
		}
		drivers = append(drivers, d)
	}
	SortDrivers(drivers)
	return drivers, nil
}
