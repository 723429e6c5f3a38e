package coordinator

import (
	"sort"
	"sync"
)

// Fleet owns the per-device coordinators and is the lookup surface for
// the API layer.
type Fleet struct {
	mu           sync.RWMutex
	coordinators map[string]*Coordinator
}

// NewFleet creates an empty Fleet.
func NewFleet() *Fleet {
	return &Fleet{coordinators: make(map[string]*Coordinator)}
}

// Add registers a coordinator under its device serial.
func (f *Fleet) Add(c *Coordinator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coordinators[c.DeviceSN()] = c
}

// Get looks up the coordinator for a device.
//
// Returns:
//   - *Coordinator: The device's coordinator
//   - error: ErrUnknownDevice when the serial is not registered
func (f *Fleet) Get(deviceSN string) (*Coordinator, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, ok := f.coordinators[deviceSN]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return c, nil
}

// SerialNumbers returns the registered device serials, sorted.
func (f *Fleet) SerialNumbers() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	sns := make([]string, 0, len(f.coordinators))
	for sn := range f.coordinators {
		sns = append(sns, sn)
	}
	sort.Strings(sns)
	return sns
}

// Len returns the number of registered coordinators.
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.coordinators)
}

// StopAll stops every coordinator, in no particular order.
func (f *Fleet) StopAll() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.coordinators {
		c.Stop()
	}
}
