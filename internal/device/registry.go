package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger is the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device lookups with an in-memory cache over a
// Repository. The cache is populated by RefreshCache on startup and
// kept in sync by the mutating operations.
//
// All public methods are safe for concurrent use. Returned devices are
// deep copies; callers can modify them freely.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a device registry over the given repository.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.SN] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get retrieves a device by serial number.
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) Get(ctx context.Context, sn string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[sn]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetBySN(ctx, sn)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[sn] = device.DeepCopy()
	r.cacheMu.Unlock()
	return device, nil
}

// List retrieves all devices.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		r.cacheMu.RUnlock()
		return devices, nil
	}
	r.cacheMu.RUnlock()

	return r.repo.List(ctx)
}

// ListEnabled retrieves the devices that should have coordinators.
func (r *Registry) ListEnabled(ctx context.Context) ([]Device, error) {
	return r.repo.ListEnabled(ctx)
}

// Create inserts a new device and caches it.
func (r *Registry) Create(ctx context.Context, device *Device) error {
	if err := r.repo.Create(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.SN] = device.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device registered", "sn", device.SN, "name", device.Name)
	return nil
}

// Update modifies an existing device and refreshes the cache entry.
func (r *Registry) Update(ctx context.Context, device *Device) error {
	if err := r.repo.Update(ctx, device); err != nil {
		return err
	}

	r.cacheMu.Lock()
	r.cache[device.SN] = device.DeepCopy()
	r.cacheMu.Unlock()
	return nil
}

// Delete removes a device and evicts it from the cache.
func (r *Registry) Delete(ctx context.Context, sn string) error {
	if err := r.repo.Delete(ctx, sn); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, sn)
	r.cacheMu.Unlock()

	r.logger.Info("device removed", "sn", sn)
	return nil
}

// SetOnline records cloud-reported availability for a device.
func (r *Registry) SetOnline(ctx context.Context, sn string, online bool) error {
	now := time.Now()
	if err := r.repo.UpdateOnline(ctx, sn, online, now); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[sn]; ok {
		cached.Online = online
		if online {
			seen := now.UTC()
			cached.LastSeen = &seen
		}
	}
	r.cacheMu.Unlock()
	return nil
}

// Sync reconciles the registry with the cloud account device list. New
// serials are registered enabled; known serials get their name, type
// and availability refreshed. Locally removed or disabled devices are
// left alone: the cloud list adds, it never deletes.
func (r *Registry) Sync(ctx context.Context, cloud []CloudDevice) error {
	var added, updated int

	for _, entry := range cloud {
		existing, err := r.Get(ctx, entry.SN)
		if errors.Is(err, ErrDeviceNotFound) {
			device := &Device{
				SN:         entry.SN,
				Name:       entry.Name,
				DeviceType: entry.ProductName,
				Enabled:    true,
				Online:     entry.Online,
			}
			if entry.Online {
				now := time.Now().UTC()
				device.LastSeen = &now
			}
			if err := r.Create(ctx, device); err != nil {
				return fmt.Errorf("registering device %s: %w", entry.SN, err)
			}
			added++
			continue
		}
		if err != nil {
			return fmt.Errorf("looking up device %s: %w", entry.SN, err)
		}

		existing.Name = entry.Name
		existing.DeviceType = entry.ProductName
		existing.Online = entry.Online
		if entry.Online {
			now := time.Now().UTC()
			existing.LastSeen = &now
		}
		if err := r.Update(ctx, existing); err != nil {
			return fmt.Errorf("updating device %s: %w", entry.SN, err)
		}
		updated++
	}

	r.logger.Info("device registry synced", "added", added, "updated", updated)
	return nil
}
