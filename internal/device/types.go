package device

import "time"

// Device is one registered cloud device.
type Device struct {
	// SN is the vendor serial number, the primary key everywhere.
	SN string `json:"sn"`

	// Name is the user-facing label, from the cloud account or local
	// config.
	Name string `json:"name"`

	// DeviceType is the vendor product name (e.g. "DELTA Pro 3").
	DeviceType string `json:"deviceType"`

	// Enabled controls whether a coordinator is started for the device.
	Enabled bool `json:"enabled"`

	// PollInterval overrides the global poll interval in seconds when
	// set.
	PollInterval *int `json:"pollInterval,omitempty"`

	// Online is the last availability reported by the cloud.
	Online bool `json:"online"`

	// LastSeen is when the device was last reported online.
	LastSeen *time.Time `json:"lastSeen,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeepCopy returns an independent copy of the device.
func (d *Device) DeepCopy() *Device {
	out := *d
	if d.PollInterval != nil {
		interval := *d.PollInterval
		out.PollInterval = &interval
	}
	if d.LastSeen != nil {
		seen := *d.LastSeen
		out.LastSeen = &seen
	}
	return &out
}

// CloudDevice is one entry from the vendor account device list, used to
// sync the registry.
type CloudDevice struct {
	SN          string
	Name        string
	ProductName string
	Online      bool
}
