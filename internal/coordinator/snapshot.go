package coordinator

import "time"

// Mode is the connection mode derived from channel health. It is
// read-only telemetry: nothing in the polling schedule consults it.
type Mode int

const (
	// ModeRestOnly: no realtime channel, or it is down past the grace
	// period; polling is the only data source.
	ModeRestOnly Mode = iota

	// ModeHybrid: realtime channel delivering fresh updates; polling
	// continues on its fixed cadence with reduced log verbosity.
	ModeHybrid

	// ModeRealtimeStandby: realtime channel alive but silent beyond the
	// freshness window, or briefly down within the grace period. Fresh
	// data comes from polling while the channel recovers.
	ModeRealtimeStandby
)

// String returns the snake_case mode name.
func (m Mode) String() string {
	switch m {
	case ModeHybrid:
		return "hybrid"
	case ModeRealtimeStandby:
		return "realtime_standby"
	default:
		return "rest_only"
	}
}

// Snapshot is the authoritative view of one device at a point in time.
// Every copy handed out is complete and never mutated afterwards.
type Snapshot struct {
	DeviceSN           string         `json:"deviceSn"`
	Fields             map[string]any `json:"fields"`
	LastRestUpdate     time.Time      `json:"lastRestUpdate"`
	LastRealtimeUpdate time.Time      `json:"lastRealtimeUpdate"`
	Mode               Mode           `json:"-"`
	ModeName           string         `json:"mode"`
	Online             bool           `json:"online"`
}

// copyFields returns a top-level copy of a field mapping. Leaf values
// come from JSON decoding and are treated as immutable.
func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		out[key] = value
	}
	return out
}
