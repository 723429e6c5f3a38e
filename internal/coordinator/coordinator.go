package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gridflow-core/internal/cloud/rest"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/logging"
)

// RestTransport is the slice of the signed channel the coordinator
// drives. Satisfied by *rest.Client.
type RestTransport interface {
	QuotaAll(ctx context.Context, deviceSN string) (map[string]any, error)
	SendCommand(ctx context.Context, cmd rest.PendingCommand) error
	Wake(ctx context.Context, deviceSN string) error
}

// Options configures a Coordinator.
type Options struct {
	DeviceSN string

	// PollInterval is the fixed cadence of the signed channel poll. It
	// never changes for the life of the coordinator; channel health is
	// not an input to it.
	PollInterval time.Duration

	// WakeEnabled sends a wake nudge before polls while the realtime
	// channel is not delivering data. Redundant once push data flows.
	WakeEnabled bool

	// RealtimeEnabled mirrors the config flag; false pins the mode to
	// rest_only.
	RealtimeEnabled bool

	// FreshnessWindow is the maximum realtime silence before the mode
	// drops from hybrid to realtime_standby.
	FreshnessWindow time.Duration

	// GracePeriod is how long a dropped channel is treated as
	// recovering before the mode falls back to rest_only.
	GracePeriod time.Duration
}

// Coordinator owns the canonical snapshot for one device and is its
// single writer. Realtime partials and REST polls merge under one lock;
// subscribers always receive complete copies, never an in-progress
// merge.
type Coordinator struct {
	opts      Options
	transport RestTransport
	logger    *logging.Logger

	mu           sync.Mutex
	fields       map[string]any
	restKeys     map[string]struct{}
	lastRest     time.Time
	lastRealtime time.Time
	mode         Mode
	online       bool

	channelConnected bool
	channelDownAt    time.Time
	pollFailing      bool

	subscribers map[int]func(Snapshot)
	nextSubID   int

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Coordinator for one device.
func New(opts Options, transport RestTransport, logger *logging.Logger) *Coordinator {
	return &Coordinator{
		opts:        opts,
		transport:   transport,
		logger:      logger.With("component", "coordinator", "sn", opts.DeviceSN),
		fields:      make(map[string]any),
		restKeys:    make(map[string]struct{}),
		mode:        ModeRestOnly,
		subscribers: make(map[int]func(Snapshot)),
	}
}

// Start launches the poll loop: one immediate poll, then a fixed ticker.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		c.pollOnce(runCtx)

		ticker := time.NewTicker(c.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.pollOnce(runCtx)
			case <-runCtx.Done():
				return
			}
		}
	}()
}

// Stop cancels the poll loop and waits for it to exit.
func (c *Coordinator) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
}

// DeviceSN returns the device this coordinator owns.
func (c *Coordinator) DeviceSN() string {
	return c.opts.DeviceSN
}

// Snapshot returns a complete copy of the current device view.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluateMode(time.Now())
	return c.snapshotLocked()
}

// Mode returns the current connection mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evaluateMode(time.Now())
	return c.mode
}

// Subscribe registers a callback receiving every published snapshot.
// The returned function removes the subscription.
func (c *Coordinator) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subscribers, id)
	}
}

// IssueCommand dispatches a command through the signed channel. The
// channel choice is unconditional: delivery guarantees come from the
// signed request/ack cycle, not from the push connection, so the
// connection mode is irrelevant here. Vendor errors come back verbatim.
//
// Parameters:
//   - ctx: Request context
//   - template: Opaque command envelope from the device catalog
//   - params: Command parameters
//
// Returns:
//   - error: nil on ack; *rest.APIError carries any vendor code
func (c *Coordinator) IssueCommand(ctx context.Context, template, params map[string]any) error {
	cmd := rest.NewCommand(c.opts.DeviceSN, template, params)
	err := c.transport.SendCommand(ctx, cmd)
	if err != nil {
		c.logger.Warn("command failed", "command_id", cmd.ID, "error", err)
		return err
	}
	return nil
}

// HandleRealtimeUpdate merges a partial push update. Wired as the
// realtime transport's OnUpdate handler.
func (c *Coordinator) HandleRealtimeUpdate(deviceSN string, fields map[string]any) {
	if deviceSN != c.opts.DeviceSN || len(fields) == 0 {
		return
	}

	c.mu.Lock()
	previous := make(map[string]any, len(fields))
	for key := range fields {
		if old, ok := c.fields[key]; ok {
			previous[key] = old
		}
	}
	changes := Diff(previous, fields)

	for key, value := range fields {
		c.fields[key] = value
	}
	c.lastRealtime = time.Now()
	c.evaluateMode(c.lastRealtime)

	if len(changes) == 0 {
		c.mu.Unlock()
		return
	}
	snapshot, notify := c.publishLocked()
	c.mu.Unlock()

	c.logChanges("realtime", changes)
	for _, fn := range notify {
		fn(snapshot)
	}
}

// HandleStatus records a device online/offline transition from the
// realtime status topic.
func (c *Coordinator) HandleStatus(deviceSN string, online bool) {
	if deviceSN != c.opts.DeviceSN {
		return
	}

	c.mu.Lock()
	if c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	snapshot, notify := c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("device availability changed", "online", online)
	for _, fn := range notify {
		fn(snapshot)
	}
}

// HandleChannelState tracks realtime channel health. Wired to the
// transport's state observer; connected=true on Connected, false on
// Disconnected.
func (c *Coordinator) HandleChannelState(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if connected == c.channelConnected {
		return
	}
	c.channelConnected = connected
	if !connected {
		c.channelDownAt = time.Now()
	}
	c.evaluateMode(time.Now())
}

// pollOnce runs one poll cycle: optional wake nudge, full quota fetch,
// merge. A failed poll leaves the snapshot untouched.
func (c *Coordinator) pollOnce(ctx context.Context) {
	if c.opts.WakeEnabled && c.Mode() != ModeHybrid {
		if err := c.transport.Wake(ctx, c.opts.DeviceSN); err != nil {
			// Best effort; the device may already be awake.
			c.logger.Debug("wake nudge failed", "error", err)
		}
	}

	fields, err := c.transport.QuotaAll(ctx, c.opts.DeviceSN)
	if err != nil {
		c.mu.Lock()
		firstFailure := !c.pollFailing
		c.pollFailing = true
		c.mu.Unlock()

		// Report the outage once, not per cycle.
		if firstFailure {
			c.logger.Warn("poll failed, keeping last snapshot", "error", err)
		} else {
			c.logger.Debug("poll still failing", "error", err)
		}
		return
	}

	c.mu.Lock()
	if c.pollFailing {
		c.pollFailing = false
		c.logger.Info("poll recovered")
	}
	c.mu.Unlock()

	c.applyPoll(fields)
}

// applyPoll merges a full REST response. REST is authoritative for the
// keys it returns: keys it previously returned but dropped are removed,
// while keys only ever seen via realtime are preserved.
func (c *Coordinator) applyPoll(fields map[string]any) {
	c.mu.Lock()

	previous := copyFields(c.fields)

	for key := range c.restKeys {
		if _, still := fields[key]; !still {
			delete(c.fields, key)
		}
	}
	for key, value := range fields {
		c.fields[key] = value
	}

	c.restKeys = make(map[string]struct{}, len(fields))
	for key := range fields {
		c.restKeys[key] = struct{}{}
	}

	changes := Diff(previous, c.fields)
	c.lastRest = time.Now()
	c.evaluateMode(c.lastRest)

	if len(changes) == 0 {
		c.mu.Unlock()
		return
	}
	snapshot, notify := c.publishLocked()
	c.mu.Unlock()

	c.logChanges("rest", changes)
	for _, fn := range notify {
		fn(snapshot)
	}
}

// evaluateMode derives the connection mode. Caller holds mu.
func (c *Coordinator) evaluateMode(now time.Time) {
	fresh := !c.lastRealtime.IsZero() && now.Sub(c.lastRealtime) <= c.opts.FreshnessWindow
	withinGrace := !c.channelDownAt.IsZero() && now.Sub(c.channelDownAt) < c.opts.GracePeriod

	var next Mode
	switch {
	case !c.opts.RealtimeEnabled:
		next = ModeRestOnly
	case fresh && (c.channelConnected || withinGrace):
		next = ModeHybrid
	case c.channelConnected || withinGrace:
		next = ModeRealtimeStandby
	default:
		next = ModeRestOnly
	}

	if next != c.mode {
		c.logger.Info("connection mode changed", "from", c.mode.String(), "to", next.String())
		c.mode = next
	}
}

// snapshotLocked builds a complete copy. Caller holds mu.
func (c *Coordinator) snapshotLocked() Snapshot {
	return Snapshot{
		DeviceSN:           c.opts.DeviceSN,
		Fields:             copyFields(c.fields),
		LastRestUpdate:     c.lastRest,
		LastRealtimeUpdate: c.lastRealtime,
		Mode:               c.mode,
		ModeName:           c.mode.String(),
		Online:             c.online,
	}
}

// publishLocked snapshots state and the subscriber list. Caller holds
// mu; callbacks run after it is released.
func (c *Coordinator) publishLocked() (Snapshot, []func(Snapshot)) {
	snapshot := c.snapshotLocked()
	notify := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		notify = append(notify, fn)
	}
	return snapshot, notify
}

// logChanges reports an applied merge. Routine field churn logs at
// debug while the realtime channel is delivering; mode and source
// context keep the info stream readable.
func (c *Coordinator) logChanges(source string, changes []Change) {
	if c.Mode() == ModeHybrid {
		c.logger.Debug("fields changed", "source", source, "count", len(changes))
		return
	}
	c.logger.Info("fields changed", "source", source, "count", len(changes))
}
