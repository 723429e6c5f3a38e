package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gridflow-core/internal/cloud/rest"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/logging"
)

// fakeTransport is a scriptable RestTransport.
type fakeTransport struct {
	mu         sync.Mutex
	pollFields map[string]any
	pollErr    error
	polls      int
	wakes      int
	commands   []rest.PendingCommand
	commandErr error
}

func (f *fakeTransport) QuotaAll(_ context.Context, _ string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	out := make(map[string]any, len(f.pollFields))
	for key, value := range f.pollFields {
		out[key] = value
	}
	return out, nil
}

func (f *fakeTransport) SendCommand(_ context.Context, cmd rest.PendingCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.commandErr
}

func (f *fakeTransport) Wake(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakes++
	return nil
}

func (f *fakeTransport) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeTransport) wakeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wakes
}

func (f *fakeTransport) setPoll(fields map[string]any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollFields = fields
	f.pollErr = err
}

func newTestCoordinator(transport RestTransport, opts Options) *Coordinator {
	if opts.DeviceSN == "" {
		opts.DeviceSN = "SN1"
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = time.Hour
	}
	if opts.FreshnessWindow == 0 {
		opts.FreshnessWindow = time.Minute
	}
	if opts.GracePeriod == 0 {
		opts.GracePeriod = 5 * time.Minute
	}
	return New(opts, transport, logging.Default())
}

// --- merge semantics ---

func TestApplyPoll_FirstPollPublishesAllFields(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{})

	var published []Snapshot
	c.Subscribe(func(s Snapshot) { published = append(published, s) })

	c.applyPoll(map[string]any{"soc": float64(80), "watts": float64(100)})

	if len(published) != 1 {
		t.Fatalf("published %d snapshots, want 1", len(published))
	}
	if len(published[0].Fields) != 2 {
		t.Errorf("snapshot has %d fields, want 2", len(published[0].Fields))
	}
	if published[0].LastRestUpdate.IsZero() {
		t.Error("LastRestUpdate not set after poll")
	}
}

func TestApplyPoll_IdenticalDataNotPublished(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{})

	var published int
	c.Subscribe(func(Snapshot) { published++ })

	fields := map[string]any{"soc": float64(80)}
	c.applyPoll(fields)
	c.applyPoll(fields)

	if published != 1 {
		t.Errorf("published %d snapshots, want 1 (identical re-merge is silent)", published)
	}
}

func TestApplyPoll_RemovesDroppedRestKeys(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{})

	c.applyPoll(map[string]any{"a": float64(1), "b": float64(2)})
	c.applyPoll(map[string]any{"a": float64(1)})

	snapshot := c.Snapshot()
	if _, present := snapshot.Fields["b"]; present {
		t.Error("field b still present after the poll dropped it")
	}
}

func TestApplyPoll_PreservesRealtimeOnlyKeys(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{RealtimeEnabled: true})

	c.applyPoll(map[string]any{"a": float64(1)})
	c.HandleRealtimeUpdate("SN1", map[string]any{"push.only": float64(7)})
	c.applyPoll(map[string]any{"a": float64(2)})

	snapshot := c.Snapshot()
	if snapshot.Fields["push.only"] != float64(7) {
		t.Errorf("realtime-only field = %v, want 7 (must survive polls)", snapshot.Fields["push.only"])
	}
	if snapshot.Fields["a"] != float64(2) {
		t.Errorf("field a = %v, want 2 (REST authoritative)", snapshot.Fields["a"])
	}
}

func TestHandleRealtimeUpdate_MergesAndTimestamps(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{RealtimeEnabled: true})

	c.applyPoll(map[string]any{"soc": float64(80), "watts": float64(100)})
	c.HandleRealtimeUpdate("SN1", map[string]any{"soc": float64(81)})

	snapshot := c.Snapshot()
	if snapshot.Fields["soc"] != float64(81) {
		t.Errorf("soc = %v, want 81 (push overwrites)", snapshot.Fields["soc"])
	}
	if snapshot.Fields["watts"] != float64(100) {
		t.Errorf("watts = %v, want 100 (untouched keys preserved)", snapshot.Fields["watts"])
	}
	if snapshot.LastRealtimeUpdate.IsZero() {
		t.Error("LastRealtimeUpdate not set after push")
	}
}

func TestHandleRealtimeUpdate_NoChangeNoPublish(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{RealtimeEnabled: true})

	c.applyPoll(map[string]any{"soc": float64(80)})

	var published int
	c.Subscribe(func(Snapshot) { published++ })
	c.HandleRealtimeUpdate("SN1", map[string]any{"soc": float64(80)})

	if published != 0 {
		t.Errorf("published %d snapshots for a no-op push, want 0", published)
	}
}

func TestHandleRealtimeUpdate_WrongDeviceIgnored(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{RealtimeEnabled: true})

	c.HandleRealtimeUpdate("OTHER", map[string]any{"soc": float64(50)})

	if len(c.Snapshot().Fields) != 0 {
		t.Error("update for another device reached this snapshot")
	}
}

func TestPollFailureThenPush_SnapshotReflectsPush(t *testing.T) {
	transport := &fakeTransport{pollErr: rest.ErrTransport}
	c := newTestCoordinator(transport, Options{RealtimeEnabled: true})
	c.HandleChannelState(true)

	c.pollOnce(context.Background())
	c.HandleRealtimeUpdate("SN1", map[string]any{"soc": float64(55)})

	snapshot := c.Snapshot()
	if snapshot.Fields["soc"] != float64(55) {
		t.Errorf("soc = %v, want 55 (push applied despite failed poll)", snapshot.Fields["soc"])
	}
	if got := c.Mode(); got != ModeHybrid {
		t.Errorf("Mode() = %v, want hybrid (one failed poll must not regress the mode)", got)
	}
}

func TestPollFailure_KeepsLastSnapshot(t *testing.T) {
	transport := &fakeTransport{pollFields: map[string]any{"soc": float64(80)}}
	c := newTestCoordinator(transport, Options{})

	c.pollOnce(context.Background())
	transport.setPoll(nil, rest.ErrTransport)
	c.pollOnce(context.Background())

	if got := c.Snapshot().Fields["soc"]; got != float64(80) {
		t.Errorf("soc = %v, want 80 (failed poll must not touch the snapshot)", got)
	}
}

// --- connection mode ---

func TestMode_RealtimeDisabledPinsRestOnly(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{RealtimeEnabled: false})
	c.HandleChannelState(true)
	c.HandleRealtimeUpdate("SN1", map[string]any{"soc": float64(1)})

	if got := c.Mode(); got != ModeRestOnly {
		t.Errorf("Mode() = %v, want rest_only when realtime disabled", got)
	}
}

func TestMode_HybridRequiresDeliveredData(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{RealtimeEnabled: true})

	c.HandleChannelState(true)
	if got := c.Mode(); got != ModeRealtimeStandby {
		t.Errorf("Mode() = %v, want realtime_standby before first message", got)
	}

	c.HandleRealtimeUpdate("SN1", map[string]any{"soc": float64(1)})
	if got := c.Mode(); got != ModeHybrid {
		t.Errorf("Mode() = %v, want hybrid after first message", got)
	}
}

func TestMode_HybridToStandbyOnSilence(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{
		RealtimeEnabled: true,
		FreshnessWindow: 30 * time.Millisecond,
	})

	c.HandleChannelState(true)
	c.HandleRealtimeUpdate("SN1", map[string]any{"soc": float64(1)})
	if got := c.Mode(); got != ModeHybrid {
		t.Fatalf("Mode() = %v, want hybrid", got)
	}

	time.Sleep(60 * time.Millisecond)
	if got := c.Mode(); got != ModeRealtimeStandby {
		t.Errorf("Mode() = %v, want realtime_standby after silence past the freshness window", got)
	}
}

func TestMode_DisconnectPastGraceFallsBackToRestOnly(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{
		RealtimeEnabled: true,
		FreshnessWindow: 10 * time.Millisecond,
		GracePeriod:     30 * time.Millisecond,
	})

	c.HandleChannelState(true)
	c.HandleChannelState(false)
	if got := c.Mode(); got != ModeRealtimeStandby {
		t.Errorf("Mode() = %v, want realtime_standby within the grace period", got)
	}

	time.Sleep(60 * time.Millisecond)
	if got := c.Mode(); got != ModeRestOnly {
		t.Errorf("Mode() = %v, want rest_only past the grace period", got)
	}
}

func TestPollCadence_UnaffectedByRealtimeActivity(t *testing.T) {
	// The tick count over a fixed horizon must match the configured
	// interval whether or not push data is flowing; channel health is
	// never an input to the poll timer.
	transport := &fakeTransport{pollFields: map[string]any{"soc": float64(80)}}
	c := newTestCoordinator(transport, Options{
		RealtimeEnabled: true,
		PollInterval:    20 * time.Millisecond,
		FreshnessWindow: time.Minute,
	})

	c.Start(context.Background())
	defer c.Stop()
	c.HandleChannelState(true)

	deadline := time.After(210 * time.Millisecond)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	soc := 80.0
	for {
		select {
		case <-ticker.C:
			soc++
			c.HandleRealtimeUpdate("SN1", map[string]any{"soc": soc})
		case <-deadline:
			if got := c.Mode(); got != ModeHybrid {
				t.Fatalf("Mode() = %v, want hybrid while push data flows", got)
			}
			// 1 immediate poll + ~10 ticks; anything at or above 8
			// proves the cadence was not suppressed or stretched.
			if polls := transport.pollCount(); polls < 8 {
				t.Errorf("polls = %d over 210ms at 20ms interval, want >= 8 (cadence suppressed)", polls)
			}
			return
		}
	}
}

// --- wake ---

func TestPollOnce_WakesOutsideHybrid(t *testing.T) {
	transport := &fakeTransport{pollFields: map[string]any{}}
	c := newTestCoordinator(transport, Options{WakeEnabled: true})

	c.pollOnce(context.Background())
	if got := transport.wakeCount(); got != 1 {
		t.Errorf("wakes = %d, want 1 in rest_only mode", got)
	}
}

func TestPollOnce_SkipsWakeWhileHybrid(t *testing.T) {
	transport := &fakeTransport{pollFields: map[string]any{}}
	c := newTestCoordinator(transport, Options{WakeEnabled: true, RealtimeEnabled: true})

	c.HandleChannelState(true)
	c.HandleRealtimeUpdate("SN1", map[string]any{"soc": float64(1)})

	c.pollOnce(context.Background())
	if got := transport.wakeCount(); got != 0 {
		t.Errorf("wakes = %d, want 0 while push data is flowing", got)
	}
}

// --- commands ---

func TestIssueCommand_AlwaysViaSignedChannel(t *testing.T) {
	transport := &fakeTransport{}
	c := newTestCoordinator(transport, Options{RealtimeEnabled: true})
	c.HandleChannelState(true) // realtime_standby

	if err := c.IssueCommand(context.Background(), map[string]any{"cmdSet": 32}, map[string]any{"enabled": 1}); err != nil {
		t.Fatalf("IssueCommand() error = %v", err)
	}

	if len(transport.commands) != 1 {
		t.Fatalf("commands sent = %d, want 1", len(transport.commands))
	}
	cmd := transport.commands[0]
	if cmd.DeviceSN != "SN1" {
		t.Errorf("command sn = %q, want SN1", cmd.DeviceSN)
	}
	if cmd.ID == "" {
		t.Error("command ID empty")
	}
}

func TestIssueCommand_VendorCodeReturnedVerbatim(t *testing.T) {
	vendorErr := &rest.APIError{Code: "1001", Message: "param out of range"}
	transport := &fakeTransport{commandErr: vendorErr}
	c := newTestCoordinator(transport, Options{RealtimeEnabled: true})
	c.HandleChannelState(true)

	err := c.IssueCommand(context.Background(), map[string]any{"cmdSet": 32}, nil)
	var apiErr *rest.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("IssueCommand() error = %v, want *rest.APIError", err)
	}
	if apiErr.Code != "1001" {
		t.Errorf("vendor code = %q, want %q (must pass through unmodified)", apiErr.Code, "1001")
	}
}

// --- subscriptions and snapshots ---

func TestSubscribe_UnsubscribeStopsDelivery(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{})

	var published int
	unsubscribe := c.Subscribe(func(Snapshot) { published++ })

	c.applyPoll(map[string]any{"a": float64(1)})
	unsubscribe()
	c.applyPoll(map[string]any{"a": float64(2)})

	if published != 1 {
		t.Errorf("published = %d, want 1 after unsubscribe", published)
	}
}

func TestSnapshot_CopyIsIsolated(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{})
	c.applyPoll(map[string]any{"soc": float64(80)})

	snapshot := c.Snapshot()
	snapshot.Fields["soc"] = float64(0)
	snapshot.Fields["injected"] = true

	fresh := c.Snapshot()
	if fresh.Fields["soc"] != float64(80) {
		t.Error("mutating a returned snapshot leaked into the coordinator")
	}
	if _, present := fresh.Fields["injected"]; present {
		t.Error("key injected through a returned snapshot")
	}
}

func TestHandleStatus_PublishesTransitionsOnly(t *testing.T) {
	c := newTestCoordinator(&fakeTransport{}, Options{RealtimeEnabled: true})

	var published int
	c.Subscribe(func(Snapshot) { published++ })

	c.HandleStatus("SN1", true)
	c.HandleStatus("SN1", true) // repeat, silent
	c.HandleStatus("SN1", false)

	if published != 2 {
		t.Errorf("published = %d, want 2 (one per transition)", published)
	}
	if c.Snapshot().Online {
		t.Error("Online = true, want false after offline status")
	}
}

// --- fleet ---

func TestFleet_GetAndList(t *testing.T) {
	fleet := NewFleet()
	fleet.Add(newTestCoordinator(&fakeTransport{}, Options{DeviceSN: "SNB"}))
	fleet.Add(newTestCoordinator(&fakeTransport{}, Options{DeviceSN: "SNA"}))

	if _, err := fleet.Get("SNA"); err != nil {
		t.Fatalf("Get(SNA) error = %v", err)
	}
	if _, err := fleet.Get("NOPE"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Get(NOPE) error = %v, want ErrUnknownDevice", err)
	}

	sns := fleet.SerialNumbers()
	if len(sns) != 2 || sns[0] != "SNA" || sns[1] != "SNB" {
		t.Errorf("SerialNumbers() = %v, want [SNA SNB]", sns)
	}
	if fleet.Len() != 2 {
		t.Errorf("Len() = %d, want 2", fleet.Len())
	}
}
