package realtime

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"

	"github.com/nerrad567/gridflow-core/internal/cloud/rest"
	"github.com/nerrad567/gridflow-core/internal/infrastructure/logging"
)

// State is the connection state of the push channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// CredentialSource supplies realtime channel credentials on demand.
// Satisfied by *rest.Client.
type CredentialSource interface {
	Certification(ctx context.Context) (rest.Credentials, error)
}

// Options configures a Transport.
type Options struct {
	// DeviceSNs are the devices whose topics are subscribed.
	DeviceSNs []string

	// Broker and Port override the broker address from the certification
	// response when set. Normally left empty.
	Broker string
	Port   int

	// InitialDelay and MaxDelay bound the reconnect backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// ConnectTimeout bounds the handshake and each subscribe call.
	ConnectTimeout time.Duration

	// StableWindow is the minimum connected duration after which the
	// backoff delay resets to InitialDelay. Keeps one transient blip
	// from pinning the delay at its ceiling forever.
	StableWindow time.Duration
}

// Handlers receive push channel events. Callbacks run on the broker
// client's read routine and must not block.
type Handlers struct {
	// OnUpdate receives a normalized partial field mapping.
	OnUpdate func(deviceSN string, fields map[string]any)

	// OnStatus receives device online/offline transitions.
	OnStatus func(deviceSN string, online bool)

	// OnStateChange observes channel state transitions.
	OnStateChange func(state State)
}

// Transport maintains the long-lived push connection to the vendor
// broker: credential fetch and caching, an explicit
// disconnected/connecting/connected machine, reconnect with bounded
// backoff, and payload normalization before handoff.
//
// Auto-reconnect in the underlying client stays disabled; reconnection
// is owned here so that credential invalidation and backoff reset
// behave deterministically.
type Transport struct {
	opts     Options
	source   CredentialSource
	handlers Handlers
	logger   *logging.Logger

	mu    sync.Mutex
	state State
	creds *rest.Credentials

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Transport. Zero option values receive defaults:
// 1s/60s backoff bounds, 10s connect timeout, 5s stable window.
func New(opts Options, source CredentialSource, handlers Handlers, logger *logging.Logger) *Transport {
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 60 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.StableWindow <= 0 {
		opts.StableWindow = 5 * time.Second
	}
	return &Transport{
		opts:     opts,
		source:   source,
		handlers: handlers,
		logger:   logger.With("component", "realtime"),
		state:    StateDisconnected,
	}
}

// Start launches the connection loop. It returns immediately; Stop or
// cancelling ctx shuts the loop down.
func (t *Transport) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})

	go func() {
		defer close(t.done)
		t.run(runCtx)
	}()
}

// Stop cancels the connection loop and waits for it to exit.
func (t *Transport) Stop() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.done
}

// State returns the current channel state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// run is the reconnect loop: connect, hold, classify the drop, wait out
// the backoff delay, repeat. The delay doubles on short-lived attempts
// and resets once a connection survives the stable window.
func (t *Transport) run(ctx context.Context) {
	delay := t.opts.InitialDelay

	for {
		connectedFor, err := t.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			t.logger.Warn("realtime channel down", "error", err, "retry_in", delay)
		}

		wait := delay
		if connectedFor >= t.opts.StableWindow {
			delay = t.opts.InitialDelay
			wait = delay
		} else {
			delay = nextDelay(delay, t.opts.MaxDelay)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// nextDelay doubles current up to max.
func nextDelay(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// connectOnce performs one full connection attempt: credentials,
// handshake, subscriptions, then blocks until the connection drops or
// ctx is cancelled. Returns how long the connection was held.
func (t *Transport) connectOnce(ctx context.Context) (time.Duration, error) {
	t.setState(StateConnecting)
	defer t.setState(StateDisconnected)

	creds, err := t.credentials(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching credentials: %w", err)
	}

	lost := make(chan error, 1)
	clientOpts := mqtt.NewClientOptions().
		AddBroker(t.brokerURL(creds)).
		SetClientID("gridflow-" + uuid.NewString()[:8]).
		SetUsername(creds.Account).
		SetPassword(creds.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetKeepAlive(60 * time.Second).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		})

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(t.opts.ConnectTimeout) {
		client.Disconnect(0)
		return 0, fmt.Errorf("%w: handshake timeout", ErrConnect)
	}
	if err := token.Error(); err != nil {
		if isAuthRejection(err) {
			t.invalidateCredentials()
			return 0, fmt.Errorf("%w: %v", ErrCredentials, err)
		}
		return 0, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	for _, deviceSN := range t.opts.DeviceSNs {
		for _, topic := range deviceTopics(creds.Account, deviceSN) {
			sub := client.Subscribe(topic, 1, t.handleMessage)
			if !sub.WaitTimeout(t.opts.ConnectTimeout) {
				client.Disconnect(250)
				return 0, fmt.Errorf("%w: subscribe timeout on %s", ErrConnect, topic)
			}
			if err := sub.Error(); err != nil {
				client.Disconnect(250)
				return 0, fmt.Errorf("%w: subscribing %s: %v", ErrConnect, topic, err)
			}
		}
	}

	t.setState(StateConnected)
	connectedAt := time.Now()
	t.logger.Info("realtime channel connected",
		"broker", t.brokerURL(creds),
		"devices", len(t.opts.DeviceSNs),
	)

	select {
	case err := <-lost:
		held := time.Since(connectedAt)
		if isAuthRejection(err) {
			t.invalidateCredentials()
			return held, fmt.Errorf("%w: %v", ErrCredentials, err)
		}
		return held, fmt.Errorf("%w: connection lost: %v", ErrConnect, err)
	case <-ctx.Done():
		client.Disconnect(250)
		return time.Since(connectedAt), ctx.Err()
	}
}

// handleMessage dispatches one broker message. Runs on the client's
// read routine.
func (t *Transport) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceSN, kind, ok := parseTopic(msg.Topic())
	if !ok {
		return
	}

	switch kind {
	case kindQuota:
		fields, err := Normalize(msg.Payload())
		if err != nil {
			t.logger.Warn("dropping push payload", "sn", deviceSN, "error", err)
			return
		}
		if len(fields) == 0 {
			return
		}
		if t.handlers.OnUpdate != nil {
			t.handlers.OnUpdate(deviceSN, fields)
		}
	case kindStatus:
		online, ok := parseStatus(msg.Payload())
		if !ok {
			return
		}
		t.logger.Info("device status changed", "sn", deviceSN, "online", online)
		if t.handlers.OnStatus != nil {
			t.handlers.OnStatus(deviceSN, online)
		}
	case kindSetReply:
		// Command echo; commands flow through the signed channel.
	}
}

// credentials returns the cached credential set, fetching a fresh one
// through the source when the cache is empty.
func (t *Transport) credentials(ctx context.Context) (rest.Credentials, error) {
	t.mu.Lock()
	if t.creds != nil {
		creds := *t.creds
		t.mu.Unlock()
		return creds, nil
	}
	t.mu.Unlock()

	creds, err := t.source.Certification(ctx)
	if err != nil {
		return rest.Credentials{}, err
	}

	t.mu.Lock()
	t.creds = &creds
	t.mu.Unlock()
	t.logger.Info("realtime credentials fetched", "certificate_account", creds.Account)
	return creds, nil
}

// invalidateCredentials drops the cached set, forcing a fresh fetch on
// the next connect attempt.
func (t *Transport) invalidateCredentials() {
	t.mu.Lock()
	t.creds = nil
	t.mu.Unlock()
}

// brokerURL picks the broker address: explicit option override first,
// then the address from the certification response.
func (t *Transport) brokerURL(creds rest.Credentials) string {
	host := creds.URL
	port := creds.Port
	if t.opts.Broker != "" {
		host = t.opts.Broker
	}
	if t.opts.Port != 0 {
		port = t.opts.Port
	}
	if port == 0 {
		port = 8883
	}
	return fmt.Sprintf("tls://%s:%d", host, port)
}

// setState records a transition and notifies the observer. Repeated
// sets to the same state are silent.
func (t *Transport) setState(state State) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.mu.Unlock()

	t.logger.Debug("channel state", "state", state.String())
	if t.handlers.OnStateChange != nil {
		t.handlers.OnStateChange(state)
	}
}

// isAuthRejection reports whether the broker refused our credentials.
func isAuthRejection(err error) bool {
	return errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised)
}
