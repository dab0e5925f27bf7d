package tim561

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/orchardeye/canopyscan/internal/tim561/transport"
)

// State is the acquisition loop's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateBackoff
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateBackoff:
		return "backoff"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// Link is one established sensor connection. transport.SensorLink is the
// production implementation; tests substitute their own.
type Link interface {
	ReadTelegram(ctx context.Context) ([]byte, error)
	Close() error
}

// DialFunc establishes a Link. The default dials TCP via the transport
// package.
type DialFunc func(ctx context.Context) (Link, error)

// EventSink receives lifecycle diagnostics (connects, losses, degraded
// transitions, decode errors). The sqlite event log implements it.
type EventSink interface {
	RecordEvent(sessionID, kind, detail string)
}

type noopSink struct{}

func (noopSink) RecordEvent(string, string, string) {}

// BackoffConfig shapes the reconnect delay: capped exponential, doubling
// from Initial up to Max. After MaxOutage of continuous failure the driver
// reports a persistent-failure (degraded) condition while still retrying;
// recovery is an operator concern, never a process exit.
type BackoffConfig struct {
	Initial   time.Duration
	Max       time.Duration
	MaxOutage time.Duration
}

func (c BackoffConfig) initial() time.Duration {
	if c.Initial == 0 {
		return 500 * time.Millisecond
	}
	return c.Initial
}

func (c BackoffConfig) max() time.Duration {
	if c.Max == 0 {
		return 30 * time.Second
	}
	return c.Max
}

func (c BackoffConfig) maxOutage() time.Duration {
	if c.MaxOutage == 0 {
		return 2 * time.Minute
	}
	return c.MaxOutage
}

// DriverConfig wires a Driver. Only Transport.Address and Filter need to
// be set; everything else has working defaults.
type DriverConfig struct {
	Transport transport.Config
	Filter    FilterConfig
	Decoder   DecoderConfig
	Backoff   BackoffConfig

	// Dial overrides the TCP dialer, for tests and replays.
	Dial DialFunc

	// Events receives lifecycle diagnostics; nil means discard.
	Events EventSink

	// Stats receives throughput counters; nil allocates a private set.
	Stats *TelegramStats

	// Clock drives backoff waits and stats intervals; nil means wall
	// clock. Tests use clock.NewMock.
	Clock clock.Clock

	// StatsLogInterval is how often throughput is logged. Zero means 1m.
	StatsLogInterval time.Duration
}

// Driver owns the whole acquisition pipeline: one background goroutine
// pulling telegrams through decode, filter and publish. Consumers only ever
// touch Get/GetWithAge/Health, none of which block on sensor I/O.
type Driver struct {
	cfg    DriverConfig
	dec    *Decoder
	store  *ScanStore
	stats  *TelegramStats
	clk    clock.Clock
	dial   DialFunc
	events EventSink

	mu        sync.Mutex
	state     State
	degraded  bool
	lastErr   string
	sessionID string
	cancel    context.CancelFunc
	done      chan struct{}
}

// Health is a point-in-time snapshot of driver status for observers.
type Health struct {
	SessionID    string `json:"session_id"`
	State        string `json:"state"`
	Degraded     bool   `json:"degraded"`
	LastError    string `json:"last_error,omitempty"`
	Telegrams    int64  `json:"telegrams"`
	Points       int64  `json:"points"`
	DecodeErrors int64  `json:"decode_errors"`
	Reconnects   int64  `json:"reconnects"`
}

// NewDriver creates an idle Driver. Start launches the pipeline.
func NewDriver(cfg DriverConfig) *Driver {
	d := &Driver{
		cfg:    cfg,
		dec:    NewDecoder(cfg.Decoder),
		store:  NewScanStore(),
		stats:  cfg.Stats,
		clk:    cfg.Clock,
		dial:   cfg.Dial,
		events: cfg.Events,
		state:  StateIdle,
	}
	if d.stats == nil {
		d.stats = NewTelegramStats()
	}
	if d.clk == nil {
		d.clk = clock.New()
	}
	if d.events == nil {
		d.events = noopSink{}
	}
	if d.dial == nil {
		d.dial = func(ctx context.Context) (Link, error) {
			return transport.Connect(ctx, cfg.Transport)
		}
	}
	return d
}

// Start validates the configuration and launches the background
// acquisition goroutine. Configuration errors are fatal: the pipeline
// never enters Running with bounds it cannot honor. Start on a running
// driver is an error.
func (d *Driver) Start(ctx context.Context) error {
	if err := d.cfg.Filter.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateIdle {
		return fmt.Errorf("driver already started (state %s)", d.state)
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.sessionID = uuid.New().String()
	d.state = StateConnecting
	d.degraded = false
	d.lastErr = ""

	d.events.RecordEvent(d.sessionID, "session_start", d.cfg.Transport.Address)
	go d.run(runCtx)
	return nil
}

// Stop cancels the background goroutine and waits for it to release the
// connection. Observed promptly even while the worker is blocked in a
// read, because the transport polls its socket deadline. Idempotent.
func (d *Driver) Stop() {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	if cancel != nil {
		d.state = StateStopping
	}
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	d.mu.Lock()
	d.state = StateIdle
	sessionID := d.sessionID
	d.mu.Unlock()
	d.events.RecordEvent(sessionID, "session_stop", "")
}

// Get returns the latest published scan; ok=false before the first
// publish. Never blocks on sensor I/O.
func (d *Driver) Get() (FilteredScan, bool) {
	return d.store.Get()
}

// GetWithAge is Get plus the scan's age, for staleness checks during an
// outage: consumers keep receiving the last known good scan rather than
// an error.
func (d *Driver) GetWithAge() (FilteredScan, time.Duration, bool) {
	return d.store.GetWithAge()
}

// Health reports the current pipeline status.
func (d *Driver) Health() Health {
	telegrams, _, points, decodeErrors, reconnects := d.stats.Snapshot()

	d.mu.Lock()
	defer d.mu.Unlock()
	return Health{
		SessionID:    d.sessionID,
		State:        d.state.String(),
		Degraded:     d.degraded,
		LastError:    d.lastErr,
		Telegrams:    telegrams,
		Points:       points,
		DecodeErrors: decodeErrors,
		Reconnects:   reconnects,
	}
}

// Stats exposes the driver's counters, e.g. for the monitor webserver.
func (d *Driver) Stats() *TelegramStats {
	return d.stats
}

// run is the acquisition loop: Connecting → Running → Backoff → Connecting
// until the context is cancelled. Decode failures on individual frames
// stay inside Running; only connection-level failures reconnect.
func (d *Driver) run(ctx context.Context) {
	defer close(d.done)
	go d.statsLoop(ctx)

	delay := d.cfg.Backoff.initial()
	var outageStart time.Time

	for {
		if ctx.Err() != nil {
			return
		}

		d.setState(StateConnecting)
		link, err := d.dial(ctx)
		if err == nil {
			d.noteConnected(&outageStart)
			delay = d.cfg.Backoff.initial()

			d.setState(StateRunning)
			err = d.readLoop(ctx, link)
			link.Close()
		}
		if ctx.Err() != nil {
			return
		}

		d.noteFailure(err, &outageStart)
		d.setState(StateBackoff)
		if !d.wait(ctx, delay) {
			return
		}
		delay *= 2
		if limit := d.cfg.Backoff.max(); delay > limit {
			delay = limit
		}
	}
}

// readLoop drives one connection until it fails: read, decode, filter,
// publish. Returns the connection-level error that ended it.
func (d *Driver) readLoop(ctx context.Context, link Link) error {
	for {
		raw, err := link.ReadTelegram(ctx)
		if err != nil {
			return err
		}

		frame, err := d.dec.Decode(raw)
		if err != nil {
			if errors.Is(err, ErrNotScanData) {
				continue // command acks share the stream; expected traffic
			}
			d.stats.AddDecodeError()
			log.Printf("dropping telegram: %v", err)
			d.events.RecordEvent(d.session(), "decode_error", err.Error())
			continue // stored scan stays untouched; keep reading
		}

		filtered := d.cfg.Filter.Apply(frame)
		d.store.Publish(filtered)
		d.stats.AddTelegram(len(raw))
		d.stats.AddPoints(len(filtered.Points))
	}
}

func (d *Driver) noteConnected(outageStart *time.Time) {
	d.mu.Lock()
	wasDegraded := d.degraded
	d.degraded = false
	d.lastErr = ""
	d.mu.Unlock()

	*outageStart = time.Time{}
	log.Printf("lidar connected to %s", d.cfg.Transport.Address)
	d.events.RecordEvent(d.session(), "connected", d.cfg.Transport.Address)
	if wasDegraded {
		d.events.RecordEvent(d.session(), "recovered", "")
	}
}

func (d *Driver) noteFailure(err error, outageStart *time.Time) {
	d.stats.AddReconnect()
	log.Printf("lidar connection failed: %v", err)
	d.events.RecordEvent(d.session(), "connection_lost", err.Error())

	now := d.clk.Now()
	if outageStart.IsZero() {
		*outageStart = now
	}

	d.mu.Lock()
	d.lastErr = err.Error()
	turnedDegraded := false
	if !d.degraded && now.Sub(*outageStart) >= d.cfg.Backoff.maxOutage() {
		d.degraded = true
		turnedDegraded = true
	}
	d.mu.Unlock()

	if turnedDegraded {
		log.Printf("lidar outage exceeds %s; reporting degraded and continuing to retry", d.cfg.Backoff.maxOutage())
		d.events.RecordEvent(d.session(), "degraded", err.Error())
	}
}

// wait sleeps for the backoff delay on the driver clock, returning false
// if the context is cancelled first.
func (d *Driver) wait(ctx context.Context, delay time.Duration) bool {
	t := d.clk.Timer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// statsLoop logs throughput on the configured interval until cancelled.
func (d *Driver) statsLoop(ctx context.Context) {
	interval := d.cfg.StatsLogInterval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := d.clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.stats.LogStats()
		}
	}
}

func (d *Driver) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Driver) session() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}
