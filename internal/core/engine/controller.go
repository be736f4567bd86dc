package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/core"
	"github.com/cyclops-relay/cyclops/internal/metrics"
)

// Transport sends a single request upstream. Send may block; the controller
// always calls it from a dedicated goroutine.
type Transport interface {
	Send(ctx context.Context, req *core.PendingRequest) error
}

// State is the controller's position in the send cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingCompletion
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	default:
		return "unknown"
	}
}

// ControllerConfig tunes the adaptive throttle.
type ControllerConfig struct {
	// MaxSamples caps the latency history.
	MaxSamples int
	// MaxDumpInterval is the ceiling on the spacing between sends.
	MaxDumpInterval time.Duration
	// TickPeriod is the scheduler granularity.
	TickPeriod time.Duration
	// Percentile selects the fraction of fastest samples averaged into the estimate.
	Percentile float64
	// DrainTimeout bounds how long Run waits for an in-flight send on shutdown.
	DrainTimeout time.Duration
}

// DefaultControllerConfig mirrors the reference tuning of the relay.
var DefaultControllerConfig = ControllerConfig{
	MaxSamples:      100,
	MaxDumpInterval: time.Second,
	TickPeriod:      20 * time.Millisecond,
	Percentile:      0.9,
	DrainTimeout:    5 * time.Second,
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.MaxSamples <= 0 {
		c.MaxSamples = DefaultControllerConfig.MaxSamples
	}
	if c.MaxDumpInterval <= 0 {
		c.MaxDumpInterval = DefaultControllerConfig.MaxDumpInterval
	}
	if c.TickPeriod <= 0 {
		c.TickPeriod = DefaultControllerConfig.TickPeriod
	}
	if math.IsNaN(c.Percentile) || c.Percentile <= 0 || c.Percentile > 1 {
		c.Percentile = DefaultControllerConfig.Percentile
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = DefaultControllerConfig.DrainTimeout
	}
	return c
}

// Completion reports the outcome of one dispatched request.
type Completion struct {
	Request      *core.PendingRequest
	DispatchedAt time.Time
	CompletedAt  time.Time
	Err          error
}

// Elapsed is the wall-clock round trip of the request.
func (c Completion) Elapsed() time.Duration {
	elapsed := c.CompletedAt.Sub(c.DispatchedAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// Status is a point-in-time copy of the controller state.
type Status struct {
	State      string        `json:"state"`
	LastSentAt *time.Time    `json:"last_sent_at,omitempty"`
	Estimate   time.Duration `json:"estimate_ns"`
	Interval   time.Duration `json:"interval_ns"`
	Samples    int           `json:"samples"`
	Sent       uint64        `json:"sent"`
	Failed     uint64        `json:"failed"`
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithClock overrides the time source used by Run and by send completions.
func WithClock(clock func() time.Time) ControllerOption {
	return func(c *Controller) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger attaches a logger. A nil logger disables logging.
func WithLogger(logger *logging.Logger) ControllerOption {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithObserver registers a callback invoked on the controller goroutine after
// every completion. It must not block.
func WithObserver(observer func(Completion)) ControllerOption {
	return func(c *Controller) {
		c.observer = observer
	}
}

// Controller drains the pending queue one request at a time, spacing sends by
// a delay derived from recent upstream latency.
//
// Tick and HandleCompletion mutate state without locking and must only be
// called from the goroutine that owns the controller (Run does this).
type Controller struct {
	queue     Dequeuer
	transport Transport
	cfg       ControllerConfig
	clock     func() time.Time
	logger    *logging.Logger
	observer  func(Completion)

	tracker     *LatencyTracker
	state       State
	lastSent    time.Time
	hasSent     bool
	estimate    time.Duration
	hasEstimate bool
	sent        uint64
	failed      uint64

	// single-flight means at most one completion is ever pending
	completions chan Completion
	running     atomic.Bool

	mu     sync.RWMutex
	status Status
}

// NewController wires a controller to its queue and transport.
func NewController(queue Dequeuer, transport Transport, cfg ControllerConfig, opts ...ControllerOption) (*Controller, error) {
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}

	cfg = cfg.withDefaults()
	c := &Controller{
		queue:       queue,
		transport:   transport,
		cfg:         cfg,
		clock:       func() time.Time { return time.Now().UTC() },
		tracker:     NewLatencyTracker(cfg.MaxSamples),
		state:       StateIdle,
		completions: make(chan Completion, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.publish()
	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() ControllerConfig {
	return c.cfg
}

// Interval is the minimum spacing currently enforced between sends.
func (c *Controller) Interval() time.Duration {
	if !c.hasEstimate {
		return c.cfg.MaxDumpInterval
	}
	if c.estimate < c.cfg.MaxDumpInterval {
		return c.estimate
	}
	return c.cfg.MaxDumpInterval
}

// State returns the current send-cycle state.
func (c *Controller) State() State {
	return c.state
}

// Tick decides whether to dispatch the next queued request at time now.
// It reports whether a request was dispatched.
func (c *Controller) Tick(ctx context.Context, now time.Time) bool {
	if c.state == StateAwaitingCompletion {
		return false
	}

	interval := c.Interval()
	if c.hasSent {
		sinceLast := now.Sub(c.lastSent)
		if sinceLast < interval {
			c.debug("Send deferred",
				zap.Duration("interval", interval),
				zap.Duration("since_last_send", sinceLast))
			return false
		}
	}

	req, ok := c.queue.TryPop()
	if !ok {
		return false
	}

	c.state = StateAwaitingCompletion
	c.lastSent = now
	c.hasSent = true

	c.debug("Forwarding request",
		zap.String("request_id", req.ID),
		zap.String("project_id", req.ProjectID),
		zap.String("url", req.URL),
		zap.Duration("interval", interval))

	c.dispatch(ctx, req, now)
	c.observeQueue()
	c.publish()
	return true
}

func (c *Controller) dispatch(ctx context.Context, req *core.PendingRequest, dispatchedAt time.Time) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		err := c.transport.Send(ctx, req)
		c.completions <- Completion{
			Request:      req,
			DispatchedAt: dispatchedAt,
			CompletedAt:  c.clock(),
			Err:          err,
		}
	}()
}

// HandleCompletion feeds a finished send back into the latency history and
// returns the controller to idle. Failed sends are sampled like successful
// ones.
func (c *Controller) HandleCompletion(comp Completion) {
	if c.state != StateAwaitingCompletion {
		c.warn("Ignoring completion without an in-flight request")
		return
	}

	elapsed := comp.Elapsed()
	c.tracker.Record(elapsed)
	c.estimate = c.tracker.Percentile(c.cfg.Percentile)
	c.hasEstimate = true

	requestID := ""
	if comp.Request != nil {
		requestID = comp.Request.ID
	}

	if comp.Err != nil {
		c.failed++
		if c.logger != nil {
			c.logger.Error("Forwarding failed",
				zap.String("request_id", requestID),
				zap.Duration("elapsed", elapsed),
				zap.Error(comp.Err))
		}
	} else {
		c.sent++
		c.debug("Request handled",
			zap.String("request_id", requestID),
			zap.Duration("elapsed", elapsed))
	}

	c.debug("Percentile request time updated",
		zap.Duration("estimate", c.estimate),
		zap.Int("samples", c.tracker.Len()))

	metrics.RecordForwardSend(comp.Err == nil, elapsed)
	metrics.SetForwardInterval(c.Interval())

	c.state = StateIdle
	if c.observer != nil {
		c.observer(comp)
	}
	c.publish()
}

// Run drives the controller until ctx is done. On shutdown it waits up to
// DrainTimeout for an in-flight send to finish.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller is already running")
	}
	defer c.running.Store(false)

	// In-flight sends outlive ctx so shutdown does not abort them mid-request.
	sendCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(c.cfg.TickPeriod)
	defer ticker.Stop()

	c.info("Forwarding controller started",
		zap.Duration("tick_period", c.cfg.TickPeriod),
		zap.Duration("max_dump_interval", c.cfg.MaxDumpInterval),
		zap.Int("max_samples", c.cfg.MaxSamples),
		zap.Float64("percentile", c.cfg.Percentile))

	for {
		select {
		case <-ctx.Done():
			c.drain()
			c.info("Forwarding controller stopped",
				zap.Uint64("sent", c.sent),
				zap.Uint64("failed", c.failed))
			return nil
		case <-ticker.C:
			c.Tick(sendCtx, c.clock())
		case comp := <-c.completions:
			c.HandleCompletion(comp)
		}
	}
}

func (c *Controller) drain() {
	if c.state != StateAwaitingCompletion {
		return
	}

	timer := time.NewTimer(c.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case comp := <-c.completions:
		c.HandleCompletion(comp)
	case <-timer.C:
		c.warn("Abandoning in-flight request on shutdown",
			zap.Duration("drain_timeout", c.cfg.DrainTimeout))
	}
}

// Snapshot returns the most recently published state. Safe for concurrent use.
func (c *Controller) Snapshot() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Samples returns the latency history in arrival order.
func (c *Controller) Samples() []time.Duration {
	return c.tracker.Samples()
}

func (c *Controller) publish() {
	status := Status{
		State:    c.state.String(),
		Interval: c.Interval(),
		Samples:  c.tracker.Len(),
		Sent:     c.sent,
		Failed:   c.failed,
	}
	if c.hasEstimate {
		status.Estimate = c.estimate
	}
	if c.hasSent {
		lastSent := c.lastSent
		status.LastSentAt = &lastSent
	}

	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *Controller) observeQueue() {
	if sized, ok := c.queue.(interface{ Len() int }); ok {
		metrics.SetQueueDepth(sized.Len())
	}
}

func (c *Controller) debug(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Debug(msg, fields...)
	}
}

func (c *Controller) info(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Info(msg, fields...)
	}
}

func (c *Controller) warn(msg string, fields ...zap.Field) {
	if c.logger != nil {
		c.logger.Warn(msg, fields...)
	}
}
