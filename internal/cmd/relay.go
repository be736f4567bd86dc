package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fulmenhq/gofulmen/appidentity"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/cyclops-relay/cyclops/internal/config"
	"github.com/cyclops-relay/cyclops/internal/core/engine"
	"github.com/cyclops-relay/cyclops/internal/core/keys"
	"github.com/cyclops-relay/cyclops/internal/core/store"
	"github.com/cyclops-relay/cyclops/internal/core/transport"
	errwrap "github.com/cyclops-relay/cyclops/internal/errors"
	"github.com/cyclops-relay/cyclops/internal/metrics"
	"github.com/cyclops-relay/cyclops/internal/observability"
	"github.com/cyclops-relay/cyclops/internal/server"
	"github.com/cyclops-relay/cyclops/internal/server/handlers"
)

const (
	backoffWriteTimeout = 5 * time.Second
	uptimeInterval      = 15 * time.Second
)

// relay owns every long-running component of `serve`.
type relay struct {
	logger *logging.Logger

	db         *store.Store
	cache      *keys.Cache
	refresher  *keys.Refresher
	queue      *engine.PendingQueue
	limiter    *engine.RateLimiter
	controller *engine.Controller
	backoff    *backoffRecorder
	server     *server.Server

	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	runMu   sync.Mutex
	runErrs error

	stopOnce sync.Once
	stopErr  error
	stopped  chan struct{}
}

func newRelay(ctx context.Context, cfg *config.Config, identity *appidentity.Identity, logger *logging.Logger) (*relay, error) {
	upstream, err := parseUpstream(cfg.Upstream.URL)
	if err != nil {
		return nil, errwrap.WrapConfigInvalid(ctx, err, "invalid upstream")
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return nil, errwrap.WrapDatabaseError(ctx, err, "failed to open store")
	}

	r := &relay{
		logger:  logger,
		db:      db,
		cache:   keys.NewCache(),
		queue:   engine.NewPendingQueue(cfg.Queue.Capacity),
		stopped: make(chan struct{}),
	}
	r.refresher = &keys.Refresher{
		Source: db,
		Cache:  r.cache,
		Period: cfg.Refresher.Period,
		Logger: logger,
	}
	r.limiter = newRateLimiter(db, cfg)
	r.backoff = &backoffRecorder{limiter: r.limiter, logger: logger, timeout: backoffWriteTimeout}

	sender := transport.NewHTTP(cfg.Upstream.Timeout, cfg.Upstream.UserAgent)
	r.controller, err = engine.NewController(r.queue, sender, engine.ControllerConfig{
		MaxSamples:      cfg.Forwarder.MaxSamples,
		MaxDumpInterval: cfg.Forwarder.MaxDumpInterval,
		TickPeriod:      cfg.Forwarder.TickPeriod,
		Percentile:      cfg.Forwarder.Percentile,
		DrainTimeout:    cfg.Forwarder.DrainTimeout,
	}, engine.WithLogger(logger), engine.WithObserver(r.backoff.observe))
	if err != nil {
		_ = db.Close()
		return nil, errwrap.WrapConfigInvalid(ctx, err, "invalid forwarder settings")
	}

	hm := handlers.NewHealthManager(versionInfo.Version)
	registerHealthChecks(hm, cfg, identity, db, r.cache)

	r.server = server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithHealthManager(hm),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
		server.WithIngest(&handlers.IngestHandler{
			Keys:         r.cache,
			Queue:        r.queue,
			Limiter:      r.limiter,
			Upstream:     upstream,
			MaxBodyBytes: cfg.Ingest.MaxBodyBytes,
			Logger:       logger,
		}),
		server.WithIngestThrottle(cfg.Ingest.RPS, cfg.Ingest.Burst),
		server.WithForwarderStatus(handlers.ForwarderStatusHandler(r.controller, r.queue, r.cache)),
		server.WithProfiler(cfg.Debug.PprofEnabled),
	)

	return r, nil
}

func parseUpstream(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("upstream.url is required to serve")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream.url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("upstream.url %q has no host", raw)
	}
	return u, nil
}

func newRateLimiter(db engine.RateLimitStore, cfg *config.Config) *engine.RateLimiter {
	limiter := &engine.RateLimiter{Store: db}
	if cfg.Ingest.DefaultProjectLimit > 0 {
		limiter.Default = engine.RateLimit{
			RequestsPerWindow: cfg.Ingest.DefaultProjectLimit,
			WindowDuration:    time.Minute,
		}
	}
	limiter.ApplyOverrides(cfg.RateLimits)
	limiter.ApplySafetyMargin(cfg.RateLimitMargin)
	return limiter
}

// start launches the refresher, the controller and the uptime gauge.
func (r *relay) start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.startedAt = time.Now()
	metrics.SetServerStartTime(r.startedAt.Unix())

	r.spawn("refresher", func() error { return r.refresher.Run(ctx) })
	r.spawn("controller", func() error { return r.controller.Run(ctx) })
	r.spawn("uptime", func() error {
		ticker := time.NewTicker(uptimeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				metrics.SetServerUptime(int64(now.Sub(r.startedAt).Seconds()))
			}
		}
	})
}

func (r *relay) spawn(name string, run func() error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := run(); err != nil {
			r.runMu.Lock()
			r.runErrs = multierr.Append(r.runErrs, fmt.Errorf("%s: %w", name, err))
			r.runMu.Unlock()
		}
	}()
}

// stop shuts components down in dependency order: stop accepting, stop
// forwarding, then release the store. Safe to call more than once.
func (r *relay) stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		defer close(r.stopped)

		var errs error
		errs = multierr.Append(errs, r.server.Shutdown(ctx))
		r.queue.Close()

		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
		r.backoff.wait()

		r.runMu.Lock()
		errs = multierr.Append(errs, r.runErrs)
		r.runMu.Unlock()

		if remaining := r.queue.Len(); remaining > 0 && r.logger != nil {
			r.logger.Warn("Dropping unsent reports on shutdown", zap.Int("pending", remaining))
		}

		errs = multierr.Append(errs, r.db.Close())
		errs = multierr.Append(errs, observability.ShutdownMetrics())
		r.stopErr = errs
	})
	return r.stopErr
}

// wait blocks until stop has completed and returns its error.
func (r *relay) wait() error {
	<-r.stopped
	return r.stopErr
}

// backoffRecorder turns upstream 429 completions into per-project ingest
// backoffs. Store writes run off the controller goroutine.
type backoffRecorder struct {
	limiter interface {
		Record429(ctx context.Context, projectID string, retryAfter time.Duration) error
	}
	logger  *logging.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func (b *backoffRecorder) observe(c engine.Completion) {
	metrics.RecordUpstreamError(transport.Classify(c.Err))

	retryAfter, limited := transport.IsRateLimited(c.Err)
	if !limited || c.Request == nil || b.limiter == nil {
		return
	}

	projectID := c.Request.ProjectID
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		if err := b.limiter.Record429(ctx, projectID, retryAfter); err != nil {
			if b.logger != nil {
				b.logger.Warn("Failed to record upstream backoff",
					zap.String("project_id", projectID), zap.Error(err))
			}
			return
		}
		if b.logger != nil {
			b.logger.Info("Upstream rate limited project",
				zap.String("project_id", projectID),
				zap.Duration("retry_after", retryAfter))
		}
	}()
}

func (b *backoffRecorder) wait() {
	b.wg.Wait()
}
