// Package rotator 实现后台轮转循环（SPEC_FULL.md §4.8）：单个定时器驱动
// 粘性会话过期、事件节流缓冲区刷新、候车页缓存校验与队列/存储轮转，
// 对应 original_source/src/background.rs 的 run/background_tasks。
package rotator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omnisbouncer/bouncer/internal/config"
	"github.com/omnisbouncer/bouncer/internal/queuectl"
	"github.com/omnisbouncer/bouncer/internal/upstream"
	"github.com/omnisbouncer/bouncer/pkg/observability/xlog"
)

// DefaultInterval 是轮转循环的默认间隔（spec.md §4.8）。
const DefaultInterval = 10 * time.Second

// Rotator 周期性地运行候车室/队列维护任务。
type Rotator struct {
	cfg      *config.Config
	control  *queuectl.Control
	pool     *upstream.Pool
	interval time.Duration
	logger   xlog.LoggerWithLevel
}

// Option configures a Rotator at construction time.
type Option func(*Rotator)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(r *Rotator) { r.interval = d }
}

// WithLogger attaches a structured logger; defaults to xlog.Default().
func WithLogger(l xlog.LoggerWithLevel) Option {
	return func(r *Rotator) { r.logger = l }
}

// New constructs a Rotator.
func New(cfg *config.Config, control *queuectl.Control, pool *upstream.Pool, opts ...Option) *Rotator {
	r := &Rotator{
		cfg:      cfg,
		control:  control,
		pool:     pool,
		interval: DefaultInterval,
		logger:   xlog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes background_tasks once immediately, then on every tick,
// until ctx is cancelled (the shutdown signal in background.rs's
// select!/Notify). Returns once the final iteration has finished — no
// iteration is left half-run when the context cancels mid-tick, matching
// spec.md §4.8's "errors logged, never fatal" and the original's
// run-then-select loop shape (a ticker, not a sleep-after, so cancellation
// is observed between ticks rather than mid-task).
func (r *Rotator) Run(ctx context.Context) {
	r.logger.Info(ctx, "starting background rotator", slog.Duration("interval", r.interval))

	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "background rotator shutting down")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

// tick runs two branches concurrently (mirroring background.rs's web_tasks/
// queue_tasks split joined via tokio::join!): expire_sticky_sessions, and
// queueTasks, which runs flush_event_throttle_buffer, verify_waiting_page per
// locale, then rotate_full if enabled, one after another.
func (r *Rotator) tick(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		r.expireStickySessions()
	}()

	go func() {
		defer wg.Done()
		r.queueTasks(ctx)
	}()

	wg.Wait()
}

func (r *Rotator) expireStickySessions() {
	expired := r.pool.ExpireStickySessions()
	if len(expired) > 0 {
		r.logger.Info(context.Background(), "expired sticky sessions", slog.Int("count", len(expired)))
	}
}

func (r *Rotator) queueTasks(ctx context.Context) {
	r.control.FlushEventThrottleBuffer(time.Now())

	for _, locale := range r.cfg.Locales {
		if err := r.control.VerifyWaitingPage(ctx, locale); err != nil {
			r.logger.Warn(ctx, "waiting page verification failed", slog.String("locale", locale), slog.String("err", err.Error()))
		}
	}

	if !r.cfg.QueueRotationEnabled {
		return
	}

	counts, err := r.control.RotateFull(ctx)
	if err != nil {
		r.logger.Error(ctx, "queue rotation failed", slog.String("err", err.Error()))
		return
	}
	if counts.QueueExpired > 0 || counts.StoreExpired > 0 || counts.Promoted > 0 {
		r.logger.Info(ctx, "queue rotation",
			slog.Int64("queue_expired", counts.QueueExpired),
			slog.Int64("store_expired", counts.StoreExpired),
			slog.Int64("promoted", counts.Promoted),
		)
	}
}
