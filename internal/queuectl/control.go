// Package queuectl 实现 QueueControl：队列/存储生命周期、设置、候车页内容、
// 带节流的进程内事件总线，以及候车页的缓存渲染（SPEC_FULL.md §4.2）。
package queuectl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omnisbouncer/bouncer/internal/eventbus"
	"github.com/omnisbouncer/bouncer/internal/qid"
	"github.com/omnisbouncer/bouncer/internal/store"
	"github.com/omnisbouncer/bouncer/internal/waitingpage"
	"github.com/omnisbouncer/bouncer/pkg/observability/xlog"
)

// Durations bundles the two expiry regimes from SPEC_FULL.md §3.
type Durations struct {
	Quarantine time.Duration // default 45s
	Validated  time.Duration // default 600s
}

// DefaultDurations returns the spec-mandated defaults.
func DefaultDurations() Durations {
	return Durations{Quarantine: 45 * time.Second, Validated: 600 * time.Second}
}

// ThrottleWindow is the default event-throttle window (SPEC_FULL.md §4.2).
const ThrottleWindow = 100 * time.Millisecond

// Control owns the external-store connection (via store.Client), the local
// event bus, and the event-throttle buffer. It holds no reference back to
// any dispatcher or pool — SPEC_FULL.md §3's ownership rule.
type Control struct {
	store     *store.Client
	bus       *eventbus.Bus
	durations Durations
	logger    xlog.LoggerWithLevel

	throttleMu sync.RWMutex
	throttle   map[eventbus.Kind]time.Time
	window     time.Duration

	pageMu     sync.RWMutex
	pageCache  map[string]string // locale -> minified HTML, authoritative in-process cache
	frontCache *waitingpage.Cache
}

// Option configures a Control at construction time.
type Option func(*Control)

// WithDurations overrides the default quarantine/validated expiry pair.
func WithDurations(d Durations) Option {
	return func(c *Control) { c.durations = d }
}

// WithThrottleWindow overrides the default event-throttle window.
func WithThrottleWindow(d time.Duration) Option {
	return func(c *Control) { c.window = d }
}

// WithLogger attaches a structured logger; defaults to xlog.Default().
func WithLogger(l xlog.LoggerWithLevel) Option {
	return func(c *Control) { c.logger = l }
}

// New constructs a Control bound to an already-constructed store.Client.
func New(sc *store.Client, opts ...Option) (*Control, error) {
	front, err := waitingpage.NewCache()
	if err != nil {
		return nil, err
	}
	c := &Control{
		store:      sc,
		bus:        eventbus.New(eventbus.DefaultBufferSize),
		durations:  DefaultDurations(),
		logger:     xlog.Default(),
		throttle:   make(map[eventbus.Kind]time.Time),
		window:     ThrottleWindow,
		pageCache:  make(map[string]string),
		frontCache: front,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the front cache's background resources.
func (c *Control) Close() {
	c.frontCache.Close()
}

// Init seeds defaults if check_sync_keys reports missing scalar keys.
// It does not load scripts; store.WarmupScripts does that against the
// shared Redis client. Idempotent.
func (c *Control) Init(ctx context.Context, enabled bool, capacity store.StoreCapacity) error {
	synced, err := c.store.CheckSyncKeys(ctx)
	if err != nil {
		return err
	}
	if synced {
		return nil
	}
	return c.store.SeedDefaults(ctx, enabled, capacity, time.Now().Unix(), waitingpage.Default())
}

// Subscribe registers a new local event subscriber.
func (c *Control) Subscribe() *eventbus.Subscription {
	return c.bus.Subscribe()
}

// emit publishes an event subject to the throttle window: an event kind is
// emitted at most once per window (SPEC_FULL.md §4.2) both to the local bus
// and, so peer replicas' QueueEvents bridges relay it, to the Redis channel
// via store.Client.Publish — the original's publish_throttle is the maximum
// frequency the same event is published to Redis, not merely a local-bus
// debounce. A Redis publish failure is logged, never propagated: emission is
// best-effort and must not block or fail the caller's state change.
func (c *Control) emit(ctx context.Context, kind eventbus.Kind) {
	now := time.Now()

	c.throttleMu.RLock()
	last, seen := c.throttle[kind]
	c.throttleMu.RUnlock()
	if seen && now.Sub(last) < c.window {
		return
	}

	c.throttleMu.Lock()
	last, seen = c.throttle[kind]
	if seen && now.Sub(last) < c.window {
		c.throttleMu.Unlock()
		return
	}
	c.throttle[kind] = now
	c.throttleMu.Unlock()

	c.bus.Publish(eventbus.Event{Kind: kind, Prefix: c.store.Prefix()})
	if err := c.store.Publish(ctx, kind.String()); err != nil {
		c.logger.Warn(ctx, "failed to publish event to redis", slog.String("kind", kind.String()), slog.Any("err", err))
	}
}

// FlushEventThrottleBuffer discards throttle entries older than the window,
// called from the background rotator each tick (SPEC_FULL.md §4.2).
func (c *Control) FlushEventThrottleBuffer(now time.Time) {
	c.throttleMu.Lock()
	defer c.throttleMu.Unlock()
	for k, last := range c.throttle {
		if now.Sub(last) >= c.window {
			delete(c.throttle, k)
		}
	}
}

// IDPosition wraps store.Client.IDPosition, emitting StoreAdded/QueueAdded on
// creation (status=2) only.
func (c *Control) IDPosition(ctx context.Context, id qid.QID, create bool) (store.IDPositionResult, error) {
	res, err := c.store.IDPosition(ctx, id, time.Now(), c.durations.Validated, c.durations.Quarantine, create)
	if err != nil {
		return store.IDPositionResult{}, err
	}
	switch res.Created {
	case store.CreatedInStore:
		c.emit(ctx, eventbus.StoreAdded)
	case store.CreatedInQueue:
		c.emit(ctx, eventbus.QueueAdded)
	}
	return res, nil
}

// IDRemove wraps store.Client.IDRemove, emitting QueueRemoved on success.
func (c *Control) IDRemove(ctx context.Context, id qid.QID) error {
	removed, err := c.store.IDRemove(ctx, id, time.Now())
	if err != nil {
		return err
	}
	if removed {
		c.emit(ctx, eventbus.QueueRemoved)
	}
	return nil
}

// RotateFull applies store_timeout, queue_timeout, then store_promote against
// a single now, emitting events only for non-zero counts. Each script is
// atomic on its own; the three do not run as one transaction.
func (c *Control) RotateFull(ctx context.Context) (store.RotateCounts, error) {
	now := time.Now()
	counts, err := c.store.RotateFull(ctx, now, c.durations.Validated)
	if err != nil {
		return store.RotateCounts{}, err
	}
	if counts.QueueExpired > 0 {
		c.emit(ctx, eventbus.QueueExpired)
	}
	if counts.StoreExpired > 0 {
		c.emit(ctx, eventbus.StoreExpired)
	}
	if counts.Promoted > 0 {
		c.emit(ctx, eventbus.StoreAdded)
	}
	return counts, nil
}

// QueueStatus returns settings plus (queue_size, store_size), atomically.
func (c *Control) QueueStatus(ctx context.Context) (store.QueueStatus, error) {
	return c.store.QueueStatus(ctx)
}

// QueueSettings returns just the settings portion of QueueStatus.
func (c *Control) QueueSettings(ctx context.Context) (store.QueueSettings, error) {
	status, err := c.store.QueueStatus(ctx)
	if err != nil {
		return store.QueueSettings{}, err
	}
	return status.QueueSettings, nil
}

// SetQueueEnabled atomically updates queue_enabled, bumps
// queue_sync_timestamp, and emits SettingsChanged.
func (c *Control) SetQueueEnabled(ctx context.Context, enabled bool) error {
	if err := c.store.SetQueueEnabled(ctx, enabled, time.Now()); err != nil {
		return err
	}
	c.emit(ctx, eventbus.SettingsChanged)
	return nil
}

// SetStoreCapacity atomically updates store_capacity, bumps
// queue_sync_timestamp, and emits SettingsChanged.
func (c *Control) SetStoreCapacity(ctx context.Context, capacity store.StoreCapacity) error {
	if err := c.store.SetStoreCapacity(ctx, capacity, time.Now()); err != nil {
		return err
	}
	c.emit(ctx, eventbus.SettingsChanged)
	return nil
}

// SetQueueSettings updates both enabled and capacity as one logical change,
// emitting a single SettingsChanged event.
func (c *Control) SetQueueSettings(ctx context.Context, enabled bool, capacity store.StoreCapacity) error {
	now := time.Now()
	if err := c.store.SetQueueEnabled(ctx, enabled, now); err != nil {
		return err
	}
	if err := c.store.SetStoreCapacity(ctx, capacity, now); err != nil {
		return err
	}
	c.emit(ctx, eventbus.SettingsChanged)
	return nil
}

// WaitingPage returns the persisted HTML for a locale verbatim.
func (c *Control) WaitingPage(ctx context.Context, locale string) (string, error) {
	return c.store.WaitingPage(ctx, locale)
}

// SetWaitingPage persists HTML verbatim and emits WaitingPageChanged. The
// in-process cache is refreshed separately by VerifyWaitingPage, never here
// — SetWaitingPage must not block on minification under lock contention from
// a concurrent request-path read.
func (c *Control) SetWaitingPage(ctx context.Context, locale, html string) error {
	if err := c.store.SetWaitingPage(ctx, locale, html); err != nil {
		return err
	}
	c.emit(ctx, eventbus.WaitingPageChanged)
	return nil
}

// CachedWaitingPage returns a minified HTML string from the in-process
// cache for locale; on a miss it returns the bundled default. Never blocks
// on I/O (SPEC_FULL.md §4.2) — it is a pure map read, backed first by the
// ristretto front cache and then the authoritative RWMutex-guarded map.
func (c *Control) CachedWaitingPage(locale string) string {
	if html, ok := c.frontCache.Get(locale); ok {
		return html
	}
	c.pageMu.RLock()
	html, ok := c.pageCache[locale]
	c.pageMu.RUnlock()
	if ok {
		c.frontCache.Set(locale, html)
		return html
	}
	return waitingpage.Default()
}

// VerifyWaitingPage fetches stored HTML for locale, minifies it, and
// updates the in-process cache if different from what's cached. Called only
// from the background rotator, never on the request path.
func (c *Control) VerifyWaitingPage(ctx context.Context, locale string) error {
	raw, err := c.store.WaitingPage(ctx, locale)
	if err != nil {
		return err
	}
	if raw == "" {
		return nil
	}
	minified, err := waitingpage.Minify(raw)
	if err != nil {
		// Existing cache is retained on invalid HTML (SPEC_FULL.md §7).
		c.logger.Warn(ctx, "waiting page failed minification, cache retained",
			slog.String("locale", locale), slog.Any("err", err))
		return nil
	}

	c.pageMu.Lock()
	current, ok := c.pageCache[locale]
	changed := !ok || current != minified
	if changed {
		c.pageCache[locale] = minified
	}
	c.pageMu.Unlock()

	if changed {
		c.frontCache.Set(locale, minified)
	}
	return nil
}
