// Package queueevents 将某个前缀的 Redis 发布/订阅频道桥接到本地
// internal/eventbus.Bus：跨副本广播的队列/存储事件进入本地订阅者
// （SPEC_FULL.md §4.3）。
package queueevents

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/omnisbouncer/bouncer/internal/eventbus"
	"github.com/omnisbouncer/bouncer/pkg/observability/xlog"
	"github.com/omnisbouncer/bouncer/pkg/resilience/xretry"
)

// Bridge 订阅一个前缀对应的 Redis 频道，将收到的事件字符串解析为
// eventbus.Kind 并重新广播到本地总线。未知载荷记录日志后丢弃
// （SPEC_FULL.md §7："未知事件类型不是致命错误"）。
type Bridge struct {
	rdb     redis.UniversalClient
	channel string
	bus     *eventbus.Bus
	prefix  string
	logger  xlog.LoggerWithLevel
	retryer *xretry.Retryer
}

// Option 配置一个 Bridge。
type Option func(*Bridge)

// WithLogger 指定结构化日志记录器；默认 xlog.Default()。
func WithLogger(l xlog.LoggerWithLevel) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithRetryer 覆盖默认的重订阅重试器（默认：无限重试 + 指数退避）。
func WithRetryer(r *xretry.Retryer) Option {
	return func(b *Bridge) { b.retryer = r }
}

// New 构造一个绑定到 channel 的 Bridge，事件重新广播到 bus。
func New(rdb redis.UniversalClient, channel, prefix string, bus *eventbus.Bus, opts ...Option) *Bridge {
	b := &Bridge{
		rdb:     rdb,
		channel: channel,
		prefix:  prefix,
		bus:     bus,
		logger:  xlog.Default(),
		retryer: xretry.NewRetryer(
			xretry.WithRetryPolicy(xretry.NewAlwaysRetry()),
			xretry.WithBackoffPolicy(xretry.NewExponentialBackoff()),
		),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run 阻塞直到 ctx 被取消，维护一个 Redis 订阅并把每条消息转发到本地总线。
// 订阅断开时通过 retryer 无限重试重新订阅——Redis 连接瞬断不应导致本进程
// 永久失聪（SPEC_FULL.md §4.3/§7）。
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := b.retryer.Do(ctx, func(ctx context.Context) error {
			return b.subscribeOnce(ctx)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// subscribeOnce 仅在不可恢复错误或 ctx 取消时返回非 nil；
			// 此处记录后继续外层循环，重新开始订阅生命周期。
			b.logger.Error(ctx, "queueevents: subscription loop exited, restarting",
				slog.String("channel", b.channel), slog.Any("err", err))
		}
	}
}

// subscribeOnce 建立一次订阅并持续消费，直到连接出错或 ctx 取消。
func (b *Bridge) subscribeOnce(ctx context.Context) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errSubscriptionClosed
			}
			b.deliver(ctx, msg.Payload)
		}
	}
}

func (b *Bridge) deliver(ctx context.Context, payload string) {
	kind, ok := eventbus.ParseKind(payload)
	if !ok {
		b.logger.Warn(ctx, "queueevents: unknown event payload, dropped",
			slog.String("channel", b.channel), slog.String("payload", payload))
		return
	}
	b.bus.Publish(eventbus.Event{Kind: kind, Prefix: b.prefix})
}
