// Package ratelimit 按客户端标识做每秒请求数限流（SPEC_FULL.md §4.6），
// 三条独立配额对应 original_source/src/config.rs 的 js_client/api/ultra
// 三个限速维度；internal/dispatch 按请求路径前缀选择维度。
package ratelimit

import (
	"context"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/omnisbouncer/bouncer/internal/bouncererrors"
)

// Category 是三条独立限流维度之一。
type Category string

const (
	CategoryJSClient Category = "js_client"
	CategoryAPI      Category = "api"
	CategoryUltra    Category = "ultra"
)

// Limits 是每个类别的每秒请求数上限；0 表示该类别不限流。
type Limits struct {
	JSClient int
	API      int
	Ultra    int
}

func (l Limits) forCategory(cat Category) int {
	switch cat {
	case CategoryJSClient:
		return l.JSClient
	case CategoryAPI:
		return l.API
	case CategoryUltra:
		return l.Ultra
	default:
		return 0
	}
}

// Limiter 包装 go-redis/redis_rate 的滑动窗口限流器，对应
// pkg/resilience/xlimit/backend_redis.go 的 AllowN 调用方式。
type Limiter struct {
	limits  Limits
	limiter *redis_rate.Limiter
}

// New 构造一个以 rdb 为后端的限流器。
func New(rdb redis.UniversalClient, limits Limits) *Limiter {
	return &Limiter{limits: limits, limiter: redis_rate.NewLimiter(rdb)}
}

// Allow 检查 key（通常是客户端 IP 或 QID 字符串）在 cat 维度下是否还有配额，
// 消耗一次配额。cat 对应的上限为 0 时永远放行，不访问 Redis。
func (l *Limiter) Allow(ctx context.Context, cat Category, key string) (bool, time.Duration, error) {
	limit := l.limits.forCategory(cat)
	if limit <= 0 {
		return true, 0, nil
	}
	res, err := l.limiter.Allow(ctx, string(cat)+":"+key, redis_rate.PerSecond(limit))
	if err != nil {
		return false, 0, bouncererrors.WrapStoreTransport(err)
	}
	return res.Allowed > 0, res.RetryAfter, nil
}
