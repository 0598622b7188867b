// Package breaker 为每个上游 URI 维护一个独立的熔断器，仅在上游传输错误
// （连接失败、超时、连接被拒绝）上计入失败统计，非 2xx/4xx 响应内容不触发
// 熔断（SPEC_FULL.md §4.4/§7：内容层面的判定超出本组件范围）。
package breaker

import (
	"context"
	"sync"

	"github.com/omnisbouncer/bouncer/internal/bouncererrors"
	"github.com/omnisbouncer/bouncer/pkg/resilience/xbreaker"
)

// DefaultFailureRatio/DefaultMinRequests 是触发熔断的默认失败率与最小样本数。
const (
	DefaultFailureRatio = 0.5
	DefaultMinRequests  = 10
)

// transportOnlyExclude 将非传输类错误排除在熔断统计之外：只有
// bouncererrors.ClassifyError 归类为 ClassUpstreamTransport 的错误才计入
// 熔断器的失败计数。
type transportOnlyExclude struct{}

func (transportOnlyExclude) IsExcluded(err error) bool {
	if err == nil {
		return true
	}
	return bouncererrors.ClassifyError(err) != bouncererrors.ClassUpstreamTransport
}

// Pool 是按上游 URI 惰性创建的熔断器集合。
type Pool struct {
	mu       sync.Mutex
	breakers map[string]*xbreaker.Breaker
}

// New 构造一个空的熔断器池。
func New() *Pool {
	return &Pool{breakers: make(map[string]*xbreaker.Breaker)}
}

func (p *Pool) forURI(uri string) *xbreaker.Breaker {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[uri]; ok {
		return b
	}
	b := xbreaker.NewBreaker(uri,
		xbreaker.WithTripPolicy(xbreaker.NewFailureRatio(DefaultFailureRatio, DefaultMinRequests)),
		xbreaker.WithExcludePolicy(transportOnlyExclude{}),
	)
	p.breakers[uri] = b
	return b
}

// Allow 报告是否允许向 uri 发起一次新请求（熔断器未处于 Open 状态）。
func (p *Pool) Allow(uri string) bool {
	state := p.forURI(uri).State()
	return state == xbreaker.StateClosed || state == xbreaker.StateHalfOpen
}

// Do 在 uri 对应的熔断器保护下执行 fn。熔断器处于 Open 状态时，fn 不会被
// 执行，直接返回 xbreaker 的开路错误。
func (p *Pool) Do(ctx context.Context, uri string, fn func() error) error {
	return p.forURI(uri).Do(ctx, fn)
}
