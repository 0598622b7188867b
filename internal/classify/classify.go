// Package classify 实现路由分类器（SPEC_FULL.md §4.5）：根据 HTTP 方法、
// 请求路径以及 fallback ultra-thin 是否启用，将请求划分为五种连接类型。
package classify

import (
	"net/http"
	"regexp"
)

// Category 是路由分类结果。
type Category int

const (
	// CacheLoad 是静态资源（favicon、jschtml 的 css/fonts/icons/images/scripts/themes）。
	CacheLoad Category = iota
	// StickySession 是 JS 客户端流量：jschtml/jsclient/push。
	StickySession
	// RegularSkip 是常规流量、无需候车室（/api/*、非 GET 的 ultra-thin）。
	RegularSkip
	// RegularRequired 是常规流量、需要候车室（GET /ultra，或 fallback 兜底）。
	RegularRequired
	// Reject 表示该请求不应被接纳（fallback 关闭时的兜底）。
	Reject
)

// RequiresWaitingRoom 对应 spec.md §4.5："仅 StickySession 与
// Regular(Required) 为 true"。
func (c Category) RequiresWaitingRoom() bool {
	return c == StickySession || c == RegularRequired
}

var (
	faviconRe = regexp.MustCompile(`(?i)^/favicon\.ico$`)
	assetRe   = regexp.MustCompile(`(?i)^/jschtml/(css|fonts|icons|images|scripts|themes)/`)
	jsClientRe = regexp.MustCompile(`(?i)^/(jschtml|jsclient|push)`)
	restAPIRe  = regexp.MustCompile(`(?i)^/api`)
	ultraThinRe = regexp.MustCompile(`(?i)^/ultra`)
)

func isStaticAsset(path string) bool {
	return faviconRe.MatchString(path) || assetRe.MatchString(path)
}

// IsJavaScriptClient 报告 path 是否属于 JS 客户端前缀（jschtml/jsclient/push）；
// internal/dispatch 用它为粘性会话流量选择 js_client 限流维度。
func IsJavaScriptClient(path string) bool {
	return jsClientRe.MatchString(path)
}

// IsRESTAPI 报告 path 是否属于 /api 前缀；internal/dispatch 用它选择 api
// 限流维度。
func IsRESTAPI(path string) bool {
	return restAPIRe.MatchString(path)
}

// IsUltraThin 报告 path 是否属于 ultra-thin 协议前缀；internal/ultrathin 用
// 它判断是否需要注入协议元数据。
func IsUltraThin(path string) bool {
	return ultraThinRe.MatchString(path)
}

// Classify 实现 spec.md §4.5 的分类决策表。fallbackEnabled 对应配置中的
// "ultra-thin fallback" 开关：启用时，任何未被前述规则匹配的请求都会被
// 当作需要候车室的常规流量，而非直接拒绝。
func Classify(method, path string, fallbackEnabled bool) Category {
	switch {
	case method == http.MethodGet && isStaticAsset(path):
		return CacheLoad
	case IsJavaScriptClient(path):
		return StickySession
	case IsRESTAPI(path):
		return RegularSkip
	case IsUltraThin(path):
		if method == http.MethodGet {
			return RegularRequired
		}
		return RegularSkip
	case fallbackEnabled:
		return RegularRequired
	default:
		return Reject
	}
}
