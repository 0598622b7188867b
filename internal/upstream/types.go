// Package upstream 实现上游应用服务器池：动态的上游集合、按连接数/粘性会话数
// 的最小负载选择策略，以及按上游独立限流的连接与粘性会话许可
// （SPEC_FULL.md §4.4）。
package upstream

import "time"

// Upstream 描述一台上游服务器的配置：URI 加上两个容量上限。
type Upstream struct {
	URI            string
	Connections    int64
	StickySessions int64
}

// DefaultStickyExpiry 是粘性会话条目在无访问情况下的默认存活时间。
const DefaultStickyExpiry = 10 * time.Minute
