package config

import "github.com/omnisbouncer/bouncer/internal/upstream"

// buildUpstreams 对应 cli.rs 的 build_upstream：所有初始上游共享同一个
// 连接数/粘性会话数上限。
func buildUpstreams(uris []string, connections, sessions int64) []upstream.Upstream {
	ups := make([]upstream.Upstream, 0, len(uris))
	for _, uri := range uris {
		ups = append(ups, upstream.Upstream{
			URI:            uri,
			Connections:    connections,
			StickySessions: sessions,
		})
	}
	return ups
}
