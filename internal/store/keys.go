package store

import "fmt"

// keys 持有某个前缀下全部外部存储键名，使用 Redis Cluster 哈希标签
// （{prefix}）保证同一前缀的多键脚本总是落在同一个槽上。
//
// 设计决策: 采用 xsemaphore 的 {resource} 标签约定，前缀本身不得包含
// '{' 或 '}'（会破坏哈希标签语义），由 New 在构造时拒绝。
type keys struct {
	prefix             string
	queueEnabled       string
	storeCapacity      string
	queueSyncTimestamp string
	queueIDs           string
	queueExpirySecs    string
	queuePositionCache string
	storeIDs           string
	storeExpirySecs    string
}

func newKeys(prefix string) keys {
	tag := fmt.Sprintf("{%s}", prefix)
	return keys{
		prefix:             prefix,
		queueEnabled:       tag + ":queue_enabled",
		storeCapacity:      tag + ":store_capacity",
		queueSyncTimestamp: tag + ":queue_sync_timestamp",
		queueIDs:           tag + ":queue_ids",
		queueExpirySecs:    tag + ":queue_expiry_secs",
		queuePositionCache: tag + ":queue_position_cache",
		storeIDs:           tag + ":store_ids",
		storeExpirySecs:    tag + ":store_expiry_secs",
	}
}

// waitingPageKey 返回候车页键名，locale 为空时对应默认（非多语言）页面。
func (k keys) waitingPageKey(locale string) string {
	tag := fmt.Sprintf("{%s}", k.prefix)
	if locale == "" {
		return tag + ":waiting_page"
	}
	return tag + ":waiting_page:" + locale
}

// channel 返回该前缀对应的发布/订阅频道名（SPEC_FULL.md §6）。
func (k keys) channel() string {
	return k.prefix
}
