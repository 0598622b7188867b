package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/omnisbouncer/bouncer/internal/bouncererrors"
	"github.com/omnisbouncer/bouncer/internal/qid"
)

// Client 包装一个 go-redis 连接，执行 SPEC_FULL.md §4.1 的七个原子操作。
// 一个 Client 对应一个前缀（队列命名空间）；多前缀场景由调用方持有多个 Client。
type Client struct {
	rdb  redis.UniversalClient
	keys keys
}

// New 构造一个前缀绑定的 Client。prefix 不得包含 '{' 或 '}'（会破坏集群哈希标签）。
func New(rdb redis.UniversalClient, prefix string) (*Client, error) {
	if prefix == "" {
		return nil, errors.New("store: prefix must not be empty")
	}
	for _, r := range prefix {
		if r == '{' || r == '}' {
			return nil, fmt.Errorf("store: prefix %q must not contain '{' or '}'", prefix)
		}
	}
	return &Client{rdb: rdb, keys: newKeys(prefix)}, nil
}

// Prefix 返回该 Client 绑定的前缀。
func (c *Client) Prefix() string {
	return c.keys.prefix
}

// Channel 返回该前缀对应的发布/订阅频道名。
func (c *Client) Channel() string {
	return c.keys.channel()
}

// CheckSyncKeys 实现 check_sync_keys：四个标量键是否全部存在。
func (c *Client) CheckSyncKeys(ctx context.Context) (bool, error) {
	s := getScripts()
	res, err := s.checkSyncKeys.Run(ctx, c.rdb, []string{
		c.keys.queueEnabled, c.keys.storeCapacity, c.keys.queueSyncTimestamp, c.keys.waitingPageKey(""),
	}).Int64()
	if err != nil {
		return false, bouncererrors.WrapStoreTransport(err)
	}
	return res == 1, nil
}

// HasIDs 实现 has_ids：队列或存储中是否存在任何成员。
func (c *Client) HasIDs(ctx context.Context) (bool, error) {
	s := getScripts()
	res, err := s.hasIDs.Run(ctx, c.rdb, []string{c.keys.queueIDs, c.keys.storeIDs}).Int64()
	if err != nil {
		return false, bouncererrors.WrapStoreTransport(err)
	}
	return res == 1, nil
}

// SeedDefaults 写入四个标量键的初始值（幂等：覆盖写入）。由 QueueControl.Init
// 在 CheckSyncKeys 返回 false 时调用。
func (c *Client) SeedDefaults(ctx context.Context, enabled bool, capacity StoreCapacity, now int64, defaultWaitingPage string) error {
	enabledVal := "0"
	if enabled {
		enabledVal = "1"
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.keys.queueEnabled, enabledVal, 0)
	pipe.Set(ctx, c.keys.storeCapacity, capacity.Encode(), 0)
	pipe.Set(ctx, c.keys.queueSyncTimestamp, now, 0)
	pipe.SetNX(ctx, c.keys.waitingPageKey(""), defaultWaitingPage, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return bouncererrors.WrapStoreTransport(err)
	}
	return nil
}

// IDPosition 实现 id_position(prefix, qid, now, validated_secs, quarantine_secs, create).
func (c *Client) IDPosition(ctx context.Context, id qid.QID, now time.Time, validated, quarantine time.Duration, create bool) (IDPositionResult, error) {
	s := getScripts()
	createArg := "0"
	if create {
		createArg = "1"
	}
	raw, err := s.idPosition.Run(ctx, c.rdb, []string{
		c.keys.storeIDs, c.keys.queueIDs, c.keys.queueExpirySecs, c.keys.storeExpirySecs,
		c.keys.queuePositionCache, c.keys.queueEnabled, c.keys.storeCapacity,
	}, id.String(), now.Unix(), int64(validated.Seconds()), int64(quarantine.Seconds()), createArg).Result()
	if err != nil {
		return IDPositionResult{}, bouncererrors.WrapStoreTransport(err)
	}
	status, position, err := decodeStatusPosition(raw)
	if err != nil {
		return IDPositionResult{}, err
	}
	return interpretIDPosition(status, position)
}

func decodeStatusPosition(raw any) (int64, int64, error) {
	arr, ok := raw.([]any)
	if !ok || len(arr) != 2 {
		return 0, 0, fmt.Errorf("%w: id_position returned %#v", bouncererrors.ErrUnknownScriptStatus, raw)
	}
	status, ok1 := arr[0].(int64)
	position, ok2 := arr[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("%w: id_position returned non-integer reply", bouncererrors.ErrUnknownScriptStatus)
	}
	return status, position, nil
}

func interpretIDPosition(status, position int64) (IDPositionResult, error) {
	switch status {
	case 0:
		return IDPositionResult{Position: QueuePosition{Kind: NotPresent}, Created: NotCreated}, nil
	case 1:
		if position == 0 {
			return IDPositionResult{Position: QueuePosition{Kind: InStore}, Created: NotCreated}, nil
		}
		return IDPositionResult{Position: QueuePosition{Kind: InQueue, Position: position}, Created: NotCreated}, nil
	case 2:
		if position == 0 {
			return IDPositionResult{Position: QueuePosition{Kind: InStore}, Created: CreatedInStore}, nil
		}
		return IDPositionResult{Position: QueuePosition{Kind: InQueue, Position: position}, Created: CreatedInQueue}, nil
	default:
		return IDPositionResult{}, fmt.Errorf("%w: status=%d", bouncererrors.ErrUnknownScriptStatus, status)
	}
}

// IDRemove 实现 id_remove(prefix, qid, now). 返回值表示是否确有移除/标记发生。
func (c *Client) IDRemove(ctx context.Context, id qid.QID, now time.Time) (bool, error) {
	s := getScripts()
	res, err := s.idRemove.Run(ctx, c.rdb, []string{
		c.keys.storeIDs, c.keys.queueIDs, c.keys.storeExpirySecs, c.keys.queueExpirySecs,
	}, id.String(), now.Unix()).Int64()
	if err != nil {
		return false, bouncererrors.WrapStoreTransport(err)
	}
	return res == 1, nil
}

// StoreTimeout 实现 store_timeout(prefix, now)，返回移除计数。
func (c *Client) StoreTimeout(ctx context.Context, now time.Time) (int64, error) {
	s := getScripts()
	res, err := s.storeTimeout.Run(ctx, c.rdb, []string{c.keys.storeIDs, c.keys.storeExpirySecs}, now.Unix()).Int64()
	if err != nil {
		return 0, bouncererrors.WrapStoreTransport(err)
	}
	return res, nil
}

// QueueTimeout 实现 queue_timeout(prefix, now)，返回移除计数。
func (c *Client) QueueTimeout(ctx context.Context, now time.Time) (int64, error) {
	s := getScripts()
	res, err := s.queueTimeout.Run(ctx, c.rdb, []string{
		c.keys.queueIDs, c.keys.queueExpirySecs, c.keys.queuePositionCache,
	}, now.Unix()).Int64()
	if err != nil {
		return 0, bouncererrors.WrapStoreTransport(err)
	}
	return res, nil
}

// StorePromote 实现 store_promote(prefix)，返回晋升计数。
func (c *Client) StorePromote(ctx context.Context, now time.Time, validated time.Duration) (int64, error) {
	s := getScripts()
	res, err := s.storePromote.Run(ctx, c.rdb, []string{
		c.keys.queueIDs, c.keys.storeIDs, c.keys.storeExpirySecs, c.keys.storeCapacity, c.keys.queuePositionCache, c.keys.queueExpirySecs,
	}, now.Unix(), int64(validated.Seconds())).Int64()
	if err != nil {
		return 0, bouncererrors.WrapStoreTransport(err)
	}
	return res, nil
}

// RotateFull 依次对同一个 now 运行 store_timeout → queue_timeout → store_promote。
// 三者各自原子，但 RotateFull 本身不是单一事务：SPEC_FULL.md §5 的顺序不变量
// （"本轮超时的条目不会在本轮晋升"）由调用顺序保证，而不依赖跨脚本的互斥。
func (c *Client) RotateFull(ctx context.Context, now time.Time, validated time.Duration) (RotateCounts, error) {
	storeExpired, err := c.StoreTimeout(ctx, now)
	if err != nil {
		return RotateCounts{}, err
	}
	queueExpired, err := c.QueueTimeout(ctx, now)
	if err != nil {
		return RotateCounts{}, err
	}
	promoted, err := c.StorePromote(ctx, now, validated)
	if err != nil {
		return RotateCounts{}, err
	}
	return RotateCounts{QueueExpired: queueExpired, StoreExpired: storeExpired, Promoted: promoted}, nil
}

// QueueStatus 原子地读取 settings 加上 (queue_size, store_size)。
func (c *Client) QueueStatus(ctx context.Context) (QueueStatus, error) {
	pipe := c.rdb.TxPipeline()
	enabledCmd := pipe.Get(ctx, c.keys.queueEnabled)
	capacityCmd := pipe.Get(ctx, c.keys.storeCapacity)
	updatedCmd := pipe.Get(ctx, c.keys.queueSyncTimestamp)
	queueLenCmd := pipe.LLen(ctx, c.keys.queueIDs)
	storeSizeCmd := pipe.SCard(ctx, c.keys.storeIDs)
	if _, err := pipe.Exec(ctx); err != nil {
		return QueueStatus{}, bouncererrors.WrapStoreTransport(err)
	}

	enabledRaw, err := enabledCmd.Int64()
	if err != nil {
		return QueueStatus{}, bouncererrors.WrapStoreTransport(err)
	}
	capacityRaw, err := capacityCmd.Int64()
	if err != nil {
		return QueueStatus{}, bouncererrors.WrapStoreTransport(err)
	}
	capacity, err := ParseCapacity(capacityRaw)
	if err != nil {
		return QueueStatus{}, err
	}
	updated, err := updatedCmd.Int64()
	if err != nil {
		return QueueStatus{}, bouncererrors.WrapStoreTransport(err)
	}

	return QueueStatus{
		QueueSettings: QueueSettings{
			Enabled:  enabledRaw == 1,
			Capacity: capacity,
			Updated:  updated,
		},
		QueueSize: queueLenCmd.Val(),
		StoreSize: storeSizeCmd.Val(),
	}, nil
}

// SetQueueEnabled 原子地设置 queue_enabled 并推进 queue_sync_timestamp。
func (c *Client) SetQueueEnabled(ctx context.Context, enabled bool, now time.Time) error {
	val := "0"
	if enabled {
		val = "1"
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.keys.queueEnabled, val, 0)
	pipe.Set(ctx, c.keys.queueSyncTimestamp, now.Unix(), 0)
	_, err := pipe.Exec(ctx)
	return bouncererrors.WrapStoreTransport(err)
}

// SetStoreCapacity 原子地设置 store_capacity 并推进 queue_sync_timestamp。
func (c *Client) SetStoreCapacity(ctx context.Context, capacity StoreCapacity, now time.Time) error {
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.keys.storeCapacity, capacity.Encode(), 0)
	pipe.Set(ctx, c.keys.queueSyncTimestamp, now.Unix(), 0)
	_, err := pipe.Exec(ctx)
	return bouncererrors.WrapStoreTransport(err)
}

// WaitingPage 读取某个 locale 的候车页 HTML（locale="" 表示默认页）。
func (c *Client) WaitingPage(ctx context.Context, locale string) (string, error) {
	val, err := c.rdb.Get(ctx, c.keys.waitingPageKey(locale)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", bouncererrors.WrapStoreTransport(err)
	}
	return val, nil
}

// SetWaitingPage 原样持久化候车页 HTML。
func (c *Client) SetWaitingPage(ctx context.Context, locale, html string) error {
	err := c.rdb.Set(ctx, c.keys.waitingPageKey(locale), html, 0).Err()
	return bouncererrors.WrapStoreTransport(err)
}

// Publish 向该前缀的发布/订阅频道广播一个事件字符串。
func (c *Client) Publish(ctx context.Context, payload string) error {
	err := c.rdb.Publish(ctx, c.keys.channel(), payload).Err()
	return bouncererrors.WrapStoreTransport(err)
}
