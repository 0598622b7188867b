package store

import (
	"context"
	_ "embed"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/omnisbouncer/bouncer/internal/bouncererrors"
)

// 七个原子操作的 Lua 源码，构建期嵌入。永远不要拼接字符串来构造脚本体
// （SPEC_FULL.md §9 "Scripts as data"）：脚本身份即其源码的哈希。
var (
	//go:embed lua/check_sync_keys.lua
	checkSyncKeysSource string

	//go:embed lua/has_ids.lua
	hasIDsSource string

	//go:embed lua/id_position.lua
	idPositionSource string

	//go:embed lua/id_remove.lua
	idRemoveSource string

	//go:embed lua/store_timeout.lua
	storeTimeoutSource string

	//go:embed lua/queue_timeout.lua
	queueTimeoutSource string

	//go:embed lua/store_promote.lua
	storePromoteSource string
)

// scripts 持有全部七个脚本的 *redis.Script 单例。
type scripts struct {
	checkSyncKeys *redis.Script
	hasIDs        *redis.Script
	idPosition    *redis.Script
	idRemove      *redis.Script
	storeTimeout  *redis.Script
	queueTimeout  *redis.Script
	storePromote  *redis.Script
}

var (
	globalScripts     *scripts
	globalScriptsOnce sync.Once
)

func getScripts() *scripts {
	globalScriptsOnce.Do(func() {
		globalScripts = &scripts{
			checkSyncKeys: redis.NewScript(checkSyncKeysSource),
			hasIDs:        redis.NewScript(hasIDsSource),
			idPosition:    redis.NewScript(idPositionSource),
			idRemove:      redis.NewScript(idRemoveSource),
			storeTimeout:  redis.NewScript(storeTimeoutSource),
			queueTimeout:  redis.NewScript(queueTimeoutSource),
			storePromote:  redis.NewScript(storePromoteSource),
		}
	})
	return globalScripts
}

// WarmupScripts 在应用启动时预加载全部脚本（SCRIPT LOAD），避免首次执行的
// 编译开销。顺序加载而非管道化批量加载：启动期一次性操作，额外几毫秒 RTT
// 换来更容易定位的失败信息，与 xsemaphore.WarmupScripts 的取舍一致。
//
// 任一脚本缺失或 Redis 不可达都会返回 bouncererrors.ErrScriptUnreadable
// 包装的错误；调用方应将其视为启动期致命错误。
func WarmupScripts(ctx context.Context, client redis.UniversalClient) error {
	s := getScripts()
	named := []struct {
		name   string
		script *redis.Script
	}{
		{"check_sync_keys", s.checkSyncKeys},
		{"has_ids", s.hasIDs},
		{"id_position", s.idPosition},
		{"id_remove", s.idRemove},
		{"store_timeout", s.storeTimeout},
		{"queue_timeout", s.queueTimeout},
		{"store_promote", s.storePromote},
	}
	for _, n := range named {
		if err := n.script.Load(ctx, client).Err(); err != nil {
			return fmt.Errorf("%w: load %s script: %v", bouncererrors.ErrScriptUnreadable, n.name, err)
		}
	}
	return nil
}
