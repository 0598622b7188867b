package config

import "github.com/omnisbouncer/bouncer/internal/store"

// storeCapacityFrom 对应 queue.rs 的 StoreCapacity::from(isize)：-1 表示
// Unlimited，否则为非负的 Sized 容量。
func storeCapacityFrom(raw int64) (store.StoreCapacity, error) {
	return store.ParseCapacity(raw)
}
