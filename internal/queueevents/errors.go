package queueevents

import "errors"

// errSubscriptionClosed 表示底层 pubsub 通道被 go-redis 关闭（通常伴随连接
// 断开），触发 Bridge.Run 的重试循环。
var errSubscriptionClosed = errors.New("queueevents: subscription channel closed")
