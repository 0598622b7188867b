// Package bouncererrors 定义准入控制反向代理的错误分类法。
//
// 错误以包级哨兵变量的形式暴露，通过 errors.Is/errors.As 判定，不建立类型层级。
// ClassifyError 将任意错误映射为低基数字符串，用于日志字段和指标标签。
package bouncererrors

import (
	"context"
	"errors"
	"net"

	"github.com/redis/go-redis/v9"
)

// 预定义错误，对应 SPEC_FULL.md §7 的错误分类法。
var (
	// ErrQueueIDInvalid cookie 中的内容不是合法的 QID。
	// 请求路径上遇到此错误时，应铸造新的 QID 并继续处理（不是致命错误）。
	ErrQueueIDInvalid = errors.New("bouncer: queue id invalid")

	// ErrQueueEnabledOutOfRange queue_enabled 设置值非法。
	ErrQueueEnabledOutOfRange = errors.New("bouncer: queue_enabled out of range")

	// ErrStoreCapacityOutOfRange store_capacity 设置值非法（<-1，或改变了 -1 语义）。
	ErrStoreCapacityOutOfRange = errors.New("bouncer: store_capacity out of range")

	// ErrWaitingPageInvalid 候车页 HTML 压缩/校验失败。
	ErrWaitingPageInvalid = errors.New("bouncer: waiting page invalid")

	// ErrScriptUnreadable 内嵌脚本缺失或格式错误；启动期致命错误。
	ErrScriptUnreadable = errors.New("bouncer: embedded script unreadable")

	// ErrExternalStoreTransport 外部存储传输错误；请求路径上按准入失败处理（503）。
	ErrExternalStoreTransport = errors.New("bouncer: external store transport error")

	// ErrUpstreamTransport 上游传输错误；转换为 502 系列返回调用方。
	ErrUpstreamTransport = errors.New("bouncer: upstream transport error")

	// ErrEventLost 事件总线丢弃了一个事件（慢消费者或无订阅者之外的异常情形）；非致命，计数即可。
	ErrEventLost = errors.New("bouncer: event lost")

	// ErrUnknownEvent 从外部 pub/sub 收到的事件字符串不属于封闭事件集合。
	ErrUnknownEvent = errors.New("bouncer: unknown event")

	// ErrPermitUnavailable 超时窗口内未能获取上游许可；请求路径上返回 503。
	ErrPermitUnavailable = errors.New("bouncer: upstream permit unavailable")

	// ErrUnknownScriptStatus 脚本返回了预期之外的状态码，视为致命错误上抛。
	ErrUnknownScriptStatus = errors.New("bouncer: unknown script status code")

	// errUnknown 兜底的未分类错误，对应 500。不导出：调用方应使用 ClassifyError 判断分类，
	// 而不是直接比较此错误。
	errUnknown = errors.New("bouncer: unknown error")
)

// Unknown 包装一个未归类的错误，使其在 HTTP 映射层落到 500 分支。
func Unknown(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(errUnknown, err)
}

// IsRedisError 判断错误是否来自外部存储（Redis 兼容）传输层。
//
// 设计决策: 与 pkg/distributed/xsemaphore 的同名函数保持一致的判定顺序——
// 先排除 context 取消/超时（客户端侧行为，不代表存储不可用），再检查
// Redis Cluster 专有错误，最后退化到通用网络错误判定。
func IsRedisError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	if isRedisClusterError(err) {
		return true
	}
	return isNetworkError(err)
}

// isRedisClusterError 检查 CLUSTERDOWN/MOVED/ASK/READONLY/CROSSSLOT/MASTERDOWN/LOADING。
// TRYAGAIN 不计入——那是迁移期间的临时状态，应由调用方的重试策略处理，不代表存储不可用。
func isRedisClusterError(err error) bool {
	if redis.IsClusterDownError(err) {
		return true
	}
	if _, ok := redis.IsMovedError(err); ok {
		return true
	}
	if _, ok := redis.IsAskError(err); ok {
		return true
	}
	if redis.IsReadOnlyError(err) {
		return true
	}
	if errors.Is(err, redis.ErrCrossSlot) {
		return true
	}
	if redis.IsMasterDownError(err) {
		return true
	}
	return redis.IsLoadingError(err)
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// WrapStoreTransport 将外部存储调用失败的错误包装为 ErrExternalStoreTransport。
// 非 Redis 相关的错误原样返回，交由上层按通用错误处理。
func WrapStoreTransport(err error) error {
	if err == nil {
		return nil
	}
	if IsRedisError(err) {
		return errors.Join(ErrExternalStoreTransport, err)
	}
	return err
}

// 低基数错误分类常量，用于日志字段/指标标签。
const (
	ClassQueueIDInvalid        = "queue_id_invalid"
	ClassSettingsOutOfRange    = "settings_out_of_range"
	ClassWaitingPageInvalid    = "waiting_page_invalid"
	ClassScriptUnreadable      = "script_unreadable"
	ClassExternalStoreTransport = "external_store_transport"
	ClassUpstreamTransport     = "upstream_transport"
	ClassEventLost             = "event_lost"
	ClassUnknownEvent          = "unknown_event"
	ClassPermitUnavailable     = "permit_unavailable"
	ClassTimeout               = "timeout"
	ClassCanceled              = "canceled"
	ClassUnknown               = "unknown_error"
)

// ClassifyError 将错误映射为低基数字符串，供日志/指标使用。
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrQueueIDInvalid):
		return ClassQueueIDInvalid
	case errors.Is(err, ErrQueueEnabledOutOfRange), errors.Is(err, ErrStoreCapacityOutOfRange):
		return ClassSettingsOutOfRange
	case errors.Is(err, ErrWaitingPageInvalid):
		return ClassWaitingPageInvalid
	case errors.Is(err, ErrScriptUnreadable), errors.Is(err, ErrUnknownScriptStatus):
		return ClassScriptUnreadable
	case errors.Is(err, ErrExternalStoreTransport):
		return ClassExternalStoreTransport
	case errors.Is(err, ErrUpstreamTransport):
		return ClassUpstreamTransport
	case errors.Is(err, ErrEventLost):
		return ClassEventLost
	case errors.Is(err, ErrUnknownEvent):
		return ClassUnknownEvent
	case errors.Is(err, ErrPermitUnavailable):
		return ClassPermitUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled):
		return ClassCanceled
	default:
		return ClassUnknown
	}
}
