package bouncererrors

import (
	"errors"
	"net/http"
)

// HTTPStatus 将错误映射为请求路径上应返回的状态码。
//
// 对应 SPEC_FULL.md §7 的传播策略：请求路径错误产出具体状态码 + 简短文本体；
// 后台路径错误只记录日志，不会走到这里。
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrQueueIDInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrQueueEnabledOutOfRange), errors.Is(err, ErrStoreCapacityOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrWaitingPageInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrExternalStoreTransport):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPermitUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUpstreamTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
