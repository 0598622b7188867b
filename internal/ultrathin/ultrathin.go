// Package ultrathin 实现 ultra-thin 协议的请求转换（SPEC_FULL.md §4.7）：
// Omnis Studio 的遗留协议变体期望协议元数据以 in-band 的 key=value 形式
// 出现在查询串或表单体中，而不是 HTTP 头。对应
// original_source/src/omnis.rs 中 ultra_thin_headers 的构建逻辑，按
// SPEC_FULL.md 扩展为有序的 SERVER_TIME/HTTP_METHOD/HTTP_PATH/... 前缀字段。
package ultrathin

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ignoreHeaders 对应 omnis.rs 的 ULTRA_THIN_IGNORE：这些头不会被转换为
// HTTP_<NAME> 元数据字段——它们要么是传输层细节，要么会在转换后失真。
var ignoreHeaders = map[string]struct{}{
	"accept-encoding":           {},
	"content-length":            {},
	"content-encoding":          {},
	"connection":                {},
	"proxy-authenticate":        {},
	"proxy-authorization":       {},
	"te":                        {},
	"trailer":                   {},
	"transfer-encoding":         {},
	"upgrade":                   {},
	"upgrade-insecure-requests": {},
}

func includeHeader(name string) bool {
	lower := strings.ToLower(name)
	if _, skip := ignoreHeaders[lower]; skip {
		return false
	}
	return !strings.HasPrefix(lower, "sec-")
}

// encodeComponent percent-encodes a value the way a typical
// encodeURIComponent/urlencoding::encode would: url.QueryEscape, but with
// "+" (its space encoding) swapped for "%20" to match form metadata
// conventions used by the upstream parser.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func headerMetaName(name string) string {
	return "HTTP_" + strings.ReplaceAll(strings.ToUpper(name), "-", "_")
}

// BuildMetadata returns the ordered key=value list SPEC_FULL.md §4.7
// mandates: SERVER_TIME, HTTP_METHOD, HTTP_PATH, REMOTE_ADDR, REMOTE_PORT,
// an optional HTTP_QUERY, then one HTTP_<UPPER_SNAKE> entry per retained
// request header, sorted by header name for determinism (net/http's
// http.Header iteration order is unspecified, unlike the single ordered
// HeaderMap the original iterates). Only the per-header HTTP_<UPPER_SNAKE>
// values are percent-encoded, matching omnis.rs's urlencoding::encode on
// retained header values; the leading fields (SERVER_TIME/HTTP_METHOD/
// HTTP_PATH/REMOTE_ADDR/REMOTE_PORT/HTTP_QUERY) are emitted literally.
func BuildMetadata(now time.Time, method, path, query, remoteAddr, remotePort string, headers http.Header) []string {
	meta := []string{
		"SERVER_TIME=" + strconv.FormatInt(now.Unix(), 10),
		"HTTP_METHOD=" + method,
		"HTTP_PATH=" + path,
		"REMOTE_ADDR=" + remoteAddr,
		"REMOTE_PORT=" + remotePort,
	}
	if query != "" {
		meta = append(meta, "HTTP_QUERY="+query)
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		if includeHeader(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range headers[name] {
			meta = append(meta, headerMetaName(name)+"="+encodeComponent(v))
		}
	}
	return meta
}

// AppendToQuery appends the metadata list to an existing query string,
// joined by "&" (SPEC_FULL.md §4.7's GET /ultra case).
func AppendToQuery(query string, meta []string) string {
	joined := strings.Join(meta, "&")
	if query == "" {
		return joined
	}
	return query + "&" + joined
}

// AppendToFormBody appends "&<metadata>" to a form-urlencoded POST body
// (SPEC_FULL.md §4.7's POST /ultra case). The caller is responsible for
// dropping the incoming Content-Length header so the transport recomputes
// it for the new length.
func AppendToFormBody(body []byte, meta []string) []byte {
	joined := strings.Join(meta, "&")
	if len(body) == 0 {
		return []byte(joined)
	}
	out := make([]byte, 0, len(body)+1+len(joined))
	out = append(out, body...)
	out = append(out, '&')
	out = append(out, joined...)
	return out
}
