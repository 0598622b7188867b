// Package dispatch 实现每请求状态机（SPEC_FULL.md §4.6）：分类、候车室门禁、
// 上游许可获取、ultra-thin 请求转换、代理执行、驱逐信号处理与响应头过滤。
// 对应 original_source/src/omnis.rs 的 omnis_studio_upstream 处理函数。
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/omnisbouncer/bouncer/internal/bouncererrors"
	"github.com/omnisbouncer/bouncer/internal/breaker"
	"github.com/omnisbouncer/bouncer/internal/classify"
	"github.com/omnisbouncer/bouncer/internal/config"
	"github.com/omnisbouncer/bouncer/internal/cookiecrypt"
	"github.com/omnisbouncer/bouncer/internal/qid"
	"github.com/omnisbouncer/bouncer/internal/queuectl"
	"github.com/omnisbouncer/bouncer/internal/ratelimit"
	"github.com/omnisbouncer/bouncer/internal/store"
	"github.com/omnisbouncer/bouncer/internal/ultrathin"
	"github.com/omnisbouncer/bouncer/internal/upstream"
	"github.com/omnisbouncer/bouncer/internal/waitingpage"
	"github.com/omnisbouncer/bouncer/pkg/context/xctx"
	"github.com/omnisbouncer/bouncer/pkg/observability/xlog"
	"github.com/omnisbouncer/bouncer/pkg/util/xid"
)

// responseIgnore 是响应侧的跳跃头集合（SPEC_FULL.md §4.6 步骤 8），比
// omnis.rs 的 UPSTREAM_IGNORE 多出 keep-alive 与 proxy- 前缀族的泛化处理。
var responseIgnore = map[string]struct{}{
	"connection":                {},
	"keep-alive":                {},
	"te":                        {},
	"trailer":                   {},
	"transfer-encoding":         {},
	"upgrade":                   {},
	"upgrade-insecure-requests": {},
	"accept":                    {},
	"accept-encoding":           {},
	"content-length":            {},
	"content-encoding":          {},
}

func keepResponseHeader(name string) bool {
	lower := strings.ToLower(name)
	if _, skip := responseIgnore[lower]; skip {
		return false
	}
	return !strings.HasPrefix(lower, "proxy-")
}

// Handler is the single entry point mounted at "/" — SPEC_FULL.md's router
// has no distinct per-route middleware stacks; route classification and
// per-category rate limiting happen inline per request.
type Handler struct {
	cfg      *config.Config
	sealer   *cookiecrypt.Sealer
	control  *queuectl.Control
	pool     *upstream.Pool
	breakers *breaker.Pool
	limiter  *ratelimit.Limiter
	client   *http.Client
	logger   xlog.LoggerWithLevel
}

// Option configures a Handler at construction time.
type Option func(*Handler)

// WithLogger attaches a structured logger; defaults to xlog.Default().
func WithLogger(l xlog.LoggerWithLevel) Option {
	return func(h *Handler) { h.logger = l }
}

// WithHTTPClient overrides the default upstream HTTP client (tests mostly).
func WithHTTPClient(c *http.Client) Option {
	return func(h *Handler) { h.client = c }
}

// New constructs a request dispatcher.
func New(cfg *config.Config, sealer *cookiecrypt.Sealer, control *queuectl.Control, pool *upstream.Pool, breakers *breaker.Pool, limiter *ratelimit.Limiter, opts ...Option) *Handler {
	h := &Handler{
		cfg:      cfg,
		sealer:   sealer,
		control:  control,
		pool:     pool,
		breakers: breakers,
		limiter:  limiter,
		logger:   xlog.Default(),
		client: &http.Client{
			Timeout: 0, // streaming responses; per-connect timeout lives in the transport's dialer
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	path := r.URL.Path
	method := r.Method

	reqID, err := xid.NewString()
	if err != nil {
		reqID = xid.MustNewStringWithRetry()
	}
	if withID, idErr := xctx.WithRequestID(ctx, reqID); idErr == nil {
		ctx = withID
		r = r.WithContext(ctx)
	}
	w.Header().Set("X-Request-Id", reqID)

	cat := classify.Classify(method, path, h.cfg.FallbackEnabled())
	if cat == classify.Reject {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if rlCat, limited := rateLimitCategory(path); limited && cat != classify.CacheLoad {
		allowed, retryAfter, err := h.limiter.Allow(ctx, rlCat, clientKey(r))
		if err != nil {
			h.logger.Warn(ctx, "rate limiter unavailable, admitting request", slog.String("err_class", bouncererrors.ClassifyError(err)))
		} else if !allowed {
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			}
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
	}

	var id qid.QID
	if cat.RequiresWaitingRoom() {
		newCookie, existingID, err := h.extractOrMintQID(r)
		if err != nil {
			h.logger.Warn(ctx, "queue id cookie invalid, minted new id", slog.String("err", err.Error()))
		}
		id = existingID
		if newCookie {
			http.SetCookie(w, cookiecrypt.ServerCookie(h.cfg.IDCookieName, mustSealQID(h.sealer, id), h.cfg.CookieIDExpiration))
		}

		waiting, err := h.checkWaitingPage(ctx, r, id)
		if err != nil {
			h.logger.Error(ctx, "waiting page check failed", slog.String("err_class", bouncererrors.ClassifyError(err)))
			http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
			return
		}
		if waiting != nil {
			waiting.writeTo(w)
			return
		}

		clearWaitingRoomCookies(w, h.cfg)
		r.Header.Set(h.cfg.IDUpstreamHTTPHeader, id.String())
	}

	permit, ok := h.acquirePermit(ctx, cat, id)
	if !ok {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}
	defer permit.Release()

	h.proxy(w, r, permit, id)
}

// rateLimitCategory maps a path to one of the three configured rate-limit
// dimensions, mirroring the per-router-group rate limiting in omnis.rs
// (each route group optionally carries its own tower RateLimitLayer).
// CacheLoad paths are never rate limited — they're edge-cached.
func rateLimitCategory(path string) (ratelimit.Category, bool) {
	switch {
	case classify.IsJavaScriptClient(path):
		return ratelimit.CategoryJSClient, true
	case classify.IsRESTAPI(path):
		return ratelimit.CategoryAPI, true
	case classify.IsUltraThin(path):
		return ratelimit.CategoryUltra, true
	default:
		return "", false
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// extractOrMintQID decrypts the ID cookie, or mints a new QID if absent or
// invalid (SPEC_FULL.md §4.6 step 2; original_source/src/waiting_room.rs's
// extract_queue_id). Returns whether a new cookie needs to be set.
func (h *Handler) extractOrMintQID(r *http.Request) (newCookie bool, id qid.QID, err error) {
	c, cookieErr := r.Cookie(h.cfg.IDCookieName)
	if cookieErr != nil {
		return true, qid.New(), nil
	}
	decoded, sealErr := h.sealer.OpenQID(c.Value)
	if sealErr != nil {
		return true, qid.New(), sealErr
	}
	return false, decoded, nil
}

func mustSealQID(s *cookiecrypt.Sealer, id qid.QID) string {
	sealed, err := s.SealQID(id)
	if err != nil {
		// AEAD sealing with a valid key never fails on well-formed input;
		// surfacing an empty cookie value is safer than panicking mid-request.
		return ""
	}
	return sealed
}

func clearWaitingRoomCookies(w http.ResponseWriter, cfg *config.Config) {
	http.SetCookie(w, expireCookie(cfg.PositionCookieName))
	http.SetCookie(w, expireCookie(cfg.QueueSizeCookieName))
}

func expireCookie(name string) *http.Cookie {
	return &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, Secure: true, SameSite: http.SameSiteStrictMode}
}

// waitingResponse bundles the 503 waiting-page response (headers, cookies,
// body) assembled by checkWaitingPage.
type waitingResponse struct {
	headers http.Header
	cookies []*http.Cookie
	body    string
}

func (wr *waitingResponse) writeTo(w http.ResponseWriter) {
	h := w.Header()
	for k, vs := range wr.headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, c := range wr.cookies {
		http.SetCookie(w, c)
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = io.WriteString(w, wr.body)
}

// checkWaitingPage calls id_position(create=true); on Queue(n) it assembles
// the 503 waiting response, on Store it returns nil (admission granted).
// Mirrors original_source/src/waiting_room.rs's check_waiting_page.
func (h *Handler) checkWaitingPage(ctx context.Context, r *http.Request, id qid.QID) (*waitingResponse, error) {
	result, err := h.control.IDPosition(ctx, id, true)
	if err != nil {
		return nil, bouncererrors.WrapStoreTransport(err)
	}
	switch result.Position.Kind {
	case store.NotPresent:
		return nil, errors.New("dispatch: id_position returned NotPresent with create=true")
	case store.InStore:
		return nil, nil
	}

	status, err := h.control.QueueStatus(ctx)
	if err != nil {
		return nil, bouncererrors.WrapStoreTransport(err)
	}

	positionStr := strconv.FormatInt(result.Position.Position, 10)
	sizeStr := strconv.FormatInt(status.QueueSize, 10)

	locale := waitingpage.SelectLocale(r.Header.Get("Accept-Language"), h.cfg.Locales, h.cfg.DefaultLocale)

	headers := http.Header{}
	headers.Set("Content-Type", "text/html")
	headers.Set(h.cfg.PositionHTTPHeader, positionStr)
	headers.Set(h.cfg.QueueSizeHTTPHeader, sizeStr)

	return &waitingResponse{
		headers: headers,
		cookies: []*http.Cookie{
			cookiecrypt.BrowserCookie(h.cfg.PositionCookieName, positionStr),
			cookiecrypt.BrowserCookie(h.cfg.QueueSizeCookieName, sizeStr),
		},
		body: h.control.CachedWaitingPage(locale),
	}, nil
}

// acquirePermit dispatches to the pool operation matching cat, mirroring
// omnis.rs's get_connection match on ConnectionType.
func (h *Handler) acquirePermit(ctx context.Context, cat classify.Category, id qid.QID) (*upstream.Permit, bool) {
	switch cat {
	case classify.CacheLoad:
		return h.pool.AcquireCacheLoadPermit()
	case classify.StickySession:
		return h.pool.AcquireStickySessionPermit(ctx, id, h.cfg.AcquireTimeout)
	case classify.RegularSkip, classify.RegularRequired:
		return h.pool.AcquireConnectionPermit(ctx, h.cfg.AcquireTimeout)
	default:
		return nil, false
	}
}

// proxy builds the upstream request (ultra-thin transform included),
// executes it behind the upstream's circuit breaker, and streams the
// response back, filtering hop-by-hop headers and handling the eviction
// signal (SPEC_FULL.md §4.6 steps 5-8).
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request, permit *upstream.Permit, id qid.QID) {
	ctx := r.Context()

	if !h.breakers.Allow(permit.URI()) {
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	upstreamReq, err := h.buildUpstreamRequest(r, permit.URI())
	if err != nil {
		h.logger.Error(ctx, "building upstream request failed", slog.String("err", err.Error()))
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	var resp *http.Response
	doErr := h.breakers.Do(ctx, permit.URI(), func() error {
		var sendErr error
		resp, sendErr = h.client.Do(upstreamReq)
		if sendErr != nil {
			return bouncererrors.ErrUpstreamTransport
		}
		return nil
	})
	if doErr != nil {
		h.logger.Warn(ctx, "upstream request failed", slog.String("uri", permit.URI()), slog.String("err_class", bouncererrors.ClassifyError(doErr)))
		http.Error(w, "Bad Gateway", bouncererrors.HTTPStatus(doErr))
		return
	}
	defer resp.Body.Close()

	if evictValue := resp.Header.Get(h.cfg.IDEvictUpstreamHTTPHeader); evictValue != "" {
		h.evict(ctx, w, id)
	}

	dst := w.Header()
	for name, values := range resp.Header {
		if !keepResponseHeader(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// evict implements SPEC_FULL.md §4.6 step 7: delete the ID cookie, drop the
// sticky binding, and remove the QID from the external store. Non-fatal —
// failures are logged, never surfaced to the client.
func (h *Handler) evict(ctx context.Context, w http.ResponseWriter, id qid.QID) {
	http.SetCookie(w, expireCookie(h.cfg.IDCookieName))
	h.pool.RemoveStickySession(id)
	if err := h.control.IDRemove(ctx, id); err != nil {
		h.logger.Warn(ctx, "id_remove failed during eviction", slog.String("err_class", bouncererrors.ClassifyError(err)))
	}
}

func (h *Handler) buildUpstreamRequest(r *http.Request, upstreamURI string) (*http.Request, error) {
	target := upstreamURI + r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	headers := r.Header.Clone()
	method := r.Method
	query := r.URL.RawQuery
	path := r.URL.Path

	var body io.Reader = r.Body
	fallback := !classify.IsUltraThin(path) && h.cfg.FallbackEnabled()

	if (classify.IsUltraThin(path) || fallback) && h.cfg.UltraThinInjectHeaders {
		remoteAddr, remotePort := splitRemoteAddr(r.RemoteAddr)
		meta := ultrathin.BuildMetadata(time.Now(), method, path, query, remoteAddr, remotePort, headers)

		switch {
		case fallback:
			originalBody, readErr := io.ReadAll(r.Body)
			if readErr != nil {
				return nil, readErr
			}
			meta = ultrathin.PrependFallbackTask(h.cfg.FallbackUltraThinLibrary, h.cfg.FallbackUltraThinClass, meta, method, originalBody)
			headers.Del("Content-Length")
			headers.Set("Content-Type", "application/x-www-form-urlencoded")
			method = http.MethodPost
			path = "/ultra"
			target = upstreamURI + path
			body = bytes.NewReader(ultrathin.AppendToFormBody(nil, meta))
		case method == http.MethodGet:
			target = upstreamURI + path + "?" + ultrathin.AppendToQuery(query, meta)
			body = r.Body
		case method == http.MethodPost && headers.Get("Content-Type") == "application/x-www-form-urlencoded":
			originalBody, readErr := io.ReadAll(r.Body)
			if readErr != nil {
				return nil, readErr
			}
			headers.Del("Content-Length")
			body = bytes.NewReader(ultrathin.AppendToFormBody(originalBody, meta))
		default:
			body = r.Body
		}
	}

	req, err := http.NewRequestWithContext(r.Context(), method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header = headers
	return req, nil
}

func splitRemoteAddr(remoteAddr string) (addr, port string) {
	host, p, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr, ""
	}
	return host, p
}
