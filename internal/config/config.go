// Package config 定义 bouncer 的完整运行时配置（SPEC_FULL.md §2/§6），
// 字段集合镜像 original_source/src/config.rs 与 src/cli.rs 的 RunArgs，
// 取值来源为配置文件（YAML/JSON，经 pkg/config/xconf 加载）与环境变量
// （OMNIS_BOUNCER_* 前缀，环境变量覆盖文件）。
package config

import (
	"time"

	"github.com/omnisbouncer/bouncer/internal/ratelimit"
	"github.com/omnisbouncer/bouncer/internal/store"
	"github.com/omnisbouncer/bouncer/internal/upstream"
)

// TLSPair 是一对 PEM 编码的证书/私钥，来源可以是内联字符串或文件路径
// （由调用方在加载阶段二选一读入后统一存成字节），对应 config.rs 的
// build_tls_pair。nil 表示未配置证书：PublicTLS 为 nil 时不启动 HTTPS 监听
// （见 cmd/bouncer 的 buildServers）。
type TLSPair struct {
	CertPEM []byte
	KeyPEM  []byte
}

// Config 是服务启动所需的全部配置，字段顺序与含义对应 config.rs::Config。
type Config struct {
	AppName       string
	DefaultLocale string
	Locales       []string

	// CookieSecretKey 是 32 字节 ChaCha20-Poly1305 密钥，供 internal/cookiecrypt
	// 使用；由 resolveCookieKey 从 cookie_key 配置项（或 OMNIS_BOUNCER_COOKIE_KEY，
	// base64 编码的主密钥）经 HKDF 派生。未配置时 resolveCookieKey 随机生成一次
	// 主密钥，重启后失效（与原实现的 axum_extra Key::generate 语义一致）。
	CookieSecretKey []byte

	RedisURI    string
	RedisPrefix string

	InitialUpstreams []upstream.Upstream

	PublicTLS  *TLSPair
	MonitorTLS *TLSPair

	IDCookieName        string
	PositionCookieName  string
	QueueSizeCookieName string

	// IDUpstreamHTTPHeader 携带 QID 传递给 Omnis Studio 上游；
	// IDEvictUpstreamHTTPHeader 是上游在响应中设置以触发驱逐的头
	// （SPEC_FULL.md §4.6 步骤 7）。两者都必须是小写（HTTP 头名大小写不敏感，
	// 但原实现强制小写存储以简化比较，这里沿用）。
	IDUpstreamHTTPHeader      string
	IDEvictUpstreamHTTPHeader string
	PositionHTTPHeader        string
	QueueSizeHTTPHeader       string

	AcquireTimeout       time.Duration
	ConnectTimeout       time.Duration
	CookieIDExpiration   time.Duration
	StickySessionTimeout time.Duration
	AssetCacheTTL        time.Duration

	BufferConnections int

	RateLimits ratelimit.Limits

	HTTPPort    int
	HTTPSPort   int
	ControlPort int

	QueueEnabled         bool
	QueueRotationEnabled bool
	StoreCapacity        store.StoreCapacity

	QueuePrefix      string
	QuarantineExpiry time.Duration
	ValidatedExpiry  time.Duration
	PublishThrottle  time.Duration

	UltraThinInjectHeaders   bool
	FallbackUltraThinLibrary string
	FallbackUltraThinClass   string
}

// FallbackEnabled 报告是否配置了 ultra-thin 兜底（库名与任务类名都非空），
// 对应 internal/classify.Classify 的 fallbackEnabled 参数来源。
func (c *Config) FallbackEnabled() bool {
	return c.FallbackUltraThinLibrary != "" && c.FallbackUltraThinClass != ""
}
