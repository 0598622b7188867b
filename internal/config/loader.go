package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/omnisbouncer/bouncer/pkg/config/xconf"
)

// rawConfig 镜像 original_source/src/cli.rs 的 RunArgs：字段名、默认值与
// OMNIS_BOUNCER_* 环境变量一一对应。配置文件（YAML/JSON）的键使用相同的
// snake_case 名称。
type rawConfig struct {
	Name                string   `koanf:"name"`
	DefaultLocale       string   `koanf:"default_locale"`
	Locales             []string `koanf:"locales"`
	CookieKey           string   `koanf:"cookie_key"`
	RedisURI            string   `koanf:"redis_uri"`
	Upstream            []string `koanf:"upstream"`
	UpstreamConnections int64    `koanf:"upstream_connections"`
	UpstreamSessions    int64    `koanf:"upstream_sessions"`

	PublicTLSKey                 string `koanf:"public_tls_key"`
	PublicTLSCertificate         string `koanf:"public_tls_certificate"`
	PublicTLSKeyPath             string `koanf:"public_tls_key_path"`
	PublicTLSCertificatePath     string `koanf:"public_tls_certificate_path"`
	MonitorTLSKey                string `koanf:"monitor_tls_key"`
	MonitorTLSCertificate        string `koanf:"monitor_tls_certificate"`
	MonitorTLSKeyPath            string `koanf:"monitor_tls_key_path"`
	MonitorTLSCertificatePath    string `koanf:"monitor_tls_certificate_path"`

	IDCookieName               string `koanf:"id_cookie_name"`
	PositionCookieName         string `koanf:"position_cookie_name"`
	QueueSizeCookieName        string `koanf:"queue_size_cookie_name"`
	IDEvictUpstreamHTTPHeader  string `koanf:"id_evict_upstream_http_header"`
	IDUpstreamHTTPHeader       string `koanf:"id_upstream_http_header"`
	PositionHTTPHeader         string `koanf:"position_http_header"`
	QueueSizeHTTPHeader        string `koanf:"queue_size_http_header"`

	AcquireTimeoutSecs       int64 `koanf:"acquire_timeout"`
	ConnectTimeoutSecs       int64 `koanf:"connect_timeout"`
	CookieIDExpirationSecs   int64 `koanf:"cookie_id_expiration"`
	StickySessionTimeoutSecs int64 `koanf:"sticky_session_timeout"`
	AssetCacheSecs           int64 `koanf:"asset_cache_secs"`
	BufferConnections        int   `koanf:"buffer_connections"`

	JSClientRateLimitPerSec int `koanf:"js_client_rate_limit_per_sec"`
	APIRateLimitPerSec      int `koanf:"api_rate_limit_per_sec"`
	UltraRateLimitPerSec    int `koanf:"ultra_rate_limit_per_sec"`

	PublicHTTPPort    int `koanf:"public_http_port"`
	PublicHTTPSPort   int `koanf:"public_https_port"`
	MonitorHTTPSPort  int `koanf:"monitor_https_port"`

	QueueEnabled         bool  `koanf:"queue_enabled"`
	QueueRotationEnabled bool  `koanf:"queue_rotation_enabled"`
	StoreCapacity        int64 `koanf:"store_capacity"`
	RedisPrefix          string `koanf:"redis_prefix"`

	QuarantineExpirySecs  int64 `koanf:"quarantine_expiry"`
	ValidatedExpirySecs   int64 `koanf:"validated_expiry"`
	PublishThrottleMillis int64 `koanf:"publish_throttle"`

	UltraThinInjectHeaders   bool   `koanf:"ultra_thin_inject_headers"`
	FallbackUltraThinLibrary string `koanf:"fallback_ultra_thin_library"`
	FallbackUltraThinClass   string `koanf:"fallback_ultra_thin_class"`
}

// defaultRaw 返回 cli.rs 中每个参数的 default_value。
func defaultRaw() rawConfig {
	return rawConfig{
		Name:                      "Omnis Bouncer",
		DefaultLocale:             "en",
		Locales:                   []string{"en"},
		RedisURI:                  "redis://127.0.0.1",
		UpstreamConnections:       100,
		UpstreamSessions:          10,
		IDCookieName:              "omnis-bouncer-id",
		PositionCookieName:        "omnis-bouncer-queue-position",
		QueueSizeCookieName:       "omnis-bouncer-queue-size",
		IDEvictUpstreamHTTPHeader: "x-omnis-bouncer-id-evict",
		IDUpstreamHTTPHeader:      "x-omnis-bouncer-id",
		PositionHTTPHeader:        "x-omnis-bouncer-queue-position",
		QueueSizeHTTPHeader:       "x-omnis-bouncer-queue-size",
		AcquireTimeoutSecs:        10,
		ConnectTimeoutSecs:        10,
		CookieIDExpirationSecs:    86400,
		StickySessionTimeoutSecs:  600,
		AssetCacheSecs:            60,
		BufferConnections:         1000,
		JSClientRateLimitPerSec:   0,
		APIRateLimitPerSec:        5,
		UltraRateLimitPerSec:      0,
		PublicHTTPPort:            3000,
		PublicHTTPSPort:           3001,
		MonitorHTTPSPort:          2999,
		QueueEnabled:              true,
		QueueRotationEnabled:      true,
		StoreCapacity:             5,
		RedisPrefix:               "omnis_bouncer",
		QuarantineExpirySecs:      45,
		ValidatedExpirySecs:       600,
		PublishThrottleMillis:     100,
		UltraThinInjectHeaders:    true,
	}
}

// envOverrides 是环境变量名到覆盖 raw 对应字段的函数，对应 cli.rs 每个参数
// 的 env = "OMNIS_BOUNCER_..." 属性：环境变量存在时覆盖文件/默认值。
func envOverrides(raw *rawConfig) error {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}
	strList := func(name string, dst *[]string) {
		if v, ok := os.LookupEnv(name); ok {
			parts := strings.Split(v, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			*dst = parts
		}
	}
	boolVal := func(name string, dst *bool) error {
		if v, ok := os.LookupEnv(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = b
		}
		return nil
	}
	intVal := func(name string, dst *int) error {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = n
		}
		return nil
	}
	int64Val := func(name string, dst *int64) error {
		if v, ok := os.LookupEnv(name); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("config: %s: %w", name, err)
			}
			*dst = n
		}
		return nil
	}

	str("OMNIS_BOUNCER_NAME", &raw.Name)
	str("OMNIS_BOUNCER_DEFAULT_LOCALE", &raw.DefaultLocale)
	strList("OMNIS_BOUNCER_LOCALES", &raw.Locales)
	str("OMNIS_BOUNCER_COOKIE_KEY", &raw.CookieKey)
	str("OMNIS_BOUNCER_REDIS_URI", &raw.RedisURI)
	strList("OMNIS_BOUNCER_UPSTREAM_URIS", &raw.Upstream)
	if err := int64Val("OMNIS_BOUNCER_UPSTREAM_CONNECTIONS", &raw.UpstreamConnections); err != nil {
		return err
	}
	if err := int64Val("OMNIS_BOUNCER_UPSTREAM_SESSIONS", &raw.UpstreamSessions); err != nil {
		return err
	}
	str("OMNIS_BOUNCER_PUBLIC_TLS_KEY", &raw.PublicTLSKey)
	str("OMNIS_BOUNCER_PUBLIC_TLS_CERTIFICATE", &raw.PublicTLSCertificate)
	str("OMNIS_BOUNCER_PUBLIC_TLS_KEY_PATH", &raw.PublicTLSKeyPath)
	str("OMNIS_BOUNCER_PUBLIC_TLS_CERTIFICATE_PATH", &raw.PublicTLSCertificatePath)
	str("OMNIS_BOUNCER_MONITOR_TLS_KEY", &raw.MonitorTLSKey)
	str("OMNIS_BOUNCER_MONITOR_TLS_CERTIFICATE", &raw.MonitorTLSCertificate)
	str("OMNIS_BOUNCER_MONITOR_TLS_KEY_PATH", &raw.MonitorTLSKeyPath)
	str("OMNIS_BOUNCER_MONITOR_TLS_CERTIFICATE_PATH", &raw.MonitorTLSCertificatePath)
	str("OMNIS_BOUNCER_COOKIE_ID_NAME", &raw.IDCookieName)
	str("OMNIS_BOUNCER_COOKIE_POSITION_NAME", &raw.PositionCookieName)
	str("OMNIS_BOUNCER_COOKIE_QUEUE_SIZE_NAME", &raw.QueueSizeCookieName)
	str("OMNIS_BOUNCER_UPSTREAM_HTTP_HEADER_ID_EVICT_NAME", &raw.IDEvictUpstreamHTTPHeader)
	str("OMNIS_BOUNCER_UPSTREAM_HTTP_HEADER_ID_NAME", &raw.IDUpstreamHTTPHeader)
	str("OMNIS_BOUNCER_HTTP_HEADER_POSITION_NAME", &raw.PositionHTTPHeader)
	str("OMNIS_BOUNCER_HTTP_HEADER_QUEUE_SIZE_NAME", &raw.QueueSizeHTTPHeader)
	if err := int64Val("OMNIS_BOUNCER_ACQUIRE_TIMEOUT_SECS", &raw.AcquireTimeoutSecs); err != nil {
		return err
	}
	if err := int64Val("OMNIS_BOUNCER_CONNECT_TIMEOUT_SECS", &raw.ConnectTimeoutSecs); err != nil {
		return err
	}
	if err := int64Val("OMNIS_BOUNCER_COOKIE_ID_EXPIRATION_SECS", &raw.CookieIDExpirationSecs); err != nil {
		return err
	}
	if err := int64Val("OMNIS_BOUNCER_STICKY_SESSION_TIMEOUT_SECS", &raw.StickySessionTimeoutSecs); err != nil {
		return err
	}
	if err := int64Val("OMNIS_BOUNCER_ASSET_CACHE_SECS", &raw.AssetCacheSecs); err != nil {
		return err
	}
	if err := intVal("OMNIS_BOUNCER_BUFFER_CONNECTIONS", &raw.BufferConnections); err != nil {
		return err
	}
	if err := intVal("OMNIS_BOUNCER_JS_CLIENT_RATE_LIMIT_PER_SEC", &raw.JSClientRateLimitPerSec); err != nil {
		return err
	}
	if err := intVal("OMNIS_BOUNCER_API_RATE_LIMIT_PER_SEC", &raw.APIRateLimitPerSec); err != nil {
		return err
	}
	if err := intVal("OMNIS_BOUNCER_ULTRA_THIN_RATE_LIMIT_PER_SEC", &raw.UltraRateLimitPerSec); err != nil {
		return err
	}
	if err := intVal("OMNIS_BOUNCER_PUBLIC_HTTP_PORT", &raw.PublicHTTPPort); err != nil {
		return err
	}
	if err := intVal("OMNIS_BOUNCER_PUBLIC_HTTPS_PORT", &raw.PublicHTTPSPort); err != nil {
		return err
	}
	if err := intVal("OMNIS_BOUNCER_MONITOR_HTTPS_PORT", &raw.MonitorHTTPSPort); err != nil {
		return err
	}
	if err := boolVal("OMNIS_BOUNCER_QUEUE_ENABLED", &raw.QueueEnabled); err != nil {
		return err
	}
	if err := boolVal("OMNIS_BOUNCER_QUEUE_ROTATION_ENABLED", &raw.QueueRotationEnabled); err != nil {
		return err
	}
	if err := int64Val("OMNIS_BOUNCER_STORE_CAPACITY", &raw.StoreCapacity); err != nil {
		return err
	}
	str("OMNIS_BOUNCER_REDIS_PREFIX", &raw.RedisPrefix)
	if err := int64Val("OMNIS_BOUNCER_QUARANTINE_EXPIRY_SECS", &raw.QuarantineExpirySecs); err != nil {
		return err
	}
	if err := int64Val("OMNIS_BOUNCER_VALIDATED_EXPIRY_SECS", &raw.ValidatedExpirySecs); err != nil {
		return err
	}
	if err := int64Val("OMNIS_BOUNCER_PUBLISH_THROTTLE_MILLIS", &raw.PublishThrottleMillis); err != nil {
		return err
	}
	if err := boolVal("OMNIS_BOUNCER_ULTRA_THIN_INJECT_HEADERS", &raw.UltraThinInjectHeaders); err != nil {
		return err
	}
	str("OMNIS_BOUNCER_FALLBACK_ULTRA_THIN_LIBRARY", &raw.FallbackUltraThinLibrary)
	str("OMNIS_BOUNCER_FALLBACK_ULTRA_THIN_CLASS", &raw.FallbackUltraThinClass)

	return nil
}

// Load 加载配置：先以 cli.rs 的默认值为基线，若 path 非空则用 pkg/config/xconf
// 解析的文件内容覆盖（仅覆盖文件中出现的键），最后应用 OMNIS_BOUNCER_* 环境
// 变量覆盖（env 优先级最高，与 cli.rs 的 clap env 属性语义一致）。
func Load(path string) (*Config, error) {
	raw := defaultRaw()

	if path != "" {
		cfg, err := xconf.New(path)
		if err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
		if err := cfg.Unmarshal("", &raw); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := envOverrides(&raw); err != nil {
		return nil, err
	}

	return build(raw)
}

func build(raw rawConfig) (*Config, error) {
	cookieKey, err := resolveCookieKey(raw.CookieKey)
	if err != nil {
		return nil, err
	}

	publicTLS, err := buildTLSPair(raw.PublicTLSCertificatePath, raw.PublicTLSKeyPath, raw.PublicTLSCertificate, raw.PublicTLSKey)
	if err != nil {
		return nil, fmt.Errorf("config: public tls: %w", err)
	}
	monitorTLS, err := buildTLSPair(raw.MonitorTLSCertificatePath, raw.MonitorTLSKeyPath, raw.MonitorTLSCertificate, raw.MonitorTLSKey)
	if err != nil {
		return nil, fmt.Errorf("config: monitor tls: %w", err)
	}

	storeCapacity, err := storeCapacityFrom(raw.StoreCapacity)
	if err != nil {
		return nil, err
	}

	locales := make([]string, len(raw.Locales))
	for i, l := range raw.Locales {
		locales[i] = strings.ToLower(l)
	}

	return &Config{
		AppName:                  raw.Name,
		DefaultLocale:            strings.ToLower(raw.DefaultLocale),
		Locales:                  locales,
		CookieSecretKey:          cookieKey,
		RedisURI:                 raw.RedisURI,
		RedisPrefix:              raw.RedisPrefix,
		InitialUpstreams:         buildUpstreams(raw.Upstream, raw.UpstreamConnections, raw.UpstreamSessions),
		PublicTLS:                publicTLS,
		MonitorTLS:               monitorTLS,
		IDCookieName:             raw.IDCookieName,
		PositionCookieName:       raw.PositionCookieName,
		QueueSizeCookieName:      raw.QueueSizeCookieName,
		IDUpstreamHTTPHeader:     strings.ToLower(raw.IDUpstreamHTTPHeader),
		IDEvictUpstreamHTTPHeader: strings.ToLower(raw.IDEvictUpstreamHTTPHeader),
		PositionHTTPHeader:       strings.ToLower(raw.PositionHTTPHeader),
		QueueSizeHTTPHeader:      strings.ToLower(raw.QueueSizeHTTPHeader),
		AcquireTimeout:           time.Duration(raw.AcquireTimeoutSecs) * time.Second,
		ConnectTimeout:           time.Duration(raw.ConnectTimeoutSecs) * time.Second,
		CookieIDExpiration:       time.Duration(raw.CookieIDExpirationSecs) * time.Second,
		StickySessionTimeout:     time.Duration(raw.StickySessionTimeoutSecs) * time.Second,
		AssetCacheTTL:            time.Duration(raw.AssetCacheSecs) * time.Second,
		BufferConnections:        raw.BufferConnections,
		RateLimits: ratelimit.Limits{
			JSClient: raw.JSClientRateLimitPerSec,
			API:      raw.APIRateLimitPerSec,
			Ultra:    raw.UltraRateLimitPerSec,
		},
		HTTPPort:                 raw.PublicHTTPPort,
		HTTPSPort:                raw.PublicHTTPSPort,
		ControlPort:              raw.MonitorHTTPSPort,
		QueueEnabled:             raw.QueueEnabled,
		QueueRotationEnabled:     raw.QueueRotationEnabled,
		StoreCapacity:            storeCapacity,
		QueuePrefix:              raw.RedisPrefix,
		QuarantineExpiry:         time.Duration(raw.QuarantineExpirySecs) * time.Second,
		ValidatedExpiry:          time.Duration(raw.ValidatedExpirySecs) * time.Second,
		PublishThrottle:          time.Duration(raw.PublishThrottleMillis) * time.Millisecond,
		UltraThinInjectHeaders:   raw.UltraThinInjectHeaders,
		FallbackUltraThinLibrary: raw.FallbackUltraThinLibrary,
		FallbackUltraThinClass:   raw.FallbackUltraThinClass,
	}, nil
}
