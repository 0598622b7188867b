// bouncer 是 Omnis Studio 准入控制反向代理的可执行入口。
//
// 用法:
//
//	bouncer [全局选项]
//
// 全局选项:
//
//	-c, --config   配置文件路径（YAML/JSON，可选；缺省时完全依赖默认值
//	               加上 OMNIS_BOUNCER_* 环境变量覆盖）
//
// 退出码:
//
//	0: 正常关闭
//	1: 启动失败（配置错误、Redis 不可达、脚本装载失败等）
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"

	"github.com/omnisbouncer/bouncer/internal/breaker"
	"github.com/omnisbouncer/bouncer/internal/config"
	"github.com/omnisbouncer/bouncer/internal/cookiecrypt"
	"github.com/omnisbouncer/bouncer/internal/dispatch"
	"github.com/omnisbouncer/bouncer/internal/eventbus"
	"github.com/omnisbouncer/bouncer/internal/queuectl"
	"github.com/omnisbouncer/bouncer/internal/queueevents"
	"github.com/omnisbouncer/bouncer/internal/ratelimit"
	"github.com/omnisbouncer/bouncer/internal/rotator"
	"github.com/omnisbouncer/bouncer/internal/store"
	"github.com/omnisbouncer/bouncer/internal/upstream"
	"github.com/omnisbouncer/bouncer/pkg/observability/xlog"
)

// shutdownTimeout 是优雅关闭的最大等待时间（spec.md §5）。
const shutdownTimeout = 60 * time.Second

func main() {
	os.Exit(run())
}

func createApp() *cli.Command {
	return &cli.Command{
		Name:  "bouncer",
		Usage: "Omnis Studio 准入控制反向代理",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（YAML/JSON）",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx, cmd.String("config"))
		},
	}
}

func run() int {
	app := createApp()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, configPath string) error {
	logger := xlog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	rdb, err := newRedisClient(cfg.RedisURI)
	if err != nil {
		return fmt.Errorf("连接 Redis 失败: %w", err)
	}
	defer rdb.Close()

	if err := store.WarmupScripts(ctx, rdb); err != nil {
		return fmt.Errorf("装载 Redis 脚本失败: %w", err)
	}

	sc, err := store.New(rdb, cfg.RedisPrefix)
	if err != nil {
		return fmt.Errorf("初始化存储客户端失败: %w", err)
	}

	control, err := queuectl.New(sc,
		queuectl.WithDurations(queuectl.Durations{Quarantine: cfg.QuarantineExpiry, Validated: cfg.ValidatedExpiry}),
		queuectl.WithThrottleWindow(cfg.PublishThrottle),
		queuectl.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("初始化队列控制失败: %w", err)
	}
	defer control.Close()

	if err := control.Init(ctx, cfg.QueueEnabled, cfg.StoreCapacity); err != nil {
		return fmt.Errorf("初始化队列默认值失败: %w", err)
	}

	pool := upstream.New(cfg.StickySessionTimeout)
	pool.AddUpstreams(cfg.InitialUpstreams)

	sealer, err := cookiecrypt.New(cfg.CookieSecretKey)
	if err != nil {
		return fmt.Errorf("初始化 Cookie 加密器失败: %w", err)
	}

	limiter := ratelimit.New(rdb, cfg.RateLimits)
	breakers := breaker.New()

	bus := eventbus.New(cfg.BufferConnections)
	bridge := queueevents.New(rdb, sc.Channel(), sc.Prefix(), bus, queueevents.WithLogger(logger))

	handler := dispatch.New(cfg, sealer, control, pool, breakers, limiter, dispatch.WithLogger(logger))
	rot := rotator.New(cfg, control, pool, rotator.WithLogger(logger))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "event bridge exited", slog.String("err", err.Error()))
		}
	}()
	go func() {
		defer wg.Done()
		rot.Run(ctx)
	}()

	servers := buildServers(cfg, handler)
	for _, srv := range servers {
		srv := srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			runServer(ctx, srv, logger)
		}()
	}

	<-ctx.Done()
	logger.Info(context.Background(), "shutdown signal received, draining connections", slog.Duration("timeout", shutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(context.Background(), "server shutdown error", slog.String("addr", srv.Addr), slog.String("err", err.Error()))
		}
	}

	wg.Wait()
	return nil
}

// buildServers constructs one *http.Server per configured listener: plain
// HTTP, plus public HTTPS when PublicTLS is set. No monitor/control listener
// is built.
func buildServers(cfg *config.Config, handler http.Handler) []*http.Server {
	var servers []*http.Server

	servers = append(servers, &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: handler,
	})

	if cfg.PublicTLS != nil {
		servers = append(servers, &http.Server{
			Addr:      fmt.Sprintf(":%d", cfg.HTTPSPort),
			Handler:   handler,
			TLSConfig: tlsConfigFor(cfg.PublicTLS),
		})
	}

	return servers
}

func tlsConfigFor(pair *config.TLSPair) *tls.Config {
	cert, err := tls.X509KeyPair(pair.CertPEM, pair.KeyPEM)
	if err != nil {
		return nil
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
}

func runServer(ctx context.Context, srv *http.Server, logger xlog.LoggerWithLevel) {
	var err error
	if srv.TLSConfig != nil {
		err = srv.ListenAndServeTLS("", "")
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(ctx, "server stopped unexpectedly", slog.String("addr", srv.Addr), slog.String("err", err.Error()))
	}
}

func newRedisClient(uri string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
