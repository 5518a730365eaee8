// Package application 负责装配中继服务：加载配置、初始化日志与指标、
// 创建各组件并管理 HTTP 服务的生命周期。
package application

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/pixelbridge/internal/network/acceptor"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/internal/raster"
	"github.com/lk2023060901/pixelbridge/internal/relay"
	"github.com/lk2023060901/pixelbridge/internal/updater"
	zlog "github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/metrics"
)

const defaultShutdownTimeout = 5 * time.Second

// Application 是中继服务的运行时容器，持有配置与全部组件。
type Application struct {
	cfg *Config

	sessions *session.BaseSessionManager
	relay    *relay.Relay
	acceptor *acceptor.WSAcceptor
	mux      *http.ServeMux
}

// New 根据配置装配所有组件，但不启动监听。
func New(cfg *Config) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics.Register(prometheus.DefaultRegisterer)

	a := &Application{cfg: cfg, sessions: session.NewBaseSessionManager()}

	rc, err := raster.NewReconstructor(raster.Config{
		ImagesDir:    cfg.Storage.ImagesDir,
		MaskFilename: cfg.Storage.MaskFilename,
	})
	if err != nil {
		return nil, err
	}

	opts := relay.Options{
		Sessions:  a.sessions,
		Raster:    rc,
		Puller:    updater.NewGitPuller(cfg.Update.RepoDir, cfg.Update.Remote, cfg.Update.Branch),
		PoolSize:  cfg.Pool.Size,
		RenderDir: cfg.Storage.TempDir,
	}
	if cfg.Update.VersionURL != "" {
		opts.Versions = updater.NewHTTPVersionChecker(cfg.Update.VersionURL, cfg.Update.FetchAttempts)
	}
	if len(cfg.Update.InstallerCommand) > 0 {
		opts.Installer = updater.NewCommandInstaller(cfg.Update.RepoDir, cfg.Update.InstallerCommand)
	}
	if a.relay, err = relay.New(opts); err != nil {
		return nil, err
	}

	a.acceptor, err = acceptor.NewWSAcceptor(acceptor.Config{
		SendQueueSize:  cfg.Server.SendQueueSize,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
	}, a.sessions, a.relay)
	if err != nil {
		a.relay.Close()
		return nil, err
	}

	a.mux = http.NewServeMux()
	a.mux.Handle(cfg.Server.Path, a.acceptor)
	a.mux.Handle(cfg.Server.RenderBatchPath, a.relay)
	if cfg.Server.MetricsPath != "" {
		a.mux.Handle(cfg.Server.MetricsPath, promhttp.Handler())
	}
	return a, nil
}

// Run 是服务的入口。
//
// 它解析命令行参数加载配置、初始化全局日志，随后监听配置中的地址直到 ctx 结束。
func Run(ctx context.Context, args []string) error {
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}
	defer func() { _ = zlog.Sync() }()

	app, err := New(cfg)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", cfg.Server.Addr)
	}
	return app.Serve(ctx, ln)
}

// Sessions 返回会话注册表。
func (a *Application) Sessions() session.SessionManager {
	return a.sessions
}

// Serve 在 ln 上提供服务，ctx 结束后优雅退出：
// 先关闭接入层断开所有会话，再关闭 HTTP 服务，最后等待中继的后台任务结束。
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	logger := zlog.Ctx(zlog.WithModule(ctx, "application"))
	srv := &http.Server{
		Handler:           a.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("path", a.cfg.Server.Path),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http serve")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", zap.Int("sessions", a.sessions.Count()))

		_ = a.acceptor.Close()
		timeout := a.cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		a.relay.Close()
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Warn("relay stopped with error", zap.Error(err))
		return err
	}
	logger.Info("relay stopped")
	return nil
}

// initLogging 按配置初始化全局日志。
func initLogging(cfg *Config) error {
	logCfg := cfg.Logging
	logger, props, err := zlog.InitLogger(&logCfg)
	if err != nil {
		return errors.Wrap(err, "init global logger")
	}
	zlog.ReplaceGlobals(logger, props)
	zlog.Ctx(context.Background()).Info("logger initialized",
		zap.String("level", logCfg.Level),
		zap.String("format", logCfg.Format),
		zap.Int("pid", os.Getpid()),
	)
	return nil
}
