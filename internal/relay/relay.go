// Package relay 实现编辑器与生成管线之间的消息中继。
//
// Relay 作为 acceptor.Handler 接收每个会话的连接、消息与关闭事件，
// 按会话角色查表得到对应的处理策略（连接通知、消息分发），
// 并通过 Affinity Router 选择目标会话、用协程池并发投递。
package relay

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	network "github.com/lk2023060901/pixelbridge/internal/network"
	"github.com/lk2023060901/pixelbridge/internal/network/acceptor"
	"github.com/lk2023060901/pixelbridge/internal/network/codec"
	"github.com/lk2023060901/pixelbridge/internal/network/router"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/internal/raster"
	"github.com/lk2023060901/pixelbridge/internal/updater"
	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/metrics"
	"github.com/lk2023060901/pixelbridge/pkg/util/conc"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// Options 为创建 Relay 所需的依赖。
type Options struct {
	Sessions session.SessionManager
	// Router 为 nil 时基于 Sessions 创建默认的亲和路由。
	Router router.Router
	// Codecs 为 nil 时使用默认编解码表。
	Codecs *codec.Table
	Raster *raster.Reconstructor

	// Versions 为 nil 时编辑器连接后收到的最新版本号为 null。
	Versions  updater.VersionChecker
	Puller    updater.Puller
	Installer updater.Installer

	// Pool 为投递协程池，为 nil 时创建一个容量为 PoolSize 的池。
	Pool     *conc.Pool[any]
	PoolSize int

	// RenderDir 为批量渲染结果所在目录。
	RenderDir string
}

// Relay 是中继的核心处理器，实现 acceptor.Handler。
type Relay struct {
	log.Binder

	sessions session.SessionManager
	router   router.Router
	codecs   *codec.Table
	raster   *raster.Reconstructor

	versions  updater.VersionChecker
	puller    updater.Puller
	installer updater.Installer

	pool     *conc.Pool[any]
	ownsPool bool

	renderDir  string
	strategies map[session.Role]roleStrategy

	// ctx 为后台任务（版本通知、更新、安装）的上下文，不随单个会话结束而取消。
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// 确保 Relay 实现了 acceptor.Handler 接口。
var _ acceptor.Handler = (*Relay)(nil)

// New 创建 Relay。
func New(opts Options) (*Relay, error) {
	if opts.Sessions == nil {
		return nil, merr.WrapErrParameterMissing("sessions")
	}
	if opts.Raster == nil {
		return nil, merr.WrapErrParameterMissing("raster")
	}
	if opts.Router == nil {
		opts.Router = router.New(opts.Sessions)
	}
	if opts.Codecs == nil {
		opts.Codecs = codec.NewTable()
	}

	r := &Relay{
		sessions:  opts.Sessions,
		router:    opts.Router,
		codecs:    opts.Codecs,
		raster:    opts.Raster,
		versions:  opts.Versions,
		puller:    opts.Puller,
		installer: opts.Installer,
		pool:      opts.Pool,
		renderDir: opts.RenderDir,
	}
	if r.pool == nil {
		r.pool = conc.NewPool[any](opts.PoolSize, conc.WithConcealPanic(true))
		r.ownsPool = true
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.ctx = r.BindModule(r.ctx, "relay")
	r.strategies = r.buildStrategies()
	return r, nil
}

// Close 取消后台任务并等待其退出，随后释放自建的协程池。
func (r *Relay) Close() {
	r.cancel()
	r.tasks.Wait()
	if r.ownsPool {
		r.pool.Release()
	}
}

// background 在独立协程中执行一个不随会话结束而取消的后台任务。
func (r *Relay) background(name string, fn func(ctx context.Context) error) {
	if r.ctx.Err() != nil {
		r.Logger().Warn("relay closed, background task skipped", zap.String("task", name))
		return
	}
	r.tasks.Add(1)
	_ = conc.Go(func() (struct{}, error) {
		defer r.tasks.Done()
		if err := fn(r.ctx); err != nil {
			if merr.IsCanceledOrTimeout(err) {
				r.Logger().Debug("background task cancelled", zap.String("task", name), zap.Error(err))
			} else {
				r.Logger().Warn("background task failed", zap.String("task", name), zap.Error(err))
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
}

// OnConnected 实现 acceptor.Handler.OnConnected。
func (r *Relay) OnConnected(sess session.Session) {
	role := sess.Role()
	metrics.RelaySessions.WithLabelValues(role.String()).Inc()
	logger := log.Ctx(sess.Context())
	logger.Info("session connected",
		zap.String("version", sess.Version()),
		zap.Stringer("remote", sess.RemoteAddr()),
	)

	strategy, ok := r.strategies[role]
	if !ok {
		logger.Warn("session declared an unknown role, it will not be routed")
		return
	}
	strategy.onConnected(sess)
}

// OnMessage 实现 acceptor.Handler.OnMessage。
//
// 解码方式只由会话连接时声明的角色决定；解码失败的消息被记录并丢弃，会话保持打开。
func (r *Relay) OnMessage(sess session.Session, frame session.Frame) {
	role := sess.Role()
	metrics.RelayInboundBytes.WithLabelValues(role.String()).Observe(float64(len(frame.Payload)))

	strategy, ok := r.strategies[role]
	if !ok {
		metrics.RelayInboundMessages.WithLabelValues(role.String(), metrics.DropLabel).Inc()
		log.Ctx(sess.Context()).WithRateGroup("relay.unknown_role", 1, 10).RatedWarn(1, "drop message from session with unknown role",
			zap.Error(merr.WrapErrRoleUnknown(role)))
		return
	}

	msg, err := r.codecs.ForRole(role).Decode(frame.Payload)
	if err != nil {
		metrics.RelayInboundMessages.WithLabelValues(role.String(), metrics.FailLabel).Inc()
		r.OnError(sess, network.StageDecode, network.MarkStage(err, network.StageDecode))
		return
	}
	metrics.RelayInboundMessages.WithLabelValues(role.String(), metrics.SuccessLabel).Inc()
	strategy.onMessage(sess, msg)
}

// OnClosed 实现 acceptor.Handler.OnClosed。
func (r *Relay) OnClosed(sess session.Session, err error) {
	metrics.RelaySessions.WithLabelValues(sess.Role().String()).Dec()
	logger := log.Ctx(sess.Context())
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("session closed with error", zap.Error(err))
		return
	}
	logger.Info("session closed")
}

// OnError 实现 acceptor.Handler.OnError。
func (r *Relay) OnError(sess session.Session, stage network.Stage, err error) {
	metrics.RelayErrors.WithLabelValues(string(stage)).Inc()
	logger := r.Logger()
	if sess != nil {
		logger = log.Ctx(sess.Context())
	}
	logger.Warn("relay error",
		zap.String("stage", string(stage)),
		zap.Int32("code", merr.Code(err)),
		zap.Bool("retriable", merr.IsRetryableErr(err)),
		zap.Error(err),
	)
}
