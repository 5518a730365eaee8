package acceptor

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	network "github.com/lk2023060901/pixelbridge/internal/network"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// 连接查询参数。
const (
	QueryClientID = "clientId"
	QueryPlatform = "platform"
	QueryVersion  = "version"
)

// WSAcceptor 是 Acceptor 接口的 WebSocket 实现。
//
// 设计目标：
//   - 对外只暴露 Acceptor 接口和 Handler 回调，不绑定具体业务逻辑；
//   - 内部负责：升级连接、创建 Session、驱动读循环并回调 Handler；
//   - 每个连接在自身的 HTTP 处理协程中串行读取与处理消息。
type WSAcceptor struct {
	cfg      Config
	upgrader *websocket.Upgrader
	sessions session.SessionManager
	handler  Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// 确保 WSAcceptor 实现了 Acceptor 接口。
var _ Acceptor = (*WSAcceptor)(nil)

// NewWSAcceptor 创建一个 WebSocket 接入器。
//
// 参数：
//   - cfg ：接入配置，零值字段使用默认值；
//   - sm  ：会话注册表，不能为空；
//   - h   ：各阶段回调，不能为空。
func NewWSAcceptor(cfg Config, sm session.SessionManager, h Handler) (*WSAcceptor, error) {
	if sm == nil {
		return nil, fmt.Errorf("acceptor: session manager is nil")
	}
	if h == nil {
		return nil, fmt.Errorf("acceptor: handler is nil")
	}

	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.MaxMessageSize < 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	upgrader := cfg.Upgrader
	if upgrader == nil {
		upgrader = &websocket.Upgrader{
			// 编辑器插件与管线前端来自任意 Origin。
			CheckOrigin: func(*http.Request) bool { return true },
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WSAcceptor{
		cfg:      cfg,
		upgrader: upgrader,
		sessions: sm,
		handler:  h,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// ServeHTTP 实现 http.Handler，处理单个连接的完整生命周期。
//
// 流程：
//  1. 解析 clientId/platform/version 查询参数（clientId 缺省时生成 UUID）；
//  2. 升级为 WebSocket 连接，创建 Session 并注册到 SessionManager；
//  3. 调用 sess.OnConnected() 与 Handler.OnConnected；
//  4. 循环读取帧并回调 Handler.OnMessage；
//  5. 读失败或对端关闭后，无条件注销会话，再调用 OnDisconnected/OnClosed 并关闭连接。
func (a *WSAcceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !a.enter() {
		http.Error(w, merr.WrapErrServiceNotReady("acceptor", "closed").Error(), http.StatusServiceUnavailable)
		return
	}
	defer a.wg.Done()

	query := r.URL.Query()
	id := query.Get(QueryClientID)
	if id == "" {
		id = uuid.NewString()
	}
	role := session.ParseRole(query.Get(QueryPlatform))

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 失败时已向客户端写回 HTTP 错误。
		a.handler.OnError(nil, network.StageHandshake, network.MarkStage(err, network.StageHandshake))
		return
	}
	if a.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(a.cfg.MaxMessageSize)
	}

	sess := session.NewBaseSession(a.ctx, session.Options{
		ID:            id,
		Role:          role,
		Origin:        originHost(r.RemoteAddr),
		Version:       query.Get(QueryVersion),
		Transport:     conn,
		SendQueueSize: a.cfg.SendQueueSize,
		WriteTimeout:  a.cfg.WriteTimeout,
	})

	a.sessions.Register(sess)

	// 在函数结束时负责注销、通知断开和关闭，即使处理过程中发生 panic 也会执行。
	var cause error
	defer func() {
		if p := recover(); p != nil {
			cause = panicError(p)
			a.handler.OnError(sess, network.StageDispatch, cause)
		}
		a.sessions.UnregisterSession(sess)
		sess.OnDisconnected(cause)
		a.safeCall(sess, func() { a.handler.OnClosed(sess, cause) })
		_ = sess.Close()
	}()

	sess.OnConnected()
	a.safeCall(sess, func() { a.handler.OnConnected(sess) })

	cause = a.readLoop(sess, conn)
}

// enter 登记一个进行中的连接；接入器关闭后返回 false。
func (a *WSAcceptor) enter() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.wg.Add(1)
	return true
}

// readLoop 持续从连接中读取帧并回调 Handler.OnMessage。
//
// 返回值：
//   - 非 nil error 表示读过程中发生的异常；
//   - nil 表示正常结束（对端正常关闭或服务端主动关闭）。
func (a *WSAcceptor) readLoop(sess *session.BaseSession, conn *websocket.Conn) error {
	for {
		if a.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		}

		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if isNormalClose(err) || sess.Context().Err() != nil {
				return nil
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				err = merr.WrapErrParameterTooLarge("frame", fmt.Sprintf("limit %d bytes", a.cfg.MaxMessageSize))
			}
			err = network.MarkStage(err, network.StageRecvRaw)
			a.handler.OnError(sess, network.StageRecvRaw, err)
			return err
		}

		sess.MarkStreaming()
		frame := session.Frame{Type: session.FrameType(messageType), Payload: data}
		a.safeCall(sess, func() { a.handler.OnMessage(sess, frame) })
	}
}

// safeCall 执行一次 Handler 回调，捕获其中的 panic 并以 StageDispatch 上报。
func (a *WSAcceptor) safeCall(sess session.Session, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			err := panicError(p)
			log.Ctx(sess.Context()).Error("handler panicked",
				zap.Error(err),
				zap.ByteString("stack", debug.Stack()),
			)
			a.handler.OnError(sess, network.StageDispatch, err)
		}
	}()
	fn()
}

// Close 实现 Acceptor.Close。
func (a *WSAcceptor) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		a.cancel()
		var errs []error
		a.sessions.Range(func(sess session.Session) bool {
			if err := sess.Close(); err != nil {
				errs = append(errs, err)
			}
			return true
		})
		a.wg.Wait()
		if len(errs) > 0 {
			log.Debug("close sessions returned errors", zap.Errors("errors", errs))
		}
	})
	return nil
}

// originHost 从 "ip:port" 中提取 ip；无法解析时原样返回。
func originHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return network.MarkStage(merr.Combine(err, merr.ErrServiceInternal), network.StageDispatch)
	}
	return network.MarkStage(merr.WrapErrServiceInternal(fmt.Sprint(p), "handler panicked"), network.StageDispatch)
}
