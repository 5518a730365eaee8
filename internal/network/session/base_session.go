package session

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// BaseSession 提供了 Session 接口的基础实现。
//
// 设计目标：
//   - 封装最小但完整的会话能力：ID、角色、来源地址、Context、发送与关闭；
//   - 每个会话一个发送协程，所有写出都经由 sendQueue 串行化，避免并发写连接；
//   - 不同会话之间的发送互不影响。
type BaseSession struct {
	id      string
	role    Role
	origin  string
	version string

	ctx    context.Context
	cancel context.CancelFunc

	transport    Transport
	writeTimeout time.Duration

	remoteAddr net.Addr
	localAddr  net.Addr

	state atomic.Int32

	// sendQueue 为待发送帧的队列。
	//   - Send 负责投递并等待写出结果；
	//   - sendLoop 从队列中按顺序取出并写入 transport。
	//   - 队列从不关闭，退出信号统一由 ctx 传递。
	sendQueue chan outboundFrame

	closeOnce sync.Once
	closeErr  error
}

// 确保 BaseSession 实现了 Session 接口。
var _ Session = (*BaseSession)(nil)

// outboundFrame 表示一条待发送的帧以及写出结果的回传通道。
type outboundFrame struct {
	frame Frame
	done  chan error
}

// defaultSendQueueSize 为每个会话的发送队列容量。
const defaultSendQueueSize = 64

// Options 为创建 BaseSession 的参数。
type Options struct {
	ID        string
	Role      Role
	Origin    string
	Version   string
	Transport Transport

	// SendQueueSize 为发送队列容量，<=0 时使用默认值。
	SendQueueSize int
	// WriteTimeout 为单帧写出超时，0 表示不设置。
	WriteTimeout time.Duration
}

// NewBaseSession 创建一个基础 Session 实例并启动发送协程。
//
// 参数：
//   - parent：会话所属的上层上下文；若为 nil，则使用 context.Background()；
//   - opts  ：会话元数据与底层连接。
//
// 返回的 Context 已附加 sessionID/role/origin 日志字段。
func NewBaseSession(parent context.Context, opts Options) *BaseSession {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(log.WithSession(parent, opts.ID, opts.Role, opts.Origin))

	queueSize := opts.SendQueueSize
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}

	s := &BaseSession{
		id:           opts.ID,
		role:         opts.Role,
		origin:       opts.Origin,
		version:      opts.Version,
		ctx:          ctx,
		cancel:       cancel,
		transport:    opts.Transport,
		writeTimeout: opts.WriteTimeout,
		sendQueue:    make(chan outboundFrame, queueSize),
	}
	if opts.Transport != nil {
		s.remoteAddr = opts.Transport.RemoteAddr()
		s.localAddr = opts.Transport.LocalAddr()
	}
	s.state.Store(int32(StateConnecting))

	go s.sendLoop()

	return s
}

// ID 实现 Session.ID。
func (s *BaseSession) ID() string {
	return s.id
}

// Role 实现 Session.Role。
func (s *BaseSession) Role() Role {
	return s.role
}

// OriginAddr 实现 Session.OriginAddr。
func (s *BaseSession) OriginAddr() string {
	return s.origin
}

// Version 实现 Session.Version。
func (s *BaseSession) Version() string {
	return s.version
}

// Context 实现 Session.Context。
func (s *BaseSession) Context() context.Context {
	return s.ctx
}

// RemoteAddr 实现 Session.RemoteAddr。
func (s *BaseSession) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// LocalAddr 实现 Session.LocalAddr。
func (s *BaseSession) LocalAddr() net.Addr {
	return s.localAddr
}

// State 实现 Session.State。
func (s *BaseSession) State() State {
	return State(s.state.Load())
}

// advance 将状态推进到 next；状态只前进不后退。
func (s *BaseSession) advance(next State) bool {
	for {
		cur := s.state.Load()
		if State(cur) >= next {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

// MarkStreaming 在收到首条入站消息时由接入层调用。
func (s *BaseSession) MarkStreaming() {
	s.advance(StateStreaming)
}

// Send 实现 Session.Send。
//
// 内部将帧投递到会话级发送队列，并等待发送协程回传写出结果。
// 会话关闭后调用返回 merr.ErrSessionClosed。
func (s *BaseSession) Send(frame Frame) error {
	req := outboundFrame{frame: frame, done: make(chan error, 1)}
	select {
	case <-s.ctx.Done():
		return merr.WrapErrSessionClosed(s.id)
	case s.sendQueue <- req:
	}

	select {
	case err := <-req.done:
		return err
	case <-s.ctx.Done():
		// 写出失败会先回传结果再关闭会话，优先返回真实的写出错误。
		select {
		case err := <-req.done:
			return err
		default:
		}
		return merr.WrapErrSessionClosed(s.id)
	}
}

// Close 实现 Session.Close。
func (s *BaseSession) Close() error {
	s.closeOnce.Do(func() {
		s.advance(StateClosed)
		// 先取消上下文，再关闭连接。
		s.cancel()
		if s.transport != nil {
			s.closeErr = s.transport.Close()
		}
	})
	return s.closeErr
}

// OnConnected 标记会话已注册。
func (s *BaseSession) OnConnected() {
	s.advance(StateRegistered)
}

// OnDisconnected 标记会话已关闭，并记录断开原因。
func (s *BaseSession) OnDisconnected(err error) {
	s.advance(StateClosed)
	if err != nil {
		log.Ctx(s.ctx).Debug("session disconnected", zap.Error(err))
	}
}

// sendLoop 为每个会话启动的专职发送协程。
//
// 行为：
//   - 从 sendQueue 中按顺序取出待发送帧并写入 transport；
//   - 写出失败视为连接异常，关闭会话以触发上层读循环退出与清理；
//   - ctx 结束（会话关闭或上层取消）时退出。
func (s *BaseSession) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			// 上层上下文取消时同样关闭连接，使读循环尽快退出。
			_ = s.Close()
			return
		case req := <-s.sendQueue:
			err := s.write(req.frame)
			req.done <- err
			if err != nil {
				log.Ctx(s.ctx).Warn("session write failed, closing", zap.Error(err))
				_ = s.Close()
				return
			}
		}
	}
}

func (s *BaseSession) write(frame Frame) error {
	if s.transport == nil {
		return merr.WrapErrSessionClosed(s.id, "no transport")
	}
	if s.writeTimeout > 0 {
		if err := s.transport.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.transport.WriteMessage(int(frame.Type), frame.Payload)
}
