package session

import (
	"context"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// FrameType 为底层 WebSocket 帧类型。
type FrameType int

const (
	FrameText   FrameType = websocket.TextMessage
	FrameBinary FrameType = websocket.BinaryMessage
)

func (t FrameType) String() string {
	switch t {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return "other"
	}
}

// Frame 为一条已编码、可直接写出的出站帧。
type Frame struct {
	Type    FrameType
	Payload []byte
}

// Transport 抽象了会话的底层连接，*websocket.Conn 天然满足该接口。
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	Close() error
}

// State 为会话生命周期状态。
//
// 状态只会单向推进：Connecting -> Registered -> Streaming -> Closed。
type State int32

const (
	StateConnecting State = iota
	StateRegistered
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "invalid"
	}
}

// Session 抽象了一条中继会话/连接。
//
// 约定：
//   - 每个 Session 对应一条 WebSocket 连接；
//   - Session ID 由客户端通过 clientId 指定，缺省时由服务端生成 UUID；
//   - Session 只关心连接本身与角色元数据，不关心消息语义。
type Session interface {
	// ID 返回会话标识。
	ID() string

	// Role 返回会话在连接时声明的角色。
	Role() Role

	// OriginAddr 返回连接来源地址（不含端口），用于同源亲和路由。
	OriginAddr() string

	// Version 返回客户端在连接时上报的版本号，仅用于版本检查通知。
	Version() string

	// Context 返回与该会话关联的上下文。
	//
	// 说明：
	//   - 会话关闭或发送失败时 Context 会被取消；
	//   - Context 中携带了 sessionID/role/origin 日志字段，可直接用于 log.Ctx。
	Context() context.Context

	// RemoteAddr 返回远端地址。
	RemoteAddr() net.Addr

	// LocalAddr 返回本端地址。
	LocalAddr() net.Addr

	// State 返回当前生命周期状态。
	State() State

	// Send 将一帧数据写入该会话。
	//
	// 行为：
	//   - 同一会话上的写出由独立发送协程串行执行，多个调用方并发 Send 不会交错；
	//   - 调用会阻塞到该帧写出完成（或会话关闭），并返回写出结果。
	Send(frame Frame) error

	// Close 主动关闭该会话，多次调用是幂等的。
	Close() error

	// OnConnected 在会话完成注册后由接入层调用一次。
	OnConnected()

	// OnDisconnected 在读循环退出时由接入层调用，err 为断开原因，正常关闭时可为 nil。
	OnDisconnected(err error)
}
