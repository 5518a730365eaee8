package connector

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/pixelbridge/internal/network"
	"github.com/lk2023060901/pixelbridge/internal/network/codec"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/pkg/util/conc"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// Inbound 为客户端收到的一条消息：原始帧与按自身角色解码后的结果。
type Inbound struct {
	Frame   session.Frame
	Message codec.Message
}

// Config 描述客户端连接的基础配置。
type Config struct {
	SendQueueSize int
	RecvQueueSize int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Role 为连接时声明的角色，决定 platform 查询参数以及收发编码。
	Role session.Role
	// Version 为连接时上报的版本号，仅编辑器侧有意义。
	Version string

	// Codecs 为按角色索引的编解码表，为 nil 时使用默认表。
	Codecs *codec.Table
	// Dialer 为 nil 时使用 websocket.DefaultDialer。
	Dialer *websocket.Dialer
}

func defaultConfig() Config {
	return Config{
		SendQueueSize: 1024,
		RecvQueueSize: 1024,
	}
}

// ClientConn 抽象了客户端侧的一条中继连接。
type ClientConn interface {
	ID() string
	Role() session.Role
	Context() context.Context
	RemoteAddr() net.Addr
	LocalAddr() net.Addr

	// Send 以自身角色的编码发送 {kind: value}；kind 为空时按透传规则发送 value。
	Send(kind string, value any) error
	// SendFrame 原样发送一帧，主要用于测试非法载荷。
	SendFrame(frame session.Frame) error
	// Recv 返回入站消息通道；队列满时新消息被丢弃，连接关闭后通道关闭。
	Recv() <-chan Inbound

	Close() error
}

// ConnectorHandler 描述客户端在各阶段的回调能力。
type ConnectorHandler interface {
	OnConnected(conn ClientConn)
	OnMessage(conn ClientConn, msg codec.Message)
	OnClosed(conn ClientConn, err error)
	OnError(conn ClientConn, stage network.Stage, err error)
}

// NopHandler 为 ConnectorHandler 的空实现，可嵌入以只覆盖关心的回调。
type NopHandler struct{}

func (NopHandler) OnConnected(ClientConn)                   {}
func (NopHandler) OnMessage(ClientConn, codec.Message)      {}
func (NopHandler) OnClosed(ClientConn, error)               {}
func (NopHandler) OnError(ClientConn, network.Stage, error) {}

// Connector 抽象了客户端的拨号器。
type Connector interface {
	// Dial 连接到 endpoint（形如 ws://host:port/ps/ws），并携带 clientId/platform/version 查询参数。
	//
	// clientID 为空时由服务端生成；h 为 nil 时使用 NopHandler。
	Dial(ctx context.Context, endpoint string, clientID string, h ConnectorHandler) (ClientConn, error)
}

// wsConnector 是基于 gorilla/websocket 的默认 Connector 实现。
type wsConnector struct {
	cfg Config
}

// NewWSConnector 创建一个基于 WebSocket 的 Connector。
func NewWSConnector(cfg Config) Connector {
	def := defaultConfig()
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = def.SendQueueSize
	}
	if cfg.RecvQueueSize <= 0 {
		cfg.RecvQueueSize = def.RecvQueueSize
	}
	if cfg.Codecs == nil {
		cfg.Codecs = codec.NewTable()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &wsConnector{cfg: cfg}
}

// BuildURL 在 endpoint 上附加连接查询参数。
func BuildURL(endpoint, clientID string, role session.Role, version string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", merr.WrapErrParameterInvalidMsg("invalid relay endpoint %q: %v", endpoint, err)
	}
	q := u.Query()
	if clientID != "" {
		q.Set("clientId", clientID)
	}
	q.Set("platform", role.Platform())
	if version != "" {
		q.Set("version", version)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *wsConnector) Dial(ctx context.Context, endpoint string, clientID string, h ConnectorHandler) (ClientConn, error) {
	if h == nil {
		h = NopHandler{}
	}
	target, err := BuildURL(endpoint, clientID, c.cfg.Role, c.cfg.Version)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, target, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		err = network.MarkStage(errors.Wrapf(err, "dial %s", target), network.StageHandshake)
		h.OnError(nil, network.StageHandshake, err)
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	cc := newWSClientConn(connCtx, cancel, conn, clientID, c.cfg, h)
	h.OnConnected(cc)
	return cc, nil
}

// wsClientConn 是基于 WebSocket 的 ClientConn 默认实现。
type wsClientConn struct {
	id   string
	conn *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	cfg   Config
	h     ConnectorHandler
	codec codec.Codec

	remoteAddr net.Addr
	localAddr  net.Addr

	sendChan chan outboundFrame
	recvChan chan Inbound

	closeOnce sync.Once
	closeErr  error
}

// outboundFrame 表示一条待发送的帧以及写出结果的回传通道。
type outboundFrame struct {
	frame session.Frame
	done  chan error
}

func newWSClientConn(
	ctx context.Context,
	cancel context.CancelFunc,
	conn *websocket.Conn,
	id string,
	cfg Config,
	h ConnectorHandler,
) *wsClientConn {
	c := &wsClientConn{
		id:         id,
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		h:          h,
		codec:      cfg.Codecs.ForRole(cfg.Role),
		remoteAddr: conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		sendChan:   make(chan outboundFrame, cfg.SendQueueSize),
		recvChan:   make(chan Inbound, cfg.RecvQueueSize),
	}

	// 使用 conc.Go 启动收发协程，避免直接使用原生 go 关键字。
	_ = conc.Go(func() (struct{}, error) {
		c.recvLoop()
		return struct{}{}, nil
	})
	_ = conc.Go(func() (struct{}, error) {
		c.sendLoop()
		return struct{}{}, nil
	})

	return c
}

// ClientConn 接口实现。

func (c *wsClientConn) ID() string               { return c.id }
func (c *wsClientConn) Role() session.Role       { return c.cfg.Role }
func (c *wsClientConn) Context() context.Context { return c.ctx }
func (c *wsClientConn) RemoteAddr() net.Addr     { return c.remoteAddr }
func (c *wsClientConn) LocalAddr() net.Addr      { return c.localAddr }
func (c *wsClientConn) Recv() <-chan Inbound     { return c.recvChan }
func (c *wsClientConn) Close() error             { return c.close(nil) }

func (c *wsClientConn) Send(kind string, value any) error {
	frame, err := c.codec.Encode(kind, value)
	if err != nil {
		c.h.OnError(c, network.StageEncode, err)
		return err
	}
	return c.SendFrame(frame)
}

func (c *wsClientConn) SendFrame(frame session.Frame) error {
	req := outboundFrame{frame: frame, done: make(chan error, 1)}
	select {
	case <-c.ctx.Done():
		return merr.WrapErrSessionClosed(c.id)
	case c.sendChan <- req:
	}
	select {
	case err := <-req.done:
		return err
	case <-c.ctx.Done():
		select {
		case err := <-req.done:
			return err
		default:
		}
		return merr.WrapErrSessionClosed(c.id)
	}
}

func (c *wsClientConn) close(cause error) error {
	c.closeOnce.Do(func() {
		c.cancel()
		// 尽量发送关闭帧，让服务端按正常关闭处理。
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
		c.h.OnClosed(c, cause)
	})
	return c.closeErr
}

// recvLoop 持续读取 WebSocket 消息并按自身角色解码。
func (c *wsClientConn) recvLoop() {
	defer close(c.recvChan)

	for {
		if c.cfg.ReadTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				_ = c.close(nil)
				return
			}
			err = network.MarkStage(err, network.StageRecvRaw)
			c.h.OnError(c, network.StageRecvRaw, err)
			_ = c.close(err)
			return
		}

		in := Inbound{Frame: session.Frame{Type: session.FrameType(msgType), Payload: data}}
		msg, err := c.codec.Decode(data)
		if err != nil {
			c.h.OnError(c, network.StageDecode, network.MarkStage(err, network.StageDecode))
		} else {
			in.Message = msg
			c.h.OnMessage(c, msg)
		}

		select {
		case c.recvChan <- in:
		default:
		}
	}
}

// sendLoop 从 sendChan 中按顺序取出帧并写入 WebSocket。
func (c *wsClientConn) sendLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case req := <-c.sendChan:
			err := c.write(req.frame)
			req.done <- err
			if err != nil {
				err = network.MarkStage(err, network.StageSend)
				c.h.OnError(c, network.StageSend, err)
				_ = c.close(err)
				return
			}
		}
	}
}

func (c *wsClientConn) write(frame session.Frame) error {
	if c.cfg.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(int(frame.Type), frame.Payload)
}
