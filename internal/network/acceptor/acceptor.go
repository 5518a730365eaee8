package acceptor

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	network "github.com/lk2023060901/pixelbridge/internal/network"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
)

// Config 描述 Acceptor 在会话层面的配置。
//
// 说明：
//   - SendQueueSize 控制每个连接的发送队列大小；
//   - ReadTimeout/WriteTimeout 控制单次读写的超时时间（为 0 表示不设置 deadline）；
//   - MaxMessageSize 为单个入站帧的最大字节数（为 0 表示不限制）。
type Config struct {
	SendQueueSize  int
	MaxMessageSize int64

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Upgrader 允许调用方自定义 gorilla/websocket 的升级行为。
	// 若为 nil，则使用内部默认的 Upgrader。
	Upgrader *websocket.Upgrader
}

// 默认配置。
func defaultConfig() Config {
	return Config{
		SendQueueSize:  64,
		MaxMessageSize: 500 << 20,
	}
}

// Handler 由框架使用者实现，用于在服务器侧的各个阶段插入自定义逻辑。
//
// 说明：
//   - 所有回调均在单个会话的读协程中被调用，同一会话上的 OnMessage 串行执行；
//   - OnConnected/OnMessage 中的 panic 会被接入层捕获并以 StageDispatch 上报，会话保持打开。
type Handler interface {
	// OnConnected 在会话完成注册后被调用一次。
	OnConnected(sess session.Session)

	// OnMessage 在收到一帧数据后被调用。
	OnMessage(sess session.Session, frame session.Frame)

	// OnClosed 在会话生命周期结束、已从注册表移除后被调用。
	//
	// 参数 err 为关闭原因，正常关闭时为 nil。
	OnClosed(sess session.Session, err error)

	// OnError 在会话处理的各个阶段发生错误时被调用。
	//
	// stage 用于标识错误发生的位置；握手失败时 sess 为 nil。
	OnError(sess session.Session, stage network.Stage, err error)
}

// Acceptor 抽象了服务器侧的 WebSocket 接入层。
//
// 职责：
//   - 作为 http.Handler 处理 WebSocket 升级；
//   - 为每个连接创建 Session、注册到 SessionManager，并调用 Handler 的各阶段回调；
//   - 连接结束时无条件注销会话。
type Acceptor interface {
	http.Handler

	// Close 主动关闭所有会话，并等待各连接的处理协程退出。
	Close() error
}
