package relay

import (
	"context"

	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/internal/network/codec"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/pkg/log"
)

// 出站消息类型。
const (
	KindLatestVersion     = "latestVer"
	KindEditorConnected   = "psConnected"
	KindPipelineConnected = "cmConnected"
	KindAlert             = "alert"
	KindQueue             = "queue"
	KindRenderBatch       = "render_batch"
)

// updateAlert 为收到更新指令时广播给所有管线会话的提示。
const updateAlert = "Updating, please Restart comfyui after update"

// roleStrategy 汇总了一个角色在中继中的全部差异化行为。
//
// 编码方式由 codec.Table 按角色选择；此处只描述连接通知与入站分发。
type roleStrategy struct {
	onConnected func(sess session.Session)
	onMessage   func(sess session.Session, msg codec.Message)
}

// buildStrategies 构造按角色索引的策略表；未知角色不在表中，其会话不参与路由。
func (r *Relay) buildStrategies() map[session.Role]roleStrategy {
	return map[session.Role]roleStrategy{
		session.RoleEditor: {
			onConnected: r.editorConnected,
			onMessage:   r.editorMessage,
		},
		session.RolePipeline: {
			onConnected: r.pipelineConnected,
			onMessage:   r.pipelineMessage,
		},
	}
}

// editorConnected 处理编辑器连接：
//   - 异步检查插件版本，将最新版本号推送给所有编辑器，
//     未配置版本检查或检查失败时推送 null；
//   - 通知同源的管线会话编辑器已连接。
func (r *Relay) editorConnected(sess session.Session) {
	ctx := sess.Context()
	version := sess.Version()
	r.background("version-check", func(bg context.Context) error {
		// 沿用会话的日志字段，但不随会话关闭而取消。
		bg = context.WithValue(bg, log.CtxLogKey, log.Ctx(ctx))
		var (
			value any
			err   error
		)
		if r.versions != nil {
			var latest string
			if latest, err = r.versions.LatestVersion(bg, version); err == nil {
				value = latest
			}
		}
		r.deliver(bg, r.sessions.SessionsForRole(session.RoleEditor), KindLatestVersion, value)
		return err
	})

	peers := r.router.SameOrigin(sess.OriginAddr(), session.RolePipeline)
	r.deliver(ctx, peers, KindEditorConnected, true)
}

// pipelineConnected 处理管线连接：仅当存在同源编辑器时，
// 向新会话发送编辑器已连接通知，并向这些编辑器发送管线已连接通知。
func (r *Relay) pipelineConnected(sess session.Session) {
	ctx := sess.Context()
	editors := r.router.SameOrigin(sess.OriginAddr(), session.RoleEditor)
	if len(editors) == 0 {
		log.Ctx(ctx).Debug("no same-origin editor for new pipeline session")
		return
	}
	r.deliver(ctx, []session.Session{sess}, KindEditorConnected, true)
	r.deliver(ctx, editors, KindPipelineConnected, true)
	log.Ctx(ctx).Info("paired with same-origin editors", zap.Int("editors", len(editors)))
}
