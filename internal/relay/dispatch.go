package relay

import (
	"context"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	network "github.com/lk2023060901/pixelbridge/internal/network"
	"github.com/lk2023060901/pixelbridge/internal/network/codec"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/internal/raster"
	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// 入站消息中的保留字段。
const (
	keyPullUpdate    = "pullupdate"
	keyInstallPlugin = "install_plugin"

	keyCombinedData  = "combinedData"
	keyChangedImages = "changedImages"
	keyMask          = "maskBase64"
)

// pipelineMessage 处理管线侧的入站消息。
//
// 控制指令不参与路由：
//   - pullupdate：向所有管线会话广播更新提示，并异步执行强制拉取；
//   - install_plugin：异步执行插件安装，不产生任何中继流量。
//
// 其余消息按亲和路由转发给编辑器。
func (r *Relay) pipelineMessage(sess session.Session, msg codec.Message) {
	ctx := sess.Context()
	switch {
	case hasKey(msg, keyPullUpdate):
		log.Ctx(ctx).Info("pull update requested")
		r.deliver(ctx, r.sessions.SessionsForRole(session.RolePipeline), KindAlert, updateAlert)
		if r.puller == nil {
			log.Ctx(ctx).Warn("force pull is not configured", zap.Error(merr.WrapErrOperationNotSupported(keyPullUpdate)))
			return
		}
		r.background("force-pull", r.puller.ForcePull)
	case hasKey(msg, keyInstallPlugin):
		log.Ctx(ctx).Info("plugin install requested")
		if r.installer == nil {
			log.Ctx(ctx).Warn("plugin installer is not configured", zap.Error(merr.WrapErrOperationNotSupported(keyInstallPlugin)))
			return
		}
		r.background("install-plugin", r.installer.Install)
	default:
		r.forward(ctx, sess, sess.Role().Peer(), msg)
	}
}

// editorMessage 处理编辑器侧的入站消息。
//
// 携带 combinedData 时：先在当前协程中同步重建图像与蒙版，
// 再将去掉 combinedData 后的剩余字段转发给管线（剩余为空则不转发），
// 最后无条件向管线发送 queue=true 以推进其队列。
// 其余消息去掉二进制内容后按亲和路由转发给管线。
func (r *Relay) editorMessage(sess session.Session, msg codec.Message) {
	ctx := sess.Context()
	combined, ok := msg[keyCombinedData]
	if !ok {
		r.forward(ctx, sess, sess.Role().Peer(), msg)
		return
	}

	r.reconstruct(ctx, sess, combined)

	rest := make(codec.Message, len(msg))
	for k, v := range msg {
		if k != keyCombinedData {
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		r.forward(ctx, sess, sess.Role().Peer(), rest)
	}

	targets := r.router.RouteSessions(sess.ID(), sess.Role().Peer())
	r.deliver(ctx, targets, KindQueue, true)
}

// reconstruct 重建 combinedData 中的图像与蒙版；任何失败只记录日志。
func (r *Relay) reconstruct(ctx context.Context, sess session.Session, combined any) {
	data, err := cast.ToStringMapE(combined)
	if err != nil {
		r.OnError(sess, network.StageReconstruct, network.MarkStage(
			merr.WrapErrParameterInvalidMsg("combinedData is %T, want map", combined), network.StageReconstruct))
		return
	}

	if raw, ok := data[keyChangedImages]; ok && raw != nil {
		start := time.Now()
		entries, err := cast.ToSliceE(raw)
		if err != nil {
			r.OnError(sess, network.StageReconstruct, network.MarkStage(
				merr.WrapErrParameterInvalidMsg("changedImages is %T, want list", raw), network.StageReconstruct))
		} else {
			failed := 0
			for _, res := range r.raster.ReconstructImages(ctx, entries) {
				if res.Err != nil {
					failed++
					r.OnError(sess, network.StageReconstruct, network.MarkStage(res.Err, network.StageReconstruct))
				}
			}
			log.Ctx(ctx).Info("changed images reconstructed",
				zap.Int("total", len(entries)),
				zap.Int("failed", failed),
				zap.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if raw, ok := data[keyMask]; ok {
		var mask raster.MaskPayload
		if raw != nil {
			if mask, err = raster.ParseMask(raw); err != nil {
				log.Ctx(ctx).Warn("malformed mask payload, writing blank mask", zap.Error(err))
			}
		}
		if _, err := r.raster.ReconstructMask(ctx, mask); err != nil {
			r.OnError(sess, network.StageReconstruct, network.MarkStage(err, network.StageReconstruct))
		}
	}
}

// forward 将 msg 去掉二进制内容后按亲和路由转发给 target 角色。
func (r *Relay) forward(ctx context.Context, sender session.Session, target session.Role, msg codec.Message) {
	targets := r.router.RouteSessions(sender.ID(), target)
	r.deliver(ctx, targets, "", stripBinary(msg))
}

func hasKey(msg codec.Message, key string) bool {
	_, ok := msg[key]
	return ok
}

// stripBinary 递归移除映射与列表中的二进制值，返回新的对象，不修改入参。
func stripBinary(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if _, ok := item.([]byte); ok {
				continue
			}
			out[k] = stripBinary(item)
		}
		return out
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if _, ok := item.([]byte); ok {
				continue
			}
			out = append(out, stripBinary(item))
		}
		return out
	default:
		return v
	}
}
