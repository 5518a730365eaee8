package relay

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/internal/raster"
	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// 批量渲染接口的查询参数。
const (
	QueryRenderSender    = "cmUID"
	QueryRenderFilenames = "filenames"
)

// RenderSummary 为一次批量渲染推送的结果。
type RenderSummary struct {
	Requested int
	Loaded    int
	Targets   int
	Delivered int
}

// PushRenderBatch 读取渲染结果文件并推送给编辑器。
//
// 目标选择：
//   - senderID 为已注册会话时，只推送给与其同源的编辑器，没有同源编辑器则不推送；
//   - 否则推送给所有编辑器。
//
// 单个文件读取或解码失败只记录日志并跳过。
func (r *Relay) PushRenderBatch(ctx context.Context, senderID string, filenames []string) (RenderSummary, error) {
	summary := RenderSummary{Requested: len(filenames)}
	if len(filenames) == 0 {
		return summary, merr.WrapErrParameterMissing(QueryRenderFilenames)
	}
	logger := log.Ctx(ctx).With(zap.String("sender", senderID))

	items := make([]raster.RenderItem, 0, len(filenames))
	for _, name := range filenames {
		item, err := raster.LoadRenderItem(r.renderDir, name)
		if err != nil {
			logger.Warn("skip render file", zap.String("filename", name), zap.Error(err))
			continue
		}
		items = append(items, item)
	}
	summary.Loaded = len(items)
	if len(items) == 0 {
		return summary, nil
	}

	var targets []session.Session
	if sender, ok := r.sessions.Get(senderID); senderID != "" && ok {
		targets = r.router.SameOrigin(sender.OriginAddr(), session.RoleEditor)
		if len(targets) == 0 {
			logger.Warn("no same-origin editor for render batch", zap.String("origin", sender.OriginAddr()))
			return summary, nil
		}
	} else {
		if senderID != "" {
			logger.Debug("render sender not registered, sending to all editors",
				zap.Error(merr.WrapErrSessionNotFound(senderID)))
		}
		targets = r.sessions.SessionsForRole(session.RoleEditor)
	}

	summary.Targets = len(targets)
	summary.Delivered = r.deliver(ctx, targets, KindRenderBatch, items)
	logger.Info("render batch pushed",
		zap.Int("files", summary.Loaded),
		zap.Int("targets", summary.Targets),
		zap.Int("delivered", summary.Delivered),
	)
	return summary, nil
}

// ServeHTTP 处理 GET /ps/renderbatch?cmUID=<id>&filenames=a.png,b.png。
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	sender := query.Get(QueryRenderSender)
	filenames := splitFilenames(query.Get(QueryRenderFilenames))
	if len(filenames) == 0 {
		http.Error(w, "No filenames provided", http.StatusBadRequest)
		return
	}

	ctx := log.WithFields(req.Context(), zap.String("route", "renderbatch"))
	summary, err := r.PushRenderBatch(ctx, sender, filenames)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "Batch of %d images sent to %d editors with cmUID: %s",
		summary.Loaded, summary.Delivered, sender)
}

func splitFilenames(raw string) []string {
	var out []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
