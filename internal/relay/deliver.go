package relay

import (
	"context"

	"go.uber.org/zap"

	network "github.com/lk2023060901/pixelbridge/internal/network"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/pkg/log"
	"github.com/lk2023060901/pixelbridge/pkg/metrics"
	"github.com/lk2023060901/pixelbridge/pkg/util/conc"
)

// deliver 将 {kind: value} 并发投递给 targets，返回成功投递的会话数。
//
// 行为：
//   - 每种目标角色只编码一次，编码方式由目标角色决定；
//   - 每个目标的发送作为一个任务提交到协程池，同一会话的写出由其自身的发送协程串行化；
//   - 单个目标失败只记录日志，不影响其它目标；
//   - 等待本次所有发送完成后返回，不设置额外超时。
func (r *Relay) deliver(ctx context.Context, targets []session.Session, kind string, value any) int {
	logger := log.Ctx(ctx).With(zap.String("kind", kind))
	if len(targets) == 0 {
		logger.RatedDebug(1, "no destination sessions")
		return 0
	}

	frames := make(map[session.Role]session.Frame, 2)
	futures := make([]*conc.Future[any], 0, len(targets))
	for _, target := range targets {
		role := target.Role()
		frame, ok := frames[role]
		if !ok {
			var err error
			frame, err = r.codecs.ForRole(role).Encode(kind, value)
			if err != nil {
				metrics.RelayDeliveries.WithLabelValues(role.String(), metrics.FailLabel).Inc()
				r.OnError(target, network.StageEncode, network.MarkStage(err, network.StageEncode))
				continue
			}
			frames[role] = frame
		}

		futures = append(futures, r.pool.Submit(func() (any, error) {
			if err := target.Send(frame); err != nil {
				metrics.RelayDeliveries.WithLabelValues(role.String(), metrics.FailLabel).Inc()
				r.OnError(target, network.StageSend, network.MarkStage(err, network.StageSend))
				return nil, err
			}
			metrics.RelayDeliveries.WithLabelValues(role.String(), metrics.SuccessLabel).Inc()
			return nil, nil
		}))
	}

	errs := conc.BlockOnAll(futures...)
	delivered := len(futures) - len(errs)
	logger.Debug("message delivered", zap.Int("targets", len(targets)), zap.Int("delivered", delivered))
	return delivered
}
