package log

import (
	"context"

	"go.uber.org/atomic"
)

// Binder 嵌入到长生命周期组件中，持有组件自身的 Logger。
//
// 未绑定时回落到全局 Logger；读写并发安全。
type Binder struct {
	logger atomic.Pointer[MLogger]
}

// BindModule 为 ctx 附加模块名字段，并将得到的 Logger 绑定到组件上。
//
// 返回的 ctx 可继续传给组件派生的后台任务，使其日志带有相同的字段。
func (b *Binder) BindModule(ctx context.Context, module string) context.Context {
	ctx = WithModule(ctx, module)
	b.logger.Store(Ctx(ctx))
	return ctx
}

// Logger 返回绑定的 Logger。
func (b *Binder) Logger() *MLogger {
	if l := b.logger.Load(); l != nil {
		return l
	}
	return With()
}
