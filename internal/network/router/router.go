package router

import (
	"github.com/samber/lo"

	"github.com/lk2023060901/pixelbridge/internal/network/session"
)

// Router 负责为一条消息选出目标会话（同源亲和路由）。
//
// 路由规则（Route(senderID, target)）：
//  1. 通过 SessionManager 查出发送方的来源地址；发送方不存在时视为来源未知；
//  2. 取出目标角色的全部会话 ID；
//  3. 来源已知时，过滤出来源地址与发送方相同的会话，得到亲和集合；
//  4. 亲和集合非空则返回亲和集合（保持注册顺序），否则回退为目标角色的全部会话（广播）；
//     来源未知时不做过滤，直接返回全部会话。
type Router interface {
	// Route 返回目标会话 ID，顺序与注册顺序一致。
	Route(senderID string, target session.Role) []string

	// RouteSessions 与 Route 规则相同，直接返回会话快照。
	RouteSessions(senderID string, target session.Role) []session.Session

	// SameOrigin 返回目标角色中与 origin 同源的会话，不做广播回退。
	SameOrigin(origin string, target session.Role) []session.Session
}

// affinityRouter 是 Router 接口的基础实现。
//
// 路由只在 SessionManager 的快照上计算，不持有注册表的锁。
type affinityRouter struct {
	sessions session.SessionManager
}

// 编译期断言：确保 affinityRouter 实现了 Router 接口。
var _ Router = (*affinityRouter)(nil)

// New 创建一个基于给定 SessionManager 的 Router 实例。
func New(sessions session.SessionManager) Router {
	return &affinityRouter{sessions: sessions}
}

// Route 实现 Router.Route。
func (r *affinityRouter) Route(senderID string, target session.Role) []string {
	return lo.Map(r.RouteSessions(senderID, target), func(sess session.Session, _ int) string {
		return sess.ID()
	})
}

// RouteSessions 实现 Router.RouteSessions。
func (r *affinityRouter) RouteSessions(senderID string, target session.Role) []session.Session {
	candidates := r.sessions.SessionsForRole(target)
	if len(candidates) == 0 {
		return nil
	}

	sender, ok := r.sessions.Get(senderID)
	if !ok || sender.OriginAddr() == "" {
		return candidates
	}

	affinity := filterOrigin(candidates, sender.OriginAddr())
	if len(affinity) > 0 {
		return affinity
	}
	return candidates
}

// SameOrigin 实现 Router.SameOrigin。
func (r *affinityRouter) SameOrigin(origin string, target session.Role) []session.Session {
	if origin == "" {
		return nil
	}
	return filterOrigin(r.sessions.SessionsForRole(target), origin)
}

func filterOrigin(candidates []session.Session, origin string) []session.Session {
	return lo.Filter(candidates, func(sess session.Session, _ int) bool {
		return sess.OriginAddr() == origin
	})
}
