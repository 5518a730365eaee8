package session

import (
	"slices"
	"sync"
)

// BaseSessionManager 提供了基于内存 map 的 SessionManager 实现。
//
// 特性：
//   - 使用读写锁保证并发安全，映射与角色集合在同一临界区内更新；
//   - 查询类方法返回快照，避免在持锁情况下执行用户回调。
type BaseSessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
	roleIDs  map[Role][]string
}

// 确保 BaseSessionManager 实现了 SessionManager 接口。
var _ SessionManager = (*BaseSessionManager)(nil)

// NewBaseSessionManager 创建一个空的 BaseSessionManager。
func NewBaseSessionManager() *BaseSessionManager {
	return &BaseSessionManager{
		sessions: make(map[string]Session),
		roleIDs: map[Role][]string{
			RoleEditor:   nil,
			RolePipeline: nil,
		},
	}
}

// Register 实现 SessionManager.Register。
func (m *BaseSessionManager) Register(sess Session) {
	if sess == nil {
		return
	}
	id := sess.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		m.removeLocked(id)
	}
	m.sessions[id] = sess
	m.order = append(m.order, id)
	if ids, tracked := m.roleIDs[sess.Role()]; tracked {
		m.roleIDs[sess.Role()] = append(ids, id)
	}
}

// Get 实现 SessionManager.Get。
func (m *BaseSessionManager) Get(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	return sess, ok
}

// Unregister 实现 SessionManager.Unregister。
func (m *BaseSessionManager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(id)
}

// UnregisterSession 实现 SessionManager.UnregisterSession。
func (m *BaseSessionManager) UnregisterSession(sess Session) bool {
	if sess == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[sess.ID()]
	if !ok || cur != sess {
		return false
	}
	m.removeLocked(sess.ID())
	return true
}

// removeLocked 调用方需持有写锁。
func (m *BaseSessionManager) removeLocked(id string) {
	if _, ok := m.sessions[id]; !ok {
		return
	}
	delete(m.sessions, id)
	m.order = slices.DeleteFunc(m.order, func(v string) bool { return v == id })
	for role, ids := range m.roleIDs {
		m.roleIDs[role] = slices.DeleteFunc(ids, func(v string) bool { return v == id })
	}
}

// IDsForRole 实现 SessionManager.IDsForRole。
func (m *BaseSessionManager) IDsForRole(role Role) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Clone(m.roleIDs[role])
}

// SessionsForRole 实现 SessionManager.SessionsForRole。
func (m *BaseSessionManager) SessionsForRole(role Role) []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.roleIDs[role]
	snapshot := make([]Session, 0, len(ids))
	for _, id := range ids {
		snapshot = append(snapshot, m.sessions[id])
	}
	return snapshot
}

// Range 实现 SessionManager.Range。
func (m *BaseSessionManager) Range(fn func(sess Session) bool) {
	if fn == nil {
		return
	}

	m.mu.RLock()
	snapshot := make([]Session, 0, len(m.order))
	for _, id := range m.order {
		snapshot = append(snapshot, m.sessions[id])
	}
	m.mu.RUnlock()

	for _, sess := range snapshot {
		if !fn(sess) {
			return
		}
	}
}

// Count 实现 SessionManager.Count。
func (m *BaseSessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
