package session

// SessionManager 维护当前所有在线会话的索引（会话注册表）。
//
// 职责说明：
//   - 只负责会话的注册、查询和移除，不直接创建或关闭底层连接；
//   - 除 id -> Session 映射外，还按注册顺序维护编辑器与管线两个角色集合；
//   - 映射与角色集合由同一把锁保护，任何时刻外部都观察不到部分更新的状态。
type SessionManager interface {
	// Register 将一个已创建好的 Session 注册到管理器中。
	//
	// 说明：
	//   - 相同 ID 的会话会被覆盖（幂等），旧会话从角色集合中移除后再追加新会话；
	//   - 未知角色的会话只进入映射，不进入任何角色集合。
	Register(sess Session)

	// Get 根据 session id 查找会话。
	Get(id string) (sess Session, ok bool)

	// Unregister 移除指定 id 的会话，并从两个角色集合中剔除。
	//
	// 说明：
	//   - id 不存在时为空操作；
	//   - 仅删除索引，不负责调用 sess.Close()。
	Unregister(id string)

	// UnregisterSession 仅当当前登记的会话正是 sess 时才移除。
	//
	// 用于连接关闭时的清理：同 ID 的新连接已覆盖旧连接时，旧连接的清理不应误删新连接。
	UnregisterSession(sess Session) bool

	// IDsForRole 返回指定角色的会话 ID 快照，顺序为注册顺序。
	IDsForRole(role Role) []string

	// SessionsForRole 返回指定角色的会话快照，顺序为注册顺序。
	SessionsForRole(role Role) []Session

	// Range 遍历当前所有在线会话，fn 返回 false 时中断遍历。
	Range(fn func(sess Session) bool)

	// Count 返回当前已注册的会话数量。
	Count() int
}
