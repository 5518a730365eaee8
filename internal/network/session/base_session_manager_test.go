package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

// stubSession 为仅携带元数据的 Session 实现，用于注册表测试。
type stubSession struct {
	id     string
	role   Role
	origin string
}

var _ Session = (*stubSession)(nil)

func (s *stubSession) ID() string { return s.id }
func (s *stubSession) Role() Role { return s.role }
func (s *stubSession) OriginAddr() string { return s.origin }
func (s *stubSession) Version() string { return "" }
func (s *stubSession) Context() context.Context { return context.Background() }
func (s *stubSession) RemoteAddr() net.Addr { return nil }
func (s *stubSession) LocalAddr() net.Addr { return nil }
func (s *stubSession) State() State { return StateRegistered }
func (s *stubSession) Send(Frame) error { return nil }
func (s *stubSession) Close() error { return nil }
func (s *stubSession) OnConnected() {}
func (s *stubSession) OnDisconnected(err error) {}

type SessionManagerSuite struct {
	suite.Suite
	mgr *BaseSessionManager
}

func (s *SessionManagerSuite) SetupTest() {
	s.mgr = NewBaseSessionManager()
}

func (s *SessionManagerSuite) TestRegisterLookup() {
	e := &stubSession{id: "e1", role: RoleEditor, origin: "1.1.1.1"}
	p := &stubSession{id: "p1", role: RolePipeline, origin: "1.1.1.1"}
	u := &stubSession{id: "u1", role: RoleUnknown}
	s.mgr.Register(e)
	s.mgr.Register(p)
	s.mgr.Register(u)

	got, ok := s.mgr.Get("e1")
	s.True(ok)
	s.Same(e, got)
	s.Equal([]string{"e1"}, s.mgr.IDsForRole(RoleEditor))
	s.Equal([]string{"p1"}, s.mgr.IDsForRole(RolePipeline))
	s.Empty(s.mgr.IDsForRole(RoleUnknown))
	s.Equal(3, s.mgr.Count())
}

func (s *SessionManagerSuite) TestRegisterThenUnregister() {
	for i := 0; i < 10; i++ {
		role := RoleEditor
		if i%2 == 1 {
			role = RolePipeline
		}
		s.mgr.Register(&stubSession{id: fmt.Sprintf("s%d", i), role: role})
	}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("s%d", i)
		s.mgr.Unregister(id)

		_, ok := s.mgr.Get(id)
		s.False(ok)
		s.NotContains(s.mgr.IDsForRole(RoleEditor), id)
		s.NotContains(s.mgr.IDsForRole(RolePipeline), id)
	}
	s.Equal(0, s.mgr.Count())
}

func (s *SessionManagerSuite) TestUnregisterUnknownIsNoop() {
	s.NotPanics(func() { s.mgr.Unregister("absent") })
	s.False(s.mgr.UnregisterSession(&stubSession{id: "absent"}))
	s.False(s.mgr.UnregisterSession(nil))
}

func (s *SessionManagerSuite) TestRegisterDuplicateOverwrites() {
	old := &stubSession{id: "dup", role: RoleEditor}
	s.mgr.Register(old)
	s.mgr.Register(&stubSession{id: "other", role: RoleEditor})
	fresh := &stubSession{id: "dup", role: RolePipeline}
	s.mgr.Register(fresh)

	got, ok := s.mgr.Get("dup")
	s.True(ok)
	s.Same(fresh, got)
	s.Equal([]string{"other"}, s.mgr.IDsForRole(RoleEditor))
	s.Equal([]string{"dup"}, s.mgr.IDsForRole(RolePipeline))
	s.Equal(2, s.mgr.Count())

	// 旧连接的清理不会误删新连接。
	s.False(s.mgr.UnregisterSession(old))
	s.True(s.mgr.UnregisterSession(fresh))
	_, ok = s.mgr.Get("dup")
	s.False(ok)
}

func (s *SessionManagerSuite) TestOrderAndSnapshot() {
	for _, id := range []string{"a", "b", "c"} {
		s.mgr.Register(&stubSession{id: id, role: RolePipeline})
	}
	snapshot := s.mgr.IDsForRole(RolePipeline)
	s.mgr.Unregister("b")

	s.Equal([]string{"a", "b", "c"}, snapshot)
	s.Equal([]string{"a", "c"}, s.mgr.IDsForRole(RolePipeline))

	sessions := s.mgr.SessionsForRole(RolePipeline)
	s.Len(sessions, 2)
	s.Equal("a", sessions[0].ID())
	s.Equal("c", sessions[1].ID())

	var visited []string
	s.mgr.Range(func(sess Session) bool {
		visited = append(visited, sess.ID())
		return len(visited) < 1
	})
	s.Equal([]string{"a"}, visited)
}

func (s *SessionManagerSuite) TestConcurrentAccess() {
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			s.mgr.Register(&stubSession{id: id, role: Role(1 + i%2)})
			s.mgr.Unregister(id)
		}(i)
		go func() {
			defer wg.Done()
			// 任意时刻角色集合中的 id 都必须能在映射中找到。
			for _, role := range []Role{RoleEditor, RolePipeline} {
				for _, sess := range s.mgr.SessionsForRole(role) {
					s.NotNil(sess)
				}
			}
		}()
	}
	wg.Wait()
	s.Equal(0, s.mgr.Count())
}

func TestSessionManager(t *testing.T) {
	suite.Run(t, new(SessionManagerSuite))
}
