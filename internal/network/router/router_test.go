package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/pixelbridge/internal/network/session"
)

func newSession(t *testing.T, id string, role session.Role, origin string) *session.BaseSession {
	t.Helper()
	sess := session.NewBaseSession(context.Background(), session.Options{ID: id, Role: role, Origin: origin})
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestRouteAffinity(t *testing.T) {
	mgr := session.NewBaseSessionManager()
	mgr.Register(newSession(t, "editor", session.RoleEditor, "A"))
	mgr.Register(newSession(t, "p1", session.RolePipeline, "A"))
	mgr.Register(newSession(t, "p2", session.RolePipeline, "B"))
	mgr.Register(newSession(t, "p3", session.RolePipeline, "A"))

	r := New(mgr)
	assert.Equal(t, []string{"p1", "p3"}, r.Route("editor", session.RolePipeline))
}

func TestRouteBroadcastFallback(t *testing.T) {
	mgr := session.NewBaseSessionManager()
	mgr.Register(newSession(t, "editor", session.RoleEditor, "C"))
	mgr.Register(newSession(t, "p1", session.RolePipeline, "A"))
	mgr.Register(newSession(t, "p2", session.RolePipeline, "B"))

	r := New(mgr)
	assert.Equal(t, []string{"p1", "p2"}, r.Route("editor", session.RolePipeline))
}

func TestRouteUnknownSender(t *testing.T) {
	mgr := session.NewBaseSessionManager()
	mgr.Register(newSession(t, "e1", session.RoleEditor, "A"))
	mgr.Register(newSession(t, "e2", session.RoleEditor, "B"))

	r := New(mgr)
	assert.Equal(t, []string{"e1", "e2"}, r.Route("ghost", session.RoleEditor))
	assert.Empty(t, r.Route("ghost", session.RolePipeline))
}

func TestRouteAfterUnregister(t *testing.T) {
	mgr := session.NewBaseSessionManager()
	mgr.Register(newSession(t, "p1", session.RolePipeline, "A"))
	mgr.Register(newSession(t, "e1", session.RoleEditor, "A"))
	mgr.Register(newSession(t, "e2", session.RoleEditor, "B"))

	r := New(mgr)
	require.Equal(t, []string{"e1"}, r.Route("p1", session.RoleEditor))

	mgr.Unregister("e1")
	assert.Equal(t, []string{"e2"}, r.Route("p1", session.RoleEditor))
}

func TestSameOrigin(t *testing.T) {
	mgr := session.NewBaseSessionManager()
	mgr.Register(newSession(t, "e1", session.RoleEditor, "A"))
	mgr.Register(newSession(t, "e2", session.RoleEditor, "B"))

	r := New(mgr)
	same := r.SameOrigin("B", session.RoleEditor)
	require.Len(t, same, 1)
	assert.Equal(t, "e2", same[0].ID())
	assert.Empty(t, r.SameOrigin("C", session.RoleEditor))
	assert.Empty(t, r.SameOrigin("", session.RoleEditor))
}
