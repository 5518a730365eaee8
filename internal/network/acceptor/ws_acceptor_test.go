package acceptor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	network "github.com/lk2023060901/pixelbridge/internal/network"
	"github.com/lk2023060901/pixelbridge/internal/network/codec"
	"github.com/lk2023060901/pixelbridge/internal/network/connector"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/pkg/util/merr"
)

// recordingHandler 记录所有回调；OnConnected 时按 greet 向新会话回写一条消息。
type recordingHandler struct {
	mu        sync.Mutex
	connected []string
	closed    []string
	frames    []session.Frame
	stages    []network.Stage
	errs      []error

	codecs  *codec.Table
	greet   bool
	panicOn string
}

func (h *recordingHandler) OnConnected(sess session.Session) {
	h.mu.Lock()
	h.connected = append(h.connected, sess.ID())
	h.mu.Unlock()
	if h.greet {
		frame, err := h.codecs.ForRole(sess.Role()).Encode("hello", sess.ID())
		if err == nil {
			_ = sess.Send(frame)
		}
	}
}

func (h *recordingHandler) OnMessage(sess session.Session, frame session.Frame) {
	if h.panicOn != "" && strings.Contains(string(frame.Payload), h.panicOn) {
		panic("boom")
	}
	h.mu.Lock()
	h.frames = append(h.frames, frame)
	h.mu.Unlock()
}

func (h *recordingHandler) OnClosed(sess session.Session, err error) {
	h.mu.Lock()
	h.closed = append(h.closed, sess.ID())
	h.mu.Unlock()
}

func (h *recordingHandler) OnError(sess session.Session, stage network.Stage, err error) {
	h.mu.Lock()
	h.stages = append(h.stages, stage)
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}

func (h *recordingHandler) snapshot() (connected, closed []string, frames []session.Frame, stages []network.Stage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.connected...),
		append([]string(nil), h.closed...),
		append([]session.Frame(nil), h.frames...),
		append([]network.Stage(nil), h.stages...)
}

type AcceptorSuite struct {
	suite.Suite

	sessions *session.BaseSessionManager
	handler  *recordingHandler
	acceptor *WSAcceptor
	server   *httptest.Server
	endpoint string
}

func (s *AcceptorSuite) SetupTest() {
	s.sessions = session.NewBaseSessionManager()
	s.handler = &recordingHandler{codecs: codec.NewTable(), greet: true, panicOn: "explode"}

	a, err := NewWSAcceptor(Config{}, s.sessions, s.handler)
	s.Require().NoError(err)
	s.acceptor = a
	s.server = httptest.NewServer(a)
	s.endpoint = "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ps/ws"
}

func (s *AcceptorSuite) TearDownTest() {
	_ = s.acceptor.Close()
	s.server.Close()
}

func (s *AcceptorSuite) dial(id string, role session.Role) connector.ClientConn {
	c := connector.NewWSConnector(connector.Config{Role: role, Version: "1.2.0"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := c.Dial(ctx, s.endpoint, id, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = conn.Close() })
	return conn
}

func (s *AcceptorSuite) waitRegistered(id string) session.Session {
	var sess session.Session
	s.Require().Eventually(func() bool {
		var ok bool
		sess, ok = s.sessions.Get(id)
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	return sess
}

func (s *AcceptorSuite) recv(conn connector.ClientConn) connector.Inbound {
	select {
	case in, ok := <-conn.Recv():
		s.Require().True(ok, "connection closed before a message arrived")
		return in
	case <-time.After(3 * time.Second):
		s.FailNow("timed out waiting for a message")
		return connector.Inbound{}
	}
}

func (s *AcceptorSuite) TestRegisterWithQueryParams() {
	s.dial("ed-1", session.RoleEditor)
	sess := s.waitRegistered("ed-1")

	s.Equal(session.RoleEditor, sess.Role())
	s.Equal("127.0.0.1", sess.OriginAddr())
	s.Equal("1.2.0", sess.Version())
	s.Equal([]string{"ed-1"}, s.sessions.IDsForRole(session.RoleEditor))
	s.Empty(s.sessions.IDsForRole(session.RolePipeline))
}

func (s *AcceptorSuite) TestGeneratedIDWhenMissing() {
	s.dial("", session.RolePipeline)
	s.Require().Eventually(func() bool { return s.sessions.Count() == 1 }, 3*time.Second, 10*time.Millisecond)

	ids := s.sessions.IDsForRole(session.RolePipeline)
	s.Require().Len(ids, 1)
	_, err := uuid.Parse(ids[0])
	s.NoError(err)
}

func (s *AcceptorSuite) TestServerSendUsesRoleEncoding() {
	editor := s.dial("ed-1", session.RoleEditor)
	in := s.recv(editor)
	s.Equal(session.FrameBinary, in.Frame.Type)
	s.Equal("ed-1", in.Message["hello"])

	pipeline := s.dial("cm-1", session.RolePipeline)
	in = s.recv(pipeline)
	s.Equal(session.FrameText, in.Frame.Type)
	s.JSONEq(`{"hello":"cm-1"}`, string(in.Frame.Payload))
}

func (s *AcceptorSuite) TestInboundFramesReachHandler() {
	conn := s.dial("cm-1", session.RolePipeline)
	s.waitRegistered("cm-1")
	s.Require().NoError(conn.Send("", `{"prompt":1}`))

	s.Require().Eventually(func() bool {
		_, _, frames, _ := s.handler.snapshot()
		return len(frames) == 1
	}, 3*time.Second, 10*time.Millisecond)

	_, _, frames, _ := s.handler.snapshot()
	s.Equal(session.FrameText, frames[0].Type)
	s.Equal(`{"prompt":1}`, string(frames[0].Payload))

	sess := s.waitRegistered("cm-1")
	s.Equal(session.StateStreaming, sess.State())
}

func (s *AcceptorSuite) TestHandlerPanicKeepsSessionOpen() {
	conn := s.dial("cm-1", session.RolePipeline)
	s.waitRegistered("cm-1")

	s.Require().NoError(conn.Send("", `{"explode":true}`))
	s.Require().NoError(conn.Send("", `{"after":true}`))

	s.Require().Eventually(func() bool {
		_, _, frames, _ := s.handler.snapshot()
		return len(frames) == 1
	}, 3*time.Second, 10*time.Millisecond)

	_, _, _, stages := s.handler.snapshot()
	s.Contains(stages, network.StageDispatch)
	_, ok := s.sessions.Get("cm-1")
	s.True(ok)
}

func (s *AcceptorSuite) TestCloseUnregisters() {
	conn := s.dial("ed-1", session.RoleEditor)
	sess := s.waitRegistered("ed-1")

	s.Require().NoError(conn.Close())
	s.Require().Eventually(func() bool {
		_, ok := s.sessions.Get("ed-1")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)

	s.Empty(s.sessions.IDsForRole(session.RoleEditor))
	s.Require().Eventually(func() bool {
		_, closed, _, _ := s.handler.snapshot()
		return len(closed) == 1
	}, 3*time.Second, 10*time.Millisecond)
	s.Equal(session.StateClosed, sess.State())
}

func (s *AcceptorSuite) TestReconnectSameIDKeepsNewSession() {
	first := s.dial("ed-1", session.RoleEditor)
	old := s.waitRegistered("ed-1")

	s.dial("ed-1", session.RoleEditor)
	s.Require().Eventually(func() bool {
		cur, ok := s.sessions.Get("ed-1")
		return ok && cur != old
	}, 3*time.Second, 10*time.Millisecond)

	s.Require().NoError(first.Close())
	s.Require().Eventually(func() bool {
		_, closed, _, _ := s.handler.snapshot()
		return len(closed) == 1
	}, 3*time.Second, 10*time.Millisecond)

	cur, ok := s.sessions.Get("ed-1")
	s.Require().True(ok)
	s.NotSame(old, cur)
	s.Equal([]string{"ed-1"}, s.sessions.IDsForRole(session.RoleEditor))
}

func (s *AcceptorSuite) TestAcceptorCloseDisconnectsClients() {
	conn := s.dial("ed-1", session.RoleEditor)
	s.waitRegistered("ed-1")
	_ = s.recv(conn)

	s.Require().NoError(s.acceptor.Close())
	s.Zero(s.sessions.Count())

	select {
	case _, ok := <-conn.Recv():
		s.False(ok)
	case <-time.After(3 * time.Second):
		s.FailNow("client not disconnected")
	}
}

func (s *AcceptorSuite) TestClosedAcceptorRejectsUpgrade() {
	s.Require().NoError(s.acceptor.Close())

	resp, err := http.Get(s.server.URL + "/ps/ws")
	s.Require().NoError(err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	s.Equal(http.StatusServiceUnavailable, resp.StatusCode)
	s.Contains(string(body), merr.ErrServiceNotReady.Error())
}

func TestAcceptor(t *testing.T) {
	suite.Run(t, new(AcceptorSuite))
}

func TestNewWSAcceptorValidates(t *testing.T) {
	_, err := NewWSAcceptor(Config{}, nil, &recordingHandler{})
	assert.Error(t, err)
	_, err = NewWSAcceptor(Config{}, session.NewBaseSessionManager(), nil)
	assert.Error(t, err)
}

func TestOriginHost(t *testing.T) {
	require.Equal(t, "10.1.2.3", originHost("10.1.2.3:5555"))
	require.Equal(t, "::1", originHost("[::1]:8188"))
	require.Equal(t, "garbage", originHost("garbage"))
}

func TestOversizedFrameReportsTooLarge(t *testing.T) {
	sessions := session.NewBaseSessionManager()
	h := &recordingHandler{codecs: codec.NewTable()}
	a, err := NewWSAcceptor(Config{MaxMessageSize: 32}, sessions, h)
	require.NoError(t, err)
	server := httptest.NewServer(a)
	t.Cleanup(func() {
		_ = a.Close()
		server.Close()
	})

	c := connector.NewWSConnector(connector.Config{Role: session.RolePipeline})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := c.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/ps/ws", "cm-1", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		_, ok := sessions.Get("cm-1")
		return ok
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Send("", map[string]any{"prompt": strings.Repeat("x", 128)}))

	require.Eventually(t, func() bool {
		_, ok := sessions.Get("cm-1")
		return !ok
	}, 3*time.Second, 10*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.errs, 1)
	assert.Equal(t, network.StageRecvRaw, h.stages[0])
	assert.True(t, errors.Is(h.errs[0], merr.ErrParameterTooLarge))
	assert.True(t, errors.Is(h.errs[0], network.ErrRecvFailed))
}
