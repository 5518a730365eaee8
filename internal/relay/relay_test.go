package relay

import (
	"context"
	"image"
	"image/color"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/pixelbridge/internal/network/codec"
	"github.com/lk2023060901/pixelbridge/internal/network/session"
	"github.com/lk2023060901/pixelbridge/internal/raster"
)

// stubSession 记录所有写入的帧，可按需注入发送错误。
type stubSession struct {
	id      string
	role    session.Role
	origin  string
	version string
	ctx     context.Context
	sendErr error

	mu     sync.Mutex
	frames []session.Frame
}

var _ session.Session = (*stubSession)(nil)

func (s *stubSession) ID() string               { return s.id }
func (s *stubSession) Role() session.Role       { return s.role }
func (s *stubSession) OriginAddr() string       { return s.origin }
func (s *stubSession) Version() string          { return s.version }
func (s *stubSession) Context() context.Context { return s.ctx }
func (s *stubSession) State() session.State     { return session.StateStreaming }
func (s *stubSession) Close() error             { return nil }
func (s *stubSession) OnConnected()             {}
func (s *stubSession) OnDisconnected(error)     {}

func (s *stubSession) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8188}
}

func (s *stubSession) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP(s.origin), Port: 50000}
}

func (s *stubSession) Send(frame session.Frame) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *stubSession) received(t require.TestingT, codecs *codec.Table) []codec.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]codec.Message, 0, len(s.frames))
	for _, frame := range s.frames {
		msg, err := codecs.ForRole(s.role).Decode(frame.Payload)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func (s *stubSession) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeVersions struct {
	latest string
	err    error
}

func (f fakeVersions) LatestVersion(context.Context, string) (string, error) {
	return f.latest, f.err
}

type fakeTask struct {
	calls atomic.Int32
}

func (f *fakeTask) ForcePull(context.Context) error {
	f.calls.Inc()
	return nil
}

func (f *fakeTask) Install(context.Context) error {
	f.calls.Inc()
	return nil
}

type RelaySuite struct {
	suite.Suite

	dir       string
	sessions  *session.BaseSessionManager
	codecs    *codec.Table
	puller    *fakeTask
	installer *fakeTask
	versions  fakeVersions
	r         *Relay
}

func (s *RelaySuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.sessions = session.NewBaseSessionManager()
	s.codecs = codec.NewTable()
	s.puller = &fakeTask{}
	s.installer = &fakeTask{}
	s.versions = fakeVersions{latest: "2.0.0"}
	s.build()
}

func (s *RelaySuite) build() {
	if s.r != nil {
		s.r.Close()
	}
	rc, err := raster.NewReconstructor(raster.Config{ImagesDir: filepath.Join(s.dir, "imgs")})
	s.Require().NoError(err)
	r, err := New(Options{
		Sessions:  s.sessions,
		Codecs:    s.codecs,
		Raster:    rc,
		Versions:  s.versions,
		Puller:    s.puller,
		Installer: s.installer,
		PoolSize:  4,
		RenderDir: filepath.Join(s.dir, "render"),
	})
	s.Require().NoError(err)
	s.r = r
}

func (s *RelaySuite) TearDownTest() {
	s.r.Close()
	s.r = nil
}

func (s *RelaySuite) add(id string, role session.Role, origin string) *stubSession {
	sess := &stubSession{id: id, role: role, origin: origin, version: "1.0.0", ctx: context.Background()}
	s.sessions.Register(sess)
	return sess
}

func (s *RelaySuite) frame(role session.Role, msg codec.Message) session.Frame {
	frame, err := s.codecs.ForRole(role).Encode("", msg)
	s.Require().NoError(err)
	return frame
}

func (s *RelaySuite) TestEditorConnectedNotifiesSameOriginPipelines() {
	near := s.add("p1", session.RolePipeline, "10.0.0.1")
	far := s.add("p2", session.RolePipeline, "10.0.0.2")
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")

	s.r.OnConnected(editor)

	s.Equal([]codec.Message{{KindEditorConnected: true}}, near.received(s.T(), s.codecs))
	s.Zero(far.count())
	s.Eventually(func() bool { return editor.count() == 1 }, time.Second, 5*time.Millisecond)
	s.Equal([]codec.Message{{KindLatestVersion: "2.0.0"}}, editor.received(s.T(), s.codecs))
}

func (s *RelaySuite) TestVersionCheckFailureSendsNil() {
	s.versions = fakeVersions{err: errors.New("registry down")}
	s.build()
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")

	s.r.OnConnected(editor)

	s.Eventually(func() bool { return editor.count() == 1 }, time.Second, 5*time.Millisecond)
	msgs := editor.received(s.T(), s.codecs)
	s.Contains(msgs[0], KindLatestVersion)
	s.Nil(msgs[0][KindLatestVersion])
}

func (s *RelaySuite) TestVersionNoticeWithoutCheckerSendsNil() {
	s.r.versions = nil
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")
	other := s.add("e2", session.RoleEditor, "10.0.0.2")

	s.r.OnConnected(editor)

	s.Eventually(func() bool { return editor.count() == 1 && other.count() == 1 }, time.Second, 5*time.Millisecond)
	for _, sess := range []*stubSession{editor, other} {
		msgs := sess.received(s.T(), s.codecs)
		s.Contains(msgs[0], KindLatestVersion)
		s.Nil(msgs[0][KindLatestVersion])
	}
}

func (s *RelaySuite) TestPipelineConnectedPairsWithEditors() {
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")
	pipeline := s.add("p1", session.RolePipeline, "10.0.0.1")
	stranger := s.add("p2", session.RolePipeline, "10.0.0.9")

	s.r.OnConnected(pipeline)
	s.r.OnConnected(stranger)

	s.Equal([]codec.Message{{KindEditorConnected: true}}, pipeline.received(s.T(), s.codecs))
	s.Equal([]codec.Message{{KindPipelineConnected: true}}, editor.received(s.T(), s.codecs))
	s.Zero(stranger.count())
}

func (s *RelaySuite) TestPullUpdateAlertsAllPipelines() {
	p1 := s.add("p1", session.RolePipeline, "10.0.0.1")
	p2 := s.add("p2", session.RolePipeline, "10.0.0.2")
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")

	s.r.OnMessage(p1, s.frame(session.RolePipeline, codec.Message{keyPullUpdate: true}))

	want := []codec.Message{{KindAlert: updateAlert}}
	s.Equal(want, p1.received(s.T(), s.codecs))
	s.Equal(want, p2.received(s.T(), s.codecs))
	s.Zero(editor.count())
	s.Eventually(func() bool { return s.puller.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Zero(s.installer.calls.Load())

	entries, err := os.ReadDir(filepath.Join(s.dir, "imgs"))
	s.Require().NoError(err)
	s.Empty(entries)
}

func (s *RelaySuite) TestInstallPluginProducesNoTraffic() {
	p1 := s.add("p1", session.RolePipeline, "10.0.0.1")
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")

	s.r.OnMessage(p1, s.frame(session.RolePipeline, codec.Message{keyInstallPlugin: "x"}))

	s.Eventually(func() bool { return s.installer.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Zero(p1.count())
	s.Zero(editor.count())
}

func (s *RelaySuite) TestControlMessagesWithoutCollaboratorsAreIgnored() {
	s.r.puller = nil
	s.r.installer = nil
	p1 := s.add("p1", session.RolePipeline, "10.0.0.1")
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")

	s.r.OnMessage(p1, s.frame(session.RolePipeline, codec.Message{keyInstallPlugin: "x"}))
	s.r.OnMessage(p1, s.frame(session.RolePipeline, codec.Message{keyPullUpdate: true}))

	// 更新提示照常广播，但不会执行拉取或安装，也不会转发给编辑器。
	s.Equal([]codec.Message{{KindAlert: updateAlert}}, p1.received(s.T(), s.codecs))
	s.Zero(editor.count())
	s.Zero(s.puller.calls.Load())
	s.Zero(s.installer.calls.Load())
}

func (s *RelaySuite) TestPipelineMessagesFollowAffinity() {
	e1 := s.add("e1", session.RoleEditor, "10.0.0.1")
	e2 := s.add("e2", session.RoleEditor, "10.0.0.2")
	near := s.add("p1", session.RolePipeline, "10.0.0.1")
	alone := s.add("p2", session.RolePipeline, "10.0.0.3")

	s.r.OnMessage(near, s.frame(session.RolePipeline, codec.Message{"status": "running"}))
	s.Equal([]codec.Message{{"status": "running"}}, e1.received(s.T(), s.codecs))
	s.Zero(e2.count())

	// 没有同源编辑器时回退为广播。
	s.r.OnMessage(alone, s.frame(session.RolePipeline, codec.Message{"status": "done"}))
	s.Equal([]codec.Message{{"status": "running"}, {"status": "done"}}, e1.received(s.T(), s.codecs))
	s.Equal([]codec.Message{{"status": "done"}}, e2.received(s.T(), s.codecs))
}

func (s *RelaySuite) TestEditorForwardStripsBinary() {
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")
	pipeline := s.add("p1", session.RolePipeline, "10.0.0.1")

	s.r.OnMessage(editor, s.frame(session.RoleEditor, codec.Message{
		"note":   "hi",
		"blob":   []byte{1, 2, 3},
		"nested": map[string]any{"raw": []byte{4}, "keep": "yes"},
	}))

	s.Equal([]codec.Message{{
		"note":   "hi",
		"nested": map[string]any{"keep": "yes"},
	}}, pipeline.received(s.T(), s.codecs))
}

func (s *RelaySuite) TestCombinedDataReconstructsAndQueues() {
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")
	near := s.add("p1", session.RolePipeline, "10.0.0.1")
	far := s.add("p2", session.RolePipeline, "10.0.0.2")

	s.r.OnMessage(editor, s.frame(session.RoleEditor, codec.Message{
		"extra": "keep",
		keyCombinedData: map[string]any{
			keyChangedImages: []any{
				map[string]any{
					"title": "layer",
					"imageInfo": map[string]any{
						"width":     2,
						"height":    1,
						"imageData": []byte{255, 0, 0, 255, 0, 255, 0, 255},
					},
				},
				map[string]any{"title": "broken"},
			},
			keyMask: map[string]any{
				"width":    2,
				"height":   1,
				"maskData": []byte{0, 255},
			},
		},
	}))

	img, err := imaging.Open(filepath.Join(s.dir, "imgs", "layer.png"))
	s.Require().NoError(err)
	s.Equal(image.Rect(0, 0, 2, 1), img.Bounds())
	mask, err := imaging.Open(filepath.Join(s.dir, "imgs", raster.DefaultMaskFilename))
	s.Require().NoError(err)
	s.Equal(uint8(255), color.GrayModel.Convert(mask.At(1, 0)).(color.Gray).Y)
	s.NoFileExists(filepath.Join(s.dir, "imgs", "broken.png"))

	s.Equal([]codec.Message{{"extra": "keep"}, {KindQueue: true}}, near.received(s.T(), s.codecs))
	s.Zero(far.count())
}

func (s *RelaySuite) TestCombinedDataOnlySendsQueue() {
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")
	pipeline := s.add("p1", session.RolePipeline, "10.0.0.1")

	s.r.OnMessage(editor, s.frame(session.RoleEditor, codec.Message{
		keyCombinedData: map[string]any{keyChangedImages: []any{}},
	}))

	s.Equal([]codec.Message{{KindQueue: true}}, pipeline.received(s.T(), s.codecs))
}

func (s *RelaySuite) TestMalformedFrameIsDropped() {
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")
	pipeline := s.add("p1", session.RolePipeline, "10.0.0.1")

	s.r.OnMessage(pipeline, session.Frame{Type: session.FrameText, Payload: []byte("{not json")})
	s.r.OnMessage(pipeline, session.Frame{Type: session.FrameText, Payload: []byte(`["list"]`)})
	s.Zero(editor.count())

	s.r.OnMessage(pipeline, s.frame(session.RolePipeline, codec.Message{"ok": true}))
	s.Equal([]codec.Message{{"ok": true}}, editor.received(s.T(), s.codecs))
}

func (s *RelaySuite) TestUnknownRoleIsNotRouted() {
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")
	pipeline := s.add("p1", session.RolePipeline, "10.0.0.1")
	unknown := s.add("u1", session.RoleUnknown, "10.0.0.1")

	s.r.OnConnected(unknown)
	s.r.OnMessage(unknown, s.frame(session.RolePipeline, codec.Message{"status": "x"}))

	s.Zero(editor.count())
	s.Zero(pipeline.count())
	s.NotContains(s.sessions.IDsForRole(session.RolePipeline), "u1")
}

func (s *RelaySuite) TestDeliveryFailureIsIsolated() {
	broken := s.add("e1", session.RoleEditor, "10.0.0.1")
	broken.sendErr = errors.New("broken pipe")
	healthy := s.add("e2", session.RoleEditor, "10.0.0.2")

	n := s.r.deliver(context.Background(), s.sessions.SessionsForRole(session.RoleEditor), KindAlert, "hello")

	s.Equal(1, n)
	s.Zero(broken.count())
	s.Equal([]codec.Message{{KindAlert: "hello"}}, healthy.received(s.T(), s.codecs))
	s.Zero(s.r.deliver(context.Background(), nil, KindAlert, "nobody"))
}

func (s *RelaySuite) writeRender(name string) {
	dir := filepath.Join(s.dir, "render")
	s.Require().NoError(os.MkdirAll(dir, 0o755))
	img := imaging.New(4, 4, color.NRGBA{})
	img.Set(1, 2, color.NRGBA{R: 255, A: 255})
	s.Require().NoError(imaging.Save(img, filepath.Join(dir, name)))
}

func (s *RelaySuite) get(target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func (s *RelaySuite) TestRenderBatchTargetsSameOriginEditors() {
	s.writeRender("out.png")
	near := s.add("e1", session.RoleEditor, "10.0.0.1")
	far := s.add("e2", session.RoleEditor, "10.0.0.2")
	s.add("p1", session.RolePipeline, "10.0.0.1")

	rec := s.get("/ps/renderbatch?cmUID=p1&filenames=out.png,missing.png")

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "Batch of 1 images")
	s.Zero(far.count())

	msgs := near.received(s.T(), s.codecs)
	s.Require().Len(msgs, 1)
	items, ok := msgs[0][KindRenderBatch].([]any)
	s.Require().True(ok)
	s.Require().Len(items, 1)
	item := items[0].(map[string]any)
	s.Equal("out.png", item["filename"])
	data, ok := item["image"].([]any)
	s.Require().True(ok, "image is sent as an integer list")
	s.Require().NotEmpty(data)
	s.EqualValues(0x89, data[0])
	bounds := item["sourceBounds"].(map[string]any)
	s.EqualValues(1, bounds["left"])
	s.EqualValues(2, bounds["top"])
	s.EqualValues(2, bounds["right"])
	s.EqualValues(3, bounds["bottom"])
}

func (s *RelaySuite) TestRenderBatchUnknownSenderBroadcasts() {
	s.writeRender("out.png")
	e1 := s.add("e1", session.RoleEditor, "10.0.0.1")
	e2 := s.add("e2", session.RoleEditor, "10.0.0.2")

	rec := s.get("/ps/renderbatch?cmUID=ghost&filenames=out.png")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal(1, e1.count())
	s.Equal(1, e2.count())
}

func (s *RelaySuite) TestRenderBatchWithoutSameOriginEditorSendsNothing() {
	s.writeRender("out.png")
	editor := s.add("e1", session.RoleEditor, "10.0.0.1")
	s.add("p1", session.RolePipeline, "10.0.0.7")

	rec := s.get("/ps/renderbatch?cmUID=p1&filenames=out.png")

	s.Equal(http.StatusOK, rec.Code)
	s.Zero(editor.count())
}

func (s *RelaySuite) TestRenderBatchRequiresFilenames() {
	rec := s.get("/ps/renderbatch?cmUID=p1&filenames=")
	s.Equal(http.StatusBadRequest, rec.Code)

	_, err := s.r.PushRenderBatch(context.Background(), "p1", nil)
	s.Error(err)
}

func TestRelay(t *testing.T) {
	suite.Run(t, new(RelaySuite))
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Sessions: session.NewBaseSessionManager()})
	assert.Error(t, err)
}

func TestStripBinary(t *testing.T) {
	in := map[string]any{
		"a": []byte{1},
		"b": []any{[]byte{2}, "x", map[string]any{"c": []byte{3}, "d": 1}},
	}
	out := stripBinary(in)
	assert.Equal(t, map[string]any{
		"b": []any{"x", map[string]any{"d": 1}},
	}, out)
	assert.Contains(t, in, "a")
}
