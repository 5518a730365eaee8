package session

import (
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// fakeTransport 记录所有写出的帧，可按需注入写出错误。
type fakeTransport struct {
	mu       sync.Mutex
	frames   []Frame
	writeErr error
	closed   bool
	inFlight int
	maxSeen  int
	delay    time.Duration
}

var _ Transport = (*fakeTransport)(nil)

func (t *fakeTransport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	t.inFlight++
	if t.inFlight > t.maxSeen {
		t.maxSeen = t.inFlight
	}
	err := t.writeErr
	delay := t.delay
	t.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight--
	if err != nil {
		return err
	}
	if t.closed {
		return errors.New("use of closed connection")
	}
	t.frames = append(t.frames, Frame{Type: FrameType(messageType), Payload: append([]byte(nil), data...)})
	return nil
}

func (t *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (t *fakeTransport) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 50000}
}

func (t *fakeTransport) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 8188}
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) snapshot() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Frame(nil), t.frames...)
}
