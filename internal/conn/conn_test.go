package conn

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcadea/eventfabric/internal/bus"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// fakeSocket is an in-memory stand-in for *websocket.Conn: inbound frames
// are fed through in, outbound frames recorded into written.
type fakeSocket struct {
	mu      sync.Mutex
	in      chan []byte
	written [][]byte
	closed  bool
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{in: make(chan []byte, 16)}
}

func (f *fakeSocket) ReadMessage() (int, []byte, error) {
	msg, ok := <-f.in
	if !ok {
		return 0, nil, errClosed
	}
	return 1, msg, nil
}

func (f *fakeSocket) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.in)
	}
	return nil
}

func (f *fakeSocket) send(t *testing.T, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	f.in <- raw
}

func (f *fakeSocket) writtenFrames() []outboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	frames := make([]outboundFrame, 0, len(f.written))
	for _, raw := range f.written {
		var fr outboundFrame
		_ = json.Unmarshal(raw, &fr)
		frames = append(frames, fr)
	}
	return frames
}

type errClosedT struct{}

func (errClosedT) Error() string { return "fake socket closed" }

var errClosed error = errClosedT{}

type fakePresence struct {
	mu         sync.Mutex
	connected  []model.UserSub
	disconnect []model.UserSub
}

func (f *fakePresence) Connect(ctx context.Context, sub model.UserSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, sub)
}

func (f *fakePresence) Disconnect(ctx context.Context, sub model.UserSub) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnect = append(f.disconnect, sub)
}

func (f *fakePresence) WatchAndPublish(ctx context.Context, sub model.UserSub) error {
	<-ctx.Done()
	return nil
}

type fakeConnTalks struct{}

func (fakeConnTalks) FindBySub(ctx context.Context, sub model.UserSub) ([]model.Talk, error) {
	return nil, nil
}

func (fakeConnTalks) Members(ctx context.Context, talkID id.ID) ([]model.UserSub, error) {
	return nil, nil
}

type fakeConnBus struct{}

func (fakeConnBus) Subscribe(ctx context.Context, subject bus.Subject) (bus.Subscription, error) {
	return &fakeConnSub{events: make(chan bus.Event)}, nil
}

// recordingConnBus tracks every subject subscribed to, so tests can assert
// a live Conn picks up its talks' message subjects alongside its own
// notifications subject.
type recordingConnBus struct {
	mu       sync.Mutex
	subjects []string
}

func (b *recordingConnBus) Subscribe(ctx context.Context, subject bus.Subject) (bus.Subscription, error) {
	b.mu.Lock()
	b.subjects = append(b.subjects, subject.String())
	b.mu.Unlock()
	return &fakeConnSub{events: make(chan bus.Event)}, nil
}

func (b *recordingConnBus) subscribed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.subjects))
	copy(out, b.subjects)
	return out
}

type oneTalkConnTalks struct{ talkID id.ID }

func (o oneTalkConnTalks) FindBySub(ctx context.Context, sub model.UserSub) ([]model.Talk, error) {
	return []model.Talk{{ID: o.talkID}}, nil
}

func (o oneTalkConnTalks) Members(ctx context.Context, talkID id.ID) ([]model.UserSub, error) {
	return nil, nil
}

type fakeConnSub struct {
	events chan bus.Event
}

func (s *fakeConnSub) Events() <-chan bus.Event { return s.events }
func (s *fakeConnSub) Close() error {
	close(s.events)
	return nil
}

func TestConnAuthTransitionsToLiveAndTracksPresence(t *testing.T) {
	ws := newFakeSocket()
	presence := &fakePresence{}
	d := NewDispatcher(&fakeIdentity{sub: "alice"}, &fakeTalks{}, &fakeMessages{})
	c := New(ws, d, presence, fakeConnTalks{}, fakeConnBus{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	ws.send(t, Command{Type: TypeAuth, Token: "tok"})

	require.Eventually(t, func() bool { return c.State() == StateLive }, time.Second, time.Millisecond)

	cancel()
	ws.Close()
	<-done

	presence.mu.Lock()
	defer presence.mu.Unlock()
	assert.Equal(t, []model.UserSub{"alice"}, presence.connected)
}

func TestConnClosesOnAuthFailure(t *testing.T) {
	ws := newFakeSocket()
	presence := &fakePresence{}
	d := NewDispatcher(&fakeIdentity{err: assertErr{}}, &fakeTalks{}, &fakeMessages{})
	c := New(ws, d, presence, fakeConnTalks{}, fakeConnBus{})

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	ws.send(t, Command{Type: TypeAuth, Token: "bad"})

	require.Eventually(t, func() bool { return c.State() == StateClosed }, time.Second, time.Millisecond)
	<-done

	frames := ws.writtenFrames()
	require.NotEmpty(t, frames)
	assert.Equal(t, "notification.error", frames[0].Type)
}

type assertErr struct{}

func (assertErr) Error() string { return "auth failed" }

func TestConnDisconnectsPresenceOnTeardown(t *testing.T) {
	ws := newFakeSocket()
	presence := &fakePresence{}
	d := NewDispatcher(&fakeIdentity{sub: "alice"}, &fakeTalks{}, &fakeMessages{})
	c := New(ws, d, presence, fakeConnTalks{}, fakeConnBus{})

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	ws.send(t, Command{Type: TypeAuth, Token: "tok"})
	require.Eventually(t, func() bool { return c.State() == StateLive }, time.Second, time.Millisecond)

	ws.Close()
	<-done

	presence.mu.Lock()
	defer presence.mu.Unlock()
	assert.Equal(t, []model.UserSub{"alice"}, presence.disconnect)
}

func TestConnSubscribesToExistingTalksOnAuth(t *testing.T) {
	ws := newFakeSocket()
	presence := &fakePresence{}
	talkID := id.New()
	talks := oneTalkConnTalks{talkID: talkID}
	recBus := &recordingConnBus{}
	d := NewDispatcher(&fakeIdentity{sub: "alice"}, &fakeTalks{}, &fakeMessages{})
	c := New(ws, d, presence, talks, recBus)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background())
		close(done)
	}()

	ws.send(t, Command{Type: TypeAuth, Token: "tok"})
	require.Eventually(t, func() bool { return c.State() == StateLive }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(recBus.subscribed()) >= 2 }, time.Second, time.Millisecond)

	ws.Close()
	<-done

	subjects := recBus.subscribed()
	assert.Contains(t, subjects, bus.NotificationsSubject("alice").String())
	assert.Contains(t, subjects, bus.MessagesSubject("alice", talkID).String())
}
