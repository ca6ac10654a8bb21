package conn

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dcadea/eventfabric/internal/bus"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/metrics"
	"github.com/dcadea/eventfabric/internal/model"
)

// State is one of the four lifecycle states a Conn passes through, spec §4.9.
type State int

const (
	StateNegotiating State = iota
	StateLive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateLive:
		return "live"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// socket is the subset of *websocket.Conn this package depends on, so
// tests can substitute a fake.
type socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Presence is the subset of internal/presence.Tracker a Conn needs for
// connect/disconnect refcounting and per-connection online-contacts
// pushes (spec §4.8).
type Presence interface {
	Connect(ctx context.Context, sub model.UserSub)
	Disconnect(ctx context.Context, sub model.UserSub)
	WatchAndPublish(ctx context.Context, sub model.UserSub) error
}

// Bus is the subset of bus.Bus a live Conn subscribes to for its own
// notification and per-talk message subjects.
type Bus interface {
	Subscribe(ctx context.Context, subject bus.Subject) (bus.Subscription, error)
}

// Conn owns one WebSocket's lifecycle: a reader goroutine decoding inbound
// Commands, a writer goroutine draining outbound bus.Events, and a single
// close signal shared by both, per spec §4.9. Grounded on teacher's
// session.go read/write pump pair, generalized to the Event Bus
// abstraction for the writer side instead of tinode's in-process topic
// broadcast channel.
type Conn struct {
	ws         socket
	dispatcher *Dispatcher
	presence   Presence
	talks      Talks
	bus        Bus

	mu    sync.Mutex
	state State
	user  model.UserSub

	out       chan bus.Event
	closeOnce sync.Once
	closed    chan struct{}
}

// New constructs a Conn in the NEGOTIATING state. Run must be called to
// drive it.
func New(ws socket, dispatcher *Dispatcher, presence Presence, talks Talks, b Bus) *Conn {
	return &Conn{
		ws:         ws,
		dispatcher: dispatcher,
		presence:   presence,
		talks:      talks,
		bus:        b,
		state:      StateNegotiating,
		out:        make(chan bus.Event, 32),
		closed:     make(chan struct{}),
	}
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run drives the connection to completion: it blocks until the socket is
// closed, the auth handshake times out, or ctx is canceled. It always
// leaves the connection in StateClosed and releases the presence
// refcount before returning.
func (c *Conn) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	authTimer := time.NewTimer(AuthTimeout)
	defer authTimer.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readLoop(ctx, authTimer)
	}()
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()

	go func() {
		select {
		case <-authTimer.C:
			if c.State() == StateNegotiating {
				log.Warn().Msg("conn: auth handshake timed out")
				c.Close()
			}
		case <-c.closed:
		case <-ctx.Done():
			c.Close()
		}
	}()

	wg.Wait()
	c.teardown(context.Background())
}

func (c *Conn) readLoop(ctx context.Context, authTimer *time.Timer) {
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			c.Close()
			return
		}

		cmd, err := ParseCommand(raw)
		if err != nil {
			log.Warn().Err(err).Msg("conn: dropping malformed frame")
			continue
		}

		state := c.State()
		outcome := c.dispatcher.Dispatch(ctx, state, c.userSnapshot(), cmd)

		if outcome.Authenticated != "" {
			c.mu.Lock()
			c.user = outcome.Authenticated
			c.state = StateLive
			c.mu.Unlock()
			authTimer.Stop()
			metrics.LiveConnections.Inc()
			c.presence.Connect(ctx, outcome.Authenticated)
			if err := c.subscribeLive(ctx); err != nil {
				log.Error().Err(err).Msg("conn: failed to subscribe after auth")
				c.Close()
				return
			}
			go func(user model.UserSub) {
				if err := c.presence.WatchAndPublish(ctx, user); err != nil {
					log.Error().Err(err).Msg("conn: presence watch stopped")
				}
			}(outcome.Authenticated)
			continue
		}

		if outcome.Fatal {
			if outcome.Err != nil {
				c.enqueue(errorEvent(outcome.Err))
			}
			c.Close()
			return
		}

		if outcome.Err != nil {
			c.enqueue(errorEvent(outcome.Err))
		}
	}
}

// subscribeLive subscribes the now-authenticated connection to its
// personal notifications subject and, for every talk it already belongs
// to, the talk's messages.<sub>.<talkId> subject (spec §4.2, §8 scenarios
// 1-4). Talks created afterward are picked up as Notification::NewTalk
// arrives on the notifications subject (spec §8 scenario 6).
func (c *Conn) subscribeLive(ctx context.Context) error {
	user := c.userSnapshot()

	notifications, err := c.bus.Subscribe(ctx, bus.NotificationsSubject(user))
	if err != nil {
		return err
	}
	go c.notificationsPump(ctx, notifications)

	talks, err := c.talks.FindBySub(ctx, user)
	if err != nil {
		return err
	}
	for _, t := range talks {
		if err := c.subscribeTalk(ctx, t.ID); err != nil {
			return err
		}
	}
	return nil
}

// subscribeTalk subscribes the connection to one talk's message subject.
func (c *Conn) subscribeTalk(ctx context.Context, talkID id.ID) error {
	sub, err := c.bus.Subscribe(ctx, bus.MessagesSubject(c.userSnapshot(), talkID))
	if err != nil {
		return err
	}
	go c.pump(sub)
	return nil
}

// notificationsPump forwards the connection's own notifications to c.out
// and, on Notification::NewTalk, subscribes it to that talk's messages
// subject so subsequent Message events reach the client without a
// reconnect.
func (c *Conn) notificationsPump(ctx context.Context, sub bus.Subscription) {
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if n := event.Notification; n != nil && n.NewTalk != nil {
				if err := c.subscribeTalk(ctx, n.NewTalk.ID); err != nil {
					log.Error().Err(err).Str("talk", n.NewTalk.ID.String()).Msg("conn: failed to subscribe to new talk")
				}
			}
			c.enqueue(event)
		case <-c.closed:
			sub.Close()
			return
		}
	}
}

func (c *Conn) pump(sub bus.Subscription) {
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			c.enqueue(event)
		case <-c.closed:
			sub.Close()
			return
		}
	}
}

func (c *Conn) enqueue(event bus.Event) {
	select {
	case c.out <- event:
	case <-c.closed:
	}
}

func (c *Conn) writeLoop(ctx context.Context) {
	for {
		select {
		case event := <-c.out:
			frame, err := encodeEvent(event)
			if err != nil {
				log.Error().Err(err).Msg("conn: failed to encode outbound event")
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-c.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) userSnapshot() model.UserSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Close transitions the connection to DRAINING and signals both tasks to
// stop; it is safe to call multiple times and from either task.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateDraining
		c.mu.Unlock()
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *Conn) teardown(ctx context.Context) {
	c.mu.Lock()
	user := c.user
	c.state = StateClosed
	c.mu.Unlock()

	if user != "" {
		c.presence.Disconnect(ctx, user)
		metrics.LiveConnections.Dec()
	}
}
