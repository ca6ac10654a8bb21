// Package conn implements the Connection Manager and Dispatcher of spec
// §4.9-§4.10: the NEGOTIATING/LIVE/DRAINING/CLOSED per-connection state
// machine, its paired reader/writer tasks sharing one close signal, and
// the command-routing/authorization layer in front of the domain
// services. Grounded on teacher's session.go/hub.go/topic.go trio, which
// plays the analogous role of per-session I/O plus message routing in
// tinode, generalized from its in-memory topic registry to the Event Bus
// abstraction (spec §4.2) and a process-wide Presence Tracker (spec §4.8).
package conn

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/metrics"
	"github.com/dcadea/eventfabric/internal/model"
)

// Identity is the subset of internal/identity.Resolver the Dispatcher
// needs to authenticate an Auth command.
type Identity interface {
	Authenticate(token string) (model.UserSub, error)
}

// Talks is the subset of internal/talk.Service the Dispatcher authorizes
// CreateMessage against and a live Conn uses to discover which per-talk
// message subjects to subscribe to (spec §4.2).
type Talks interface {
	Members(ctx context.Context, talkID id.ID) ([]model.UserSub, error)
	FindBySub(ctx context.Context, sub model.UserSub) ([]model.Talk, error)
}

// Messages is the subset of internal/message.Service the Dispatcher
// routes CreateMessage/UpdateMessage/DeleteMessage/MarkSeenMessage to.
type Messages interface {
	Create(ctx context.Context, talkID id.ID, author model.UserSub, text string) ([]model.Message, error)
	Edit(ctx context.Context, author model.UserSub, msgID id.ID, newText string) (model.Message, error)
	Delete(ctx context.Context, author model.UserSub, msgID id.ID) (model.Message, error)
	MarkSeen(ctx context.Context, viewer model.UserSub, msgs []model.Message) (int, error)
	FindByIDForSeen(ctx context.Context, msgID id.ID) (model.Message, error)
}

// Dispatcher routes parsed Commands to the domain services and maps
// their errors to the taxonomy of spec §7.
type Dispatcher struct {
	identity Identity
	talks    Talks
	messages Messages
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(identity Identity, talks Talks, messages Messages) *Dispatcher {
	return &Dispatcher{identity: identity, talks: talks, messages: messages}
}

// Outcome is what the Dispatcher decided happened to one Command: either
// the connection should be authenticated as user, closed, or — on a
// recoverable service error — nothing further (the caller publishes the
// error event itself, since the Dispatcher has no Bus dependency of its
// own, only the services it routes to do).
type Outcome struct {
	// Authenticated is set when an Auth command succeeded.
	Authenticated model.UserSub
	// Fatal is set when the connection must be closed: a failed Auth, or a
	// service error carrying the Unauthorized or Fatal taxonomy code (spec §7).
	Fatal bool
	// Err is the service error, if any, regardless of whether it was fatal.
	Err error
	// Handled distinguishes a command that actually reached a service
	// (Auth or a LIVE-state command) from one that was a no-op by
	// routing rules alone (unknown type, Auth while already LIVE, any
	// command before Auth) — both report a zero Outcome otherwise.
	Handled bool
}

// Dispatch routes one Command per spec §4.10's routing table. state is the
// connection's current lifecycle state (NEGOTIATING or LIVE); user is the
// already-authenticated subject, empty in NEGOTIATING.
func (d *Dispatcher) Dispatch(ctx context.Context, state State, user model.UserSub, cmd Command) Outcome {
	outcome := d.dispatch(ctx, state, user, cmd)
	if outcome.Err != nil && (apperr.Is(outcome.Err, apperr.Unauthorized) || apperr.Is(outcome.Err, apperr.Fatal)) {
		outcome.Fatal = true
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Type, outcomeLabel(outcome)).Inc()
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, state State, user model.UserSub, cmd Command) Outcome {
	if !cmd.Known() {
		log.Warn().Str("type", cmd.Type).Msg("conn: ignoring unknown command type")
		return Outcome{}
	}

	if cmd.Type == TypeAuth {
		if state != StateNegotiating {
			return Outcome{} // Auth in LIVE is ignored, spec §4.10
		}
		sub, err := d.identity.Authenticate(cmd.Token)
		if err != nil {
			return Outcome{Fatal: true, Err: err, Handled: true}
		}
		return Outcome{Authenticated: sub, Handled: true}
	}

	if state == StateNegotiating {
		return Outcome{} // any other command before auth is ignored, spec §4.10
	}

	switch cmd.Type {
	case TypeCreateMessage:
		return d.dispatchCreateMessage(ctx, user, cmd)
	case TypeUpdateMessage:
		return d.dispatchUpdateMessage(ctx, user, cmd)
	case TypeDeleteMessage:
		return d.dispatchDeleteMessage(ctx, user, cmd)
	case TypeMarkSeenMessage:
		return d.dispatchMarkSeenMessage(ctx, user, cmd)
	}
	return Outcome{}
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.Err != nil:
		return metrics.OutcomeError
	case o.Handled:
		return metrics.OutcomeOK
	default:
		return metrics.OutcomeIgnored
	}
}

func (d *Dispatcher) dispatchCreateMessage(ctx context.Context, user model.UserSub, cmd Command) Outcome {
	members, err := d.talks.Members(ctx, cmd.TalkID)
	if err != nil {
		return Outcome{Err: err, Handled: true}
	}
	if !isMember(members, user) {
		return Outcome{Err: apperr.WithReason(apperr.Forbidden, apperr.ReasonNotMember, "not a member of this talk"), Handled: true}
	}
	_, err = d.messages.Create(ctx, cmd.TalkID, user, cmd.Text)
	return Outcome{Err: err, Handled: true}
}

func (d *Dispatcher) dispatchUpdateMessage(ctx context.Context, user model.UserSub, cmd Command) Outcome {
	_, err := d.messages.Edit(ctx, user, cmd.ID, cmd.Text)
	return Outcome{Err: err, Handled: true}
}

func (d *Dispatcher) dispatchDeleteMessage(ctx context.Context, user model.UserSub, cmd Command) Outcome {
	_, err := d.messages.Delete(ctx, user, cmd.ID)
	return Outcome{Err: err, Handled: true}
}

func (d *Dispatcher) dispatchMarkSeenMessage(ctx context.Context, user model.UserSub, cmd Command) Outcome {
	msg, err := d.messages.FindByIDForSeen(ctx, cmd.ID)
	if err != nil {
		return Outcome{Err: err, Handled: true}
	}
	_, err = d.messages.MarkSeen(ctx, user, []model.Message{msg})
	return Outcome{Err: err, Handled: true}
}

func isMember(members []model.UserSub, sub model.UserSub) bool {
	for _, m := range members {
		if m == sub {
			return true
		}
	}
	return false
}

// AuthTimeout is the NEGOTIATING-state deadline of spec §4.9: "auth
// handshake times out at 5s".
const AuthTimeout = 5 * time.Second
