// Package bus implements the Event Bus component of spec §4.2: subject-based
// publish/subscribe of typed events, interchangeable between an in-process
// implementation (used in tests and as a fallback) and an over-the-wire NATS
// implementation, grounded on original_source's integration/pubsub.rs
// Subject rendering and teacher's hub.route channel-based fan-out.
package bus

import (
	"context"
	"fmt"

	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// Subject is a typed routing key. The two variants are disjoint namespaces
// (spec §4.2): per-user notifications and per-talk, per-subscriber message
// events.
type Subject struct {
	notifications bool
	sub           model.UserSub
	talkID        id.ID
}

// NotificationsSubject builds the noti.<sub> subject.
func NotificationsSubject(sub model.UserSub) Subject {
	return Subject{notifications: true, sub: sub}
}

// MessagesSubject builds the messages.<sub>.<talkId> subject.
func MessagesSubject(sub model.UserSub, talkID id.ID) Subject {
	return Subject{sub: sub, talkID: talkID}
}

// Kind reports which of the two disjoint subject namespaces s belongs to,
// for metrics partitioning.
func (s Subject) Kind() string {
	if s.notifications {
		return "notifications"
	}
	return "messages"
}

func (s Subject) String() string {
	if s.notifications {
		return fmt.Sprintf("noti.%s", s.sub)
	}
	return fmt.Sprintf("messages.%s.%s", s.sub, s.talkID)
}

// Event is the payload carried over the bus: either a Notification or a
// Message variant (spec §4.2).
type Event struct {
	Notification *Notification `json:"notification,omitempty"`
	Message      *MessageEvent `json:"message,omitempty"`
}

// Notification variants (spec §4.2).
type Notification struct {
	NewTalk         *TalkDto         `json:"newTalk,omitempty"`
	NewMessage      *NewMessageInfo  `json:"newMessage,omitempty"`
	OnlineContacts  *OnlineContacts  `json:"onlineContacts,omitempty"`
	Error           *ErrorInfo       `json:"error,omitempty"`
}

// TalkDto is the wire representation of a talk, kept separate from
// model.Talk so bus payload shape changes don't ripple into storage.
type TalkDto struct {
	ID      id.ID            `json:"id"`
	Kind    model.TalkKind   `json:"kind"`
	Members []model.UserSub  `json:"members"`
	Name    string           `json:"name,omitempty"`
	Picture string           `json:"picture,omitempty"`
	Owner   model.UserSub    `json:"owner,omitempty"`
}

// NewMessageInfo is the payload of Notification::NewMessage.
type NewMessageInfo struct {
	TalkID      id.ID             `json:"talkId"`
	LastMessage model.LastMessage `json:"lastMessage"`
}

// OnlineContacts is the payload of Notification::OnlineContacts.
type OnlineContacts struct {
	Subs []model.UserSub `json:"subs"`
}

// ErrorInfo carries a recoverable service error back to the originating
// user (spec §7 "error notification event").
type ErrorInfo struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
	Msg    string `json:"message"`
}

// MessageEvent variants (spec §4.2).
type MessageEvent struct {
	New     *model.Message `json:"new,omitempty"`
	Updated *UpdatedInfo   `json:"updated,omitempty"`
	Deleted *id.ID         `json:"deleted,omitempty"`
	Seen    *model.Message `json:"seen,omitempty"`
}

// UpdatedInfo is the payload of Message::Updated.
type UpdatedInfo struct {
	Msg model.Message `json:"msg"`
	By  model.UserSub `json:"by"`
}

// Subscription is a live subscription returned by Bus.Subscribe.
type Subscription interface {
	// Events yields delivered events; closed when Close is called or the
	// subscriber's context is canceled.
	Events() <-chan Event
	Close() error
}

// Bus is the Event Bus contract of spec §4.2 and §9 ("exactly publish,
// publishAll, subscribe"). Implementations must preserve per-(publisher,
// subject) ordering; no ordering is guaranteed across subjects.
type Bus interface {
	Publish(ctx context.Context, subject Subject, event Event) error
	PublishAll(ctx context.Context, subject Subject, events []Event) error
	Subscribe(ctx context.Context, subject Subject) (Subscription, error)
	Close() error
}
