// Package model holds the data model of spec.md §3, independent of how it
// is persisted or transported.
package model

import (
	"time"

	"github.com/dcadea/eventfabric/internal/id"
)

// UserSub is the opaque user identifier issued by the identity provider.
type UserSub string

func (s UserSub) String() string { return string(s) }

// Profile is a user's immutable (from this system's perspective) identity
// profile, refreshed from the IdP on cache miss (spec §4.4).
type Profile struct {
	Sub     UserSub `json:"sub" bson:"sub"`
	Nickname string `json:"nickname" bson:"nickname"`
	Name    string  `json:"name" bson:"name"`
	Picture string  `json:"picture" bson:"picture"`
	Email   string  `json:"email" bson:"email"`
}

// ContactStatus is the state of a Contact relationship (spec §3).
type ContactStatus string

const (
	ContactPending  ContactStatus = "pending"
	ContactAccepted ContactStatus = "accepted"
	ContactRejected ContactStatus = "rejected"
	ContactBlocked  ContactStatus = "blocked"
)

// Contact is an edge between two users. Invariant: SubA != SubB, and at most
// one row exists per unordered pair (enforced by the contact service, see
// SPEC_FULL.md §4).
type Contact struct {
	ID        id.ID         `json:"id" bson:"_id"`
	SubA      UserSub       `json:"subA" bson:"sub_a"`
	SubB      UserSub       `json:"subB" bson:"sub_b"`
	Status    ContactStatus `json:"status" bson:"status"`
	Initiator UserSub       `json:"initiator" bson:"initiator"`
}

// Other returns the sub on the other side of the contact from sub.
func (c Contact) Other(sub UserSub) UserSub {
	if c.SubA == sub {
		return c.SubB
	}
	return c.SubA
}

// Has reports whether sub participates in this contact.
func (c Contact) Has(sub UserSub) bool { return c.SubA == sub || c.SubB == sub }

// TalkKind distinguishes a 1-1 chat from a named group (spec §3).
type TalkKind string

const (
	TalkChat  TalkKind = "chat"
	TalkGroup TalkKind = "group"
)

// TalkDetails holds the kind-specific metadata of a Talk.
type TalkDetails struct {
	// Members is the fixed set of member subs (both kinds).
	Members []UserSub `json:"members" bson:"members"`
	// Name and Picture are set for TalkGroup only.
	Name    string  `json:"name,omitempty" bson:"name,omitempty"`
	Picture string  `json:"picture,omitempty" bson:"picture,omitempty"`
	// Owner is set for TalkGroup only.
	Owner UserSub `json:"owner,omitempty" bson:"owner,omitempty"`
}

// HasMember reports whether sub is a member of this talk.
func (d TalkDetails) HasMember(sub UserSub) bool {
	for _, m := range d.Members {
		if m == sub {
			return true
		}
	}
	return false
}

// Talk is a chat or a group (spec §3). Member set is fixed after creation.
type Talk struct {
	ID          id.ID        `json:"id" bson:"_id"`
	Kind        TalkKind     `json:"kind" bson:"kind"`
	Details     TalkDetails  `json:"details" bson:"details"`
	LastMessage *LastMessage `json:"lastMessage,omitempty" bson:"last_message,omitempty"`
	CreatedAt   time.Time    `json:"createdAt" bson:"created_at"`
}

// Recipients returns every member of the talk other than exclude.
func (t Talk) Recipients(exclude UserSub) []UserSub {
	out := make([]UserSub, 0, len(t.Details.Members))
	for _, m := range t.Details.Members {
		if m != exclude {
			out = append(out, m)
		}
	}
	return out
}

// Message is a single persisted chat message (spec §3).
type Message struct {
	ID        id.ID     `json:"id" bson:"_id"`
	TalkID    id.ID     `json:"talkId" bson:"talk_id"`
	Owner     UserSub   `json:"owner" bson:"owner"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Seen      bool      `json:"seen" bson:"seen"`
}

// WithText returns a copy of m with Text replaced.
func (m Message) WithText(text string) Message {
	m.Text = text
	return m
}

// WithRandomID returns a copy of m with a freshly generated ID, used when
// splitting one logical send into several sibling messages (spec §4.7.1).
func (m Message) WithRandomID() Message {
	m.ID = id.New()
	return m
}

// LastMessage is the denormalized pointer embedded in a Talk (spec §3, §9).
type LastMessage struct {
	ID        id.ID     `json:"id" bson:"_id"`
	Text      string    `json:"text" bson:"text"`
	Owner     UserSub   `json:"owner" bson:"owner"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Seen      bool      `json:"seen" bson:"seen"`
}

// FromMessage builds the denormalized LastMessage view of a Message.
func FromMessage(m Message) LastMessage {
	return LastMessage{ID: m.ID, Text: m.Text, Owner: m.Owner, Timestamp: m.Timestamp, Seen: m.Seen}
}
