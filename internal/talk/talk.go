// Package talk implements the Talk Service: the service-layer wrapper
// around the Talk Repository that enforces the chat-uniqueness invariant
// (spec §4.5, §8) and exposes the member-set queries the Dispatcher and
// Message Service authorize against.
package talk

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/bus"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// Repository is the persistence contract the service depends on,
// implemented by internal/store/mongo.TalkRepository.
type Repository interface {
	FindByID(ctx context.Context, talkID id.ID) (model.Talk, error)
	FindByIDAndSub(ctx context.Context, talkID id.ID, sub model.UserSub) (model.Talk, error)
	FindBySub(ctx context.Context, sub model.UserSub) ([]model.Talk, error)
	Exists(ctx context.Context, members []model.UserSub) (bool, error)
	Create(ctx context.Context, talk model.Talk) error
	Delete(ctx context.Context, talkID id.ID) error
	UpdateLastMessage(ctx context.Context, talkID id.ID, lm *model.LastMessage) error
	MarkLastMessageSeen(ctx context.Context, talkID id.ID) error
}

// Messages is the subset of internal/message.Service's repository this
// package needs so deleting a talk cascades to its messages (spec §3
// Lifecycles: "deletion cascades by removing its messages").
type Messages interface {
	DeleteByTalkID(ctx context.Context, talkID id.ID) error
}

// Bus is the subset of bus.Bus the service publishes Notification::NewTalk
// through when a talk is created.
type Bus interface {
	Publish(ctx context.Context, subject bus.Subject, event bus.Event) error
}

// Service is the Talk Service.
type Service struct {
	repo     Repository
	messages Messages
	bus      Bus
}

// New constructs a Service over repo.
func New(repo Repository, messages Messages, b Bus) *Service {
	return &Service{repo: repo, messages: messages, bus: b}
}

// FindByID returns the talk regardless of membership, used by internal
// callers that have already authorized the caller by other means.
func (s *Service) FindByID(ctx context.Context, talkID id.ID) (model.Talk, error) {
	return s.repo.FindByID(ctx, talkID)
}

// FindByIDAndSub returns the talk only if sub is a member.
func (s *Service) FindByIDAndSub(ctx context.Context, talkID id.ID, sub model.UserSub) (model.Talk, error) {
	return s.repo.FindByIDAndSub(ctx, talkID, sub)
}

// FindBySub lists every talk sub participates in.
func (s *Service) FindBySub(ctx context.Context, sub model.UserSub) ([]model.Talk, error) {
	return s.repo.FindBySub(ctx, sub)
}

// Members returns the member set of a talk, used by the Dispatcher to
// authorize CreateMessage (spec §4.10: "user ∈ members(talkId)") and by
// the Message Service to compute recipients.
func (s *Service) Members(ctx context.Context, talkID id.ID) ([]model.UserSub, error) {
	t, err := s.repo.FindByID(ctx, talkID)
	if err != nil {
		return nil, err
	}
	return t.Details.Members, nil
}

// CreateChat creates a 1-1 chat between a and b, rejecting with Conflict
// if a Chat-kind talk already exists for this exact pair (spec §4.5's
// chat-uniqueness invariant).
func (s *Service) CreateChat(ctx context.Context, a, b model.UserSub) (model.Talk, error) {
	members := sortedPair(a, b)
	exists, err := s.repo.Exists(ctx, members)
	if err != nil {
		return model.Talk{}, err
	}
	if exists {
		return model.Talk{}, apperr.WithReason(apperr.Conflict, apperr.ReasonAlreadyExists, "chat already exists between these members")
	}

	t := model.Talk{
		ID:        id.New(),
		Kind:      model.TalkChat,
		Details:   model.TalkDetails{Members: members},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return model.Talk{}, err
	}
	s.publishNewTalk(ctx, t)
	return t, nil
}

// CreateGroup creates a named group talk owned by owner.
func (s *Service) CreateGroup(ctx context.Context, owner model.UserSub, name string, members []model.UserSub) (model.Talk, error) {
	if len(members) < 2 {
		return model.Talk{}, apperr.WithReason(apperr.Invalid, apperr.ReasonNotEnoughMembers, "a group needs at least two members")
	}
	t := model.Talk{
		ID:   id.New(),
		Kind: model.TalkGroup,
		Details: model.TalkDetails{
			Members: members,
			Name:    name,
			Owner:   owner,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return model.Talk{}, err
	}
	s.publishNewTalk(ctx, t)
	return t, nil
}

// Delete removes a talk and cascades the deletion to its messages (spec
// §3 Lifecycles), authorized by the caller.
func (s *Service) Delete(ctx context.Context, talkID id.ID) error {
	if err := s.repo.Delete(ctx, talkID); err != nil {
		return err
	}
	return s.messages.DeleteByTalkID(ctx, talkID)
}

// publishNewTalk sends Notification::NewTalk to every member so their
// connection can subscribe to the talk's message subject (spec §8
// scenario 6). Publish failures are logged, not fatal to talk creation.
func (s *Service) publishNewTalk(ctx context.Context, t model.Talk) {
	dto := bus.TalkDto{
		ID:      t.ID,
		Kind:    t.Kind,
		Members: t.Details.Members,
		Name:    t.Details.Name,
		Picture: t.Details.Picture,
		Owner:   t.Details.Owner,
	}
	event := bus.Event{Notification: &bus.Notification{NewTalk: &dto}}
	for _, m := range t.Details.Members {
		if err := s.bus.Publish(ctx, bus.NotificationsSubject(m), event); err != nil {
			log.Error().Err(err).Str("talk", t.ID.String()).Str("member", m.String()).Msg("talk: publish Notification::NewTalk failed")
		}
	}
}

// UpdateLastMessage sets the talk's denormalized lastMessage pointer.
func (s *Service) UpdateLastMessage(ctx context.Context, talkID id.ID, lm *model.LastMessage) error {
	return s.repo.UpdateLastMessage(ctx, talkID, lm)
}

// MarkLastMessageSeen flips the seen flag on the talk's lastMessage
// pointer. The Message Service's mark-as-seen does not call it; it updates
// only the messages themselves.
func (s *Service) MarkLastMessageSeen(ctx context.Context, talkID id.ID) error {
	return s.repo.MarkLastMessageSeen(ctx, talkID)
}

func sortedPair(a, b model.UserSub) []model.UserSub {
	members := []model.UserSub{a, b}
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	return members
}
