// Package message implements the Message Service of spec §4.7: create
// (with grapheme-safe chunked splitting), edit, delete, mark-as-seen, and
// the combined query+mark-seen path, publishing every mutation on the
// Event Bus. Grounded on teacher's topic.go message fan-out to subscribed
// sessions, generalized from topic-local delivery to the Event Bus
// abstraction spec §4.2 specifies.
package message

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/bus"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// Repository is the persistence contract, implemented by
// internal/store/mongo.MessageRepository.
type Repository interface {
	Insert(ctx context.Context, msg model.Message) error
	InsertMany(ctx context.Context, msgs []model.Message) error
	FindByID(ctx context.Context, msgID id.ID) (model.Message, error)
	FindMostRecent(ctx context.Context, talkID id.ID) (model.Message, bool, error)
	FindByTalkID(ctx context.Context, talkID id.ID) ([]model.Message, error)
	FindByTalkIDLimited(ctx context.Context, talkID id.ID, limit int64) ([]model.Message, error)
	FindByTalkIDBefore(ctx context.Context, talkID id.ID, before model.Message) ([]model.Message, error)
	FindByTalkIDLimitedBefore(ctx context.Context, talkID id.ID, limit int64, before model.Message) ([]model.Message, error)
	Update(ctx context.Context, msgID id.ID, text string) error
	Delete(ctx context.Context, msgID id.ID) (int64, error)
	DeleteByTalkID(ctx context.Context, talkID id.ID) error
	MarkSeen(ctx context.Context, ids []id.ID) error
}

// TalkService is the subset of internal/talk.Service this package depends
// on: the member set of a talk and the denormalized lastMessage pointer.
type TalkService interface {
	Members(ctx context.Context, talkID id.ID) ([]model.UserSub, error)
	UpdateLastMessage(ctx context.Context, talkID id.ID, lm *model.LastMessage) error
}

// Bus is the subset of bus.Bus the service publishes through.
type Bus interface {
	Publish(ctx context.Context, subject bus.Subject, event bus.Event) error
	PublishAll(ctx context.Context, subject bus.Subject, events []bus.Event) error
}

// Service is the Message Service of spec §4.7.
type Service struct {
	repo  Repository
	talks TalkService
	bus   Bus
}

// New constructs a Service.
func New(repo Repository, talks TalkService, b Bus) *Service {
	return &Service{repo: repo, talks: talks, bus: b}
}

// Create implements spec §4.7.1: split long text into grapheme-safe
// chunks, persist them as siblings sharing owner/talkId/timestamp, update
// the talk's lastMessage, and publish Message::New per chunk plus one
// Notification::NewMessage to every recipient.
func (s *Service) Create(ctx context.Context, talkID id.ID, author model.UserSub, text string) ([]model.Message, error) {
	if text == "" {
		return nil, apperr.WithReason(apperr.Invalid, apperr.ReasonEmptyText, "message text must not be empty")
	}

	members, err := s.talks.Members(ctx, talkID)
	if err != nil {
		return nil, err
	}

	chunks := splitMessage(text)
	now := time.Now().UTC()
	msgs := make([]model.Message, len(chunks))
	for i, chunk := range chunks {
		msgs[i] = model.Message{
			ID:        id.New(),
			TalkID:    talkID,
			Owner:     author,
			Text:      chunk,
			Timestamp: now,
		}
	}

	if len(msgs) == 1 {
		if err := s.repo.Insert(ctx, msgs[0]); err != nil {
			return nil, err
		}
	} else if err := s.repo.InsertMany(ctx, msgs); err != nil {
		return nil, err
	}

	last := model.FromMessage(msgs[len(msgs)-1])
	if err := s.talks.UpdateLastMessage(ctx, talkID, &last); err != nil {
		log.Error().Err(err).Str("talk", talkID.String()).Msg("message: failed to update lastMessage")
	}

	for _, r := range members {
		if r == author {
			continue
		}
		events := make([]bus.Event, len(msgs))
		for i := range msgs {
			m := msgs[i]
			events[i] = bus.Event{Message: &bus.MessageEvent{New: &m}}
		}
		if err := s.bus.PublishAll(ctx, bus.MessagesSubject(r, talkID), events); err != nil {
			log.Error().Err(err).Str("recipient", r.String()).Msg("message: publish Message::New failed")
		}
		notif := bus.Event{Notification: &bus.Notification{NewMessage: &bus.NewMessageInfo{TalkID: talkID, LastMessage: last}}}
		if err := s.bus.Publish(ctx, bus.NotificationsSubject(r), notif); err != nil {
			log.Error().Err(err).Str("recipient", r.String()).Msg("message: publish Notification::NewMessage failed")
		}
	}

	return msgs, nil
}

// Edit implements spec §4.7.2.
func (s *Service) Edit(ctx context.Context, author model.UserSub, msgID id.ID, newText string) (model.Message, error) {
	if newText == "" {
		return model.Message{}, apperr.WithReason(apperr.Invalid, apperr.ReasonEmptyText, "message text must not be empty")
	}

	msg, err := s.repo.FindByID(ctx, msgID)
	if err != nil {
		return model.Message{}, err
	}
	if msg.Owner != author {
		return model.Message{}, apperr.WithReason(apperr.Forbidden, apperr.ReasonNotOwner, "only the author may edit this message")
	}

	if err := s.repo.Update(ctx, msgID, newText); err != nil {
		return model.Message{}, err
	}
	msg.Text = newText

	members, err := s.talks.Members(ctx, msg.TalkID)
	if err != nil {
		return model.Message{}, err
	}
	s.publishToRecipients(ctx, members, author, msg.TalkID, bus.Event{
		Message: &bus.MessageEvent{Updated: &bus.UpdatedInfo{Msg: msg, By: author}},
	})
	return msg, nil
}

// Delete implements spec §4.7.3: the author must be both a talk member
// and the message's owner; a no-op delete (deletedCount == 0) publishes
// nothing. The caller is responsible for recomputing the talk's
// lastMessage via FindMostRecent when the deleted message was current.
func (s *Service) Delete(ctx context.Context, author model.UserSub, msgID id.ID) (model.Message, error) {
	msg, err := s.repo.FindByID(ctx, msgID)
	if err != nil {
		return model.Message{}, err
	}

	members, err := s.talks.Members(ctx, msg.TalkID)
	if err != nil {
		return model.Message{}, err
	}
	if !isMember(members, author) || msg.Owner != author {
		return model.Message{}, apperr.WithReason(apperr.Forbidden, apperr.ReasonNotOwner, "only the author may delete this message")
	}

	deletedCount, err := s.repo.Delete(ctx, msgID)
	if err != nil {
		return model.Message{}, err
	}
	if deletedCount == 0 {
		return model.Message{}, apperr.New(apperr.NotFound, "message already gone")
	}

	deletedID := msgID
	s.publishToRecipients(ctx, members, author, msg.TalkID, bus.Event{
		Message: &bus.MessageEvent{Deleted: &deletedID},
	})
	return msg, nil
}

// MarkSeen implements spec §4.7.4: filters empty input, drops messages
// owned by viewer and already-seen messages, bulk-flips the rest, and
// publishes Message::Seen per transitioned message. Returns the count of
// transitions.
func (s *Service) MarkSeen(ctx context.Context, viewer model.UserSub, msgs []model.Message) (int, error) {
	var toFlip []model.Message
	for _, m := range msgs {
		if m.Owner == viewer || m.Seen {
			continue
		}
		toFlip = append(toFlip, m)
	}
	if len(toFlip) == 0 {
		return 0, nil
	}

	ids := make([]id.ID, len(toFlip))
	for i, m := range toFlip {
		ids[i] = m.ID
	}
	if err := s.repo.MarkSeen(ctx, ids); err != nil {
		return 0, err
	}

	for _, m := range toFlip {
		m := m
		m.Seen = true
		subject := bus.MessagesSubject(m.Owner, m.TalkID)
		if err := s.bus.Publish(ctx, subject, bus.Event{Message: &bus.MessageEvent{Seen: &m}}); err != nil {
			log.Error().Err(err).Str("message", m.ID.String()).Msg("message: publish Message::Seen failed")
		}
	}
	return len(toFlip), nil
}

// FindByIDForSeen loads a single message by id for the MarkSeenMessage
// command path (spec §4.10), which names one message rather than a talk
// range.
func (s *Service) FindByIDForSeen(ctx context.Context, msgID id.ID) (model.Message, error) {
	return s.repo.FindByID(ctx, msgID)
}

// FindByTalkIDAndParams implements spec §4.7.5: selects one of four
// repository queries based on which optional bounds are present, then
// performs mark-as-seen on the returned slice as a side effect of opening
// the talk, before returning (messages, seenCount).
func (s *Service) FindByTalkIDAndParams(ctx context.Context, viewer model.UserSub, talkID id.ID, limit *int64, before *model.Message) ([]model.Message, int, error) {
	var (
		msgs []model.Message
		err  error
	)
	switch {
	case limit != nil && before != nil:
		msgs, err = s.repo.FindByTalkIDLimitedBefore(ctx, talkID, *limit, *before)
	case limit != nil:
		msgs, err = s.repo.FindByTalkIDLimited(ctx, talkID, *limit)
	case before != nil:
		msgs, err = s.repo.FindByTalkIDBefore(ctx, talkID, *before)
	default:
		msgs, err = s.repo.FindByTalkID(ctx, talkID)
	}
	if err != nil {
		return nil, 0, err
	}

	seenCount, err := s.MarkSeen(ctx, viewer, msgs)
	if err != nil {
		return nil, 0, err
	}
	return msgs, seenCount, nil
}

func (s *Service) publishToRecipients(ctx context.Context, members []model.UserSub, exclude model.UserSub, talkID id.ID, event bus.Event) {
	for _, r := range members {
		if r == exclude {
			continue
		}
		if err := s.bus.Publish(ctx, bus.MessagesSubject(r, talkID), event); err != nil {
			log.Error().Err(err).Str("recipient", r.String()).Msg("message: publish failed")
		}
	}
}

func isMember(members []model.UserSub, sub model.UserSub) bool {
	for _, m := range members {
		if m == sub {
			return true
		}
	}
	return false
}
