package message

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/bus"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

type fakeRepo struct {
	mu   sync.Mutex
	msgs map[id.ID]model.Message
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{msgs: make(map[id.ID]model.Message)}
}

func (f *fakeRepo) Insert(_ context.Context, msg model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs[msg.ID] = msg
	return nil
}

func (f *fakeRepo) InsertMany(_ context.Context, msgs []model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.msgs[m.ID] = m
	}
	return nil
}

func (f *fakeRepo) FindByID(_ context.Context, msgID id.ID) (model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[msgID]
	if !ok {
		return model.Message{}, apperr.New(apperr.NotFound, "message not found")
	}
	return m, nil
}

func (f *fakeRepo) FindMostRecent(context.Context, id.ID) (model.Message, bool, error) {
	return model.Message{}, false, nil
}
func (f *fakeRepo) FindByTalkID(context.Context, id.ID) ([]model.Message, error) { return nil, nil }
func (f *fakeRepo) FindByTalkIDLimited(context.Context, id.ID, int64) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeRepo) FindByTalkIDBefore(context.Context, id.ID, model.Message) ([]model.Message, error) {
	return nil, nil
}
func (f *fakeRepo) FindByTalkIDLimitedBefore(context.Context, id.ID, int64, model.Message) ([]model.Message, error) {
	return nil, nil
}

func (f *fakeRepo) Update(_ context.Context, msgID id.ID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.msgs[msgID]
	m.Text = text
	f.msgs[msgID] = m
	return nil
}

func (f *fakeRepo) Delete(_ context.Context, msgID id.ID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.msgs[msgID]; !ok {
		return 0, nil
	}
	delete(f.msgs, msgID)
	return 1, nil
}

func (f *fakeRepo) DeleteByTalkID(context.Context, id.ID) error { return nil }

func (f *fakeRepo) MarkSeen(_ context.Context, ids []id.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range ids {
		m := f.msgs[i]
		m.Seen = true
		f.msgs[i] = m
	}
	return nil
}

type fakeTalks struct {
	members []model.UserSub
	lastSet *model.LastMessage
}

func (f *fakeTalks) Members(context.Context, id.ID) ([]model.UserSub, error) { return f.members, nil }
func (f *fakeTalks) UpdateLastMessage(_ context.Context, _ id.ID, lm *model.LastMessage) error {
	f.lastSet = lm
	return nil
}

type fakeBus struct {
	mu     sync.Mutex
	events map[string][]bus.Event
}

func newFakeBus() *fakeBus {
	return &fakeBus{events: make(map[string][]bus.Event)}
}

func (f *fakeBus) Publish(_ context.Context, subject bus.Subject, event bus.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[subject.String()] = append(f.events[subject.String()], event)
	return nil
}

func (f *fakeBus) PublishAll(ctx context.Context, subject bus.Subject, events []bus.Event) error {
	for _, e := range events {
		if err := f.Publish(ctx, subject, e); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeBus) get(subject string) []bus.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[subject]
}

func TestCreateRejectsEmptyText(t *testing.T) {
	svc := New(newFakeRepo(), &fakeTalks{members: []model.UserSub{"a", "b"}}, newFakeBus())
	_, err := svc.Create(context.Background(), id.New(), "a", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Invalid))
	assert.True(t, apperr.HasReason(err, apperr.ReasonEmptyText))
}

func TestCreateShortMessagePersistsOnce(t *testing.T) {
	talkID := id.New()
	b := newFakeBus()
	svc := New(newFakeRepo(), &fakeTalks{members: []model.UserSub{"a", "b"}}, b)

	msgs, err := svc.Create(context.Background(), talkID, "a", "hi")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)

	delivered := b.get(bus.MessagesSubject("b", talkID).String())
	require.Len(t, delivered, 1)
	require.NotNil(t, delivered[0].Message.New)
	assert.Equal(t, "hi", delivered[0].Message.New.Text)
}

func TestCreateChunkedMessageSharesTimestampAndDeliversInOrder(t *testing.T) {
	talkID := id.New()
	b := newFakeBus()
	svc := New(newFakeRepo(), &fakeTalks{members: []model.UserSub{"a", "b"}}, b)

	text := strings.Repeat("x", 2050)
	msgs, err := svc.Create(context.Background(), talkID, "a", text)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	joined := ""
	for _, m := range msgs {
		joined += m.Text
		assert.Equal(t, msgs[0].Timestamp, m.Timestamp)
		assert.Equal(t, model.UserSub("a"), m.Owner)
	}
	assert.Equal(t, text, joined)

	delivered := b.get(bus.MessagesSubject("b", talkID).String())
	require.Len(t, delivered, 3)
	for i, e := range delivered {
		require.NotNil(t, e.Message.New)
		assert.Equal(t, msgs[i].ID, e.Message.New.ID)
	}

	notifs := b.get(bus.NotificationsSubject("b").String())
	require.Len(t, notifs, 1)
	require.NotNil(t, notifs[0].Notification.NewMessage)
	assert.Equal(t, msgs[2].ID, notifs[0].Notification.NewMessage.LastMessage.ID)
}

func TestEditRejectsNonOwner(t *testing.T) {
	repo := newFakeRepo()
	talkID := id.New()
	original := model.Message{ID: id.New(), TalkID: talkID, Owner: "a", Text: "hi", Timestamp: time.Now()}
	require.NoError(t, repo.Insert(context.Background(), original))

	svc := New(repo, &fakeTalks{members: []model.UserSub{"a", "b"}}, newFakeBus())
	_, err := svc.Edit(context.Background(), "b", original.ID, "edited")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	assert.True(t, apperr.HasReason(err, apperr.ReasonNotOwner))
}

func TestDeleteRequiresOwnerAndMember(t *testing.T) {
	repo := newFakeRepo()
	talkID := id.New()
	msg := model.Message{ID: id.New(), TalkID: talkID, Owner: "a", Text: "hi", Timestamp: time.Now()}
	require.NoError(t, repo.Insert(context.Background(), msg))

	svc := New(repo, &fakeTalks{members: []model.UserSub{"a", "b"}}, newFakeBus())
	_, err := svc.Delete(context.Background(), "b", msg.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Forbidden))

	deleted, err := svc.Delete(context.Background(), "a", msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, deleted.ID)
}

func TestMarkSeenIsMonotoneAndSkipsOwnMessages(t *testing.T) {
	repo := newFakeRepo()
	talkID := id.New()
	ownMsg := model.Message{ID: id.New(), TalkID: talkID, Owner: "viewer", Text: "mine"}
	otherMsg := model.Message{ID: id.New(), TalkID: talkID, Owner: "a", Text: "theirs"}
	require.NoError(t, repo.Insert(context.Background(), ownMsg))
	require.NoError(t, repo.Insert(context.Background(), otherMsg))

	svc := New(repo, &fakeTalks{}, newFakeBus())

	count, err := svc.MarkSeen(context.Background(), "viewer", []model.Message{ownMsg, otherMsg})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "only the non-owned message should transition")

	updated, err := repo.FindByID(context.Background(), otherMsg.ID)
	require.NoError(t, err)
	require.True(t, updated.Seen)

	count, err = svc.MarkSeen(context.Background(), "viewer", []model.Message{updated})
	require.NoError(t, err)
	assert.Equal(t, 0, count, "already-seen messages must not flip back")
}

func TestMarkSeenEmptyInputReturnsZero(t *testing.T) {
	svc := New(newFakeRepo(), &fakeTalks{}, newFakeBus())
	count, err := svc.MarkSeen(context.Background(), "viewer", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
