package conn

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

type fakeTalksIdentity struct{ sub model.UserSub }

func (f fakeTalksIdentity) Authenticate(token string) (model.UserSub, error) {
	if token == "" {
		return "", apperr.New(apperr.Unauthorized, "missing token")
	}
	return f.sub, nil
}

type fakeTalksService struct {
	talk model.Talk
	list []model.Talk
	err  error
}

func (f *fakeTalksService) CreateChat(ctx context.Context, a, b model.UserSub) (model.Talk, error) {
	return f.talk, f.err
}

func (f *fakeTalksService) CreateGroup(ctx context.Context, owner model.UserSub, name string, members []model.UserSub) (model.Talk, error) {
	return f.talk, f.err
}

func (f *fakeTalksService) FindByIDAndSub(ctx context.Context, talkID id.ID, sub model.UserSub) (model.Talk, error) {
	return f.talk, f.err
}

func (f *fakeTalksService) FindBySub(ctx context.Context, sub model.UserSub) ([]model.Talk, error) {
	return f.list, f.err
}

func (f *fakeTalksService) Delete(ctx context.Context, talkID id.ID) error {
	return f.err
}

func TestTalksHandlerCreateRequiresAuth(t *testing.T) {
	h := NewTalksHandler(fakeTalksIdentity{}, &fakeTalksService{})
	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTalksHandlerCreateChatSucceeds(t *testing.T) {
	expected := model.Talk{ID: id.New(), Kind: model.TalkChat}
	h := NewTalksHandler(fakeTalksIdentity{sub: "alice"}, &fakeTalksService{talk: expected})
	body, _ := json.Marshal(map[string]string{"with": "bob"})
	req := httptest.NewRequest(http.MethodPost, "/chats", bytes.NewReader(body))
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.Create(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got model.Talk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, expected.ID, got.ID)
}

func TestTalksHandlerListReturnsMemberTalks(t *testing.T) {
	expected := model.Talk{ID: id.New(), Kind: model.TalkChat}
	h := NewTalksHandler(fakeTalksIdentity{sub: "alice"}, &fakeTalksService{list: []model.Talk{expected}})

	req := httptest.NewRequest(http.MethodGet, "/chats", nil)
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.List(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.Talk
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, expected.ID, got[0].ID)
}

func TestTalksHandlerDeleteMapsAppErrToStatus(t *testing.T) {
	svc := &fakeTalksService{err: apperr.WithReason(apperr.Forbidden, apperr.ReasonNotMember, "not a party")}
	h := NewTalksHandler(fakeTalksIdentity{sub: "alice"}, svc)

	req := httptest.NewRequest(http.MethodDelete, "/chats?id="+id.New().String(), nil)
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTalksHandlerDeleteSucceeds(t *testing.T) {
	talkID := id.New()
	svc := &fakeTalksService{talk: model.Talk{ID: talkID}}
	h := NewTalksHandler(fakeTalksIdentity{sub: "alice"}, svc)

	req := httptest.NewRequest(http.MethodDelete, "/chats?id="+talkID.String(), nil)
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.Delete(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}
