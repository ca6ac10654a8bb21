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

type fakeContactsIdentity struct{ sub model.UserSub }

func (f fakeContactsIdentity) Authenticate(token string) (model.UserSub, error) {
	if token == "" {
		return "", apperr.New(apperr.Unauthorized, "missing token")
	}
	return f.sub, nil
}

type fakeContactsService struct {
	proposed model.Contact
	err      error
}

func (f *fakeContactsService) Propose(ctx context.Context, initiator, target model.UserSub) (model.Contact, error) {
	return f.proposed, f.err
}
func (f *fakeContactsService) Accept(ctx context.Context, actor model.UserSub, c model.Contact) error {
	return f.err
}
func (f *fakeContactsService) Reject(ctx context.Context, actor model.UserSub, c model.Contact) error {
	return f.err
}
func (f *fakeContactsService) Block(ctx context.Context, actor model.UserSub, c model.Contact) error {
	return f.err
}
func (f *fakeContactsService) Unblock(ctx context.Context, actor model.UserSub, c model.Contact) error {
	return f.err
}
func (f *fakeContactsService) Accepted(ctx context.Context, sub model.UserSub) ([]model.Contact, error) {
	return []model.Contact{f.proposed}, f.err
}

type fakeContactsLookup struct {
	c   model.Contact
	err error
}

func (f *fakeContactsLookup) FindByID(ctx context.Context, contactID id.ID) (model.Contact, error) {
	return f.c, f.err
}

func TestContactsHandlerProposeRequiresAuth(t *testing.T) {
	h := NewContactsHandler(fakeContactsIdentity{}, &fakeContactsService{}, &fakeContactsLookup{})
	req := httptest.NewRequest(http.MethodPost, "/contacts", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	h.Propose(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContactsHandlerProposeSucceeds(t *testing.T) {
	expected := model.Contact{ID: id.New(), SubA: "alice", SubB: "bob"}
	h := NewContactsHandler(fakeContactsIdentity{sub: "alice"}, &fakeContactsService{proposed: expected}, &fakeContactsLookup{})
	body, _ := json.Marshal(map[string]string{"target": "bob"})
	req := httptest.NewRequest(http.MethodPost, "/contacts", bytes.NewReader(body))
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.Propose(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got model.Contact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, expected.ID, got.ID)
}

func TestContactsHandlerAcceptMapsAppErrToStatus(t *testing.T) {
	lookup := &fakeContactsLookup{c: model.Contact{ID: id.New()}}
	svc := &fakeContactsService{err: apperr.WithReason(apperr.Forbidden, apperr.ReasonNotMember, "not a party")}
	h := NewContactsHandler(fakeContactsIdentity{sub: "alice"}, svc, lookup)

	req := httptest.NewRequest(http.MethodPost, "/contacts/accept?id="+lookup.c.ID.String(), nil)
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.Accept()(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestContactsHandlerAcceptedListsContacts(t *testing.T) {
	expected := model.Contact{ID: id.New(), SubA: "alice", SubB: "bob", Status: model.ContactAccepted}
	h := NewContactsHandler(fakeContactsIdentity{sub: "alice"}, &fakeContactsService{proposed: expected}, &fakeContactsLookup{})

	req := httptest.NewRequest(http.MethodGet, "/contacts", nil)
	req.Header.Set("Authorization", "tok")
	rec := httptest.NewRecorder()
	h.Accepted(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got []model.Contact
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, expected.ID, got[0].ID)
}
