package conn

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// TalksService is the subset of internal/talk.Service the REST surface
// below routes to. Talk creation and listing are infrequent, request/
// response operations, better suited to plain HTTP than to a round trip
// through the WebSocket command grammar (spec §4.10 has no creation
// command), mirroring the choice already made for internal/contact in
// ContactsHandler.
type TalksService interface {
	CreateChat(ctx context.Context, a, b model.UserSub) (model.Talk, error)
	CreateGroup(ctx context.Context, owner model.UserSub, name string, members []model.UserSub) (model.Talk, error)
	FindByIDAndSub(ctx context.Context, talkID id.ID, sub model.UserSub) (model.Talk, error)
	FindBySub(ctx context.Context, sub model.UserSub) ([]model.Talk, error)
	Delete(ctx context.Context, talkID id.ID) error
}

// TalksHandler exposes the Talk Service over plain HTTP, guarded by the
// same bearer-token Authenticate used to gate WebSocket auth.
type TalksHandler struct {
	identity Identity
	talks    TalksService
}

// NewTalksHandler constructs a TalksHandler.
func NewTalksHandler(identity Identity, talks TalksService) *TalksHandler {
	return &TalksHandler{identity: identity, talks: talks}
}

func (h *TalksHandler) authenticate(r *http.Request) (model.UserSub, error) {
	token := r.Header.Get("Authorization")
	return h.identity.Authenticate(token)
}

type createTalkRequest struct {
	Kind    model.TalkKind  `json:"kind"`
	With    model.UserSub   `json:"with,omitempty"`
	Name    string          `json:"name,omitempty"`
	Members []model.UserSub `json:"members,omitempty"`
}

// Create handles POST /chats, dispatching to CreateChat or CreateGroup
// depending on the request's kind (spec §3 Lifecycles: talks are
// "created by create_chat / create_group").
func (h *TalksHandler) Create(w http.ResponseWriter, r *http.Request) {
	sub, err := h.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req createTalkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	var t model.Talk
	switch req.Kind {
	case model.TalkGroup:
		t, err = h.talks.CreateGroup(r.Context(), sub, req.Name, req.Members)
	default:
		t, err = h.talks.CreateChat(r.Context(), sub, req.With)
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// List handles GET /chats, listing every talk the caller belongs to
// (spec §8 scenario 6).
func (h *TalksHandler) List(w http.ResponseWriter, r *http.Request) {
	sub, err := h.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	talks, err := h.talks.FindBySub(r.Context(), sub)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, talks)
}

// Delete handles DELETE /chats?id=<talkId>, authorizing the caller as a
// member before cascading the deletion to the talk's messages (spec §3
// Lifecycles).
func (h *TalksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sub, err := h.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	talkID, err := id.Parse(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, "missing or malformed talk id", http.StatusBadRequest)
		return
	}
	if _, err := h.talks.FindByIDAndSub(r.Context(), talkID, sub); err != nil {
		writeErr(w, err)
		return
	}
	if err := h.talks.Delete(r.Context(), talkID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
