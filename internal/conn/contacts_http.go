package conn

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// Contacts is the subset of internal/contact.Service the REST surface
// below routes to. The fabric's realtime path is entirely the WebSocket
// command grammar (spec §4.10); contact lifecycle changes are
// infrequent, request/response operations better suited to plain HTTP
// than to a Command round trip, so they get their own small handler set
// here instead of new Command variants.
type Contacts interface {
	Propose(ctx context.Context, initiator, target model.UserSub) (model.Contact, error)
	Accept(ctx context.Context, actor model.UserSub, c model.Contact) error
	Reject(ctx context.Context, actor model.UserSub, c model.Contact) error
	Block(ctx context.Context, actor model.UserSub, c model.Contact) error
	Unblock(ctx context.Context, actor model.UserSub, c model.Contact) error
	Accepted(ctx context.Context, sub model.UserSub) ([]model.Contact, error)
}

// ContactsLookup resolves a contact by id for the transition endpoints,
// which only carry an id on the wire.
type ContactsLookup interface {
	FindByID(ctx context.Context, contactID id.ID) (model.Contact, error)
}

// ContactsHandler exposes the Contact Service over plain HTTP, guarded by
// the same bearer-token Authenticate used to gate WebSocket auth.
type ContactsHandler struct {
	identity Identity
	contacts Contacts
	lookup   ContactsLookup
}

// NewContactsHandler constructs a ContactsHandler.
func NewContactsHandler(identity Identity, contacts Contacts, lookup ContactsLookup) *ContactsHandler {
	return &ContactsHandler{identity: identity, contacts: contacts, lookup: lookup}
}

func (h *ContactsHandler) authenticate(r *http.Request) (model.UserSub, error) {
	token := r.Header.Get("Authorization")
	return h.identity.Authenticate(token)
}

type proposeRequest struct {
	Target model.UserSub `json:"target"`
}

// Propose handles POST /contacts.
func (h *ContactsHandler) Propose(w http.ResponseWriter, r *http.Request) {
	sub, err := h.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	c, err := h.contacts.Propose(r.Context(), sub, req.Target)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// Accepted handles GET /contacts.
func (h *ContactsHandler) Accepted(w http.ResponseWriter, r *http.Request) {
	sub, err := h.authenticate(r)
	if err != nil {
		writeErr(w, err)
		return
	}
	contacts, err := h.contacts.Accepted(r.Context(), sub)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

// transition builds an http.HandlerFunc for one of the id-addressed
// state-transition endpoints (accept/reject/block/unblock).
func (h *ContactsHandler) transition(contactID func(*http.Request) (id.ID, error), apply func(context.Context, model.UserSub, model.Contact) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := h.authenticate(r)
		if err != nil {
			writeErr(w, err)
			return
		}
		cid, err := contactID(r)
		if err != nil {
			http.Error(w, "missing or malformed contact id", http.StatusBadRequest)
			return
		}
		c, err := h.lookup.FindByID(r.Context(), cid)
		if err != nil {
			writeErr(w, err)
			return
		}
		if err := apply(r.Context(), sub, c); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Accept handles POST /contacts/accept?id=<contactId>.
func (h *ContactsHandler) Accept() http.HandlerFunc {
	return h.transition(contactIDFromQuery, h.contacts.Accept)
}

// Reject handles POST /contacts/reject?id=<contactId>.
func (h *ContactsHandler) Reject() http.HandlerFunc {
	return h.transition(contactIDFromQuery, h.contacts.Reject)
}

// Block handles POST /contacts/block?id=<contactId>.
func (h *ContactsHandler) Block() http.HandlerFunc {
	return h.transition(contactIDFromQuery, h.contacts.Block)
}

// Unblock handles POST /contacts/unblock?id=<contactId>.
func (h *ContactsHandler) Unblock() http.HandlerFunc {
	return h.transition(contactIDFromQuery, h.contacts.Unblock)
}

func contactIDFromQuery(r *http.Request) (id.ID, error) {
	return id.Parse(r.URL.Query().Get("id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status, frame := errorResponse(err)
	writeJSON(w, status, frame)
}
