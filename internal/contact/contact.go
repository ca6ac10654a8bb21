// Package contact implements the supplemented Contact lifecycle service
// (SPEC_FULL.md §4): propose/accept/reject/block/unblock transitions over
// the Contact edge, grounded on original_source's contact/{service,
// repository}.rs state machine, since without an accepted-contacts set to
// diff against, the Presence Tracker's "online contacts" notion (spec
// §4.8) has nothing to compute.
package contact

import (
	"context"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/id"
	"github.com/dcadea/eventfabric/internal/model"
)

// Repository is the persistence contract, implemented by
// internal/store/mongo.ContactRepository.
type Repository interface {
	FindPair(ctx context.Context, a, b model.UserSub) (model.Contact, bool, error)
	FindBySub(ctx context.Context, sub model.UserSub) ([]model.Contact, error)
	Create(ctx context.Context, c model.Contact) error
	UpdateStatus(ctx context.Context, contactID id.ID, status model.ContactStatus) error
}

// Service is the Contact lifecycle service.
type Service struct {
	repo Repository
}

// New constructs a Service over repo.
func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// Propose creates a Pending contact edge from initiator to target, or
// rejects with Conflict if an edge already exists for this pair in any
// status (spec doesn't name a re-propose path; original_source's
// repository also treats the pair as unique regardless of status).
func (s *Service) Propose(ctx context.Context, initiator, target model.UserSub) (model.Contact, error) {
	if initiator == target {
		return model.Contact{}, apperr.New(apperr.Invalid, "cannot propose a contact with yourself")
	}

	_, exists, err := s.repo.FindPair(ctx, initiator, target)
	if err != nil {
		return model.Contact{}, err
	}
	if exists {
		return model.Contact{}, apperr.WithReason(apperr.Conflict, apperr.ReasonAlreadyExists, "a contact already exists for this pair")
	}

	c := model.Contact{
		ID:        id.New(),
		SubA:      initiator,
		SubB:      target,
		Status:    model.ContactPending,
		Initiator: initiator,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return model.Contact{}, err
	}
	return c, nil
}

// Accept transitions a Pending contact to Accepted. Only the non-initiator
// may accept (the initiator accepting their own proposal is a no-op
// unsupported transition).
func (s *Service) Accept(ctx context.Context, actor model.UserSub, c model.Contact) error {
	if err := requireTransition(c, actor, model.ContactPending); err != nil {
		return err
	}
	if actor == c.Initiator {
		return apperr.WithReason(apperr.Invalid, apperr.ReasonUnsupportedState, "the initiator cannot accept their own proposal")
	}
	return s.repo.UpdateStatus(ctx, c.ID, model.ContactAccepted)
}

// Reject transitions a Pending contact to Rejected, by the non-initiator.
func (s *Service) Reject(ctx context.Context, actor model.UserSub, c model.Contact) error {
	if err := requireTransition(c, actor, model.ContactPending); err != nil {
		return err
	}
	if actor == c.Initiator {
		return apperr.WithReason(apperr.Invalid, apperr.ReasonUnsupportedState, "the initiator cannot reject their own proposal")
	}
	return s.repo.UpdateStatus(ctx, c.ID, model.ContactRejected)
}

// Block transitions a contact in any status to Blocked. Either side may
// block at any time.
func (s *Service) Block(ctx context.Context, actor model.UserSub, c model.Contact) error {
	if !c.Has(actor) {
		return apperr.WithReason(apperr.Forbidden, apperr.ReasonNotMember, "not a party to this contact")
	}
	return s.repo.UpdateStatus(ctx, c.ID, model.ContactBlocked)
}

// Unblock transitions a Blocked contact back to Pending, re-opening the
// proposal. Either party to the contact may unblock: Block does not record
// which party issued it (Initiator stays the original proposer).
func (s *Service) Unblock(ctx context.Context, actor model.UserSub, c model.Contact) error {
	if err := requireTransition(c, actor, model.ContactBlocked); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, c.ID, model.ContactPending)
}

// Accepted lists every contact of sub currently Accepted, the set the
// Presence Tracker intersects against `users:online` (spec §4.8).
func (s *Service) Accepted(ctx context.Context, sub model.UserSub) ([]model.Contact, error) {
	all, err := s.repo.FindBySub(ctx, sub)
	if err != nil {
		return nil, err
	}
	var accepted []model.Contact
	for _, c := range all {
		if c.Status == model.ContactAccepted {
			accepted = append(accepted, c)
		}
	}
	return accepted, nil
}

func requireTransition(c model.Contact, actor model.UserSub, want model.ContactStatus) error {
	if !c.Has(actor) {
		return apperr.WithReason(apperr.Forbidden, apperr.ReasonNotMember, "not a party to this contact")
	}
	if c.Status != want {
		return apperr.WithReason(apperr.Invalid, apperr.ReasonUnsupportedState, "contact is not in the expected state for this transition")
	}
	return nil
}
