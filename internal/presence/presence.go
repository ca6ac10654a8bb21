// Package presence implements the Presence Tracker of spec §4.8:
// reference-counted online membership in a single process-wide
// `users:online` set, and per-connection "online contacts" snapshot
// diffing against keyspace notifications. Grounded on teacher's pres.go,
// generalized from tinode's in-memory hub broadcast of presence updates to
// a Redis-backed set observed across the whole deployment.
package presence

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dcadea/eventfabric/internal/bus"
	"github.com/dcadea/eventfabric/internal/cache"
	"github.com/dcadea/eventfabric/internal/metrics"
	"github.com/dcadea/eventfabric/internal/model"
)

// ContactRepository is the subset this package needs to compute the
// accepted-contacts half of the online-contacts intersection (spec §4.8).
type ContactRepository interface {
	FindBySub(ctx context.Context, sub model.UserSub) ([]model.Contact, error)
}

// Bus is the subset of bus.Bus the tracker publishes through.
type Bus interface {
	Publish(ctx context.Context, subject bus.Subject, event bus.Event) error
}

// Tracker is the Presence Tracker of spec §4.8.
type Tracker struct {
	cache    cache.Store
	contacts ContactRepository
	bus      Bus

	mu       sync.Mutex
	refcount map[model.UserSub]int
}

// New constructs a Tracker.
func New(store cache.Store, contacts ContactRepository, b Bus) *Tracker {
	return &Tracker{
		cache:    store,
		contacts: contacts,
		bus:      b,
		refcount: make(map[model.UserSub]int),
	}
}

// Connect records one more live connection for sub, adding it to
// `users:online` on the first connection (spec §4.8). The refcount is
// guarded by the tracker's own lock, the single concurrent map spec §5
// calls for keyed by UserSub.
func (t *Tracker) Connect(ctx context.Context, sub model.UserSub) {
	t.mu.Lock()
	t.refcount[sub]++
	first := t.refcount[sub] == 1
	t.mu.Unlock()

	if first {
		t.cache.SAdd(ctx, cache.UsersOnline(), sub.String())
		metrics.OnlineUsers.Inc()
	}
}

// Disconnect releases one live connection for sub, removing it from
// `users:online` when the count reaches zero (spec §4.8). Safe to call at
// most once per Connect; the Connection Manager's close path must ensure
// this (spec §4.9: "the presence refcount is decremented exactly once").
func (t *Tracker) Disconnect(ctx context.Context, sub model.UserSub) {
	t.mu.Lock()
	t.refcount[sub]--
	last := t.refcount[sub] <= 0
	if last {
		delete(t.refcount, sub)
	}
	t.mu.Unlock()

	if last {
		t.cache.SRem(ctx, cache.UsersOnline(), sub.String())
		metrics.OnlineUsers.Dec()
	}
}

// OnlineContacts computes onlineContacts(sub) = users:online ∩
// contacts(sub, status=Accepted), the formula of spec §4.8.
func (t *Tracker) OnlineContacts(ctx context.Context, sub model.UserSub) ([]model.UserSub, error) {
	online := t.cache.SMembers(ctx, cache.UsersOnline())
	onlineSet := make(map[string]struct{}, len(online))
	for _, o := range online {
		onlineSet[o] = struct{}{}
	}

	contacts, err := t.contacts.FindBySub(ctx, sub)
	if err != nil {
		return nil, err
	}

	var result []model.UserSub
	for _, c := range contacts {
		if c.Status != model.ContactAccepted {
			continue
		}
		other := c.Other(sub)
		if _, ok := onlineSet[other.String()]; ok {
			result = append(result, other)
		}
	}
	return result, nil
}

// WatchAndPublish subscribes to keyspace notifications on `users:online`
// and, on every change, recomputes sub's online-contacts snapshot,
// publishing Notification::OnlineContacts only when it differs from the
// last one published for this connection (spec §4.8). The first snapshot
// is always published, even when empty. It runs until ctx is canceled.
func (t *Tracker) WatchAndPublish(ctx context.Context, sub model.UserSub) error {
	events, err := t.cache.Subscribe(ctx, cache.UsersOnline().String())
	if err != nil {
		return err
	}

	var last []model.UserSub
	published := false
	publish := func() {
		current, err := t.OnlineContacts(ctx, sub)
		if err != nil {
			log.Error().Err(err).Str("sub", sub.String()).Msg("presence: failed to recompute online contacts")
			return
		}
		if published && sameSet(last, current) {
			return
		}
		last = current
		published = true
		event := bus.Event{Notification: &bus.Notification{OnlineContacts: &bus.OnlineContacts{Subs: current}}}
		if err := t.bus.Publish(ctx, bus.NotificationsSubject(sub), event); err != nil {
			log.Error().Err(err).Str("sub", sub.String()).Msg("presence: publish OnlineContacts failed")
		}
	}

	publish()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			publish()
		}
	}
}

func sameSet(a, b []model.UserSub) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[model.UserSub]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
