// Package session implements the Session Store of spec §4.3: a thin
// binding of session id to access token plus single-use CSRF nonces, both
// held in the Cache/KV Store, grounded on teacher's server/session.go
// session table (put/lookup/revoke) and its device bookkeeping in
// server/store/adapter device updates.
package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dcadea/eventfabric/internal/cache"
	"github.com/dcadea/eventfabric/internal/id"
)

// Device is the per-session client metadata the teacher's store.Devices
// table records (device id, language, last-seen time).
type Device struct {
	DeviceID string
	Lang     string
	LastSeen time.Time
}

// Store is the Session Store contract of spec §4.3.
type Store struct {
	cache cache.Store
}

// New constructs a Store over the given Cache/KV Store.
func New(c cache.Store) *Store {
	return &Store{cache: c}
}

// Put binds session to token for ttl (spec §4.3 put(session, token, ttl)).
func (s *Store) Put(ctx context.Context, session id.SessionID, token string, ttl time.Duration) {
	s.cache.SetEx(ctx, cache.Session(session), token, ttl)
}

// Lookup resolves a session id to its bound access token, if any.
func (s *Store) Lookup(ctx context.Context, session id.SessionID) (string, bool) {
	return s.cache.Get(ctx, cache.Session(session))
}

// Revoke destroys a session binding (logout, or TTL expiry handled
// implicitly by Redis). Safe to call on an already-absent session.
func (s *Store) Revoke(ctx context.Context, session id.SessionID) {
	s.cache.GetDel(ctx, cache.Session(session))
}

// PutCSRF stores a CSRF nonce -> opaque state value for 120s (spec §4.1,
// §4.3).
func (s *Store) PutCSRF(ctx context.Context, nonce, state string) {
	s.cache.SetEx(ctx, cache.CSRF(nonce), state, cache.CSRF(nonce).TTL())
}

// ConsumeCSRF atomically reads and deletes the nonce's bound state (spec
// §4.3: "consume atomically reads-and-deletes"), making it single-use: a
// replayed nonce always misses.
func (s *Store) ConsumeCSRF(ctx context.Context, nonce string) (string, bool) {
	return s.cache.GetDel(ctx, cache.CSRF(nonce))
}

// deviceKeyPrefix namespaces device bookkeeping separately from the
// session binding itself so a session can be revoked without losing the
// device's last-seen record, mirroring teacher's separate Devices table.
const deviceKeyPrefix = "device:"

// TouchDevice records device metadata for a session, the way teacher's
// store.Devices.Update does on login. No command path in this repository
// calls it; the Auth command does not carry device metadata.
func (s *Store) TouchDevice(ctx context.Context, session id.SessionID, dev Device) {
	key := cache.Key{Kind: cache.KindSession, Raw: deviceKeyPrefix + session.String()}
	encoded := dev.DeviceID + "|" + dev.Lang + "|" + dev.LastSeen.UTC().Format(time.RFC3339)
	s.cache.SetEx(ctx, key, encoded, time.Hour)
	log.Debug().Str("session", session.String()).Str("device", dev.DeviceID).Msg("session: device touched")
}
