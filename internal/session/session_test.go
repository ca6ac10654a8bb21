package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcadea/eventfabric/internal/cache"
	"github.com/dcadea/eventfabric/internal/id"
)

func newTestStore() *Store {
	return New(cache.NewMemoryStore())
}

func TestPutLookupRevoke(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	sid := id.NewSessionID()

	_, ok := s.Lookup(ctx, sid)
	assert.False(t, ok, "unknown session should not resolve")

	s.Put(ctx, sid, "access-token", time.Minute)
	token, ok := s.Lookup(ctx, sid)
	require.True(t, ok)
	assert.Equal(t, "access-token", token)

	s.Revoke(ctx, sid)
	_, ok = s.Lookup(ctx, sid)
	assert.False(t, ok, "revoked session should not resolve")
}

func TestCSRFConsumeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	s.PutCSRF(ctx, "nonce-1", "redirect-state")

	state, ok := s.ConsumeCSRF(ctx, "nonce-1")
	require.True(t, ok)
	assert.Equal(t, "redirect-state", state)

	_, ok = s.ConsumeCSRF(ctx, "nonce-1")
	assert.False(t, ok, "a second consume of the same nonce must miss")
}

func TestConsumeUnknownCSRFMisses(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()

	_, ok := s.ConsumeCSRF(ctx, "never-issued")
	assert.False(t, ok)
}

func TestTouchDeviceDoesNotAffectSessionBinding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore()
	sid := id.NewSessionID()

	s.Put(ctx, sid, "access-token", time.Minute)
	s.TouchDevice(ctx, sid, Device{DeviceID: "dev-1", Lang: "en", LastSeen: time.Now()})

	token, ok := s.Lookup(ctx, sid)
	require.True(t, ok)
	assert.Equal(t, "access-token", token)
}
