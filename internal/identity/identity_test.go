package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcadea/eventfabric/internal/apperr"
	"github.com/dcadea/eventfabric/internal/cache"
	"github.com/dcadea/eventfabric/internal/model"
)

type staticJWKSource struct {
	keyfunc jwt.Keyfunc
}

func (s staticJWKSource) Fetch(context.Context) (jwt.Keyfunc, error) { return s.keyfunc, nil }

type stubProfiles struct {
	profile model.Profile
	err     error
	calls   int
}

func (s *stubProfiles) FindBySub(context.Context, model.UserSub) (model.Profile, error) {
	s.calls++
	return s.profile, s.err
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid, issuer, audience, sub string, extra map[string]any) string {
	t.Helper()
	claims := jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func newResolver(t *testing.T, key *rsa.PrivateKey, kid string, profiles ProfileRepository) *Resolver {
	t.Helper()
	keyfunc := KeyfuncFromMap(map[string]*rsa.PublicKey{kid: &key.PublicKey})
	r, err := New(Config{
		Issuer:         "https://issuer.example",
		Audience:       "eventfabric",
		RequiredClaims: []string{"sub"},
	}, staticJWKSource{keyfunc: keyfunc}, cache.NewMemoryStore(), profiles)
	require.NoError(t, err)
	return r
}

func TestAuthenticateValidToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	r := newResolver(t, key, "key-1", &stubProfiles{})
	token := signToken(t, key, "key-1", "https://issuer.example", "eventfabric", "user-42", nil)

	sub, err := r.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, model.UserSub("user-42"), sub)
}

func TestAuthenticateUnknownKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	r := newResolver(t, key, "key-1", &stubProfiles{})
	token := signToken(t, key, "key-does-not-exist", "https://issuer.example", "eventfabric", "user-42", nil)

	_, err = r.Authenticate(token)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
	assert.True(t, apperr.HasReason(err, apperr.ReasonUnsupportedState))
}

func TestAuthenticateWrongAudience(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	r := newResolver(t, key, "key-1", &stubProfiles{})
	token := signToken(t, key, "key-1", "https://issuer.example", "someone-else", "user-42", nil)

	_, err = r.Authenticate(token)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.Forbidden))
}

func TestProfileCacheHitSkipsDatabase(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	profiles := &stubProfiles{profile: model.Profile{Sub: "user-42", Nickname: "forty-two"}}
	r := newResolver(t, key, "key-1", profiles)

	ctx := context.Background()
	p1, err := r.Profile(ctx, "user-42")
	require.NoError(t, err)
	assert.Equal(t, "forty-two", p1.Nickname)
	assert.Equal(t, 1, profiles.calls)

	p2, err := r.Profile(ctx, "user-42")
	require.NoError(t, err)
	assert.Equal(t, "forty-two", p2.Nickname)
	assert.Equal(t, 1, profiles.calls, "second lookup should be served from cache")
}
