package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/minimalapi/internal/model"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestIssuer(t *testing.T, clock *fakeClock) *Issuer {
	t.Helper()
	issuer, err := NewIssuer(Config{Secret: testSecret, TTL: time.Hour, Now: clock.Now})
	require.NoError(t, err)
	return issuer
}

var alice = &model.User{ID: "9b2f6c1e-1d8a-4a57-a4c5-3c1e2f7d8b90", Email: "alice@example.com"}

func TestNewIssuer_SecretValidation(t *testing.T) {
	_, err := NewIssuer(Config{})
	assert.ErrorIs(t, err, ErrSecretMissing)

	_, err = NewIssuer(Config{Secret: []byte("short")})
	assert.ErrorIs(t, err, ErrSecretTooShort)

	issuer, err := NewIssuer(Config{Secret: testSecret})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, issuer.TTL())
}

func TestIssue_ProducesThreeSegmentToken(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	tok, expiresAt, err := issuer.IssueWithExpiry(alice)
	require.NoError(t, err)
	assert.Len(t, strings.Split(tok, "."), 3)
	assert.Equal(t, clock.now.Add(time.Hour), expiresAt)
}

func TestParse_RoundTripClaims(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	tok, err := issuer.Issue(alice)
	require.NoError(t, err)

	claims, err := issuer.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, claims.UserID())
	assert.Equal(t, alice.ID, claims.Name)
	assert.Equal(t, alice.Email, claims.Email)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, clock.now, claims.IssuedAt.Time.UTC())
}

func TestIssue_SameSecondTokensDiffer(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	first, err := issuer.Issue(alice)
	require.NoError(t, err)
	second, err := issuer.Issue(alice)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestIssue_RequiresUserID(t *testing.T) {
	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})

	_, err := issuer.Issue(&model.User{})
	assert.Error(t, err)
	_, err = issuer.Issue(nil)
	assert.Error(t, err)
}

func TestParse_Expired(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	issuer := newTestIssuer(t, clock)

	tok, err := issuer.Issue(alice)
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Hour + time.Second)
	_, err = issuer.Parse(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParse_WrongSecret(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)
	other, err := NewIssuer(Config{Secret: []byte("another-secret-another-secret-xx"), Now: clock.Now})
	require.NoError(t, err)

	tok, err := other.Issue(alice)
	require.NoError(t, err)

	_, err = issuer.Parse(tok)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestParse_RejectsOtherAlgorithms(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	issuer := newTestIssuer(t, clock)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   alice.ID,
		ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Hour)),
	}}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	require.NoError(t, err)
	_, err = issuer.Parse(hs512)
	assert.Error(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.Parse(none)
	assert.Error(t, err)
}

func TestParse_RequiresExpiry(t *testing.T) {
	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: alice.ID},
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = issuer.Parse(tok)
	assert.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	issuer := newTestIssuer(t, &fakeClock{now: time.Now()})

	for _, input := range []string{"", "garbage", "a.b.c"} {
		_, err := issuer.Parse(input)
		assert.Error(t, err, "input=%q", input)
	}
}
