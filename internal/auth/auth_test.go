package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "cocred"
)

type memTokens struct {
	mu      sync.Mutex
	tokens  map[string]time.Time
	revoked map[string]bool
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: map[string]time.Time{}, revoked: map[string]bool{}}
}

func (m *memTokens) SaveRefreshToken(_ context.Context, _ string, token string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = exp
	return nil
}

func (m *memTokens) ConsumeRefreshToken(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.tokens[token]
	if !ok || m.revoked[token] || time.Now().After(exp) {
		return false, nil
	}
	m.revoked[token] = true
	return true, nil
}

func (m *memTokens) RevokeRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[token] = true
	return nil
}

func (m *memTokens) PruneRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for t, exp := range m.tokens {
		if exp.Before(before) {
			delete(m.tokens, t)
			n++
		}
	}
	return n, nil
}

type fakeGoogle struct {
	id  GoogleIdentity
	err error
}

func (f fakeGoogle) Verify(string) (GoogleIdentity, error) { return f.id, f.err }

// fakeAccounts maps a user id to its roster user type.
type fakeAccounts map[string]string

func (f fakeAccounts) UserType(_ context.Context, userID, _ string) (string, error) {
	return f[userID], nil
}

func newProvider(tokens TokenStore, g IDTokenVerifier) *Provider {
	return newProviderWith(tokens, nil, g)
}

func newProviderWith(tokens TokenStore, accounts Accounts, g IDTokenVerifier) *Provider {
	return NewProvider(tokens, accounts, g, ProviderConfig{
		Issuer:     testIssuer,
		SigningKey: testKey,
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
}

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue(Identity{Subject: "u1", Role: RoleTeacher, Email: "t@x.edu"}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	c, err := ParseAccess(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.Subject)
	assert.Equal(t, RoleTeacher, c.Role)
	assert.Equal(t, "t@x.edu", c.Email)

	_, err = ParseAccess(pair.RefreshToken, testKey, testIssuer)
	assert.ErrorIs(t, err, ErrWrongToken)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse(pair.AccessToken, testKey, "someone-else")
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	pair, err := Issue(Identity{Subject: "u1", Role: RoleStudent}, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = ParseAccess(pair.AccessToken, testKey, testIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefreshRotation(t *testing.T) {
	ctx := context.Background()
	p := newProvider(newMemTokens(), nil)

	s, err := p.Issue(ctx, Identity{Subject: "u1", Role: RoleStudent})
	require.NoError(t, err)

	next, err := p.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, s.RefreshToken, next.RefreshToken)
	assert.Equal(t, "student", next.User.Metadata["user_type"])

	_, err = p.Refresh(ctx, s.RefreshToken)
	assert.ErrorIs(t, err, ErrRefreshRejected)

	_, err = p.Refresh(ctx, next.AccessToken)
	assert.ErrorIs(t, err, ErrWrongToken)
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	_, err := newProvider(newMemTokens(), nil).Issue(context.Background(), Identity{Subject: "u1", Role: "janitor"})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestSignInGoogle(t *testing.T) {
	ctx := context.Background()

	_, err := newProvider(newMemTokens(), nil).SignInGoogle(ctx, "tok", "")
	assert.ErrorIs(t, err, ErrGoogleNotEnabled)

	p := newProvider(newMemTokens(), fakeGoogle{id: GoogleIdentity{Subject: "g-123", Email: "Asha@Example.edu"}})
	s, err := p.SignInGoogle(ctx, "tok", "")
	require.NoError(t, err)
	assert.Equal(t, "g-123", s.User.ID)
	assert.Equal(t, "asha@example.edu", s.User.Email)
	assert.Equal(t, RoleStudent, s.User.Metadata["user_type"])

	_, err = p.SignInGoogle(ctx, "tok", "janitor")
	assert.ErrorIs(t, err, ErrUnknownRole)

	p = newProvider(newMemTokens(), fakeGoogle{err: errors.New("bad audience")})
	_, err = p.SignInGoogle(ctx, "tok", "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignInGoogleRoleComesFromAccount(t *testing.T) {
	ctx := context.Background()
	accounts := fakeAccounts{"dean": RoleAuthority, "rao": RoleTeacher}

	// An unknown account cannot choose a faculty role for itself.
	stranger := newProviderWith(newMemTokens(), accounts, fakeGoogle{id: GoogleIdentity{Subject: "stranger"}})
	_, err := stranger.SignInGoogle(ctx, "tok", RoleAuthority)
	assert.ErrorIs(t, err, ErrRoleNotGranted)
	_, err = stranger.SignInGoogle(ctx, "tok", RoleTeacher)
	assert.ErrorIs(t, err, ErrRoleNotGranted)
	s, err := stranger.SignInGoogle(ctx, "tok", RoleStudent)
	require.NoError(t, err)
	claims, err := ParseAccess(s.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, claims.Role)

	// A registered account gets its roster role whatever it asks for.
	rao := newProviderWith(newMemTokens(), accounts, fakeGoogle{id: GoogleIdentity{Subject: "rao"}})
	s, err = rao.SignInGoogle(ctx, "tok", RoleAuthority)
	require.NoError(t, err)
	claims, err = ParseAccess(s.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, RoleTeacher, claims.Role)
}

func TestRefreshFollowsAccountRole(t *testing.T) {
	ctx := context.Background()
	accounts := fakeAccounts{"rao": RoleTeacher}
	p := newProviderWith(newMemTokens(), accounts, nil)

	s, err := p.Issue(ctx, Identity{Subject: "rao", Role: RoleTeacher})
	require.NoError(t, err)

	delete(accounts, "rao")
	next, err := p.Refresh(ctx, s.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, RoleStudent, next.User.Metadata["user_type"])
}

func TestBoundProvider(t *testing.T) {
	ctx := context.Background()
	tokens := newMemTokens()
	p := newProvider(tokens, nil)
	s, err := p.Issue(ctx, Identity{Subject: "u1", Role: RoleTeacher})
	require.NoError(t, err)

	cur, err := p.Bind(s.AccessToken).Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, "u1", cur.User.ID)

	cur, err = p.Bind("garbage").Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cur)

	require.NoError(t, p.Bind("").SignOut(ctx, s))
	assert.True(t, tokens.revoked[s.RefreshToken])
}

func TestPrune(t *testing.T) {
	tokens := newMemTokens()
	tokens.tokens["old"] = time.Now().Add(-time.Hour)
	tokens.tokens["new"] = time.Now().Add(time.Hour)
	n, err := newProvider(tokens, nil).Prune(context.Background(), time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pair, err := Issue(Identity{Subject: "u1", Role: RoleStudent}, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	r := gin.New()
	g := r.Group("/", Authenticate(testKey, testIssuer))
	g.GET("/me", func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.String(http.StatusOK, claims.Subject)
	})
	g.GET("/faculty", RequireRole(RoleTeacher, RoleAuthority), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := []struct {
		path   string
		header string
		want   int
	}{
		{"/me", "", http.StatusUnauthorized},
		{"/me", "Bearer nope", http.StatusUnauthorized},
		{"/me", "Bearer " + pair.RefreshToken, http.StatusUnauthorized},
		{"/me", "bearer " + pair.AccessToken, http.StatusOK},
		{"/faculty", "Bearer " + pair.AccessToken, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.want, w.Code, "%s %q", tc.path, tc.header)
		if w.Code == http.StatusOK && tc.path == "/me" {
			assert.Equal(t, "u1", w.Body.String())
		}
	}
}
