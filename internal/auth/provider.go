package auth

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cocred/internal/authority"
	"cocred/internal/logger"
	"cocred/internal/session"
)

// User types carried in the role claim.
const (
	RoleStudent   = authority.UserStudent
	RoleTeacher   = authority.UserTeacher
	RoleAuthority = authority.UserAuthority
)

var (
	ErrUnknownRole      = errors.New("unknown user type")
	ErrRefreshRejected  = errors.New("refresh token rejected")
	ErrGoogleNotEnabled = errors.New("google sign-in not configured")
	ErrRoleNotGranted   = errors.New("user type not granted to this account")
)

// ValidRole reports whether r is a known user type.
func ValidRole(r string) bool {
	return r == RoleStudent || r == RoleTeacher || r == RoleAuthority
}

// TokenStore persists refresh tokens for rotation.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error
	// ConsumeRefreshToken revokes a live token and reports whether it was live.
	ConsumeRefreshToken(ctx context.Context, token string) (bool, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// Accounts resolves the user type of a persisted account, claiming a
// pre-registered faculty row by email. It returns "" for unknown accounts.
type Accounts interface {
	UserType(ctx context.Context, userID, email string) (string, error)
}

// IDTokenVerifier checks a Google ID token and returns its identity.
type IDTokenVerifier interface {
	Verify(idToken string) (GoogleIdentity, error)
}

// ProviderConfig holds token settings.
type ProviderConfig struct {
	Issuer     string
	SigningKey string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Provider issues, refreshes and revokes sessions.
type Provider struct {
	tokens   TokenStore
	accounts Accounts
	google   IDTokenVerifier
	cfg      ProviderConfig
	log      zerolog.Logger
}

// NewProvider creates a provider. google may be nil to disable Google sign-in.
// With nil accounts every Google sign-in is a student.
func NewProvider(tokens TokenStore, accounts Accounts, google IDTokenVerifier, cfg ProviderConfig) *Provider {
	return &Provider{tokens: tokens, accounts: accounts, google: google, cfg: cfg, log: logger.Component("auth")}
}

// userType returns the persisted user type of an account, "" when unknown.
func (p *Provider) userType(ctx context.Context, subject, email string) (string, error) {
	if p.accounts == nil {
		return "", nil
	}
	t, err := p.accounts.UserType(ctx, subject, email)
	return t, errors.Wrap(err, "resolve user type")
}

// Issue creates a session for id and stores its refresh token.
func (p *Provider) Issue(ctx context.Context, id Identity) (*session.Session, error) {
	if !ValidRole(id.Role) {
		return nil, ErrUnknownRole
	}
	pair, err := Issue(id, p.cfg.Issuer, p.cfg.SigningKey, p.cfg.AccessTTL, p.cfg.RefreshTTL)
	if err != nil {
		return nil, errors.Wrap(err, "token issue failed")
	}
	if err := p.tokens.SaveRefreshToken(ctx, id.Subject, pair.RefreshToken, pair.RefreshExp); err != nil {
		return nil, errors.Wrap(err, "save refresh token")
	}
	return toSession(pair, id), nil
}

// SignInGoogle verifies a Google ID token and issues a session. The role comes
// from the account's roster rows; an unknown account may only sign in as a
// student. requested is a hint and is rejected when it asks for more.
func (p *Provider) SignInGoogle(ctx context.Context, idToken, requested string) (*session.Session, error) {
	if p.google == nil {
		return nil, ErrGoogleNotEnabled
	}
	if requested != "" && !ValidRole(requested) {
		return nil, ErrUnknownRole
	}
	gid, err := p.google.Verify(idToken)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	email := strings.ToLower(gid.Email)
	role, err := p.userType(ctx, gid.Subject, email)
	if err != nil {
		return nil, err
	}
	if role == "" {
		if requested != "" && requested != RoleStudent {
			p.log.Warn().Str("subject", gid.Subject).Str("requested", requested).Msg("user type not granted")
			return nil, ErrRoleNotGranted
		}
		role = RoleStudent
	}
	return p.Issue(ctx, Identity{Subject: gid.Subject, Role: role, Email: email})
}

// Refresh rotates a refresh token. The old token is revoked and cannot be
// reused. The new tokens carry the account's current roster role.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	claims, err := ParseRefresh(refreshToken, p.cfg.SigningKey, p.cfg.Issuer)
	if err != nil {
		return nil, err
	}
	role := claims.Role
	if p.accounts != nil {
		if role, err = p.userType(ctx, claims.Subject, claims.Email); err != nil {
			return nil, err
		}
		if role == "" {
			role = RoleStudent
		}
	}
	live, err := p.tokens.ConsumeRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, errors.Wrap(err, "consume refresh token")
	}
	if !live {
		p.log.Warn().Str("subject", claims.Subject).Msg("refresh token reuse or revoked token")
		return nil, ErrRefreshRejected
	}
	return p.Issue(ctx, Identity{Subject: claims.Subject, Role: role, Email: claims.Email})
}

// Revoke invalidates a refresh token. Unknown tokens are ignored.
func (p *Provider) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return p.tokens.RevokeRefreshToken(ctx, refreshToken)
}

// Prune deletes refresh tokens that expired before the given time.
func (p *Provider) Prune(ctx context.Context, before time.Time) (int64, error) {
	return p.tokens.PruneRefreshTokens(ctx, before)
}

// Bind adapts the provider to one client holding accessToken.
func (p *Provider) Bind(accessToken string) *BoundProvider {
	return &BoundProvider{p: p, accessToken: accessToken}
}

// BoundProvider is a session.Provider for one client's bearer token.
type BoundProvider struct {
	p           *Provider
	accessToken string
}

var _ session.Provider = (*BoundProvider)(nil)

// Current returns the session of a valid access token, or nil.
func (b *BoundProvider) Current(_ context.Context) (*session.Session, error) {
	if b.accessToken == "" {
		return nil, nil
	}
	claims, err := ParseAccess(b.accessToken, b.p.cfg.SigningKey, b.p.cfg.Issuer)
	if err != nil {
		return nil, nil
	}
	s := &session.Session{
		AccessToken: b.accessToken,
		User:        sessionUser(Identity{Subject: claims.Subject, Role: claims.Role, Email: claims.Email}),
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

func (b *BoundProvider) Refresh(ctx context.Context, refreshToken string) (*session.Session, error) {
	return b.p.Refresh(ctx, refreshToken)
}

func (b *BoundProvider) SignOut(ctx context.Context, s *session.Session) error {
	if s == nil {
		return nil
	}
	return b.p.Revoke(ctx, s.RefreshToken)
}

func toSession(pair TokenPair, id Identity) *session.Session {
	return &session.Session{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExp,
		User:         sessionUser(id),
	}
}

func sessionUser(id Identity) session.User {
	return session.User{
		ID:       id.Subject,
		Email:    id.Email,
		Metadata: map[string]string{"user_type": id.Role},
	}
}
