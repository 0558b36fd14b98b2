package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Token kinds carried in the typ claim.
const (
	tokenAccess  = "access"
	tokenRefresh = "refresh"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongToken   = errors.New("wrong token type")
)

// TokenPair is one issued access token and the refresh token that can replace it.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims is the CoCred token payload. The user id is the registered subject
// and Role is the user type (student, teacher, authority).
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Type  string `json:"typ"`
	jwt.RegisteredClaims
}

// Identity is who a token pair is issued for.
type Identity struct {
	Subject string
	Role    string
	Email   string
}

// Issue signs an access and a refresh token for id with HS256.
func Issue(id Identity, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := time.Now()
	pair := TokenPair{AccessExp: now.Add(accessTTL), RefreshExp: now.Add(refreshTTL)}

	mint := func(typ string, exp time.Time) (string, error) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Role:  id.Role,
			Email: id.Email,
			Type:  typ,
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        uuid.NewString(),
				Issuer:    issuer,
				Subject:   id.Subject,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(exp),
			},
		})
		s, err := tok.SignedString([]byte(key))
		return s, errors.Wrapf(err, "sign %s token", typ)
	}

	var err error
	if pair.AccessToken, err = mint(tokenAccess, pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = mint(tokenRefresh, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Parse verifies signature, expiry and, when issuer is set, the issuer of a
// token of either kind. Every failure wraps ErrInvalidToken.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, errors.Wrap(ErrInvalidToken, err.Error())
	}
	return claims, nil
}

// ParseAccess accepts only access tokens.
func ParseAccess(tokenStr, key, issuer string) (Claims, error) {
	return parseKind(tokenStr, key, issuer, tokenAccess)
}

// ParseRefresh accepts only refresh tokens.
func ParseRefresh(tokenStr, key, issuer string) (Claims, error) {
	return parseKind(tokenStr, key, issuer, tokenRefresh)
}

func parseKind(tokenStr, key, issuer, kind string) (Claims, error) {
	c, err := Parse(tokenStr, key, issuer)
	if err != nil {
		return Claims{}, err
	}
	if c.Type != kind {
		return Claims{}, ErrWrongToken
	}
	return c, nil
}
