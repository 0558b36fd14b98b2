package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"cocred/internal/store"
)

// Repository keeps refresh tokens in Postgres. Only a SHA-256 digest of each
// token is stored.
type Repository struct {
	db *sql.DB
}

var _ TokenStore = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (r *Repository) SaveRefreshToken(ctx context.Context, subject, token string, expiresAt time.Time) error {
	_, err := r.exec(ctx, store.SQL.Insert("refresh_tokens").
		Columns("token", "subject", "expires_at").
		Values(digest(token), subject, expiresAt))
	return errors.Wrap(err, "save refresh token")
}

// ConsumeRefreshToken revokes the token if it is live, in one statement.
func (r *Repository) ConsumeRefreshToken(ctx context.Context, token string) (bool, error) {
	n, err := r.exec(ctx, store.SQL.Update("refresh_tokens").
		Set("revoked", true).
		Where(sq.Eq{"token": digest(token), "revoked": false}).
		Where("expires_at > NOW()"))
	if err != nil {
		return false, errors.Wrap(err, "consume refresh token")
	}
	return n == 1, nil
}

func (r *Repository) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := r.exec(ctx, store.SQL.Update("refresh_tokens").
		Set("revoked", true).
		Where(sq.Eq{"token": digest(token)}))
	return errors.Wrap(err, "revoke refresh token")
}

// PruneRefreshTokens deletes tokens that expired before the cutoff.
func (r *Repository) PruneRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	n, err := r.exec(ctx, store.SQL.Delete("refresh_tokens").Where(sq.Lt{"expires_at": before}))
	return n, errors.Wrap(err, "prune refresh tokens")
}

// exec runs a built statement and returns the affected row count.
func (r *Repository) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
