// Package event manages institution events that certificates can reference by key.
package event

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNotFound   = errors.New("event not found")
	ErrInvalid    = errors.New("event name required")
	ErrKeyInUse   = errors.New("event key already in use")
	ErrDateFormat = errors.New("dates must be YYYY-MM-DD")
)

// Event is an organized activity that issues certificates.
type Event struct {
	ID           string    `json:"id"`
	Name         string    `json:"name" binding:"required"`
	Organizer    string    `json:"organizer"`
	StartDate    string    `json:"start_date"`
	EndDate      string    `json:"end_date"`
	ExternalLink string    `json:"external_link"`
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists events. Lookups return nil, nil when missing.
type Repository interface {
	Insert(ctx context.Context, e Event) (Event, error)
	List(ctx context.Context) ([]Event, error)
	ByKey(ctx context.Context, key string) (*Event, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GenerateKey returns a 10 character upper-case key.
func GenerateKey() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// Create stores an event, generating its key when absent.
func (s *Service) Create(ctx context.Context, e Event) (Event, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return Event{}, ErrInvalid
	}
	for _, d := range []string{e.StartDate, e.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return Event{}, ErrDateFormat
		}
	}
	e.Key = strings.ToUpper(strings.TrimSpace(e.Key))
	if e.Key == "" {
		e.Key = GenerateKey()
	} else if existing, err := s.repo.ByKey(ctx, e.Key); err != nil {
		return Event{}, errors.Wrap(err, "check key")
	} else if existing != nil {
		return Event{}, ErrKeyInUse
	}
	return s.repo.Insert(ctx, e)
}

func (s *Service) List(ctx context.Context) ([]Event, error) {
	return s.repo.List(ctx)
}

func (s *Service) ByKey(ctx context.Context, key string) (Event, error) {
	e, err := s.repo.ByKey(ctx, strings.ToUpper(strings.TrimSpace(key)))
	if err != nil {
		return Event{}, errors.Wrap(err, "fetch event")
	}
	if e == nil {
		return Event{}, ErrNotFound
	}
	return *e, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return errors.Wrap(err, "delete event")
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// PostgresRepository stores events in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = "id, name, organizer, start_date, end_date, external_link, event_key, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Name, &e.Organizer, &e.StartDate, &e.EndDate, &e.ExternalLink, &e.Key, &e.CreatedAt)
	return e, err
}

func (r *PostgresRepository) Insert(ctx context.Context, e Event) (Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO events (id, name, organizer, start_date, end_date, external_link, event_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, e.ID, e.Name, e.Organizer, e.StartDate, e.EndDate, e.ExternalLink, e.Key)
	if err := row.Scan(&e.CreatedAt); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM events ORDER BY start_date DESC, created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) ByKey(ctx context.Context, key string) (*Event, error) {
	e, err := scan(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM events WHERE event_key = $1`, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
