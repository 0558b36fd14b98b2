// Package notify stores per-student notifications and turns review events into them.
package notify

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"cocred/internal/roster"
	"cocred/internal/store"
)

// DefaultListLimit bounds notification listings.
const DefaultListLimit = 50

// Notification is a message addressed to one student.
type Notification struct {
	ID        string    `json:"id"`
	StudentID string    `json:"student_id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"date"`
}

// Repository persists notifications.
type Repository interface {
	Insert(ctx context.Context, studentID, message string) (Notification, error)
	List(ctx context.Context, studentID string, unreadOnly bool, limit uint64) ([]Notification, error)
	MarkRead(ctx context.Context, studentID string, ids []string) (int64, error)
}

// Students resolves the student behind an authenticated user.
type Students interface {
	StudentForUser(ctx context.Context, userID string) (roster.Student, error)
}

type Service struct {
	repo     Repository
	students Students
}

func NewService(repo Repository, students Students) *Service {
	return &Service{repo: repo, students: students}
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool) ([]Notification, error) {
	st, err := s.students.StudentForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.List(ctx, st.ID, unreadOnly, DefaultListLimit)
	if err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	if out == nil {
		out = []Notification{}
	}
	return out, nil
}

// MarkRead marks the given notifications read, or all of them when ids is empty.
func (s *Service) MarkRead(ctx context.Context, userID string, ids []string) (int64, error) {
	st, err := s.students.StudentForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.repo.MarkRead(ctx, st.ID, ids)
	return n, errors.Wrap(err, "mark notifications read")
}

// PostgresRepository stores notifications in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, studentID, message string) (Notification, error) {
	n := Notification{ID: uuid.NewString(), StudentID: studentID, Message: message}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO notifications (id, student_id, message)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, n.ID, n.StudentID, n.Message)
	if err := row.Scan(&n.CreatedAt); err != nil {
		return Notification{}, err
	}
	return n, nil
}

func (r *PostgresRepository) List(ctx context.Context, studentID string, unreadOnly bool, limit uint64) ([]Notification, error) {
	q := store.SQL.Select("id, student_id, message, read, created_at").
		From("notifications").
		Where("student_id = ?", studentID).
		OrderBy("created_at DESC")
	if unreadOnly {
		q = q.Where("NOT read")
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.StudentID, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) MarkRead(ctx context.Context, studentID string, ids []string) (int64, error) {
	q := store.SQL.Update("notifications").
		Set("read", true).
		Where("student_id = ?", studentID).
		Where("NOT read")
	if len(ids) > 0 {
		q = q.Where(sq.Eq{"id": ids})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
