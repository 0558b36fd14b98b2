package review

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"cocred/internal/store"
)

var certificateColumns = []string{
	"c.id", "c.student_id", "c.class_code", "c.file_path", "c.public_url", "c.issued_name", "c.status", "c.uploaded_at",
	"s.id", "COALESCE(s.college_id, '')", "COALESCE(s.full_name, '')", "COALESCE(s.email, '')",
}

var activityColumns = []string{
	"a.id", "a.student_id", "a.title", "a.description", "a.activity_type", "a.category", "a.organization",
	"a.start_date", "a.end_date", "a.skills", "a.attachment_paths", "a.status", "a.faculty_comment",
	"a.created_at", "a.updated_at",
	"s.id", "COALESCE(s.college_id, '')", "COALESCE(s.full_name, '')", "COALESCE(s.email, '')",
}

// PostgresRepository persists certificates and activities in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func studentRef(id sql.NullString, collegeID, name, email string) *StudentRef {
	if !id.Valid {
		return nil
	}
	return &StudentRef{ID: id.String, CollegeID: collegeID, FullName: name, Email: email}
}

func scanCertificate(row scanner) (Certificate, error) {
	var (
		c                      Certificate
		sid                    sql.NullString
		collegeID, name, email string
	)
	err := row.Scan(&c.ID, &c.StudentID, &c.ClassCode, &c.FilePath, &c.PublicURL, &c.IssuedName, &c.Status, &c.UploadedAt,
		&sid, &collegeID, &name, &email)
	c.Student = studentRef(sid, collegeID, name, email)
	return c, err
}

func scanActivity(row scanner) (Activity, error) {
	var (
		a                      Activity
		comment                sql.NullString
		sid                    sql.NullString
		collegeID, name, email string
	)
	err := row.Scan(&a.ID, &a.StudentID, &a.Title, &a.Description, &a.ActivityType, &a.Category, &a.Organization,
		&a.StartDate, &a.EndDate, pq.Array(&a.Skills), pq.Array(&a.AttachmentPaths), &a.Status, &comment,
		&a.CreatedAt, &a.UpdatedAt,
		&sid, &collegeID, &name, &email)
	if comment.Valid {
		a.FacultyComment = &comment.String
	}
	a.Student = studentRef(sid, collegeID, name, email)
	return a, err
}

// InsertCertificate writes a new certificate row.
func (r *PostgresRepository) InsertCertificate(ctx context.Context, c Certificate) (Certificate, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO certificates (id, student_id, class_code, file_path, public_url, issued_name, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING uploaded_at
	`, c.ID, c.StudentID, c.ClassCode, c.FilePath, c.PublicURL, c.IssuedName, c.Status)
	if err := row.Scan(&c.UploadedAt); err != nil {
		return Certificate{}, err
	}
	return c, nil
}

// UpdateCertificateStatus sets the status of one certificate and returns the number of rows changed.
func (r *PostgresRepository) UpdateCertificateStatus(ctx context.Context, id string, status Status) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE certificates SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetCertificate returns nil when the id does not exist.
func (r *PostgresRepository) GetCertificate(ctx context.Context, id string) (*Certificate, error) {
	query, args, err := store.SQL.Select(certificateColumns...).
		From("certificates c").
		LeftJoin("students s ON s.id = c.student_id").
		Where(sq.Eq{"c.id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	c, err := scanCertificate(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

// ListCertificates returns certificates newest first.
func (r *PostgresRepository) ListCertificates(ctx context.Context, q CertificateQuery) ([]Certificate, error) {
	b := store.SQL.Select(certificateColumns...).
		From("certificates c").
		LeftJoin("students s ON s.id = c.student_id").
		OrderBy("c.uploaded_at DESC")
	if q.ClassCode != "" {
		b = b.Where(sq.Eq{"c.class_code": q.ClassCode})
	}
	if q.StudentID != "" {
		b = b.Where(sq.Eq{"c.student_id": q.StudentID})
	}
	if q.Status != "" {
		b = b.Where(sq.Eq{"c.status": q.Status})
	}
	if len(q.IDs) > 0 {
		b = b.Where(sq.Eq{"c.id": q.IDs})
	}
	if len(q.StudentIDs) > 0 {
		b = b.Where(sq.Eq{"c.student_id": q.StudentIDs})
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Certificate{}
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountCertificates groups the certificates of a class by status.
func (r *PostgresRepository) CountCertificates(ctx context.Context, classCode string) (Stats, error) {
	b := store.SQL.Select("status", "COUNT(*)").From("certificates").GroupBy("status")
	if classCode != "" {
		b = b.Where(sq.Eq{"class_code": classCode})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return Stats{}, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()
	var st Stats
	for rows.Next() {
		var (
			status Status
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return Stats{}, err
		}
		switch status {
		case StatusPending:
			st.Pending = n
		case StatusApproved:
			st.Approved = n
		case StatusRejected:
			st.Rejected = n
		}
		st.Total += n
	}
	return st, rows.Err()
}

// InsertActivity writes a new activity row.
func (r *PostgresRepository) InsertActivity(ctx context.Context, a Activity) (Activity, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusPending
	}
	if a.Skills == nil {
		a.Skills = []string{}
	}
	if a.AttachmentPaths == nil {
		a.AttachmentPaths = []string{}
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO activities (id, student_id, title, description, activity_type, category, organization,
			start_date, end_date, skills, attachment_paths, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, a.ID, a.StudentID, a.Title, a.Description, a.ActivityType, a.Category, a.Organization,
		a.StartDate, a.EndDate, pq.Array(a.Skills), pq.Array(a.AttachmentPaths), a.Status)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
		return Activity{}, err
	}
	return a, nil
}

// UpdateActivityStatus writes status and comment in one statement and returns
// the updated row, or nil when the id does not exist.
func (r *PostgresRepository) UpdateActivityStatus(ctx context.Context, id string, status Status, comment *string, at time.Time) (*Activity, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE activities
		SET status = $2, faculty_comment = $3, updated_at = $4
		WHERE id = $1
	`, id, status, comment, at)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, nil
	}
	list, err := r.ListActivities(ctx, ActivityQuery{IDs: []string{id}, Limit: 1})
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ListActivities returns activities newest first.
func (r *PostgresRepository) ListActivities(ctx context.Context, q ActivityQuery) ([]Activity, error) {
	b := store.SQL.Select(activityColumns...).
		From("activities a").
		LeftJoin("students s ON s.id = a.student_id").
		OrderBy("a.created_at DESC")
	if q.StudentID != "" {
		b = b.Where(sq.Eq{"a.student_id": q.StudentID})
	}
	if q.Status != "" {
		b = b.Where(sq.Eq{"a.status": q.Status})
	}
	if len(q.IDs) > 0 {
		b = b.Where(sq.Eq{"a.id": q.IDs})
	}
	if len(q.StudentIDs) > 0 {
		b = b.Where(sq.Eq{"a.student_id": q.StudentIDs})
	}
	if q.Limit > 0 {
		b = b.Limit(q.Limit)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Activity{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ResolveStudentIDs maps institutional (college) ids to internal student ids.
// Unknown college ids are dropped.
func (r *PostgresRepository) ResolveStudentIDs(ctx context.Context, collegeIDs []string) ([]string, error) {
	if len(collegeIDs) == 0 {
		return nil, nil
	}
	query, args, err := store.SQL.Select("id").From("students").Where(sq.Eq{"college_id": collegeIDs}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
