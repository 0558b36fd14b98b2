package roster

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"cocred/internal/authority"
	"cocred/internal/store"
)

const (
	studentColumns = "id, user_id, full_name, email, college_id, phone_number, class_code, avatar_url, created_at"
	facultyColumns = "id, COALESCE(user_id, ''), full_name, email, COALESCE(class_code, ''), authority_type, permissions, student_count, created_at"
)

// PostgresRepository persists roster rows in Postgres.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStudent(row scanner) (Student, error) {
	var s Student
	err := row.Scan(&s.ID, &s.UserID, &s.FullName, &s.Email, &s.CollegeID, &s.PhoneNumber, &s.ClassCode, &s.AvatarURL, &s.CreatedAt)
	return s, err
}

func scanFaculty(row scanner) (Faculty, error) {
	var f Faculty
	err := row.Scan(&f.ID, &f.UserID, &f.FullName, &f.Email, &f.ClassCode, &f.AuthorityType, &f.Permissions, &f.StudentCount, &f.CreatedAt)
	return f, err
}

func (r *PostgresRepository) facultyWhere(ctx context.Context, column, value string) (*Faculty, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+facultyColumns+` FROM faculty WHERE `+column+` = $1`, value)
	f, err := scanFaculty(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

func (r *PostgresRepository) FacultyByUserID(ctx context.Context, userID string) (*Faculty, error) {
	return r.facultyWhere(ctx, "user_id", userID)
}

func (r *PostgresRepository) FacultyByEmail(ctx context.Context, email string) (*Faculty, error) {
	return r.facultyWhere(ctx, "email", email)
}

// ClaimFaculty binds an unclaimed faculty row to userID. It reports false when
// the row was already claimed.
func (r *PostgresRepository) ClaimFaculty(ctx context.Context, facultyID, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE faculty SET user_id = $2 WHERE id = $1 AND user_id IS NULL`, facultyID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *PostgresRepository) FacultyByClassCode(ctx context.Context, classCode string) (*Faculty, error) {
	return r.facultyWhere(ctx, "class_code", classCode)
}

func (r *PostgresRepository) InsertFaculty(ctx context.Context, f Faculty) (Faculty, error) {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	var classCode, userID any
	if f.ClassCode != "" {
		classCode = f.ClassCode
	}
	if f.UserID != "" {
		userID = f.UserID
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO faculty (id, user_id, full_name, email, class_code, authority_type, permissions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, f.ID, userID, f.FullName, f.Email, classCode, f.AuthorityType, f.Permissions)
	if err := row.Scan(&f.CreatedAt); err != nil {
		return Faculty{}, err
	}
	return f, nil
}

func (r *PostgresRepository) SetFacultyClassCode(ctx context.Context, facultyID, classCode string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE faculty SET class_code = $2 WHERE id = $1`, facultyID, classCode)
	return err
}

func (r *PostgresRepository) SetFacultyPermissions(ctx context.Context, userID string, p authority.Permissions) error {
	_, err := r.db.ExecContext(ctx, `UPDATE faculty SET permissions = $2 WHERE user_id = $1`, userID, p)
	return err
}

func (r *PostgresRepository) ClassCodeTaken(ctx context.Context, classCode string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM faculty WHERE class_code = $1`, classCode).Scan(&n)
	return n > 0, err
}

func (r *PostgresRepository) InsertClassroom(ctx context.Context, facultyID, classCode string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO classrooms (id, faculty_id, class_code)
		VALUES ($1, $2, $3)
		ON CONFLICT (class_code) DO NOTHING
	`, uuid.NewString(), facultyID, classCode)
	return err
}

func (r *PostgresRepository) ClassroomExists(ctx context.Context, classCode string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM classrooms WHERE class_code = $1)`, classCode).Scan(&exists)
	return exists, err
}

func (r *PostgresRepository) IncrementStudentCount(ctx context.Context, classCode string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE faculty SET student_count = student_count + 1 WHERE class_code = $1`, classCode)
	return err
}

func (r *PostgresRepository) studentWhere(ctx context.Context, column, value string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentColumns+` FROM students WHERE `+column+` = $1`, value)
	s, err := scanStudent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) StudentByUserID(ctx context.Context, userID string) (*Student, error) {
	return r.studentWhere(ctx, "user_id", userID)
}

func (r *PostgresRepository) StudentByID(ctx context.Context, id string) (*Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	return r.studentWhere(ctx, "id", id)
}

func (r *PostgresRepository) InsertStudent(ctx context.Context, s Student) (Student, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, user_id, full_name, email, college_id, phone_number, class_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, s.ID, s.UserID, s.FullName, s.Email, s.CollegeID, s.PhoneNumber, s.ClassCode)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Student{}, err
	}
	return s, nil
}

func (r *PostgresRepository) ListStudents(ctx context.Context, classCode string) ([]Student, error) {
	q := store.SQL.Select(studentColumns).From("students").OrderBy("full_name")
	if classCode != "" {
		q = q.Where("class_code = ?", classCode)
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
	var out []Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetStudentAvatar(ctx context.Context, studentID, url string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE students SET avatar_url = $2 WHERE id = $1`, studentID, url)
	return err
}
