package roster

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cocred/internal/authority"
	"cocred/internal/logger"
)

var (
	ErrInvalidClassCode     = errors.New("invalid class code")
	ErrStudentNotFound      = errors.New("student profile not found")
	ErrFacultyNotFound      = errors.New("faculty profile not found")
	ErrUnknownAuthorityType = errors.New("unknown authority type")
	ErrMissingEmail         = errors.New("email required")
)

// maxCodeAttempts bounds class code collision retries.
const maxCodeAttempts = 20

// Repository persists students, faculty and classrooms.
// Lookups return nil, nil when the row does not exist.
type Repository interface {
	FacultyByUserID(ctx context.Context, userID string) (*Faculty, error)
	FacultyByEmail(ctx context.Context, email string) (*Faculty, error)
	FacultyByClassCode(ctx context.Context, classCode string) (*Faculty, error)
	ClaimFaculty(ctx context.Context, facultyID, userID string) (bool, error)
	InsertFaculty(ctx context.Context, f Faculty) (Faculty, error)
	SetFacultyClassCode(ctx context.Context, facultyID, classCode string) error
	SetFacultyPermissions(ctx context.Context, userID string, p authority.Permissions) error
	ClassCodeTaken(ctx context.Context, classCode string) (bool, error)
	InsertClassroom(ctx context.Context, facultyID, classCode string) error
	ClassroomExists(ctx context.Context, classCode string) (bool, error)
	IncrementStudentCount(ctx context.Context, classCode string) error

	StudentByUserID(ctx context.Context, userID string) (*Student, error)
	StudentByID(ctx context.Context, id string) (*Student, error)
	InsertStudent(ctx context.Context, s Student) (Student, error)
	ListStudents(ctx context.Context, classCode string) ([]Student, error)
	SetStudentAvatar(ctx context.Context, studentID, url string) error
}

// Service manages class codes and cohort membership.
type Service struct {
	repo   Repository
	admins map[string]bool
	log    zerolog.Logger
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, admins: map[string]bool{}, log: logger.Component("roster")}
}

// WithAdmins lists the emails granted an admin faculty account at first sign-in.
func (s *Service) WithAdmins(emails []string) *Service {
	for _, e := range emails {
		if e = normalizeEmail(e); e != "" {
			s.admins[e] = true
		}
	}
	return s
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// UserType returns the user type of the account behind userID, or "" when the
// user has neither a faculty nor a student row. A faculty row pre-registered
// for email is claimed on the way; configured admin emails get an admin row.
func (s *Service) UserType(ctx context.Context, userID, email string) (string, error) {
	f, err := s.repo.FacultyByUserID(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "fetch faculty")
	}
	email = normalizeEmail(email)
	if f == nil && email != "" {
		if f, err = s.claimFaculty(ctx, userID, email); err != nil {
			return "", err
		}
	}
	if f == nil && s.admins[email] {
		role, _ := authority.RoleByType("admin")
		created, err := s.repo.InsertFaculty(ctx, Faculty{
			UserID:        userID,
			Email:         email,
			AuthorityType: role.Type,
			Permissions:   role.Permissions,
		})
		if err != nil {
			return "", errors.Wrap(err, "insert admin")
		}
		s.log.Info().Str("user_id", userID).Msg("admin account created")
		f = &created
	}
	if f != nil {
		return authority.UserTypeFor(f.AuthorityType), nil
	}

	st, err := s.repo.StudentByUserID(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "fetch student")
	}
	if st != nil {
		return authority.UserStudent, nil
	}
	return "", nil
}

func (s *Service) claimFaculty(ctx context.Context, userID, email string) (*Faculty, error) {
	f, err := s.repo.FacultyByEmail(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "fetch faculty by email")
	}
	if f == nil || f.UserID != "" {
		return nil, nil
	}
	ok, err := s.repo.ClaimFaculty(ctx, f.ID, userID)
	if err != nil {
		return nil, errors.Wrap(err, "claim faculty")
	}
	if !ok {
		return nil, nil
	}
	f.UserID = userID
	s.log.Info().Str("user_id", userID).Str("faculty_id", f.ID).Msg("faculty account claimed")
	return f, nil
}

func (s *Service) uniqueClassCode(ctx context.Context) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code := GenerateClassCode()
		taken, err := s.repo.ClassCodeTaken(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a unique class code")
}

// CreateOrGetFacultyClassCode returns the faculty's class code, allocating one
// (and its classroom) when the account has none yet.
func (s *Service) CreateOrGetFacultyClassCode(ctx context.Context, userID string) (string, error) {
	existing, err := s.repo.FacultyByUserID(ctx, userID)
	if err != nil {
		return "", errors.Wrap(err, "fetch faculty")
	}
	if existing != nil && existing.ClassCode != "" {
		return existing.ClassCode, nil
	}

	code, err := s.uniqueClassCode(ctx)
	if err != nil {
		return "", err
	}

	var facultyID string
	if existing != nil {
		if err := s.repo.SetFacultyClassCode(ctx, existing.ID, code); err != nil {
			return "", errors.Wrap(err, "set class code")
		}
		facultyID = existing.ID
	} else {
		role, _ := authority.RoleByType("faculty")
		created, err := s.repo.InsertFaculty(ctx, Faculty{
			UserID:        userID,
			ClassCode:     code,
			AuthorityType: role.Type,
			Permissions:   role.Permissions,
		})
		if err != nil {
			return "", errors.Wrap(err, "insert faculty")
		}
		facultyID = created.ID
	}

	if err := s.repo.InsertClassroom(ctx, facultyID, code); err != nil {
		return "", errors.Wrap(err, "insert classroom")
	}
	return code, nil
}

// RegisterFaculty pre-registers a faculty account with the default permissions
// of its role. Registering an email twice returns the existing row.
func (s *Service) RegisterFaculty(ctx context.Context, nf NewFaculty) (Faculty, error) {
	role, ok := authority.RoleByType(nf.AuthorityType)
	if !ok {
		return Faculty{}, ErrUnknownAuthorityType
	}
	email := normalizeEmail(nf.Email)
	if email == "" {
		return Faculty{}, ErrMissingEmail
	}
	if existing, err := s.repo.FacultyByEmail(ctx, email); err != nil {
		return Faculty{}, errors.Wrap(err, "fetch faculty")
	} else if existing != nil {
		return *existing, nil
	}
	return s.repo.InsertFaculty(ctx, Faculty{
		FullName:      strings.TrimSpace(nf.FullName),
		Email:         email,
		AuthorityType: role.Type,
		Permissions:   role.Permissions,
	})
}

// Faculty returns the faculty row for a user.
func (s *Service) Faculty(ctx context.Context, userID string) (Faculty, error) {
	f, err := s.repo.FacultyByUserID(ctx, userID)
	if err != nil {
		return Faculty{}, errors.Wrap(err, "fetch faculty")
	}
	if f == nil {
		return Faculty{}, ErrFacultyNotFound
	}
	return *f, nil
}

// UpdatePermissions persists the permission toggles of a faculty account.
func (s *Service) UpdatePermissions(ctx context.Context, userID string, p authority.Permissions) (Faculty, error) {
	f, err := s.Faculty(ctx, userID)
	if err != nil {
		return Faculty{}, err
	}
	if err := s.repo.SetFacultyPermissions(ctx, userID, p); err != nil {
		return Faculty{}, errors.Wrap(err, "update permissions")
	}
	f.Permissions = p
	return f, nil
}

// JoinClass enrolls the user into the classroom identified by its code and
// returns the student id. Joining twice returns the existing student.
func (s *Service) JoinClass(ctx context.Context, p JoinParams) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(p.ClassCode))
	exists, err := s.repo.ClassroomExists(ctx, code)
	if err != nil {
		return "", errors.Wrap(err, "check classroom")
	}
	if !exists {
		return "", ErrInvalidClassCode
	}

	existing, err := s.repo.StudentByUserID(ctx, p.UserID)
	if err != nil {
		return "", errors.Wrap(err, "fetch student")
	}
	if existing != nil {
		return existing.ID, nil
	}

	st, err := s.repo.InsertStudent(ctx, Student{
		UserID:      p.UserID,
		FullName:    strings.TrimSpace(p.FullName),
		Email:       strings.ToLower(strings.TrimSpace(p.Email)),
		CollegeID:   strings.TrimSpace(p.CollegeID),
		PhoneNumber: strings.TrimSpace(p.PhoneNumber),
		ClassCode:   code,
	})
	if err != nil {
		return "", errors.Wrap(err, "insert student")
	}

	if err := s.repo.IncrementStudentCount(ctx, code); err != nil {
		s.log.Warn().Err(err).Str("class_code", code).Msg("student count not incremented")
	}
	return st.ID, nil
}

// StudentForUser returns the student row of an authenticated user.
func (s *Service) StudentForUser(ctx context.Context, userID string) (Student, error) {
	st, err := s.repo.StudentByUserID(ctx, userID)
	if err != nil {
		return Student{}, errors.Wrap(err, "fetch student")
	}
	if st == nil {
		return Student{}, ErrStudentNotFound
	}
	return *st, nil
}

func (s *Service) Student(ctx context.Context, id string) (Student, error) {
	st, err := s.repo.StudentByID(ctx, id)
	if err != nil {
		return Student{}, errors.Wrap(err, "fetch student")
	}
	if st == nil {
		return Student{}, ErrStudentNotFound
	}
	return *st, nil
}

// ListStudents lists the students of a class, or every student when classCode is empty.
func (s *Service) ListStudents(ctx context.Context, classCode string) ([]Student, error) {
	return s.repo.ListStudents(ctx, strings.ToUpper(strings.TrimSpace(classCode)))
}

func (s *Service) SetAvatar(ctx context.Context, studentID, url string) error {
	return s.repo.SetStudentAvatar(ctx, studentID, url)
}
