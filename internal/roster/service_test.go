package roster

import (
	"context"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cocred/internal/authority"
)

type fakeRepo struct {
	faculty    map[string]*Faculty // by user id
	pending    map[string]*Faculty // unclaimed, by email
	classrooms map[string]string   // class code -> faculty id
	students   map[string]*Student // by user id
	takenCodes map[string]bool
	incrErr    error
	seq        int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		faculty:    map[string]*Faculty{},
		pending:    map[string]*Faculty{},
		classrooms: map[string]string{},
		students:   map[string]*Student{},
		takenCodes: map[string]bool{},
	}
}

func (r *fakeRepo) nextID() string {
	r.seq++
	return "id-" + strconv.Itoa(r.seq)
}

func (r *fakeRepo) FacultyByUserID(_ context.Context, userID string) (*Faculty, error) {
	return r.faculty[userID], nil
}

func (r *fakeRepo) FacultyByClassCode(_ context.Context, code string) (*Faculty, error) {
	for _, f := range r.faculty {
		if f.ClassCode == code {
			return f, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) FacultyByEmail(_ context.Context, email string) (*Faculty, error) {
	if f, ok := r.pending[email]; ok {
		return f, nil
	}
	for _, f := range r.faculty {
		if f.Email == email {
			return f, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) ClaimFaculty(_ context.Context, facultyID, userID string) (bool, error) {
	for email, f := range r.pending {
		if f.ID == facultyID {
			f.UserID = userID
			r.faculty[userID] = f
			delete(r.pending, email)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) InsertFaculty(_ context.Context, f Faculty) (Faculty, error) {
	f.ID = r.nextID()
	f.CreatedAt = time.Now()
	if f.UserID == "" {
		r.pending[f.Email] = &f
		return f, nil
	}
	r.faculty[f.UserID] = &f
	if f.ClassCode != "" {
		r.takenCodes[f.ClassCode] = true
	}
	return f, nil
}

func (r *fakeRepo) SetFacultyClassCode(_ context.Context, facultyID, code string) error {
	for _, f := range r.faculty {
		if f.ID == facultyID {
			f.ClassCode = code
			r.takenCodes[code] = true
		}
	}
	return nil
}

func (r *fakeRepo) SetFacultyPermissions(_ context.Context, userID string, p authority.Permissions) error {
	r.faculty[userID].Permissions = p
	return nil
}

func (r *fakeRepo) ClassCodeTaken(_ context.Context, code string) (bool, error) {
	return r.takenCodes[code], nil
}

func (r *fakeRepo) InsertClassroom(_ context.Context, facultyID, code string) error {
	r.classrooms[code] = facultyID
	return nil
}

func (r *fakeRepo) ClassroomExists(_ context.Context, code string) (bool, error) {
	_, ok := r.classrooms[code]
	return ok, nil
}

func (r *fakeRepo) IncrementStudentCount(_ context.Context, code string) error {
	if r.incrErr != nil {
		return r.incrErr
	}
	for _, f := range r.faculty {
		if f.ClassCode == code {
			f.StudentCount++
		}
	}
	return nil
}

func (r *fakeRepo) StudentByUserID(_ context.Context, userID string) (*Student, error) {
	return r.students[userID], nil
}

func (r *fakeRepo) StudentByID(_ context.Context, id string) (*Student, error) {
	for _, s := range r.students {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, nil
}

func (r *fakeRepo) InsertStudent(_ context.Context, s Student) (Student, error) {
	s.ID = r.nextID()
	r.students[s.UserID] = &s
	return s, nil
}

func (r *fakeRepo) ListStudents(_ context.Context, code string) ([]Student, error) {
	var out []Student
	for _, s := range r.students {
		if code == "" || s.ClassCode == code {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeRepo) SetStudentAvatar(_ context.Context, id, url string) error {
	for _, s := range r.students {
		if s.ID == id {
			s.AvatarURL = url
		}
	}
	return nil
}

func TestGenerateClassCode(t *testing.T) {
	re := regexp.MustCompile(`^[A-Z0-9]{6}$`)
	for i := 0; i < 50; i++ {
		assert.Regexp(t, re, GenerateClassCode())
	}
}

func TestCreateOrGetFacultyClassCode(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := NewService(repo)

	code, err := svc.CreateOrGetFacultyClassCode(ctx, "fac-user")
	require.NoError(t, err)
	assert.Len(t, code, 6)
	require.NotNil(t, repo.faculty["fac-user"])
	assert.Equal(t, "faculty", repo.faculty["fac-user"].AuthorityType)
	assert.Contains(t, repo.classrooms, code)

	again, err := svc.CreateOrGetFacultyClassCode(ctx, "fac-user")
	require.NoError(t, err)
	assert.Equal(t, code, again)
	assert.Len(t, repo.classrooms, 1)
}

func TestCreateOrGetFacultyClassCodeExistingWithoutCode(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := NewService(repo)
	_, err := svc.RegisterFaculty(ctx, NewFaculty{Email: "rao@college.edu", FullName: "Dr. Rao", AuthorityType: "faculty"})
	require.NoError(t, err)
	claim(t, svc, "u1", "rao@college.edu")

	code, err := svc.CreateOrGetFacultyClassCode(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, code, repo.faculty["u1"].ClassCode)
	assert.Equal(t, repo.faculty["u1"].ID, repo.classrooms[code])
}

func TestRegisterFacultyUnknownType(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.RegisterFaculty(context.Background(), NewFaculty{Email: "x@college.edu", FullName: "X", AuthorityType: "wizard"})
	assert.ErrorIs(t, err, ErrUnknownAuthorityType)
}

func TestJoinClass(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := NewService(repo)
	code, err := svc.CreateOrGetFacultyClassCode(ctx, "fac")
	require.NoError(t, err)

	_, err = svc.JoinClass(ctx, JoinParams{UserID: "stu", FullName: "Asha", ClassCode: "NOPE00"})
	assert.ErrorIs(t, err, ErrInvalidClassCode)

	id, err := svc.JoinClass(ctx, JoinParams{UserID: "stu", FullName: " Asha ", CollegeID: "A123", ClassCode: " " + code})
	require.NoError(t, err)
	assert.Equal(t, "Asha", repo.students["stu"].FullName)
	assert.Equal(t, 1, repo.faculty["fac"].StudentCount)

	again, err := svc.JoinClass(ctx, JoinParams{UserID: "stu", FullName: "Asha", ClassCode: code})
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, repo.faculty["fac"].StudentCount)
}

func TestJoinClassIgnoresCountFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := NewService(repo)
	code, err := svc.CreateOrGetFacultyClassCode(ctx, "fac")
	require.NoError(t, err)
	repo.incrErr = errors.New("no such function")

	_, err = svc.JoinClass(ctx, JoinParams{UserID: "stu", FullName: "Asha", ClassCode: code})
	assert.NoError(t, err)
}

func TestUpdatePermissions(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := NewService(repo)

	_, err := svc.UpdatePermissions(ctx, "ghost", authority.Permissions{})
	assert.ErrorIs(t, err, ErrFacultyNotFound)

	_, err = svc.RegisterFaculty(ctx, NewFaculty{Email: "rao@college.edu", FullName: "Dr. Rao", AuthorityType: "faculty"})
	require.NoError(t, err)
	claim(t, svc, "u1", "rao@college.edu")
	f, err := svc.UpdatePermissions(ctx, "u1", authority.Permissions{CanViewAnalytics: true})
	require.NoError(t, err)
	assert.True(t, f.Permissions.CanViewAnalytics)
	assert.True(t, repo.faculty["u1"].Permissions.CanViewAnalytics)
	assert.False(t, repo.faculty["u1"].Permissions.CanApproveCertificates)
}

func TestStudentForUser(t *testing.T) {
	svc := NewService(newFakeRepo())
	_, err := svc.StudentForUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrStudentNotFound)
}

func claim(t *testing.T, svc *Service, userID, email string) {
	t.Helper()
	userType, err := svc.UserType(context.Background(), userID, email)
	require.NoError(t, err)
	require.Equal(t, authority.UserTeacher, userType)
}

func TestRegisterFacultyByEmail(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := NewService(repo)

	f, err := svc.RegisterFaculty(ctx, NewFaculty{Email: " Rao@College.edu ", FullName: "Dr. Rao", AuthorityType: "faculty"})
	require.NoError(t, err)
	assert.Empty(t, f.UserID)
	assert.Equal(t, "rao@college.edu", f.Email)

	again, err := svc.RegisterFaculty(ctx, NewFaculty{Email: "rao@college.edu", FullName: "Someone", AuthorityType: "admin"})
	require.NoError(t, err)
	assert.Equal(t, f.ID, again.ID)
	assert.Len(t, repo.pending, 1)

	_, err = svc.RegisterFaculty(ctx, NewFaculty{FullName: "No Mail", AuthorityType: "faculty"})
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestUserType(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	svc := NewService(repo).WithAdmins([]string{"Dean@College.edu"})

	userType, err := svc.UserType(ctx, "stranger", "stranger@gmail.com")
	require.NoError(t, err)
	assert.Empty(t, userType)

	_, err = svc.RegisterFaculty(ctx, NewFaculty{Email: "rao@college.edu", FullName: "Dr. Rao", AuthorityType: "faculty"})
	require.NoError(t, err)
	userType, err = svc.UserType(ctx, "rao-sub", "RAO@college.edu")
	require.NoError(t, err)
	assert.Equal(t, authority.UserTeacher, userType)
	assert.Equal(t, "rao-sub", repo.faculty["rao-sub"].UserID)

	// A claimed row is not handed to a second account with the same email.
	userType, err = svc.UserType(ctx, "other-sub", "rao@college.edu")
	require.NoError(t, err)
	assert.Empty(t, userType)

	userType, err = svc.UserType(ctx, "dean-sub", "dean@college.edu")
	require.NoError(t, err)
	assert.Equal(t, authority.UserAuthority, userType)
	assert.Equal(t, "admin", repo.faculty["dean-sub"].AuthorityType)

	code, err := svc.CreateOrGetFacultyClassCode(ctx, "rao-sub")
	require.NoError(t, err)
	_, err = svc.JoinClass(ctx, JoinParams{UserID: "stu-sub", FullName: "Asha", ClassCode: code})
	require.NoError(t, err)
	userType, err = svc.UserType(ctx, "stu-sub", "")
	require.NoError(t, err)
	assert.Equal(t, authority.UserStudent, userType)
}
