package roster

import (
	"time"

	"cocred/internal/authority"
)

// Student is a learner enrolled in a faculty cohort.
type Student struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	CollegeID   string    `json:"college_id"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	ClassCode   string    `json:"class_code"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Faculty is an authority account owning at most one class code.
type Faculty struct {
	ID            string                `json:"id"`
	UserID        string                `json:"user_id"`
	FullName      string                `json:"full_name"`
	Email         string                `json:"email"`
	ClassCode     string                `json:"class_code,omitempty"`
	AuthorityType string                `json:"authority_type"`
	Permissions   authority.Permissions `json:"permissions"`
	StudentCount  int                   `json:"student_count"`
	CreatedAt     time.Time             `json:"created_at"`
}

// JoinParams registers a student into a class.
type JoinParams struct {
	UserID      string `json:"-"`
	FullName    string `json:"full_name" binding:"required"`
	Email       string `json:"email" binding:"omitempty,email"`
	CollegeID   string `json:"college_id"`
	PhoneNumber string `json:"phone_number"`
	ClassCode   string `json:"class_code" binding:"required"`
}

// NewFaculty pre-registers a faculty account by email. The account is bound to
// a user the first time someone signs in with that email.
type NewFaculty struct {
	FullName      string `json:"full_name" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	AuthorityType string `json:"authority_type" binding:"required"`
}
