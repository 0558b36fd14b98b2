package review

import (
	"strings"
	"time"
)

// Status is the review state of a certificate or activity.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus accepts the three known statuses, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusRejected:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// Terminal reports whether s is a review decision.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// StudentRef is the owning student as joined onto a record.
type StudentRef struct {
	ID        string `json:"id"`
	CollegeID string `json:"college_id"`
	FullName  string `json:"full_name"`
	Email     string `json:"email"`
}

// Certificate is an uploaded credential file awaiting or past review.
type Certificate struct {
	ID         string      `json:"id"`
	StudentID  string      `json:"student_id"`
	ClassCode  string      `json:"class_code"`
	FilePath   string      `json:"file_path"`
	PublicURL  string      `json:"public_url"`
	IssuedName string      `json:"issued_name"`
	Status     Status      `json:"status"`
	UploadedAt time.Time   `json:"uploaded_at"`
	Student    *StudentRef `json:"students,omitempty"`
}

// Activity is a co-curricular activity record with optional attachments.
type Activity struct {
	ID              string      `json:"id"`
	StudentID       string      `json:"student_id"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	ActivityType    string      `json:"activity_type"`
	Category        string      `json:"category"`
	Organization    string      `json:"organization"`
	StartDate       string      `json:"start_date"`
	EndDate         string      `json:"end_date,omitempty"`
	Skills          []string    `json:"skills"`
	AttachmentPaths []string    `json:"attachment_paths"`
	Status          Status      `json:"status"`
	FacultyComment  *string     `json:"faculty_comment,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Student         *StudentRef `json:"students,omitempty"`
}

// ActivityTypes lists the accepted activity_type values.
var ActivityTypes = []string{"certificate", "internship", "project", "workshop", "competition", "volunteer"}

// Categories lists the accepted category values.
var Categories = []string{"Academic", "Technical", "Leadership", "Sports", "Cultural", "Social"}

// NewCertificate is the input to SubmitCertificate.
type NewCertificate struct {
	UserID     string `json:"-"`
	FilePath   string `json:"file_path" binding:"required"`
	PublicURL  string `json:"public_url"`
	IssuedName string `json:"issued_name"`
}

// Attachment is an uploaded file accompanying an activity.
type Attachment struct {
	Name string
	Data []byte
}

// NewActivity is the input to SubmitActivity. Skills is a comma separated list.
type NewActivity struct {
	Title        string       `json:"title" form:"title" binding:"required"`
	Description  string       `json:"description" form:"description"`
	ActivityType string       `json:"activity_type" form:"activity_type" binding:"required"`
	Category     string       `json:"category" form:"category" binding:"required"`
	Organization string       `json:"organization" form:"organization"`
	StartDate    string       `json:"start_date" form:"start_date"`
	EndDate      string       `json:"end_date" form:"end_date"`
	Skills       string       `json:"skills" form:"skills"`
	Attachments  []Attachment `json:"-" form:"-"`
}

// Stats are review counts for a class.
type Stats struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

// CertificateQuery filters certificate listings. Empty fields apply no filter.
type CertificateQuery struct {
	ClassCode  string
	StudentID  string
	Status     Status
	IDs        []string
	StudentIDs []string
	Limit      uint64
}

// ActivityQuery filters activity listings. Empty fields apply no filter.
type ActivityQuery struct {
	StudentID  string
	Status     Status
	IDs        []string
	StudentIDs []string
	Limit      uint64
}
