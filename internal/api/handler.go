// Package api exposes the CoCred services over HTTP.
package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"cocred/internal/analytics"
	"cocred/internal/auth"
	"cocred/internal/authority"
	"cocred/internal/cloudinary"
	"cocred/internal/config"
	"cocred/internal/event"
	"cocred/internal/export"
	"cocred/internal/logger"
	"cocred/internal/notify"
	"cocred/internal/portfolio"
	"cocred/internal/review"
	"cocred/internal/roster"
	"cocred/internal/session"
	"cocred/internal/upload"
)

// Roster manages class codes and enrollment.
type Roster interface {
	CreateOrGetFacultyClassCode(ctx context.Context, userID string) (string, error)
	RegisterFaculty(ctx context.Context, nf roster.NewFaculty) (roster.Faculty, error)
	Faculty(ctx context.Context, userID string) (roster.Faculty, error)
	UpdatePermissions(ctx context.Context, userID string, p authority.Permissions) (roster.Faculty, error)
	JoinClass(ctx context.Context, p roster.JoinParams) (string, error)
	StudentForUser(ctx context.Context, userID string) (roster.Student, error)
	ListStudents(ctx context.Context, classCode string) ([]roster.Student, error)
}

// Reviews is the certificate and activity workflow.
type Reviews interface {
	UpdateCertificateStatus(ctx context.Context, id string, status review.Status, feedback string) error
	UpdateActivityStatus(ctx context.Context, id string, status review.Status, comment string) (review.Activity, error)
	ListForFaculty(ctx context.Context, userID, status string) ([]review.Certificate, error)
	ListPendingActivities(ctx context.Context) ([]review.Activity, error)
	ListStudentCertificates(ctx context.Context, userID string) ([]review.Certificate, error)
	ListStudentActivities(ctx context.Context, userID string) ([]review.Activity, error)
	SubmitCertificate(ctx context.Context, nc review.NewCertificate, file *review.Attachment) (review.Certificate, error)
	SubmitActivity(ctx context.Context, userID string, in review.NewActivity) (review.Activity, error)
	Stats(ctx context.Context, classCode string) (review.Stats, error)
}

// Exporter builds bulk export archives and the gallery listing.
type Exporter interface {
	ExportAll(ctx context.Context) (*export.Archive, error)
	Export(ctx context.Context, f export.Filter) (*export.Archive, error)
	Catalog(ctx context.Context, publicBase string) (*export.Catalog, error)
}

// Files stores user attachments.
type Files interface {
	Upload(ctx context.Context, userID, fileName string, data []byte) (upload.Result, error)
	Delete(ctx context.Context, userID, path string) error
	List(ctx context.Context, userID string) ([]upload.File, error)
	Download(ctx context.Context, userID, path string) ([]byte, error)
}

type Events interface {
	Create(ctx context.Context, e event.Event) (event.Event, error)
	List(ctx context.Context) ([]event.Event, error)
	ByKey(ctx context.Context, key string) (event.Event, error)
	Delete(ctx context.Context, id string) error
}

type Analytics interface {
	Dashboard(ctx context.Context, classCode string) (*analytics.Dashboard, error)
}

type Portfolios interface {
	Build(ctx context.Context, studentID string) (*portfolio.Portfolio, error)
	ShareURL(studentID string) string
}

type Notifications interface {
	List(ctx context.Context, userID string, unreadOnly bool) ([]notify.Notification, error)
	MarkRead(ctx context.Context, userID string, ids []string) (int64, error)
}

type Profiles interface {
	Upload(ctx context.Context, studentID, kind, filename string, data []byte) (*cloudinary.UploadResult, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Config        config.App
	Checks        map[string]HealthCheck
	Auth          *auth.Provider
	SessionStore  session.KV
	SessionBus    session.Bus
	Roster        Roster
	Reviews       Reviews
	Exporter      Exporter
	Files         Files
	Events        Events
	Analytics     Analytics
	Portfolios    Portfolios
	Notifications Notifications
	Profiles      Profiles
}

// Handler serves every route.
type Handler struct {
	d   Deps
	log zerolog.Logger
	// streamKeepAlive is the interval of SSE pings on the session stream.
	streamKeepAlive time.Duration
}

func New(d Deps) *Handler {
	if d.SessionStore == nil {
		d.SessionStore = session.NoopKV{}
	}
	if d.SessionBus == nil {
		d.SessionBus = session.NewMemoryBus()
	}
	return &Handler{d: d, log: logger.Component("api"), streamKeepAlive: 25 * time.Second}
}
