package review

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cocred/internal/blob"
	"cocred/internal/logger"
	"cocred/internal/metrics"
	"cocred/internal/queue"
	"cocred/internal/roster"
	"cocred/internal/upload"
)

var (
	ErrInvalidStatus   = errors.New("status must be approved or rejected")
	ErrNotFound        = errors.New("record not found")
	ErrNoClassCode     = errors.New("no class code found for faculty")
	ErrStudentNotFound = roster.ErrStudentNotFound
	ErrInvalidActivity = errors.New("invalid activity")
	ErrMissingFile     = errors.New("certificate file required")
)

// Repository persists certificates and activities.
type Repository interface {
	InsertCertificate(ctx context.Context, c Certificate) (Certificate, error)
	UpdateCertificateStatus(ctx context.Context, id string, status Status) (int64, error)
	GetCertificate(ctx context.Context, id string) (*Certificate, error)
	ListCertificates(ctx context.Context, q CertificateQuery) ([]Certificate, error)
	CountCertificates(ctx context.Context, classCode string) (Stats, error)

	InsertActivity(ctx context.Context, a Activity) (Activity, error)
	UpdateActivityStatus(ctx context.Context, id string, status Status, comment *string, at time.Time) (*Activity, error)
	ListActivities(ctx context.Context, q ActivityQuery) ([]Activity, error)
}

// Roster resolves the accounts behind a request.
type Roster interface {
	StudentForUser(ctx context.Context, userID string) (roster.Student, error)
	Faculty(ctx context.Context, userID string) (roster.Faculty, error)
}

// Publisher receives review events. queue.Queue satisfies it.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Config tunes attachment handling.
type Config struct {
	MaxUploadBytes int64
	PublicBaseURL  string
}

// Service coordinates submissions and faculty review decisions.
type Service struct {
	repo   Repository
	roster Roster
	files  blob.Storage
	pub    Publisher
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger
}

// NewService wires a review service. pub may be nil.
func NewService(repo Repository, r Roster, files blob.Storage, pub Publisher, cfg Config) *Service {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = upload.DefaultMaxBytes
	}
	return &Service{
		repo:   repo,
		roster: r,
		files:  files,
		pub:    pub,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    logger.Component("review"),
	}
}

// UpdateCertificateStatus records a faculty decision. Feedback is accepted but not stored.
// There is no version check: a later decision overwrites an earlier one.
func (s *Service) UpdateCertificateStatus(ctx context.Context, id string, status Status, feedback string) error {
	if !status.Terminal() {
		return ErrInvalidStatus
	}
	n, err := s.repo.UpdateCertificateStatus(ctx, id, status)
	if err != nil {
		return errors.Wrap(err, "update certificate status")
	}
	if n == 0 {
		return ErrNotFound
	}
	metrics.Reviews.WithLabelValues(KindCertificate, string(status)).Inc()
	s.log.Info().Str("record_id", id).Str("status", string(status)).Bool("has_feedback", feedback != "").Msg("certificate reviewed")
	s.publish(ctx, Event{Kind: KindCertificate, ID: id, Status: status})
	return nil
}

// UpdateActivityStatus records a decision and optional comment in a single update.
func (s *Service) UpdateActivityStatus(ctx context.Context, id string, status Status, comment string) (Activity, error) {
	if !status.Terminal() {
		return Activity{}, ErrInvalidStatus
	}
	var c *string
	if comment = strings.TrimSpace(comment); comment != "" {
		c = &comment
	}
	a, err := s.repo.UpdateActivityStatus(ctx, id, status, c, s.now())
	if err != nil {
		return Activity{}, errors.Wrap(err, "update activity status")
	}
	if a == nil {
		return Activity{}, ErrNotFound
	}
	metrics.Reviews.WithLabelValues(KindActivity, string(status)).Inc()
	s.log.Info().Str("record_id", id).Str("status", string(status)).Msg("activity reviewed")
	s.publish(ctx, Event{Kind: KindActivity, ID: id, Status: status})
	return *a, nil
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, queue.Message{Type: queue.TypeReview, Body: evt.Encode()}); err != nil {
		s.log.Warn().Err(err).Str("record_id", evt.ID).Msg("review event not published")
	}
}

// ListForFaculty lists the certificates of the faculty's class, newest first.
// status "" or "all" returns every status.
func (s *Service) ListForFaculty(ctx context.Context, userID, status string) ([]Certificate, error) {
	f, err := s.roster.Faculty(ctx, userID)
	if err != nil {
		if errors.Is(err, roster.ErrFacultyNotFound) {
			return nil, ErrNoClassCode
		}
		return nil, err
	}
	if f.ClassCode == "" {
		return nil, ErrNoClassCode
	}
	q := CertificateQuery{ClassCode: f.ClassCode}
	if status != "" && status != "all" {
		st, err := ParseStatus(status)
		if err != nil {
			return nil, err
		}
		q.Status = st
	}
	return s.repo.ListCertificates(ctx, q)
}

// ListPendingActivities returns pending activities with their students.
func (s *Service) ListPendingActivities(ctx context.Context) ([]Activity, error) {
	return s.repo.ListActivities(ctx, ActivityQuery{Status: StatusPending})
}

// ListStudentCertificates returns the user's certificates, or an empty list
// when the user has no student profile.
func (s *Service) ListStudentCertificates(ctx context.Context, userID string) ([]Certificate, error) {
	st, err := s.roster.StudentForUser(ctx, userID)
	if err != nil {
		if errors.Is(err, roster.ErrStudentNotFound) {
			return []Certificate{}, nil
		}
		return nil, err
	}
	return s.repo.ListCertificates(ctx, CertificateQuery{StudentID: st.ID})
}

func (s *Service) ListStudentActivities(ctx context.Context, userID string) ([]Activity, error) {
	st, err := s.roster.StudentForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListActivities(ctx, ActivityQuery{StudentID: st.ID})
}

// Certificate returns a single certificate.
func (s *Service) Certificate(ctx context.Context, id string) (Certificate, error) {
	c, err := s.repo.GetCertificate(ctx, id)
	if err != nil {
		return Certificate{}, errors.Wrap(err, "fetch certificate")
	}
	if c == nil {
		return Certificate{}, ErrNotFound
	}
	return *c, nil
}

// Activity returns a single activity.
func (s *Service) Activity(ctx context.Context, id string) (Activity, error) {
	list, err := s.repo.ListActivities(ctx, ActivityQuery{IDs: []string{id}, Limit: 1})
	if err != nil {
		return Activity{}, errors.Wrap(err, "fetch activity")
	}
	if len(list) == 0 {
		return Activity{}, ErrNotFound
	}
	return list[0], nil
}

// SubmitCertificate stores a pending certificate for the user's class. When file
// is non-nil it is validated and uploaded first.
func (s *Service) SubmitCertificate(ctx context.Context, nc NewCertificate, file *Attachment) (Certificate, error) {
	st, err := s.roster.StudentForUser(ctx, nc.UserID)
	if err != nil {
		return Certificate{}, err
	}

	c := Certificate{
		StudentID:  st.ID,
		ClassCode:  st.ClassCode,
		FilePath:   nc.FilePath,
		PublicURL:  nc.PublicURL,
		IssuedName: strings.TrimSpace(nc.IssuedName),
		Status:     StatusPending,
	}
	if file != nil {
		key := "certificates/" + upload.GenerateName(file.Name, st.ID, s.now())
		if err := s.store(ctx, key, file.Data); err != nil {
			return Certificate{}, err
		}
		c.FilePath = key
		c.PublicURL = blob.PublicURL(s.cfg.PublicBaseURL, key)
		if c.IssuedName == "" {
			c.IssuedName = file.Name
		}
	}
	if c.FilePath == "" {
		return Certificate{}, ErrMissingFile
	}
	return s.repo.InsertCertificate(ctx, c)
}

// SubmitActivity validates and stores a pending activity with its attachments.
func (s *Service) SubmitActivity(ctx context.Context, userID string, in NewActivity) (Activity, error) {
	if err := validateActivity(in); err != nil {
		return Activity{}, err
	}
	st, err := s.roster.StudentForUser(ctx, userID)
	if err != nil {
		return Activity{}, err
	}

	a := Activity{
		ID:              uuid.NewString(),
		StudentID:       st.ID,
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		ActivityType:    in.ActivityType,
		Category:        in.Category,
		Organization:    in.Organization,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		Skills:          SplitSkills(in.Skills),
		AttachmentPaths: []string{},
		Status:          StatusPending,
	}
	millis := s.now().UnixMilli()
	for i, att := range in.Attachments {
		ext := upload.Extension(att.Name)
		if ext == "" {
			ext = "pdf"
		}
		key := fmt.Sprintf("activities/%s_%d_%d.%s", a.ID, millis, i, ext)
		if err := s.store(ctx, key, att.Data); err != nil {
			return Activity{}, err
		}
		a.AttachmentPaths = append(a.AttachmentPaths, key)
	}
	return s.repo.InsertActivity(ctx, a)
}

func (s *Service) store(ctx context.Context, key string, data []byte) error {
	contentType, err := upload.Validate(data, s.cfg.MaxUploadBytes)
	if err != nil {
		metrics.Uploads.WithLabelValues("rejected").Inc()
		return err
	}
	if err := s.files.Upload(ctx, key, bytes.NewReader(data), contentType); err != nil {
		metrics.Uploads.WithLabelValues("failed").Inc()
		return errors.Wrapf(err, "upload %s", key)
	}
	metrics.Uploads.WithLabelValues("stored").Inc()
	return nil
}

// Stats returns certificate counts by status for a class.
func (s *Service) Stats(ctx context.Context, classCode string) (Stats, error) {
	return s.repo.CountCertificates(ctx, classCode)
}

func validateActivity(in NewActivity) error {
	if strings.TrimSpace(in.Title) == "" {
		return errors.Wrap(ErrInvalidActivity, "title required")
	}
	if !contains(ActivityTypes, in.ActivityType) {
		return errors.Wrapf(ErrInvalidActivity, "unknown activity type %q", in.ActivityType)
	}
	if !contains(Categories, in.Category) {
		return errors.Wrapf(ErrInvalidActivity, "unknown category %q", in.Category)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SplitSkills splits a comma separated list, dropping blanks.
func SplitSkills(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
