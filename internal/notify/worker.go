package notify

import (
	"context"
	"fmt"
	"path"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cocred/internal/logger"
	"cocred/internal/metrics"
	"cocred/internal/queue"
	"cocred/internal/review"
)

// Records looks up reviewed records. review.Service satisfies it.
type Records interface {
	Certificate(ctx context.Context, id string) (review.Certificate, error)
	Activity(ctx context.Context, id string) (review.Activity, error)
}

// Worker turns review events into student notifications.
type Worker struct {
	records Records
	repo    Repository
	log     zerolog.Logger
}

func NewWorker(records Records, repo Repository) *Worker {
	return &Worker{records: records, repo: repo, log: logger.Component("notify")}
}

// Run consumes q until ctx ends or the queue closes.
func (w *Worker) Run(ctx context.Context, q queue.Queue) error {
	messages, err := q.Consume(ctx)
	if err != nil {
		return errors.Wrap(err, "consume queue")
	}
	w.log.Info().Msg("worker started, waiting for review events")
	for msg := range messages {
		if msg.Type != queue.TypeReview {
			metrics.Notifications.WithLabelValues("skipped").Inc()
			w.ack(ctx, q, msg)
			continue
		}
		// Failed messages stay unacknowledged and are retried after a restart.
		if err := w.Handle(ctx, msg.Body); err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			w.log.Error().Err(err).Str("body", string(msg.Body)).Msg("notification failed")
			continue
		}
		w.ack(ctx, q, msg)
	}
	w.log.Info().Msg("worker stopped")
	return nil
}

func (w *Worker) ack(ctx context.Context, q queue.Queue, msg queue.Message) {
	if err := q.Ack(ctx, msg); err != nil {
		w.log.Warn().Err(err).Msg("ack failed")
	}
}

// Handle inserts the notification for one encoded review.Event.
func (w *Worker) Handle(ctx context.Context, body []byte) error {
	evt, err := review.DecodeEvent(body)
	if err != nil {
		return err
	}
	studentID, message, err := w.compose(ctx, evt)
	if err != nil {
		return err
	}
	if studentID == "" {
		metrics.Notifications.WithLabelValues("skipped").Inc()
		w.log.Warn().Str("record_id", evt.ID).Msg("record has no student, notification skipped")
		return nil
	}
	n, err := w.repo.Insert(ctx, studentID, message)
	if err != nil {
		return errors.Wrap(err, "insert notification")
	}
	metrics.Notifications.WithLabelValues("created").Inc()
	w.log.Info().Str("notification_id", n.ID).Str("student_id", studentID).Str("kind", evt.Kind).Msg("notification created")
	return nil
}

func (w *Worker) compose(ctx context.Context, evt review.Event) (string, string, error) {
	switch evt.Kind {
	case review.KindCertificate:
		c, err := w.records.Certificate(ctx, evt.ID)
		if err != nil {
			return "", "", errors.Wrapf(err, "fetch certificate %s", evt.ID)
		}
		name := c.IssuedName
		if name == "" {
			name = path.Base(c.FilePath)
		}
		return c.StudentID, Message("document", name, evt.Status), nil
	default:
		a, err := w.records.Activity(ctx, evt.ID)
		if err != nil {
			return "", "", errors.Wrapf(err, "fetch activity %s", evt.ID)
		}
		msg := Message("activity", a.Title, evt.Status)
		if a.FacultyComment != nil && *a.FacultyComment != "" {
			msg += " Comment: " + *a.FacultyComment
		}
		return a.StudentID, msg, nil
	}
}

// Message renders the notification text for a review decision.
func Message(noun, name string, status review.Status) string {
	verb := "rejected"
	if status == review.StatusApproved {
		verb = "verified"
	}
	return fmt.Sprintf("Your %s %q has been %s.", noun, name, verb)
}
