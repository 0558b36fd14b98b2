package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cocred/internal/queue"
	"cocred/internal/review"
	"cocred/internal/roster"
)

type memRepo struct {
	mu    sync.Mutex
	items []Notification
}

func (m *memRepo) Insert(_ context.Context, studentID, message string) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := Notification{ID: "n" + string(rune('0'+len(m.items))), StudentID: studentID, Message: message, CreatedAt: time.Now()}
	m.items = append([]Notification{n}, m.items...)
	return n, nil
}

func (m *memRepo) List(_ context.Context, studentID string, unreadOnly bool, _ uint64) ([]Notification, error) {
	var out []Notification
	for _, n := range m.items {
		if n.StudentID == studentID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memRepo) MarkRead(_ context.Context, studentID string, ids []string) (int64, error) {
	var count int64
	for i := range m.items {
		n := &m.items[i]
		if n.StudentID != studentID || n.Read {
			continue
		}
		if len(ids) > 0 && !contains(ids, n.ID) {
			continue
		}
		n.Read = true
		count++
	}
	return count, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

type fakeRecords struct {
	certs map[string]review.Certificate
	acts  map[string]review.Activity
}

func (f fakeRecords) Certificate(_ context.Context, id string) (review.Certificate, error) {
	c, ok := f.certs[id]
	if !ok {
		return review.Certificate{}, review.ErrNotFound
	}
	return c, nil
}

func (f fakeRecords) Activity(_ context.Context, id string) (review.Activity, error) {
	a, ok := f.acts[id]
	if !ok {
		return review.Activity{}, review.ErrNotFound
	}
	return a, nil
}

type fakeStudents struct{}

func (fakeStudents) StudentForUser(_ context.Context, userID string) (roster.Student, error) {
	if userID == "u1" {
		return roster.Student{ID: "s1"}, nil
	}
	return roster.Student{}, roster.ErrStudentNotFound
}

func fixture() (*Worker, *memRepo) {
	comment := "Great work"
	recs := fakeRecords{
		certs: map[string]review.Certificate{
			"c1": {ID: "c1", StudentID: "s1", IssuedName: "AWS Cloud Practitioner"},
			"c2": {ID: "c2", StudentID: "s1", FilePath: "certificates/s1/123_scan.pdf"},
			"c3": {ID: "c3"},
		},
		acts: map[string]review.Activity{
			"a1": {ID: "a1", StudentID: "s1", Title: "Hackathon", FacultyComment: &comment},
		},
	}
	repo := &memRepo{}
	return NewWorker(recs, repo), repo
}

func TestHandleCertificateEvent(t *testing.T) {
	w, repo := fixture()
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, review.Event{Kind: review.KindCertificate, ID: "c1", Status: review.StatusApproved}.Encode()))
	require.NoError(t, w.Handle(ctx, review.Event{Kind: review.KindCertificate, ID: "c2", Status: review.StatusRejected}.Encode()))

	require.Len(t, repo.items, 2)
	assert.Equal(t, `Your document "123_scan.pdf" has been rejected.`, repo.items[0].Message)
	assert.Equal(t, `Your document "AWS Cloud Practitioner" has been verified.`, repo.items[1].Message)
	assert.Equal(t, "s1", repo.items[0].StudentID)
}

func TestHandleActivityEventIncludesComment(t *testing.T) {
	w, repo := fixture()
	require.NoError(t, w.Handle(context.Background(), review.Event{Kind: review.KindActivity, ID: "a1", Status: review.StatusApproved}.Encode()))
	require.Len(t, repo.items, 1)
	assert.Equal(t, `Your activity "Hackathon" has been verified. Comment: Great work`, repo.items[0].Message)
}

func TestHandleSkipsAndErrors(t *testing.T) {
	w, repo := fixture()
	ctx := context.Background()

	require.NoError(t, w.Handle(ctx, review.Event{Kind: review.KindCertificate, ID: "c3", Status: review.StatusApproved}.Encode()))
	assert.Empty(t, repo.items)

	err := w.Handle(ctx, review.Event{Kind: review.KindCertificate, ID: "missing", Status: review.StatusApproved}.Encode())
	assert.True(t, errors.Is(err, review.ErrNotFound))

	assert.Error(t, w.Handle(ctx, []byte("garbage")))
}

func TestRunConsumesQueue(t *testing.T) {
	w, repo := fixture()
	q := queue.NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, queue.Message{Type: "other", Body: []byte("x")}))
	require.NoError(t, q.Publish(ctx, queue.Message{Type: queue.TypeReview, Body: review.Event{Kind: review.KindCertificate, ID: "c1", Status: review.StatusApproved}.Encode()}))

	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx, q)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(repoSnapshot(repo)) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func repoSnapshot(r *memRepo) []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

func TestServiceListAndMarkRead(t *testing.T) {
	repo := &memRepo{}
	ctx := context.Background()
	_, _ = repo.Insert(ctx, "s1", "one")
	_, _ = repo.Insert(ctx, "s1", "two")
	_, _ = repo.Insert(ctx, "s2", "other")
	svc := NewService(repo, fakeStudents{})

	list, err := svc.List(ctx, "u1", false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "two", list[0].Message)

	n, err := svc.MarkRead(ctx, "u1", []string{list[0].ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	unread, err := svc.List(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "one", unread[0].Message)

	n, err = svc.MarkRead(ctx, "u1", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = svc.List(ctx, "nobody", false)
	assert.ErrorIs(t, err, roster.ErrStudentNotFound)
}
