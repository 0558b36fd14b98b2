// Package analytics computes class dashboards from review records.
package analytics

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"cocred/internal/review"
	"cocred/internal/roster"
)

// Records is the read side of the review repository.
type Records interface {
	ListCertificates(ctx context.Context, q review.CertificateQuery) ([]review.Certificate, error)
	ListActivities(ctx context.Context, q review.ActivityQuery) ([]review.Activity, error)
}

// Students lists the members of a class.
type Students interface {
	ListStudents(ctx context.Context, classCode string) ([]roster.Student, error)
}

// Counts tallies records by review status.
type Counts struct {
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
	Total    int `json:"total"`
}

func (c *Counts) add(s review.Status) {
	switch s {
	case review.StatusPending:
		c.Pending++
	case review.StatusApproved:
		c.Approved++
	case review.StatusRejected:
		c.Rejected++
	}
	c.Total++
}

// Standing is one leaderboard row.
type Standing struct {
	StudentID string `json:"student_id"`
	CollegeID string `json:"college_id"`
	FullName  string `json:"full_name"`
	Approved  int    `json:"approved"`
	Submitted int    `json:"submitted"`
}

// CategoryCount is the number of activities in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
	Approved int    `json:"approved"`
}

// Dashboard summarizes a class.
type Dashboard struct {
	ClassCode    string          `json:"class_code"`
	Students     int             `json:"students"`
	Certificates Counts          `json:"certificates"`
	Activities   Counts          `json:"activities"`
	Leaderboard  []Standing      `json:"leaderboard"`
	Categories   []CategoryCount `json:"categories"`
}

// DefaultLeaderboardSize bounds the leaderboard.
const DefaultLeaderboardSize = 10

type Service struct {
	records  Records
	students Students
	top      int
}

func NewService(records Records, students Students, top int) *Service {
	if top <= 0 {
		top = DefaultLeaderboardSize
	}
	return &Service{records: records, students: students, top: top}
}

// Dashboard computes the class dashboard for classCode.
func (s *Service) Dashboard(ctx context.Context, classCode string) (*Dashboard, error) {
	classCode = strings.ToUpper(strings.TrimSpace(classCode))
	members, err := s.students.ListStudents(ctx, classCode)
	if err != nil {
		return nil, errors.Wrap(err, "list students")
	}

	var (
		certs []review.Certificate
		acts  []review.Activity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		certs, err = s.records.ListCertificates(gctx, review.CertificateQuery{ClassCode: classCode})
		return errors.Wrap(err, "list certificates")
	})
	if len(members) > 0 {
		ids := make([]string, len(members))
		for i, m := range members {
			ids[i] = m.ID
		}
		g.Go(func() error {
			var err error
			acts, err = s.records.ListActivities(gctx, review.ActivityQuery{StudentIDs: ids})
			return errors.Wrap(err, "list activities")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Compute(classCode, members, certs, acts, s.top), nil
}

// Compute builds a dashboard in a single pass over each record list.
func Compute(classCode string, members []roster.Student, certs []review.Certificate, acts []review.Activity, top int) *Dashboard {
	d := &Dashboard{ClassCode: classCode, Students: len(members)}

	standings := make(map[string]*Standing, len(members))
	order := make([]string, 0, len(members))
	standing := func(id string) *Standing {
		if st, ok := standings[id]; ok {
			return st
		}
		st := &Standing{StudentID: id}
		standings[id] = st
		order = append(order, id)
		return st
	}
	for _, m := range members {
		st := standing(m.ID)
		st.CollegeID = m.CollegeID
		st.FullName = m.FullName
	}

	for _, c := range certs {
		d.Certificates.add(c.Status)
		st := standing(c.StudentID)
		st.Submitted++
		if c.Status == review.StatusApproved {
			st.Approved++
		}
		if c.Student != nil && st.FullName == "" {
			st.FullName = c.Student.FullName
			st.CollegeID = c.Student.CollegeID
		}
	}

	categories := map[string]*CategoryCount{}
	for _, a := range acts {
		d.Activities.add(a.Status)
		st := standing(a.StudentID)
		st.Submitted++
		cat := a.Category
		if cat == "" {
			cat = "Uncategorized"
		}
		cc, ok := categories[cat]
		if !ok {
			cc = &CategoryCount{Category: cat}
			categories[cat] = cc
		}
		cc.Count++
		if a.Status == review.StatusApproved {
			st.Approved++
			cc.Approved++
		}
	}

	board := make([]Standing, 0, len(order))
	for _, id := range order {
		board = append(board, *standings[id])
	}
	sort.SliceStable(board, func(i, j int) bool {
		if board[i].Approved != board[j].Approved {
			return board[i].Approved > board[j].Approved
		}
		return board[i].FullName < board[j].FullName
	})
	if top > 0 && len(board) > top {
		board = board[:top]
	}
	d.Leaderboard = board

	d.Categories = make([]CategoryCount, 0, len(categories))
	for _, cc := range categories {
		d.Categories = append(d.Categories, *cc)
	}
	sort.Slice(d.Categories, func(i, j int) bool {
		if d.Categories[i].Count != d.Categories[j].Count {
			return d.Categories[i].Count > d.Categories[j].Count
		}
		return d.Categories[i].Category < d.Categories[j].Category
	})
	return d
}
