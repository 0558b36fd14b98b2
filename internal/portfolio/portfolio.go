// Package portfolio assembles a student's approved record into a shareable profile.
package portfolio

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"

	"cocred/internal/review"
	"cocred/internal/roster"
)

// DefaultQRSize is the edge length in pixels of generated QR codes.
const DefaultQRSize = 256

// Students looks up a student by id.
type Students interface {
	Student(ctx context.Context, id string) (roster.Student, error)
}

// Records is the read side of the review repository.
type Records interface {
	ListCertificates(ctx context.Context, q review.CertificateQuery) ([]review.Certificate, error)
	ListActivities(ctx context.Context, q review.ActivityQuery) ([]review.Activity, error)
}

// Portfolio is a student's verified achievements.
type Portfolio struct {
	Student      roster.Student       `json:"student"`
	Certificates []review.Certificate `json:"certificates"`
	Activities   []review.Activity    `json:"activities"`
	ShareURL     string               `json:"share_url"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

type Service struct {
	students Students
	records  Records
	baseURL  string
	now      func() time.Time
}

// NewService builds portfolios whose share link is baseURL/<studentId>.
func NewService(students Students, records Records, baseURL string) *Service {
	return &Service{
		students: students,
		records:  records,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ShareURL is the public link of a student's portfolio.
func (s *Service) ShareURL(studentID string) string {
	return s.baseURL + "/" + studentID
}

// Build collects the approved certificates and activities of a student.
func (s *Service) Build(ctx context.Context, studentID string) (*Portfolio, error) {
	st, err := s.students.Student(ctx, studentID)
	if err != nil {
		return nil, err
	}
	p := &Portfolio{Student: st, ShareURL: s.ShareURL(st.ID), GeneratedAt: s.now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		certs, err := s.records.ListCertificates(gctx, review.CertificateQuery{StudentID: st.ID, Status: review.StatusApproved})
		p.Certificates = certs
		return errors.Wrap(err, "list certificates")
	})
	g.Go(func() error {
		acts, err := s.records.ListActivities(gctx, review.ActivityQuery{StudentID: st.ID, Status: review.StatusApproved})
		p.Activities = acts
		return errors.Wrap(err, "list activities")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if p.Certificates == nil {
		p.Certificates = []review.Certificate{}
	}
	if p.Activities == nil {
		p.Activities = []review.Activity{}
	}
	return p, nil
}

// QRCode renders url as a PNG.
func QRCode(url string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(url, qrcode.Medium, size)
	if err != nil {
		return nil, errors.Wrap(err, "encode qr code")
	}
	return png, nil
}

// RenderPDF lays the portfolio out on A4 pages with a QR code to the share link.
func RenderPDF(p *Portfolio) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(p.Student.FullName+" - Portfolio"), false)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 18)
	pdf.Cell(0, 10, tr(p.Student.FullName))
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 5, tr(fmt.Sprintf("College ID: %s | Class: %s", p.Student.CollegeID, p.Student.ClassCode)))
	pdf.Ln(5)
	if p.Student.Email != "" {
		pdf.Cell(0, 5, tr(p.Student.Email))
		pdf.Ln(5)
	}
	pdf.SetDrawColor(40, 145, 108)
	pdf.SetLineWidth(0.5)
	pdf.Line(20, pdf.GetY()+2, 190, pdf.GetY()+2)
	pdf.Ln(8)

	if p.ShareURL != "" {
		png, err := QRCode(p.ShareURL, DefaultQRSize)
		if err != nil {
			return nil, err
		}
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("share-qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("share-qr", 160, 14, 30, 30, false, opts, 0, "")
	}

	section := func(title string) {
		pdf.SetFont("Arial", "B", 12)
		pdf.Cell(0, 7, title)
		pdf.Ln(8)
	}

	section(fmt.Sprintf("Certificates (%d)", len(p.Certificates)))
	pdf.SetFont("Arial", "", 10)
	if len(p.Certificates) == 0 {
		pdf.Cell(0, 6, "No approved certificates.")
		pdf.Ln(6)
	}
	for _, c := range p.Certificates {
		name := c.IssuedName
		if name == "" {
			name = c.FilePath[strings.LastIndex(c.FilePath, "/")+1:]
		}
		pdf.CellFormat(130, 6, tr(name), "B", 0, "L", false, 0, c.PublicURL)
		pdf.CellFormat(40, 6, c.UploadedAt.Format("2006-01-02"), "B", 1, "R", false, 0, "")
	}
	pdf.Ln(6)

	section(fmt.Sprintf("Activities (%d)", len(p.Activities)))
	if len(p.Activities) == 0 {
		pdf.SetFont("Arial", "", 10)
		pdf.Cell(0, 6, "No approved activities.")
		pdf.Ln(6)
	}
	for _, a := range p.Activities {
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, tr(a.Title))
		pdf.Ln(5)
		pdf.SetFont("Arial", "", 9)
		meta := strings.Join(nonEmpty(a.Category, a.ActivityType, a.Organization, dateRange(a.StartDate, a.EndDate)), " | ")
		pdf.Cell(0, 5, tr(meta))
		pdf.Ln(5)
		if a.Description != "" {
			pdf.MultiCell(0, 5, tr(a.Description), "", "L", false)
		}
		if len(a.Skills) > 0 {
			pdf.Cell(0, 5, tr("Skills: "+strings.Join(a.Skills, ", ")))
			pdf.Ln(5)
		}
		pdf.Ln(3)
	}

	pdf.SetY(-25)
	pdf.SetFont("Arial", "I", 8)
	pdf.Cell(0, 5, tr("Generated "+p.GeneratedAt.Format("2 Jan 2006")+" - "+p.ShareURL))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "render portfolio pdf")
	}
	return buf.Bytes(), nil
}

func nonEmpty(vals ...string) []string {
	out := vals[:0]
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func dateRange(start, end string) string {
	switch {
	case start == "":
		return end
	case end == "":
		return start
	}
	return start + " to " + end
}
