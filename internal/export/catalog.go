package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"cocred/internal/blob"
	"cocred/internal/review"
)

const (
	ImageCertificate = "certificate"
	ImageActivity    = "activity"
	ImageStorage     = "storage_file"
)

// Image is one file shown in the admin gallery.
type Image struct {
	ID            string             `json:"id"`
	Type          string             `json:"type"`
	Name          string             `json:"name"`
	FilePath      string             `json:"file_path"`
	PublicURL     string             `json:"public_url"`
	Status        string             `json:"status"`
	UploadedAt    time.Time          `json:"uploaded_at"`
	Student       *review.StudentRef `json:"student"`
	ClassCode     string             `json:"class_code,omitempty"`
	ActivityType  string             `json:"activity_type,omitempty"`
	ActivityTitle string             `json:"activity_title,omitempty"`
	FileSize      int64              `json:"file_size,omitempty"`
	FileType      string             `json:"file_type,omitempty"`
}

// CatalogSummary counts gallery images by type and status.
type CatalogSummary struct {
	TotalFiles   int            `json:"total_files"`
	Certificates int            `json:"certificates"`
	Activities   int            `json:"activities"`
	StorageFiles int            `json:"storage_files"`
	ByStatus     map[string]int `json:"by_status"`
}

// Catalog is the response of the gallery listing.
type Catalog struct {
	Summary CatalogSummary `json:"summary"`
	Images  []Image        `json:"images"`
}

// Catalog lists every certificate, activity attachment and unreferenced
// storage file, newest first. Nothing is downloaded.
func (e *Exporter) Catalog(ctx context.Context, publicBase string) (*Catalog, error) {
	var (
		certs   []review.Certificate
		acts    []review.Activity
		objects []blob.Object
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		certs, err = e.records.ListCertificates(gctx, review.CertificateQuery{})
		return errors.Wrap(err, "failed to fetch certificates")
	})
	g.Go(func() error {
		var err error
		acts, err = e.records.ListActivities(gctx, review.ActivityQuery{})
		return errors.Wrap(err, "failed to fetch activities")
	})
	g.Go(func() error {
		var err error
		objects, err = e.files.List(gctx, "", storageListLimit)
		return errors.Wrap(err, "failed to fetch storage files")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	images := []Image{}
	for _, c := range certs {
		url := c.PublicURL
		if url == "" {
			url = blob.PublicURL(publicBase, c.FilePath)
		}
		images = append(images, Image{
			ID:         c.ID,
			Type:       ImageCertificate,
			Name:       c.IssuedName,
			FilePath:   c.FilePath,
			PublicURL:  url,
			Status:     string(c.Status),
			UploadedAt: c.UploadedAt,
			Student:    c.Student,
			ClassCode:  c.ClassCode,
		})
	}
	for _, a := range acts {
		for i, p := range a.AttachmentPaths {
			images = append(images, Image{
				ID:            fmt.Sprintf("%s-%d", a.ID, i),
				Type:          ImageActivity,
				Name:          fmt.Sprintf("%s - Attachment %d", a.Title, i+1),
				FilePath:      p,
				PublicURL:     blob.PublicURL(publicBase, p),
				Status:        string(a.Status),
				UploadedAt:    a.CreatedAt,
				Student:       a.Student,
				ActivityType:  a.ActivityType,
				ActivityTitle: a.Title,
			})
		}
	}
	referenced := referencedPaths(certs, acts)
	for _, obj := range objects {
		if referenced[obj.Key] || !otherFileTypes.MatchString(obj.Key) {
			continue
		}
		images = append(images, Image{
			ID:         "storage-" + obj.Key,
			Type:       ImageStorage,
			Name:       obj.Key,
			FilePath:   obj.Key,
			PublicURL:  blob.PublicURL(publicBase, obj.Key),
			Status:     "unknown",
			UploadedAt: obj.UpdatedAt,
			FileSize:   obj.Size,
			FileType:   obj.ContentType,
		})
	}

	sort.SliceStable(images, func(i, j int) bool {
		return images[i].UploadedAt.After(images[j].UploadedAt)
	})

	sum := CatalogSummary{
		TotalFiles: len(images),
		ByStatus:   map[string]int{"pending": 0, "approved": 0, "rejected": 0, "unknown": 0},
	}
	for _, img := range images {
		switch img.Type {
		case ImageCertificate:
			sum.Certificates++
		case ImageActivity:
			sum.Activities++
		case ImageStorage:
			sum.StorageFiles++
		}
		sum.ByStatus[img.Status]++
	}
	return &Catalog{Summary: sum, Images: images}, nil
}
