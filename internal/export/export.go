// Package export builds zip archives of student files with a metadata.json manifest.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"cocred/internal/blob"
	"cocred/internal/logger"
	"cocred/internal/metrics"
	"cocred/internal/review"
)

const (
	FolderCertificates = "certificates"
	FolderActivities   = "activities"
	FolderOther        = "other_files"

	// DefaultMaxFiles caps the number of files in one archive.
	DefaultMaxFiles = 100
	// storageListLimit bounds the storage listing used for other files.
	storageListLimit = 1000
)

var (
	unsafeTitle    = regexp.MustCompile(`[^A-Za-z0-9]`)
	otherFileTypes = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|gif|bmp|webp|pdf|doc|docx)$`)
)

// Records is the row source for an export.
type Records interface {
	ListCertificates(ctx context.Context, q review.CertificateQuery) ([]review.Certificate, error)
	ListActivities(ctx context.Context, q review.ActivityQuery) ([]review.Activity, error)
	ResolveStudentIDs(ctx context.Context, collegeIDs []string) ([]string, error)
}

// Filter narrows an export. Zero value exports everything.
type Filter struct {
	FileIDs      []string `json:"fileIds"`
	StudentIDs   []string `json:"studentIds"`
	StatusFilter string   `json:"statusFilter"`
	// IncludeOther adds unreferenced storage objects and a per-folder summary.
	IncludeOther bool `json:"-"`
}

// Entry is one manifest record in metadata.json.
type Entry struct {
	Folder        string    `json:"folder"`
	OriginalName  string    `json:"original_name"`
	FileName      string    `json:"file_name"`
	StudentID     *string   `json:"student_id"`
	StudentName   *string   `json:"student_name"`
	StudentEmail  *string   `json:"student_email"`
	Status        string    `json:"status"`
	ClassCode     string    `json:"class_code,omitempty"`
	ActivityType  string    `json:"activity_type,omitempty"`
	ActivityTitle string    `json:"activity_title,omitempty"`
	UploadedAt    time.Time `json:"uploaded_at"`
	FilePath      string    `json:"file_path"`
	FileSize      int64     `json:"file_size,omitempty"`
	FileType      string    `json:"file_type,omitempty"`
}

// Summary counts manifest entries per folder.
type Summary struct {
	Certificates int `json:"certificates"`
	Activities   int `json:"activities"`
	OtherFiles   int `json:"other_files"`
}

// FiltersApplied echoes the request filters; absent filters are null.
type FiltersApplied struct {
	FileIDs      []string `json:"fileIds"`
	StudentIDs   []string `json:"studentIds"`
	StatusFilter *string  `json:"statusFilter"`
}

// Metadata is written as metadata.json at the archive root.
type Metadata struct {
	ExportDate     time.Time       `json:"export_date"`
	TotalFiles     int             `json:"total_files"`
	Summary        *Summary        `json:"summary,omitempty"`
	FiltersApplied *FiltersApplied `json:"filters_applied,omitempty"`
	Files          []Entry         `json:"files"`
}

// Archive is a finished export.
type Archive struct {
	FileName string
	Data     []byte
	Metadata Metadata
}

// Exporter assembles archives from rows and blob storage.
type Exporter struct {
	records  Records
	files    blob.Storage
	maxFiles int
	now      func() time.Time
	log      zerolog.Logger
}

func NewExporter(records Records, files blob.Storage, maxFiles int) *Exporter {
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	return &Exporter{
		records:  records,
		files:    files,
		maxFiles: maxFiles,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger.Component("export"),
	}
}

type fileData struct {
	name string
	data []byte
}

// builder accumulates archive members up to the file cap.
type builder struct {
	max     int
	members []fileData
	entries []Entry
}

func (b *builder) full() bool { return len(b.entries) >= b.max }

func (b *builder) add(e Entry, data []byte) {
	b.members = append(b.members, fileData{name: e.Folder + "/" + e.FileName, data: data})
	b.entries = append(b.entries, e)
	metrics.ExportedFiles.WithLabelValues(e.Folder, "included").Inc()
}

// ExportAll exports every record plus unreferenced storage objects.
func (e *Exporter) ExportAll(ctx context.Context) (*Archive, error) {
	return e.Export(ctx, Filter{IncludeOther: true})
}

// Export fetches matching rows, downloads their files one at a time and
// returns the zip. Row fetch failures abort; download failures skip the file.
func (e *Exporter) Export(ctx context.Context, f Filter) (*Archive, error) {
	start := time.Now()
	defer func() { metrics.ExportDuration.Observe(time.Since(start).Seconds()) }()

	certQ, actQ, err := e.queries(ctx, f)
	if err != nil {
		return nil, err
	}

	var (
		certs   []review.Certificate
		acts    []review.Activity
		objects []blob.Object
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		certs, err = e.records.ListCertificates(gctx, certQ)
		return errors.Wrap(err, "failed to fetch certificates")
	})
	g.Go(func() error {
		var err error
		acts, err = e.records.ListActivities(gctx, actQ)
		return errors.Wrap(err, "failed to fetch activities")
	})
	if f.IncludeOther {
		g.Go(func() error {
			var err error
			objects, err = e.files.List(gctx, "", storageListLimit)
			return errors.Wrap(err, "failed to fetch storage files")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := &builder{max: e.maxFiles}
	e.addCertificates(ctx, b, certs)
	e.addActivities(ctx, b, acts)
	if f.IncludeOther {
		e.addOther(ctx, b, objects, referencedPaths(certs, acts))
	}

	now := e.now()
	meta := Metadata{
		ExportDate: now,
		TotalFiles: len(b.entries),
		Files:      b.entries,
	}
	name := "filtered_export_" + now.Format("2006-01-02") + ".zip"
	if f.IncludeOther {
		meta.Summary = summarize(b.entries)
		name = "student_files_export_" + now.Format("2006-01-02") + ".zip"
	} else {
		meta.FiltersApplied = applied(f)
	}
	if meta.Files == nil {
		meta.Files = []Entry{}
	}

	data, err := writeZip(b.members, meta, f.IncludeOther)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int("total_files", meta.TotalFiles).Int("bytes", len(data)).Msg("export built")
	return &Archive{FileName: name, Data: data, Metadata: meta}, nil
}

func (e *Exporter) queries(ctx context.Context, f Filter) (review.CertificateQuery, review.ActivityQuery, error) {
	var (
		cq review.CertificateQuery
		aq review.ActivityQuery
	)
	if len(f.FileIDs) > 0 {
		cq.IDs = f.FileIDs
		aq.IDs = f.FileIDs
	}
	if f.StatusFilter != "" && f.StatusFilter != "all" {
		cq.Status = review.Status(f.StatusFilter)
		aq.Status = review.Status(f.StatusFilter)
	}
	if len(f.StudentIDs) > 0 {
		ids, err := e.records.ResolveStudentIDs(ctx, f.StudentIDs)
		if err != nil {
			return cq, aq, errors.Wrap(err, "failed to resolve students")
		}
		// No match leaves the student filter unapplied.
		if len(ids) > 0 {
			cq.StudentIDs = ids
			aq.StudentIDs = ids
		}
	}
	return cq, aq, nil
}

func (e *Exporter) download(ctx context.Context, folder, path string) ([]byte, bool) {
	data, err := blob.ReadAll(ctx, e.files, path)
	if err != nil {
		e.log.Warn().Err(err).Str("path", path).Str("folder", folder).Msg("export file skipped")
		metrics.ExportedFiles.WithLabelValues(folder, "failed").Inc()
		return nil, false
	}
	return data, true
}

func (e *Exporter) addCertificates(ctx context.Context, b *builder, certs []review.Certificate) {
	for _, c := range certs {
		if b.full() {
			metrics.ExportedFiles.WithLabelValues(FolderCertificates, "capped").Inc()
			return
		}
		data, ok := e.download(ctx, FolderCertificates, c.FilePath)
		if !ok {
			continue
		}
		entry := Entry{
			Folder:       FolderCertificates,
			OriginalName: c.IssuedName,
			FileName:     fmt.Sprintf("%s_%s_%s.%s", studentKey(c.Student), SanitizeTitle(c.IssuedName), c.ID, Extension(c.FilePath)),
			Status:       string(c.Status),
			ClassCode:    c.ClassCode,
			UploadedAt:   c.UploadedAt,
			FilePath:     c.FilePath,
			FileSize:     int64(len(data)),
		}
		setStudent(&entry, c.Student)
		b.add(entry, data)
	}
}

func (e *Exporter) addActivities(ctx context.Context, b *builder, acts []review.Activity) {
	for _, a := range acts {
		for i, path := range a.AttachmentPaths {
			if b.full() {
				metrics.ExportedFiles.WithLabelValues(FolderActivities, "capped").Inc()
				return
			}
			data, ok := e.download(ctx, FolderActivities, path)
			if !ok {
				continue
			}
			n := i + 1
			entry := Entry{
				Folder:        FolderActivities,
				OriginalName:  fmt.Sprintf("%s - Attachment %d", a.Title, n),
				FileName:      fmt.Sprintf("%s_%s_%s_%d.%s", studentKey(a.Student), SanitizeTitle(a.Title), a.ID, n, Extension(path)),
				Status:        string(a.Status),
				ActivityType:  a.ActivityType,
				ActivityTitle: a.Title,
				UploadedAt:    a.CreatedAt,
				FilePath:      path,
				FileSize:      int64(len(data)),
			}
			setStudent(&entry, a.Student)
			b.add(entry, data)
		}
	}
}

func (e *Exporter) addOther(ctx context.Context, b *builder, objects []blob.Object, referenced map[string]bool) {
	for _, obj := range objects {
		if referenced[obj.Key] || !otherFileTypes.MatchString(obj.Key) {
			continue
		}
		if b.full() {
			metrics.ExportedFiles.WithLabelValues(FolderOther, "capped").Inc()
			return
		}
		data, ok := e.download(ctx, FolderOther, obj.Key)
		if !ok {
			continue
		}
		b.add(Entry{
			Folder:       FolderOther,
			OriginalName: obj.Key,
			FileName:     obj.Key,
			Status:       "unknown",
			UploadedAt:   obj.UpdatedAt,
			FilePath:     obj.Key,
			FileSize:     obj.Size,
			FileType:     obj.ContentType,
		}, data)
	}
}

func referencedPaths(certs []review.Certificate, acts []review.Activity) map[string]bool {
	seen := make(map[string]bool, len(certs)+len(acts))
	for _, c := range certs {
		seen[c.FilePath] = true
	}
	for _, a := range acts {
		for _, p := range a.AttachmentPaths {
			seen[p] = true
		}
	}
	return seen
}

func summarize(entries []Entry) *Summary {
	var s Summary
	for _, e := range entries {
		switch e.Folder {
		case FolderCertificates:
			s.Certificates++
		case FolderActivities:
			s.Activities++
		case FolderOther:
			s.OtherFiles++
		}
	}
	return &s
}

func applied(f Filter) *FiltersApplied {
	fa := &FiltersApplied{}
	if len(f.FileIDs) > 0 {
		fa.FileIDs = f.FileIDs
	}
	if len(f.StudentIDs) > 0 {
		fa.StudentIDs = f.StudentIDs
	}
	if f.StatusFilter != "" {
		s := f.StatusFilter
		fa.StatusFilter = &s
	}
	return fa
}

func writeZip(members []fileData, meta Metadata, withOther bool) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	folders := []string{FolderCertificates, FolderActivities}
	if withOther {
		folders = append(folders, FolderOther)
	}
	for _, dir := range folders {
		if _, err := zw.Create(dir + "/"); err != nil {
			return nil, errors.Wrap(err, "create folder")
		}
	}
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			return nil, errors.Wrapf(err, "add %s", m.name)
		}
		if _, err := w.Write(m.data); err != nil {
			return nil, errors.Wrapf(err, "write %s", m.name)
		}
	}

	manifest, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}
	w, err := zw.Create("metadata.json")
	if err != nil {
		return nil, errors.Wrap(err, "add metadata")
	}
	if _, err := w.Write(manifest); err != nil {
		return nil, errors.Wrap(err, "write metadata")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "finish archive")
	}
	return buf.Bytes(), nil
}

// SanitizeTitle replaces every character outside A-Z, a-z and 0-9 with an underscore.
func SanitizeTitle(s string) string {
	return unsafeTitle.ReplaceAllString(s, "_")
}

// Extension returns the text after the last dot of path. A path without a dot
// is returned whole; an empty result becomes pdf.
func Extension(path string) string {
	ext := path[strings.LastIndex(path, ".")+1:]
	if ext == "" {
		return "pdf"
	}
	return ext
}

func studentKey(s *review.StudentRef) string {
	if s == nil || s.CollegeID == "" {
		return "unknown"
	}
	return s.CollegeID
}

func setStudent(e *Entry, s *review.StudentRef) {
	if s == nil {
		return
	}
	e.StudentID = &s.CollegeID
	e.StudentName = &s.FullName
	e.StudentEmail = &s.Email
}
