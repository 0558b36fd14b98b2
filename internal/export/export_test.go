package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cocred/internal/blob"
	"cocred/internal/review"
)

type fakeRecords struct {
	certs    []review.Certificate
	acts     []review.Activity
	students map[string]string // college id -> internal id
	certErr  error

	lastCertQ review.CertificateQuery
	lastActQ  review.ActivityQuery
}

func (f *fakeRecords) ListCertificates(_ context.Context, q review.CertificateQuery) ([]review.Certificate, error) {
	f.lastCertQ = q
	if f.certErr != nil {
		return nil, f.certErr
	}
	var out []review.Certificate
	for _, c := range f.certs {
		if len(q.IDs) > 0 && !has(q.IDs, c.ID) {
			continue
		}
		if q.Status != "" && c.Status != q.Status {
			continue
		}
		if len(q.StudentIDs) > 0 && !has(q.StudentIDs, c.StudentID) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRecords) ListActivities(_ context.Context, q review.ActivityQuery) ([]review.Activity, error) {
	f.lastActQ = q
	var out []review.Activity
	for _, a := range f.acts {
		if len(q.IDs) > 0 && !has(q.IDs, a.ID) {
			continue
		}
		if q.Status != "" && a.Status != q.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeRecords) ResolveStudentIDs(_ context.Context, collegeIDs []string) ([]string, error) {
	var ids []string
	for _, c := range collegeIDs {
		if id, ok := f.students[c]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func has(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func put(t *testing.T, s *blob.Memory, key string) {
	t.Helper()
	require.NoError(t, s.Upload(context.Background(), key, strings.NewReader("data:"+key), "application/pdf"))
}

func readArchive(t *testing.T, a *Archive) (map[string][]byte, Metadata) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(a.Data), int64(len(a.Data)))
	require.NoError(t, err)
	files := map[string][]byte{}
	var meta Metadata
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		if f.Name == "metadata.json" {
			require.NoError(t, json.Unmarshal(data, &meta))
			continue
		}
		files[f.Name] = data
	}
	return files, meta
}

func newExporter(rec Records, store blob.Storage, max int) *Exporter {
	e := NewExporter(rec, store, max)
	e.now = func() time.Time { return time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC) }
	return e
}

func TestFilteredExportSkipsFailedDownload(t *testing.T) {
	store := blob.NewMemory()
	stu := &review.StudentRef{ID: "s1", CollegeID: "C001", FullName: "Asha", Email: "asha@example.edu"}
	rec := &fakeRecords{certs: []review.Certificate{
		{ID: "c1", StudentID: "s1", FilePath: "s1/a.pdf", IssuedName: "AI Course", Status: review.StatusApproved, Student: stu},
		{ID: "c2", StudentID: "s1", FilePath: "s1/b.png", IssuedName: "Hack-a-thon 2024", Status: review.StatusApproved, Student: stu},
		{ID: "c3", StudentID: "s1", FilePath: "s1/c.pdf", IssuedName: "Lost", Status: review.StatusApproved, Student: stu},
	}}
	put(t, store, "s1/a.pdf")
	put(t, store, "s1/b.png")
	put(t, store, "s1/c.pdf")
	store.FailDownload("s1/c.pdf", errors.New("storage timeout"))

	arch, err := newExporter(rec, store, 0).Export(context.Background(), Filter{StatusFilter: "approved"})
	require.NoError(t, err)
	assert.Equal(t, "filtered_export_2024-03-09.zip", arch.FileName)

	files, meta := readArchive(t, arch)
	assert.Len(t, files, 2)
	assert.Contains(t, files, "certificates/C001_AI_Course_c1.pdf")
	assert.Contains(t, files, "certificates/C001_Hack_a_thon_2024_c2.png")
	assert.Equal(t, 2, meta.TotalFiles)
	assert.Len(t, meta.Files, 2)
	assert.Nil(t, meta.Summary)
	require.NotNil(t, meta.FiltersApplied)
	require.NotNil(t, meta.FiltersApplied.StatusFilter)
	assert.Equal(t, "approved", *meta.FiltersApplied.StatusFilter)
	assert.Nil(t, meta.FiltersApplied.FileIDs)
	for _, e := range meta.Files {
		assert.NotEqual(t, "s1/c.pdf", e.FilePath)
	}
}

func TestExportCapsFiles(t *testing.T) {
	store := blob.NewMemory()
	rec := &fakeRecords{}
	for i := 0; i < 120; i++ {
		path := fmt.Sprintf("s/cert-%03d.pdf", i)
		put(t, store, path)
		rec.certs = append(rec.certs, review.Certificate{ID: fmt.Sprintf("c%03d", i), FilePath: path, IssuedName: "x", Status: review.StatusPending})
	}
	rec.acts = []review.Activity{{ID: "a1", Title: "t", AttachmentPaths: []string{"s/cert-000.pdf"}}}

	for _, f := range []Filter{{}, {IncludeOther: true}} {
		arch, err := newExporter(rec, store, 0).Export(context.Background(), f)
		require.NoError(t, err)
		files, meta := readArchive(t, arch)
		assert.Len(t, files, DefaultMaxFiles)
		assert.Equal(t, DefaultMaxFiles, meta.TotalFiles)
	}
}

func TestFullExportIncludesOtherFilesAndSummary(t *testing.T) {
	store := blob.NewMemory()
	rec := &fakeRecords{
		certs: []review.Certificate{{ID: "c1", FilePath: "u1/cert.pdf", IssuedName: "Cert", Status: review.StatusPending}},
		acts: []review.Activity{{
			ID: "a1", Title: "Robotics Club", ActivityType: "project", Status: review.StatusApproved,
			Student:         &review.StudentRef{CollegeID: "C9", FullName: "Ravi"},
			AttachmentPaths: []string{"activities/a1_1_0.jpg", "activities/a1_1_1", "activities/missing.pdf"},
		}},
	}
	put(t, store, "u1/cert.pdf")
	put(t, store, "activities/a1_1_0.jpg")
	put(t, store, "activities/a1_1_1")
	put(t, store, "loose/scan.PNG")
	put(t, store, "loose/notes.txt")

	arch, err := newExporter(rec, store, 0).ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "student_files_export_2024-03-09.zip", arch.FileName)

	files, meta := readArchive(t, arch)
	assert.Contains(t, files, "certificates/unknown_Cert_c1.pdf")
	assert.Contains(t, files, "activities/C9_Robotics_Club_a1_1.jpg")
	assert.Contains(t, files, "activities/C9_Robotics_Club_a1_2.pdf")
	assert.Contains(t, files, "other_files/loose/scan.PNG")
	assert.NotContains(t, files, "other_files/loose/notes.txt")
	assert.Equal(t, []byte("data:loose/scan.PNG"), files["other_files/loose/scan.PNG"])

	require.NotNil(t, meta.Summary)
	assert.Nil(t, meta.FiltersApplied)
	assert.Equal(t, Summary{Certificates: 1, Activities: 2, OtherFiles: 1}, *meta.Summary)
	assert.Equal(t, len(files), meta.TotalFiles)

	perFolder := map[string]int{}
	for name := range files {
		perFolder[strings.SplitN(name, "/", 2)[0]]++
	}
	assert.Equal(t, meta.Summary.Certificates, perFolder[FolderCertificates])
	assert.Equal(t, meta.Summary.Activities, perFolder[FolderActivities])
	assert.Equal(t, meta.Summary.OtherFiles, perFolder[FolderOther])

	var act Entry
	for _, e := range meta.Files {
		if e.Folder == FolderActivities {
			act = e
			break
		}
	}
	assert.Equal(t, "Robotics Club - Attachment 1", act.OriginalName)
	assert.Equal(t, "project", act.ActivityType)
	require.NotNil(t, act.StudentID)
	assert.Equal(t, "C9", *act.StudentID)
}

func TestStudentFilterResolution(t *testing.T) {
	store := blob.NewMemory()
	rec := &fakeRecords{students: map[string]string{"C001": "s1"}}

	_, err := newExporter(rec, store, 0).Export(context.Background(), Filter{StudentIDs: []string{"C001", "C404"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, rec.lastCertQ.StudentIDs)
	assert.Equal(t, []string{"s1"}, rec.lastActQ.StudentIDs)

	_, err = newExporter(rec, store, 0).Export(context.Background(), Filter{StudentIDs: []string{"C404"}, StatusFilter: "all"})
	require.NoError(t, err)
	assert.Empty(t, rec.lastCertQ.StudentIDs)
	assert.Empty(t, rec.lastCertQ.Status)
}

func TestExportFailsOnRowFetchError(t *testing.T) {
	rec := &fakeRecords{certErr: errors.New("connection refused")}
	_, err := newExporter(rec, blob.NewMemory(), 0).ExportAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch certificates")
}

func TestEmptyExportHasManifest(t *testing.T) {
	arch, err := newExporter(&fakeRecords{}, blob.NewMemory(), 0).Export(context.Background(), Filter{})
	require.NoError(t, err)
	files, meta := readArchive(t, arch)
	assert.Empty(t, files)
	assert.Equal(t, 0, meta.TotalFiles)
	assert.NotNil(t, meta.Files)
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "Dean_s_List__2023_", SanitizeTitle("Dean's List (2023)"))
	assert.Equal(t, "docx", Extension("a/b.c.docx"))
	assert.Equal(t, "certificates/s1/noext", Extension("certificates/s1/noext"))
	assert.Equal(t, "pdf", Extension("trailing."))
	assert.Equal(t, "pdf", Extension(""))
}

func TestCatalog(t *testing.T) {
	store := blob.NewMemory()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := &fakeRecords{
		certs: []review.Certificate{{ID: "c1", FilePath: "u1/c.pdf", Status: review.StatusApproved, UploadedAt: t0}},
		acts: []review.Activity{{ID: "a1", Title: "Talk", Status: review.StatusPending, CreatedAt: t0.Add(time.Hour),
			AttachmentPaths: []string{"activities/a1.pdf"}}},
	}
	put(t, store, "u1/c.pdf")
	put(t, store, "activities/a1.pdf")
	put(t, store, "loose/p.webp")

	cat, err := newExporter(rec, store, 0).Catalog(context.Background(), "http://cdn.test/b")
	require.NoError(t, err)
	require.Len(t, cat.Images, 3)
	assert.Equal(t, 1, cat.Summary.Certificates)
	assert.Equal(t, 1, cat.Summary.Activities)
	assert.Equal(t, 1, cat.Summary.StorageFiles)
	assert.Equal(t, 1, cat.Summary.ByStatus["unknown"])
	assert.Equal(t, "http://cdn.test/b/u1/c.pdf", findImage(cat, "c1").PublicURL)
	assert.Equal(t, "a1-0", cat.Images[1].ID)
}

func findImage(c *Catalog, id string) Image {
	for _, img := range c.Images {
		if img.ID == id {
			return img
		}
	}
	return Image{}
}
