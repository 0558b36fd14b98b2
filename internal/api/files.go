package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"cocred/internal/export"
	"cocred/internal/upload"
)

// ---------- Files ----------

func (h *Handler) UploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	data, err := readPart(fh, h.d.Config.UploadMaxBytes)
	if err != nil {
		h.writeError(c, errors.Wrap(err, "read upload"), "failed to read file")
		return
	}
	res, err := h.d.Files.Upload(c.Request.Context(), userID(c), fh.Filename, data)
	if err != nil {
		h.writeError(c, err, "upload failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"path":           res.Path,
		"public_url":     res.PublicURL,
		"file_name":      res.FileName,
		"file_size":      res.Size,
		"file_type":      res.Type,
		"formatted_size": upload.FormatSize(res.Size),
	})
}

func (h *Handler) ListFiles(c *gin.Context) {
	files, err := h.d.Files.List(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err, "failed to list files")
		return
	}
	if files == nil {
		files = []upload.File{}
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

func (h *Handler) DownloadFile(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	data, err := h.d.Files.Download(c.Request.Context(), userID(c), path)
	if err != nil {
		h.writeError(c, err, "download failed")
		return
	}
	name := path[strings.LastIndex(path, "/")+1:]
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, mimetype.Detect(data).String(), data)
}

func (h *Handler) DeleteFile(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if err := h.d.Files.Delete(c.Request.Context(), userID(c), path); err != nil {
		h.writeError(c, err, "delete failed")
		return
	}
	c.Status(http.StatusNoContent)
}

// ProfileImage stores a student's photo or signature on the image CDN.
func (h *Handler) ProfileImage(c *gin.Context) {
	ctx := c.Request.Context()
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
		return
	}
	st, err := h.d.Roster.StudentForUser(ctx, userID(c))
	if err != nil {
		h.writeError(c, err, "failed to fetch student")
		return
	}
	data, err := readPart(fh, h.d.Config.UploadMaxBytes)
	if err != nil {
		h.writeError(c, errors.Wrap(err, "read upload"), "failed to read file")
		return
	}
	kind := c.DefaultPostForm("kind", "photo")
	res, err := h.d.Profiles.Upload(ctx, st.ID, kind, fh.Filename, data)
	if err != nil {
		h.writeError(c, err, "image upload failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"kind":      kind,
		"url":       res.SecureURL,
		"public_id": res.PublicID,
		"width":     res.Width,
		"height":    res.Height,
		"bytes":     res.Bytes,
	})
}

// ---------- Bulk export ----------

func (h *Handler) writeArchive(c *gin.Context, a *export.Archive) {
	c.Header("Content-Disposition", `attachment; filename="`+a.FileName+`"`)
	c.Header("Content-Length", strconv.Itoa(len(a.Data)))
	c.Data(http.StatusOK, "application/zip", a.Data)
}

// BulkExportAll zips every record's files plus unreferenced storage files.
func (h *Handler) BulkExportAll(c *gin.Context) {
	a, err := h.d.Exporter.ExportAll(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "failed to create export")
		return
	}
	h.writeArchive(c, a)
}

// BulkExport zips the files of the records selected by the JSON filter.
func (h *Handler) BulkExport(c *gin.Context) {
	var f export.Filter
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&f); err != nil {
			badRequest(c, err)
			return
		}
	}
	f.IncludeOther = false
	a, err := h.d.Exporter.Export(c.Request.Context(), f)
	if err != nil {
		h.writeError(c, err, "failed to create filtered export")
		return
	}
	h.writeArchive(c, a)
}

// ViewAll lists every stored file with its public URL.
func (h *Handler) ViewAll(c *gin.Context) {
	cat, err := h.d.Exporter.Catalog(c.Request.Context(), h.d.Config.PublicBaseURL)
	if err != nil {
		h.writeError(c, err, "failed to fetch images")
		return
	}
	c.JSON(http.StatusOK, cat)
}
