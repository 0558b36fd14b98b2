package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"cocred/internal/auth"
	"cocred/internal/authority"
	"cocred/internal/review"
	"cocred/internal/roster"
	"cocred/internal/upload"
)

// userID returns the subject of the authenticated token.
func userID(c *gin.Context) string {
	claims, _ := auth.ClaimsFrom(c)
	return claims.Subject
}

// readPart reads one uploaded file, stopping one byte past limit so oversize
// files are still detected by validation.
func readPart(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if limit <= 0 {
		limit = upload.DefaultMaxBytes
	}
	return io.ReadAll(io.LimitReader(f, limit+1))
}

// ---------- Roster ----------

func (h *Handler) AuthorityRoles(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"roles": authority.Roles()})
}

func (h *Handler) RegisterFaculty(c *gin.Context) {
	var req roster.NewFaculty
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	f, err := h.d.Roster.RegisterFaculty(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to register faculty")
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (h *Handler) FacultyProfile(c *gin.Context) {
	f, err := h.d.Roster.Faculty(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err, "failed to fetch faculty")
		return
	}
	c.JSON(http.StatusOK, gin.H{"faculty": f, "features": authority.Features(f.AuthorityType)})
}

// ClassCode returns the caller's class code, creating it on first use.
func (h *Handler) ClassCode(c *gin.Context) {
	code, err := h.d.Roster.CreateOrGetFacultyClassCode(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err, "failed to create class code")
		return
	}
	c.JSON(http.StatusOK, gin.H{"class_code": code})
}

func (h *Handler) UpdatePermissions(c *gin.Context) {
	var p authority.Permissions
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	f, err := h.d.Roster.UpdatePermissions(c.Request.Context(), userID(c), p)
	if err != nil {
		h.writeError(c, err, "failed to update permissions")
		return
	}
	c.JSON(http.StatusOK, f)
}

func (h *Handler) ListStudents(c *gin.Context) {
	code, ok := h.classCode(c)
	if !ok {
		return
	}
	students, err := h.d.Roster.ListStudents(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, err, "failed to list students")
		return
	}
	if students == nil {
		students = []roster.Student{}
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) StudentProfile(c *gin.Context) {
	st, err := h.d.Roster.StudentForUser(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err, "failed to fetch student")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) JoinClass(c *gin.Context) {
	var req roster.JoinParams
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.UserID = userID(c)
	id, err := h.d.Roster.JoinClass(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to join class")
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": id})
}

// ---------- Review ----------

type statusRequest struct {
	Status   string `json:"status" binding:"required"`
	Feedback string `json:"feedback"`
	Comment  string `json:"comment"`
}

func bindStatus(c *gin.Context) (statusRequest, review.Status, bool) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return req, "", false
	}
	st, err := review.ParseStatus(req.Status)
	if err != nil || !st.Terminal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": review.ErrInvalidStatus.Error()})
		return req, "", false
	}
	return req, st, true
}

func (h *Handler) UpdateCertificateStatus(c *gin.Context) {
	req, st, ok := bindStatus(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := h.d.Reviews.UpdateCertificateStatus(c.Request.Context(), id, st, req.Feedback); err != nil {
		h.writeError(c, err, "failed to update certificate status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": st})
}

func (h *Handler) UpdateActivityStatus(c *gin.Context) {
	req, st, ok := bindStatus(c)
	if !ok {
		return
	}
	a, err := h.d.Reviews.UpdateActivityStatus(c.Request.Context(), c.Param("id"), st, req.Comment)
	if err != nil {
		h.writeError(c, err, "failed to update activity status")
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) FacultyCertificates(c *gin.Context) {
	certs, err := h.d.Reviews.ListForFaculty(c.Request.Context(), userID(c), c.Query("status"))
	if err != nil {
		h.writeError(c, err, "failed to fetch certificates")
		return
	}
	if certs == nil {
		certs = []review.Certificate{}
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs})
}

func (h *Handler) StudentCertificates(c *gin.Context) {
	certs, err := h.d.Reviews.ListStudentCertificates(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err, "failed to fetch certificates")
		return
	}
	if certs == nil {
		certs = []review.Certificate{}
	}
	c.JSON(http.StatusOK, gin.H{"certificates": certs})
}

func (h *Handler) PendingActivities(c *gin.Context) {
	acts, err := h.d.Reviews.ListPendingActivities(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "failed to fetch activities")
		return
	}
	if acts == nil {
		acts = []review.Activity{}
	}
	c.JSON(http.StatusOK, gin.H{"activities": acts})
}

func (h *Handler) StudentActivities(c *gin.Context) {
	acts, err := h.d.Reviews.ListStudentActivities(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err, "failed to fetch activities")
		return
	}
	if acts == nil {
		acts = []review.Activity{}
	}
	c.JSON(http.StatusOK, gin.H{"activities": acts})
}

// SubmitCertificate accepts either a multipart "file" with an optional
// issued_name, or JSON pointing at an already uploaded file.
func (h *Handler) SubmitCertificate(c *gin.Context) {
	var (
		nc   review.NewCertificate
		file *review.Attachment
	)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
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
		file = &review.Attachment{Name: fh.Filename, Data: data}
		nc.IssuedName = c.PostForm("issued_name")
	} else if err := c.ShouldBindJSON(&nc); err != nil {
		badRequest(c, err)
		return
	}
	nc.UserID = userID(c)
	cert, err := h.d.Reviews.SubmitCertificate(c.Request.Context(), nc, file)
	if err != nil {
		h.writeError(c, err, "failed to submit certificate")
		return
	}
	c.JSON(http.StatusCreated, cert)
}

// SubmitActivity takes a form (multipart or urlencoded) with any number of
// "attachments" files.
func (h *Handler) SubmitActivity(c *gin.Context) {
	var in review.NewActivity
	if err := c.ShouldBind(&in); err != nil {
		badRequest(c, err)
		return
	}
	if form, err := c.MultipartForm(); err == nil {
		for _, fh := range form.File["attachments"] {
			data, err := readPart(fh, h.d.Config.UploadMaxBytes)
			if err != nil {
				h.writeError(c, errors.Wrap(err, "read attachment"), "failed to read attachment")
				return
			}
			in.Attachments = append(in.Attachments, review.Attachment{Name: fh.Filename, Data: data})
		}
	}
	a, err := h.d.Reviews.SubmitActivity(c.Request.Context(), userID(c), in)
	if err != nil {
		h.writeError(c, err, "failed to submit activity")
		return
	}
	c.JSON(http.StatusCreated, a)
}

// classCode resolves the class_code query parameter, defaulting to the
// caller's own class.
func (h *Handler) classCode(c *gin.Context) (string, bool) {
	if code := c.Query("class_code"); code != "" {
		return strings.ToUpper(code), true
	}
	f, err := h.d.Roster.Faculty(c.Request.Context(), userID(c))
	if err != nil {
		h.writeError(c, err, "failed to fetch faculty")
		return "", false
	}
	if f.ClassCode == "" {
		h.writeError(c, review.ErrNoClassCode, "")
		return "", false
	}
	return f.ClassCode, true
}

func (h *Handler) Stats(c *gin.Context) {
	code, ok := h.classCode(c)
	if !ok {
		return
	}
	st, err := h.d.Reviews.Stats(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, err, "failed to fetch stats")
		return
	}
	c.JSON(http.StatusOK, st)
}

// ---------- Analytics ----------

func (h *Handler) Dashboard(c *gin.Context) {
	code, ok := h.classCode(c)
	if !ok {
		return
	}
	d, err := h.d.Analytics.Dashboard(c.Request.Context(), code)
	if err != nil {
		h.writeError(c, err, "failed to build dashboard")
		return
	}
	c.JSON(http.StatusOK, d)
}
