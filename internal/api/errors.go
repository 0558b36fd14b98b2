package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"cocred/internal/auth"
	"cocred/internal/blob"
	"cocred/internal/cloudinary"
	"cocred/internal/event"
	"cocred/internal/review"
	"cocred/internal/roster"
	"cocred/internal/upload"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{review.ErrInvalidStatus, http.StatusBadRequest},
	{review.ErrInvalidActivity, http.StatusBadRequest},
	{review.ErrMissingFile, http.StatusBadRequest},
	{upload.ErrEmptyFile, http.StatusBadRequest},
	{upload.ErrFileType, http.StatusBadRequest},
	{roster.ErrInvalidClassCode, http.StatusBadRequest},
	{roster.ErrUnknownAuthorityType, http.StatusBadRequest},
	{roster.ErrMissingEmail, http.StatusBadRequest},
	{event.ErrInvalid, http.StatusBadRequest},
	{event.ErrDateFormat, http.StatusBadRequest},
	{cloudinary.ErrUnknownKind, http.StatusBadRequest},
	{cloudinary.ErrNotImage, http.StatusBadRequest},
	{auth.ErrUnknownRole, http.StatusBadRequest},
	{upload.ErrFileTooLarge, http.StatusRequestEntityTooLarge},
	{auth.ErrInvalidToken, http.StatusUnauthorized},
	{auth.ErrWrongToken, http.StatusUnauthorized},
	{auth.ErrRefreshRejected, http.StatusUnauthorized},
	{upload.ErrForbidden, http.StatusForbidden},
	{auth.ErrRoleNotGranted, http.StatusForbidden},
	{review.ErrNotFound, http.StatusNotFound},
	{review.ErrNoClassCode, http.StatusNotFound},
	{roster.ErrStudentNotFound, http.StatusNotFound},
	{roster.ErrFacultyNotFound, http.StatusNotFound},
	{event.ErrNotFound, http.StatusNotFound},
	{blob.ErrNotFound, http.StatusNotFound},
	{event.ErrKeyInUse, http.StatusConflict},
	{auth.ErrGoogleNotEnabled, http.StatusServiceUnavailable},
	{cloudinary.ErrNotConfigured, http.StatusServiceUnavailable},
}

// statusFor maps a service error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// writeError renders err as {"error": ...}. Server errors are logged and
// answered with fallback so internals do not leak.
func (h *Handler) writeError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg(fallback)
		c.JSON(status, gin.H{"error": fallback})
		return
	}
	msg := err.Error()
	if status == http.StatusUnauthorized {
		msg = "invalid token"
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
