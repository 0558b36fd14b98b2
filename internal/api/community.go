package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"cocred/internal/event"
	"cocred/internal/export"
	"cocred/internal/portfolio"
)

// ---------- Events ----------

func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.d.Events.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "failed to list events")
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) EventByKey(c *gin.Context) {
	e, err := h.d.Events.ByKey(c.Request.Context(), c.Param("key"))
	if err != nil {
		h.writeError(c, err, "failed to fetch event")
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) CreateEvent(c *gin.Context) {
	var req event.Event
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, err := h.d.Events.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err, "failed to create event")
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) DeleteEvent(c *gin.Context) {
	if err := h.d.Events.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err, "failed to delete event")
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- Notifications ----------

func (h *Handler) ListNotifications(c *gin.Context) {
	list, err := h.d.Notifications.List(c.Request.Context(), userID(c), c.Query("unread") == "true")
	if err != nil {
		h.writeError(c, err, "failed to fetch notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

type markReadRequest struct {
	IDs []string `json:"ids"`
}

// MarkNotificationsRead marks the listed notifications read, or all when none are listed.
func (h *Handler) MarkNotificationsRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	n, err := h.d.Notifications.MarkRead(c.Request.Context(), userID(c), req.IDs)
	if err != nil {
		h.writeError(c, err, "failed to update notifications")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// ---------- Portfolio ----------

func (h *Handler) Portfolio(c *gin.Context) {
	p, err := h.d.Portfolios.Build(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		h.writeError(c, err, "failed to build portfolio")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) PortfolioPDF(c *gin.Context) {
	p, err := h.d.Portfolios.Build(c.Request.Context(), c.Param("studentId"))
	if err != nil {
		h.writeError(c, err, "failed to build portfolio")
		return
	}
	data, err := portfolio.RenderPDF(p)
	if err != nil {
		h.writeError(c, err, "failed to render portfolio")
		return
	}
	name := export.SanitizeTitle(strings.TrimSpace(p.Student.FullName))
	if name == "" {
		name = p.Student.ID
	}
	c.Header("Content-Disposition", `attachment; filename="portfolio_`+name+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", data)
}

func (h *Handler) PortfolioQR(c *gin.Context) {
	png, err := portfolio.QRCode(h.d.Portfolios.ShareURL(c.Param("studentId")), portfolio.DefaultQRSize)
	if err != nil {
		h.writeError(c, err, "failed to render qr code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
