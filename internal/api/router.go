package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cocred/internal/auth"
	"cocred/internal/httpmiddleware"
	"cocred/internal/logger"
)

// Headers a client sends to identify its session namespace and current page.
const (
	HeaderNamespace  = "X-Session-Namespace"
	HeaderClientPath = "X-Client-Path"
)

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(h *Handler) *gin.Engine {
	cfg := h.d.Config

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.AccessLog(logger.Component("http"), "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", HeaderNamespace, HeaderClientPath},
		ExposeHeaders:    []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	if cfg.RateLimitPerMin > 0 {
		r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).PerIP())
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.Healthz)

	authn := auth.Authenticate(cfg.JWTSigningKey, cfg.JWTIssuer)
	student := auth.RequireRole(auth.RoleStudent)
	faculty := auth.RequireRole(auth.RoleTeacher, auth.RoleAuthority)

	sessions := r.Group("/v1/auth")
	{
		sessions.POST("/google", h.SignInGoogle)
		sessions.POST("/refresh", h.Refresh)
		sessions.POST("/logout", authn, h.Logout)
		sessions.GET("/session", authn, h.Session)
		sessions.POST("/state", authn, h.State)
		sessions.GET("/stream", authn, h.Stream)
	}

	r.GET("/v1/portfolio/:studentId", h.Portfolio)
	r.GET("/v1/portfolio/:studentId/pdf", h.PortfolioPDF)
	r.GET("/v1/portfolio/:studentId/qr", h.PortfolioQR)

	v1 := r.Group("/v1", authn)
	{
		v1.GET("/authority/roles", h.AuthorityRoles)
		v1.POST("/faculty", auth.RequireRole(auth.RoleAuthority), h.RegisterFaculty)
		v1.GET("/faculty/me", faculty, h.FacultyProfile)
		v1.POST("/faculty/class-code", faculty, h.ClassCode)
		v1.PUT("/faculty/permissions", faculty, h.UpdatePermissions)
		v1.GET("/students", faculty, h.ListStudents)
		v1.GET("/students/me", student, h.StudentProfile)
		v1.POST("/classes/join", student, h.JoinClass)

		v1.GET("/certificates", faculty, h.FacultyCertificates)
		v1.GET("/certificates/mine", student, h.StudentCertificates)
		v1.POST("/certificates", student, h.SubmitCertificate)
		v1.PUT("/certificates/:id/status", faculty, h.UpdateCertificateStatus)
		v1.GET("/activities/pending", faculty, h.PendingActivities)
		v1.GET("/activities/mine", student, h.StudentActivities)
		v1.POST("/activities", student, h.SubmitActivity)
		v1.PUT("/activities/:id/status", faculty, h.UpdateActivityStatus)
		v1.GET("/stats", faculty, h.Stats)
		v1.GET("/analytics/dashboard", faculty, h.Dashboard)

		v1.POST("/files", h.UploadFile)
		v1.GET("/files", h.ListFiles)
		v1.GET("/files/*path", h.DownloadFile)
		v1.DELETE("/files/*path", h.DeleteFile)
		v1.POST("/profile/image", student, h.ProfileImage)

		v1.GET("/events", h.ListEvents)
		v1.GET("/events/:key", h.EventByKey)
		v1.POST("/events", faculty, h.CreateEvent)
		v1.DELETE("/events/:id", faculty, h.DeleteEvent)

		v1.GET("/notifications", student, h.ListNotifications)
		v1.POST("/notifications/read", student, h.MarkNotificationsRead)
	}

	images := r.Group("/api/images", authn, faculty)
	{
		images.GET("/bulk-export", h.BulkExportAll)
		images.POST("/bulk-export", h.BulkExport)
		images.GET("/view-all", h.ViewAll)
	}

	return r
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.d.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
