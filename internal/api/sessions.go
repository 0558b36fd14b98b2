package api

import (
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"cocred/internal/auth"
	"cocred/internal/session"
)

const defaultClient = "web"

// clientPattern bounds the client id a caller may put in X-Session-Namespace.
var clientPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// SessionNamespace scopes saved session state to one user on one client.
func SessionNamespace(subject, client string) string {
	if !clientPattern.MatchString(client) {
		client = defaultClient
	}
	return subject + ":" + client
}

// EventVisible asks the server to re-validate the session as a client regains focus.
const EventVisible = "VISIBLE"

// EventPendingUserType stores the role picked before an OAuth redirect.
const EventPendingUserType = "PENDING_USER_TYPE"

// ---------- Sessions ----------

// manager builds the session manager of subject's calling client. The
// namespace header only selects the client; the subject always comes from a
// verified token.
func (h *Handler) manager(c *gin.Context, subject string) *session.Manager {
	path := c.GetHeader(HeaderClientPath)
	var provider session.Provider
	if h.d.Auth != nil {
		provider = h.d.Auth.Bind(auth.BearerToken(c))
	}
	return session.NewManager(session.Options{
		Namespace: SessionNamespace(subject, c.GetHeader(HeaderNamespace)),
		Subject:   subject,
		Store:     h.d.SessionStore,
		Bus:       h.d.SessionBus,
		Provider:  provider,
		Path:      func() string { return path },
		LoginPath: h.d.Config.LoginPath,
		MaxAge:    h.d.Config.SessionMaxAge,
	})
}

// callerManager is the manager of the authenticated caller.
func (h *Handler) callerManager(c *gin.Context) *session.Manager {
	return h.manager(c, userID(c))
}

func (h *Handler) sessionResponse(c *gin.Context, m *session.Manager, s *session.Session) {
	c.JSON(http.StatusOK, gin.H{"session": s, "user_type": m.SavedUserType(c.Request.Context())})
}

type googleRequest struct {
	IDToken  string `json:"id_token" binding:"required"`
	UserType string `json:"user_type"`
}

func (h *Handler) SignInGoogle(c *gin.Context) {
	var req googleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	s, err := h.d.Auth.SignInGoogle(ctx, req.IDToken, req.UserType)
	if err != nil {
		h.writeError(c, err, "sign-in failed")
		return
	}
	m := h.manager(c, s.User.ID)
	m.Save(ctx, s, s.User.Metadata["user_type"])
	h.sessionResponse(c, m, s)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates the refresh token in the body. Without one, the caller must
// be signed in and the token of their own saved session is used.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	ctx := c.Request.Context()
	if req.RefreshToken == "" {
		caller, _ := h.d.Auth.Bind(auth.BearerToken(c)).Current(ctx)
		if caller == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if snap := h.manager(c, caller.User.ID).LoadSnapshot(ctx); snap != nil && snap.Session != nil {
			req.RefreshToken = snap.Session.RefreshToken
		}
	}
	if req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	s, err := h.d.Auth.Refresh(ctx, req.RefreshToken)
	if err != nil {
		h.writeError(c, err, "refresh failed")
		return
	}
	m := h.manager(c, s.User.ID)
	m.OnAuthStateChange(ctx, session.EventTokenRefreshed, s)
	h.sessionResponse(c, m, s)
}

// Logout clears the saved session, signals sibling clients and returns the login path.
func (h *Handler) Logout(c *gin.Context) {
	redirect := h.callerManager(c).SignOut(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"redirect": redirect})
}

// Session returns a usable session, refreshing a saved one when needed.
func (h *Handler) Session(c *gin.Context) {
	m := h.callerManager(c)
	s, err := m.EnsureValid(c.Request.Context())
	if err != nil {
		h.writeError(c, err, "session check failed")
		return
	}
	h.sessionResponse(c, m, s)
}

type stateRequest struct {
	Event    string `json:"event" binding:"required"`
	UserType string `json:"user_type"`
}

// State applies a client-reported auth event.
func (h *Handler) State(c *gin.Context) {
	var req stateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	m := h.callerManager(c)

	var s *session.Session
	switch ev := session.AuthEvent(req.Event); ev {
	case EventVisible:
		s = session.NewKeeper(m, h.d.Config.SessionCheckInterval).Visible(ctx)
	case EventPendingUserType:
		if !auth.ValidRole(req.UserType) {
			h.writeError(c, auth.ErrUnknownRole, "")
			return
		}
		m.SetPendingUserType(ctx, req.UserType)
	case session.EventSignedOut:
		m.OnAuthStateChange(ctx, ev, nil)
	case session.EventSignedIn, session.EventTokenRefreshed, session.EventUserUpdated:
		if h.d.Auth != nil {
			s, _ = h.d.Auth.Bind(auth.BearerToken(c)).Current(ctx)
		}
		if s == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no live session"})
			return
		}
		m.OnAuthStateChange(ctx, ev, s)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event"})
		return
	}
	h.sessionResponse(c, m, s)
}

// Stream holds a server-sent event stream open. It emits "logout" when another
// client of the namespace signs out and "expired" when the periodic
// re-validation finds no usable session.
func (h *Handler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	m := h.callerManager(c)

	expired := make(chan struct{}, 1)
	keeper := session.NewKeeper(m, h.d.Config.SessionCheckInterval)
	keeper.OnCheck(func(_ string, s *session.Session) {
		if s != nil {
			return
		}
		select {
		case expired <- struct{}{}:
		default:
		}
	})
	if err := keeper.Start(ctx); err != nil {
		h.writeError(c, err, "session check failed")
		return
	}
	defer keeper.Stop()

	fired := make(chan session.Signal, 1)
	stop, err := m.Listen(ctx, func(sig session.Signal) {
		select {
		case fired <- sig:
		default:
		}
	})
	if err != nil {
		h.writeError(c, err, "subscribe failed")
		return
	}
	defer stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case sig := <-fired:
			c.SSEvent("logout", gin.H{"redirect": h.d.Config.LoginPath, "reason": sig.Kind})
			return false
		case <-expired:
			c.SSEvent("expired", gin.H{"redirect": h.d.Config.LoginPath})
			return false
		case <-ctx.Done():
			return false
		case <-time.After(h.streamKeepAlive):
			c.SSEvent("ping", time.Now().UnixMilli())
			return true
		}
	})
}
