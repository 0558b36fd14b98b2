// Package session mirrors an authenticated session into a client key-value store
// and keeps sibling clients of the same namespace in sync on sign-out.
package session

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cocred/internal/logger"
	"cocred/internal/metrics"
)

// Storage keys shared by every client of a namespace.
const (
	KeySessionState    = "cocred_session_state"
	KeyUserType        = "cocred_user_type"
	KeyPendingUserType = "cocred_pending_user_type"
	KeyProviderToken   = "supabase.auth.token"
	KeyLogoutSignal    = "cocred_logout_signal"
)

// DefaultMaxAge is how long a saved snapshot may be used to restore a session.
const DefaultMaxAge = 7 * 24 * time.Hour

// AuthEvent is an auth state transition reported by the provider.
type AuthEvent string

const (
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// User is the authenticated principal inside a session.
type User struct {
	ID       string            `json:"id"`
	Email    string            `json:"email,omitempty"`
	Metadata map[string]string `json:"user_metadata,omitempty"`
}

// Session is an issued access/refresh token pair.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	Session   *Session `json:"session"`
	Timestamp int64    `json:"timestamp"`
	UserType  string   `json:"userType"`
}

// Provider issues and refreshes sessions.
type Provider interface {
	// Current returns the live session, or nil when there is none.
	Current(ctx context.Context) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, s *Session) error
}

// Options configure a Manager.
type Options struct {
	Namespace string
	// Subject, when set, is the only user whose sessions are saved or read.
	Subject  string
	Store    KV
	Bus      Bus
	Provider Provider
	// Path reports the client's current location, used to guess the user type.
	Path      func() string
	LoginPath string
	MaxAge    time.Duration
}

// Manager persists session snapshots for one client of a namespace.
type Manager struct {
	id        string
	channel   string
	ns        string
	subject   string
	store     *SafeStore
	bus       Bus
	provider  Provider
	path      func() string
	loginPath string
	maxAge    time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu        sync.Mutex
	signedOut bool
	seen      map[string]struct{}
	seenOrder []string
}

// seenLimit bounds the remembered broadcast ids.
const seenLimit = 64

func NewManager(opts Options) *Manager {
	log := logger.Component("session").With().Str("namespace", opts.Namespace).Logger()
	if opts.Bus == nil {
		opts.Bus = NewMemoryBus()
	}
	if opts.Path == nil {
		opts.Path = func() string { return "" }
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login/student"
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	return &Manager{
		id:        uuid.NewString(),
		channel:   "cocred:session:" + opts.Namespace,
		ns:        opts.Namespace,
		subject:   opts.Subject,
		store:     NewSafeStore(opts.Store, log),
		bus:       opts.Bus,
		provider:  opts.Provider,
		path:      opts.Path,
		loginPath: opts.LoginPath,
		maxAge:    opts.MaxAge,
		now:       time.Now,
		log:       log,
		seen:      map[string]struct{}{},
	}
}

// ClientID identifies this client on the bus.
func (m *Manager) ClientID() string { return m.id }

// owns reports whether s belongs to the manager's subject.
func (m *Manager) owns(s *Session) bool {
	return m.subject == "" || (s != nil && s.User.ID == m.subject)
}

func (m *Manager) key(k string) string {
	if m.ns == "" {
		return k
	}
	return m.ns + ":" + k
}

// OnAuthStateChange mirrors a provider event into storage.
func (m *Manager) OnAuthStateChange(ctx context.Context, event AuthEvent, s *Session) {
	switch event {
	case EventSignedIn, EventTokenRefreshed, EventUserUpdated:
		if s != nil {
			m.Save(ctx, s, "")
		}
	case EventSignedOut:
		m.Clear(ctx, uuid.NewString())
	}
}

// Save writes a snapshot of s. userType may be empty, in which case it is detected.
func (m *Manager) Save(ctx context.Context, s *Session, userType string) {
	if s == nil {
		return
	}
	if !m.owns(s) {
		m.log.Warn().Str("user", s.User.ID).Msg("session of another user not saved")
		return
	}
	if userType == "" {
		userType = m.detectUserType(s)
	}
	payload, err := json.Marshal(Snapshot{Session: s, Timestamp: m.now().UnixMilli(), UserType: userType})
	if err != nil {
		m.log.Warn().Err(err).Msg("session snapshot not encoded")
		return
	}
	m.store.Set(ctx, m.key(KeySessionState), string(payload))
	m.store.Set(ctx, m.key(KeyUserType), userType)
	m.store.Set(ctx, m.key(KeyProviderToken), s.AccessToken)

	m.mu.Lock()
	m.signedOut = false
	m.mu.Unlock()
	m.log.Debug().Str("user_type", userType).Msg("session state saved")
}

func (m *Manager) detectUserType(s *Session) string {
	if t := userTypeFromPath(m.path()); t != "" {
		return t
	}
	if s != nil {
		if t := s.User.Metadata["user_type"]; t != "" {
			return t
		}
	}
	return "student"
}

func userTypeFromPath(p string) string {
	switch {
	case strings.Contains(p, "/student"):
		return "student"
	case strings.Contains(p, "/teacher"):
		return "teacher"
	case strings.Contains(p, "/authority"):
		return "authority"
	}
	return ""
}

// LoadSnapshot returns the saved snapshot. Snapshots older than the max age
// are cleared and reported as absent.
func (m *Manager) LoadSnapshot(ctx context.Context) *Snapshot {
	snap := m.readSnapshot(ctx)
	if snap == nil {
		return nil
	}
	age := m.now().Sub(time.UnixMilli(snap.Timestamp))
	if age > m.maxAge {
		m.log.Info().Dur("age", age).Msg("saved session expired")
		m.Clear(ctx, uuid.NewString())
		return nil
	}
	return snap
}

func (m *Manager) readSnapshot(ctx context.Context) *Snapshot {
	raw := m.store.Get(ctx, m.key(KeySessionState))
	if raw == "" {
		return nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		m.log.Warn().Err(err).Msg("saved session unreadable")
		return nil
	}
	if !m.owns(snap.Session) {
		m.log.Warn().Msg("saved session belongs to another user")
		return nil
	}
	return &snap
}

// Clear removes the saved session and announces each removal to sibling clients.
func (m *Manager) Clear(ctx context.Context, broadcastID string) {
	for _, k := range []string{KeySessionState, KeyUserType, KeyProviderToken} {
		m.store.Delete(ctx, m.key(k))
		m.publish(ctx, Signal{Kind: SignalStorage, ID: broadcastID, Key: k, Removed: true})
	}
}

// SavedUserType returns the stored user type, promoting a pending one left by
// an OAuth round trip, then falls back to the path and finally "student".
func (m *Manager) SavedUserType(ctx context.Context) string {
	if t := m.store.Get(ctx, m.key(KeyUserType)); t != "" {
		return t
	}
	if t := m.store.Get(ctx, m.key(KeyPendingUserType)); t != "" {
		m.store.Set(ctx, m.key(KeyUserType), t)
		m.store.Delete(ctx, m.key(KeyPendingUserType))
		return t
	}
	if t := userTypeFromPath(m.path()); t != "" {
		return t
	}
	return "student"
}

// SetPendingUserType records the role chosen before an OAuth redirect.
func (m *Manager) SetPendingUserType(ctx context.Context, userType string) {
	m.store.Set(ctx, m.key(KeyPendingUserType), userType)
}

// EnsureValid returns a usable session. A live provider session is saved and
// returned; otherwise a fresh snapshot is refreshed. A failed refresh clears
// the snapshot and yields nil.
func (m *Manager) EnsureValid(ctx context.Context) (*Session, error) {
	if m.provider == nil {
		return nil, nil
	}
	live, err := m.provider.Current(ctx)
	if err != nil {
		return nil, err
	}
	if live != nil && m.owns(live) {
		m.Save(ctx, live, "")
		return live, nil
	}

	snap := m.LoadSnapshot(ctx)
	if snap == nil || snap.Session == nil {
		return nil, nil
	}
	refreshed, err := m.provider.Refresh(ctx, snap.Session.RefreshToken)
	if err != nil || refreshed == nil {
		m.log.Info().Err(err).Msg("session refresh failed, clearing saved state")
		m.Clear(ctx, uuid.NewString())
		return nil, nil
	}
	m.Save(ctx, refreshed, snap.UserType)
	return refreshed, nil
}

// SignOut clears local state, wakes sibling clients, revokes the session at the
// provider and returns the login path to redirect to.
func (m *Manager) SignOut(ctx context.Context) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.signedOut = true
	m.remember(id)
	m.mu.Unlock()

	snap := m.readSnapshot(ctx)
	m.Clear(ctx, id)
	m.publish(ctx, Signal{Kind: SignalLogout, ID: id})

	m.store.Set(ctx, m.key(KeyLogoutSignal), strconv.FormatInt(m.now().UnixMilli(), 10))
	m.publish(ctx, Signal{Kind: SignalStorage, ID: id, Key: KeyLogoutSignal})
	m.store.Delete(ctx, m.key(KeyLogoutSignal))
	m.publish(ctx, Signal{Kind: SignalStorage, ID: id, Key: KeyLogoutSignal, Removed: true})
	metrics.LogoutBroadcasts.Inc()

	if m.provider != nil {
		var s *Session
		if snap != nil {
			s = snap.Session
		}
		if err := m.provider.SignOut(ctx, s); err != nil {
			m.log.Warn().Err(err).Msg("provider sign-out failed")
		}
	}
	return m.loginPath
}

func (m *Manager) publish(ctx context.Context, sig Signal) {
	sig.Origin = m.id
	if err := m.bus.Publish(ctx, m.channel, sig); err != nil {
		m.log.Warn().Err(err).Str("kind", sig.Kind).Msg("session signal not published")
	}
}

// remember must be called with mu held. It reports whether id was new.
func (m *Manager) remember(id string) bool {
	if _, ok := m.seen[id]; ok {
		return false
	}
	m.seen[id] = struct{}{}
	m.seenOrder = append(m.seenOrder, id)
	if len(m.seenOrder) > seenLimit {
		delete(m.seen, m.seenOrder[0])
		m.seenOrder = m.seenOrder[1:]
	}
	return true
}

func triggersSignOut(sig Signal) bool {
	if sig.Kind == SignalLogout {
		return true
	}
	return sig.Kind == SignalStorage && sig.Removed &&
		(sig.Key == KeySessionState || sig.Key == KeyProviderToken)
}

// Listen calls handler once per sign-out broadcast from another client of the
// namespace. Signals are ignored while this client is already signed out.
func (m *Manager) Listen(ctx context.Context, handler func(Signal)) (func(), error) {
	return m.bus.Subscribe(ctx, m.channel, func(sig Signal) {
		if sig.Origin == m.id || !triggersSignOut(sig) {
			return
		}
		m.mu.Lock()
		fire := !m.signedOut && m.remember(sig.ID)
		m.mu.Unlock()
		if fire {
			m.log.Info().Str("kind", sig.Kind).Str("key", sig.Key).Msg("sign-out received from another client")
			handler(sig)
		}
	})
}
