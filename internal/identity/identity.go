// Package identity resolves who is talking and in which conversation.
//
// A caller is an anonymous device (a long-lived cookie) plus a tab session
// (a header). The pair is the key for conversation state; the user alone
// owns profile, goals and tasks.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/store"
)

const (
	AnonCookieName        = "goally_anon_id"
	SessionHeaderName     = "X-Goally-Session-ID"
	SessionQueryParam     = "session_id"
	DefaultSessionIDValue = "default"
	anonIDPrefix          = "anon_"
	anonCookieMaxAge      = 30 * 24 * time.Hour
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity is the resolved caller of one request.
type Identity struct {
	UserID    string
	SessionID string
}

type ctxKey struct{}

// WithIdentity returns ctx carrying userID and sessionID. Invalid session
// IDs collapse to the default session.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, Identity{UserID: userID, SessionID: sanitizeSessionID(sessionID)})
}

// FromContext returns the caller identity, if the middleware ran.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// UserIDFromContext returns the caller's user ID, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := FromContext(ctx)
	return id.UserID
}

// SessionIDFromContext returns the caller's tab session, falling back to the
// default session.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := FromContext(ctx); ok && id.SessionID != "" {
		return id.SessionID
	}
	return DefaultSessionIDValue
}

func newAnonID() string {
	return anonIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// resolver establishes identity and seeds first-time users.
type resolver struct {
	profiles store.ProfileStore
	secure   bool
}

// userID reads the device cookie, minting a fresh one when it is missing or
// malformed. The cookie is refreshed on every request so active devices
// never expire.
func (rv resolver) userID(w http.ResponseWriter, r *http.Request) string {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		id = newAnonID()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   rv.secure,
	})
	return id
}

// ensureProfile gives a first-time user the default routine profile and
// leaves existing ones untouched.
func (rv resolver) ensureProfile(ctx context.Context, userID string) error {
	p, err := rv.profiles.GetProfile(ctx, userID)
	if err != nil || p != nil {
		return err
	}
	def := domain.DefaultProfile(userID)
	return rv.profiles.UpsertProfile(ctx, &def)
}

func sessionIDFromRequest(r *http.Request) string {
	sid := r.Header.Get(SessionHeaderName)
	if sid == "" {
		sid = r.URL.Query().Get(SessionQueryParam)
	}
	return sid
}

// Middleware attaches the caller identity to the request context. The
// session ID comes from the X-Goally-Session-ID header, or the session_id
// query parameter for clients that cannot set headers (WebSocket in
// browsers). Cookies are Secure outside development.
func Middleware(profiles store.ProfileStore, isDev bool) func(http.Handler) http.Handler {
	rv := resolver{profiles: profiles, secure: !isDev}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := rv.userID(w, r)
			if err := rv.ensureProfile(r.Context(), userID); err != nil {
				slog.Error("Failed to initialize profile", "user_id", userID, "error", err)
				http.Error(w, `{"error":"internal","message":"failed to initialize user"}`, http.StatusInternalServerError)
				return
			}
			ctx := WithIdentity(r.Context(), userID, sessionIDFromRequest(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote host without its port.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
