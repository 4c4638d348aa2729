package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/models"
)

// SessionLookup resolves a session token to its user.
type SessionLookup interface {
	User(ctx context.Context, token string) (*models.User, error)
}

type AuthMiddleware struct {
	sessions   SessionLookup
	cookieName string
	secure     bool
}

func NewAuthMiddleware(sessions SessionLookup, cookieName string, secure bool) *AuthMiddleware {
	return &AuthMiddleware{
		sessions:   sessions,
		cookieName: cookieName,
		secure:     secure,
	}
}

// SetUser loads the user from the session cookie into the request context.
// It runs on all routes and never blocks a request.
func (m *AuthMiddleware) SetUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(m.cookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := m.sessions.User(r.Context(), cookie.Value)
		if err != nil {
			// stale session, drop the cookie and continue anonymously
			http.SetCookie(w, &http.Cookie{
				Name:     m.cookieName,
				Value:    "",
				Path:     "/",
				MaxAge:   -1,
				HttpOnly: true,
				Secure:   m.secure,
				SameSite: http.SameSiteLaxMode,
			})
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(appctx.WithUser(r.Context(), user)))
	})
}

// RequireUser redirects anonymous visitors to the sign in page. API routes
// get a 401 instead.
func (m *AuthMiddleware) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if appctx.User(r.Context()) == nil {
			if isAPI(r) {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Please sign in to continue.")
				return
			}

			redirectURL := "/signin"
			if r.URL.Path != "/" {
				redirectURL = "/signin?redirect=" + url.QueryEscape(r.URL.Path)
			}
			http.Redirect(w, r, redirectURL, http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireNoUser keeps signed in users away from the sign in and sign up
// pages.
func (m *AuthMiddleware) RequireNoUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if appctx.User(r.Context()) != nil {
			http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireQuota rejects API analysis requests from users with no analyses
// left.
func (m *AuthMiddleware) RequireQuota(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := appctx.User(r.Context())
		if user == nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Please sign in to continue.")
			return
		}

		if user.RemainingQuota() <= 0 {
			writeJSONError(w, http.StatusForbidden, "quota_exceeded", "Analysis quota exceeded. Please contact support.")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CurrentUser returns the signed in user, or nil.
func CurrentUser(r *http.Request) *models.User {
	return appctx.User(r.Context())
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}
