package controllers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/models"
)

// GoogleUserInfoURL is the OpenID Connect userinfo endpoint.
const GoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type GoogleAccounts interface {
	FindOrCreateGoogle(ctx context.Context, profile models.GoogleProfile) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID int64) error
}

// OAuthController handles Google sign in.
type OAuthController struct {
	users       GoogleAccounts
	sessions    SessionManager
	cookie      SessionCookie
	oauthConfig *oauth2.Config

	// UserInfoURL is overridden in tests.
	UserInfoURL string
}

type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func NewOAuthController(users GoogleAccounts, sessions SessionManager, cookie SessionCookie, config OAuthConfig) *OAuthController {
	return &OAuthController{
		users:    users,
		sessions: sessions,
		cookie:   cookie,
		oauthConfig: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		UserInfoURL: GoogleUserInfoURL,
	}
}

// GoogleLogin starts the OAuth2 flow.
// GET /auth/google/login
func (c *OAuthController) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		appctx.Logger(r.Context()).Error("failed to generate oauth state", zap.Error(err))
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieOAuthState,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   c.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, c.oauthConfig.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback finishes the flow and signs the user in.
// GET /auth/google/callback
func (c *OAuthController) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	log := appctx.Logger(r.Context())

	stateCookie, err := r.Cookie(cookieOAuthState)
	if err != nil {
		log.Warn("missing oauth state cookie")
		http.Redirect(w, r, "/signin?error=oauth_failed", http.StatusSeeOther)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieOAuthState,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.cookie.Secure,
	})

	query := r.URL.Query()
	if state := query.Get("state"); state == "" || state != stateCookie.Value {
		log.Warn("oauth state mismatch")
		http.Redirect(w, r, "/signin?error=oauth_failed", http.StatusSeeOther)
		return
	}

	if errParam := query.Get("error"); errParam != "" {
		log.Info("google sign in denied", zap.String("error", errParam))
		http.Redirect(w, r, "/signin?error=oauth_denied", http.StatusSeeOther)
		return
	}

	code := query.Get("code")
	if code == "" {
		http.Redirect(w, r, "/signin?error=oauth_failed", http.StatusSeeOther)
		return
	}

	token, err := c.oauthConfig.Exchange(r.Context(), code)
	if err != nil {
		log.Error("failed to exchange oauth code", zap.Error(err))
		http.Redirect(w, r, "/signin?error=oauth_failed", http.StatusSeeOther)
		return
	}

	profile, err := c.fetchProfile(r.Context(), token)
	if err != nil {
		log.Error("failed to fetch google profile", zap.Error(err))
		http.Redirect(w, r, "/signin?error=oauth_failed", http.StatusSeeOther)
		return
	}

	user, err := c.users.FindOrCreateGoogle(r.Context(), *profile)
	if err != nil {
		log.Error("failed to sign in google user", zap.Error(err))
		http.Redirect(w, r, "/signin?error=oauth_failed", http.StatusSeeOther)
		return
	}

	session, err := c.sessions.Create(r.Context(), user.ID)
	if err != nil {
		log.Error("failed to create session", zap.Int64("user_id", user.ID), zap.Error(err))
		http.Redirect(w, r, "/signin?error=session_failed", http.StatusSeeOther)
		return
	}
	if err := c.users.UpdateLastLogin(r.Context(), user.ID); err != nil {
		log.Warn("failed to update last login", zap.Error(err))
	}

	c.cookie.Set(w, session.Token)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (c *OAuthController) fetchProfile(ctx context.Context, token *oauth2.Token) (*models.GoogleProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.oauthConfig.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("userinfo error (%d): %s", resp.StatusCode, string(body))
	}

	var profile models.GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return &profile, nil
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
