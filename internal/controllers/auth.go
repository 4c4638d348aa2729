package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/views"
)

type UserAccounts interface {
	Create(ctx context.Context, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID int64) error
}

type SessionManager interface {
	Create(ctx context.Context, userID int64) (*models.Session, error)
	Delete(ctx context.Context, token string) error
}

// AuthController handles signup/signin flows
type AuthController struct {
	users         UserAccounts
	sessions      SessionManager
	cookie        SessionCookie
	templates     AuthTemplates
	googleEnabled bool
}

type AuthTemplates struct {
	SignUp *views.Template
	SignIn *views.Template
}

func NewAuthController(users UserAccounts, sessions SessionManager, cookie SessionCookie, templates AuthTemplates, googleEnabled bool) *AuthController {
	return &AuthController{
		users:         users,
		sessions:      sessions,
		cookie:        cookie,
		templates:     templates,
		googleEnabled: googleEnabled,
	}
}

// AuthFormData keeps the submitted values when a form is shown again.
type AuthFormData struct {
	Email    string
	Redirect string
}

var signinErrors = map[string]string{
	"oauth_failed":   "Google sign in failed. Please try again.",
	"oauth_denied":   "Google sign in was cancelled.",
	"session_failed": "Could not start your session. Please try again.",
}

func (ac *AuthController) GetSignUp(w http.ResponseWriter, r *http.Request) {
	ac.render(w, r, ac.templates.SignUp, http.StatusOK, "Sign Up", "", AuthFormData{})
}

// PostSignUp creates the account and signs the user in.
func (ac *AuthController) PostSignUp(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		ac.render(w, r, ac.templates.SignUp, http.StatusBadRequest, "Sign Up", "Failed to parse form", AuthFormData{})
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	form := AuthFormData{Email: email}

	switch {
	case email == "":
		ac.render(w, r, ac.templates.SignUp, http.StatusUnprocessableEntity, "Sign Up", "Email is required", form)
		return
	case password == "":
		ac.render(w, r, ac.templates.SignUp, http.StatusUnprocessableEntity, "Sign Up", "Password is required", form)
		return
	case password != r.FormValue("confirm_password"):
		ac.render(w, r, ac.templates.SignUp, http.StatusUnprocessableEntity, "Sign Up", "Passwords do not match", form)
		return
	}

	user, err := ac.users.Create(r.Context(), email, password)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrEmailAlreadyExists):
			ac.render(w, r, ac.templates.SignUp, http.StatusConflict, "Sign Up", "An account with that email already exists", form)
		case errors.Is(err, models.ErrInvalidEmail), errors.Is(err, models.ErrPasswordTooShort):
			ac.render(w, r, ac.templates.SignUp, http.StatusUnprocessableEntity, "Sign Up", err.Error(), form)
		default:
			appctx.Logger(r.Context()).Error("failed to create user", zap.Error(err))
			ac.render(w, r, ac.templates.SignUp, http.StatusInternalServerError, "Sign Up", "Something went wrong. Please try again.", form)
		}
		return
	}

	if !ac.startSession(w, r, user) {
		return
	}
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (ac *AuthController) GetSignIn(w http.ResponseWriter, r *http.Request) {
	errMsg := signinErrors[r.URL.Query().Get("error")]
	ac.render(w, r, ac.templates.SignIn, http.StatusOK, "Sign In", errMsg, AuthFormData{
		Redirect: safeRedirect(r.URL.Query().Get("redirect"), ""),
	})
}

func (ac *AuthController) PostSignIn(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		ac.render(w, r, ac.templates.SignIn, http.StatusBadRequest, "Sign In", "Failed to parse form", AuthFormData{})
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	form := AuthFormData{Email: email, Redirect: safeRedirect(r.FormValue("redirect"), "")}

	if email == "" || password == "" {
		ac.render(w, r, ac.templates.SignIn, http.StatusUnprocessableEntity, "Sign In", "Email and password are required", form)
		return
	}

	user, err := ac.users.Authenticate(r.Context(), email, password)
	if err != nil {
		if !errors.Is(err, models.ErrInvalidCredentials) {
			appctx.Logger(r.Context()).Error("failed to authenticate", zap.Error(err))
		}
		ac.render(w, r, ac.templates.SignIn, http.StatusUnauthorized, "Sign In", "Invalid email or password", form)
		return
	}

	if !ac.startSession(w, r, user) {
		return
	}
	http.Redirect(w, r, safeRedirect(form.Redirect, "/dashboard"), http.StatusSeeOther)
}

// PostSignOut deletes the session and clears the cookie.
func (ac *AuthController) PostSignOut(w http.ResponseWriter, r *http.Request) {
	if token := ac.cookie.Token(r); token != "" {
		if err := ac.sessions.Delete(r.Context(), token); err != nil && !errors.Is(err, models.ErrSessionNotFound) {
			appctx.Logger(r.Context()).Warn("failed to delete session", zap.Error(err))
		}
	}
	ac.cookie.Clear(w)
	http.Redirect(w, r, "/?msg=signed_out", http.StatusSeeOther)
}

func (ac *AuthController) startSession(w http.ResponseWriter, r *http.Request, user *models.User) bool {
	session, err := ac.sessions.Create(r.Context(), user.ID)
	if err != nil {
		appctx.Logger(r.Context()).Error("failed to create session", zap.Int64("user_id", user.ID), zap.Error(err))
		http.Error(w, "Failed to create session", http.StatusInternalServerError)
		return false
	}
	if err := ac.users.UpdateLastLogin(r.Context(), user.ID); err != nil {
		appctx.Logger(r.Context()).Warn("failed to update last login", zap.Error(err))
	}

	ac.cookie.Set(w, session.Token)
	return true
}

func (ac *AuthController) render(w http.ResponseWriter, r *http.Request, tmpl *views.Template, status int, title, errMsg string, form AuthFormData) {
	tmpl.ExecuteHTTPWithStatus(w, r, status, &views.TemplateData{
		Title:         title,
		CSRFToken:     csrf.Token(r),
		Error:         errMsg,
		GoogleEnabled: ac.googleEnabled,
		Data:          form,
	})
}
