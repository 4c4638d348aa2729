package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/views"
)

// minGeminiKeyLength rejects obviously truncated pastes.
const minGeminiKeyLength = 20

type GeminiKeyStore interface {
	SetGeminiKey(ctx context.Context, userID int64, encrypted string) error
}

type KeyEncrypter interface {
	Encrypt(plaintext string) (string, error)
}

// ProfileController lets a user manage their own Gemini key, used for
// visual generation instead of the shared one.
type ProfileController struct {
	users    GeminiKeyStore
	keys     KeyEncrypter
	template *views.Template
}

func NewProfileController(users GeminiKeyStore, keys KeyEncrypter, template *views.Template) *ProfileController {
	return &ProfileController{users: users, keys: keys, template: template}
}

type ProfileData struct {
	HasGeminiKey bool
	HasGoogle    bool
}

func (c *ProfileController) GetProfile(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())

	data := &views.TemplateData{
		Title:       "Profile",
		CSRFToken:   csrf.Token(r),
		CurrentUser: user,
		Data: ProfileData{
			HasGeminiKey: user.HasGeminiKey(),
			HasGoogle:    user.HasGoogle(),
		},
	}
	flash(r, &data.Success, &data.Error)

	c.template.ExecuteHTTP(w, r, data)
}

// PostGeminiKey stores the key encrypted, or clears it when action=clear.
func (c *ProfileController) PostGeminiKey(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())
	log := appctx.Logger(r.Context())

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/profile?error=Invalid+form+data", http.StatusSeeOther)
		return
	}

	if r.FormValue("action") == "clear" {
		if err := c.users.SetGeminiKey(r.Context(), user.ID, ""); err != nil {
			log.Error("failed to clear gemini key", zap.Error(err))
			http.Redirect(w, r, "/profile?error=Failed+to+remove+key", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/profile?success=Gemini+key+removed", http.StatusSeeOther)
		return
	}

	key := strings.TrimSpace(r.FormValue("gemini_key"))
	if len(key) < minGeminiKeyLength || strings.ContainsAny(key, " \t\n") {
		http.Redirect(w, r, "/profile?error=That+does+not+look+like+a+Gemini+API+key", http.StatusSeeOther)
		return
	}

	encrypted, err := c.keys.Encrypt(key)
	if err != nil {
		log.Error("failed to encrypt gemini key", zap.Error(err))
		http.Redirect(w, r, "/profile?error=Failed+to+save+key", http.StatusSeeOther)
		return
	}

	if err := c.users.SetGeminiKey(r.Context(), user.ID, encrypted); err != nil {
		log.Error("failed to save gemini key", zap.Error(err))
		http.Redirect(w, r, "/profile?error=Failed+to+save+key", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, "/profile?success=Gemini+key+saved", http.StatusSeeOther)
}
