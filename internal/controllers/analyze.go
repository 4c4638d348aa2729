package controllers

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/metrics"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/services"
	"github.com/rahul4469/vastra-vibes/internal/upload"
	"github.com/rahul4469/vastra-vibes/internal/views"
)

const (
	// a little over the image limit so multipart framing fits
	maxUploadBody   = upload.MaxSizeBytes + 1<<20
	multipartMemory = 32 << 20

	msgQuotaExhausted = "You have used all of your analyses. Please contact support for more."
	msgAnalysisFailed = "Something went wrong while starting the analysis. Please try again."
)

type Analyzer interface {
	Run(ctx context.Context, in services.AnalyzeInput) (*models.Analysis, error)
}

type AnalysisManager interface {
	AnalysisReader
	Delete(ctx context.Context, id int64) error
}

type ChatSessions interface {
	Transcript(ctx context.Context, key string) ([]models.ChatMessage, error)
	Send(ctx context.Context, key, text string, report *models.TrendReport) (*models.ChatMessage, error)
	Forget(ctx context.Context, key string) error
}

type ImageRemover interface {
	Delete(ctx context.Context, prefix string) error
}

type KeyDecrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// AnalyzeController handles photo uploads and the analysis dashboard.
type AnalyzeController struct {
	pipeline  Analyzer
	analyses  AnalysisManager
	chat      ChatSessions
	images    ImageRemover
	keys      KeyDecrypter
	metrics   *metrics.Metrics
	templates AnalyzeTemplates
}

type AnalyzeTemplates struct {
	Form   *views.Template
	Result *views.Template
}

func NewAnalyzeController(
	pipeline Analyzer,
	analyses AnalysisManager,
	chat ChatSessions,
	images ImageRemover,
	keys KeyDecrypter,
	m *metrics.Metrics,
	templates AnalyzeTemplates,
) *AnalyzeController {
	return &AnalyzeController{
		pipeline:  pipeline,
		analyses:  analyses,
		chat:      chat,
		images:    images,
		keys:      keys,
		metrics:   m,
		templates: templates,
	}
}

// AnalyzeFormData holds data for the upload form.
type AnalyzeFormData struct {
	AspectRatios   []models.AspectRatio
	ImageSizes     []models.ImageSize
	Config         models.ImageConfig
	AcceptTypes    string
	MaxSizeMB      int64
	RemainingQuota int
	HasGeminiKey   bool
}

func newAnalyzeFormData(user *models.User, cfg models.ImageConfig) AnalyzeFormData {
	data := AnalyzeFormData{
		AspectRatios: models.AspectRatios,
		ImageSizes:   models.ImageSizes,
		Config:       cfg,
		AcceptTypes:  strings.Join(upload.AllowedMIMETypes, ","),
		MaxSizeMB:    upload.MaxSizeBytes / (1024 * 1024),
	}
	if user != nil {
		data.RemainingQuota = user.RemainingQuota()
		data.HasGeminiKey = user.HasGeminiKey()
	}
	return data
}

// AnalyzePageData holds data for the upload page.
type AnalyzePageData struct {
	Form AnalyzeFormData
}

// GetAnalyze renders the upload form.
func (c *AnalyzeController) GetAnalyze(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())

	data := &views.TemplateData{
		Title:       "Analyze a Look",
		CSRFToken:   csrf.Token(r),
		CurrentUser: user,
		Data:        AnalyzePageData{Form: newAnalyzeFormData(user, models.DefaultImageConfig())},
	}
	if user.RemainingQuota() <= 0 {
		data.Error = msgQuotaExhausted
	}

	c.templates.Form.ExecuteHTTP(w, r, data)
}

// PostAnalyze runs the trend analysis for the uploaded photo and redirects
// to its dashboard. The visual and shopping panels fill in afterwards.
func (c *AnalyzeController) PostAnalyze(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())
	log := appctx.Logger(r.Context())

	if user.RemainingQuota() <= 0 {
		c.renderFormError(w, r, user, models.DefaultImageConfig(), http.StatusForbidden, msgQuotaExhausted)
		return
	}

	img, cfg, err := readUpload(w, r, c.metrics)
	if err != nil {
		c.renderFormError(w, r, user, cfg, http.StatusUnprocessableEntity, uploadErrorMessage(err))
		return
	}

	analysis, err := c.pipeline.Run(r.Context(), services.AnalyzeInput{
		UserID:       user.ID,
		Image:        img,
		ImageConfig:  cfg,
		VisualAPIKey: visualKey(r.Context(), c.keys, user),
	})
	if err != nil {
		if errors.Is(err, models.ErrQuotaExceeded) {
			c.renderFormError(w, r, user, cfg, http.StatusForbidden, msgQuotaExhausted)
			return
		}
		if analysis == nil {
			log.Error("failed to start analysis", zap.Error(err))
			c.renderFormError(w, r, user, cfg, http.StatusInternalServerError, msgAnalysisFailed)
			return
		}
		c.renderFormError(w, r, user, cfg, http.StatusBadGateway, services.DisplayMessage(err, services.MsgAnalysisFallback))
		return
	}

	http.Redirect(w, r, fmt.Sprintf("/analyses/%d", analysis.ID), http.StatusSeeOther)
}

func (c *AnalyzeController) renderFormError(w http.ResponseWriter, r *http.Request, user *models.User, cfg models.ImageConfig, status int, errMsg string) {
	data := &views.TemplateData{
		Title:       "Analyze a Look",
		CSRFToken:   csrf.Token(r),
		CurrentUser: user,
		Error:       errMsg,
		Data:        AnalyzePageData{Form: newAnalyzeFormData(user, cfg)},
	}
	c.templates.Form.ExecuteHTTPWithStatus(w, r, status, data)
}

// visualKey returns the user's own Gemini key, or "" to use the server's.
func visualKey(ctx context.Context, keys KeyDecrypter, user *models.User) string {
	if !user.HasGeminiKey() || keys == nil {
		return ""
	}
	key, err := keys.Decrypt(*user.GeminiKeyEncrypted)
	if err != nil {
		appctx.Logger(ctx).Warn("failed to decrypt gemini key, using server key", zap.Error(err))
		return ""
	}
	return key
}

// AnalysisPageData holds data for the analysis dashboard.
type AnalysisPageData struct {
	Analysis *models.Analysis
	Swatches []models.Swatch
	Messages []models.ChatMessage
}

// GetResult renders the analysis dashboard.
func (c *AnalyzeController) GetResult(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())

	analysis, ok := c.loadOwned(w, r, user)
	if !ok {
		return
	}

	messages, err := c.chat.Transcript(r.Context(), services.ChatKey(analysis.ID))
	if err != nil {
		appctx.Logger(r.Context()).Warn("failed to load chat", zap.Int64("analysis_id", analysis.ID), zap.Error(err))
	}

	page := AnalysisPageData{Analysis: analysis, Messages: messages}
	if analysis.Report != nil {
		page.Swatches = analysis.Report.Swatches()
	}

	data := &views.TemplateData{
		Title:       analysis.Title(),
		CSRFToken:   csrf.Token(r),
		CurrentUser: user,
		Data:        page,
	}
	flash(r, &data.Success, &data.Error)

	c.templates.Result.ExecuteHTTP(w, r, data)
}

type analysisStatus struct {
	ID             int64                 `json:"id"`
	Status         models.AnalysisStatus `json:"status"`
	VisualStatus   models.PartStatus     `json:"visual_status"`
	ShoppingStatus models.PartStatus     `json:"shopping_status"`
	Pending        bool                  `json:"pending"`
	Error          string                `json:"error,omitempty"`
	VisualHTML     template.HTML         `json:"visual_html"`
	ShoppingHTML   template.HTML         `json:"shopping_html"`
}

// GetStatus reports panel progress for polling, with the panels rendered
// so the page can swap them in.
func (c *AnalyzeController) GetStatus(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())

	id, err := analysisID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "Invalid analysis ID")
		return
	}

	analysis, err := ownedAnalysis(r.Context(), c.analyses, id, user)
	if err != nil {
		writeOwnedError(w, r, err)
		return
	}

	resp := analysisStatus{
		ID:             analysis.ID,
		Status:         analysis.Status,
		VisualStatus:   analysis.VisualStatus,
		ShoppingStatus: analysis.ShoppingStatus,
		Pending:        analysis.HasPendingParts(),
		Error:          analysis.DisplayError(),
	}

	if resp.VisualHTML, err = c.templates.Result.Fragment("visual_panel", analysis); err == nil {
		resp.ShoppingHTML, err = c.templates.Result.Fragment("shopping_panel", analysis)
	}
	if err != nil {
		appctx.Logger(r.Context()).Error("failed to render panels", zap.Int64("analysis_id", analysis.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "render_failed", "Failed to render results")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}

// DeleteAnalysis removes the analysis with its images and chat.
func (c *AnalyzeController) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())
	log := appctx.Logger(r.Context())

	id, err := analysisID(r)
	if err != nil {
		http.Redirect(w, r, "/dashboard?error=Analysis+not+found", http.StatusSeeOther)
		return
	}

	analysis, err := ownedAnalysis(r.Context(), c.analyses, id, user)
	if err != nil {
		if errors.Is(err, errForbidden) {
			http.Redirect(w, r, "/dashboard?error=Access+denied", http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, "/dashboard?error=Analysis+not+found", http.StatusSeeOther)
		return
	}

	if err := c.analyses.Delete(r.Context(), analysis.ID); err != nil {
		log.Error("failed to delete analysis", zap.Int64("analysis_id", analysis.ID), zap.Error(err))
		http.Redirect(w, r, "/dashboard?error=Failed+to+delete", http.StatusSeeOther)
		return
	}

	if err := c.images.Delete(r.Context(), fmt.Sprintf("analyses/%d/", analysis.ID)); err != nil {
		log.Warn("failed to delete analysis images", zap.Int64("analysis_id", analysis.ID), zap.Error(err))
	}
	if err := c.chat.Forget(r.Context(), services.ChatKey(analysis.ID)); err != nil {
		log.Warn("failed to delete analysis chat", zap.Int64("analysis_id", analysis.ID), zap.Error(err))
	}

	http.Redirect(w, r, "/dashboard?success=Analysis+deleted", http.StatusSeeOther)
}

// PostChat sends a chat message about the analysis. Model failures show up
// as an assistant message, so only an empty message is an error here.
func (c *AnalyzeController) PostChat(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())

	analysis, ok := c.loadOwned(w, r, user)
	if !ok {
		return
	}

	page := fmt.Sprintf("/analyses/%d", analysis.ID)

	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, page+"?error=Invalid+form+data#chat", http.StatusSeeOther)
		return
	}

	if _, err := c.chat.Send(r.Context(), services.ChatKey(analysis.ID), r.FormValue("message"), analysis.Report); err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			http.Redirect(w, r, page+"?"+url.Values{"error": {"Please type a message."}}.Encode()+"#chat", http.StatusSeeOther)
			return
		}
		appctx.Logger(r.Context()).Error("failed to send chat message", zap.Int64("analysis_id", analysis.ID), zap.Error(err))
		http.Redirect(w, r, page+"?"+url.Values{"error": {services.MsgChatFallback}}.Encode()+"#chat", http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, page+"#chat", http.StatusSeeOther)
}

// loadOwned answers the request itself when the analysis is missing or
// belongs to someone else.
func (c *AnalyzeController) loadOwned(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Analysis, bool) {
	id, err := analysisID(r)
	if err != nil {
		http.Error(w, "Invalid analysis ID", http.StatusBadRequest)
		return nil, false
	}

	analysis, err := ownedAnalysis(r.Context(), c.analyses, id, user)
	switch {
	case err == nil:
		return analysis, true
	case errors.Is(err, models.ErrAnalysisNotFound):
		http.Error(w, "Analysis not found", http.StatusNotFound)
	case errors.Is(err, errForbidden):
		http.Error(w, "Access denied", http.StatusForbidden)
	default:
		appctx.Logger(r.Context()).Error("failed to load analysis", zap.Int64("analysis_id", id), zap.Error(err))
		http.Error(w, "Failed to load analysis", http.StatusInternalServerError)
	}
	return nil, false
}

func writeOwnedError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrAnalysisNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Analysis not found")
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "Access denied")
	default:
		appctx.Logger(r.Context()).Error("failed to load analysis", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load analysis")
	}
}

// readUpload parses the multipart form and reads the "image" field along
// with the requested visual settings.
func readUpload(w http.ResponseWriter, r *http.Request, m *metrics.Metrics) (*upload.Image, models.ImageConfig, error) {
	cfg := models.DefaultImageConfig()
	log := appctx.Logger(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			m.ObserveUpload("too_large")
			return nil, cfg, upload.TooLarge(max(r.ContentLength, maxUploadBody))
		}
		m.ObserveUpload("invalid")
		return nil, cfg, models.FileError{Issue: "Please choose an image to upload."}
	}
	defer r.MultipartForm.RemoveAll()

	parsed, err := models.ParseImageConfig(r.FormValue("aspect_ratio"), r.FormValue("image_size"))
	if err != nil {
		m.ObserveUpload("invalid")
		return nil, cfg, err
	}
	cfg = parsed

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		m.ObserveUpload("missing")
		return nil, cfg, models.FileError{Issue: "Please choose an image to upload."}
	}

	img, err := upload.FromMultipart(r.Context(), files[0], func(percent int) {
		if percent%25 == 0 {
			log.Debug("reading upload", zap.String("file", files[0].Filename), zap.Int("percent", percent))
		}
	})
	if err != nil {
		m.ObserveUpload("rejected")
		return nil, cfg, err
	}

	m.ObserveUpload("accepted")
	return img, cfg, nil
}

func uploadErrorMessage(err error) string {
	var fileErr models.FileError
	if errors.As(err, &fileErr) {
		return fileErr.Issue
	}
	if errors.Is(err, models.ErrInvalidImageConfig) {
		return "Please pick a supported aspect ratio and image size."
	}
	return "Failed to read the uploaded image. Please try again."
}
