package controllers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/metrics"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/services"
)

const maxChatBody = 64 << 10

// APIController serves the JSON API used by the web client and scripts.
type APIController struct {
	pipeline Analyzer
	analyses AnalysisReader
	chat     ChatSessions
	keys     KeyDecrypter
	metrics  *metrics.Metrics
}

func NewAPIController(pipeline Analyzer, analyses AnalysisReader, chat ChatSessions, keys KeyDecrypter, m *metrics.Metrics) *APIController {
	return &APIController{
		pipeline: pipeline,
		analyses: analyses,
		chat:     chat,
		keys:     keys,
		metrics:  m,
	}
}

type csrfResponse struct {
	Token string `json:"csrf_token"`
}

type analysisResponse struct {
	Analysis *models.Analysis `json:"analysis"`
	Swatches []models.Swatch  `json:"swatches,omitempty"`
	Pending  bool             `json:"pending"`
}

type analysisFailedResponse struct {
	errorResponse
	Analysis *models.Analysis `json:"analysis"`
}

type chatResponse struct {
	Messages []models.ChatMessage `json:"messages"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatReplyResponse struct {
	Reply *models.ChatMessage `json:"reply"`
}

// GetCSRF hands the token to clients that send it as X-CSRF-Token.
func (c *APIController) GetCSRF(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, csrfResponse{Token: csrf.Token(r)})
}

// PostAnalysis accepts the same multipart form as the web upload. It answers
// 201 once the report exists. A failed analysis is still returned so the
// client can show the stored record.
func (c *APIController) PostAnalysis(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())

	img, cfg, err := readUpload(w, r, c.metrics)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_upload", uploadErrorMessage(err))
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
			writeError(w, http.StatusForbidden, "quota_exceeded", msgQuotaExhausted)
			return
		}
		if analysis == nil {
			appctx.Logger(r.Context()).Error("failed to start analysis", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", msgAnalysisFailed)
			return
		}
		writeJSON(w, http.StatusBadGateway, analysisFailedResponse{
			errorResponse: errorResponse{
				Error:   "analysis_failed",
				Message: services.DisplayMessage(err, services.MsgAnalysisFallback),
			},
			Analysis: analysis,
		})
		return
	}

	w.Header().Set("Location", "/api/v1/analyses/"+strconv.FormatInt(analysis.ID, 10))
	writeJSON(w, http.StatusCreated, newAnalysisResponse(analysis))
}

func (c *APIController) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	analysis, ok := c.loadOwned(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, newAnalysisResponse(analysis))
}

func (c *APIController) GetChat(w http.ResponseWriter, r *http.Request) {
	analysis, ok := c.loadOwned(w, r)
	if !ok {
		return
	}

	messages, err := c.chat.Transcript(r.Context(), services.ChatKey(analysis.ID))
	if err != nil {
		appctx.Logger(r.Context()).Error("failed to load chat", zap.Int64("analysis_id", analysis.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to load chat")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Messages: messages})
}

// PostChat answers with the assistant reply. A model failure is a normal
// reply carrying the error text.
func (c *APIController) PostChat(w http.ResponseWriter, r *http.Request) {
	analysis, ok := c.loadOwned(w, r)
	if !ok {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "Request body must be JSON with a message field")
		return
	}

	reply, err := c.chat.Send(r.Context(), services.ChatKey(analysis.ID), req.Message, analysis.Report)
	if err != nil {
		if errors.Is(err, services.ErrEmptyMessage) {
			writeError(w, http.StatusUnprocessableEntity, "empty_message", "Please type a message.")
			return
		}
		appctx.Logger(r.Context()).Error("failed to send chat message", zap.Int64("analysis_id", analysis.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", services.MsgChatFallback)
		return
	}

	writeJSON(w, http.StatusOK, chatReplyResponse{Reply: reply})
}

func (c *APIController) loadOwned(w http.ResponseWriter, r *http.Request) (*models.Analysis, bool) {
	id, err := analysisID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "Invalid analysis ID")
		return nil, false
	}

	analysis, err := ownedAnalysis(r.Context(), c.analyses, id, appctx.User(r.Context()))
	if err != nil {
		writeOwnedError(w, r, err)
		return nil, false
	}
	return analysis, true
}

func newAnalysisResponse(a *models.Analysis) analysisResponse {
	resp := analysisResponse{Analysis: a, Pending: a.HasPendingParts()}
	if a.Report != nil {
		resp.Swatches = a.Report.Swatches()
	}
	return resp
}
