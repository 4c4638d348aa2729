package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rahul4469/vastra-vibes/internal/models"
)

// AnalysisReader loads analyses for their owners.
type AnalysisReader interface {
	ByID(ctx context.Context, id int64) (*models.Analysis, error)
}

var errForbidden = errors.New("access denied")

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func analysisID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// ownedAnalysis loads the analysis and checks it belongs to user.
func ownedAnalysis(ctx context.Context, analyses AnalysisReader, id int64, user *models.User) (*models.Analysis, error) {
	analysis, err := analyses.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil || analysis.UserID != user.ID {
		return nil, errForbidden
	}
	return analysis, nil
}

// safeRedirect only allows local paths so the sign in redirect parameter
// cannot send users off site.
func safeRedirect(target, fallback string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return fallback
	}
	return target
}

// flash copies ?success= and ?error= into the page data.
func flash(r *http.Request, success, errMsg *string) {
	if msg := r.URL.Query().Get("success"); msg != "" {
		*success = msg
	}
	if msg := r.URL.Query().Get("error"); msg != "" {
		*errMsg = msg
	}
}
