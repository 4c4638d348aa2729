package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul4469/vastra-vibes/internal/crypto"
	"github.com/rahul4469/vastra-vibes/internal/metrics"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/services"
	"github.com/rahul4469/vastra-vibes/internal/views"
)

func TestGetHome(t *testing.T) {
	c := NewStaticController(StaticTemplates{Home: views.MustParseFS("pages/home.gohtml")}, false)

	rec := httptest.NewRecorder()
	c.GetHome(rec, httptest.NewRequest(http.MethodGet, "/?msg=signed_out", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "You have been signed out.")
	assert.Contains(t, body, "Street-Style Decoding")
	assert.NotContains(t, body, `id="analyze-form"`)

	r := newRouter(owner)
	r.Get("/", c.GetHome)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Body.String(), `id="analyze-form"`)
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) Health(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	ok := checkFunc(func(context.Context) error { return nil })
	down := checkFunc(func(context.Context) error { return errors.New("connection refused") })

	rec := httptest.NewRecorder()
	HealthCheck(map[string]HealthChecker{"database": ok, "chat": ok})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","checks":{"database":"ok","chat":"ok"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	HealthCheck(map[string]HealthChecker{"database": ok, "storage": down})(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"database":"ok","storage":"connection refused"}}`, rec.Body.String())
}

func TestGetDashboard(t *testing.T) {
	failed := &models.Analysis{ID: 3, UserID: owner.ID, Status: models.StatusFailed}
	c := NewDashboardController(
		newFakeAnalyses(completedAnalysis(9, owner.ID), failed, completedAnalysis(11, stranger.ID)),
		views.MustParseFS("pages/dashboard.gohtml"),
	)
	r := newRouter(owner)
	r.Get("/dashboard", c.GetDashboard)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard?success=Analysis+deleted", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Analysis deleted")
	assert.Contains(t, body, `<strong>2</strong> total`)
	assert.Contains(t, body, `href="/analyses/9"`)
	assert.Contains(t, body, "Analysis #3")
	assert.NotContains(t, body, `href="/analyses/11"`)
	assert.Contains(t, body, "1 of 5 used (20%)")
}

func TestGetDashboardListFailure(t *testing.T) {
	analyses := newFakeAnalyses()
	analyses.listErr = errors.New("db down")
	c := NewDashboardController(analyses, views.MustParseFS("pages/dashboard.gohtml"))
	r := newRouter(owner)
	r.Get("/dashboard", c.GetDashboard)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPostGeminiKey(t *testing.T) {
	keys, err := crypto.NewEncryptorFromString("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	users := newFakeUsers()
	c := NewProfileController(users, keys, views.MustParseFS("pages/profile.gohtml"))

	r := newRouter(owner)
	r.Get("/profile", c.GetProfile)
	r.Post("/profile/gemini-key", c.PostGeminiKey)

	post := func(form url.Values) string {
		req := httptest.NewRequest(http.MethodPost, "/profile/gemini-key", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Header().Get("Location")
	}

	assert.Equal(t, "/profile?error=That+does+not+look+like+a+Gemini+API+key", post(url.Values{"gemini_key": {"short"}}))
	assert.Empty(t, users.keys)

	assert.Equal(t, "/profile?success=Gemini+key+saved", post(url.Values{"gemini_key": {"  AIzaSyUserOwnKey-1234567890 "}}))
	stored := users.keys[owner.ID]
	assert.NotContains(t, stored, "AIzaSy")
	plain, err := keys.Decrypt(stored)
	require.NoError(t, err)
	assert.Equal(t, "AIzaSyUserOwnKey-1234567890", plain)

	assert.Equal(t, "/profile?success=Gemini+key+removed", post(url.Values{"action": {"clear"}}))
	assert.Equal(t, "", users.keys[owner.ID])

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/profile", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "meera@boutique.in")
}

func TestGetImage(t *testing.T) {
	objects := &fakeObjects{objects: map[string][]byte{"analyses/9/visual.png": []byte("png-bytes")}}
	c := NewImagesController(newFakeAnalyses(completedAnalysis(9, owner.ID)), objects)

	serve := func(user *models.User, path string) *httptest.ResponseRecorder {
		r := newRouter(user)
		r.Get("/images/*", c.GetImage)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := serve(owner, "/images/analyses/9/visual.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "9", rec.Header().Get("Content-Length"))

	assert.Equal(t, http.StatusNotFound, serve(stranger, "/images/analyses/9/visual.png").Code)
	assert.Equal(t, http.StatusNotFound, serve(owner, "/images/analyses/9/source.jpg").Code)
	assert.Equal(t, http.StatusNotFound, serve(owner, "/images/etc/passwd").Code)
}

func newAPIRouter(t *testing.T, user *models.User, pipeline *fakePipeline, analyses *fakeAnalyses, chat *fakeChat) http.Handler {
	t.Helper()
	c := NewAPIController(pipeline, analyses, chat, nil, metrics.New(prometheus.NewRegistry()))

	r := newRouter(user)
	r.Get("/api/v1/csrf", c.GetCSRF)
	r.Post("/api/v1/analyses", c.PostAnalysis)
	r.Get("/api/v1/analyses/{id}", c.GetAnalysis)
	r.Get("/api/v1/analyses/{id}/chat", c.GetChat)
	r.Post("/api/v1/analyses/{id}/chat", c.PostChat)
	return r
}

func TestAPIPostAnalysis(t *testing.T) {
	pipeline := &fakePipeline{analysis: completedAnalysis(9, owner.ID)}
	h := newAPIRouter(t, owner, pipeline, newFakeAnalyses(), newFakeChat())

	body, contentType := multipartUpload(t, "image/jpeg", jpegBytes, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/api/v1/analyses/9", rec.Header().Get("Location"))

	var resp struct {
		Analysis struct {
			ID     int64               `json:"id"`
			Report *models.TrendReport `json:"report"`
		} `json:"analysis"`
		Swatches []models.Swatch `json:"swatches"`
		Pending  bool            `json:"pending"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(9), resp.Analysis.ID)
	assert.Equal(t, "Indigo Ajrakh Angrakha", resp.Analysis.Report.BestSellerConcept.ProductName)
	assert.Equal(t, []models.Swatch{{Name: "Indigo", Hex: "#2E3A87"}, {Name: "Rust", Hex: "#B7410E"}}, resp.Swatches)
	assert.True(t, resp.Pending)
	assert.Equal(t, "", pipeline.inputs[0].VisualAPIKey)
}

func TestAPIPostAnalysisErrors(t *testing.T) {
	pipeline := &fakePipeline{
		analysis: &models.Analysis{ID: 4, UserID: owner.ID, Status: models.StatusFailed},
		err:      &services.AIError{Message: "The analysis was blocked by safety filters. Please try a different image."},
	}
	h := newAPIRouter(t, owner, pipeline, newFakeAnalyses(), newFakeChat())

	body, contentType := multipartUpload(t, "image/jpeg", jpegBytes, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var failed struct {
		Error    string `json:"error"`
		Message  string `json:"message"`
		Analysis struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		} `json:"analysis"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&failed))
	assert.Equal(t, "analysis_failed", failed.Error)
	assert.Equal(t, "The analysis was blocked by safety filters. Please try a different image.", failed.Message)
	assert.Equal(t, "failed", failed.Analysis.Status)

	body, contentType = multipartUpload(t, "text/plain", []byte("hello"), nil)
	req = httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var invalid errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&invalid))
	assert.Equal(t, "invalid_upload", invalid.Error)
	assert.Equal(t, "Invalid file type. Please upload a JPG, PNG, or WEBP image.", invalid.Message)
}

func TestAPIPostAnalysisQuotaExceeded(t *testing.T) {
	pipeline := &fakePipeline{err: models.ErrQuotaExceeded}
	h := newAPIRouter(t, owner, pipeline, newFakeAnalyses(), newFakeChat())

	body, contentType := multipartUpload(t, "image/jpeg", jpegBytes, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "quota_exceeded", resp.Error)
}

func TestAPIChat(t *testing.T) {
	chat := newFakeChat()
	h := newAPIRouter(t, owner, &fakePipeline{}, newFakeAnalyses(completedAnalysis(9, owner.ID)), chat)

	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses/9/chat", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := send(`{"message":"Best price band?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var reply chatReplyResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reply))
	assert.Equal(t, "echo: Best price band?", reply.Reply.Text)
	assert.Equal(t, models.SenderAI, reply.Reply.Sender)
	assert.NotNil(t, chat.reports["analysis:9"], "the stored report travels with each turn")

	assert.Equal(t, http.StatusUnprocessableEntity, send(`{"message":"  "}`).Code)
	assert.Equal(t, http.StatusBadRequest, send(`not json`).Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/9/chat", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var transcript chatResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&transcript))
	assert.Len(t, transcript.Messages, 2)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/404/chat", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIGetAnalysisOwnership(t *testing.T) {
	h := newAPIRouter(t, stranger, &fakePipeline{}, newFakeAnalyses(completedAnalysis(9, owner.ID)), newFakeChat())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/9", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/csrf", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}
