package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/metrics"
	"github.com/rahul4469/vastra-vibes/internal/models"
)

type stubSessions map[string]*models.User

func (s stubSessions) User(_ context.Context, token string) (*models.User, error) {
	if u, ok := s[token]; ok {
		return u, nil
	}
	return nil, models.ErrSessionNotFound
}

func echoUser(w http.ResponseWriter, r *http.Request) {
	if u := appctx.User(r.Context()); u != nil {
		w.Write([]byte(u.Email))
		return
	}
	w.Write([]byte("anonymous"))
}

func TestSetUser(t *testing.T) {
	owner := &models.User{ID: 1, Email: "owner@boutique.in", AnalysesLimit: 5}
	mw := NewAuthMiddleware(stubSessions{"good": owner}, "session", false)
	handler := mw.SetUser(http.HandlerFunc(echoUser))

	tests := []struct {
		name        string
		cookie      *http.Cookie
		want        string
		clearCookie bool
	}{
		{"no cookie", nil, "anonymous", false},
		{"valid session", &http.Cookie{Name: "session", Value: "good"}, "owner@boutique.in", false},
		{"stale session", &http.Cookie{Name: "session", Value: "expired"}, "anonymous", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Body.String())
			cleared := false
			for _, c := range rec.Result().Cookies() {
				if c.Name == "session" && c.MaxAge < 0 {
					cleared = true
				}
			}
			assert.Equal(t, tt.clearCookie, cleared)
		})
	}
}

func TestRequireUser(t *testing.T) {
	mw := NewAuthMiddleware(stubSessions{}, "session", false)
	handler := mw.RequireUser(http.HandlerFunc(echoUser))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyses/3", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/signin?redirect=%2Fanalyses%2F3", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses/3", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unauthorized", body.Error)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req = req.WithContext(appctx.WithUser(req.Context(), &models.User{Email: "a@b.in"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireNoUser(t *testing.T) {
	mw := NewAuthMiddleware(stubSessions{}, "session", false)
	handler := mw.RequireNoUser(http.HandlerFunc(echoUser))

	req := httptest.NewRequest(http.MethodGet, "/signin", nil)
	req = req.WithContext(appctx.WithUser(req.Context(), &models.User{Email: "a@b.in"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestRequireQuota(t *testing.T) {
	mw := NewAuthMiddleware(stubSessions{}, "session", false)
	handler := mw.RequireQuota(http.HandlerFunc(echoUser))

	exhausted := &models.User{Email: "a@b.in", AnalysesUsed: 5, AnalysesLimit: 5}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyses", nil)
	req = req.WithContext(appctx.WithUser(req.Context(), exhausted))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	ok := &models.User{Email: "a@b.in", AnalysesUsed: 1, AnalysesLimit: 5}
	req = httptest.NewRequest(http.MethodPost, "/api/v1/analyses", nil)
	req = req.WithContext(appctx.WithUser(req.Context(), ok))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(60, 2, time.Minute)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("1.2.3.4"))

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, rl.Cleanup())
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(1, 1, time.Minute)
	handler := rl.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/analyze", nil)
	req.RemoteAddr = "10.0.0.1:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestLogger(zap.New(core), m))
	r.Get("/analyses/{id}", func(w http.ResponseWriter, r *http.Request) {
		appctx.Logger(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analyses/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1, logs.FilterMessage("inside handler").Len())
	rejected := logs.FilterMessage("request rejected").All()
	require.Len(t, rejected, 1)
	fields := rejected[0].ContextMap()
	assert.Equal(t, "/analyses/{id}", fields["route"])
	assert.EqualValues(t, 404, fields["status"])
	assert.NotEmpty(t, fields["request_id"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/analyses/{id}", "404")))
}

// slowUpload streams size bytes in chunks spread over d.
func slowUpload(size int, d time.Duration) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		const chunks = 10
		chunk := bytes.Repeat([]byte("x"), size/chunks)
		for i := 0; i < chunks; i++ {
			time.Sleep(d / chunks)
			if _, err := pw.Write(chunk); err != nil {
				return
			}
		}
		pw.Close()
	}()
	return pr
}

func TestUploadDeadline(t *testing.T) {
	readBody := func(w http.ResponseWriter, r *http.Request) {
		n, err := io.Copy(io.Discard, r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestTimeout)
			return
		}
		fmt.Fprintf(w, "%d", n)
	}

	r := chi.NewRouter()
	r.Use(UploadDeadline(5*time.Second, "/analyze"))
	r.Post("/analyze", readBody)
	r.Post("/signin", readBody)

	srv := httptest.NewUnstartedServer(r)
	srv.Config.ReadTimeout = 100 * time.Millisecond
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	t.Run("upload route outlives server timeouts", func(t *testing.T) {
		resp, err := srv.Client().Post(srv.URL+"/analyze", "application/octet-stream", slowUpload(1<<20, 400*time.Millisecond))
		require.NoError(t, err)
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, strconv.Itoa(1<<20), string(body))
	})

	t.Run("other routes keep server timeouts", func(t *testing.T) {
		resp, err := srv.Client().Post(srv.URL+"/signin", "application/octet-stream", slowUpload(1<<20, 400*time.Millisecond))
		if err == nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			assert.NotEqual(t, strconv.Itoa(1<<20), string(body))
		}
	})
}

func TestUploadDeadlineWithoutConnection(t *testing.T) {
	h := UploadDeadline(time.Second, "/analyze")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/analyze", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
