package main

import (
	"fmt"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rahul4469/vastra-vibes/internal/config"
	"github.com/rahul4469/vastra-vibes/internal/controllers"
	"github.com/rahul4469/vastra-vibes/internal/crypto"
	"github.com/rahul4469/vastra-vibes/internal/metrics"
	"github.com/rahul4469/vastra-vibes/internal/middleware"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/services"
	"github.com/rahul4469/vastra-vibes/internal/views"
	"github.com/rahul4469/vastra-vibes/templates"
)

type routerDeps struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	limiter  *middleware.RateLimiter

	users     *models.UserService
	sessions  *models.SessionService
	analyses  *models.AnalysisService
	pipeline  *services.TrendPipeline
	chat      *services.ChatService
	images    imageStore
	encryptor *crypto.Encryptor

	healthCheck map[string]controllers.HealthChecker
}

type pageTemplates struct {
	home, signup, signin, analyze, analysis, dashboard, profile *views.Template
}

func parseTemplates() (pageTemplates, error) {
	views.TemplateFS = templates.FS

	var t pageTemplates
	pages := []struct {
		dst  **views.Template
		file string
	}{
		{&t.home, "pages/home.gohtml"},
		{&t.signup, "pages/signup.gohtml"},
		{&t.signin, "pages/signin.gohtml"},
		{&t.analyze, "pages/analyze.gohtml"},
		{&t.analysis, "pages/analysis.gohtml"},
		{&t.dashboard, "pages/dashboard.gohtml"},
		{&t.profile, "pages/profile.gohtml"},
	}
	for _, p := range pages {
		tmpl, err := views.ParseFS(p.file)
		if err != nil {
			return t, fmt.Errorf("failed to load %s: %w", p.file, err)
		}
		*p.dst = tmpl
	}
	return t, nil
}

func newRouter(d routerDeps) (http.Handler, error) {
	cfg := d.cfg

	tpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	cookie := controllers.SessionCookie{
		Name:     cfg.Security.SessionCookieName,
		Secure:   cfg.Security.SecureCookies,
		Duration: cfg.Security.SessionDuration,
	}
	googleEnabled := cfg.GoogleOAuthEnabled()

	// Controllers
	staticCtrl := controllers.NewStaticController(controllers.StaticTemplates{Home: tpl.home}, googleEnabled)
	authCtrl := controllers.NewAuthController(d.users, d.sessions, cookie,
		controllers.AuthTemplates{SignUp: tpl.signup, SignIn: tpl.signin}, googleEnabled)
	analyzeCtrl := controllers.NewAnalyzeController(d.pipeline, d.analyses, d.chat, d.images, d.encryptor, d.metrics,
		controllers.AnalyzeTemplates{Form: tpl.analyze, Result: tpl.analysis})
	dashboardCtrl := controllers.NewDashboardController(d.analyses, tpl.dashboard)
	profileCtrl := controllers.NewProfileController(d.users, d.encryptor, tpl.profile)
	imagesCtrl := controllers.NewImagesController(d.analyses, d.images)
	apiCtrl := controllers.NewAPIController(d.pipeline, d.analyses, d.chat, d.encryptor, d.metrics)

	authMw := middleware.NewAuthMiddleware(d.sessions, cfg.Security.SessionCookieName, cfg.Security.SecureCookies)

	csrfMw := csrf.Protect(
		[]byte(cfg.Security.CSRFSecret),
		csrf.Secure(cfg.Security.SecureCookies),
		csrf.Path("/"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.TrustedOrigins(cfg.Security.TrustedOrigins),
		csrf.ErrorHandler(http.HandlerFunc(csrfFailure(d.log))),
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.UploadDeadline(cfg.Server.UploadTimeout, "/analyze", "/api/v1/analyses"))
	r.Use(clientAddress(cfg.Server.TrustProxyHeaders))
	r.Use(middleware.RequestLogger(d.log, d.metrics))
	r.Use(chimw.Recoverer)
	if cfg.Observability.SentryDSN != "" {
		// Repanic hands the panic on to Recoverer after it is reported.
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}

	// Unauthenticated infrastructure, outside CSRF and sessions
	r.Get("/healthz", controllers.HealthCheck(d.healthCheck))
	r.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if !cfg.Security.SecureCookies {
			r.Use(plaintextHTTP)
		}
		r.Use(csrfMw)
		r.Use(authMw.SetUser)

		// ---- Public Routes ----
		r.Get("/", staticCtrl.GetHome)

		r.Group(func(r chi.Router) {
			r.Use(authMw.RequireNoUser)
			r.Get("/signup", authCtrl.GetSignUp)
			r.Get("/signin", authCtrl.GetSignIn)
			r.With(d.limiter.Limit).Post("/signup", authCtrl.PostSignUp)
			r.With(d.limiter.Limit).Post("/signin", authCtrl.PostSignIn)

			if googleEnabled {
				oauthCtrl := controllers.NewOAuthController(d.users, d.sessions, cookie, controllers.OAuthConfig{
					ClientID:     cfg.OAuth.GoogleClientID,
					ClientSecret: cfg.OAuth.GoogleClientSecret,
					RedirectURL:  cfg.OAuth.GoogleRedirectURL,
				})
				r.Get("/auth/google/login", oauthCtrl.GoogleLogin)
				r.Get("/auth/google/callback", oauthCtrl.GoogleCallback)
			}
		})

		// ---- Protected Routes ----
		r.Group(func(r chi.Router) {
			r.Use(authMw.RequireUser)

			r.Post("/signout", authCtrl.PostSignOut)
			r.Get("/dashboard", dashboardCtrl.GetDashboard)

			r.Get("/analyze", analyzeCtrl.GetAnalyze)
			r.With(d.limiter.Limit).Post("/analyze", analyzeCtrl.PostAnalyze)

			r.Route("/analyses/{id}", func(r chi.Router) {
				r.Get("/", analyzeCtrl.GetResult)
				r.Get("/status", analyzeCtrl.GetStatus)
				r.Post("/delete", analyzeCtrl.DeleteAnalysis)
				r.With(d.limiter.Limit).Post("/chat", analyzeCtrl.PostChat)
			})

			r.Get("/profile", profileCtrl.GetProfile)
			r.Post("/profile/gemini-key", profileCtrl.PostGeminiKey)

			r.Get("/images/*", imagesCtrl.GetImage)
		})

		// ---- JSON API ----
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   cfg.Server.AllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
				ExposedHeaders:   []string{"Location", "X-CSRF-Token"},
				AllowCredentials: true,
				MaxAge:           300,
			}))
			r.Use(authMw.RequireUser)

			r.Get("/csrf", apiCtrl.GetCSRF)
			r.With(authMw.RequireQuota, d.limiter.Limit).Post("/analyses", apiCtrl.PostAnalysis)
			r.Get("/analyses/{id}", apiCtrl.GetAnalysis)
			r.Get("/analyses/{id}/chat", apiCtrl.GetChat)
			r.With(d.limiter.Limit).Post("/analyses/{id}/chat", apiCtrl.PostChat)
		})
	})

	return r, nil
}

// clientAddress takes the client IP from proxy headers only when the
// deployment says a proxy sets them. Otherwise RemoteAddr is left alone so
// the rate limiter cannot be dodged with a forged X-Forwarded-For.
func clientAddress(trustProxy bool) func(http.Handler) http.Handler {
	if trustProxy {
		return chimw.RealIP
	}
	return func(next http.Handler) http.Handler { return next }
}

// plaintextHTTP marks requests as served over plain HTTP so the CSRF
// origin check does not demand TLS during local development.
func plaintextHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

func csrfFailure(log *zap.Logger) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		log.Warn("csrf validation failed",
			zap.String("path", r.URL.Path),
			zap.Error(csrf.FailureReason(r)),
		)
		http.Error(w, "Forbidden - invalid or missing CSRF token", http.StatusForbidden)
	}
}
