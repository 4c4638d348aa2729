package controllers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/views"
)

// StaticController handles the home page.
type StaticController struct {
	templates     StaticTemplates
	googleEnabled bool
}

type StaticTemplates struct {
	Home *views.Template
}

func NewStaticController(templates StaticTemplates, googleEnabled bool) *StaticController {
	return &StaticController{
		templates:     templates,
		googleEnabled: googleEnabled,
	}
}

// HomeData holds data for the home page template.
type HomeData struct {
	Features []Feature
	Form     AnalyzeFormData
}

// Feature represents a feature displayed on the home page.
type Feature struct {
	Icon        string
	Title       string
	Description string
}

var homeFeatures = []Feature{
	{
		Icon:        "Street Scan",
		Title:       "Street-Style Decoding",
		Description: "Upload a photo from the market or the street. Vastra reads the silhouette, print and palette that make the look work.",
	},
	{
		Icon:        "Best Seller",
		Title:       "Best-Seller Concept",
		Description: "Get one mass-market product idea with the design rationale that makes it sell in Indian retail.",
	},
	{
		Icon:        "Visual",
		Title:       "Product Visual",
		Description: "A studio shot of the concept is generated in the aspect ratio and resolution you pick.",
	},
	{
		Icon:        "Sourcing",
		Title:       "Manufacturing Specs",
		Description: "Fabric, print technique, GSM and the sourcing hub to place the order with.",
	},
	{
		Icon:        "Shopping",
		Title:       "Live Market Check",
		Description: "See where similar products are already selling online, with links and price notes.",
	},
	{
		Icon:        "Chat",
		Title:       "Ask Vastra",
		Description: "Chat about costing, demand and variations with the report as context.",
	},
}

// GetHome renders the home page.
func (c *StaticController) GetHome(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())

	var success string
	if r.URL.Query().Get("msg") == "signed_out" {
		success = "You have been signed out."
	}

	data := &views.TemplateData{
		Title:         "Vastra-Vibes - Street Style to Best Seller",
		CSRFToken:     csrf.Token(r),
		CurrentUser:   user,
		Success:       success,
		GoogleEnabled: c.googleEnabled,
		Data: HomeData{
			Features: homeFeatures,
			Form:     newAnalyzeFormData(user, models.DefaultImageConfig()),
		},
	}

	c.templates.Home.ExecuteHTTP(w, r, data)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HealthCheck pings every dependency and answers 503 when one is down.
func HealthCheck(checks map[string]HealthChecker) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		status := http.StatusOK

		for _, name := range names {
			if err := checks[name].Health(ctx); err != nil {
				appctx.Logger(r.Context()).Warn("health check failed", zap.String("check", name), zap.Error(err))
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		writeJSON(w, status, resp)
	}
}
