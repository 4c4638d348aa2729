package controllers

import (
	"context"
	"net/http"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/views"
)

const dashboardLimit = 20

type AnalysisLister interface {
	ByUserID(ctx context.Context, userID int64, limit int) ([]*models.Analysis, error)
	CountByStatus(ctx context.Context, userID int64) (map[models.AnalysisStatus]int, error)
}

// DashboardController handles the user dashboard.
type DashboardController struct {
	analyses AnalysisLister
	template *views.Template
}

func NewDashboardController(analyses AnalysisLister, template *views.Template) *DashboardController {
	return &DashboardController{
		analyses: analyses,
		template: template,
	}
}

// DashboardData holds data for the dashboard template.
type DashboardData struct {
	Analyses      []*models.Analysis
	StatusCounts  map[models.AnalysisStatus]int
	TotalAnalyses int
	QuotaUsed     int
	QuotaLimit    int
	QuotaPercent  int
}

// GetDashboard renders the user's analysis history.
func (c *DashboardController) GetDashboard(w http.ResponseWriter, r *http.Request) {
	user := appctx.User(r.Context())

	analyses, err := c.analyses.ByUserID(r.Context(), user.ID, dashboardLimit)
	if err != nil {
		appctx.Logger(r.Context()).Error("failed to load analyses", zap.Error(err))
		http.Error(w, "Failed to load analyses", http.StatusInternalServerError)
		return
	}

	statusCounts, err := c.analyses.CountByStatus(r.Context(), user.ID)
	if err != nil {
		appctx.Logger(r.Context()).Warn("failed to count analyses", zap.Error(err))
		statusCounts = make(map[models.AnalysisStatus]int)
	}

	total := 0
	for _, count := range statusCounts {
		total += count
	}

	data := &views.TemplateData{
		Title:       "Dashboard",
		CSRFToken:   csrf.Token(r),
		CurrentUser: user,
		Data: DashboardData{
			Analyses:      analyses,
			StatusCounts:  statusCounts,
			TotalAnalyses: total,
			QuotaUsed:     user.AnalysesUsed,
			QuotaLimit:    user.AnalysesLimit,
			QuotaPercent:  user.QuotaPercentUsed(),
		},
	}
	flash(r, &data.Success, &data.Error)

	c.template.ExecuteHTTP(w, r, data)
}
