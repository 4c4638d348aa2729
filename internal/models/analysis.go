package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// PartStatus tracks the follow-up panels (visual, shopping) independently
// of the trend report.
type PartStatus string

const (
	PartPending   PartStatus = "pending"
	PartCompleted PartStatus = "completed"
	PartFailed    PartStatus = "failed"
	PartSkipped   PartStatus = "skipped"
)

// VisualFailurePrefix is prepended to visual generation errors; the report
// stays valid when only the visual fails.
const VisualFailurePrefix = "Trend Analysis successful, but visual generation failed: "

type Analysis struct {
	ID     int64          `json:"id"`
	UserID int64          `json:"user_id"`
	Status AnalysisStatus `json:"status"`

	SourceImageURL string      `json:"source_image_url,omitempty"`
	SourceMIMEType string      `json:"source_mime_type,omitempty"`
	ImageConfig    ImageConfig `json:"image_config"`

	Report       *TrendReport `json:"report,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`

	VisualStatus PartStatus `json:"visual_status"`
	VisualURL    *string    `json:"visual_url,omitempty"`
	VisualError  *string    `json:"visual_error,omitempty"`

	ShoppingStatus PartStatus      `json:"shopping_status"`
	Shopping       *ShoppingResult `json:"shopping,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewAnalysis holds the values known when an upload is accepted.
type NewAnalysis struct {
	SourceMIMEType string
	ImageConfig    ImageConfig
}

type AnalysisService struct {
	pool *pgxpool.Pool
}

func NewAnalysisService(pool *pgxpool.Pool) *AnalysisService {
	return &AnalysisService{pool: pool}
}

const analysisColumns = `
	id, user_id, status, source_image_url, source_mime_type, aspect_ratio, image_size,
	report, error_message, visual_status, visual_url, visual_error,
	shopping_status, shopping_summary, shopping_items, created_at, started_at, completed_at`

func (s *AnalysisService) Create(ctx context.Context, userID int64, in NewAnalysis) (*Analysis, error) {
	query := `
		INSERT INTO analyses (user_id, status, source_mime_type, aspect_ratio, image_size, visual_status, shopping_status)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING ` + analysisColumns

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, query, userID, StatusPending, in.SourceMIMEType,
		in.ImageConfig.AspectRatio, in.ImageConfig.ImageSize, PartPending)

	analysis, err := scanAnalysis(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create analysis: %w", err)
	}
	return analysis, nil
}

func (s *AnalysisService) MarkProcessing(ctx context.Context, analysisID int64) error {
	return s.exec(ctx, "mark analysis as processing", `
		UPDATE analyses
		SET status = $1, started_at = NOW()
		WHERE id = $2
	`, StatusProcessing, analysisID)
}

func (s *AnalysisService) SetSourceImage(ctx context.Context, analysisID int64, url string) error {
	return s.exec(ctx, "store source image", `
		UPDATE analyses SET source_image_url = $1 WHERE id = $2
	`, url, analysisID)
}

// CompleteReport stores the trend report and marks the analysis completed.
// Follow-up panels keep their own status.
func (s *AnalysisService) CompleteReport(ctx context.Context, analysisID int64, report *TrendReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	return s.exec(ctx, "complete analysis", `
		UPDATE analyses
		SET status = $1, report = $2, error_message = NULL, completed_at = NOW()
		WHERE id = $3
	`, StatusCompleted, reportJSON, analysisID)
}

// Fail marks the analysis as failed with an error message. Pending follow-ups
// are skipped since there is no report to build on.
func (s *AnalysisService) Fail(ctx context.Context, analysisID int64, errorMsg string) error {
	return s.exec(ctx, "mark analysis as failed", `
		UPDATE analyses
		SET status = $1, error_message = $2, visual_status = $3, shopping_status = $3, completed_at = NOW()
		WHERE id = $4
	`, StatusFailed, errorMsg, PartSkipped, analysisID)
}

func (s *AnalysisService) CompleteVisual(ctx context.Context, analysisID int64, url string) error {
	return s.exec(ctx, "complete visual", `
		UPDATE analyses
		SET visual_status = $1, visual_url = $2, visual_error = NULL
		WHERE id = $3
	`, PartCompleted, url, analysisID)
}

// FailVisual records a visual generation failure without touching the report.
func (s *AnalysisService) FailVisual(ctx context.Context, analysisID int64, errorMsg string) error {
	return s.exec(ctx, "fail visual", `
		UPDATE analyses
		SET visual_status = $1, visual_error = $2
		WHERE id = $3
	`, PartFailed, errorMsg, analysisID)
}

func (s *AnalysisService) SkipVisual(ctx context.Context, analysisID int64) error {
	return s.exec(ctx, "skip visual", `
		UPDATE analyses SET visual_status = $1 WHERE id = $2
	`, PartSkipped, analysisID)
}

func (s *AnalysisService) CompleteShopping(ctx context.Context, analysisID int64, result *ShoppingResult) error {
	items := result.Items
	if items == nil {
		items = []ShoppingItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to marshal shopping items: %w", err)
	}

	return s.exec(ctx, "complete shopping", `
		UPDATE analyses
		SET shopping_status = $1, shopping_summary = $2, shopping_items = $3
		WHERE id = $4
	`, PartCompleted, result.Summary, itemsJSON, analysisID)
}

// InterruptedMessages are stored on work a previous process left unfinished.
type InterruptedMessages struct {
	Analysis        string
	Visual          string
	ShoppingSummary string
}

// FailInterrupted settles every record still marked as in progress. Pending
// or processing analyses fail and skip their panels. Completed analyses get
// a failed visual and an unavailable shopping panel. It returns the number
// of rows changed.
func (s *AnalysisService) FailInterrupted(ctx context.Context, msgs InterruptedMessages) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var total int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		steps := []struct {
			query string
			args  []any
		}{
			{`
				UPDATE analyses
				SET status = $1, error_message = $2, visual_status = $3, shopping_status = $3, completed_at = NOW()
				WHERE status IN ($4, $5)
			`, []any{StatusFailed, msgs.Analysis, PartSkipped, StatusPending, StatusProcessing}},
			{`
				UPDATE analyses
				SET visual_status = $1, visual_error = $2
				WHERE status = $3 AND visual_status = $4
			`, []any{PartFailed, msgs.Visual, StatusCompleted, PartPending}},
			{`
				UPDATE analyses
				SET shopping_status = $1, shopping_summary = $2, shopping_items = '[]'::jsonb
				WHERE status = $3 AND shopping_status = $4
			`, []any{PartCompleted, msgs.ShoppingSummary, StatusCompleted, PartPending}},
		}
		for _, step := range steps {
			result, err := tx.Exec(ctx, step.query, step.args...)
			if err != nil {
				return err
			}
			total += result.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to settle interrupted analyses: %w", err)
	}
	return total, nil
}

func (s *AnalysisService) ByID(ctx context.Context, id int64) (*Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	analysis, err := scanAnalysis(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return analysis, nil
}

func (s *AnalysisService) ByUserID(ctx context.Context, userID int64, limit int) ([]*Analysis, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + analysisColumns + `
		FROM analyses
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	var analyses []*Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		analyses = append(analyses, analysis)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analyses: %w", err)
	}

	return analyses, nil
}

// CountByStatus returns counts of analyses grouped by status for a user.
func (s *AnalysisService) CountByStatus(ctx context.Context, userID int64) (map[AnalysisStatus]int, error) {
	query := `
		SELECT status, COUNT(*)
		FROM analyses
		WHERE user_id = $1
		GROUP BY status
	`

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count analyses by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[AnalysisStatus]int)
	for rows.Next() {
		var status AnalysisStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}

	return counts, rows.Err()
}

func (s *AnalysisService) Delete(ctx context.Context, id int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrAnalysisNotFound
	}

	return nil
}

func (s *AnalysisService) exec(ctx context.Context, action, query string, args ...any) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	return nil
}

func scanAnalysis(row pgx.Row) (*Analysis, error) {
	var (
		a               Analysis
		sourceURL       *string
		sourceMIME      *string
		reportJSON      []byte
		shoppingSummary *string
		shoppingItems   []byte
	)

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.Status,
		&sourceURL,
		&sourceMIME,
		&a.ImageConfig.AspectRatio,
		&a.ImageConfig.ImageSize,
		&reportJSON,
		&a.ErrorMessage,
		&a.VisualStatus,
		&a.VisualURL,
		&a.VisualError,
		&a.ShoppingStatus,
		&shoppingSummary,
		&shoppingItems,
		&a.CreatedAt,
		&a.StartedAt,
		&a.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if sourceURL != nil {
		a.SourceImageURL = *sourceURL
	}
	if sourceMIME != nil {
		a.SourceMIMEType = *sourceMIME
	}

	if len(reportJSON) > 0 {
		var report TrendReport
		if err := json.Unmarshal(reportJSON, &report); err != nil {
			return nil, fmt.Errorf("failed to decode report: %w", err)
		}
		a.Report = &report
	}

	if shoppingSummary != nil {
		a.Shopping = &ShoppingResult{Summary: *shoppingSummary, Items: []ShoppingItem{}}
		if len(shoppingItems) > 0 {
			if err := json.Unmarshal(shoppingItems, &a.Shopping.Items); err != nil {
				return nil, fmt.Errorf("failed to decode shopping items: %w", err)
			}
		}
	}

	return &a, nil
}

// HELPER FUNCS --------------------------------

// Duration returns how long the trend analysis took.
// Returns 0 if not completed.
func (a *Analysis) Duration() time.Duration {
	if a.StartedAt == nil || a.CompletedAt == nil {
		return 0
	}
	return a.CompletedAt.Sub(*a.StartedAt)
}

func (a *Analysis) IsCompleted() bool {
	return a.Status == StatusCompleted
}

func (a *Analysis) IsFailed() bool {
	return a.Status == StatusFailed
}

// IsAnalyzing reports whether the trend report is still being produced.
func (a *Analysis) IsAnalyzing() bool {
	return a.Status == StatusPending || a.Status == StatusProcessing
}

func (a *Analysis) IsGeneratingImage() bool {
	return a.IsCompleted() && a.VisualStatus == PartPending
}

func (a *Analysis) IsSearchingShopping() bool {
	return a.IsCompleted() && a.ShoppingStatus == PartPending
}

// HasPendingParts reports whether any follow-up is still running.
func (a *Analysis) HasPendingParts() bool {
	return a.IsAnalyzing() || a.IsGeneratingImage() || a.IsSearchingShopping()
}

// DisplayError returns the single error shown to the user: a failed analysis
// wins over a failed visual.
func (a *Analysis) DisplayError() string {
	if a.ErrorMessage != nil && *a.ErrorMessage != "" {
		return *a.ErrorMessage
	}
	if a.VisualError != nil {
		return *a.VisualError
	}
	return ""
}

// Title returns the product name when a report exists.
func (a *Analysis) Title() string {
	if a.Report != nil && a.Report.BestSellerConcept.ProductName != "" {
		return a.Report.BestSellerConcept.ProductName
	}
	return fmt.Sprintf("Analysis #%d", a.ID)
}
