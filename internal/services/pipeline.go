package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rahul4469/vastra-vibes/internal/metrics"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/upload"
)

const DefaultFollowUpTimeout = 3 * time.Minute

// AnalysisStore persists the analysis lifecycle.
type AnalysisStore interface {
	Create(ctx context.Context, userID int64, in models.NewAnalysis) (*models.Analysis, error)
	MarkProcessing(ctx context.Context, analysisID int64) error
	SetSourceImage(ctx context.Context, analysisID int64, url string) error
	CompleteReport(ctx context.Context, analysisID int64, report *models.TrendReport) error
	Fail(ctx context.Context, analysisID int64, errorMsg string) error
	CompleteVisual(ctx context.Context, analysisID int64, url string) error
	FailVisual(ctx context.Context, analysisID int64, errorMsg string) error
	SkipVisual(ctx context.Context, analysisID int64) error
	CompleteShopping(ctx context.Context, analysisID int64, result *models.ShoppingResult) error
	FailInterrupted(ctx context.Context, msgs models.InterruptedMessages) (int64, error)
}

// ImageStore saves image bytes and returns the URL they are served from.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

// QuotaCharger reserves analyses against a user's quota. ChargeAnalysis
// returns models.ErrQuotaExceeded when none are left.
type QuotaCharger interface {
	ChargeAnalysis(ctx context.Context, userID int64) error
	RefundAnalysis(ctx context.Context, userID int64) error
}

type ChatSeeder interface {
	Seed(ctx context.Context, key string, report *models.TrendReport) error
}

type AnalyzeInput struct {
	UserID      int64
	Image       *upload.Image
	ImageConfig models.ImageConfig

	// VisualAPIKey is the user's own key for image generation, if any.
	VisualAPIKey string
}

// TrendPipeline runs an analysis and its two follow-ups.
type TrendPipeline struct {
	model    TrendModel
	analyses AnalysisStore
	images   ImageStore
	quota    QuotaCharger
	chat     ChatSeeder
	metrics  *metrics.Metrics
	logger   *zap.Logger

	FollowUpTimeout time.Duration

	wg sync.WaitGroup
}

func NewTrendPipeline(model TrendModel, analyses AnalysisStore, images ImageStore, quota QuotaCharger, chat ChatSeeder, m *metrics.Metrics, logger *zap.Logger) *TrendPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrendPipeline{
		model:           model,
		analyses:        analyses,
		images:          images,
		quota:           quota,
		chat:            chat,
		metrics:         m,
		logger:          logger.Named("pipeline"),
		FollowUpTimeout: DefaultFollowUpTimeout,
	}
}

// ChatKey is the transcript key of an analysis.
func ChatKey(analysisID int64) string {
	return "analysis:" + strconv.FormatInt(analysisID, 10)
}

// Run analyzes the uploaded photo and returns once the report is stored.
// Visual generation and the shopping search continue in the background.
// When the analysis itself fails, the failed record is returned together
// with the display error.
//
// One analysis is reserved from the user's quota before the model is
// called and refunded when no report comes out of it. A user without
// quota gets models.ErrQuotaExceeded and no record.
func (p *TrendPipeline) Run(ctx context.Context, in AnalyzeInput) (*models.Analysis, error) {
	if in.Image == nil || len(in.Image.Data) == 0 {
		return nil, models.FileError{Issue: "Please choose an image to upload."}
	}

	if err := p.quota.ChargeAnalysis(ctx, in.UserID); err != nil {
		return nil, err
	}
	refund := func(log *zap.Logger) {
		if err := p.quota.RefundAnalysis(context.WithoutCancel(ctx), in.UserID); err != nil {
			log.Error("failed to refund analysis quota", zap.Error(err))
		}
	}

	analysis, err := p.analyses.Create(ctx, in.UserID, models.NewAnalysis{
		SourceMIMEType: in.Image.MIMEType,
		ImageConfig:    in.ImageConfig,
	})
	if err != nil {
		refund(p.logger.With(zap.Int64("user_id", in.UserID)))
		return nil, err
	}
	log := p.logger.With(zap.Int64("analysis_id", analysis.ID), zap.Int64("user_id", in.UserID))

	// abort fails the record so it never stays pending, then gives the
	// quota back.
	abort := func(msg string) {
		if ferr := p.analyses.Fail(context.WithoutCancel(ctx), analysis.ID, msg); ferr != nil {
			log.Error("failed to mark analysis failed", zap.Error(ferr))
		}
		refund(log)
	}

	if err := p.analyses.MarkProcessing(ctx, analysis.ID); err != nil {
		log.Error("failed to start analysis", zap.Error(err))
		abort(MsgStoreFailed)
		return nil, err
	}
	analysis.Status = models.StatusProcessing

	key := fmt.Sprintf("analyses/%d/source%s", analysis.ID, upload.Extension(in.Image.MIMEType))
	if url, err := p.images.Put(ctx, key, in.Image.Data, in.Image.MIMEType); err != nil {
		log.Warn("failed to store source image", zap.Error(err))
	} else if err := p.analyses.SetSourceImage(ctx, analysis.ID, url); err != nil {
		log.Warn("failed to record source image", zap.Error(err))
	} else {
		analysis.SourceImageURL = url
	}

	report, err := p.model.AnalyzeTrend(ctx, in.Image.Data, in.Image.MIMEType)
	if err != nil {
		msg := DisplayMessage(err, MsgAnalysisFallback)
		log.Warn("trend analysis failed", zap.String("message", msg), zap.Error(err))
		p.metrics.ObserveAnalysis(metrics.OutcomeError)

		abort(msg)
		analysis.Status = models.StatusFailed
		analysis.ErrorMessage = &msg
		return analysis, FriendlyError(err)
	}

	if err := p.analyses.CompleteReport(ctx, analysis.ID, report); err != nil {
		log.Error("failed to store trend report", zap.Error(err))
		p.metrics.ObserveAnalysis(metrics.OutcomeError)
		abort(MsgStoreFailed)
		return nil, err
	}
	analysis.Status = models.StatusCompleted
	analysis.Report = report

	if err := p.chat.Seed(ctx, ChatKey(analysis.ID), report); err != nil {
		log.Warn("failed to seed chat", zap.Error(err))
	}

	// follow-ups outlive the request
	bg := context.WithoutCancel(ctx)
	p.followUp(bg, log, "shopping", func(ctx context.Context) {
		p.runShopping(ctx, log, analysis.ID, report)
	})
	p.followUp(bg, log, "visual", func(ctx context.Context) {
		p.runVisual(ctx, log, analysis.ID, report, in)
	})

	log.Info("trend analysis completed", zap.String("product", report.BestSellerConcept.ProductName))
	return analysis, nil
}

// RecoverInterrupted settles records left unfinished by a previous process:
// unfinished analyses fail, and pending panels of completed ones get their
// degraded result. It must run before the server accepts uploads.
func (p *TrendPipeline) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := p.analyses.FailInterrupted(ctx, models.InterruptedMessages{
		Analysis:        MsgInterrupted,
		Visual:          models.VisualFailurePrefix + MsgInterrupted,
		ShoppingSummary: models.ShoppingUnavailable,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted analyses: %w", err)
	}
	if n > 0 {
		p.logger.Info("recovered interrupted analyses", zap.Int64("count", n))
	}
	return n, nil
}

// Wait blocks until every outstanding follow-up has finished.
func (p *TrendPipeline) Wait() {
	p.wg.Wait()
}

func (p *TrendPipeline) followUp(ctx context.Context, log *zap.Logger, name string, fn func(ctx context.Context)) {
	p.wg.Add(1)
	p.metrics.FollowUpStarted()

	go func() {
		defer p.wg.Done()
		defer p.metrics.FollowUpDone()
		defer func() {
			if r := recover(); r != nil {
				log.Error("follow-up panicked", zap.String("follow_up", name), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(ctx, p.FollowUpTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (p *TrendPipeline) runShopping(ctx context.Context, log *zap.Logger, analysisID int64, report *models.TrendReport) {
	result := p.model.FindSimilarProducts(ctx, report.ShoppingQuery())
	if result == nil {
		result = models.UnavailableShopping()
	}

	if err := p.analyses.CompleteShopping(ctx, analysisID, result); err != nil {
		log.Error("failed to save shopping results", zap.Error(err))
		return
	}
	log.Debug("shopping search completed", zap.Int("items", len(result.Items)))
}

func (p *TrendPipeline) runVisual(ctx context.Context, log *zap.Logger, analysisID int64, report *models.TrendReport, in AnalyzeInput) {
	prompt := strings.TrimSpace(report.BestSellerConcept.ImageGenerationPrompt)
	if prompt == "" {
		if err := p.analyses.SkipVisual(ctx, analysisID); err != nil {
			log.Error("failed to skip visual", zap.Error(err))
		}
		p.metrics.ObserveAnalysis(metrics.OutcomeSuccess)
		return
	}

	img, err := p.model.GenerateVisual(ctx, VisualRequest{
		Prompt: prompt,
		Config: in.ImageConfig,
		APIKey: in.VisualAPIKey,
	})

	var url string
	if err == nil {
		key := fmt.Sprintf("analyses/%d/visual%s", analysisID, upload.Extension(img.MIMEType))
		url, err = p.images.Put(ctx, key, img.Data, img.MIMEType)
	}

	if err != nil {
		msg := models.VisualFailurePrefix + DisplayMessage(err, msgUnexpected)
		log.Warn("visual generation failed", zap.Error(err))
		p.metrics.ObserveAnalysis(metrics.OutcomeDegraded)
		if ferr := p.analyses.FailVisual(ctx, analysisID, msg); ferr != nil {
			log.Error("failed to record visual failure", zap.Error(ferr))
		}
		return
	}

	if err := p.analyses.CompleteVisual(ctx, analysisID, url); err != nil {
		log.Error("failed to save visual", zap.Error(err))
		return
	}
	p.metrics.ObserveAnalysis(metrics.OutcomeSuccess)
}
