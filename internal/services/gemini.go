package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/rahul4469/vastra-vibes/internal/metrics"
	"github.com/rahul4469/vastra-vibes/internal/models"
)

const (
	analysisTemperature = 0
	analysisSeed        = 42

	defaultChatReply   = "I couldn't generate a response."
	defaultSourceTitle = "Product Link"
	defaultSourceURI   = "#"
	defaultSourceHost  = "google.com"
	defaultImageMIME   = "image/png"
)

// Operation labels used for metrics and logs.
const (
	OpAnalyze  = "analyze"
	OpVisual   = "visual"
	OpShopping = "shopping"
	OpChat     = "chat"
)

// TrendModel is the hosted model surface used by the analysis pipeline.
type TrendModel interface {
	AnalyzeTrend(ctx context.Context, image []byte, mimeType string) (*models.TrendReport, error)
	GenerateVisual(ctx context.Context, req VisualRequest) (*GeneratedImage, error)
	FindSimilarProducts(ctx context.Context, query string) *models.ShoppingResult
}

// ChatModel answers a single conversational turn.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatReply, error)
}

// VisualRequest describes one product visual. APIKey, when set, replaces
// the server key for this call.
type VisualRequest struct {
	Prompt string
	Config models.ImageConfig
	APIKey string
}

type GeneratedImage struct {
	Data     []byte
	MIMEType string
}

type ChatRequest struct {
	SystemInstruction string
	History           []models.ChatMessage
	Message           string
}

type ChatReply struct {
	Text    string
	Sources []models.ShoppingItem
}

type GeminiConfig struct {
	APIKey            string
	BaseURL           string
	AnalysisModel     string
	ImageModel        string
	SearchModel       string
	ChatModel         string
	RequestTimeout    time.Duration
	RequestsPerMinute int
}

// GeminiClient talks to the hosted Gemini API. All calls share one rate
// limiter.
type GeminiClient struct {
	cfg        GeminiConfig
	client     *genai.Client
	httpClient *http.Client
	limiter    *rate.Limiter
	schema     *gojsonschema.Schema
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewGeminiClient creates a client bound to the server API key.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, m *metrics.Metrics, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(trendReportJSONSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile trend report schema: %w", err)
	}

	g := &GeminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		schema:     schema,
		metrics:    m,
		logger:     logger.Named("gemini"),
	}

	g.client, err = g.newClient(ctx, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GeminiClient) newClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// generate waits for the limiter, performs the call and records it.
func (g *GeminiClient) generate(ctx context.Context, client *genai.Client, op, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		g.metrics.ObserveAI(op, metrics.OutcomeError, start)
		g.logger.Warn("model call failed",
			zap.String("operation", op),
			zap.String("model", model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	g.metrics.ObserveAI(op, metrics.OutcomeSuccess, start)
	g.logger.Debug("model call completed",
		zap.String("operation", op),
		zap.String("model", model),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// AnalyzeTrend asks the model for a trend report of the given photo.
func (g *GeminiClient) AnalyzeTrend(ctx context.Context, image []byte, mimeType string) (*models.TrendReport, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(image, mimeType),
			genai.NewPartFromText(trendAnalysisPrompt),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(trendSystemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    trendReportSchema,
		Temperature:       genai.Ptr[float32](analysisTemperature),
		Seed:              genai.Ptr[int32](analysisSeed),
	}

	resp, err := g.generate(ctx, g.client, OpAnalyze, g.cfg.AnalysisModel, contents, config)
	if err != nil {
		return nil, FriendlyError(err)
	}

	report, err := decodeReport(g.schema, resp.Text())
	if err != nil {
		return nil, FriendlyError(err)
	}
	return report, nil
}

// GenerateVisual renders a product image from the concept prompt.
func (g *GeminiClient) GenerateVisual(ctx context.Context, req VisualRequest) (*GeneratedImage, error) {
	client := g.client
	if req.APIKey != "" && req.APIKey != g.cfg.APIKey {
		var err error
		client, err = g.newClient(ctx, req.APIKey)
		if err != nil {
			return nil, FriendlyError(err)
		}
	}

	cfg := req.Config
	if cfg.AspectRatio == "" || cfg.ImageSize == "" {
		cfg = models.DefaultImageConfig()
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt+visualPromptSuffix, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{
			AspectRatio: string(cfg.AspectRatio),
			ImageSize:   string(cfg.ImageSize),
		},
	}

	resp, err := g.generate(ctx, client, OpVisual, g.cfg.ImageModel, contents, config)
	if err != nil {
		return nil, FriendlyError(err)
	}

	img, err := extractImage(resp)
	if err != nil {
		return nil, FriendlyError(err)
	}
	return img, nil
}

// FindSimilarProducts runs a search grounded query for buyable products. It
// never fails; errors degrade to an empty result.
func (g *GeminiClient) FindSimilarProducts(ctx context.Context, query string) *models.ShoppingResult {
	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(shoppingPromptTemplate, query), genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	resp, err := g.generate(ctx, g.client, OpShopping, g.cfg.SearchModel, contents, config)
	if err != nil {
		g.logger.Error("shopping search error", zap.String("query", query), zap.Error(err))
		return models.UnavailableShopping()
	}
	return extractShopping(resp)
}

// Chat answers one message given the prior conversation.
func (g *GeminiClient) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, ErrEmptyMessage
	}

	contents := chatHistory(req.History)
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}

	resp, err := g.generate(ctx, g.client, OpChat, g.cfg.ChatModel, contents, config)
	if err != nil {
		return nil, FriendlyError(err)
	}

	text := resp.Text()
	if text == "" {
		text = defaultChatReply
	}
	return &ChatReply{Text: text, Sources: chatSources(resp)}, nil
}

// decodeReport parses and validates the model's JSON answer.
func decodeReport(schema *gojsonschema.Schema, text string) (*models.TrendReport, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(text))
	if err != nil {
		return nil, &AIError{Message: ErrMalformedReport.Error(), Err: err}
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, &AIError{
			Message: ErrMalformedReport.Error(),
			Err:     fmt.Errorf("%w: %s", ErrMalformedReport, strings.Join(problems, "; ")),
		}
	}

	var report models.TrendReport
	if err := json.Unmarshal([]byte(text), &report); err != nil {
		return nil, &AIError{Message: ErrMalformedReport.Error(), Err: err}
	}
	return &report, nil
}

// extractImage returns the first inline data part of the first candidate.
func extractImage(resp *genai.GenerateContentResponse) (*GeneratedImage, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrNoImage
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mimeType := part.InlineData.MIMEType
		if mimeType == "" {
			mimeType = defaultImageMIME
		}
		return &GeneratedImage{Data: part.InlineData.Data, MIMEType: mimeType}, nil
	}
	return nil, ErrNoImage
}

func extractShopping(resp *genai.GenerateContentResponse) *models.ShoppingResult {
	result := &models.ShoppingResult{Summary: resp.Text(), Items: []models.ShoppingItem{}}
	if result.Summary == "" {
		result.Summary = models.ShoppingNoDetails
	}

	for _, web := range groundingWebs(resp) {
		item := models.ShoppingItem{Title: web.Title, URI: web.URI}
		if item.Title == "" {
			item.Title = defaultSourceTitle
		}
		if item.URI == "" {
			item.URI = defaultSourceURI
		}
		item.Source = sourceHost(web.URI)
		result.Items = append(result.Items, item)
	}
	return result
}

// chatSources keeps only citations carrying both a title and a link.
func chatSources(resp *genai.GenerateContentResponse) []models.ShoppingItem {
	var sources []models.ShoppingItem
	for _, web := range groundingWebs(resp) {
		if web.Title == "" || web.URI == "" {
			continue
		}
		sources = append(sources, models.ShoppingItem{
			Title:  web.Title,
			URI:    web.URI,
			Source: sourceHost(web.URI),
		})
	}
	return sources
}

func groundingWebs(resp *genai.GenerateContentResponse) []*genai.GroundingChunkWeb {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil {
		return nil
	}

	var webs []*genai.GroundingChunkWeb
	for _, chunk := range meta.GroundingChunks {
		if chunk != nil && chunk.Web != nil {
			webs = append(webs, chunk.Web)
		}
	}
	return webs
}

// sourceHost returns the link's hostname without a leading "www.".
func sourceHost(uri string) string {
	if uri == "" {
		return defaultSourceHost
	}
	u, err := url.Parse(uri)
	if err != nil || u.Hostname() == "" {
		return defaultSourceHost
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// chatHistory converts stored turns into model contents. UI-only messages
// are left out.
func chatHistory(history []models.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		if msg.Local || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		role := genai.Role(genai.RoleModel)
		if msg.IsUser() {
			role = genai.RoleUser
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	return contents
}
