package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/rahul4469/vastra-vibes/internal/models"
)

const sampleReportJSON = `{
  "location_context": "Bandra street market, Mumbai",
  "the_vibe": "Indo-western festive casual",
  "winning_attributes": {
    "silhouette": "Angrakha wrap top",
    "fabric_print": "Ajrakh block print",
    "color_palette": "Indigo (#2E3A87), Madder Red (#A52A2A)"
  },
  "best_seller_concept": {
    "product_name": "Indigo Ajrakh Angrakha",
    "design_rationale": "Mid-weight cotton keeps the BOM low.",
    "image_generation_prompt": "An indigo Ajrakh angrakha top on a mannequin"
  },
  "manufacturing_specs": {
    "procurement_intent": "Festive casual",
    "fabric_primary": "Cotton Cambric",
    "fabric_print": "Ajrakh",
    "estimated_gsm": 110,
    "sourcing_hub_suggestion": "Kutch, Gujarat"
  }
}`

func testSchema(t *testing.T) *gojsonschema.Schema {
	t.Helper()
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(trendReportJSONSchema))
	require.NoError(t, err)
	return schema
}

func TestDecodeReport(t *testing.T) {
	report, err := decodeReport(testSchema(t), sampleReportJSON)
	require.NoError(t, err)

	assert.Equal(t, "Indigo Ajrakh Angrakha", report.BestSellerConcept.ProductName)
	assert.Equal(t, 110, report.ManufacturingSpecs.EstimatedGSM)
	assert.Equal(t, "Angrakha wrap top", report.WinningAttributes.Silhouette)
}

func TestDecodeReportFailures(t *testing.T) {
	schema := testSchema(t)

	_, err := decodeReport(schema, "   ")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = decodeReport(schema, "{not json")
	require.Error(t, err)
	assert.Equal(t, ErrMalformedReport.Error(), err.Error())

	missing := strings.Replace(sampleReportJSON, `"the_vibe": "Indo-western festive casual",`, "", 1)
	_, err = decodeReport(schema, missing)
	require.Error(t, err)
	assert.Equal(t, ErrMalformedReport.Error(), err.Error())
	assert.ErrorIs(t, err, ErrMalformedReport)

	wrongType := strings.Replace(sampleReportJSON, `"estimated_gsm": 110`, `"estimated_gsm": "heavy"`, 1)
	_, err = decodeReport(schema, wrongType)
	assert.Error(t, err)
}

func TestExtractImage(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Here is your design"},
				{InlineData: &genai.Blob{Data: []byte{0x89, 'P', 'N', 'G'}}},
				{InlineData: &genai.Blob{Data: []byte("second"), MIMEType: "image/jpeg"}},
			}},
		}},
	}

	img, err := extractImage(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img.Data)
	assert.Equal(t, "image/png", img.MIMEType)
}

func TestExtractImageMissing(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
	}{
		{"nil response", nil},
		{"no candidates", &genai.GenerateContentResponse{}},
		{"text only", &genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{{Text: "sorry"}}},
			}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extractImage(tt.resp)
			assert.ErrorIs(t, err, ErrNoImage)
		})
	}
}

func groundedResponse(text string, webs ...*genai.GroundingChunkWeb) *genai.GenerateContentResponse {
	chunks := make([]*genai.GroundingChunk, 0, len(webs)+1)
	chunks = append(chunks, &genai.GroundingChunk{})
	for _, w := range webs {
		chunks = append(chunks, &genai.GroundingChunk{Web: w})
	}

	var parts []*genai.Part
	if text != "" {
		parts = append(parts, &genai.Part{Text: text})
	}

	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:           &genai.Content{Parts: parts, Role: "model"},
			GroundingMetadata: &genai.GroundingMetadata{GroundingChunks: chunks},
		}},
	}
}

func TestExtractShopping(t *testing.T) {
	resp := groundedResponse("Prices range from ₹1,200 to ₹2,500.",
		&genai.GroundingChunkWeb{Title: "Ajrakh Kurta", URI: "https://www.myntra.com/kurta/123"},
		&genai.GroundingChunkWeb{URI: "https://ajio.com/p/9"},
		&genai.GroundingChunkWeb{Title: "No link"},
	)

	result := extractShopping(resp)

	assert.Equal(t, "Prices range from ₹1,200 to ₹2,500.", result.Summary)
	require.Len(t, result.Items, 3)
	assert.Equal(t, models.ShoppingItem{Title: "Ajrakh Kurta", URI: "https://www.myntra.com/kurta/123", Source: "myntra.com"}, result.Items[0])
	assert.Equal(t, models.ShoppingItem{Title: "Product Link", URI: "https://ajio.com/p/9", Source: "ajio.com"}, result.Items[1])
	assert.Equal(t, models.ShoppingItem{Title: "No link", URI: "#", Source: "google.com"}, result.Items[2])
}

func TestExtractShoppingDefaults(t *testing.T) {
	result := extractShopping(groundedResponse(""))

	assert.Equal(t, models.ShoppingNoDetails, result.Summary)
	assert.NotNil(t, result.Items)
	assert.Empty(t, result.Items)
}

func TestChatSources(t *testing.T) {
	resp := groundedResponse("answer",
		&genai.GroundingChunkWeb{Title: "Fabindia", URI: "https://www.fabindia.com/x"},
		&genai.GroundingChunkWeb{Title: "untitled link missing"},
		&genai.GroundingChunkWeb{URI: "https://example.com"},
	)

	sources := chatSources(resp)
	require.Len(t, sources, 1)
	assert.Equal(t, "Fabindia", sources[0].Title)
	assert.Equal(t, "fabindia.com", sources[0].Source)
}

func TestChatHistorySkipsLocalMessages(t *testing.T) {
	history := []models.ChatMessage{
		models.NewLocalMessage(models.SenderAI, "Namaste!"),
		models.NewChatMessage(models.SenderUser, "What fabric?"),
		models.NewChatMessage(models.SenderAI, "Cotton cambric."),
		models.NewLocalMessage(models.SenderAI, "Sorry, I encountered an error."),
	}

	contents := chatHistory(history)
	require.Len(t, contents, 2)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "Cotton cambric.", contents[1].Parts[0].Text)
}

// fakeGemini serves canned generateContent responses and records request
// bodies.
type fakeGemini struct {
	mu       sync.Mutex
	status   int
	body     string
	requests []map[string]any
}

func (f *fakeGemini) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(raw, &req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	_, _ = io.WriteString(w, f.body)
}

func (f *fakeGemini) recorded() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.requests...)
}

func textResponse(t *testing.T, text string) string {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"role":  "model",
				"parts": []any{map[string]any{"text": text}},
			},
		}},
	})
	require.NoError(t, err)
	return string(body)
}

func newTestClient(t *testing.T, fake *fakeGemini) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewGeminiClient(context.Background(), GeminiConfig{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		AnalysisModel:     "gemini-3-pro-preview",
		ImageModel:        "gemini-3-pro-image-preview",
		SearchModel:       "gemini-3-pro-preview",
		ChatModel:         "gemini-3-pro-preview",
		RequestsPerMinute: 6000,
	}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return client
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), GeminiConfig{}, nil, nil)
	assert.Error(t, err)
}

func TestGeminiAnalyzeTrend(t *testing.T) {
	fake := &fakeGemini{status: http.StatusOK, body: textResponse(t, sampleReportJSON)}
	client := newTestClient(t, fake)

	report, err := client.AnalyzeTrend(context.Background(), []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "Kutch, Gujarat", report.ManufacturingSpecs.SourcingHubSuggestion)

	requests := fake.recorded()
	require.Len(t, requests, 1)
	cfg, ok := requests[0]["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/json", cfg["responseMimeType"])
	assert.EqualValues(t, 42, cfg["seed"])
	assert.NotNil(t, requests[0]["systemInstruction"])
}

func TestGeminiAnalyzeTrendMapsErrors(t *testing.T) {
	fake := &fakeGemini{
		status: http.StatusBadRequest,
		body:   `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`,
	}
	client := newTestClient(t, fake)

	_, err := client.AnalyzeTrend(context.Background(), []byte("jpeg-bytes"), "image/jpeg")
	require.Error(t, err)
	assert.Equal(t, msgAuthFailed, err.Error())

	var aiErr *AIError
	assert.True(t, errors.As(err, &aiErr))
}

func TestGeminiFindSimilarProductsDegrades(t *testing.T) {
	fake := &fakeGemini{
		status: http.StatusBadRequest,
		body:   `{"error":{"code":400,"message":"Search tool unavailable","status":"FAILED_PRECONDITION"}}`,
	}
	client := newTestClient(t, fake)

	result := client.FindSimilarProducts(context.Background(), "Buy indigo angrakha online India")
	assert.Equal(t, models.ShoppingUnavailable, result.Summary)
	assert.Empty(t, result.Items)
}

func TestGeminiChat(t *testing.T) {
	fake := &fakeGemini{status: http.StatusOK, body: textResponse(t, "Cotton cambric costs less.")}
	client := newTestClient(t, fake)

	reply, err := client.Chat(context.Background(), ChatRequest{
		SystemInstruction: chatBaseInstruction,
		History: []models.ChatMessage{
			models.NewLocalMessage(models.SenderAI, welcomeMessage),
			models.NewChatMessage(models.SenderUser, "Hi"),
			models.NewChatMessage(models.SenderAI, "Hello!"),
		},
		Message: "Which fabric is cheapest?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Cotton cambric costs less.", reply.Text)
	assert.Empty(t, reply.Sources)

	requests := fake.recorded()
	require.Len(t, requests, 1)
	contents, ok := requests[0]["contents"].([]any)
	require.True(t, ok)
	assert.Len(t, contents, 3)
}

func TestGeminiChatRejectsEmptyMessage(t *testing.T) {
	client := newTestClient(t, &fakeGemini{status: http.StatusOK})

	_, err := client.Chat(context.Background(), ChatRequest{Message: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}
