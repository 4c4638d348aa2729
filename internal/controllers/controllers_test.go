package controllers

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/models"
	"github.com/rahul4469/vastra-vibes/internal/services"
	"github.com/rahul4469/vastra-vibes/internal/storage"
	"github.com/rahul4469/vastra-vibes/internal/views"
	"github.com/rahul4469/vastra-vibes/templates"
)

func init() {
	views.TemplateFS = templates.FS
}

var (
	owner    = &models.User{ID: 1, Username: "meera", Email: "meera@boutique.in", AnalysesUsed: 1, AnalysesLimit: 5}
	stranger = &models.User{ID: 2, Username: "arjun", Email: "arjun@boutique.in", AnalysesLimit: 5}
)

// asUser signs every request in as user, like the session middleware.
func asUser(user *models.User) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(appctx.WithUser(r.Context(), user)))
		})
	}
}

func newRouter(user *models.User) *chi.Mux {
	r := chi.NewRouter()
	if user != nil {
		r.Use(asUser(user))
	}
	return r
}

func testReport() *models.TrendReport {
	return &models.TrendReport{
		LocationContext: "Sarojini Nagar, Delhi",
		TheVibe:         "Indo-western festive casual",
		WinningAttributes: models.WinningAttributes{
			Silhouette:   "Angrakha wrap top",
			FabricPrint:  "Ajrakh block print",
			ColorPalette: "Indigo (#2E3A87), Rust (#B7410E)",
		},
		BestSellerConcept: models.DesignConcept{
			ProductName:           "Indigo Ajrakh Angrakha",
			DesignRationale:       "Festive but easy to wear.",
			ImageGenerationPrompt: "An indigo angrakha",
		},
		ManufacturingSpecs: models.ManufacturingSpecs{
			FabricPrimary: "Cotton Cambric",
			EstimatedGSM:  120,
		},
	}
}

func completedAnalysis(id, userID int64) *models.Analysis {
	return &models.Analysis{
		ID:             id,
		UserID:         userID,
		Status:         models.StatusCompleted,
		ImageConfig:    models.DefaultImageConfig(),
		Report:         testReport(),
		VisualStatus:   models.PartPending,
		ShoppingStatus: models.PartCompleted,
		Shopping:       &models.ShoppingResult{Summary: "### Prices\n* From ₹999", Items: []models.ShoppingItem{}},
		CreatedAt:      time.Now(),
	}
}

type fakeAnalyses struct {
	mu      sync.Mutex
	items   map[int64]*models.Analysis
	deleted []int64
	listErr error
}

func newFakeAnalyses(analyses ...*models.Analysis) *fakeAnalyses {
	f := &fakeAnalyses{items: make(map[int64]*models.Analysis)}
	for _, a := range analyses {
		f.items[a.ID] = a
	}
	return f
}

func (f *fakeAnalyses) ByID(_ context.Context, id int64) (*models.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.items[id]
	if !ok {
		return nil, models.ErrAnalysisNotFound
	}
	return a, nil
}

func (f *fakeAnalyses) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[id]; !ok {
		return models.ErrAnalysisNotFound
	}
	delete(f.items, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAnalyses) ByUserID(_ context.Context, userID int64, limit int) ([]*models.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*models.Analysis
	for _, a := range f.items {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeAnalyses) CountByStatus(_ context.Context, userID int64) (map[models.AnalysisStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[models.AnalysisStatus]int)
	for _, a := range f.items {
		if a.UserID == userID {
			counts[a.Status]++
		}
	}
	return counts, nil
}

type fakePipeline struct {
	analysis *models.Analysis
	err      error
	inputs   []services.AnalyzeInput
}

func (f *fakePipeline) Run(_ context.Context, in services.AnalyzeInput) (*models.Analysis, error) {
	f.inputs = append(f.inputs, in)
	return f.analysis, f.err
}

type fakeChat struct {
	transcripts map[string][]models.ChatMessage
	reports     map[string]*models.TrendReport
	forgotten   []string
	sendErr     error
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		transcripts: make(map[string][]models.ChatMessage),
		reports:     make(map[string]*models.TrendReport),
	}
}

func (f *fakeChat) Transcript(_ context.Context, key string) ([]models.ChatMessage, error) {
	return f.transcripts[key], nil
}

func (f *fakeChat) Send(_ context.Context, key, text string, report *models.TrendReport) (*models.ChatMessage, error) {
	f.reports[key] = report
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if strings.TrimSpace(text) == "" {
		return nil, services.ErrEmptyMessage
	}
	reply := models.NewChatMessage(models.SenderAI, "echo: "+text)
	f.transcripts[key] = append(f.transcripts[key], models.NewChatMessage(models.SenderUser, text), reply)
	return &reply, nil
}

func (f *fakeChat) Forget(_ context.Context, key string) error {
	delete(f.transcripts, key)
	f.forgotten = append(f.forgotten, key)
	return nil
}

type fakeObjects struct {
	objects map[string][]byte
	deleted []string
}

func (f *fakeObjects) Open(_ context.Context, key string) (*storage.Object, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Object{Body: io.NopCloser(bytes.NewReader(data)), ContentType: "image/png", Size: int64(len(data))}, nil
}

func (f *fakeObjects) Delete(_ context.Context, prefix string) error {
	f.deleted = append(f.deleted, prefix)
	return nil
}

// multipartUpload builds a form with an "image" part of the given type.
func multipartUpload(t *testing.T, mimeType string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="look.jpg"`)
		h.Set("Content-Type", mimeType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

var jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x01}, 64)...)
