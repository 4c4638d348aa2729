package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	appctx "github.com/rahul4469/vastra-vibes/context"
	"github.com/rahul4469/vastra-vibes/internal/storage"
)

type ObjectOpener interface {
	Open(ctx context.Context, key string) (*storage.Object, error)
}

// ImagesController streams stored source photos and visuals to the user
// who owns the analysis.
type ImagesController struct {
	analyses AnalysisReader
	objects  ObjectOpener
}

func NewImagesController(analyses AnalysisReader, objects ObjectOpener) *ImagesController {
	return &ImagesController{analyses: analyses, objects: objects}
}

// GetImage serves GET /images/analyses/{id}/{name}.
func (c *ImagesController) GetImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")

	id, ok := imageAnalysisID(key)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if _, err := ownedAnalysis(r.Context(), c.analyses, id, appctx.User(r.Context())); err != nil {
		// never reveal whether another user's image exists
		http.NotFound(w, r)
		return
	}

	obj, err := c.objects.Open(r.Context(), key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			appctx.Logger(r.Context()).Error("failed to open image", zap.String("key", key), zap.Error(err))
		}
		http.NotFound(w, r)
		return
	}
	defer obj.Body.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if _, err := io.Copy(w, obj.Body); err != nil {
		appctx.Logger(r.Context()).Warn("failed to stream image", zap.String("key", key), zap.Error(err))
	}
}

// imageAnalysisID extracts the analysis ID from "analyses/<id>/<name>".
func imageAnalysisID(key string) (int64, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != "analyses" || parts[2] == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
