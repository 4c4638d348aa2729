package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURLFor(t *testing.T) {
	assert.Equal(t, "/images/analyses/3/visual.png", URLFor("analyses/3/visual.png"))
	assert.Equal(t, "/images/analyses/3/visual.png", URLFor("/analyses/3/visual.png"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}

type storedImage struct {
	contentType string
	data        []byte
}

// fakeDB answers the image table statements from a map.
type fakeDB struct {
	mu     sync.Mutex
	images map[string]storedImage
	err    error
}

func newFakeDB() *fakeDB {
	return &fakeDB{images: map[string]storedImage{}}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	switch sql {
	case upsertImage:
		f.images[args[0].(string)] = storedImage{contentType: args[1].(string), data: args[2].([]byte)}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case deleteImages:
		pattern := args[0].(string)
		prefix := strings.NewReplacer(`\%`, `%`, `\_`, `_`, `\\`, `\`).Replace(strings.TrimSuffix(pattern, "%"))
		for key := range f.images {
			if strings.HasPrefix(key, prefix) {
				delete(f.images, key)
			}
		}
		return pgconn.NewCommandTag("DELETE"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	return rowFunc(func(dest ...any) error {
		if f.err != nil {
			return f.err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		switch sql {
		case selectImage:
			img, ok := f.images[args[0].(string)]
			if !ok {
				return pgx.ErrNoRows
			}
			*dest[0].(*string) = img.contentType
			*dest[1].(*[]byte) = img.data
			return nil
		case pingImages:
			*dest[0].(*int) = 1
			return nil
		}
		return errors.New("unexpected query")
	})
}

type rowFunc func(dest ...any) error

func (r rowFunc) Scan(dest ...any) error { return r(dest...) }

func TestPostgresPutReturnsPath(t *testing.T) {
	s := NewPostgres(newFakeDB())
	payload := []byte(strings.Repeat("x", 1<<20))

	url, err := s.Put(context.Background(), "analyses/1/source.png", payload, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/images/analyses/1/source.png", url)
	assert.False(t, strings.HasPrefix(url, "data:"))
	assert.Less(t, len(url), 64, "records hold a path, never the image")
}

func TestPostgresOpen(t *testing.T) {
	s := NewPostgres(newFakeDB())
	ctx := context.Background()

	_, err := s.Put(ctx, "analyses/1/visual.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	obj, err := s.Open(ctx, "analyses/1/visual.png")
	require.NoError(t, err)
	defer obj.Body.Close()
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(body))
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, int64(9), obj.Size)

	_, err = s.Open(ctx, "analyses/2/visual.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresDeletePrefix(t *testing.T) {
	db := newFakeDB()
	s := NewPostgres(db)
	ctx := context.Background()

	for _, key := range []string{"analyses/1/source.jpg", "analyses/1/visual.png", "analyses/12/source.jpg"} {
		_, err := s.Put(ctx, key, []byte("x"), "image/jpeg")
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, "analyses/1/"))
	assert.Len(t, db.images, 1)
	assert.Contains(t, db.images, "analyses/12/source.jpg")
}

func TestPostgresErrors(t *testing.T) {
	db := newFakeDB()
	db.err = errors.New("connection refused")
	s := NewPostgres(db)
	ctx := context.Background()

	_, err := s.Put(ctx, "analyses/1/source.jpg", []byte("x"), "image/jpeg")
	assert.ErrorIs(t, err, db.err)
	_, err = s.Open(ctx, "analyses/1/source.jpg")
	assert.ErrorIs(t, err, db.err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Error(t, s.Health(ctx))
}

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `analyses/1/%`, likePrefix("analyses/1/"))
	assert.Equal(t, `a\_b\%c\\%`, likePrefix(`a_b%c\`))
}
