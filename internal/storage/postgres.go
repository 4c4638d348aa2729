package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the part of a pgx pool the image table needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	upsertImage = `
		INSERT INTO images (key, content_type, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE
		SET content_type = EXCLUDED.content_type, data = EXCLUDED.data, created_at = NOW()`
	selectImage  = `SELECT content_type, data FROM images WHERE key = $1`
	deleteImages = `DELETE FROM images WHERE key LIKE $1 ESCAPE '\'`
	pingImages   = `SELECT 1`
)

// Postgres keeps images in the images table when no bucket is configured.
// Analysis records only hold the short /images/ path.
type Postgres struct {
	db DBTX
}

func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if _, err := p.db.Exec(ctx, upsertImage, key, mimeType, data); err != nil {
		return "", fmt.Errorf("failed to store %s: %w", key, err)
	}
	return URLFor(key), nil
}

func (p *Postgres) Open(ctx context.Context, key string) (*Object, error) {
	var (
		contentType string
		data        []byte
	)
	if err := p.db.QueryRow(ctx, selectImage, key).Scan(&contentType, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return &Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// Delete removes every image whose key starts with prefix.
func (p *Postgres) Delete(ctx context.Context, prefix string) error {
	if _, err := p.db.Exec(ctx, deleteImages, likePrefix(prefix)); err != nil {
		return fmt.Errorf("failed to delete %s: %w", prefix, err)
	}
	return nil
}

func (p *Postgres) Health(ctx context.Context) error {
	var one int
	return p.db.QueryRow(ctx, pingImages).Scan(&one)
}

func likePrefix(prefix string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix) + "%"
}
