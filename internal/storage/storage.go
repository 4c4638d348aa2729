package storage

import (
	"errors"
	"io"
	"strings"
)

var ErrNotFound = errors.New("object not found")

// PublicPrefix is the route stored objects are served from.
const PublicPrefix = "/images/"

// Object is an opened stored image. Callers close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// URLFor returns the public path of key.
func URLFor(key string) string {
	return PublicPrefix + strings.TrimPrefix(key, "/")
}
