// Package upload validates and reads street-style photos submitted for
// analysis.
package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/rahul4469/vastra-vibes/internal/models"
)

// MaxSizeBytes is the largest accepted upload (100 MiB).
const MaxSizeBytes int64 = 100 * 1024 * 1024

// AllowedMIMETypes lists the image formats the analysis model accepts.
var AllowedMIMETypes = []string{"image/jpeg", "image/png", "image/webp"}

const (
	msgInvalidType = "Invalid file type. Please upload a JPG, PNG, or WEBP image."
	msgTooLarge    = "File is too large (%.2fMB). Maximum allowed size is 100MB."
	msgEmpty       = "Please choose an image to upload."
)

const chunkSize = 256 * 1024

// Image is a validated upload held in memory.
type Image struct {
	Data     []byte
	MIMEType string
	Filename string
}

func (img *Image) Size() int64 {
	return int64(len(img.Data))
}

// DataURL encodes the image for inline previews.
func (img *Image) DataURL() string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

// Validate checks the declared type and size of an upload. Type is checked
// before size.
func Validate(mimeType string, size int64) error {
	if !slices.Contains(AllowedMIMETypes, mimeType) {
		return models.FileError{Issue: msgInvalidType}
	}
	if size > MaxSizeBytes {
		return TooLarge(size)
	}
	if size <= 0 {
		return models.FileError{Issue: msgEmpty}
	}
	return nil
}

// TooLarge builds the size error for an upload of the given byte count.
func TooLarge(size int64) error {
	return models.FileError{Issue: fmt.Sprintf(msgTooLarge, float64(size)/(1024*1024))}
}

// ProgressFunc receives the read percentage, from 0 to 100.
type ProgressFunc func(percent int)

// ReadWithProgress reads r in chunks, reporting progress against total and
// stopping as soon as ctx is cancelled. A total <= 0 only reports 0 and 100.
func ReadWithProgress(ctx context.Context, r io.Reader, total int64, onProgress ProgressFunc) ([]byte, error) {
	if onProgress == nil {
		onProgress = func(int) {}
	}

	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(min(total, MaxSizeBytes)))
	}

	onProgress(0)
	last := 0
	chunk := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if int64(buf.Len()) > MaxSizeBytes {
				return nil, TooLarge(int64(buf.Len()))
			}
			if total > 0 {
				pct := int(int64(buf.Len()) * 100 / total)
				if pct > 99 {
					pct = 99
				}
				if pct > last {
					last = pct
					onProgress(pct)
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read upload: %w", err)
		}
	}

	onProgress(100)
	return buf.Bytes(), nil
}

// DetectMIMEType returns the declared type when it is meaningful and sniffs
// the content otherwise.
func DetectMIMEType(declared string, head []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	sniffed := http.DetectContentType(head)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}

// FromMultipart validates and reads an uploaded form file.
func FromMultipart(ctx context.Context, fh *multipart.FileHeader, onProgress ProgressFunc) (*Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read upload header: %w", err)
	}
	head = head[:n]

	mimeType := DetectMIMEType(fh.Header.Get("Content-Type"), head)
	if err := Validate(mimeType, fh.Size); err != nil {
		return nil, err
	}

	data, err := ReadWithProgress(ctx, io.MultiReader(bytes.NewReader(head), f), fh.Size, onProgress)
	if err != nil {
		return nil, err
	}

	return &Image{Data: data, MIMEType: mimeType, Filename: fh.Filename}, nil
}

// Extension returns the file extension for a supported MIME type.
func Extension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
