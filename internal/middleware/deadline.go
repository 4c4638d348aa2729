package middleware

import (
	"net/http"
	"time"
)

// UploadDeadline gives POST requests to the listed paths d to send their
// body and receive a response, in place of the server wide timeouts. It
// must run before anything that reads the body, CSRF form parsing included.
func UploadDeadline(d time.Duration, paths ...string) func(http.Handler) http.Handler {
	uploads := make(map[string]bool, len(paths))
	for _, p := range paths {
		uploads[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && uploads[r.URL.Path] {
				deadline := time.Now().Add(d)
				rc := http.NewResponseController(w)
				// Writers without a connection return ErrNotSupported.
				_ = rc.SetReadDeadline(deadline)
				_ = rc.SetWriteDeadline(deadline)
			}
			next.ServeHTTP(w, r)
		})
	}
}
