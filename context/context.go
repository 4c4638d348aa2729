package context

import (
	"context"

	"go.uber.org/zap"

	"github.com/rahul4469/vastra-vibes/internal/models"
)

type contextkey string

const (
	userKey   contextkey = "user"
	loggerKey contextkey = "logger"
)

// WithUser binds the signed in user to ctx.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// User retrieves the authenticated user from ctx.
// Returns nil if no user is set (unauthenticated request).
func User(ctx context.Context) *models.User {
	user, ok := ctx.Value(userKey).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// WithLogger binds a request scoped logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}
