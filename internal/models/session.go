package models

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Session struct {
	ID     int64
	UserID int64
	// Token is only set when creating a new session. Lookups leave it empty
	// since only the hash is stored.
	Token     string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
}

const (
	// MinBytesPerToken is the minimum number of bytes for a session token
	MinBytesPerToken = 32
	// DefaultSessionDuration is how long a session lasts
	DefaultSessionDuration = 24 * time.Hour
)

type SessionService struct {
	pool *pgxpool.Pool

	BytesPerToken   int
	SessionDuration time.Duration
}

func NewSessionService(pool *pgxpool.Pool, duration time.Duration) *SessionService {
	if duration <= 0 {
		duration = DefaultSessionDuration
	}
	return &SessionService{
		pool:            pool,
		BytesPerToken:   MinBytesPerToken,
		SessionDuration: duration,
	}
}

// Create starts a new session for the user.
func (ss *SessionService) Create(ctx context.Context, userID int64) (*Session, error) {
	bytesPerToken := ss.BytesPerToken
	if bytesPerToken < MinBytesPerToken {
		bytesPerToken = MinBytesPerToken
	}
	token, err := generateToken(bytesPerToken)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	session := Session{
		UserID:    userID,
		Token:     token,
		TokenHash: HashToken(token),
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	err = ss.pool.QueryRow(ctx, `
		INSERT INTO sessions (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, expires_at
	`, userID, session.TokenHash, time.Now().Add(ss.SessionDuration)).
		Scan(&session.ID, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

// User validates a session token and returns its user.
func (ss *SessionService) User(ctx context.Context, token string) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	user, err := scanUser(ss.pool.QueryRow(ctx, `
		SELECT u.id, u.email, u.username, u.password_hash, u.google_id, u.avatar_url,
		       u.gemini_key_encrypted, u.analyses_used, u.analyses_limit,
		       u.created_at, u.updated_at, u.last_login
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > NOW()
	`, HashToken(token)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to lookup session: %w", err)
	}
	return user, nil
}

func (ss *SessionService) Delete(ctx context.Context, token string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := ss.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, HashToken(token))
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteExpired removes stale sessions and returns how many were dropped.
func (ss *SessionService) DeleteExpired(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := ss.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected(), nil
}

func generateToken(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// HashToken returns the stored form of a session token.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return base64.URLEncoding.EncodeToString(hash[:])
}
