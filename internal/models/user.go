package models

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID           int64   `json:"id"`
	Username     string  `json:"username"`
	Email        string  `json:"email"`
	PasswordHash string  `json:"-"`
	GoogleID     *string `json:"-"`
	AvatarURL    *string `json:"avatar_url,omitempty"`

	// GeminiKeyEncrypted is the user's own API key, AES-GCM encrypted.
	GeminiKeyEncrypted *string `json:"-"`

	AnalysesUsed  int        `json:"analyses_used"`
	AnalysesLimit int        `json:"analyses_limit"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
}

// GoogleProfile is the subset of the Google userinfo response we keep.
type GoogleProfile struct {
	ID       string `json:"sub"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Picture  string `json:"picture"`
	Verified bool   `json:"email_verified"`
}

type UserService struct {
	pool         *pgxpool.Pool
	BcryptCost   int
	DefaultLimit int
}

func NewUserService(pool *pgxpool.Pool, bcryptCost, defaultLimit int) *UserService {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &UserService{pool: pool, BcryptCost: bcryptCost, DefaultLimit: defaultLimit}
}

const userColumns = `id, email, username, password_hash, google_id, avatar_url,
	gemini_key_encrypted, analyses_used, analyses_limit, created_at, updated_at, last_login`

// NormalizeEmail lowercases and validates an email address.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Create registers an email/password user.
func (us *UserService) Create(ctx context.Context, email, password string) (*User, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}

	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), us.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	query := `
		INSERT INTO users (email, username, password_hash, analyses_limit)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + userColumns

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	user, err := scanUser(us.pool.QueryRow(ctx, query, email, usernameFromEmail(email), string(hashedBytes), us.DefaultLimit))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate verifies an email/password pair.
func (us *UserService) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := us.ByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// OAuth-only accounts have no password.
	if user.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (us *UserService) ByID(ctx context.Context, id int64) (*User, error) {
	return us.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (us *UserService) ByEmail(ctx context.Context, email string) (*User, error) {
	return us.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (us *UserService) ByGoogleID(ctx context.Context, googleID string) (*User, error) {
	return us.queryOne(ctx, `SELECT `+userColumns+` FROM users WHERE google_id = $1`, googleID)
}

// FindOrCreateGoogle signs in a Google account. An existing account with the
// same verified email is linked instead of duplicated.
func (us *UserService) FindOrCreateGoogle(ctx context.Context, profile GoogleProfile) (*User, error) {
	if profile.ID == "" {
		return nil, errors.New("google profile has no subject")
	}

	user, err := us.ByGoogleID(ctx, profile.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	email, err := NormalizeEmail(profile.Email)
	if err != nil {
		return nil, err
	}
	if !profile.Verified {
		return nil, fmt.Errorf("google email %s is not verified", email)
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	username := profile.Name
	if username == "" {
		username = usernameFromEmail(email)
	}

	query := `
		INSERT INTO users (email, username, google_id, avatar_url, analyses_limit)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (email) DO UPDATE
		SET google_id = EXCLUDED.google_id,
		    avatar_url = COALESCE(users.avatar_url, EXCLUDED.avatar_url),
		    updated_at = NOW()
		RETURNING ` + userColumns

	user, err = scanUser(us.pool.QueryRow(ctx, query, email, username, profile.ID, profile.Picture, us.DefaultLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert google user: %w", err)
	}
	return user, nil
}

// SetGeminiKey stores an encrypted personal API key. An empty value clears it.
func (us *UserService) SetGeminiKey(ctx context.Context, userID int64, encrypted string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := us.pool.Exec(ctx, `
		UPDATE users
		SET gemini_key_encrypted = NULLIF($1, ''), updated_at = NOW()
		WHERE id = $2
	`, encrypted, userID)
	if err != nil {
		return fmt.Errorf("failed to update gemini key: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// ChargeAnalysis consumes one analysis from the user's quota.
func (us *UserService) ChargeAnalysis(ctx context.Context, userID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	result, err := us.pool.Exec(ctx, `
		UPDATE users
		SET analyses_used = analyses_used + 1, updated_at = NOW()
		WHERE id = $1 AND analyses_used < analyses_limit
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to charge analysis: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// RefundAnalysis gives back an analysis charged for a run that produced no
// report.
func (us *UserService) RefundAnalysis(ctx context.Context, userID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := us.pool.Exec(ctx, `
		UPDATE users
		SET analyses_used = GREATEST(analyses_used - 1, 0), updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to refund analysis: %w", err)
	}
	return nil
}

func (us *UserService) UpdateLastLogin(ctx context.Context, userID int64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := us.pool.Exec(ctx, `UPDATE users SET last_login = NOW() WHERE id = $1`, userID)
	return err
}

func (us *UserService) queryOne(ctx context.Context, query string, args ...any) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	user, err := scanUser(us.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.GoogleID, &u.AvatarURL,
		&u.GeminiKeyEncrypted, &u.AnalysesUsed, &u.AnalysesLimit,
		&u.CreatedAt, &u.UpdatedAt, &u.LastLogin,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func usernameFromEmail(email string) string {
	name, _, _ := strings.Cut(email, "@")
	return name
}

// HELPER FUNCS --------------------------------

func (u *User) RemainingQuota() int {
	remaining := u.AnalysesLimit - u.AnalysesUsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (u *User) QuotaPercentUsed() int {
	if u.AnalysesLimit == 0 {
		return 100
	}
	return u.AnalysesUsed * 100 / u.AnalysesLimit
}

func (u *User) HasGeminiKey() bool {
	return u.GeminiKeyEncrypted != nil && *u.GeminiKeyEncrypted != ""
}

func (u *User) HasGoogle() bool {
	return u.GoogleID != nil && *u.GoogleID != ""
}
