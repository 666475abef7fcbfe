package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"racecontrol-api/pkg/domain"
)

// SessionTTL is how long an issued bearer token stays valid.
const SessionTTL = 24 * time.Hour

// AuthService issues and validates bearer tokens backed by the
// auth_sessions table. Tokens are opaque; everything about a session is
// server-side state with an explicit lifecycle.
type AuthService struct {
	db *sql.DB
}

func NewAuthService(db *sql.DB) *AuthService {
	return &AuthService{db: db}
}

func (s *AuthService) Login(username, password string) (*domain.LoginResponse, error) {
	var user domain.User
	var hash, createdAt, updatedAt string

	err := s.db.QueryRow(
		`SELECT user_id, username, password_hash, type, created_at, updated_at
		 FROM users WHERE username = ?`,
		username,
	).Scan(&user.UserID, &user.Username, &hash, &user.Type, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	user.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	token := uuid.New().String()
	now := time.Now()

	_, err = s.db.Exec(
		`INSERT INTO auth_sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		token, user.UserID, now.Format(time.RFC3339), now.Add(SessionTTL).Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &domain.LoginResponse{Token: token, User: &user}, nil
}

// ValidateToken resolves a bearer token to its user. Expired sessions
// are treated as absent and cleaned up lazily.
func (s *AuthService) ValidateToken(token string) (*domain.User, error) {
	var user domain.User
	var expiresAt, createdAt, updatedAt string

	err := s.db.QueryRow(
		`SELECT u.user_id, u.username, u.type, u.created_at, u.updated_at, a.expires_at
		 FROM auth_sessions a JOIN users u ON u.user_id = a.user_id
		 WHERE a.token = ?`,
		token,
	).Scan(&user.UserID, &user.Username, &user.Type, &createdAt, &updatedAt, &expiresAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	expiry, err := time.Parse(time.RFC3339, expiresAt)
	if err != nil || time.Now().After(expiry) {
		_, _ = s.db.Exec("DELETE FROM auth_sessions WHERE token = ?", token)
		return nil, fmt.Errorf("session expired")
	}

	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	user.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &user, nil
}

func (s *AuthService) Logout(token string) error {
	result, err := s.db.Exec("DELETE FROM auth_sessions WHERE token = ?", token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("session not found")
	}

	return nil
}
