package services

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"racecontrol-api/pkg/domain"
	embeddednats "racecontrol-api/pkg/services/embedded-nats"
	"racecontrol-api/pkg/shared"
)

type UserService struct {
	db   *sql.DB
	nats *embeddednats.EmbeddedNATS
}

func NewUserService(db *sql.DB, nats *embeddednats.EmbeddedNATS) *UserService {
	return &UserService{db: db, nats: nats}
}

func (s *UserService) CreateUser(req *domain.CreateUserRequest) (*domain.User, error) {
	userID := uuid.New().String()
	now := time.Now()

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	userType := shared.UserTypeRacer
	if req.Type != "" {
		userType = req.Type
	}

	_, err = s.db.Exec(
		`INSERT INTO users (user_id, username, password_hash, type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, req.Username, string(hash), userType,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	user := &domain.User{
		UserID:    userID,
		Username:  req.Username,
		Type:      userType,
		CreatedAt: now,
		UpdatedAt: now,
	}

	go publishEvent(s.nats, "user-service", shared.UserEventSubject(shared.EventTypeCreated), shared.EventTypeCreated, map[string]interface{}{
		"user_id":  user.UserID,
		"username": user.Username,
		"type":     user.Type,
	})

	return user, nil
}

func (s *UserService) ListUsers() ([]domain.User, error) {
	rows, err := s.db.Query(
		`SELECT user_id, username, type, created_at, updated_at FROM users ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}

	return users, nil
}

func (s *UserService) GetUser(userID string) (*domain.User, error) {
	row := s.db.QueryRow(
		`SELECT user_id, username, type, created_at, updated_at FROM users WHERE user_id = ?`,
		userID,
	)

	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (s *UserService) UpdateUser(userID string, req *domain.UpdateUserRequest) (*domain.User, error) {
	query := "UPDATE users SET updated_at = ?"
	args := []interface{}{time.Now().Format(time.RFC3339)}

	if req.Username != "" {
		query += ", username = ?"
		args = append(args, req.Username)
	}
	if req.Type != "" {
		query += ", type = ?"
		args = append(args, req.Type)
	}
	if req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		query += ", password_hash = ?"
		args = append(args, string(hash))
	}

	query += " WHERE user_id = ?"
	args = append(args, userID)

	result, err := s.db.Exec(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, fmt.Errorf("user not found")
	}

	user, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}

	go publishEvent(s.nats, "user-service", shared.UserEventSubject(shared.EventTypeUpdated), shared.EventTypeUpdated, map[string]interface{}{
		"user_id":  user.UserID,
		"username": user.Username,
		"type":     user.Type,
	})

	return user, nil
}

func (s *UserService) DeleteUser(userID string) error {
	result, err := s.db.Exec("DELETE FROM users WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("user not found")
	}

	go publishEvent(s.nats, "user-service", shared.UserEventSubject(shared.EventTypeDeleted), shared.EventTypeDeleted, map[string]interface{}{
		"user_id": userID,
	})

	return nil
}

func scanUser(scanner interface{ Scan(...interface{}) error }) (*domain.User, error) {
	var user domain.User
	var createdAt, updatedAt string

	err := scanner.Scan(&user.UserID, &user.Username, &user.Type, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	user.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	user.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &user, nil
}
