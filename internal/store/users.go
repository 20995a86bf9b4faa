package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mcstore/internal/models"
)

// UniqueField names the user column that collided on insert
type UniqueField string

const (
	UniqueEmail    UniqueField = "email"
	UniqueUsername UniqueField = "username"
)

// DuplicateUserError reports which unique user column already exists
type DuplicateUserError struct {
	Field UniqueField
}

func (e *DuplicateUserError) Error() string {
	return fmt.Sprintf("user with this %s already exists", e.Field)
}

func (e *DuplicateUserError) Unwrap() error { return ErrDuplicate }

// CreateUser inserts a new user
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, username, email, password, minecraft_uuid, minecraft_username,
			is_admin, is_verified, created_at, updated_at)
		VALUES (:id, :username, :email, :password, :minecraft_uuid, :minecraft_username,
			:is_admin, :is_verified, :created_at, :updated_at)`, u)
	return duplicateUser(err)
}

// UpdateUser writes the admin-editable account fields. The password is never touched here.
func (s *Store) UpdateUser(ctx context.Context, u *models.User) error {
	u.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE users SET username = :username, email = :email, is_admin = :is_admin,
			is_verified = :is_verified, updated_at = :updated_at
		WHERE id = :id`, u)
	if err != nil {
		return duplicateUser(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func duplicateUser(err error) error {
	switch {
	case isUniqueViolation(err, "users_email_key"):
		return &DuplicateUserError{Field: UniqueEmail}
	case isUniqueViolation(err, "users_username_key"):
		return &DuplicateUserError{Field: UniqueUsername}
	}
	return err
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE id = $1", id)
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE lower(email) = lower($1)", email)
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, "SELECT * FROM users WHERE username = $1", username)
}

// GetUserByResetToken retrieves the user holding an unexpired reset token hash
func (s *Store) GetUserByResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.User, error) {
	return s.getUser(ctx,
		"SELECT * FROM users WHERE reset_password_token = $1 AND reset_password_expire > $2",
		tokenHash, now)
}

func (s *Store) getUser(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users, newest first
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY created_at DESC")
	return users, err
}

// SetResetToken stores a password reset token hash and its expiry
func (s *Store) SetResetToken(ctx context.Context, userID, tokenHash string, expire time.Time) error {
	return s.execOne(ctx,
		"UPDATE users SET reset_password_token = $1, reset_password_expire = $2, updated_at = NOW() WHERE id = $3",
		tokenHash, expire, userID)
}

// ResetPassword replaces the password hash and clears the reset token
func (s *Store) ResetPassword(ctx context.Context, userID, passwordHash string) error {
	return s.execOne(ctx, `
		UPDATE users SET password = $1, reset_password_token = NULL, reset_password_expire = NULL, updated_at = NOW()
		WHERE id = $2`, passwordHash, userID)
}

// SetMinecraftLink links (or with empty values unlinks) a Minecraft account
func (s *Store) SetMinecraftLink(ctx context.Context, userID, uuid, playerName string, verified bool) error {
	return s.execOne(ctx, `
		UPDATE users SET minecraft_uuid = $1, minecraft_username = $2, is_verified = $3, updated_at = NOW()
		WHERE id = $4`, uuid, playerName, verified, userID)
}

// SetAdmin updates the admin flag
func (s *Store) SetAdmin(ctx context.Context, userID string, isAdmin int) error {
	return s.execOne(ctx, "UPDATE users SET is_admin = $1, updated_at = NOW() WHERE id = $2", isAdmin, userID)
}

// DeleteUser removes a user
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.execOne(ctx, "DELETE FROM users WHERE id = $1", userID)
}

// execOne runs a statement expected to touch exactly one row
func (s *Store) execOne(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
