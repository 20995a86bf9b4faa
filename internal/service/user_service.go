package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"mcstore/internal/auth"
	"mcstore/internal/models"
	"mcstore/internal/pluginclient"
	"mcstore/internal/store"
	"mcstore/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const resetTokenTTL = 15 * time.Minute

// UserService handles accounts, sessions and Minecraft linking
type UserService struct {
	store  UserStore
	hasher PasswordHasher
	tokens TokenIssuer
	mailer ResetMailer
	plugin Plugin
	now    func() time.Time
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(store UserStore, hasher PasswordHasher, tokens TokenIssuer, mailer ResetMailer, plugin Plugin) *UserService {
	return &UserService{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		mailer: mailer,
		plugin: plugin,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// AuthResult is returned by register and login
type AuthResult struct {
	Token string              `json:"token"`
	User  models.UserResponse `json:"user"`
}

// Register creates an account and signs a token for it
func (us *UserService) Register(ctx context.Context, username, email, password string) (*AuthResult, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Register")
	defer span.End()

	username, email = strings.TrimSpace(username), strings.TrimSpace(email)
	if username == "" || email == "" || password == "" {
		return nil, newError(ErrInvalidInput, "Please provide a username, email, and password.")
	}

	hash, err := us.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		ID:       uuid.New().String(),
		Username: username,
		Email:    email,
		Password: hash,
	}
	if err := us.store.CreateUser(ctx, user); err != nil {
		if dupErr := duplicateUserError(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	us.logger.Info("User registered", zap.String("user_id", user.ID))
	return us.authResult(user)
}

// Login authenticates by email (identifier containing @) or username
func (us *UserService) Login(ctx context.Context, identifier, password string) (*AuthResult, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Login")
	defer span.End()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, newError(ErrInvalidInput, "Please provide an identifier and password.")
	}

	var (
		user *models.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = us.store.GetUserByEmail(ctx, identifier)
	} else {
		user, err = us.store.GetUserByUsername(ctx, identifier)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrInvalidCredentials, "Invalid credentials.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !us.hasher.Compare(user.Password, password) {
		return nil, newError(ErrInvalidCredentials, "Invalid credentials.")
	}

	return us.authResult(user)
}

// Profile returns the user's public fields
func (us *UserService) Profile(ctx context.Context, userID string) (*models.UserResponse, error) {
	ctx, span := util.StartSpan(ctx, "UserService.Profile")
	defer span.End()

	user, err := us.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp := user.Response()
	return &resp, nil
}

// ForgotPassword issues a reset token and emails it. Unknown emails succeed silently.
func (us *UserService) ForgotPassword(ctx context.Context, email string) error {
	ctx, span := util.StartSpan(ctx, "UserService.ForgotPassword")
	defer span.End()

	user, err := us.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	token, hash, err := auth.NewResetToken()
	if err != nil {
		return fmt.Errorf("failed to generate reset token: %w", err)
	}
	if err := us.store.SetResetToken(ctx, user.ID, hash, us.now().Add(resetTokenTTL)); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}

	if err := us.mailer.SendPasswordReset(ctx, user.Email, user.Username, token); err != nil {
		us.logger.Error("Failed to send password reset email",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}
	return nil
}

// ResetPassword redeems a reset token
func (us *UserService) ResetPassword(ctx context.Context, token, password string) error {
	ctx, span := util.StartSpan(ctx, "UserService.ResetPassword")
	defer span.End()

	if token == "" || password == "" {
		return newError(ErrInvalidInput, "Please provide a token and a new password.")
	}

	user, err := us.store.GetUserByResetToken(ctx, auth.HashResetToken(token), us.now())
	if errors.Is(err, store.ErrNotFound) {
		return newError(ErrInvalidResetToken, "Invalid or expired token.")
	}
	if err != nil {
		return fmt.Errorf("failed to load reset token: %w", err)
	}

	hash, err := us.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := us.store.ResetPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	us.logger.Info("Password reset", zap.String("user_id", user.ID))
	return nil
}

// SendVerificationCode asks the game server to whisper a link code to the player
func (us *UserService) SendVerificationCode(ctx context.Context, minecraftUsername string) error {
	ctx, span := util.StartSpan(ctx, "UserService.SendVerificationCode")
	defer span.End()

	minecraftUsername = strings.TrimSpace(minecraftUsername)
	if minecraftUsername == "" {
		return newError(ErrInvalidInput, "Minecraft username is required.")
	}
	if err := us.plugin.SendVerificationCode(ctx, minecraftUsername); err != nil {
		return pluginError(err)
	}
	return nil
}

// VerifyMinecraftLink checks the code with the game server and links the returned uuid
func (us *UserService) VerifyMinecraftLink(ctx context.Context, userID, minecraftUsername, code string) (*models.UserResponse, error) {
	ctx, span := util.StartSpan(ctx, "UserService.VerifyMinecraftLink")
	defer span.End()

	minecraftUsername, code = strings.TrimSpace(minecraftUsername), strings.TrimSpace(code)
	if minecraftUsername == "" || code == "" {
		return nil, newError(ErrInvalidInput, "Minecraft username and verification code are required.")
	}

	playerUUID, err := us.plugin.VerifyCode(ctx, minecraftUsername, code)
	if err != nil {
		return nil, pluginError(err)
	}

	if err := us.store.SetMinecraftLink(ctx, userID, playerUUID, minecraftUsername, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrNotFound, "User not found in web database.")
		}
		return nil, fmt.Errorf("failed to link minecraft account: %w", err)
	}

	us.logger.Info("Minecraft account linked",
		zap.String("user_id", userID),
		zap.String("minecraft_uuid", playerUUID))
	return us.Profile(ctx, userID)
}

// UnlinkMinecraft clears the linked Minecraft account
func (us *UserService) UnlinkMinecraft(ctx context.Context, userID string) (*models.UserResponse, error) {
	ctx, span := util.StartSpan(ctx, "UserService.UnlinkMinecraft")
	defer span.End()

	if err := us.store.SetMinecraftLink(ctx, userID, "", "", false); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrNotFound, "User not found.")
		}
		return nil, fmt.Errorf("failed to unlink minecraft account: %w", err)
	}
	return us.Profile(ctx, userID)
}

// PlayerStats proxies the plugin's stats for the user's linked player
func (us *UserService) PlayerStats(ctx context.Context, userID string) (json.RawMessage, error) {
	ctx, span := util.StartSpan(ctx, "UserService.PlayerStats")
	defer span.End()

	user, err := us.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MinecraftUUID == "" {
		return nil, newError(ErrMinecraftNotLinked, "A linked Minecraft account is required to fetch stats.")
	}

	stats, err := us.plugin.PlayerStats(ctx, user.MinecraftUUID)
	if err != nil {
		return nil, pluginError(err)
	}
	return stats, nil
}

// ListUsers returns every account for the admin panel
func (us *UserService) ListUsers(ctx context.Context) ([]models.UserResponse, error) {
	ctx, span := util.StartSpan(ctx, "UserService.ListUsers")
	defer span.End()

	users, err := us.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]models.UserResponse, 0, len(users))
	for i := range users {
		out = append(out, users[i].Response())
	}
	return out, nil
}

// GetUser returns one account for the admin panel
func (us *UserService) GetUser(ctx context.Context, userID string) (*models.UserResponse, error) {
	return us.Profile(ctx, userID)
}

// UserUpdate holds the admin-editable account fields; nil fields stay unchanged
type UserUpdate struct {
	Username   *string `json:"username"`
	Email      *string `json:"email"`
	IsAdmin    *int    `json:"is_admin"`
	IsVerified *bool   `json:"is_verified"`
}

// UpdateUser applies an admin edit. Passwords only change through the reset flow.
func (us *UserService) UpdateUser(ctx context.Context, userID string, in *UserUpdate) (*models.UserResponse, error) {
	ctx, span := util.StartSpan(ctx, "UserService.UpdateUser")
	defer span.End()

	user, err := us.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		if user.Username = strings.TrimSpace(*in.Username); user.Username == "" {
			return nil, newError(ErrInvalidInput, "Username cannot be empty.")
		}
	}
	if in.Email != nil {
		if user.Email = strings.TrimSpace(*in.Email); user.Email == "" {
			return nil, newError(ErrInvalidInput, "Email cannot be empty.")
		}
	}
	if in.IsAdmin != nil {
		if *in.IsAdmin != 0 && *in.IsAdmin != 1 {
			return nil, newError(ErrInvalidInput, "Invalid is_admin value")
		}
		user.IsAdmin = *in.IsAdmin
	}
	if in.IsVerified != nil {
		user.IsVerified = *in.IsVerified
	}

	if err := us.store.UpdateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(ErrNotFound, "User not found")
		}
		if dupErr := duplicateUserError(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	us.logger.Info("User updated by admin", zap.String("user_id", userID))
	resp := user.Response()
	return &resp, nil
}

func duplicateUserError(err error) error {
	var dup *store.DuplicateUserError
	if !errors.As(err, &dup) {
		return nil
	}
	if dup.Field == store.UniqueEmail {
		return newError(ErrEmailExists, "An account with this email already exists.")
	}
	return newError(ErrUsernameExists, "An account with this username already exists.")
}

// SetAdmin grants (1) or revokes (0) admin rights
func (us *UserService) SetAdmin(ctx context.Context, userID string, isAdmin int) error {
	ctx, span := util.StartSpan(ctx, "UserService.SetAdmin")
	defer span.End()

	if isAdmin != 0 && isAdmin != 1 {
		return newError(ErrInvalidInput, "Invalid is_admin value")
	}
	if err := us.store.SetAdmin(ctx, userID, isAdmin); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrNotFound, "User not found")
		}
		return fmt.Errorf("failed to update admin status: %w", err)
	}

	us.logger.Info("User admin status updated",
		zap.String("user_id", userID),
		zap.Int("is_admin", isAdmin))
	return nil
}

// DeleteUser removes an account
func (us *UserService) DeleteUser(ctx context.Context, userID string) error {
	ctx, span := util.StartSpan(ctx, "UserService.DeleteUser")
	defer span.End()

	if err := us.store.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return newError(ErrNotFound, "User not found")
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (us *UserService) getUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := us.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "User not found.")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (us *UserService) authResult(user *models.User) (*AuthResult, error) {
	token, err := us.tokens.Sign(user.ID, user.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return &AuthResult{Token: token, User: user.Response()}, nil
}

// pluginError maps plugin client failures onto service errors
func pluginError(err error) error {
	var apiErr *pluginclient.APIError
	switch {
	case errors.Is(err, pluginclient.ErrNotConfigured):
		return newError(ErrNotConfigured, "Game server integration is not configured.")
	case errors.Is(err, pluginclient.ErrUnavailable):
		return newError(ErrPluginUnavailable, "Could not connect to the game server.")
	case errors.As(err, &apiErr):
		return newError(ErrPluginRejected, "%s", apiErr.Message)
	}
	return fmt.Errorf("plugin request failed: %w", err)
}
