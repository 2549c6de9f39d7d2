package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agjmills/swapshelf/internal/auth"
	"github.com/agjmills/swapshelf/internal/database/models"
	"gorm.io/gorm"
)

const (
	msgUserDuplicate     = "Username or email already in use"
	msgAuthFailure       = "Invalid username/password combination"
	msgMissingCreds      = "Missing credentials"
	msgUserNotFound      = "User not found"
	msgEmailNotFound     = "Email not found"
	msgTokenRecent       = "Already sent a reset token to this email recently"
	msgTokenExpired      = "Token expired"
	msgTokenNotFound     = "Token not found"
	resetTokenBytes      = 16
	defaultResetTokenTTL = 6 * time.Hour
)

type RegisterInput struct {
	Username string `validate:"required,trimmin=1"`
	Email    string `validate:"required,mailbox"`
	Password string `validate:"required,trimmin=6"`
	Name     string `validate:"omitempty,trimmin=1"`
	Country  string `validate:"omitempty,trimmin=2"`
}

// ProfileInput carries the editable profile fields. Empty Name and Country
// leave the stored values alone.
type ProfileInput struct {
	Email   string `validate:"required,mailbox"`
	Name    string `validate:"omitempty,trimmin=1"`
	Country string `validate:"omitempty,trimmin=2"`
}

type UserService struct {
	db         *gorm.DB
	clock      Clock
	bcryptCost int
	resetTTL   time.Duration
	// dummyHash is compared against when the username is unknown, so both
	// failure paths cost one bcrypt comparison.
	dummyHash string
}

func NewUserService(db *gorm.DB, clock Clock, bcryptCost int, resetTTL time.Duration) *UserService {
	if resetTTL <= 0 {
		resetTTL = defaultResetTokenTTL
	}
	dummy, _ := auth.HashPassword("swapshelf-dummy-password", bcryptCost)
	return &UserService{
		db:         db,
		clock:      clock,
		bcryptCost: bcryptCost,
		resetTTL:   resetTTL,
		dummyHash:  dummy,
	}
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if err := checkStruct(in); err != nil {
		return nil, err
	}

	// Friendlier early answer; the unique indexes remain the real guard.
	var existing int64
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", in.Username, in.Email).
		Count(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check existing users: %w", err)
	}
	if existing > 0 {
		return nil, newError(ErrConflict, msgUserDuplicate)
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Country:      strings.TrimSpace(in.Country),
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newError(ErrConflict, msgUserDuplicate)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Verify is the authentication gate. Wrong username and wrong password are
// indistinguishable to the caller.
func (s *UserService) Verify(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, newError(ErrAuthFailure, msgMissingCreds)
	}

	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			auth.VerifyPassword(s.dummyHash, password)
			return nil, newError(ErrAuthFailure, msgAuthFailure)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, newError(ErrAuthFailure, msgAuthFailure)
	}
	return &user, nil
}

func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, msgUserNotFound)
		}
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return &user, nil
}

// ChangePassword sets a new password. The caller is expected to end the
// user's other sessions afterwards.
func (s *UserService) ChangePassword(ctx context.Context, userID uint, newPassword string) error {
	if err := checkPassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("password_hash", hash)
	if res.Error != nil {
		return fmt.Errorf("failed to update password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return newError(ErrNotFound, msgUserNotFound)
	}
	return nil
}

func (s *UserService) UpdateProfile(ctx context.Context, userID uint, in ProfileInput) (*models.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := checkStruct(in); err != nil {
		return nil, err
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"email": in.Email}
	if in.Name != "" {
		updates["name"] = strings.TrimSpace(in.Name)
	}
	if in.Country != "" {
		updates["country"] = strings.TrimSpace(in.Country)
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, newError(ErrConflict, msgUserDuplicate)
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return s.Get(ctx, userID)
}

// GenerateResetToken issues a password reset token for the account owning
// email. While an earlier token is still valid no new one is issued.
func (s *UserService) GenerateResetToken(ctx context.Context, email string) (*models.User, error) {
	email = strings.TrimSpace(email)
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, msgEmailNotFound)
		}
		return nil, fmt.Errorf("failed to load user by email: %w", err)
	}

	now := s.clock.Now()
	if user.ResetPasswordExpires != nil && now.Before(*user.ResetPasswordExpires) {
		return nil, newError(ErrConflict, msgTokenRecent)
	}

	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := hex.EncodeToString(buf)
	expires := now.Add(s.resetTTL)

	// Conditional on the previous token having lapsed, so two concurrent
	// requests cannot both issue one.
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND (reset_password_expires IS NULL OR reset_password_expires <= ?)", user.ID, now).
		Updates(map[string]any{
			"reset_password_token":   token,
			"reset_password_expires": expires,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to store reset token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, newError(ErrConflict, msgTokenRecent)
	}

	user.ResetPasswordToken = &token
	user.ResetPasswordExpires = &expires
	return &user, nil
}

// FindByResetToken returns the user holding token, for rendering the reset form.
func (s *UserService) FindByResetToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, newError(ErrNotFound, msgTokenNotFound)
	}
	var user models.User
	if err := s.db.WithContext(ctx).Where("reset_password_token = ?", token).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, newError(ErrNotFound, msgTokenNotFound)
		}
		return nil, fmt.Errorf("failed to load user by token: %w", err)
	}
	return &user, nil
}

// ResetPassword redeems token and sets a new password. The token is cleared
// so it works once. The caller is expected to end all of the user's sessions.
func (s *UserService) ResetPassword(ctx context.Context, token, newPassword string) (*models.User, error) {
	user, err := s.FindByResetToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if user.ResetPasswordExpires == nil || s.clock.Now().After(*user.ResetPasswordExpires) {
		return nil, newError(ErrInvalidState, msgTokenExpired)
	}
	if err := checkPassword(newPassword); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND reset_password_token = ?", user.ID, token).
		Updates(map[string]any{
			"password_hash":          hash,
			"reset_password_token":   nil,
			"reset_password_expires": nil,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to reset password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, newError(ErrNotFound, msgTokenNotFound)
	}

	user.PasswordHash = hash
	user.ResetPasswordToken = nil
	user.ResetPasswordExpires = nil
	return user, nil
}
