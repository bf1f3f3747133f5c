package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/models"
)

// UserStore persists accounts and serves the emergency contact projection.
type UserStore struct {
	base
}

func NewUserStore(db *gorm.DB, logger zerolog.Logger) *UserStore {
	return &UserStore{base: newBase(db, nil, logger)}
}

func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return writeErr(err, "create user")
	}
	return nil
}

// EnsureAccount creates user unless an account with its email exists. It
// reports whether the account was created; an existing one is left as is.
func (s *UserStore) EnsureAccount(ctx context.Context, user *models.User) (bool, error) {
	_, err := s.GetByEmail(ctx, user.Email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if err := s.Create(ctx, user); err != nil {
		return false, err
	}
	return true, nil
}

func (s *UserStore) Get(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, readErr(err, fmt.Sprintf("user %s", id))
	}
	return &user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, readErr(err, "user by email")
	}
	return &user, nil
}

// UpdateProfile writes the editable profile columns.
func (s *UserStore) UpdateProfile(ctx context.Context, id string, fields map[string]any) (*models.User, error) {
	if len(fields) > 0 {
		res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(fields)
		if res.Error != nil {
			return nil, writeErr(res.Error, fmt.Sprintf("update user %s", id))
		}
	}
	return s.Get(ctx, id)
}

// EmergencyContact returns the user's emergency phone. ok is false when the
// user has none on file.
func (s *UserStore) EmergencyContact(ctx context.Context, userID string) (string, bool, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	phone := strings.TrimSpace(user.EmergencyPhone)
	return phone, phone != "", nil
}

// CountByRole counts accounts holding role.
func (s *UserStore) CountByRole(ctx context.Context, role models.Role) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("role = ?", role).Count(&n).Error; err != nil {
		return 0, readErr(err, "count users")
	}
	return n, nil
}
