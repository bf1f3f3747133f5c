package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/changefeed"
	"care-coordination-server/internal/models"
)

// DoctorStore persists doctors.
type DoctorStore struct {
	base
}

func NewDoctorStore(db *gorm.DB, feed changefeed.Publisher, logger zerolog.Logger) *DoctorStore {
	return &DoctorStore{base: newBase(db, feed, logger)}
}

// CreateWithAccount inserts a doctor and the login account behind it in one
// transaction. An email already held by an account is apperr.ErrConflict.
func (s *DoctorStore) CreateWithAccount(ctx context.Context, doc *models.Doctor, account *models.User) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("email = ?", account.Email).Count(&n).Error; err != nil {
			return readErr(err, "check account email")
		}
		if n > 0 {
			return fmt.Errorf("account %s: %w", account.Email, apperr.ErrConflict)
		}
		if err := tx.Create(account).Error; err != nil {
			return writeErr(err, "create doctor account")
		}
		if err := tx.Create(doc).Error; err != nil {
			return writeErr(err, "create doctor")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.publish(ctx, changefeed.Doctors, changefeed.OpInsert, doc.ID, doc)
	return nil
}

func (s *DoctorStore) Get(ctx context.Context, id string) (*models.Doctor, error) {
	var doc models.Doctor
	if err := s.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, readErr(err, fmt.Sprintf("doctor %s", id))
	}
	return &doc, nil
}

func (s *DoctorStore) GetByEmail(ctx context.Context, email string) (*models.Doctor, error) {
	var doc models.Doctor
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&doc).Error; err != nil {
		return nil, readErr(err, fmt.Sprintf("doctor %s", email))
	}
	return &doc, nil
}

// List returns all doctors ordered by name.
func (s *DoctorStore) List(ctx context.Context) ([]models.Doctor, error) {
	var docs []models.Doctor
	if err := s.db.WithContext(ctx).Order("name asc").Find(&docs).Error; err != nil {
		return nil, readErr(err, "list doctors")
	}
	return docs, nil
}
