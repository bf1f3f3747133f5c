// Package directory answers which doctors an admin can forward a booking to.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/models"
)

// DoctorSource is the doctor storage the directory reads and writes. A
// doctor and its login account are created together.
type DoctorSource interface {
	List(ctx context.Context) ([]models.Doctor, error)
	CreateWithAccount(ctx context.Context, doc *models.Doctor, account *models.User) error
}

type Directory struct {
	doctors DoctorSource
	logger  zerolog.Logger
}

func New(doctors DoctorSource, logger zerolog.Logger) *Directory {
	return &Directory{doctors: doctors, logger: logger.With().Str("component", "directory").Logger()}
}

// Available returns doctors in the given specialization, matched case
// insensitively. Doctors without one are listed under General. An empty
// specialization returns everyone.
func (d *Directory) Available(ctx context.Context, specialization string) ([]models.Doctor, error) {
	docs, err := d.doctors.List(ctx)
	if err != nil {
		return nil, err
	}
	specialization = strings.TrimSpace(specialization)
	out := make([]models.Doctor, 0, len(docs))
	for _, doc := range docs {
		if specialization == "" || strings.EqualFold(doc.Category(), specialization) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// Specializations returns the distinct categories in alphabetical order.
func (d *Directory) Specializations(ctx context.Context) ([]string, error) {
	docs, err := d.doctors.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(docs))
	out := []string{}
	for _, doc := range docs {
		c := doc.Category()
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out, nil
}

// RegisterInput describes a new doctor. Password is the doctor's initial
// login password.
type RegisterInput struct {
	Name           string
	Email          string
	Specialization string
	Password       string
}

// Register adds a doctor together with a doctor role account so the doctor
// can log in with the same email. Admin only.
func (d *Directory) Register(ctx context.Context, actor models.Actor, in RegisterInput) (*models.Doctor, error) {
	if actor.Role != models.RoleAdmin {
		return nil, fmt.Errorf("only admins can register doctors: %w", apperr.ErrUnauthorized)
	}
	doc := &models.Doctor{
		Name:           strings.TrimSpace(in.Name),
		Email:          strings.ToLower(strings.TrimSpace(in.Email)),
		Specialization: strings.TrimSpace(in.Specialization),
	}
	if doc.Specialization == "" {
		doc.Specialization = models.GeneralSpecialization
	}
	if in.Password == "" {
		return nil, errors.New("doctor password is required")
	}
	account := &models.User{
		Email:     doc.Email,
		FirstName: doc.Name,
		Role:      models.RoleDoctor,
	}
	if err := account.SetPassword(in.Password); err != nil {
		return nil, fmt.Errorf("hash doctor password: %w", err)
	}
	if err := d.doctors.CreateWithAccount(ctx, doc, account); err != nil {
		return nil, err
	}
	d.logger.Info().Str("doctor_id", doc.ID).Str("specialization", doc.Specialization).Msg("doctor registered")
	return doc, nil
}
