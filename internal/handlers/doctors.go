package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"care-coordination-server/internal/directory"
	"care-coordination-server/internal/middleware"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/utils"
)

// Directory is the doctor lookup used when forwarding bookings.
type Directory interface {
	Available(ctx context.Context, specialization string) ([]models.Doctor, error)
	Specializations(ctx context.Context) ([]string, error)
	Register(ctx context.Context, actor models.Actor, in directory.RegisterInput) (*models.Doctor, error)
}

// DoctorHandler serves the doctor directory.
type DoctorHandler struct {
	Directory Directory
}

func NewDoctorHandler(dir Directory) *DoctorHandler {
	return &DoctorHandler{Directory: dir}
}

// GetDoctors lists doctors, optionally filtered by ?specialization=.
func (h *DoctorHandler) GetDoctors(c *gin.Context) {
	docs, err := h.Directory.Available(c.Request.Context(), c.Query("specialization"))
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "Doctors fetched successfully", docs)
}

func (h *DoctorHandler) GetSpecializations(c *gin.Context) {
	specs, err := h.Directory.Specializations(c.Request.Context())
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Success(c, "Specializations fetched successfully", specs)
}

// CreateDoctorRequest represents the request body for registering a doctor.
// Password becomes the doctor's login password.
type CreateDoctorRequest struct {
	Name           string `json:"name" binding:"required,max=150"`
	Email          string `json:"email" binding:"required,email"`
	Specialization string `json:"specialization" binding:"max=100"`
	Password       string `json:"password" binding:"required,min=8"`
}

// CreateDoctor registers a doctor and its login account. Admin only.
func (h *DoctorHandler) CreateDoctor(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
		return
	}
	var req CreateDoctorRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	doc, err := h.Directory.Register(c.Request.Context(), actor, directory.RegisterInput{
		Name:           req.Name,
		Email:          req.Email,
		Specialization: req.Specialization,
		Password:       req.Password,
	})
	if err != nil {
		utils.DomainError(c, err, nil)
		return
	}
	utils.Created(c, "Doctor registered successfully", doc)
}
