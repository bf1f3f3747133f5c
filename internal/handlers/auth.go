package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"care-coordination-server/internal/apperr"
	"care-coordination-server/internal/config"
	"care-coordination-server/internal/middleware"
	"care-coordination-server/internal/models"
	"care-coordination-server/internal/utils"
)

// Accounts is the user storage the auth endpoints need.
type Accounts interface {
	Create(ctx context.Context, user *models.User) error
	Get(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateProfile(ctx context.Context, id string, fields map[string]any) (*models.User, error)
}

// AuthHandler handles authentication-related requests.
type AuthHandler struct {
	Users Accounts
	Cfg   *config.Config
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users Accounts, cfg *config.Config) *AuthHandler {
	return &AuthHandler{Users: users, Cfg: cfg}
}

// RegisterRequest represents the request body for patient self-registration.
// Doctor accounts come with POST /doctors, admins with CreateAccount.
type RegisterRequest struct {
	FirstName      string `json:"firstName" binding:"required"`
	LastName       string `json:"lastName" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	Password       string `json:"password" binding:"required,min=8"`
	PhoneNumber    string `json:"phoneNumber" validate:"phone"`
	EmergencyPhone string `json:"emergencyPhone" validate:"phone"`
}

// Register handles user registration.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if !utils.BindAndValidate(c, &req) {
		return // Error response handled by BindAndValidate
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	// Check if user already exists
	if _, err := h.Users.GetByEmail(c.Request.Context(), email); err == nil {
		utils.BadRequest(c, "User with this email already exists")
		return
	} else if !errors.Is(err, apperr.ErrNotFound) {
		utils.InternalError(c, err)
		return
	}

	user := models.User{
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Email:          email,
		Role:           models.RolePatient,
		PhoneNumber:    strings.TrimSpace(req.PhoneNumber),
		EmergencyPhone: strings.TrimSpace(req.EmergencyPhone),
	}

	if err := user.SetPassword(req.Password); err != nil {
		utils.InternalError(c, err)
		return
	}

	if err := h.Users.Create(c.Request.Context(), &user); err != nil {
		utils.InternalError(c, err)
		return
	}

	utils.Created(c, "User registered successfully", user.Sanitize())
}

// CreateAccountRequest represents the request body for creating a user by an
// admin. Doctors are registered through the directory so that their profile
// and account are created together.
type CreateAccountRequest struct {
	FirstName string `json:"firstName" binding:"required"`
	LastName  string `json:"lastName"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	Role      string `json:"role" binding:"required,oneof=admin patient"`
}

// CreateAccount handles creating a new admin or patient account. Admin only.
func (h *AuthHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if _, err := h.Users.GetByEmail(c.Request.Context(), email); err == nil {
		utils.BadRequest(c, "User with this email already exists")
		return
	} else if !errors.Is(err, apperr.ErrNotFound) {
		utils.InternalError(c, err)
		return
	}

	user := models.User{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     email,
		Role:      models.Role(req.Role),
	}
	if err := user.SetPassword(req.Password); err != nil {
		utils.InternalError(c, err)
		return
	}
	if err := h.Users.Create(c.Request.Context(), &user); err != nil {
		utils.InternalError(c, err)
		return
	}

	utils.Created(c, "User created successfully", user.Sanitize())
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	AccessToken string               `json:"accessToken"`
	User        models.UserSanitized `json:"user"`
}

// Login handles user login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	user, err := h.Users.GetByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			utils.Unauthorized(c, "Invalid email or password")
		} else {
			utils.InternalError(c, err)
		}
		return
	}

	if !user.CheckPassword(req.Password) {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}

	accessToken, err := utils.GenerateAccessToken(user, h.Cfg)
	if err != nil {
		utils.InternalError(c, err)
		return
	}

	utils.Success(c, "Login successful", LoginResponse{
		AccessToken: accessToken,
		User:        user.Sanitize(),
	})
}

// GetProfile handles fetching the currently authenticated user's profile.
func (h *AuthHandler) GetProfile(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	user, err := h.Users.Get(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			utils.NotFound(c, "User profile not found")
		} else {
			utils.InternalError(c, err)
		}
		return
	}

	utils.Success(c, "Profile fetched successfully", user.Sanitize())
}

// UpdateProfileRequest represents the request body for updating user profile.
// Absent fields are left unchanged; an empty emergencyPhone clears it.
type UpdateProfileRequest struct {
	FirstName      *string `json:"firstName"`
	LastName       *string `json:"lastName"`
	PhoneNumber    *string `json:"phoneNumber" validate:"omitempty,phone"`
	EmergencyPhone *string `json:"emergencyPhone" validate:"omitempty,phone"`
}

// UpdateProfile handles updating the currently authenticated user's profile.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID, exists := middleware.GetUserIDFromContext(c)
	if !exists {
		utils.Unauthorized(c, "User not authenticated")
		return
	}

	var req UpdateProfileRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	fields := map[string]any{}
	if req.FirstName != nil && *req.FirstName != "" {
		fields["first_name"] = *req.FirstName
	}
	if req.LastName != nil && *req.LastName != "" {
		fields["last_name"] = *req.LastName
	}
	if req.PhoneNumber != nil {
		fields["phone_number"] = strings.TrimSpace(*req.PhoneNumber)
	}
	if req.EmergencyPhone != nil {
		fields["emergency_phone"] = strings.TrimSpace(*req.EmergencyPhone)
	}

	user, err := h.Users.UpdateProfile(c.Request.Context(), userID, fields)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			utils.NotFound(c, "User not found")
		} else {
			utils.InternalError(c, err)
		}
		return
	}

	utils.Success(c, "Profile updated successfully", user.Sanitize())
}
