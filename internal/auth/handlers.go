package auth

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/internal/storage"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
	"github.com/nyaya-platform/nyaya-backend/pkg/validation"
)

/* ================================ DTOs ================================= */

// Request body for /signup
type SignupRequest struct {
	Role     string `json:"role" validate:"required,oneof=citizen lawyer police"`
	FullName string `json:"full_name" validate:"required,min=2,max=80"`
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	Phone    string `json:"phone" validate:"omitempty,phone"`

	// Lawyer credentials
	BarNumber string `json:"bar_number" validate:"omitempty,barnum"`
	FeeCents  int    `json:"fee_cents" validate:"omitempty,gt=0"`

	// Police credentials
	BadgeNumber string `json:"badge_number" validate:"omitempty,badge"`
	StationCode string `json:"station_code" validate:"omitempty,station"`

	// Object key of the uploaded identity document (lawyer/police only).
	// The client uploads to storage first, then submits the key here.
	IDDocumentKey string `json:"id_document_key" validate:"omitempty,max=300"`
}

// Request body for /login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=120"`
	Password string `json:"password" validate:"required"`
}

// Standard auth response
type AuthResponse struct {
	Token              string                    `json:"token"`
	Role               string                    `json:"role"`
	VerificationStatus models.VerificationStatus `json:"verification_status"`
	Landing            string                    `json:"landing"`

	// Non-fatal problems with the signup, e.g. an identity document that
	// could not be confirmed in storage.
	Warnings []string `json:"warnings,omitempty"`
}

// Profile response for /me
type UserProfileResponse struct {
	ID                 uuid.UUID                 `json:"id"`
	Email              string                    `json:"email"`
	Role               models.Role               `json:"role"`
	FullName           string                    `json:"full_name"`
	Phone              string                    `json:"phone,omitempty"`
	VerificationStatus models.VerificationStatus `json:"verification_status"`
	BarNumber          string                    `json:"bar_number,omitempty"`
	BadgeNumber        string                    `json:"badge_number,omitempty"`
	StationCode        string                    `json:"station_code,omitempty"`
	FeeCents           int                       `json:"fee_cents,omitempty"`
	Landing            string                    `json:"landing"`
	CreatedAt          time.Time                 `json:"created_at"`
}

/* ============================== Handler ================================= */

type Handler struct {
	db *gorm.DB
	sb *storage.Supabase

	// Bucket holding signup identity documents.
	IDProofBucket string
}

func NewHandler(db *gorm.DB, sb *storage.Supabase) *Handler {
	return &Handler{db: db, sb: sb, IDProofBucket: "id-proofs"}
}

/* =============================== Signup ================================= */

// @Summary      Sign up
// @Description  Register a new user (citizen, lawyer or police)
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  SignupRequest  true  "Signup payload"
// @Success      201      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      409      {object}  models.ErrorResponse  "email already exists"
// @Router       /signup [post]
func (h *Handler) Signup(c *fiber.Ctx) error {
	var in SignupRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	// Normalize email
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	// Validate request (Laravel-like error shape)
	errs, _ := validation.Validate(in)
	if errs == nil {
		errs = map[string][]string{}
	}

	// Role-specific requirements that tags alone cannot express.
	role := models.Role(in.Role)
	switch role {
	case models.RoleLawyer:
		if in.BarNumber == "" {
			errs["bar_number"] = append(errs["bar_number"], "The bar_number field is required for lawyers.")
		}
		if in.IDDocumentKey == "" {
			errs["id_document_key"] = append(errs["id_document_key"], "The id_document_key field is required for lawyers.")
		}
	case models.RolePolice:
		if in.BadgeNumber == "" {
			errs["badge_number"] = append(errs["badge_number"], "The badge_number field is required for police.")
		}
		if in.StationCode == "" {
			errs["station_code"] = append(errs["station_code"], "The station_code field is required for police.")
		}
		if in.IDDocumentKey == "" {
			errs["id_document_key"] = append(errs["id_document_key"], "The id_document_key field is required for police.")
		}
	}
	if len(errs) > 0 {
		return validation.Respond(c, errs)
	}

	// Hash password
	hash, _ := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)

	// Citizens use the platform immediately; lawyers and police wait for
	// an admin to review their identity document.
	vs := models.VerificationPending
	if role == models.RoleCitizen {
		vs = models.VerificationVerified
	}

	p := models.Profile{
		Email:              in.Email,
		PasswordHash:       string(hash),
		Role:               role,
		FullName:           in.FullName,
		Phone:              in.Phone,
		VerificationStatus: vs,
		BarNumber:          in.BarNumber,
		BadgeNumber:        in.BadgeNumber,
		StationCode:        in.StationCode,
		IDDocumentKey:      in.IDDocumentKey,
		FeeCents:           in.FeeCents,
	}
	if err := h.db.Create(&p).Error; err != nil {
		return fiber.NewError(fiber.StatusConflict, "email already exists")
	}

	// The identity document was uploaded before signup; confirm it is still
	// in storage. A missing or unreadable document must not block account
	// creation, the admin review will catch it.
	var warnings []string
	if role != models.RoleCitizen && h.sb != nil {
		if _, err := h.sb.SignedURL(h.IDProofBucket, in.IDDocumentKey, 60); err != nil {
			warnings = append(warnings,
				"identity document could not be confirmed; an admin may ask you to re-upload it")
		}
	}

	// Issue JWT
	token, _ := IssueToken(p.ID.String(), p.Role)
	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		Token:              token,
		Role:               string(p.Role),
		VerificationStatus: p.VerificationStatus,
		Landing:            Landing(true, p.Role, p.VerificationStatus),
		Warnings:           warnings,
	})
}

/* ================================ Login ================================= */

// @Summary      Login
// @Description  Authenticate and receive a JWT
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        payload  body  LoginRequest  true  "Login payload"
// @Success      200      {object}  AuthResponse
// @Failure      400      {object}  models.ValidationErrorResponse
// @Failure      401      {object}  models.ErrorResponse
// @Router       /login [post]
func (h *Handler) Login(c *fiber.Ctx) error {
	var in LoginRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}

	// Normalize email
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	// Validate request
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	// Find user by email
	var p models.Profile
	if err := h.db.Where("email = ?", in.Email).First(&p).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	// Verify password
	if bcrypt.CompareHashAndPassword([]byte(p.PasswordHash), []byte(in.Password)) != nil {
		return fiber.ErrUnauthorized
	}

	// Issue JWT
	token, _ := IssueToken(p.ID.String(), p.Role)
	return c.JSON(AuthResponse{
		Token:              token,
		Role:               string(p.Role),
		VerificationStatus: p.VerificationStatus,
		Landing:            Landing(true, p.Role, p.VerificationStatus),
	})
}

/* ================================= Me =================================== */

// @Summary      Get current user profile
// @Description  Return full profile of the authenticated user
// @Tags         auth
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  UserProfileResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /me [get]
func (h *Handler) Me(c *fiber.Ctx) error {
	userID := c.Locals("userID")
	if userID == nil {
		return fiber.ErrUnauthorized
	}

	// Load profile by ID from context (set by auth middleware)
	var p models.Profile
	if err := h.db.First(&p, "id = ?", userID).Error; err != nil {
		return fiber.ErrUnauthorized
	}

	// Map to a stable public profile shape
	resp := UserProfileResponse{
		ID:                 p.ID,
		Email:              p.Email,
		Role:               p.Role,
		FullName:           p.FullName,
		Phone:              p.Phone,
		VerificationStatus: p.VerificationStatus,
		BarNumber:          p.BarNumber,
		BadgeNumber:        p.BadgeNumber,
		StationCode:        p.StationCode,
		FeeCents:           p.FeeCents,
		Landing:            Landing(true, p.Role, p.VerificationStatus),
		CreatedAt:          p.CreatedAt,
	}
	return c.JSON(resp)
}
