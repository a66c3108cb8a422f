package contact

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/pkg/models"
	"github.com/nyaya-platform/nyaya-backend/pkg/validation"
)

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

type SubmitRequest struct {
	Name    string `json:"name" validate:"required,max=120"`
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"max=200"`
	Body    string `json:"body" validate:"required,max=5000"`
}

// @Summary      Contact form
// @Description  Public; stores a message for manual follow-up
// @Tags         public
// @Accept       json
// @Produce      json
// @Param        payload  body  SubmitRequest  true  "Message"
// @Success      201  {object}  map[string]any
// @Router       /contact [post]
func (h *Handler) Submit(c *fiber.Ctx) error {
	var in SubmitRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	msg := models.ContactMessage{
		Name:    in.Name,
		Email:   in.Email,
		Subject: in.Subject,
		Body:    in.Body,
	}
	if err := h.db.Create(&msg).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": msg.ID})
}

// @Summary      Safety map
// @Description  Public; area safety scores for the crime map overlay
// @Tags         public
// @Produce      json
// @Success      200  {object}  map[string]any
// @Router       /safety-map [get]
func (h *Handler) SafetyMap(c *fiber.Ctx) error {
	var areas []models.LocationSafety
	if err := h.db.Order("area ASC").Find(&areas).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if areas == nil {
		areas = []models.LocationSafety{}
	}
	return c.JSON(fiber.Map{"items": areas})
}
