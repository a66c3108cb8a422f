package emergencies

import (
	"math"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/internal/auth"
	"github.com/nyaya-platform/nyaya-backend/internal/geo"
	"github.com/nyaya-platform/nyaya-backend/internal/notifications"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
	"github.com/nyaya-platform/nyaya-backend/pkg/validation"
)

// offlineInstruction is returned whenever the service cannot take the SOS,
// so the reporter is never left without a way to get help.
const offlineInstruction = "We could not record your emergency online. Call 112 immediately."

type Handler struct {
	db     *gorm.DB
	geo    *geo.Client
	notify *notifications.Service
	log    *zap.Logger
}

func NewHandler(db *gorm.DB, g *geo.Client, notify *notifications.Service, log *zap.Logger) *Handler {
	return &Handler{db: db, geo: g, notify: notify, log: log}
}

/* ================================ Create ================================ */

type CreateRequest struct {
	Category    string `json:"category" validate:"required,oneof=police medical"`
	Topic       string `json:"topic" validate:"max=120"`
	Description string `json:"description" validate:"max=2000"`

	// Device coordinates, when the browser shared them.
	Latitude  *float64 `json:"latitude" validate:"omitempty,latitude"`
	Longitude *float64 `json:"longitude" validate:"omitempty,longitude"`
	Label     string   `json:"label" validate:"max=200"`

	// Free-text place name, tried when coordinates and IP both fail.
	LocationQuery string `json:"location_query" validate:"max=200"`

	// Reporter agreed to file under the default city coordinates.
	AcceptDefault bool `json:"accept_default"`
}

// @Summary      Report an emergency
// @Description  Records an SOS; location falls back device -> IP -> search -> accepted default
// @Tags         emergencies
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateRequest  true  "SOS payload"
// @Success      201  {object}  models.EmergencyEvent
// @Failure      422  {object}  models.ErrorResponse  "no usable location"
// @Failure      503  {object}  models.ErrorResponse  "could not record; call 112"
// @Router       /emergencies [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	reporterID, _ := uuid.Parse(auth.MustUserID(c))

	var in CreateRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	loc, err := h.geo.Resolve(c.Context(), geo.ResolveInput{
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		Label:         in.Label,
		IP:            c.IP(),
		Query:         in.LocationQuery,
		AcceptDefault: in.AcceptDefault,
	})
	if err != nil {
		// An SOS without coordinates cannot be dispatched. The reporter must
		// either share a location or explicitly accept the default.
		return fiber.NewError(fiber.StatusUnprocessableEntity,
			"location could not be determined; retry with accept_default or call 112")
	}

	ev := models.EmergencyEvent{
		ReporterID:     reporterID,
		Category:       models.EmergencyCategory(in.Category),
		Topic:          in.Topic,
		Description:    in.Description,
		Latitude:       loc.Latitude,
		Longitude:      loc.Longitude,
		LocationLabel:  loc.Label,
		LocationSource: loc.Source,
		Status:         "active",
		Priority:       "critical",
	}
	if err := h.db.Create(&ev).Error; err != nil {
		h.log.Error("emergency insert failed",
			zap.String("reporter", reporterID.String()),
			zap.Error(err))
		return fiber.NewError(fiber.StatusServiceUnavailable, offlineInstruction)
	}

	h.log.Info("emergency recorded",
		zap.String("id", ev.ID.String()),
		zap.String("category", in.Category),
		zap.String("location_source", string(loc.Source)))

	if h.notify != nil {
		h.notify.Notify(c.Context(), reporterID, models.SeverityWarning,
			"Emergency recorded",
			"Your "+in.Category+" emergency was recorded at "+ev.LocationLabel+". Responders have been alerted.",
			"/dashboard")
	}

	return c.Status(fiber.StatusCreated).JSON(ev)
}

/* =============================== ListMine =============================== */

// @Summary      My emergencies
// @Tags         emergencies
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /emergencies/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	reporterID := auth.MustUserID(c)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	size, _ := strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}

	q := h.db.Model(&models.EmergencyEvent{}).Where("reporter_id = ?", reporterID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var items []models.EmergencyEvent
	if err := q.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	if items == nil {
		items = []models.EmergencyEvent{}
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}
