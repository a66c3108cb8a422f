package fir

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nyaya-platform/nyaya-backend/internal/auth"
	"github.com/nyaya-platform/nyaya-backend/internal/notifications"
	"github.com/nyaya-platform/nyaya-backend/internal/realtime"
	"github.com/nyaya-platform/nyaya-backend/pkg/lifecycle"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
	"github.com/nyaya-platform/nyaya-backend/pkg/utils"
	"github.com/nyaya-platform/nyaya-backend/pkg/validation"
)

type Handler struct {
	db     *gorm.DB
	notify *notifications.Service
	hub    *realtime.Hub
}

func NewHandler(db *gorm.DB, notify *notifications.Service, hub *realtime.Hub) *Handler {
	return &Handler{db: db, notify: notify, hub: hub}
}

func (h *Handler) publish(caseID uuid.UUID, kind string, payload any) {
	if h.hub == nil {
		return
	}
	h.hub.Publish(realtime.Event{Topic: "case:" + caseID.String(), Kind: kind, Payload: payload})
}

func parsePage(c *fiber.Ctx) (page, size int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	size, _ = strconv.Atoi(c.Query("pageSize", "10"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 50 {
		size = 10
	}
	return
}

/* ================================ File ================================== */

type FileFIRRequest struct {
	Title        string `json:"title" validate:"required,max=120"`
	Category     string `json:"category" validate:"required,max=40"`
	Description  string `json:"description" validate:"required,max=4000"`
	Location     string `json:"location" validate:"max=200"`
	IncidentDate string `json:"incident_date" validate:"omitempty,datetime=2006-01-02"`
}

// @Summary      File an FIR
// @Description  Citizen files a police complaint; it is routed to a verified officer
// @Tags         fir
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  FileFIRRequest  true  "FIR payload"
// @Success      201  {object}  map[string]any  "id, status"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      503  {object}  models.ErrorResponse  "no officer available"
// @Router       /fir [post]
func (h *Handler) File(c *fiber.Ctx) error {
	ownerID, _ := uuid.Parse(auth.MustUserID(c))

	var in FileFIRRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	// Route to a verified officer. Without one the complaint cannot enter the
	// review queue, so filing fails loudly instead of parking it nowhere.
	var officer models.Profile
	if err := h.db.
		Where("role = ? AND verification_status = ?", models.RolePolice, models.VerificationVerified).
		Order("created_at ASC").
		First(&officer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no police officer available to receive the complaint")
		}
		return fiber.ErrInternalServerError
	}

	var incident *time.Time
	if in.IncidentDate != "" {
		if t, err := time.Parse("2006-01-02", in.IncidentDate); err == nil {
			incident = &t
		}
	}

	cs := models.Case{
		OwnerID:       ownerID,
		AssignedToID:  &officer.ID,
		AssignedRole:  models.RolePolice,
		Title:         strings.TrimSpace(in.Title),
		Category:      strings.TrimSpace(in.Category),
		Description:   strings.TrimSpace(in.Description),
		Location:      strings.TrimSpace(in.Location),
		IncidentDate:  incident,
		ComplaintType: models.ComplaintPoliceFIR,
		Status:        models.CaseAwaitingPoliceReview,
		PoliceStatus:  models.PoliceStatusPending,
	}
	if err := h.db.Create(&cs).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogCaseHistory(c.Context(), h.db, cs.ID, ownerID, "fir_filed", "", cs.Status, "")
	if h.notify != nil {
		h.notify.Notify(c.Context(), officer.ID, models.SeverityInfo,
			"New FIR to review", "\""+cs.Title+"\" is waiting for your determination.", "/police-dashboard")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": cs.ID, "status": cs.Status})
}

/* ================================ Queue ================================= */

type queueItem struct {
	ID              uuid.UUID           `json:"id"`
	Title           string              `json:"title"`
	Category        string              `json:"category"`
	Status          models.CaseStatus   `json:"status"`
	PoliceStatus    models.PoliceStatus `json:"police_status"`
	ComplainantName string              `json:"complainant_name"`
	CreatedAt       time.Time           `json:"created_at"`
}

// @Summary      FIR queue
// @Description  Officer lists FIRs routed to them, filtered by determination
// @Tags         fir
// @Security     BearerAuth
// @Produce      json
// @Param        status    query string false "Pending | Approved | NCR | Rejected"
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /fir/queue [get]
func (h *Handler) Queue(c *fiber.Ctx) error {
	officerID := auth.MustUserID(c)
	page, size := parsePage(c)
	status := strings.TrimSpace(c.Query("status"))

	q := h.db.Table("cases").
		Where("cases.assigned_to_id = ? AND cases.complaint_type = ?", officerID, models.ComplaintPoliceFIR)

	if status != "" {
		switch models.PoliceStatus(status) {
		case models.PoliceStatusPending, models.PoliceStatusApproved, models.PoliceStatusNCR, models.PoliceStatusRejected:
			q = q.Where("cases.police_status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]queueItem, 0, size)
	if err := q.
		Select(`cases.id, cases.title, cases.category, cases.status, cases.police_status,
	        profiles.full_name AS complainant_name, cases.created_at`).
		Joins("LEFT JOIN profiles ON profiles.id = cases.owner_id").
		Order("cases.created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Scan(&rows).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": rows,
	})
}

/* ================================ Detail ================================ */

type firDetail struct {
	models.Case
	ComplainantName  string `json:"complainant_name"`
	ComplainantPhone string `json:"complainant_phone,omitempty"`
}

// @Summary      FIR detail (officer)
// @Description  Officer reads a routed FIR including complainant contact
// @Tags         fir
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "FIR id (uuid)"
// @Success      200  {object}  firDetail
// @Failure      404  {object}  models.ErrorResponse
// @Router       /fir/{id} [get]
func (h *Handler) Detail(c *fiber.Ctx) error {
	officerID := auth.MustUserID(c)

	var cs models.Case
	if err := h.db.
		Where("id = ? AND assigned_to_id = ? AND complaint_type = ?",
			c.Params("id"), officerID, models.ComplaintPoliceFIR).
		First(&cs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if cs.Evidence == nil {
		cs.Evidence = []string{}
	}
	if cs.PoliceDocuments == nil {
		cs.PoliceDocuments = []string{}
	}

	out := firDetail{Case: cs}
	var complainant models.Profile
	if err := h.db.Select("full_name, phone").First(&complainant, "id = ?", cs.OwnerID).Error; err == nil {
		out.ComplainantName = complainant.FullName
		out.ComplainantPhone = complainant.Phone
	}
	return c.JSON(out)
}

/* ================================ Review ================================ */

type ReviewRequest struct {
	// register -> FIR approved, investigation opens
	// ncr      -> logged as a non-cognizable report
	// reject   -> declined
	Decision string `json:"decision" validate:"required,oneof=register ncr reject"`
	Reason   string `json:"reason" validate:"max=1000"`
}

var decisionEvents = map[string]lifecycle.Event{
	"register": lifecycle.EventPoliceApprove,
	"ncr":      lifecycle.EventPoliceNCR,
	"reject":   lifecycle.EventPoliceReject,
}

// @Summary      Review an FIR
// @Description  Officer records a determination; both status fields change in one update
// @Tags         fir
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "FIR id (uuid)"
// @Param        payload  body  ReviewRequest  true  "Decision"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "already decided"
// @Router       /fir/{id}/review [post]
func (h *Handler) Review(c *fiber.Ctx) error {
	officerID := auth.MustUserID(c)
	officerUUID, _ := uuid.Parse(officerID)

	var in ReviewRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var cs models.Case
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND assigned_to_id = ? AND complaint_type = ?",
			c.Params("id"), officerID, models.ComplaintPoliceFIR).
		First(&cs).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	next, err := lifecycle.Apply(lifecycle.State{
		Status: cs.Status, PoliceStatus: cs.PoliceStatus, ComplaintType: cs.ComplaintType,
	}, decisionEvents[in.Decision])
	if err != nil {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, "FIR already decided or not reviewable")
	}

	// One statement writes the pair; they are never updated separately.
	if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).Updates(map[string]any{
		"status":        next.Status,
		"police_status": next.PoliceStatus,
	}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogCaseHistory(c.Context(), h.db, cs.ID, officerUUID, "police_review", cs.Status, next.Status, strings.TrimSpace(in.Reason))

	if h.notify != nil {
		title, body := reviewNotification(next.Status, cs.Title)
		h.notify.Notify(c.Context(), cs.OwnerID, severityFor(next.Status), title, body, "/dashboard")
	}
	h.publish(cs.ID, "status_changed", fiber.Map{
		"status": next.Status, "police_status": next.PoliceStatus,
	})

	return c.JSON(fiber.Map{"id": cs.ID, "status": next.Status, "police_status": next.PoliceStatus})
}

func reviewNotification(s models.CaseStatus, title string) (string, string) {
	switch s {
	case models.CaseActiveInvestigation:
		return "FIR registered", "Your FIR \"" + title + "\" was registered. An investigation is now open."
	case models.CaseClosedNCR:
		return "Complaint logged as NCR", "Your complaint \"" + title + "\" was recorded as a non-cognizable report. You can hire a lawyer to pursue it privately."
	default:
		return "FIR rejected", "Your FIR \"" + title + "\" was rejected by the police. You can hire a lawyer to pursue it privately."
	}
}

func severityFor(s models.CaseStatus) models.Severity {
	switch s {
	case models.CaseActiveInvestigation:
		return models.SeveritySuccess
	case models.CaseRejectedByPolice:
		return models.SeverityError
	default:
		return models.SeverityWarning
	}
}
