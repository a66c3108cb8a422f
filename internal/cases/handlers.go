package cases

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
	"github.com/nyaya-platform/nyaya-backend/internal/storage"
	"github.com/nyaya-platform/nyaya-backend/pkg/lifecycle"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
	"github.com/nyaya-platform/nyaya-backend/pkg/sanitize"
	"github.com/nyaya-platform/nyaya-backend/pkg/utils"
	"github.com/nyaya-platform/nyaya-backend/pkg/validation"
)

// ===== DTOs =====

type CreateCaseRequest struct {
	Title        string `json:"title" validate:"required,max=120"`
	Category     string `json:"category" validate:"required,max=40"`
	CaseType     string `json:"case_type" validate:"max=40"`
	Description  string `json:"description" validate:"max=4000"`
	Location     string `json:"location" validate:"max=200"`
	BudgetRange  string `json:"budget_range" validate:"max=40"`
	IncidentDate string `json:"incident_date" validate:"omitempty,datetime=2006-01-02"`
	// When true the case goes straight to Pending Acceptance instead of Draft.
	Submit bool `json:"submit"`
}

type UpdateDraftRequest struct {
	Title        string `json:"title" validate:"omitempty,max=120"`
	Category     string `json:"category" validate:"omitempty,max=40"`
	CaseType     string `json:"case_type" validate:"omitempty,max=40"`
	Description  string `json:"description" validate:"omitempty,max=4000"`
	Location     string `json:"location" validate:"omitempty,max=200"`
	BudgetRange  string `json:"budget_range" validate:"omitempty,max=40"`
	IncidentDate string `json:"incident_date" validate:"omitempty,datetime=2006-01-02"`
}

type CaseListItem struct {
	ID            uuid.UUID            `json:"id"`
	Title         string               `json:"title"`
	Category      string               `json:"category"`
	ComplaintType models.ComplaintType `json:"complaint_type"`
	Status        models.CaseStatus    `json:"status"`
	PoliceStatus  models.PoliceStatus  `json:"police_status,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
}

type Handler struct {
	db     *gorm.DB
	sb     *storage.Supabase
	notify *notifications.Service
	hub    *realtime.Hub

	// Bucket names; set from config in main.
	EvidenceBucket  string
	DocumentsBucket string
}

func NewHandler(db *gorm.DB, sb *storage.Supabase, notify *notifications.Service, hub *realtime.Hub) *Handler {
	return &Handler{
		db: db, sb: sb, notify: notify, hub: hub,
		EvidenceBucket:  "case-files",
		DocumentsBucket: "documents",
	}
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

// publish pushes a case event to live streams. Nil hub (tests) is a no-op.
func (h *Handler) publish(caseID uuid.UUID, kind string, payload any) {
	if h.hub == nil {
		return
	}
	h.hub.Publish(realtime.Event{Topic: "case:" + caseID.String(), Kind: kind, Payload: payload})
}

func parseIncidentDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}

/* =============================== Create ================================= */

// Create Case godoc
// @Summary      Create case
// @Description  Citizen creates a private legal case, as a draft or submitted
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  CreateCaseRequest  true  "Case payload"
// @Success      201  {object}  map[string]string  "id, status"
// @Failure      400  {object}  models.ValidationErrorResponse
// @Failure      401  {object}  models.ErrorResponse
// @Router       /cases [post]
func (h *Handler) Create(c *fiber.Ctx) error {
	var in CreateCaseRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	ownerID, _ := uuid.Parse(auth.MustUserID(c))

	status := models.CaseDraft
	if in.Submit {
		status = models.CasePendingAcceptance
	}

	cs := models.Case{
		OwnerID:       ownerID,
		Title:         strings.TrimSpace(in.Title),
		Category:      strings.TrimSpace(in.Category),
		CaseType:      strings.TrimSpace(in.CaseType),
		Description:   strings.TrimSpace(in.Description),
		Location:      strings.TrimSpace(in.Location),
		BudgetRange:   strings.TrimSpace(in.BudgetRange),
		IncidentDate:  parseIncidentDate(in.IncidentDate),
		ComplaintType: models.ComplaintPrivateLegal,
		Status:        status,
	}
	if err := h.db.Create(&cs).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogCaseHistory(c.Context(), h.db, cs.ID, ownerID, "created", "", cs.Status, "")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": cs.ID, "status": cs.Status})
}

/* ============================ Update draft ============================== */

// @Summary      Update draft
// @Description  Owner edits a case while it is still a draft
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string              true  "case id (uuid)"
// @Param        payload  body  UpdateDraftRequest  true  "Fields to change"
// @Success      200  {object}  models.Case
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "not a draft"
// @Router       /cases/{id} [patch]
func (h *Handler) UpdateDraft(c *fiber.Ctx) error {
	ownerID := auth.MustUserID(c)

	var in UpdateDraftRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	var cs models.Case
	if err := h.db.Where("id = ? AND owner_id = ?", c.Params("id"), ownerID).First(&cs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cs.Status != models.CaseDraft {
		return fiber.NewError(fiber.StatusConflict, "only drafts can be edited")
	}

	patch := map[string]any{}
	if in.Title != "" {
		patch["title"] = strings.TrimSpace(in.Title)
	}
	if in.Category != "" {
		patch["category"] = strings.TrimSpace(in.Category)
	}
	if in.CaseType != "" {
		patch["case_type"] = strings.TrimSpace(in.CaseType)
	}
	if in.Description != "" {
		patch["description"] = strings.TrimSpace(in.Description)
	}
	if in.Location != "" {
		patch["location"] = strings.TrimSpace(in.Location)
	}
	if in.BudgetRange != "" {
		patch["budget_range"] = strings.TrimSpace(in.BudgetRange)
	}
	if d := parseIncidentDate(in.IncidentDate); d != nil {
		patch["incident_date"] = d
	}
	if len(patch) > 0 {
		if err := h.db.Model(&cs).Updates(patch).Error; err != nil {
			return fiber.ErrInternalServerError
		}
	}
	return c.JSON(cs)
}

/* ================================ Submit ================================ */

// @Summary      Submit draft
// @Description  Owner moves a draft to Pending Acceptance
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {object}  map[string]string  "id, status"
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /cases/{id}/submit [post]
func (h *Handler) Submit(c *fiber.Ctx) error {
	ownerID := auth.MustUserID(c)
	ownerUUID, _ := uuid.Parse(ownerID)

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var cs models.Case
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND owner_id = ?", c.Params("id"), ownerID).
		First(&cs).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	next, err := lifecycle.Apply(lifecycle.State{
		Status: cs.Status, PoliceStatus: cs.PoliceStatus, ComplaintType: cs.ComplaintType,
	}, lifecycle.EventSubmit)
	if err != nil {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
		Update("status", next.Status).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogCaseHistory(c.Context(), h.db, cs.ID, ownerUUID, "submitted", cs.Status, next.Status, "")
	h.publish(cs.ID, "status_changed", fiber.Map{"status": next.Status})
	return c.JSON(fiber.Map{"id": cs.ID, "status": next.Status})
}

/* =============================== ListMine =============================== */

// @Summary      List my cases
// @Description  Cases the user owns, or is assigned to handle, newest first
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int false "page"
// @Param        pageSize  query int false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /cases/mine [get]
func (h *Handler) ListMine(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	page, size := parsePage(c)

	q := h.db.Model(&models.Case{}).
		Where("owner_id = ? OR assigned_to_id = ?", userID, userID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]CaseListItem, 0, size)
	if err := q.Order("created_at DESC").
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

/* =============================== Detail ================================= */

// canView reports whether the principal may read the full case record.
func canView(cs *models.Case, userID string, role models.Role) bool {
	if role == models.RoleAdmin {
		return true
	}
	if cs.OwnerID.String() == userID {
		return true
	}
	if cs.AssignedToID != nil && cs.AssignedToID.String() == userID {
		return true
	}
	return false
}

type caseDetail struct {
	models.Case
	CanHireLawyer bool `json:"can_hire_lawyer"`
}

// @Summary      Case detail
// @Description  Owner, assigned handler, or admin reads the full record
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      200  {object}  caseDetail
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id} [get]
func (h *Handler) GetDetail(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	role := auth.MustRole(c)

	var cs models.Case
	if err := h.db.First(&cs, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if !canView(&cs, userID, role) {
		return fiber.ErrForbidden
	}

	// Never send null arrays
	if cs.Evidence == nil {
		cs.Evidence = []string{}
	}
	if cs.LawyerDocuments == nil {
		cs.LawyerDocuments = []string{}
	}
	if cs.PoliceDocuments == nil {
		cs.PoliceDocuments = []string{}
	}

	return c.JSON(caseDetail{
		Case: cs,
		CanHireLawyer: lifecycle.CanHireLawyer(lifecycle.State{
			Status: cs.Status, PoliceStatus: cs.PoliceStatus, ComplaintType: cs.ComplaintType,
		}),
	})
}

/* ================================ Accept ================================ */

type AcceptRequest struct {
	// Optional override; defaults to the lawyer's profile fee.
	FeeCents int `json:"fee_cents" validate:"omitempty,gt=0"`
}

// @Summary      Accept case
// @Description  Verified lawyer takes a pending case; it moves to Payment Pending
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true   "case id (uuid)"
// @Param        payload  body  AcceptRequest  false  "Fee override"
// @Success      200  {object}  map[string]any
// @Failure      409  {object}  models.ErrorResponse  "not pending, or already taken"
// @Router       /cases/{id}/accept [post]
func (h *Handler) Accept(c *fiber.Ctx) error {
	lawyerID, _ := uuid.Parse(auth.MustUserID(c))

	var in AcceptRequest
	_ = c.BodyParser(&in) // body is optional
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	fee := in.FeeCents
	if fee <= 0 {
		var p models.Profile
		if err := h.db.Select("fee_cents").First(&p, "id = ?", lawyerID).Error; err == nil {
			fee = p.FeeCents
		}
	}
	if fee <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "fee_cents required (no profile fee set)")
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
		First(&cs, "id = ?", c.Params("id")).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cs.AssignedToID != nil {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, "case already has a handler")
	}

	next, err := lifecycle.Apply(lifecycle.State{
		Status: cs.Status, PoliceStatus: cs.PoliceStatus, ComplaintType: cs.ComplaintType,
	}, lifecycle.EventAccept)
	if err != nil {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

	if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).Updates(map[string]any{
		"status":         next.Status,
		"assigned_to_id": lawyerID,
		"assigned_role":  models.RoleLawyer,
		"fee_cents":      fee,
	}).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogCaseHistory(c.Context(), h.db, cs.ID, lawyerID, "accepted", cs.Status, next.Status, "")
	if h.notify != nil {
		h.notify.Notify(c.Context(), cs.OwnerID, models.SeveritySuccess,
			"Lawyer accepted your case",
			"Your case \""+cs.Title+"\" was accepted. Complete the payment to start.",
			"/dashboard")
	}
	h.publish(cs.ID, "status_changed", fiber.Map{"status": next.Status})

	return c.JSON(fiber.Map{"id": cs.ID, "status": next.Status, "fee_cents": fee})
}

/* ================================ Close ================================= */

type CloseRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

// @Summary      Close case
// @Description  Assigned handler or admin concludes an active case
// @Tags         cases
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string        true   "case id (uuid)"
// @Param        payload  body  CloseRequest  false  "Closing note"
// @Success      200  {object}  map[string]any
// @Failure      403  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse
// @Router       /cases/{id}/close [post]
func (h *Handler) Close(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	role := auth.MustRole(c)
	actorUUID, _ := uuid.Parse(userID)

	var in CloseRequest
	_ = c.BodyParser(&in)
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
		First(&cs, "id = ?", c.Params("id")).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	assigned := cs.AssignedToID != nil && cs.AssignedToID.String() == userID
	if role != models.RoleAdmin && !assigned {
		tx.Rollback()
		return fiber.ErrForbidden
	}

	next, err := lifecycle.Apply(lifecycle.State{
		Status: cs.Status, PoliceStatus: cs.PoliceStatus, ComplaintType: cs.ComplaintType,
	}, lifecycle.EventClose)
	if err != nil {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}

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

	utils.LogCaseHistory(c.Context(), h.db, cs.ID, actorUUID, "closed", cs.Status, next.Status, strings.TrimSpace(in.Reason))
	if h.notify != nil {
		h.notify.Notify(c.Context(), cs.OwnerID, models.SeverityInfo,
			"Case closed", "Your case \""+cs.Title+"\" has been closed.", "/dashboard")
	}
	h.publish(cs.ID, "status_changed", fiber.Map{"status": next.Status})

	return c.JSON(fiber.Map{"id": cs.ID, "status": next.Status})
}

/* ============================= Hire lawyer ============================== */

// @Summary      Hire a lawyer after a police determination
// @Description  Spawns a linked private case from a closed/rejected FIR; the FIR itself stays terminal
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "FIR case id (uuid)"
// @Success      201  {object}  map[string]any  "id of the new private case"
// @Failure      409  {object}  models.ErrorResponse  "FIR not in a hireable state"
// @Router       /cases/{id}/hire-lawyer [post]
func (h *Handler) HireLawyer(c *fiber.Ctx) error {
	ownerID := auth.MustUserID(c)
	ownerUUID, _ := uuid.Parse(ownerID)

	var fir models.Case
	if err := h.db.Where("id = ? AND owner_id = ?", c.Params("id"), ownerID).First(&fir).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	if !lifecycle.CanHireLawyer(lifecycle.State{
		Status: fir.Status, PoliceStatus: fir.PoliceStatus, ComplaintType: fir.ComplaintType,
	}) {
		return fiber.NewError(fiber.StatusConflict, "a lawyer can only be hired after a police determination")
	}

	// Reuse an existing spawn instead of creating duplicates.
	if fir.RelatedCaseID != nil {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": *fir.RelatedCaseID, "existing": true})
	}

	spawn := models.Case{
		OwnerID:       ownerUUID,
		Title:         fir.Title,
		Category:      fir.Category,
		CaseType:      fir.CaseType,
		Description:   fir.Description,
		Location:      fir.Location,
		IncidentDate:  fir.IncidentDate,
		ComplaintType: models.ComplaintPrivateLegal,
		Status:        models.CasePendingAcceptance,
		RelatedCaseID: &fir.ID,
	}

	err := h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&spawn).Error; err != nil {
			return err
		}
		return tx.Model(&models.Case{}).Where("id = ?", fir.ID).
			Update("related_case_id", spawn.ID).Error
	})
	if err != nil {
		return fiber.ErrInternalServerError
	}

	utils.LogCaseHistory(c.Context(), h.db, spawn.ID, ownerUUID, "created", "", spawn.Status, "spawned from FIR "+fir.ID.String())
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": spawn.ID, "existing": false})
}

/* ============================== BrowseOpen ============================== */

type OpenCaseItem struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	CaseType    string    `json:"case_type,omitempty"`
	BudgetRange string    `json:"budget_range,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Preview     string    `json:"preview"`
}

// @Summary      Browse open cases
// @Description  Verified lawyer lists Pending Acceptance cases; owner identity and contacts are withheld
// @Tags         cases
// @Security     BearerAuth
// @Produce      json
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Param        category  query string false "category"
// @Success      200  {object}  map[string]any
// @Router       /cases/browse [get]
func (h *Handler) BrowseOpen(c *fiber.Ctx) error {
	page, size := parsePage(c)
	category := strings.TrimSpace(c.Query("category"))

	dbq := h.db.Model(&models.Case{}).
		Where("status = ? AND complaint_type = ?", models.CasePendingAcceptance, models.ComplaintPrivateLegal)
	if category != "" {
		dbq = dbq.Where("category = ?", category)
	}

	var total int64
	if err := dbq.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var list []models.Case
	if err := dbq.Order("created_at DESC").
		Offset((page - 1) * size).Limit(size).
		Find(&list).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	items := make([]OpenCaseItem, 0, len(list))
	for _, cs := range list {
		items = append(items, OpenCaseItem{
			ID:          cs.ID,
			Title:       cs.Title,
			Category:    cs.Category,
			CaseType:    cs.CaseType,
			BudgetRange: cs.BudgetRange,
			CreatedAt:   cs.CreatedAt,
			Preview:     sanitize.Summary(sanitize.RedactPII(cs.Description), 240),
		})
	}

	return c.JSON(fiber.Map{
		"page": page, "pageSize": size, "total": total,
		"pages": int(math.Ceil(float64(total) / float64(size))),
		"items": items,
	})
}
