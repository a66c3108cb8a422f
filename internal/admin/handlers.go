package admin

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

	"github.com/nyaya-platform/nyaya-backend/internal/notifications"
	"github.com/nyaya-platform/nyaya-backend/internal/storage"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
	"github.com/nyaya-platform/nyaya-backend/pkg/validation"
)

type Handler struct {
	db     *gorm.DB
	sb     *storage.Supabase
	notify *notifications.Service

	// Bucket holding signup identity documents.
	IDProofBucket string
}

func NewHandler(db *gorm.DB, sb *storage.Supabase, notify *notifications.Service) *Handler {
	return &Handler{db: db, sb: sb, notify: notify, IDProofBucket: "id-proofs"}
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

/* ============================== List users ============================== */

type userRow struct {
	ID                 uuid.UUID                 `json:"id"`
	Email              string                    `json:"email"`
	Role               models.Role               `json:"role"`
	FullName           string                    `json:"full_name"`
	VerificationStatus models.VerificationStatus `json:"verification_status"`
	BarNumber          string                    `json:"bar_number,omitempty"`
	BadgeNumber        string                    `json:"badge_number,omitempty"`
	StationCode        string                    `json:"station_code,omitempty"`
	CreatedAt          time.Time                 `json:"created_at"`
}

// @Summary      List users
// @Description  Admin lists lawyer and police accounts, filtered by review state
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        status    query string false "pending | verified | rejected"
// @Param        role      query string false "lawyer | police"
// @Param        page      query int    false "page"
// @Param        pageSize  query int    false "pageSize"
// @Success      200  {object}  map[string]any
// @Router       /admin/users [get]
func (h *Handler) ListUsers(c *fiber.Ctx) error {
	page, size := parsePage(c)
	status := strings.TrimSpace(c.Query("status"))
	role := strings.TrimSpace(c.Query("role"))

	q := h.db.Model(&models.Profile{}).
		Where("role IN ?", []models.Role{models.RoleLawyer, models.RolePolice})

	if status != "" {
		switch models.VerificationStatus(status) {
		case models.VerificationPending, models.VerificationVerified, models.VerificationRejected:
			q = q.Where("verification_status = ?", status)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid status filter")
		}
	}
	if role != "" {
		switch models.Role(role) {
		case models.RoleLawyer, models.RolePolice:
			q = q.Where("role = ?", role)
		default:
			return fiber.NewError(fiber.StatusBadRequest, "invalid role filter")
		}
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	rows := make([]userRow, 0, size)
	if err := q.Order("created_at ASC").
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

/* ============================== User detail ============================= */

type userDetail struct {
	userRow
	Phone         string `json:"phone,omitempty"`
	IDDocumentURL string `json:"id_document_url,omitempty"`
}

// @Summary      User detail
// @Description  Admin reviews one account, with a short-lived link to the identity document
// @Tags         admin
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "user id (uuid)"
// @Success      200  {object}  userDetail
// @Failure      404  {object}  models.ErrorResponse
// @Router       /admin/users/{id} [get]
func (h *Handler) GetUser(c *fiber.Ctx) error {
	var p models.Profile
	if err := h.db.First(&p, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}

	out := userDetail{
		userRow: userRow{
			ID: p.ID, Email: p.Email, Role: p.Role, FullName: p.FullName,
			VerificationStatus: p.VerificationStatus,
			BarNumber:          p.BarNumber, BadgeNumber: p.BadgeNumber, StationCode: p.StationCode,
			CreatedAt: p.CreatedAt,
		},
		Phone: p.Phone,
	}

	// Identity documents live in a private bucket; hand out a signed URL,
	// never the key.
	if p.IDDocumentKey != "" && h.sb != nil {
		if url, err := h.sb.SignedURL(h.IDProofBucket, p.IDDocumentKey, 300); err == nil {
			out.IDDocumentURL = url
		}
	}
	return c.JSON(out)
}

/* ================================ Decide ================================ */

type DecideRequest struct {
	Decision string `json:"decision" validate:"required,oneof=verify reject"`
	Reason   string `json:"reason" validate:"max=500"`
}

// @Summary      Decide a verification
// @Description  Admin verifies or rejects a pending lawyer/police account; the decision is final
// @Tags         admin
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string         true  "user id (uuid)"
// @Param        payload  body  DecideRequest  true  "Decision"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "already decided"
// @Router       /admin/users/{id}/decide [post]
func (h *Handler) Decide(c *fiber.Ctx) error {
	var in DecideRequest
	if err := c.BodyParser(&in); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid json")
	}
	if errs, _ := validation.Validate(in); errs != nil {
		return validation.Respond(c, errs)
	}

	target := models.VerificationVerified
	if in.Decision == "reject" {
		target = models.VerificationRejected
	}

	tx := h.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var p models.Profile
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, "id = ?", c.Params("id")).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if p.Role != models.RoleLawyer && p.Role != models.RolePolice {
		tx.Rollback()
		return fiber.NewError(fiber.StatusBadRequest, "only lawyer and police accounts are reviewed")
	}
	if p.VerificationStatus != models.VerificationPending {
		tx.Rollback()
		return fiber.NewError(fiber.StatusConflict, "account already decided")
	}

	if err := tx.Model(&models.Profile{}).Where("id = ?", p.ID).
		Update("verification_status", target).Error; err != nil {
		tx.Rollback()
		return fiber.ErrInternalServerError
	}
	if err := tx.Commit().Error; err != nil {
		return fiber.ErrInternalServerError
	}

	if h.notify != nil {
		if target == models.VerificationVerified {
			h.notify.Notify(c.Context(), p.ID, models.SeveritySuccess,
				"Account verified", "Your account has been verified. You now have full access.", "/")
		} else {
			body := "Your account verification was rejected."
			if r := strings.TrimSpace(in.Reason); r != "" {
				body += " Reason: " + r
			}
			h.notify.Notify(c.Context(), p.ID, models.SeverityError, "Verification rejected", body, "/")
		}
	}

	return c.JSON(fiber.Map{"id": p.ID, "verification_status": target})
}
