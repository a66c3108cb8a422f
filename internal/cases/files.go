package cases

import (
	"errors"
	"mime"
	"mime/multipart"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/internal/auth"
	"github.com/nyaya-platform/nyaya-backend/internal/storage"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
	"github.com/nyaya-platform/nyaya-backend/pkg/utils"
)

const (
	maxUploadFiles = 10
	maxUploadBytes = 10 * 1024 * 1024
)

// validateUpload checks one multipart file against size and type limits.
// Returns the resolved content type or an error message.
func validateUpload(fh *multipart.FileHeader) (string, string) {
	if fh.Size <= 0 {
		return "", "empty file"
	}
	if fh.Size > maxUploadBytes {
		return "", "max 10MB per file"
	}
	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	switch ct {
	case "application/pdf", "image/png", "image/jpeg":
		return ct, ""
	}
	return "", "only PDF, PNG or JPEG are allowed"
}

// appendToArray appends url to one of the case's text[] columns in a single
// statement. array_append on the server side means two concurrent uploads
// both land; a read-modify-write here would lose one of them.
func (h *Handler) appendToArray(caseID, column, url string) error {
	return h.db.Model(&models.Case{}).
		Where("id = ?", caseID).
		Update(column, gorm.Expr("array_append(COALESCE("+column+", '{}'), ?)", url)).Error
}

// storeFile uploads one file and returns its public URL. With no storage
// client configured (tests) a deterministic dummy URL is returned.
func (h *Handler) storeFile(bucket, caseID string, fh *multipart.FileHeader, ct string) (string, error) {
	key := storage.CaseObjectKey(caseID, fh.Filename)
	if h.sb == nil {
		return "https://storage.invalid/" + bucket + "/" + key, nil
	}
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := h.sb.Upload(bucket, key, f, ct); err != nil {
		return "", err
	}
	return h.sb.PublicURL(bucket, key), nil
}

/* =========================== Evidence upload ============================ */

// @Summary      Upload evidence
// @Description  Case owner attaches up to 10 files; each lands in the evidence list
// @Tags         files
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id     path      string  true  "case id (uuid)"
// @Param        files  formData  []file  true  "PDF/PNG/JPEG (max 10)"
// @Success      201    {object}  map[string]any  "results"
// @Failure      400    {object}  models.ErrorResponse
// @Failure      403    {object}  models.ErrorResponse
// @Router       /cases/{id}/evidence [post]
func (h *Handler) UploadEvidence(c *fiber.Ctx) error {
	ownerID := auth.MustUserID(c)
	caseID := c.Params("id")

	var cs models.Case
	if err := h.db.Where("id = ? AND owner_id = ?", caseID, ownerID).First(&cs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrForbidden
		}
		return fiber.ErrInternalServerError
	}

	// No additions once the record is terminal.
	switch cs.Status {
	case models.CaseClosed, models.CaseClosedNCR, models.CaseRejectedByPolice:
		return fiber.NewError(fiber.StatusConflict, "case is closed")
	}

	files, err := formFiles(c)
	if err != nil {
		return err
	}

	results := make([]fiber.Map, 0, len(files))
	added := 0
	for _, fh := range files {
		res := fiber.Map{"name": fh.Filename, "size": fh.Size}

		ct, msg := validateUpload(fh)
		if msg != "" {
			res["error"] = msg
			results = append(results, res)
			continue
		}

		url, err := h.storeFile(h.EvidenceBucket, caseID, fh, ct)
		if err != nil {
			res["error"] = "upload failed"
			results = append(results, res)
			continue
		}

		if err := h.appendToArray(caseID, "evidence", url); err != nil {
			res["error"] = "database error"
			results = append(results, res)
			continue
		}

		res["url"] = url
		results = append(results, res)
		added++
	}

	if added > 0 {
		actor, _ := uuid.Parse(ownerID)
		utils.LogCaseHistory(c.Context(), h.db, cs.ID, actor, "evidence_added", cs.Status, cs.Status, "")

		if h.notify != nil && cs.AssignedToID != nil {
			link := "/lawyer/legal-dashboard"
			if cs.AssignedRole == models.RolePolice {
				link = "/police-dashboard"
			}
			h.notify.Notify(c.Context(), *cs.AssignedToID, models.SeverityInfo,
				"New evidence attached",
				"The case \""+cs.Title+"\" has new evidence from the complainant.",
				link)
		}
		h.publish(cs.ID, "evidence_added", fiber.Map{"count": added})
	}

	// 201 even if some items failed; callers check per-item "error".
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"results": results})
}

/* =========================== Document upload ============================ */

// @Summary      Upload handler documents
// @Description  Assigned lawyer or police attaches working documents to their own list
// @Tags         files
// @Security     BearerAuth
// @Accept       multipart/form-data
// @Produce      json
// @Param        id     path      string  true  "case id (uuid)"
// @Param        files  formData  []file  true  "PDF/PNG/JPEG (max 10)"
// @Success      201    {object}  map[string]any  "results"
// @Failure      403    {object}  models.ErrorResponse
// @Router       /cases/{id}/documents [post]
func (h *Handler) UploadDocument(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)
	role := auth.MustRole(c)
	caseID := c.Params("id")

	var cs models.Case
	if err := h.db.First(&cs, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cs.AssignedToID == nil || cs.AssignedToID.String() != userID {
		return fiber.ErrForbidden
	}

	// Which list the upload lands in depends on who the handler is.
	var column string
	switch role {
	case models.RoleLawyer:
		column = "lawyer_documents"
	case models.RolePolice:
		column = "police_documents"
	default:
		return fiber.ErrForbidden
	}

	files, err := formFiles(c)
	if err != nil {
		return err
	}

	results := make([]fiber.Map, 0, len(files))
	added := 0
	for _, fh := range files {
		res := fiber.Map{"name": fh.Filename, "size": fh.Size}

		ct, msg := validateUpload(fh)
		if msg != "" {
			res["error"] = msg
			results = append(results, res)
			continue
		}

		url, err := h.storeFile(h.DocumentsBucket, caseID, fh, ct)
		if err != nil {
			res["error"] = "upload failed"
			results = append(results, res)
			continue
		}

		if err := h.appendToArray(caseID, column, url); err != nil {
			res["error"] = "database error"
			results = append(results, res)
			continue
		}

		res["url"] = url
		results = append(results, res)
		added++
	}

	if added > 0 {
		actor, _ := uuid.Parse(userID)
		utils.LogCaseHistory(c.Context(), h.db, cs.ID, actor, "documents_added", cs.Status, cs.Status, "")

		if h.notify != nil {
			h.notify.Notify(c.Context(), cs.OwnerID, models.SeverityInfo,
				"New documents attached",
				"Your case \""+cs.Title+"\" has new documents from the "+string(role)+" handling it.",
				"/dashboard")
		}
		h.publish(cs.ID, "documents_added", fiber.Map{"by": role, "count": added})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"results": results})
}

// formFiles pulls the uploaded files out of the multipart form under either
// accepted key.
func formFiles(c *fiber.Ctx) ([]*multipart.FileHeader, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "multipart form required; use files[]")
	}
	files := form.File["files[]"]
	if len(files) == 0 {
		files = form.File["files"]
	}
	if len(files) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "files are required (use key: files[])")
	}
	if len(files) > maxUploadFiles {
		return nil, fiber.NewError(fiber.StatusBadRequest, "max 10 files allowed")
	}
	return files, nil
}
