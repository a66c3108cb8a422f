package auth

import (
	"mime"
	"path/filepath"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/nyaya-platform/nyaya-backend/internal/storage"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

const maxIDDocumentBytes = 10 * 1024 * 1024

// @Summary      Upload an identity document
// @Description  Pre-signup upload into the private id-proofs bucket; returns the key to submit with signup
// @Tags         auth
// @Accept       multipart/form-data
// @Produce      json
// @Param        role  formData  string  true  "lawyer | police"
// @Param        file  formData  file    true  "PDF/PNG/JPEG, max 10MB"
// @Success      201  {object}  map[string]any  "key"
// @Failure      400  {object}  models.ErrorResponse
// @Failure      503  {object}  models.ErrorResponse  "storage unavailable"
// @Router       /signup/id-document [post]
func (h *Handler) UploadIDDocument(c *fiber.Ctx) error {
	role := models.Role(c.FormValue("role"))
	if role != models.RoleLawyer && role != models.RolePolice {
		return fiber.NewError(fiber.StatusBadRequest, "role must be lawyer or police")
	}

	fh, err := c.FormFile("file")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "file is required")
	}
	if fh.Size <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty file")
	}
	if fh.Size > maxIDDocumentBytes {
		return fiber.NewError(fiber.StatusBadRequest, "max 10MB per file")
	}

	ct := fh.Header.Get("Content-Type")
	if ct == "" {
		ct = mime.TypeByExtension(filepath.Ext(fh.Filename))
	}
	switch ct {
	case "application/pdf", "image/png", "image/jpeg":
	default:
		return fiber.NewError(fiber.StatusBadRequest, "only PDF, PNG or JPEG are allowed")
	}

	// The uploader has no account yet, so the key is namespaced by a fresh
	// random id instead of a user id.
	key := storage.IDProofKey(string(role), uuid.NewString(), fh.Filename)

	if h.sb != nil {
		f, err := fh.Open()
		if err != nil {
			return fiber.ErrInternalServerError
		}
		defer f.Close()
		if err := h.sb.Upload(h.IDProofBucket, key, f, ct); err != nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "document upload failed; try again")
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"key": key})
}
