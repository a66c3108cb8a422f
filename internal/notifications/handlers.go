package notifications

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/internal/auth"
	"github.com/nyaya-platform/nyaya-backend/internal/realtime"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

type Handler struct {
	db  *gorm.DB
	hub *realtime.Hub
}

func NewHandler(db *gorm.DB, hub *realtime.Hub) *Handler {
	return &Handler{db: db, hub: hub}
}

/* ================================ List ================================== */

type listResponse struct {
	Items  []models.Notification `json:"items"`
	Unread int64                 `json:"unread"`
}

// @Summary      List notifications
// @Description  Most recent notifications for the authenticated user
// @Tags         notifications
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  listResponse
// @Router       /notifications [get]
func (h *Handler) List(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	var items []models.Notification
	if err := h.db.
		Where("recipient_id = ?", userID).
		Order("created_at DESC").
		Limit(50).
		Find(&items).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	var unread int64
	h.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND read = false", userID).
		Count(&unread)

	if items == nil {
		items = []models.Notification{}
	}
	return c.JSON(listResponse{Items: items, Unread: unread})
}

/* ============================== Mark read =============================== */

// @Summary      Mark a notification as read
// @Tags         notifications
// @Security     BearerAuth
// @Param        id  path  string  true  "Notification ID"
// @Success      204
// @Failure      404  {object}  models.ErrorResponse
// @Router       /notifications/{id}/read [post]
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	res := h.db.Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ?", c.Params("id"), userID).
		Update("read", true)
	if res.Error != nil {
		return fiber.ErrInternalServerError
	}
	if res.RowsAffected == 0 {
		return fiber.ErrNotFound
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// @Summary      Mark all notifications as read
// @Tags         notifications
// @Security     BearerAuth
// @Success      204
// @Router       /notifications/read-all [post]
func (h *Handler) MarkAllRead(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	if err := h.db.Model(&models.Notification{}).
		Where("recipient_id = ? AND read = false", userID).
		Update("read", true).Error; err != nil {
		return fiber.ErrInternalServerError
	}
	return c.SendStatus(fiber.StatusNoContent)
}

/* ================================ Stream ================================ */

// @Summary      Live notification stream
// @Description  Server-sent events; one event per notification, plus keepalives
// @Tags         notifications
// @Security     BearerAuth
// @Produce      text/event-stream
// @Router       /notifications/stream [get]
func (h *Handler) Stream(c *fiber.Ctx) error {
	userID := auth.MustUserID(c)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.hub.Subscribe("user:" + userID)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer sub.Close()

		keepalive := time.NewTicker(25 * time.Second)
		defer keepalive.Stop()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				data, err := json.Marshal(ev.Payload)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
				if err := w.Flush(); err != nil {
					// Client went away.
					return
				}
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}
