package cases

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/internal/auth"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

// @Summary      Live case events
// @Description  Server-sent events for one case; participants only
// @Tags         cases
// @Security     BearerAuth
// @Produce      text/event-stream
// @Param        id  path  string  true  "case id (uuid)"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      404  {object}  models.ErrorResponse
// @Router       /cases/{id}/events [get]
func (h *Handler) Events(c *fiber.Ctx) error {
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

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.hub.Subscribe("case:" + cs.ID.String())

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
