package payments

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nyaya-platform/nyaya-backend/internal/auth"
	"github.com/nyaya-platform/nyaya-backend/internal/notifications"
	"github.com/nyaya-platform/nyaya-backend/internal/realtime"
	"github.com/nyaya-platform/nyaya-backend/pkg/config"
	"github.com/nyaya-platform/nyaya-backend/pkg/lifecycle"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
	"github.com/nyaya-platform/nyaya-backend/pkg/utils"
)

type Handler struct {
	db     *gorm.DB
	cfg    *config.Config
	notify *notifications.Service
	hub    *realtime.Hub
}

func NewHandler(db *gorm.DB, cfg *config.Config, notify *notifications.Service, hub *realtime.Hub) *Handler {
	if cfg != nil && cfg.StripeSecretKey != "" {
		stripe.Key = cfg.StripeSecretKey
	}
	return &Handler{db: db, cfg: cfg, notify: notify, hub: hub}
}

/* ============================ Create checkout =========================== */

// @Summary      Start checkout
// @Description  Case owner pays the agreed fee; returns a provider redirect URL
// @Tags         payments
// @Security     BearerAuth
// @Produce      json
// @Param        id  path  string  true  "case id (uuid)"
// @Success      201  {object}  map[string]any  "payment_id, redirect_url, provider"
// @Failure      403  {object}  models.ErrorResponse
// @Failure      409  {object}  models.ErrorResponse  "case not awaiting payment"
// @Router       /cases/{id}/checkout [post]
func (h *Handler) CreateCheckout(c *fiber.Ctx) error {
	ownerID := auth.MustUserID(c)

	var cs models.Case
	if err := h.db.First(&cs, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.ErrNotFound
		}
		return fiber.ErrInternalServerError
	}
	if cs.OwnerID.String() != ownerID {
		return fiber.ErrForbidden
	}
	if cs.Status != models.CasePaymentPending {
		return fiber.NewError(fiber.StatusConflict, "case is not awaiting payment")
	}
	if cs.FeeCents <= 0 {
		return fiber.NewError(fiber.StatusConflict, "case has no agreed fee")
	}

	provider := "mock"
	if h.cfg != nil && h.cfg.PaymentProvider != "" {
		provider = h.cfg.PaymentProvider
	}

	pay := models.Payment{
		CaseID:      cs.ID,
		PayerID:     cs.OwnerID,
		Provider:    provider,
		AmountCents: cs.FeeCents,
		Status:      models.PayInitiated,
	}
	if err := h.db.Create(&pay).Error; err != nil {
		// Unique case_id means a checkout already exists; reuse it.
		var existing models.Payment
		if e := h.db.First(&existing, "case_id = ?", cs.ID).Error; e == nil {
			if existing.Status == models.PayPaid {
				return fiber.NewError(fiber.StatusConflict, "case is already paid")
			}
			pay = existing
		} else {
			return fiber.ErrInternalServerError
		}
	}

	if provider == "stripe" {
		return h.stripeCheckout(c, &cs, &pay)
	}

	mockURL := "mock://checkout?payment_id=" + pay.ID.String()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":   pay.ID,
		"redirect_url": mockURL,
		"provider":     "mock",
	})
}

func (h *Handler) stripeCheckout(c *fiber.Ctx, cs *models.Case, pay *models.Payment) error {
	frontend := "http://localhost:5173"
	if h.cfg != nil && h.cfg.FrontendURL != "" {
		frontend = h.cfg.FrontendURL
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String("inr"),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Legal fee: " + cs.Title),
				},
				UnitAmount: stripe.Int64(int64(pay.AmountCents)),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(frontend + "/payment/success?case=" + cs.ID.String()),
		CancelURL:         stripe.String(frontend + "/payment/cancelled?case=" + cs.ID.String()),
		ClientReferenceID: stripe.String(pay.ID.String()),
	}

	s, err := session.New(params)
	if err != nil {
		return fiber.ErrInternalServerError
	}

	if err := h.db.Model(&models.Payment{}).Where("id = ?", pay.ID).
		Update("provider_session_id", s.ID).Error; err != nil {
		return fiber.ErrInternalServerError
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"payment_id":   pay.ID,
		"redirect_url": s.URL,
		"provider":     "stripe",
	})
}

/* ============================ Stripe webhook ============================ */

// @Summary      Stripe webhook
// @Description  Verifies the signature and settles the payment on checkout.session.completed
// @Tags         payments
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      400  {object}  models.ErrorResponse  "bad signature or payload"
// @Router       /payments/stripe/webhook [post]
func (h *Handler) StripeWebhook(c *fiber.Ctx) error {
	secret := ""
	if h.cfg != nil {
		secret = h.cfg.StripeWebhookSecret
	}

	event, err := webhook.ConstructEvent(c.Body(), c.Get("Stripe-Signature"), secret)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid webhook signature")
	}

	if event.Type != "checkout.session.completed" {
		// Acknowledge everything else so Stripe stops retrying.
		return c.JSON(fiber.Map{"received": true})
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "malformed session payload")
	}

	var pay models.Payment
	if err := h.db.First(&pay, "provider_session_id = ?", s.ID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Unknown session; ack so the event is not retried forever.
			return c.JSON(fiber.Map{"received": true})
		}
		return fiber.ErrInternalServerError
	}

	var intent string
	if s.PaymentIntent != nil {
		intent = s.PaymentIntent.ID
	}

	if err := h.settle(c, pay.ID, intent); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"received": true})
}

/* ============================= Mock complete ============================ */

// Body: { "payment_id": "<uuid>" }
// Header: X-Dev-Secret: <DEV_PAYMENT_SECRET>
type mockCompleteReq struct {
	PaymentID string `json:"payment_id"`
}

// @Summary      Complete a mock payment (dev only)
// @Tags         payments
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]any
// @Failure      401  {object}  models.ErrorResponse
// @Router       /payments/mock/complete [post]
func (h *Handler) MockComplete(c *fiber.Ctx) error {
	if h.cfg == nil || h.cfg.AppEnv != "dev" || h.cfg.PaymentProvider != "mock" {
		return fiber.ErrNotFound
	}
	if c.Get("X-Dev-Secret") == "" || c.Get("X-Dev-Secret") != h.cfg.DevPaymentSecret {
		return fiber.NewError(fiber.StatusUnauthorized, "missing/invalid X-Dev-Secret")
	}

	var in mockCompleteReq
	if err := c.BodyParser(&in); err != nil {
		return fiber.ErrBadRequest
	}
	pid, err := uuid.Parse(in.PaymentID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid payment id")
	}

	if err := h.settle(c, pid, "mock_"+uuid.NewString()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"ok": true})
}

/* ================================ Settle ================================ */

// settle marks the payment paid and moves the case to Active in one
// transaction. Idempotent: a payment that is already paid is a no-op.
func (h *Handler) settle(c *fiber.Ctx, paymentID uuid.UUID, providerIntent string) error {
	var cs models.Case
	var moved bool

	err := func() error {
		tx := h.db.Begin()
		defer func() {
			if r := recover(); r != nil {
				tx.Rollback()
				panic(r)
			}
		}()

		var pay models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&pay, "id = ?", paymentID).Error; err != nil {
			tx.Rollback()
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fiber.ErrNotFound
			}
			return fiber.ErrInternalServerError
		}
		if pay.Status == models.PayPaid {
			tx.Rollback()
			return nil
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&cs, "id = ?", pay.CaseID).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}

		// The charged amount must match what the case agreed to.
		if pay.AmountCents != cs.FeeCents {
			tx.Rollback()
			return fiber.NewError(fiber.StatusConflict, "amount mismatch")
		}

		next, err := lifecycle.Apply(lifecycle.State{
			Status: cs.Status, PoliceStatus: cs.PoliceStatus, ComplaintType: cs.ComplaintType,
		}, lifecycle.EventPaymentConfirmed)
		if err != nil {
			tx.Rollback()
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}

		if err := tx.Model(&models.Case{}).Where("id = ?", cs.ID).
			Update("status", next.Status).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}

		patch := map[string]any{"status": models.PayPaid}
		if providerIntent != "" {
			patch["provider_payment_intent"] = providerIntent
		}
		if err := tx.Model(&models.Payment{}).Where("id = ?", pay.ID).
			Updates(patch).Error; err != nil {
			tx.Rollback()
			return fiber.ErrInternalServerError
		}

		if err := tx.Commit().Error; err != nil {
			return fiber.ErrInternalServerError
		}
		moved = true
		cs.Status = next.Status
		return nil
	}()
	if err != nil {
		return err
	}
	if !moved {
		return nil
	}

	utils.LogCaseHistory(c.Context(), h.db, cs.ID, cs.OwnerID, "paid", models.CasePaymentPending, cs.Status, "")

	if h.notify != nil {
		h.notify.Notify(c.Context(), cs.OwnerID, models.SeveritySuccess,
			"Payment confirmed",
			fmt.Sprintf("Payment of %d received. Your case is now active.", cs.FeeCents/100),
			"/dashboard")
		if cs.AssignedToID != nil {
			h.notify.Notify(c.Context(), *cs.AssignedToID, models.SeveritySuccess,
				"Client payment received",
				"The case \""+cs.Title+"\" is funded and active.",
				"/lawyer/legal-dashboard")
		}
	}
	if h.hub != nil {
		h.hub.Publish(realtime.Event{
			Topic: "case:" + cs.ID.String(), Kind: "status_changed",
			Payload: fiber.Map{"status": cs.Status},
		})
	}
	return nil
}
