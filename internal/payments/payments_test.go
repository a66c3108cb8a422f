package payments

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/pkg/config"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	_ = godotenv.Load()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Fatal("TEST_DATABASE_URL is empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Profile{}, &models.Case{}, &models.Payment{}, &models.CaseHistory{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `TRUNCATE TABLE payments, case_histories, cases, profiles RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

func withTx(t *testing.T, db *gorm.DB, fn func(tx *gorm.DB)) {
	t.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	fn(tx)
	if err := tx.Commit().Error; err != nil {
		t.Fatalf("commit tx: %v", err)
	}
}

func injectAuth(userID uuid.UUID, role models.Role) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", string(role))
		return c.Next()
	}
}

func devConfig() *config.Config {
	return &config.Config{
		AppEnv:           "dev",
		PaymentProvider:  "mock",
		DevPaymentSecret: "test-secret",
	}
}

func newTestApp(h *Handler, userID uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID, models.RoleCitizen))
	app.Post("/api/cases/:id/checkout", h.CreateCheckout)
	app.Post("/api/payments/mock/complete", h.MockComplete)
	return app
}

type seedResult struct {
	OwnerID  uuid.UUID
	LawyerID uuid.UUID
	CaseID   uuid.UUID
}

// seedAcceptedCase inserts a case in Payment Pending with an assigned lawyer
// and an agreed fee.
func seedAcceptedCase(t *testing.T, tx *gorm.DB) seedResult {
	t.Helper()
	owner, lawyer := uuid.New(), uuid.New()
	_ = tx.Create(&models.Profile{ID: owner, Email: "o_" + owner.String()[:8] + "@x.com", Role: models.RoleCitizen}).Error
	_ = tx.Create(&models.Profile{ID: lawyer, Email: "l_" + lawyer.String()[:8] + "@x.com", Role: models.RoleLawyer}).Error

	cs := models.Case{
		ID:            uuid.New(),
		OwnerID:       owner,
		AssignedToID:  &lawyer,
		AssignedRole:  models.RoleLawyer,
		Title:         "Paid Case",
		Category:      "Contract",
		ComplaintType: models.ComplaintPrivateLegal,
		Status:        models.CasePaymentPending,
		FeeCents:      5000,
	}
	if err := tx.Create(&cs).Error; err != nil {
		t.Fatal(err)
	}
	return seedResult{OwnerID: owner, LawyerID: lawyer, CaseID: cs.ID}
}

func startCheckout(t *testing.T, app *fiber.App, caseID uuid.UUID) uuid.UUID {
	t.Helper()
	resp, _ := app.Test(httptest.NewRequest("POST", "/api/cases/"+caseID.String()+"/checkout", nil))
	if resp.StatusCode != 201 {
		t.Fatalf("checkout got %d", resp.StatusCode)
	}
	var out struct {
		PaymentID uuid.UUID `json:"payment_id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.PaymentID
}

func mockComplete(t *testing.T, app *fiber.App, paymentID uuid.UUID, secret string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/payments/mock/complete",
		strings.NewReader(`{"payment_id":"`+paymentID.String()+`"}`))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-Dev-Secret", secret)
	}
	resp, _ := app.Test(req)
	return resp.StatusCode
}

/* ============================================================================
   Tests
   ============================================================================ */

// Completing a mock payment activates the case and marks the payment paid.
func Test_MockComplete_ActivatesCase(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedAcceptedCase(t, tx)
		app := newTestApp(NewHandler(tx, devConfig(), nil, nil), seed.OwnerID)

		pid := startCheckout(t, app, seed.CaseID)

		if code := mockComplete(t, app, pid, "test-secret"); code != 200 {
			t.Fatalf("complete got %d", code)
		}

		var cs models.Case
		_ = tx.First(&cs, "id = ?", seed.CaseID).Error
		if cs.Status != models.CaseActive {
			t.Fatalf("case status = %q", cs.Status)
		}

		var pay models.Payment
		_ = tx.First(&pay, "id = ?", pid).Error
		if pay.Status != models.PayPaid {
			t.Fatalf("payment status = %q", pay.Status)
		}
	})
}

// A second completion of the same payment is a harmless no-op.
func Test_MockComplete_Idempotent(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedAcceptedCase(t, tx)
		app := newTestApp(NewHandler(tx, devConfig(), nil, nil), seed.OwnerID)

		pid := startCheckout(t, app, seed.CaseID)

		if code := mockComplete(t, app, pid, "test-secret"); code != 200 {
			t.Fatalf("first complete got %d", code)
		}
		if code := mockComplete(t, app, pid, "test-secret"); code != 200 {
			t.Fatalf("second complete got %d", code)
		}

		var cs models.Case
		_ = tx.First(&cs, "id = ?", seed.CaseID).Error
		if cs.Status != models.CaseActive {
			t.Fatalf("case status = %q after replay", cs.Status)
		}
	})
}

// The dev secret gates mock completion.
func Test_MockComplete_RequiresSecret(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedAcceptedCase(t, tx)
		app := newTestApp(NewHandler(tx, devConfig(), nil, nil), seed.OwnerID)

		pid := startCheckout(t, app, seed.CaseID)

		if code := mockComplete(t, app, pid, ""); code != 401 {
			t.Fatalf("missing secret want 401, got %d", code)
		}
		if code := mockComplete(t, app, pid, "wrong"); code != 401 {
			t.Fatalf("wrong secret want 401, got %d", code)
		}
	})
}

// Checkout is only available to the owner, and only while payment is due.
func Test_Checkout_Guards(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedAcceptedCase(t, tx)
		h := NewHandler(tx, devConfig(), nil, nil)

		// Non-owner
		stranger := uuid.New()
		_ = tx.Create(&models.Profile{ID: stranger, Email: "s_" + stranger.String()[:8] + "@x.com", Role: models.RoleCitizen}).Error
		resp, _ := newTestApp(h, stranger).
			Test(httptest.NewRequest("POST", "/api/cases/"+seed.CaseID.String()+"/checkout", nil))
		if resp.StatusCode != 403 {
			t.Fatalf("stranger want 403, got %d", resp.StatusCode)
		}

		// Wrong status
		_ = tx.Model(&models.Case{}).Where("id = ?", seed.CaseID).
			Update("status", models.CaseActive).Error
		resp2, _ := newTestApp(h, seed.OwnerID).
			Test(httptest.NewRequest("POST", "/api/cases/"+seed.CaseID.String()+"/checkout", nil))
		if resp2.StatusCode != 409 {
			t.Fatalf("active case want 409, got %d", resp2.StatusCode)
		}
	})
}

// Retrying checkout reuses the pending payment row.
func Test_Checkout_ReusesPendingPayment(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		seed := seedAcceptedCase(t, tx)
		app := newTestApp(NewHandler(tx, devConfig(), nil, nil), seed.OwnerID)

		first := startCheckout(t, app, seed.CaseID)
		second := startCheckout(t, app, seed.CaseID)
		if first != second {
			t.Fatalf("expected same payment, got %s and %s", first, second)
		}

		var count int64
		tx.Model(&models.Payment{}).Where("case_id = ?", seed.CaseID).Count(&count)
		if count != 1 {
			t.Fatalf("payment rows = %d, want 1", count)
		}
	})
}
