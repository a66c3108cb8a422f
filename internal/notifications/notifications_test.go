package notifications

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/internal/realtime"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

/* ============================================================================
   Helpers
   ============================================================================ */

// openTestDB loads TEST_DATABASE_URL, opens a real Postgres connection,
// runs migrations, and registers a cleanup that truncates test tables after run.
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
	if err := db.AutoMigrate(&models.Profile{}, &models.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		sql := `TRUNCATE TABLE notifications, profiles RESTART IDENTITY CASCADE`
		if err := db.Exec(sql).Error; err != nil {
			t.Logf("truncate failed (ignored): %v", err)
		}
	})

	return db
}

// withTx wraps a function in a DB transaction and commits it at the end.
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

// injectAuth puts auth locals into Fiber context so MustUserID works without a JWT.
func injectAuth(userID uuid.UUID, role models.Role) fiber.Handler {
	id := userID.String()
	return func(c *fiber.Ctx) error {
		c.Locals("userID", id)
		c.Locals("role", string(role))
		return c.Next()
	}
}

func newTestApp(h *Handler, userID uuid.UUID) *fiber.App {
	app := fiber.New()
	app.Use(injectAuth(userID, models.RoleCitizen))
	app.Get("/api/notifications", h.List)
	app.Post("/api/notifications/read-all", h.MarkAllRead)
	app.Post("/api/notifications/:id/read", h.MarkRead)
	return app
}

func seedUser(t *testing.T, tx *gorm.DB) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if err := tx.Create(&models.Profile{
		ID:    id,
		Email: "u_" + id.String()[:8] + "@x.com",
		Role:  models.RoleCitizen,
	}).Error; err != nil {
		t.Fatal(err)
	}
	return id
}

/* ============================================================================
   Tests — service
   ============================================================================ */

// Notify should persist the row and push it to a live subscriber.
func Test_Notify_PersistsAndPublishes(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		user := seedUser(t, tx)

		hub := realtime.NewHub(zap.NewNop())
		sub := hub.Subscribe("user:" + user.String())
		defer sub.Close()

		svc := NewService(tx, hub, zap.NewNop())
		svc.Notify(context.Background(), user, models.SeveritySuccess, "Case accepted", "A lawyer took your case", "/dashboard")

		var count int64
		tx.Model(&models.Notification{}).Where("recipient_id = ?", user).Count(&count)
		if count != 1 {
			t.Fatalf("want 1 stored notification, got %d", count)
		}

		select {
		case ev := <-sub.C:
			if ev.Kind != "notification" {
				t.Fatalf("unexpected event kind %q", ev.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("no event published")
		}
	})
}

// A failed insert must be swallowed, not returned or panicked, and nothing
// should reach the stream.
func Test_Notify_InsertFailureIsSwallowed(t *testing.T) {
	db := openTestDB(t)

	tx := db.Begin()
	if tx.Error != nil {
		t.Fatalf("begin tx: %v", tx.Error)
	}
	// Rolled back below, so the drop never reaches the real schema.
	defer tx.Rollback()

	user := seedUser(t, tx)
	if err := tx.Exec(`DROP TABLE notifications`).Error; err != nil {
		t.Fatalf("drop: %v", err)
	}

	hub := realtime.NewHub(zap.NewNop())
	sub := hub.Subscribe("user:" + user.String())
	defer sub.Close()

	svc := NewService(tx, hub, zap.NewNop())
	svc.Notify(context.Background(), user, models.SeverityInfo, "t", "b", "")

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event after failed insert: %+v", ev)
	default:
	}
}

/* ============================================================================
   Tests — handlers
   ============================================================================ */

func Test_List_And_UnreadCount(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		user := seedUser(t, tx)
		other := seedUser(t, tx)

		for i := 0; i < 3; i++ {
			_ = tx.Create(&models.Notification{RecipientID: user, Title: "n", Severity: models.SeverityInfo}).Error
		}
		_ = tx.Create(&models.Notification{RecipientID: other, Title: "foreign", Severity: models.SeverityInfo}).Error

		app := newTestApp(NewHandler(tx, realtime.NewHub(zap.NewNop())), user)
		req := httptest.NewRequest("GET", "/api/notifications", nil)
		resp, _ := app.Test(req)
		if resp.StatusCode != 200 {
			t.Fatalf("status %d", resp.StatusCode)
		}

		var out struct {
			Items  []models.Notification `json:"items"`
			Unread int64                 `json:"unread"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if len(out.Items) != 3 {
			t.Fatalf("want 3 items, got %d", len(out.Items))
		}
		if out.Unread != 3 {
			t.Fatalf("want 3 unread, got %d", out.Unread)
		}
	})
}

func Test_MarkRead_OwnershipEnforced(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		user := seedUser(t, tx)
		other := seedUser(t, tx)

		n := models.Notification{RecipientID: other, Title: "not yours", Severity: models.SeverityInfo}
		if err := tx.Create(&n).Error; err != nil {
			t.Fatal(err)
		}

		app := newTestApp(NewHandler(tx, realtime.NewHub(zap.NewNop())), user)
		req := httptest.NewRequest("POST", "/api/notifications/"+n.ID.String()+"/read", nil)
		resp, _ := app.Test(req)
		if resp.StatusCode != 404 {
			t.Fatalf("want 404 for foreign notification, got %d", resp.StatusCode)
		}

		var fresh models.Notification
		_ = tx.First(&fresh, "id = ?", n.ID).Error
		if fresh.Read {
			t.Fatal("foreign notification must stay unread")
		}
	})
}

func Test_MarkAllRead(t *testing.T) {
	db := openTestDB(t)
	withTx(t, db, func(tx *gorm.DB) {
		user := seedUser(t, tx)
		for i := 0; i < 2; i++ {
			_ = tx.Create(&models.Notification{RecipientID: user, Title: "n", Severity: models.SeverityInfo}).Error
		}

		app := newTestApp(NewHandler(tx, realtime.NewHub(zap.NewNop())), user)
		resp, _ := app.Test(httptest.NewRequest("POST", "/api/notifications/read-all", nil))
		if resp.StatusCode != 204 {
			t.Fatalf("status %d", resp.StatusCode)
		}

		var unread int64
		tx.Model(&models.Notification{}).Where("recipient_id = ? AND read = false", user).Count(&unread)
		if unread != 0 {
			t.Fatalf("want 0 unread, got %d", unread)
		}
	})
}
