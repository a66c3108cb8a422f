// @title           Nyaya Platform API
// @version         1.0
// @description     Legal aid backend: citizens file cases and FIRs, lawyers and police handle them, payments activate representation, emergencies reach responders.
// @BasePath        /api
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
// @description     Format: Bearer <token>
package main

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nyaya-platform/nyaya-backend/internal/admin"
	"github.com/nyaya-platform/nyaya-backend/internal/auth"
	"github.com/nyaya-platform/nyaya-backend/internal/cases"
	"github.com/nyaya-platform/nyaya-backend/internal/contact"
	"github.com/nyaya-platform/nyaya-backend/internal/emergencies"
	"github.com/nyaya-platform/nyaya-backend/internal/fir"
	"github.com/nyaya-platform/nyaya-backend/internal/geo"
	"github.com/nyaya-platform/nyaya-backend/internal/notifications"
	"github.com/nyaya-platform/nyaya-backend/internal/payments"
	"github.com/nyaya-platform/nyaya-backend/internal/realtime"
	"github.com/nyaya-platform/nyaya-backend/internal/storage"
	"github.com/nyaya-platform/nyaya-backend/pkg/config"
	"github.com/nyaya-platform/nyaya-backend/pkg/database"
	"github.com/nyaya-platform/nyaya-backend/pkg/logger"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config:", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal("logger:", err)
	}
	defer func() { _ = zlog.Sync() }()

	db := database.Init(cfg.DatabaseURL)
	if err := db.AutoMigrate(
		&models.Profile{}, &models.Case{}, &models.CaseHistory{},
		&models.Payment{}, &models.Notification{}, &models.EmergencyEvent{},
		&models.ContactMessage{}, &models.LocationSafety{},
	); err != nil {
		zlog.Fatal("migration failed", zap.Error(err))
	}

	hub := realtime.NewHub(zlog)
	notify := notifications.NewService(db, hub, zlog)
	sb := storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey)
	geoClient := geo.NewClient(cfg.IPAPIBaseURL, cfg.GeocodeBaseURL, cfg.GeoCountry, cfg.GeoTimeout, cfg.GeoCacheTTL)

	app := fiber.New(fiber.Config{
		ErrorHandler: auth.ErrorHandler,
	})

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api := app.Group("/api")

	// Public
	authH := auth.NewHandler(db, sb)
	authH.IDProofBucket = cfg.BucketIDProofs
	api.Post("/signup", authH.Signup)
	api.Post("/signup/id-document", authH.UploadIDDocument)
	api.Post("/login", authH.Login)
	api.Get("/me", auth.RequireAuth(), authH.Me)
	api.Get("/auth/landing", authH.LandingRoute)

	contactH := contact.NewHandler(db)
	api.Post("/contact", contactH.Submit)
	api.Get("/safety-map", contactH.SafetyMap)

	// Cases
	caseH := cases.NewHandler(db, sb, notify, hub)
	caseH.EvidenceBucket = cfg.BucketCaseFiles
	caseH.DocumentsBucket = cfg.BucketDocuments

	authed := api.Group("", auth.RequireAuth())
	citizen := authed.Group("", auth.RequireRole(models.RoleCitizen))
	lawyer := authed.Group("", auth.RequireRole(models.RoleLawyer), auth.RequireVerified(db))
	police := authed.Group("", auth.RequireRole(models.RolePolice), auth.RequireVerified(db))
	adminG := authed.Group("/admin", auth.RequireRole(models.RoleAdmin))

	citizen.Post("/cases", caseH.Create)
	authed.Get("/cases/mine", caseH.ListMine)
	lawyer.Get("/cases/browse", caseH.BrowseOpen)
	citizen.Post("/cases/:id/submit", caseH.Submit)
	lawyer.Post("/cases/:id/accept", caseH.Accept)
	authed.Post("/cases/:id/close", caseH.Close)
	citizen.Post("/cases/:id/hire-lawyer", caseH.HireLawyer)
	citizen.Post("/cases/:id/evidence", caseH.UploadEvidence)
	authed.Post("/cases/:id/documents", caseH.UploadDocument)
	authed.Get("/cases/:id/events", caseH.Events)
	citizen.Patch("/cases/:id", caseH.UpdateDraft)
	authed.Get("/cases/:id", caseH.GetDetail)

	// FIRs
	firH := fir.NewHandler(db, notify, hub)
	citizen.Post("/fir", firH.File)
	police.Get("/fir/queue", firH.Queue)
	police.Post("/fir/:id/review", firH.Review)
	police.Get("/fir/:id", firH.Detail)

	// Payments
	payH := payments.NewHandler(db, cfg, notify, hub)
	citizen.Post("/cases/:id/checkout", payH.CreateCheckout)
	api.Post("/payments/stripe/webhook", payH.StripeWebhook)
	if cfg.AppEnv == "dev" && cfg.PaymentProvider == "mock" {
		api.Post("/payments/mock/complete", payH.MockComplete) // protected by X-Dev-Secret
	}

	// Notifications
	notifH := notifications.NewHandler(db, hub)
	authed.Get("/notifications", notifH.List)
	authed.Get("/notifications/stream", notifH.Stream)
	authed.Post("/notifications/read-all", notifH.MarkAllRead)
	authed.Post("/notifications/:id/read", notifH.MarkRead)

	// Emergencies
	emH := emergencies.NewHandler(db, geoClient, notify, zlog)
	authed.Post("/emergencies", emH.Create)
	authed.Get("/emergencies/mine", emH.ListMine)

	// Admin review
	adminH := admin.NewHandler(db, sb, notify)
	adminH.IDProofBucket = cfg.BucketIDProofs
	adminG.Get("/users", adminH.ListUsers)
	adminG.Get("/users/:id", adminH.GetUser)
	adminG.Post("/users/:id/decide", adminH.Decide)

	zlog.Info("server listening", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
	if err := app.Listen(":" + cfg.Port); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}
