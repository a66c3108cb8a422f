package notifications

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nyaya-platform/nyaya-backend/internal/realtime"
	"github.com/nyaya-platform/nyaya-backend/pkg/models"
)

// Service creates notifications and pushes them to live streams.
type Service struct {
	db  *gorm.DB
	hub *realtime.Hub
	log *zap.Logger
}

func NewService(db *gorm.DB, hub *realtime.Hub, log *zap.Logger) *Service {
	return &Service{db: db, hub: hub, log: log}
}

// Notify records a notification for recipient and publishes it to their
// stream. Failures are logged and swallowed: a notification must never
// fail or roll back the action that triggered it, so callers do not pass
// their transaction here and never see an error.
func (s *Service) Notify(ctx context.Context, recipient uuid.UUID, severity models.Severity, title, body, link string) {
	n := models.Notification{
		RecipientID: recipient,
		Title:       title,
		Body:        body,
		Severity:    severity,
		Link:        link,
	}
	if err := s.db.WithContext(ctx).Create(&n).Error; err != nil {
		s.log.Warn("notification insert failed",
			zap.String("recipient", recipient.String()),
			zap.String("title", title),
			zap.Error(err))
		return
	}

	s.hub.Publish(realtime.Event{
		Topic:   "user:" + recipient.String(),
		Kind:    "notification",
		Payload: n,
	})
}
