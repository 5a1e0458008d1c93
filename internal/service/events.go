package service

import (
	"context"
	"time"

	"support-service/internal/models"

	"github.com/google/uuid"
)

// EventPublisher delivers domain events. Publish failures are logged by the
// caller and never fail the operation that produced the event.
type EventPublisher interface {
	PublishCaseEvent(ctx context.Context, event *models.CaseEvent) error
	PublishWalletCredited(ctx context.Context, event *models.WalletCreditedEvent) error
	PublishPaymentsReprocessed(ctx context.Context, event *models.PaymentsReprocessedEvent) error
	PublishSubscriptionEvent(ctx context.Context, event *models.SubscriptionEvent) error
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

func caseEvent(eventType string, c *models.Case) *models.CaseEvent {
	return &models.CaseEvent{
		BaseEvent:    newBaseEvent(eventType),
		CaseID:       c.ID,
		CustomerID:   c.CustomerID,
		Status:       c.Status,
		IssueDetails: c.IssueDetails,
	}
}
