package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"support-service/internal/models"
	"support-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes support domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishCaseEvent publishes a case lifecycle event
func (ep *EventPublisher) PublishCaseEvent(ctx context.Context, event *models.CaseEvent) error {
	return ep.producer.PublishEvent(ctx, "case-"+event.CaseID, event)
}

// PublishWalletCredited publishes WalletCredited event
func (ep *EventPublisher) PublishWalletCredited(ctx context.Context, event *models.WalletCreditedEvent) error {
	return ep.producer.PublishEvent(ctx, "customer-"+event.CustomerID, event)
}

// PublishPaymentsReprocessed publishes PaymentsReprocessed event
func (ep *EventPublisher) PublishPaymentsReprocessed(ctx context.Context, event *models.PaymentsReprocessedEvent) error {
	return ep.producer.PublishEvent(ctx, "customer-"+event.CustomerID, event)
}

// PublishSubscriptionEvent publishes a subscription lifecycle event
func (ep *EventPublisher) PublishSubscriptionEvent(ctx context.Context, event *models.SubscriptionEvent) error {
	return ep.producer.PublishEvent(ctx, "subscription-"+event.SubscriptionID, event)
}

// PublishReminderDue publishes ReminderDue event
func (ep *EventPublisher) PublishReminderDue(ctx context.Context, event *models.ReminderDueEvent) error {
	return ep.producer.PublishEvent(ctx, "subscription-"+event.Reminder.SubscriptionID, event)
}

// EventHandler routes incoming events by type
type EventHandler struct {
	onReminderDue   func(context.Context, *models.ReminderDueEvent) error
	onCaseEscalated func(context.Context, *models.CaseEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnReminderDue registers a handler for ReminderDue events
func (eh *EventHandler) OnReminderDue(handler func(context.Context, *models.ReminderDueEvent) error) {
	eh.onReminderDue = handler
}

// OnCaseEscalated registers a handler for CaseEscalated events
func (eh *EventHandler) OnCaseEscalated(handler func(context.Context, *models.CaseEvent) error) {
	eh.onCaseEscalated = handler
}

// HandleMessage routes messages to the registered handlers. Other event
// types are acknowledged without action.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeReminderDue:
		if eh.onReminderDue != nil {
			var event models.ReminderDueEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReminderDue event: %w", err)
			}
			return eh.onReminderDue(ctx, &event)
		}

	case models.EventTypeCaseEscalated:
		if eh.onCaseEscalated != nil {
			var event models.CaseEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal CaseEscalated event: %w", err)
			}
			return eh.onCaseEscalated(ctx, &event)
		}
	}

	return nil
}
