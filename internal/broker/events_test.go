package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"support-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestEventHandlerRoutesReminder(t *testing.T) {
	h := NewEventHandler()

	var got *models.ReminderDueEvent
	h.OnReminderDue(func(ctx context.Context, e *models.ReminderDueEvent) error {
		got = e
		return nil
	})

	err := h.HandleMessage(context.Background(), message(t, models.ReminderDueEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeReminderDue, Timestamp: time.Now()},
		Reminder:  models.Reminder{SubscriptionID: "SUB001", DaysUntil: 2},
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "SUB001", got.Reminder.SubscriptionID)
	assert.Equal(t, 2, got.Reminder.DaysUntil)
}

func TestEventHandlerRoutesEscalation(t *testing.T) {
	h := NewEventHandler()

	var caseID string
	h.OnCaseEscalated(func(ctx context.Context, e *models.CaseEvent) error {
		caseID = e.CaseID
		return nil
	})

	err := h.HandleMessage(context.Background(), message(t, models.CaseEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeCaseEscalated},
		CaseID:    "c-1",
		Status:    models.CaseStatusEscalated,
	}))
	require.NoError(t, err)
	assert.Equal(t, "c-1", caseID)
}

func TestEventHandlerIgnoresOtherEvents(t *testing.T) {
	h := NewEventHandler()
	h.OnReminderDue(func(ctx context.Context, e *models.ReminderDueEvent) error {
		t.Fatal("unexpected dispatch")
		return nil
	})

	err := h.HandleMessage(context.Background(), message(t, models.SubscriptionEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeSubscriptionCreated},
	}))
	assert.NoError(t, err)

	err = h.HandleMessage(context.Background(), kafka.Message{Value: []byte("{bad")})
	assert.Error(t, err)
}
