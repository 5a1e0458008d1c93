package worker

import (
	"context"

	"support-service/internal/broker"
	"support-service/internal/models"
	"support-service/internal/util"

	"go.uber.org/zap"
)

// Notifier delivers customer and staff notifications
type Notifier interface {
	NotifyCustomer(ctx context.Context, reminder models.Reminder) error
	NotifyReviewers(ctx context.Context, event *models.CaseEvent) error
}

// LogNotifier writes notifications to the service log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier backed by the structured logger
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

func (n *LogNotifier) NotifyCustomer(ctx context.Context, reminder models.Reminder) error {
	n.logger.Info("Customer reminder",
		zap.String("customer_id", reminder.CustomerID),
		zap.String("subscription_id", reminder.SubscriptionID),
		zap.Int("days_until", reminder.DaysUntil),
		zap.String("message", reminder.Message))
	return nil
}

func (n *LogNotifier) NotifyReviewers(ctx context.Context, event *models.CaseEvent) error {
	n.logger.Info("Case awaiting human review",
		zap.String("case_id", event.CaseID),
		zap.String("customer_id", event.CustomerID),
		zap.String("issue_details", event.IssueDetails))
	return nil
}

// NotificationWorker consumes support events and hands them to a Notifier
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier Notifier) *NotificationWorker {
	return &NotificationWorker{
		consumer:     consumer,
		eventHandler: NewNotificationHandler(notifier),
		logger:       util.GetLogger(),
	}
}

// NewNotificationHandler routes REMINDER_DUE and CASE_ESCALATED events to notifier
func NewNotificationHandler(notifier Notifier) *broker.EventHandler {
	h := broker.NewEventHandler()
	h.OnReminderDue(func(ctx context.Context, e *models.ReminderDueEvent) error {
		util.RemindersEmittedTotal.WithLabelValues("notification").Inc()
		return notifier.NotifyCustomer(ctx, e.Reminder)
	})
	h.OnCaseEscalated(notifier.NotifyReviewers)
	return h
}

// Start blocks consuming events until ctx is cancelled
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// DirectReminders hands swept reminders straight to a Notifier, for
// deployments without a broker
type DirectReminders struct {
	notifier Notifier
}

// NewDirectReminders creates a broker-less reminder publisher
func NewDirectReminders(notifier Notifier) *DirectReminders {
	return &DirectReminders{notifier: notifier}
}

func (d *DirectReminders) PublishReminderDue(ctx context.Context, event *models.ReminderDueEvent) error {
	return d.notifier.NotifyCustomer(ctx, event.Reminder)
}
