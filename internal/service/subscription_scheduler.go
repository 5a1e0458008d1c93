package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"support-service/internal/models"
	"support-service/internal/store"
	"support-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// IdempotencyStore remembers the result of a request for a while
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// SchedulerConfig configures the subscription scheduler
type SchedulerConfig struct {
	// ReferenceMonth anchors weekday names to concrete dates
	ReferenceMonth time.Time
	IdempotencyTTL time.Duration
}

// SubscriptionScheduler manages recurring delivery plans and their reminders
type SubscriptionScheduler struct {
	repo      store.Repository
	publisher EventPublisher
	idem      IdempotencyStore
	cfg       SchedulerConfig
	logger    *zap.Logger
}

// NewSubscriptionScheduler creates a new scheduler. idem may be nil.
func NewSubscriptionScheduler(
	repo store.Repository,
	publisher EventPublisher,
	idem IdempotencyStore,
	cfg SchedulerConfig,
) *SubscriptionScheduler {
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	return &SubscriptionScheduler{
		repo:      repo,
		publisher: publisher,
		idem:      idem,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// CreateSubscriptionRequest represents a request to create a subscription.
// DeliveryDate is YYYY-MM-DD or a weekday name.
type CreateSubscriptionRequest struct {
	CustomerID       string                    `json:"customer_id" binding:"required"`
	Items            []models.SubscriptionItem `json:"items" binding:"required,min=1"`
	DeliveryDate     string                    `json:"delivery_date" binding:"required"`
	SubscriptionType models.Recurrence         `json:"subscription_type" binding:"required"`
	IdempotencyKey   string                    `json:"idempotency_key,omitempty"`
}

func (s *SubscriptionScheduler) validate(req *CreateSubscriptionRequest) (string, error) {
	if strings.TrimSpace(req.CustomerID) == "" {
		return "", invalidf("customer_id is required")
	}
	if len(req.Items) == 0 {
		return "", invalidf("items must not be empty")
	}
	for i, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" {
			return "", invalidf("items[%d].name is required", i)
		}
		if item.Quantity <= 0 {
			return "", invalidf("items[%d].quantity must be positive", i)
		}
		if item.Price.IsNegative() {
			return "", invalidf("items[%d].price must not be negative", i)
		}
	}
	if !req.SubscriptionType.Valid() {
		return "", invalidf("subscription_type must be daily, weekly or monthly")
	}

	date := strings.TrimSpace(req.DeliveryDate)
	if store.IsWeekday(date) {
		normalized, err := store.NormalizeDeliveryDay(date, s.cfg.ReferenceMonth)
		if err != nil {
			return "", invalidf("delivery_date: %v", err)
		}
		return normalized, nil
	}
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return "", invalidf("delivery_date must be YYYY-MM-DD or a weekday name")
	}
	return date, nil
}

// Create registers a new active subscription with the next SUBnnn id
func (s *SubscriptionScheduler) Create(ctx context.Context, req *CreateSubscriptionRequest) (*models.Subscription, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionScheduler.Create",
		attribute.String("customer_id", req.CustomerID))
	defer span.End()

	deliveryDate, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	idemKey := ""
	if req.IdempotencyKey != "" && s.idem != nil {
		idemKey = "subscription-idem:" + req.IdempotencyKey
		if existing := s.replay(ctx, idemKey); existing != nil {
			return existing, nil
		}
	}

	if _, err := s.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, mapStoreErr(err, "failed to load customer")
	}

	id, err := s.repo.NextSubscriptionID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate subscription id: %w", err)
	}

	sub := &models.Subscription{
		ID:               id,
		CustomerID:       req.CustomerID,
		Items:            append(models.SubscriptionItems(nil), req.Items...),
		DeliveryDate:     deliveryDate,
		SubscriptionType: req.SubscriptionType,
		Status:           models.SubscriptionStatusActive,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	util.SubscriptionsCreatedTotal.Inc()
	s.logger.Info("Subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("customer_id", sub.CustomerID),
		zap.String("delivery_date", sub.DeliveryDate))

	if idemKey != "" {
		if err := s.idem.SetIdempotencyKey(ctx, idemKey, sub.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to store idempotency key", zap.String("key", idemKey), zap.Error(err))
		}
	}
	s.publish(ctx, models.EventTypeSubscriptionCreated, sub)

	return sub, nil
}

func (s *SubscriptionScheduler) replay(ctx context.Context, key string) *models.Subscription {
	id, found, err := s.idem.GetIdempotencyKey(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}

	sub, err := s.repo.GetSubscription(ctx, id)
	if err != nil {
		s.logger.Warn("Idempotency key points at missing subscription",
			zap.String("key", key),
			zap.String("subscription_id", id),
			zap.Error(err))
		return nil
	}
	s.logger.Info("Duplicate subscription request detected",
		zap.String("idempotency_key", key),
		zap.String("subscription_id", sub.ID))
	return sub
}

// List returns the customer's subscriptions in creation order
func (s *SubscriptionScheduler) List(ctx context.Context, customerID string) ([]models.Subscription, error) {
	subs, err := s.repo.ListSubscriptionsByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// Cancel reports true when the subscription exists. Cancelling an already
// cancelled subscription changes nothing and still reports true.
func (s *SubscriptionScheduler) Cancel(ctx context.Context, subscriptionID string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionScheduler.Cancel",
		attribute.String("subscription_id", subscriptionID))
	defer span.End()

	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		return true, nil
	}

	found, err := s.repo.CancelSubscription(ctx, subscriptionID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel subscription: %w", err)
	}
	if !found {
		return false, nil
	}

	sub.Status = models.SubscriptionStatusCancelled
	util.SubscriptionsCancelledTotal.Inc()
	s.logger.Info("Subscription cancelled", zap.String("subscription_id", subscriptionID))
	s.publish(ctx, models.EventTypeSubscriptionCancel, sub)

	return true, nil
}

// Notifications returns a reminder for every subscription of the customer
// that is due in one to three days, computed from now
func (s *SubscriptionScheduler) Notifications(ctx context.Context, customerID string, now time.Time) ([]models.Reminder, error) {
	subs, err := s.List(ctx, customerID)
	if err != nil {
		return nil, err
	}

	reminders := []models.Reminder{}
	for _, sub := range subs {
		if r := NotificationFor(sub, now); r != nil {
			reminders = append(reminders, *r)
		}
	}
	return reminders, nil
}

// DueReminders evaluates every active subscription
func (s *SubscriptionScheduler) DueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error) {
	subs, err := s.repo.ListActiveSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active subscriptions: %w", err)
	}

	var reminders []models.Reminder
	for _, sub := range subs {
		if r := NotificationFor(sub, now); r != nil {
			reminders = append(reminders, *r)
		}
	}
	return reminders, nil
}

// NotificationFor returns a reminder when sub is active and its delivery date
// is one to three calendar days after now, in now's location. It returns nil
// otherwise, including for an unparseable date.
func NotificationFor(sub models.Subscription, now time.Time) *models.Reminder {
	if sub.Status != models.SubscriptionStatusActive {
		return nil
	}

	loc := now.Location()
	delivery, err := time.ParseInLocation(models.DateLayout, sub.DeliveryDate, loc)
	if err != nil {
		return nil
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	daysUntil := int(math.Round(delivery.Sub(today).Hours() / 24))

	var when string
	switch {
	case daysUntil == 1:
		when = fmt.Sprintf("tomorrow (%s)", sub.DeliveryDate)
	case daysUntil >= 2 && daysUntil <= 3:
		when = "on " + sub.DeliveryDate
	default:
		return nil
	}

	return &models.Reminder{
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		DeliveryDate:   sub.DeliveryDate,
		DaysUntil:      daysUntil,
		Message: fmt.Sprintf("Reminder: Your planned order %s will restock %s %s. Recurrence: %s.",
			sub.ID, strings.Join(sub.Items.Names(), ", "), when, sub.SubscriptionType),
	}
}

func (s *SubscriptionScheduler) publish(ctx context.Context, eventType string, sub *models.Subscription) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishSubscriptionEvent(ctx, &models.SubscriptionEvent{
		BaseEvent:      newBaseEvent(eventType),
		SubscriptionID: sub.ID,
		CustomerID:     sub.CustomerID,
		Status:         sub.Status,
	})
	if err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
