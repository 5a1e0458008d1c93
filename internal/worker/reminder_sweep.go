package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"support-service/internal/models"
	"support-service/internal/util"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReminderSource computes reminders for every active subscription
type ReminderSource interface {
	DueReminders(ctx context.Context, now time.Time) ([]models.Reminder, error)
}

// ReminderPublisher emits reminder events
type ReminderPublisher interface {
	PublishReminderDue(ctx context.Context, event *models.ReminderDueEvent) error
}

// Claimer records that a key was handled, reporting false if it already was.
// ReleaseClaim undoes a claim whose work did not complete.
type Claimer interface {
	ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, key string) error
}

const claimTTL = 96 * time.Hour

// ReminderSweep periodically publishes due reminders, at most once per
// subscription and delivery date
type ReminderSweep struct {
	source    ReminderSource
	publisher ReminderPublisher
	claims    Claimer
	schedule  string
	cron      *cron.Cron
	now       func() time.Time
	logger    *zap.Logger
}

// NewReminderSweep creates a sweep. claims may be nil, in which case
// de-duplication is kept in process memory.
func NewReminderSweep(source ReminderSource, publisher ReminderPublisher, claims Claimer, schedule string) *ReminderSweep {
	if claims == nil {
		claims = NewLocalClaimer()
	}
	logger := util.GetLogger()
	return &ReminderSweep{
		source:    source,
		publisher: publisher,
		claims:    claims,
		schedule:  schedule,
		cron:      cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(zap.NewStdLog(logger))))),
		now:       time.Now,
		logger:    logger,
	}
}

// Start registers the sweep on its cron schedule and starts the scheduler
func (s *ReminderSweep) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("Reminder sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reminder schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("Reminder sweep scheduled", zap.String("schedule", s.schedule))
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish
func (s *ReminderSweep) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce publishes every reminder that is due now and was not published
// before. It returns the number published.
func (s *ReminderSweep) RunOnce(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "ReminderSweep.RunOnce")
	defer span.End()

	reminders, err := s.source.DueReminders(ctx, s.now())
	if err != nil {
		return 0, err
	}

	published := 0
	for _, r := range reminders {
		key := fmt.Sprintf("reminder:%s:%s", r.SubscriptionID, r.DeliveryDate)
		first, err := s.claims.ClaimOnce(ctx, key, claimTTL)
		if err != nil {
			s.logger.Warn("Reminder claim failed", zap.String("key", key), zap.Error(err))
			continue
		}
		if !first {
			continue
		}

		event := &models.ReminderDueEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeReminderDue,
				Timestamp: time.Now(),
			},
			Reminder: r,
		}
		if err := s.publisher.PublishReminderDue(ctx, event); err != nil {
			s.logger.Error("Failed to publish reminder",
				zap.String("subscription_id", r.SubscriptionID),
				zap.Error(err))
			if err := s.claims.ReleaseClaim(context.Background(), key); err != nil {
				s.logger.Warn("Reminder claim release failed", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		util.RemindersEmittedTotal.WithLabelValues("sweep").Inc()
		published++
	}

	s.logger.Info("Reminder sweep finished",
		zap.Int("due", len(reminders)),
		zap.Int("published", published))
	return published, nil
}

// LocalClaimer keeps claims in memory. Entries do not expire.
type LocalClaimer struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewLocalClaimer creates an in-process claimer
func NewLocalClaimer() *LocalClaimer {
	return &LocalClaimer{seen: make(map[string]struct{})}
}

func (c *LocalClaimer) ClaimOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[key]; ok {
		return false, nil
	}
	c.seen[key] = struct{}{}
	return true, nil
}

func (c *LocalClaimer) ReleaseClaim(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.seen, key)
	return nil
}
