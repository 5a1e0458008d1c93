package store

import (
	"fmt"
	"strings"
	"time"

	"support-service/internal/models"
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// IsWeekday reports whether s names a day of the week
func IsWeekday(s string) bool {
	_, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// NormalizeDeliveryDay maps a weekday name onto the first date of the
// reference month that falls on that weekday.
func NormalizeDeliveryDay(day string, referenceMonth time.Time) (string, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
	if !ok {
		return "", fmt.Errorf("unknown delivery day %q", day)
	}

	first := time.Date(referenceMonth.Year(), referenceMonth.Month(), 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset).Format(models.DateLayout), nil
}

// legacySubscription is the stored shape before delivery dates were
// canonical: it may carry delivery_day and frequency instead.
type legacySubscription struct {
	models.Subscription
	DeliveryDay  string `json:"delivery_day,omitempty"`
	Frequency    string `json:"frequency,omitempty"`
	NextDelivery string `json:"next_delivery,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	models.DateLayout,
}

func parseCreatedAt(s string) time.Time {
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// normalize produces the canonical record. Records that already carry a
// delivery date are returned unchanged apart from the recurrence rename.
func (l legacySubscription) normalize(referenceMonth time.Time) (models.Subscription, error) {
	sub := l.Subscription
	if l.CreatedAt != "" {
		sub.CreatedAt = parseCreatedAt(l.CreatedAt)
	}
	if sub.SubscriptionType == "" && l.Frequency != "" {
		sub.SubscriptionType = models.Recurrence(strings.ToLower(l.Frequency))
	}
	if sub.DeliveryDate == "" && l.DeliveryDay != "" {
		date, err := NormalizeDeliveryDay(l.DeliveryDay, referenceMonth)
		if err != nil {
			return sub, fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		sub.DeliveryDate = date
	}
	if sub.Status == "" {
		sub.Status = models.SubscriptionStatusActive
	}
	return sub, nil
}
