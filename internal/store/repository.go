package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"support-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a keyed record does not exist
var ErrNotFound = errors.New("record not found")

// Repository is the keyed record store shared by every component.
// Multi-step read-modify-write operations are atomic in each implementation.
type Repository interface {
	ListCustomers(ctx context.Context) ([]models.CustomerSummary, error)
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	CreditWalletIfZero(ctx context.Context, customerID string, amount decimal.Decimal) (bool, error)

	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetCustomerOrders(ctx context.Context, customerID string) ([]models.Order, error)
	GetCustomerPayments(ctx context.Context, customerID string) ([]models.Payment, error)
	GetFailedPayments(ctx context.Context, customerID string) ([]models.Payment, error)
	MarkFailedPaymentsProcessed(ctx context.Context, customerID string) (int, error)

	CreateCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id string) (*models.Case, error)
	UpdateCaseStatus(ctx context.Context, id string, status models.CaseStatus) error
	// ApproveCase resolves a case and credits its customer in one atomic step
	ApproveCase(ctx context.Context, caseID, customerID string, amount decimal.Decimal) (decimal.Decimal, error)

	NextSubscriptionID(ctx context.Context) (string, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	ListSubscriptionsByCustomer(ctx context.Context, customerID string) ([]models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (bool, error)
}

// FormatSubscriptionID renders a sequence number as SUB001, SUB002, ...
func FormatSubscriptionID(seq int64) string {
	return fmt.Sprintf("SUB%03d", seq)
}

// ParseSubscriptionSeq returns the sequence number of a SUBnnn identifier
func ParseSubscriptionSeq(id string) (int64, bool) {
	if !strings.HasPrefix(id, "SUB") {
		return 0, false
	}
	n, err := strconv.ParseInt(id[len("SUB"):], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
