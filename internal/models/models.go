package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Customer represents a support customer with a wallet ledger
type Customer struct {
	ID            string          `db:"id" json:"customer_id"`
	Name          string          `db:"name" json:"name"`
	Email         string          `db:"email" json:"email"`
	Phone         string          `db:"phone" json:"phone"`
	WalletBalance decimal.Decimal `db:"wallet_balance" json:"wallet_balance"`
	Membership    string          `db:"membership" json:"membership"`
	Location      string          `db:"location" json:"location"`
	TotalSpent    decimal.Decimal `db:"total_spent" json:"total_spent"`
	RecentOrders  pq.StringArray  `db:"recent_orders" json:"recent_orders"`
}

// CustomerSummary is the short form used for customer pickers
type CustomerSummary struct {
	ID         string `db:"id" json:"customer_id"`
	Name       string `db:"name" json:"name"`
	Membership string `db:"membership" json:"membership"`
	Location   string `db:"location" json:"location"`
}

// Order represents a customer order
type Order struct {
	ID               string     `db:"id" json:"order_id"`
	CustomerID       string     `db:"customer_id" json:"customer_id"`
	Status           string     `db:"status" json:"status"`
	ExpectedDelivery string     `db:"expected_delivery" json:"expected_delivery"`
	Items            OrderLines `db:"items" json:"items"`
}

// ItemCount returns the number of lines in the order
func (o *Order) ItemCount() int {
	return len(o.Items)
}

// OrderLine is a single line of an order
type OrderLine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// OrderLines is stored as JSONB
type OrderLines []OrderLine

func (l OrderLines) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *OrderLines) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Payment represents a payment attempt
type Payment struct {
	ID         string          `db:"id" json:"payment_id"`
	CustomerID string          `db:"customer_id" json:"customer_id"`
	OrderID    string          `db:"order_id" json:"order_id"`
	Status     string          `db:"status" json:"status"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
}

// Payment statuses
const (
	PaymentStatusPending   = "pending"
	PaymentStatusFailed    = "failed"
	PaymentStatusProcessed = "processed"
	PaymentStatusSuccess   = "success"
)

// CaseStatus is the state of a support case
type CaseStatus string

// Case statuses
const (
	CaseStatusPending   CaseStatus = "pending"
	CaseStatusResolved  CaseStatus = "resolved"
	CaseStatusRejected  CaseStatus = "rejected"
	CaseStatusEscalated CaseStatus = "escalated"
)

// Terminal reports whether no further transition is allowed
func (s CaseStatus) Terminal() bool {
	return s == CaseStatusResolved || s == CaseStatusRejected
}

// CanTransition reports whether a case may move from s to next
func (s CaseStatus) CanTransition(next CaseStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case CaseStatusPending:
		return next == CaseStatusResolved || next == CaseStatusRejected || next == CaseStatusEscalated
	case CaseStatusEscalated:
		return next.Terminal()
	default:
		return false
	}
}

// Case is a durable record of an issue requiring tracked resolution
type Case struct {
	ID           string     `db:"id" json:"case_id"`
	CustomerID   string     `db:"customer_id" json:"customer_id"`
	IssueDetails string     `db:"issue_details" json:"issue_details"`
	Status       CaseStatus `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Recurrence is the repeat cadence of a subscription
type Recurrence string

// Recurrence types
const (
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Valid reports whether r is a known recurrence
func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

// Subscription statuses
const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
)

// DateLayout is the canonical calendar date format for delivery dates
const DateLayout = "2006-01-02"

// Subscription is a recurring delivery plan. DeliveryDate is always a
// canonical YYYY-MM-DD date; legacy weekday records are normalized on load.
type Subscription struct {
	ID               string            `db:"id" json:"subscription_id"`
	CustomerID       string            `db:"customer_id" json:"customer_id"`
	Items            SubscriptionItems `db:"items" json:"items"`
	DeliveryDate     string            `db:"delivery_date" json:"delivery_date"`
	SubscriptionType Recurrence        `db:"subscription_type" json:"subscription_type"`
	Status           string            `db:"status" json:"status"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
}

// SubscriptionItem is one product in a subscription
type SubscriptionItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

// SubscriptionItems is stored as JSONB
type SubscriptionItems []SubscriptionItem

func (i SubscriptionItems) Value() (driver.Value, error) {
	return json.Marshal(i)
}

func (i *SubscriptionItems) Scan(src interface{}) error {
	return scanJSON(src, i)
}

// Names returns the item names in order
func (i SubscriptionItems) Names() []string {
	names := make([]string, 0, len(i))
	for _, item := range i {
		names = append(names, item.Name)
	}
	return names
}

// Reminder is a derived, never persisted, upcoming delivery notice
type Reminder struct {
	SubscriptionID string `json:"subscription_id"`
	CustomerID     string `json:"customer_id"`
	DeliveryDate   string `json:"delivery_date"`
	DaysUntil      int    `json:"days_until"`
	Message        string `json:"message"`
}

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return errors.New("unsupported json column type")
	}
}
