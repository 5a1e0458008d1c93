package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeCaseCreated         = "CASE_CREATED"
	EventTypeCaseEscalated       = "CASE_ESCALATED"
	EventTypeCaseResolved        = "CASE_RESOLVED"
	EventTypeCaseRejected        = "CASE_REJECTED"
	EventTypeWalletCredited      = "WALLET_CREDITED"
	EventTypePaymentsReprocessed = "PAYMENTS_REPROCESSED"
	EventTypeSubscriptionCreated = "SUBSCRIPTION_CREATED"
	EventTypeSubscriptionCancel  = "SUBSCRIPTION_CANCELLED"
	EventTypeReminderDue         = "REMINDER_DUE"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CaseEvent is published on every case state change
type CaseEvent struct {
	BaseEvent
	CaseID       string     `json:"case_id"`
	CustomerID   string     `json:"customer_id"`
	Status       CaseStatus `json:"status"`
	IssueDetails string     `json:"issue_details,omitempty"`
}

// WalletCreditedEvent published when the engine credits a wallet
type WalletCreditedEvent struct {
	BaseEvent
	CustomerID string          `json:"customer_id"`
	CaseID     string          `json:"case_id"`
	Amount     decimal.Decimal `json:"amount"`
	Reason     string          `json:"reason"`
}

// PaymentsReprocessedEvent published when failed payments are flipped to processed
type PaymentsReprocessedEvent struct {
	BaseEvent
	CustomerID string `json:"customer_id"`
	CaseID     string `json:"case_id"`
	Count      int    `json:"count"`
}

// SubscriptionEvent published on subscription create and cancel
type SubscriptionEvent struct {
	BaseEvent
	SubscriptionID string `json:"subscription_id"`
	CustomerID     string `json:"customer_id"`
	Status         string `json:"status"`
}

// ReminderDueEvent carries a reminder computed by the sweep
type ReminderDueEvent struct {
	BaseEvent
	Reminder Reminder `json:"reminder"`
}
