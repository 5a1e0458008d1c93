package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"support-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Store is the Postgres Repository
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

const customerColumns = `id, name, email, phone, wallet_balance, membership, location, total_spent, recent_orders`

// ListCustomers retrieves all customers
func (s *Store) ListCustomers(ctx context.Context) ([]models.CustomerSummary, error) {
	customers := []models.CustomerSummary{}
	err := s.db.SelectContext(ctx, &customers,
		"SELECT id, name, membership, location FROM customers ORDER BY id")
	return customers, err
}

// GetCustomer retrieves a customer by ID
func (s *Store) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer,
		"SELECT "+customerColumns+" FROM customers WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("customer", id)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// CreditWalletIfZero credits only a wallet whose balance is exactly zero
func (s *Store) CreditWalletIfZero(ctx context.Context, customerID string, amount decimal.Decimal) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE customers SET wallet_balance = wallet_balance + $1 WHERE id = $2 AND wallet_balance = 0",
		amount, customerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetCustomer(ctx, customerID); err != nil {
			return false, err
		}
	}
	return n > 0, nil
}

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetCustomerOrders retrieves orders for a customer
func (s *Store) GetCustomerOrders(ctx context.Context, customerID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE customer_id = $1 ORDER BY id", customerID)
	return orders, err
}

// GetCustomerPayments retrieves payments for a customer
func (s *Store) GetCustomerPayments(ctx context.Context, customerID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE customer_id = $1 ORDER BY id", customerID)
	return payments, err
}

// GetFailedPayments retrieves failed payments for a customer
func (s *Store) GetFailedPayments(ctx context.Context, customerID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE customer_id = $1 AND status = $2 ORDER BY id",
		customerID, models.PaymentStatusFailed)
	return payments, err
}

// MarkFailedPaymentsProcessed flips every failed payment of the customer to processed
func (s *Store) MarkFailedPaymentsProcessed(ctx context.Context, customerID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1 WHERE customer_id = $2 AND status = $3",
		models.PaymentStatusProcessed, customerID, models.PaymentStatusFailed)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CreateCase creates a new case
func (s *Store) CreateCase(ctx context.Context, c *models.Case) error {
	query := `
		INSERT INTO cases (id, customer_id, issue_details, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	return s.db.QueryRowxContext(ctx, query, c.ID, c.CustomerID, c.IssueDetails, c.Status).
		Scan(&c.CreatedAt, &c.UpdatedAt)
}

// GetCase retrieves a case by ID
func (s *Store) GetCase(ctx context.Context, id string) (*models.Case, error) {
	var c models.Case
	err := s.db.GetContext(ctx, &c, "SELECT * FROM cases WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("case", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateCaseStatus updates case status
func (s *Store) UpdateCaseStatus(ctx context.Context, id string, status models.CaseStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE cases SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound("case", id)
	}
	return nil
}

// ApproveCase credits the customer and resolves the case in one transaction
func (s *Store) ApproveCase(ctx context.Context, caseID, customerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	var balance decimal.Decimal
	err = tx.GetContext(ctx, &balance,
		"UPDATE customers SET wallet_balance = wallet_balance + $1 WHERE id = $2 RETURNING wallet_balance",
		amount, customerID)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, notFound("customer", customerID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to credit wallet: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE cases SET status = $1, updated_at = NOW() WHERE id = $2", models.CaseStatusResolved, caseID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to resolve case: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return decimal.Zero, notFound("case", caseID)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// NextSubscriptionID draws from subscription_seq
func (s *Store) NextSubscriptionID(ctx context.Context) (string, error) {
	var seq int64
	if err := s.db.GetContext(ctx, &seq, "SELECT nextval('subscription_seq')"); err != nil {
		return "", fmt.Errorf("failed to draw subscription id: %w", err)
	}
	return FormatSubscriptionID(seq), nil
}

const subscriptionColumns = `id, customer_id, items, to_char(delivery_date, 'YYYY-MM-DD') AS delivery_date, subscription_type, status, created_at`

// CreateSubscription creates a new subscription
func (s *Store) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, customer_id, items, delivery_date, subscription_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.CustomerID, sub.Items, sub.DeliveryDate, sub.SubscriptionType, sub.Status, sub.CreatedAt)
	return err
}

// GetSubscription retrieves a subscription by ID
func (s *Store) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.GetContext(ctx, &sub,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("subscription", id)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListSubscriptionsByCustomer retrieves a customer's subscriptions in creation order
func (s *Store) ListSubscriptionsByCustomer(ctx context.Context, customerID string) ([]models.Subscription, error) {
	subs := []models.Subscription{}
	err := s.db.SelectContext(ctx, &subs,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE customer_id = $1 ORDER BY created_at, id",
		customerID)
	return subs, err
}

// ListActiveSubscriptions retrieves every active subscription
func (s *Store) ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := s.db.SelectContext(ctx, &subs,
		"SELECT "+subscriptionColumns+" FROM subscriptions WHERE status = $1 ORDER BY created_at, id",
		models.SubscriptionStatusActive)
	return subs, err
}

// CancelSubscription soft-cancels a subscription and reports whether it exists
func (s *Store) CancelSubscription(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `
		WITH updated AS (
			UPDATE subscriptions SET status = $1 WHERE id = $2 RETURNING id
		)
		SELECT EXISTS(SELECT 1 FROM updated)`,
		models.SubscriptionStatusCancelled, id)
	return exists, err
}
