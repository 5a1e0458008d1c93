package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"support-service/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Repository. Records keep insertion order and
// every mutation runs under a single mutex.
type MemoryStore struct {
	mu            sync.RWMutex
	customers     []*models.Customer
	orders        []*models.Order
	payments      []*models.Payment
	cases         map[string]*models.Case
	subscriptions []*models.Subscription
	subSeq        int64
}

// Seed is the initial content of a MemoryStore
type Seed struct {
	Customers     []models.Customer
	Orders        []models.Order
	Payments      []models.Payment
	Subscriptions []models.Subscription
}

// NewMemoryStore creates a store holding copies of the seed records
func NewMemoryStore(seed Seed) *MemoryStore {
	s := &MemoryStore{cases: make(map[string]*models.Case)}
	for i := range seed.Customers {
		c := seed.Customers[i]
		s.customers = append(s.customers, &c)
	}
	for i := range seed.Orders {
		o := seed.Orders[i]
		s.orders = append(s.orders, &o)
	}
	for i := range seed.Payments {
		p := seed.Payments[i]
		s.payments = append(s.payments, &p)
	}
	for i := range seed.Subscriptions {
		sub := seed.Subscriptions[i]
		s.subscriptions = append(s.subscriptions, &sub)
		if n, ok := ParseSubscriptionSeq(sub.ID); ok && n > s.subSeq {
			s.subSeq = n
		}
	}
	return s
}

// LoadMemoryStore reads customers.json, orders.json, payments.json and
// subscriptions.json from dir. Missing files yield empty collections.
// Legacy subscriptions are normalized against referenceMonth once, here.
func LoadMemoryStore(dir string, referenceMonth time.Time) (*MemoryStore, error) {
	var seed Seed

	var customers struct {
		Customers []models.Customer `json:"customers"`
	}
	if err := readSeedFile(filepath.Join(dir, "customers.json"), &customers); err != nil {
		return nil, err
	}
	seed.Customers = customers.Customers

	var orders struct {
		Orders []models.Order `json:"orders"`
	}
	if err := readSeedFile(filepath.Join(dir, "orders.json"), &orders); err != nil {
		return nil, err
	}
	seed.Orders = orders.Orders

	var payments struct {
		Payments []models.Payment `json:"payments"`
	}
	if err := readSeedFile(filepath.Join(dir, "payments.json"), &payments); err != nil {
		return nil, err
	}
	seed.Payments = payments.Payments

	var subs struct {
		Subscriptions []legacySubscription `json:"subscriptions"`
	}
	if err := readSeedFile(filepath.Join(dir, "subscriptions.json"), &subs); err != nil {
		return nil, err
	}
	for _, raw := range subs.Subscriptions {
		sub, err := raw.normalize(referenceMonth)
		if err != nil {
			return nil, err
		}
		seed.Subscriptions = append(seed.Subscriptions, sub)
	}

	return NewMemoryStore(seed), nil
}

func readSeedFile(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (s *MemoryStore) customer(id string) *models.Customer {
	for _, c := range s.customers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// ListCustomers returns every customer in seed order
func (s *MemoryStore) ListCustomers(ctx context.Context) ([]models.CustomerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CustomerSummary, 0, len(s.customers))
	for _, c := range s.customers {
		out = append(out, models.CustomerSummary{ID: c.ID, Name: c.Name, Membership: c.Membership, Location: c.Location})
	}
	return out, nil
}

// GetCustomer retrieves a customer by ID
func (s *MemoryStore) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.customer(id)
	if c == nil {
		return nil, notFound("customer", id)
	}
	cp := *c
	cp.RecentOrders = append([]string(nil), c.RecentOrders...)
	return &cp, nil
}

// CreditWalletIfZero credits only a wallet whose balance is exactly zero
func (s *MemoryStore) CreditWalletIfZero(ctx context.Context, customerID string, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.customer(customerID)
	if c == nil {
		return false, notFound("customer", customerID)
	}
	if !c.WalletBalance.IsZero() {
		return false, nil
	}
	c.WalletBalance = c.WalletBalance.Add(amount)
	return true, nil
}

// GetOrder retrieves an order by ID
func (s *MemoryStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.orders {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, notFound("order", id)
}

// GetCustomerOrders retrieves orders for a customer
func (s *MemoryStore) GetCustomerOrders(ctx context.Context, customerID string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			out = append(out, *o)
		}
	}
	return out, nil
}

// GetCustomerPayments retrieves payments for a customer
func (s *MemoryStore) GetCustomerPayments(ctx context.Context, customerID string) ([]models.Payment, error) {
	return s.filterPayments(customerID, "")
}

// GetFailedPayments retrieves failed payments for a customer
func (s *MemoryStore) GetFailedPayments(ctx context.Context, customerID string) ([]models.Payment, error) {
	return s.filterPayments(customerID, models.PaymentStatusFailed)
}

func (s *MemoryStore) filterPayments(customerID, status string) ([]models.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Payment
	for _, p := range s.payments {
		if p.CustomerID == customerID && (status == "" || p.Status == status) {
			out = append(out, *p)
		}
	}
	return out, nil
}

// MarkFailedPaymentsProcessed flips every failed payment of the customer to processed
func (s *MemoryStore) MarkFailedPaymentsProcessed(ctx context.Context, customerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.payments {
		if p.CustomerID == customerID && p.Status == models.PaymentStatusFailed {
			p.Status = models.PaymentStatusProcessed
			n++
		}
	}
	return n, nil
}

// CreateCase stores a new case; IDs are never reused
func (s *MemoryStore) CreateCase(ctx context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("case %s already exists", c.ID)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}

// GetCase retrieves a case by ID
func (s *MemoryStore) GetCase(ctx context.Context, id string) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[id]
	if !ok {
		return nil, notFound("case", id)
	}
	cp := *c
	return &cp, nil
}

// UpdateCaseStatus sets the status of an existing case
func (s *MemoryStore) UpdateCaseStatus(ctx context.Context, id string, status models.CaseStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[id]
	if !ok {
		return notFound("case", id)
	}
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ApproveCase resolves the case and credits its customer under one lock
func (s *MemoryStore) ApproveCase(ctx context.Context, caseID, customerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.cases[caseID]
	if !ok {
		return decimal.Zero, notFound("case", caseID)
	}
	c := s.customer(customerID)
	if c == nil {
		return decimal.Zero, notFound("customer", customerID)
	}

	c.WalletBalance = c.WalletBalance.Add(amount)
	cs.Status = models.CaseStatusResolved
	cs.UpdatedAt = time.Now().UTC()
	return c.WalletBalance, nil
}

// NextSubscriptionID issues the next identifier from a monotonic counter
func (s *MemoryStore) NextSubscriptionID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subSeq++
	return FormatSubscriptionID(s.subSeq), nil
}

// CreateSubscription stores a new subscription
func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if existing.ID == sub.ID {
			return fmt.Errorf("subscription %s already exists", sub.ID)
		}
	}
	cp := *sub
	cp.Items = append(models.SubscriptionItems(nil), sub.Items...)
	s.subscriptions = append(s.subscriptions, &cp)
	return nil
}

// GetSubscription retrieves a subscription by ID
func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.ID == id {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, notFound("subscription", id)
}

// ListSubscriptionsByCustomer returns the customer's subscriptions in creation order
func (s *MemoryStore) ListSubscriptionsByCustomer(ctx context.Context, customerID string) ([]models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Subscription{}
	for _, sub := range s.subscriptions {
		if sub.CustomerID == customerID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

// ListActiveSubscriptions returns every active subscription in creation order
func (s *MemoryStore) ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status == models.SubscriptionStatusActive {
			out = append(out, *sub)
		}
	}
	return out, nil
}

// CancelSubscription soft-cancels a subscription. It reports whether the
// subscription exists; cancelling twice is a no-op.
func (s *MemoryStore) CancelSubscription(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.ID == id {
			sub.Status = models.SubscriptionStatusCancelled
			return true, nil
		}
	}
	return false, nil
}
