package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"support-service/internal/models"
	"support-service/internal/nlu"
	"support-service/internal/store"
	"support-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SupportService handles chat messages end to end: classify, resolve, reply
type SupportService struct {
	repo              store.Repository
	classifier        *nlu.Classifier
	generator         *nlu.Generator
	engine            *ResolutionEngine
	defaultCustomerID string
	now               func() time.Time
	logger            *zap.Logger
}

// NewSupportService creates a new support service
func NewSupportService(
	repo store.Repository,
	classifier *nlu.Classifier,
	generator *nlu.Generator,
	engine *ResolutionEngine,
	defaultCustomerID string,
) *SupportService {
	return &SupportService{
		repo:              repo,
		classifier:        classifier,
		generator:         generator,
		engine:            engine,
		defaultCustomerID: defaultCustomerID,
		now:               time.Now,
		logger:            util.GetLogger(),
	}
}

// ChatRequest represents an incoming support message
type ChatRequest struct {
	Message    string `json:"message" binding:"required"`
	CustomerID string `json:"customer_id"`
}

// ChatResponse is the reply to a support message
type ChatResponse struct {
	Response   string        `json:"response"`
	Intent     models.Intent `json:"intent"`
	CustomerID string        `json:"customer_id"`
	CaseID     string        `json:"case_id,omitempty"`
	Timestamp  string        `json:"timestamp"`
}

// HandleMessage classifies the message, applies any automatic resolution for
// a known customer, and generates the reply
func (s *SupportService) HandleMessage(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	ctx, span := util.StartSpan(ctx, "SupportService.HandleMessage")
	defer span.End()

	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, invalidf("message is required")
	}
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		customerID = s.defaultCustomerID
	}

	intent := s.classifier.Classify(ctx, message)

	var caseID string
	_, err := s.repo.GetCustomer(ctx, customerID)
	switch {
	case err == nil:
		caseID, err = s.engine.ProcessIntent(ctx, intent, message, customerID)
		if err != nil {
			return nil, fmt.Errorf("failed to process intent: %w", err)
		}
	case errors.Is(err, store.ErrNotFound):
		s.logger.Info("Message from unknown customer", zap.String("customer_id", customerID))
	default:
		return nil, fmt.Errorf("failed to load customer: %w", err)
	}

	reply := s.generator.Generate(ctx, intent, message, customerID)

	s.logger.Info("Message handled",
		zap.String("customer_id", customerID),
		zap.String("intent", string(intent)),
		zap.String("case_id", caseID))

	return &ChatResponse{
		Response:   reply,
		Intent:     intent,
		CustomerID: customerID,
		CaseID:     caseID,
		Timestamp:  s.now().UTC().Format(time.RFC3339),
	}, nil
}

// ListCustomers returns the short form of every customer
func (s *SupportService) ListCustomers(ctx context.Context) ([]models.CustomerSummary, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	return customers, nil
}

// CustomerOverview is a customer with orders, payments and a summary
type CustomerOverview struct {
	Customer *models.Customer  `json:"customer"`
	Orders   []models.Order    `json:"orders"`
	Payments []models.Payment  `json:"payments"`
	Summary  CustomerSummaries `json:"summary"`
}

// CustomerSummaries aggregates a customer's records
type CustomerSummaries struct {
	TotalOrders    int             `json:"total_orders"`
	TotalPayments  int             `json:"total_payments"`
	FailedPayments int             `json:"failed_payments"`
	WalletBalance  decimal.Decimal `json:"wallet_balance"`
	Membership     string          `json:"membership"`
}

// GetCustomerOverview returns the customer's full record set
func (s *SupportService) GetCustomerOverview(ctx context.Context, customerID string) (*CustomerOverview, error) {
	ctx, span := util.StartSpan(ctx, "SupportService.GetCustomerOverview")
	defer span.End()

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load customer")
	}
	orders, err := s.repo.GetCustomerOrders(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	payments, err := s.repo.GetCustomerPayments(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}

	failed := 0
	for _, p := range payments {
		if p.Status == models.PaymentStatusFailed {
			failed++
		}
	}
	if orders == nil {
		orders = []models.Order{}
	}
	if payments == nil {
		payments = []models.Payment{}
	}

	return &CustomerOverview{
		Customer: customer,
		Orders:   orders,
		Payments: payments,
		Summary: CustomerSummaries{
			TotalOrders:    len(orders),
			TotalPayments:  len(payments),
			FailedPayments: failed,
			WalletBalance:  customer.WalletBalance,
			Membership:     customer.Membership,
		},
	}, nil
}
