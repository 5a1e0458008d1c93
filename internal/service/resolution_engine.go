package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"support-service/internal/models"
	"support-service/internal/store"
	"support-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DecisionApprove is the admin decision that resolves a case with a refund credit
const DecisionApprove = "approve"

const (
	creditReasonZeroBalance   = "zero_balance"
	creditReasonRefundApprove = "refund_approved"
)

// EngineConfig holds the business constants of the resolution engine
type EngineConfig struct {
	WalletCreditAmount decimal.Decimal
	RefundCreditAmount decimal.Decimal
	// PersistAutoResolvedCases records payment and wallet auto-resolutions
	// as resolved cases under the returned id
	PersistAutoResolvedCases bool
	LockTTL                  time.Duration
}

// ResolutionEngine applies automatic resolutions and owns the case state machine
type ResolutionEngine struct {
	repo      store.Repository
	locker    Locker
	publisher EventPublisher
	cfg       EngineConfig
	logger    *zap.Logger
}

// NewResolutionEngine creates a new resolution engine
func NewResolutionEngine(
	repo store.Repository,
	locker Locker,
	publisher EventPublisher,
	cfg EngineConfig,
) *ResolutionEngine {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &ResolutionEngine{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// EscalationRequest creates a case directly in escalated status.
// CaseID is minted when empty.
type EscalationRequest struct {
	CaseID       string `json:"case_id,omitempty"`
	CustomerID   string `json:"customer_id" binding:"required"`
	IssueDetails string `json:"issue_details" binding:"required"`
}

// EscalationResult is returned by EscalateCase
type EscalationResult struct {
	Status models.CaseStatus `json:"status"`
	CaseID string            `json:"case_id"`
}

// ResolutionResult is returned by ResolveEscalated
type ResolutionResult struct {
	Status models.CaseStatus `json:"status"`
	CaseID string            `json:"case_id"`
}

// ProcessIntent applies the automatic resolution for intent and returns a
// case id. Only REFUND_REQUEST always persists a case; the other ids are
// correlation tokens unless PersistAutoResolvedCases is set.
func (e *ResolutionEngine) ProcessIntent(ctx context.Context, intent models.Intent, message, customerID string) (string, error) {
	ctx, span := util.StartSpan(ctx, "ResolutionEngine.ProcessIntent",
		attribute.String("intent", string(intent)),
		attribute.String("customer_id", customerID))
	defer span.End()

	caseID := uuid.New().String()

	switch intent {
	case models.IntentPaymentProblem:
		count, err := e.repo.MarkFailedPaymentsProcessed(ctx, customerID)
		if err != nil {
			return "", mapStoreErr(err, "failed to reprocess payments")
		}
		if count == 0 {
			return caseID, nil
		}

		util.PaymentsReprocessedTotal.Add(float64(count))
		e.logger.Info("Failed payments marked processed",
			zap.String("customer_id", customerID),
			zap.Int("count", count),
			zap.String("case_id", caseID))

		e.publish(ctx, models.EventTypePaymentsReprocessed, func() error {
			return e.publisher.PublishPaymentsReprocessed(ctx, &models.PaymentsReprocessedEvent{
				BaseEvent:  newBaseEvent(models.EventTypePaymentsReprocessed),
				CustomerID: customerID,
				CaseID:     caseID,
				Count:      count,
			})
		})
		if err := e.recordAutoResolved(ctx, caseID, customerID, message); err != nil {
			return "", err
		}

	case models.IntentWalletIssue:
		credited, err := e.repo.CreditWalletIfZero(ctx, customerID, e.cfg.WalletCreditAmount)
		if err != nil {
			return "", mapStoreErr(err, "failed to credit wallet")
		}
		if !credited {
			return caseID, nil
		}

		e.walletCredited(ctx, customerID, caseID, e.cfg.WalletCreditAmount, creditReasonZeroBalance)
		if err := e.recordAutoResolved(ctx, caseID, customerID, message); err != nil {
			return "", err
		}

	case models.IntentRefundRequest:
		c := &models.Case{
			ID:           caseID,
			CustomerID:   customerID,
			IssueDetails: message,
			Status:       models.CaseStatusPending,
		}
		if err := e.repo.CreateCase(ctx, c); err != nil {
			return "", fmt.Errorf("failed to create refund case: %w", err)
		}

		util.CasesCreatedTotal.WithLabelValues(string(c.Status)).Inc()
		e.logger.Info("Refund case created",
			zap.String("case_id", caseID),
			zap.String("customer_id", customerID))
		e.publish(ctx, models.EventTypeCaseCreated, func() error {
			return e.publisher.PublishCaseEvent(ctx, caseEvent(models.EventTypeCaseCreated, c))
		})
	}

	return caseID, nil
}

func (e *ResolutionEngine) recordAutoResolved(ctx context.Context, caseID, customerID, message string) error {
	if !e.cfg.PersistAutoResolvedCases {
		return nil
	}

	c := &models.Case{
		ID:           caseID,
		CustomerID:   customerID,
		IssueDetails: message,
		Status:       models.CaseStatusResolved,
	}
	if err := e.repo.CreateCase(ctx, c); err != nil {
		return fmt.Errorf("failed to record auto-resolved case: %w", err)
	}

	util.CasesCreatedTotal.WithLabelValues(string(c.Status)).Inc()
	e.publish(ctx, models.EventTypeCaseResolved, func() error {
		return e.publisher.PublishCaseEvent(ctx, caseEvent(models.EventTypeCaseResolved, c))
	})
	return nil
}

func (e *ResolutionEngine) walletCredited(ctx context.Context, customerID, caseID string, amount decimal.Decimal, reason string) {
	util.WalletCreditsTotal.WithLabelValues(reason).Inc()
	e.logger.Info("Wallet credited",
		zap.String("customer_id", customerID),
		zap.String("amount", amount.String()),
		zap.String("reason", reason))

	e.publish(ctx, models.EventTypeWalletCredited, func() error {
		return e.publisher.PublishWalletCredited(ctx, &models.WalletCreditedEvent{
			BaseEvent:  newBaseEvent(models.EventTypeWalletCredited),
			CustomerID: customerID,
			CaseID:     caseID,
			Amount:     amount,
			Reason:     reason,
		})
	})
}

// EscalateCase creates a case in escalated status for human review
func (e *ResolutionEngine) EscalateCase(ctx context.Context, req EscalationRequest) (*EscalationResult, error) {
	ctx, span := util.StartSpan(ctx, "ResolutionEngine.EscalateCase")
	defer span.End()

	if strings.TrimSpace(req.CustomerID) == "" {
		return nil, invalidf("customer_id is required")
	}
	if strings.TrimSpace(req.IssueDetails) == "" {
		return nil, invalidf("issue_details is required")
	}
	if _, err := e.repo.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, mapStoreErr(err, "failed to load customer")
	}

	c := &models.Case{
		ID:           req.CaseID,
		CustomerID:   req.CustomerID,
		IssueDetails: req.IssueDetails,
		Status:       models.CaseStatusEscalated,
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if err := e.repo.CreateCase(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create escalated case: %w", err)
	}

	util.CasesCreatedTotal.WithLabelValues(string(c.Status)).Inc()
	e.logger.Info("Case escalated",
		zap.String("case_id", c.ID),
		zap.String("customer_id", c.CustomerID))
	e.publish(ctx, models.EventTypeCaseEscalated, func() error {
		return e.publisher.PublishCaseEvent(ctx, caseEvent(models.EventTypeCaseEscalated, c))
	})

	return &EscalationResult{Status: c.Status, CaseID: c.ID}, nil
}

// GetCase returns a case by id
func (e *ResolutionEngine) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	c, err := e.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load case")
	}
	return c, nil
}

// ResolveEscalated records a human decision on a case. "approve" credits the
// refund amount and resolves; any other decision rejects. Both are terminal.
func (e *ResolutionEngine) ResolveEscalated(ctx context.Context, caseID, decision string) (*ResolutionResult, error) {
	ctx, span := util.StartSpan(ctx, "ResolutionEngine.ResolveEscalated",
		attribute.String("case_id", caseID))
	defer span.End()

	release, err := e.locker.Acquire(ctx, "case-lock:"+caseID, e.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := e.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, mapStoreErr(err, "failed to load case")
	}

	approve := strings.EqualFold(strings.TrimSpace(decision), DecisionApprove)
	target := models.CaseStatusRejected
	if approve {
		target = models.CaseStatusResolved
	}
	if !c.Status.CanTransition(target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, target)
	}

	if approve {
		// the refund credit and the status change commit together
		if _, err := e.repo.ApproveCase(ctx, c.ID, c.CustomerID, e.cfg.RefundCreditAmount); err != nil {
			return nil, mapStoreErr(err, "failed to approve case")
		}
		e.walletCredited(ctx, c.CustomerID, c.ID, e.cfg.RefundCreditAmount, creditReasonRefundApprove)
	} else if err := e.repo.UpdateCaseStatus(ctx, c.ID, target); err != nil {
		return nil, mapStoreErr(err, "failed to update case status")
	}
	c.Status = target

	util.CasesDecidedTotal.WithLabelValues(string(target)).Inc()
	e.logger.Info("Case decided",
		zap.String("case_id", c.ID),
		zap.String("status", string(target)))

	eventType := models.EventTypeCaseRejected
	if approve {
		eventType = models.EventTypeCaseResolved
	}
	e.publish(ctx, eventType, func() error {
		return e.publisher.PublishCaseEvent(ctx, caseEvent(eventType, c))
	})

	return &ResolutionResult{Status: target, CaseID: c.ID}, nil
}

func (e *ResolutionEngine) publish(ctx context.Context, eventType string, fn func() error) {
	if e.publisher == nil {
		return
	}
	if err := fn(); err != nil {
		e.logger.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
