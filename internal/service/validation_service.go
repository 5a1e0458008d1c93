package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	// decoders for evidence images
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"support-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Validation outcomes
const (
	ValidationApproved  = "approved"
	ValidationRejected  = "rejected"
	ValidationEscalated = "escalated"
)

const (
	verdictValid   = "valid"
	verdictInvalid = "invalid"
	verdictError   = "error"
)

const (
	priorityStandard = "Standard"
	priorityHigh     = "High"

	categoryRefund      = "Refund Request"
	categoryReplacement = "Replacement Request"
)

const (
	msgApproved  = "No significant damage detected. Refund or replacement processed autonomously."
	msgRejected  = "No valid damage detected. Request denied."
	msgEscalated = "Significant damage or unclear evidence detected. Case escalated for human review."
	msgError     = "Error processing request. Escalated for review."
)

const evidencePrompt = `Analyze this image for damage related to a refund or replacement request. The message is: %s.
Look for significant damage such as large tears, dents, or structural collapse.
- Return 'valid' only if there is NO significant damage (e.g., minor scratches or intact packaging).
- Return 'invalid' if the image shows no damage at all.
- Return 'uncertain' if there is significant damage (e.g., tears, dents) or if the damage is unclear.
Provide a concise response: 'valid', 'invalid', or 'uncertain'.`

// VisionClassifier is the external image classification service
type VisionClassifier interface {
	ClassifyImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
	Model() string
}

// Escalator persists escalated cases
type Escalator interface {
	EscalateCase(ctx context.Context, req EscalationRequest) (*EscalationResult, error)
}

// Decision is the tri-state outcome of evidence validation
type Decision struct {
	Status  string
	CaseID  string
	Message string
	Verdict string

	// CasePersisted is set for escalations whose case was stored
	CasePersisted bool
}

// ValidationDetails describes how a decision was reached
type ValidationDetails struct {
	Verdict    string    `json:"verdict"`
	Model      string    `json:"model"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	CaseID     string    `json:"case_id,omitempty"`

	// present on escalations only
	CasePersisted *bool `json:"case_persisted,omitempty"`
}

// EvidenceResponse is the outward result of an evidence submission
type EvidenceResponse struct {
	Status            string            `json:"status"`
	Message           string            `json:"message"`
	Category          string            `json:"category"`
	Priority          string            `json:"priority"`
	ReferenceID       string            `json:"reference_id"`
	ValidationDetails ValidationDetails `json:"validation_details"`
}

// ValidationService checks photo evidence for refund and replacement requests
type ValidationService struct {
	vision    VisionClassifier
	escalator Escalator
	now       func() time.Time
	logger    *zap.Logger
}

// NewValidationService creates a new validation service
func NewValidationService(vision VisionClassifier, escalator Escalator) *ValidationService {
	return &ValidationService{
		vision:    vision,
		escalator: escalator,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Validate maps the vision verdict to a decision: "valid" approves,
// "invalid" rejects, anything else escalates under a new case id. A
// processing failure escalates too. It never returns an error.
func (s *ValidationService) Validate(ctx context.Context, img []byte, message, customerID string) Decision {
	ctx, span := util.StartSpan(ctx, "ValidationService.Validate")
	defer span.End()

	verdict, err := s.classify(ctx, img, message)
	if err != nil {
		s.logger.Warn("Evidence processing failed, escalating",
			zap.String("customer_id", customerID),
			zap.Error(err))
		util.FallbacksTotal.WithLabelValues("validation_service").Inc()
		return s.escalate(ctx, verdictError, msgError, message, customerID)
	}

	var d Decision
	switch verdict {
	case verdictValid:
		d = Decision{Status: ValidationApproved, Message: msgApproved, Verdict: verdict}
	case verdictInvalid:
		d = Decision{Status: ValidationRejected, Message: msgRejected, Verdict: verdict}
	default:
		return s.escalate(ctx, verdict, msgEscalated, message, customerID)
	}

	util.ValidationDecisionsTotal.WithLabelValues(d.Status).Inc()
	return d
}

func (s *ValidationService) classify(ctx context.Context, img []byte, message string) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}
	if s.vision == nil {
		return "", fmt.Errorf("vision classifier not configured")
	}

	answer, err := s.vision.ClassifyImage(ctx, fmt.Sprintf(evidencePrompt, message), img, "image/"+format)
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(answer)), nil
}

func (s *ValidationService) escalate(ctx context.Context, verdict, text, message, customerID string) Decision {
	d := Decision{
		Status:  ValidationEscalated,
		CaseID:  uuid.New().String(),
		Message: text,
		Verdict: verdict,
	}
	util.ValidationDecisionsTotal.WithLabelValues(d.Status).Inc()

	details := message
	if strings.TrimSpace(details) == "" {
		details = "Evidence submitted for review"
	}
	if s.escalator != nil {
		if _, err := s.escalator.EscalateCase(ctx, EscalationRequest{
			CaseID:       d.CaseID,
			CustomerID:   customerID,
			IssueDetails: details,
		}); err != nil {
			s.logger.Warn("Failed to persist escalated evidence case",
				zap.String("case_id", d.CaseID),
				zap.String("customer_id", customerID),
				zap.Error(err))
		} else {
			d.CasePersisted = true
		}
	}
	return d
}

// ValidateEvidence runs Validate and shapes the outward response
func (s *ValidationService) ValidateEvidence(ctx context.Context, img []byte, message, customerID string) *EvidenceResponse {
	d := s.Validate(ctx, img, message, customerID)
	now := s.now()

	priority := priorityStandard
	if d.Status == ValidationEscalated {
		priority = priorityHigh
	}

	model := ""
	if s.vision != nil {
		model = s.vision.Model()
	}

	var persisted *bool
	if d.Status == ValidationEscalated {
		persisted = &d.CasePersisted
	}

	return &EvidenceResponse{
		Status:      d.Status,
		Message:     d.Message,
		Category:    evidenceCategory(message),
		Priority:    priority,
		ReferenceID: referenceID(now),
		ValidationDetails: ValidationDetails{
			Verdict:       d.Verdict,
			Model:         model,
			AnalyzedAt:    now.UTC(),
			CaseID:        d.CaseID,
			CasePersisted: persisted,
		},
	}
}

func evidenceCategory(message string) string {
	if strings.Contains(strings.ToLower(message), "replace") {
		return categoryReplacement
	}
	return categoryRefund
}

// referenceID is REF followed by a second-resolution timestamp and milliseconds
func referenceID(t time.Time) string {
	return fmt.Sprintf("REF%s%03d", t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond))
}
