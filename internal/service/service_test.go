package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"support-service/internal/models"
	"support-service/internal/nlu"
	"support-service/internal/store"
	"support-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var july2025 = time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) PublishCaseEvent(ctx context.Context, e *models.CaseEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishWalletCredited(ctx context.Context, e *models.WalletCreditedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishPaymentsReprocessed(ctx context.Context, e *models.PaymentsReprocessedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishSubscriptionEvent(ctx context.Context, e *models.SubscriptionEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type failingText struct{}

func (failingText) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return "", errors.New("upstream unreachable")
}

type stubVision struct {
	answer string
	err    error
}

func (v stubVision) ClassifyImage(ctx context.Context, prompt string, img []byte, mimeType string) (string, error) {
	return v.answer, v.err
}

func (v stubVision) Model() string { return "test-vision" }

type memoryIdempotency struct {
	values map[string]string
}

func (m *memoryIdempotency) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryIdempotency) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.values[key] = value.(string)
	return nil
}

type fixture struct {
	repo      *store.MemoryStore
	publisher *recordingPublisher
	engine    *ResolutionEngine
	support   *SupportService
	scheduler *SubscriptionScheduler
}

func newFixture(t *testing.T, persistAuto bool) *fixture {
	t.Helper()

	repo, err := store.LoadMemoryStore("../store/testdata", july2025)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	engine := NewResolutionEngine(repo, NewLocalLocker(), pub, EngineConfig{
		WalletCreditAmount:       decimal.NewFromInt(100),
		RefundCreditAmount:       decimal.NewFromInt(50),
		PersistAutoResolvedCases: persistAuto,
	})
	support := NewSupportService(repo,
		nlu.NewClassifier(failingText{}),
		nlu.NewGenerator(repo, failingText{}, 150),
		engine, "WM001")
	scheduler := NewSubscriptionScheduler(repo, pub, &memoryIdempotency{values: map[string]string{}},
		SchedulerConfig{ReferenceMonth: july2025})

	return &fixture{repo: repo, publisher: pub, engine: engine, support: support, scheduler: scheduler}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))))
	return buf.Bytes()
}

func TestScenarioWalletCredit(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	resp, err := f.support.HandleMessage(ctx, &ChatRequest{Message: "My wallet balance shows ₹0", CustomerID: "WM001"})
	require.NoError(t, err)
	assert.Equal(t, models.IntentWalletIssue, resp.Intent)
	assert.NotEmpty(t, resp.CaseID)
	assert.Contains(t, resp.Response, "Priya Sharma")

	customer, err := f.repo.GetCustomer(ctx, "WM001")
	require.NoError(t, err)
	assert.True(t, customer.WalletBalance.Equal(decimal.NewFromInt(100)))
	assert.Contains(t, f.publisher.Events(), models.EventTypeWalletCredited)

	// balance is no longer zero
	_, err = f.support.HandleMessage(ctx, &ChatRequest{Message: "My wallet balance shows ₹0", CustomerID: "WM001"})
	require.NoError(t, err)
	customer, _ = f.repo.GetCustomer(ctx, "WM001")
	assert.True(t, customer.WalletBalance.Equal(decimal.NewFromInt(100)))

	_, err = f.repo.GetCase(ctx, resp.CaseID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestScenarioPaymentReprocessed(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	resp, err := f.support.HandleMessage(ctx, &ChatRequest{Message: "My payment for ORD002 failed", CustomerID: "WM001"})
	require.NoError(t, err)
	assert.Equal(t, models.IntentPaymentProblem, resp.Intent)

	failed, err := f.repo.GetFailedPayments(ctx, "WM001")
	require.NoError(t, err)
	assert.Empty(t, failed)

	payments, _ := f.repo.GetCustomerPayments(ctx, "WM001")
	statuses := map[string]string{}
	for _, p := range payments {
		statuses[p.ID] = p.Status
	}
	assert.Equal(t, models.PaymentStatusProcessed, statuses["PAY002"])
	assert.Equal(t, models.PaymentStatusSuccess, statuses["PAY001"])
}

func TestScenarioRefundCreatesPendingCase(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	resp, err := f.support.HandleMessage(ctx, &ChatRequest{Message: "I want a refund for ORD001", CustomerID: "WM001"})
	require.NoError(t, err)
	assert.Equal(t, models.IntentRefundRequest, resp.Intent)

	c, err := f.repo.GetCase(ctx, resp.CaseID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusPending, c.Status)
	assert.Equal(t, "WM001", c.CustomerID)
	assert.Equal(t, []string{models.EventTypeCaseCreated}, f.publisher.Events())
}

func TestPersistAutoResolvedCases(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	caseID, err := f.engine.ProcessIntent(ctx, models.IntentWalletIssue, "wallet empty", "WM001")
	require.NoError(t, err)

	c, err := f.repo.GetCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusResolved, c.Status)
}

func TestProcessIntentOtherIntentsMintTokens(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	a, err := f.engine.ProcessIntent(ctx, models.IntentOrderStatus, "status?", "WM001")
	require.NoError(t, err)
	b, err := f.engine.ProcessIntent(ctx, models.IntentOrderStatus, "status?", "WM001")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Empty(t, f.publisher.Events())
}

func TestHandleMessageValidation(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.support.HandleMessage(context.Background(), &ChatRequest{Message: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	resp, err := f.support.HandleMessage(context.Background(), &ChatRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "WM001", resp.CustomerID)
	assert.Equal(t, models.IntentGeneralInquiry, resp.Intent)

	resp, err = f.support.HandleMessage(context.Background(), &ChatRequest{Message: "refund please", CustomerID: "WM404"})
	require.NoError(t, err)
	assert.Equal(t, nlu.CustomerNotFoundReply, resp.Response)
	assert.Empty(t, resp.CaseID)
}

func TestResolveEscalated(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	esc, err := f.engine.EscalateCase(ctx, EscalationRequest{CustomerID: "WM002", IssueDetails: "damaged eggs"})
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusEscalated, esc.Status)

	res, err := f.engine.ResolveEscalated(ctx, esc.CaseID, "approve")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusResolved, res.Status)

	customer, _ := f.repo.GetCustomer(ctx, "WM002")
	assert.True(t, customer.WalletBalance.Equal(decimal.RequireFromString("300.75")))

	_, err = f.engine.ResolveEscalated(ctx, esc.CaseID, "approve")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	other, err := f.engine.EscalateCase(ctx, EscalationRequest{CustomerID: "WM002", IssueDetails: "late"})
	require.NoError(t, err)
	res, err = f.engine.ResolveEscalated(ctx, other.CaseID, "deny")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusRejected, res.Status)

	customer, _ = f.repo.GetCustomer(ctx, "WM002")
	assert.True(t, customer.WalletBalance.Equal(decimal.RequireFromString("300.75")))

	_, err = f.engine.ResolveEscalated(ctx, "missing", "approve")
	assert.ErrorIs(t, err, ErrNotFound)
}

type failingApproval struct {
	*store.MemoryStore
	err error
}

func (r *failingApproval) ApproveCase(ctx context.Context, caseID, customerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if r.err != nil {
		return decimal.Zero, r.err
	}
	return r.MemoryStore.ApproveCase(ctx, caseID, customerID, amount)
}

func TestResolveEscalatedFailedApprovalCreditsOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	repo := &failingApproval{MemoryStore: f.repo, err: errors.New("connection reset")}
	engine := NewResolutionEngine(repo, NewLocalLocker(), f.publisher, EngineConfig{
		RefundCreditAmount: decimal.NewFromInt(50),
	})

	esc, err := engine.EscalateCase(ctx, EscalationRequest{CustomerID: "WM002", IssueDetails: "damaged eggs"})
	require.NoError(t, err)

	_, err = engine.ResolveEscalated(ctx, esc.CaseID, "approve")
	require.Error(t, err)

	customer, _ := f.repo.GetCustomer(ctx, "WM002")
	assert.True(t, customer.WalletBalance.Equal(decimal.RequireFromString("250.75")))
	c, err := f.repo.GetCase(ctx, esc.CaseID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusEscalated, c.Status)
	assert.NotContains(t, f.publisher.Events(), models.EventTypeWalletCredited)

	repo.err = nil
	res, err := engine.ResolveEscalated(ctx, esc.CaseID, "approve")
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusResolved, res.Status)

	customer, _ = f.repo.GetCustomer(ctx, "WM002")
	assert.True(t, customer.WalletBalance.Equal(decimal.RequireFromString("300.75")))
}

func TestEscalateCaseRequiresKnownCustomer(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.engine.EscalateCase(context.Background(), EscalationRequest{CustomerID: "WM404", IssueDetails: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.engine.EscalateCase(context.Background(), EscalationRequest{CustomerID: "WM001"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestResolveEscalatedLockBusy(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	esc, err := f.engine.EscalateCase(ctx, EscalationRequest{CustomerID: "WM001", IssueDetails: "x"})
	require.NoError(t, err)

	release, err := f.engine.locker.Acquire(ctx, "case-lock:"+esc.CaseID, time.Second)
	require.NoError(t, err)

	_, err = f.engine.ResolveEscalated(ctx, esc.CaseID, "approve")
	assert.ErrorIs(t, err, ErrLockBusy)

	release()
	_, err = f.engine.ResolveEscalated(ctx, esc.CaseID, "approve")
	assert.NoError(t, err)
}

func TestValidationMapping(t *testing.T) {
	f := newFixture(t, false)
	img := pngBytes(t)

	tests := []struct {
		name   string
		vision stubVision
		want   string
	}{
		{"valid approves", stubVision{answer: "Valid\n"}, ValidationApproved},
		{"invalid rejects", stubVision{answer: "invalid"}, ValidationRejected},
		{"uncertain escalates", stubVision{answer: "uncertain"}, ValidationEscalated},
		{"other text escalates", stubVision{answer: "looks fine to me"}, ValidationEscalated},
		{"upstream error escalates", stubVision{err: errors.New("deadline exceeded")}, ValidationEscalated},
	}

	for _, tt := range tests {
		svc := NewValidationService(tt.vision, f.engine)
		d := svc.Validate(context.Background(), img, "box crushed", "WM001")
		assert.Equal(t, tt.want, d.Status, tt.name)
		if tt.want == ValidationEscalated {
			assert.NotEmpty(t, d.CaseID, tt.name)
		} else {
			assert.Empty(t, d.CaseID, tt.name)
		}
	}
}

func TestValidationEscalationMintsFreshCase(t *testing.T) {
	f := newFixture(t, false)
	svc := NewValidationService(stubVision{answer: "uncertain"}, f.engine)
	img := pngBytes(t)

	first := svc.Validate(context.Background(), img, "torn bag", "WM001")
	second := svc.Validate(context.Background(), img, "torn bag", "WM001")
	assert.NotEqual(t, first.CaseID, second.CaseID)

	c, err := f.repo.GetCase(context.Background(), first.CaseID)
	require.NoError(t, err)
	assert.Equal(t, models.CaseStatusEscalated, c.Status)
	assert.Equal(t, "torn bag", c.IssueDetails)
}

func TestValidationEscalationReportsPersistence(t *testing.T) {
	f := newFixture(t, false)
	svc := NewValidationService(stubVision{answer: "uncertain"}, f.engine)
	img := pngBytes(t)

	resp := svc.ValidateEvidence(context.Background(), img, "torn bag", "WM404")
	assert.Equal(t, ValidationEscalated, resp.Status)
	require.NotNil(t, resp.ValidationDetails.CasePersisted)
	assert.False(t, *resp.ValidationDetails.CasePersisted)
	_, err := f.engine.GetCase(context.Background(), resp.ValidationDetails.CaseID)
	assert.ErrorIs(t, err, ErrNotFound)

	resp = svc.ValidateEvidence(context.Background(), img, "torn bag", "WM001")
	require.NotNil(t, resp.ValidationDetails.CasePersisted)
	assert.True(t, *resp.ValidationDetails.CasePersisted)

	approved := NewValidationService(stubVision{answer: "valid"}, f.engine).
		ValidateEvidence(context.Background(), img, "torn bag", "WM001")
	assert.Nil(t, approved.ValidationDetails.CasePersisted)
}

func TestValidationUndecodableImage(t *testing.T) {
	f := newFixture(t, false)
	svc := NewValidationService(stubVision{answer: "valid"}, f.engine)

	resp := svc.ValidateEvidence(context.Background(), []byte("not an image"), "please replace", "WM001")
	assert.Equal(t, ValidationEscalated, resp.Status)
	assert.Equal(t, msgError, resp.Message)
	assert.Equal(t, priorityHigh, resp.Priority)
	assert.Equal(t, categoryReplacement, resp.Category)
	assert.Equal(t, verdictError, resp.ValidationDetails.Verdict)
	assert.NotEmpty(t, resp.ValidationDetails.CaseID)
}

func TestScenarioEvidenceUncertain(t *testing.T) {
	f := newFixture(t, false)
	svc := NewValidationService(stubVision{answer: "uncertain"}, f.engine)
	svc.now = func() time.Time { return time.Date(2025, 7, 8, 10, 11, 12, 345000000, time.UTC) }

	resp := svc.ValidateEvidence(context.Background(), pngBytes(t), "refund for broken jar", "WM001")
	assert.Equal(t, ValidationEscalated, resp.Status)
	assert.Equal(t, categoryRefund, resp.Category)
	assert.Equal(t, "REF20250708101112345", resp.ReferenceID)
	assert.Equal(t, "test-vision", resp.ValidationDetails.Model)
	assert.NotEmpty(t, resp.ValidationDetails.CaseID)
}

func TestSubscriptionIDsIncrease(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	req := func() *CreateSubscriptionRequest {
		return &CreateSubscriptionRequest{
			CustomerID:       "WM001",
			Items:            []models.SubscriptionItem{{Name: "Milk", Price: decimal.NewFromInt(60), Quantity: 2}},
			DeliveryDate:     "2025-07-10",
			SubscriptionType: models.RecurrenceWeekly,
		}
	}

	a, err := f.scheduler.Create(ctx, req())
	require.NoError(t, err)
	b, err := f.scheduler.Create(ctx, req())
	require.NoError(t, err)

	assert.Equal(t, "SUB003", a.ID)
	assert.Equal(t, "SUB004", b.ID)
	assert.Equal(t, models.SubscriptionStatusActive, a.Status)

	subs, err := f.scheduler.List(ctx, "WM001")
	require.NoError(t, err)
	ids := []string{}
	for _, s := range subs {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"SUB001", "SUB003", "SUB004"}, ids)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	item := []models.SubscriptionItem{{Name: "Milk", Price: decimal.NewFromInt(60), Quantity: 1}}

	tests := []struct {
		name string
		req  CreateSubscriptionRequest
		err  error
	}{
		{"no items", CreateSubscriptionRequest{CustomerID: "WM001", DeliveryDate: "2025-07-10", SubscriptionType: "weekly"}, ErrInvalidInput},
		{"bad recurrence", CreateSubscriptionRequest{CustomerID: "WM001", Items: item, DeliveryDate: "2025-07-10", SubscriptionType: "yearly"}, ErrInvalidInput},
		{"bad date", CreateSubscriptionRequest{CustomerID: "WM001", Items: item, DeliveryDate: "10/07/2025", SubscriptionType: "weekly"}, ErrInvalidInput},
		{"zero quantity", CreateSubscriptionRequest{CustomerID: "WM001", Items: []models.SubscriptionItem{{Name: "Milk"}}, DeliveryDate: "2025-07-10", SubscriptionType: "weekly"}, ErrInvalidInput},
		{"unknown customer", CreateSubscriptionRequest{CustomerID: "WM404", Items: item, DeliveryDate: "2025-07-10", SubscriptionType: "weekly"}, ErrNotFound},
	}

	for _, tt := range tests {
		req := tt.req
		_, err := f.scheduler.Create(ctx, &req)
		assert.ErrorIs(t, err, tt.err, tt.name)
	}
}

func TestCreateSubscriptionWeekdayAndReplay(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	req := &CreateSubscriptionRequest{
		CustomerID:       "WM002",
		Items:            []models.SubscriptionItem{{Name: "Eggs", Price: decimal.NewFromInt(90), Quantity: 1}},
		DeliveryDate:     "Sunday",
		SubscriptionType: models.RecurrenceWeekly,
		IdempotencyKey:   "abc",
	}
	first, err := f.scheduler.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "2025-07-06", first.DeliveryDate)

	second, err := f.scheduler.Create(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	subs, _ := f.scheduler.List(ctx, "WM002")
	assert.Len(t, subs, 2)
}

func TestCancelSubscriptionIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	ok, err := f.scheduler.Cancel(ctx, "SUB001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.scheduler.Cancel(ctx, "SUB001")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.scheduler.Cancel(ctx, "SUB999")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []string{models.EventTypeSubscriptionCancel}, f.publisher.Events())
}

func TestNotificationFor(t *testing.T) {
	now := time.Date(2025, 7, 7, 21, 30, 0, 0, time.UTC)
	sub := models.Subscription{
		ID:               "SUB001",
		CustomerID:       "WM001",
		Items:            models.SubscriptionItems{{Name: "Milk"}, {Name: "Bread"}},
		SubscriptionType: models.RecurrenceWeekly,
		Status:           models.SubscriptionStatusActive,
	}

	tests := []struct {
		date string
		want int
	}{
		{"2025-07-06", 0},
		{"2025-07-07", 0},
		{"2025-07-08", 1},
		{"2025-07-09", 2},
		{"2025-07-10", 3},
		{"2025-07-11", 0},
		{"2025-07-17", 0},
		{"someday", 0},
	}

	for _, tt := range tests {
		sub.DeliveryDate = tt.date
		r := NotificationFor(sub, now)
		if tt.want == 0 {
			assert.Nil(t, r, tt.date)
			continue
		}
		require.NotNil(t, r, tt.date)
		assert.Equal(t, tt.want, r.DaysUntil, tt.date)
	}

	sub.DeliveryDate = "2025-07-08"
	assert.Equal(t,
		"Reminder: Your planned order SUB001 will restock Milk, Bread tomorrow (2025-07-08). Recurrence: weekly.",
		NotificationFor(sub, now).Message)

	sub.DeliveryDate = "2025-07-10"
	assert.Contains(t, NotificationFor(sub, now).Message, "on 2025-07-10")

	sub.Status = models.SubscriptionStatusCancelled
	assert.Nil(t, NotificationFor(sub, now))
}

func TestScenarioSubscriptionReminderWindow(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	now := time.Now()

	create := func(days int) *models.Subscription {
		sub, err := f.scheduler.Create(ctx, &CreateSubscriptionRequest{
			CustomerID:       "WM002",
			Items:            []models.SubscriptionItem{{Name: "Rice", Price: decimal.NewFromInt(120), Quantity: 1}},
			DeliveryDate:     now.AddDate(0, 0, days).Format(models.DateLayout),
			SubscriptionType: models.RecurrenceMonthly,
		})
		require.NoError(t, err)
		return sub
	}

	soon := create(3)
	later := create(10)
	assert.NotNil(t, NotificationFor(*soon, now))
	assert.Nil(t, NotificationFor(*later, now))

	reminders, err := f.scheduler.Notifications(ctx, "WM002", now)
	require.NoError(t, err)
	require.Len(t, reminders, 1)
	assert.Equal(t, soon.ID, reminders[0].SubscriptionID)
}

func TestCustomerOverview(t *testing.T) {
	f := newFixture(t, false)

	overview, err := f.support.GetCustomerOverview(context.Background(), "WM001")
	require.NoError(t, err)
	assert.Equal(t, 2, overview.Summary.TotalOrders)
	assert.Equal(t, 2, overview.Summary.TotalPayments)
	assert.Equal(t, 1, overview.Summary.FailedPayments)

	_, err = f.support.GetCustomerOverview(context.Background(), "WM404")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	_, err = l.Acquire(ctx, "k", time.Second)
	assert.ErrorIs(t, err, ErrLockBusy)

	release()
	release()
	release2, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	release2()
}
