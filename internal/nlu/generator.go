package nlu

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"support-service/internal/models"
	"support-service/internal/util"

	"go.uber.org/zap"
)

// CustomerNotFoundReply is returned when the customer id does not resolve
const CustomerNotFoundReply = "I'm sorry, I couldn't find your customer information. Please contact support."

const unknownIntentReply = "I'm here to help you with your query!"

// CustomerData is the read side of the repository the generator needs
type CustomerData interface {
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	GetCustomerOrders(ctx context.Context, customerID string) ([]models.Order, error)
	GetCustomerPayments(ctx context.Context, customerID string) ([]models.Payment, error)
	GetFailedPayments(ctx context.Context, customerID string) ([]models.Payment, error)
}

// Generator writes customer-facing replies
type Generator struct {
	data      CustomerData
	text      TextClassifier
	maxTokens int
	logger    *zap.Logger
}

// NewGenerator creates a response generator. text may be nil, in which case
// every reply comes from the templates.
func NewGenerator(data CustomerData, text TextClassifier, maxTokens int) *Generator {
	if maxTokens <= 0 {
		maxTokens = 150
	}
	return &Generator{
		data:      data,
		text:      text,
		maxTokens: maxTokens,
		logger:    util.GetLogger(),
	}
}

// Generate returns a reply for message. It never fails: upstream errors fall
// back to a fixed per-intent template.
func (g *Generator) Generate(ctx context.Context, intent models.Intent, message, customerID string) string {
	ctx, span := util.StartSpan(ctx, "Generator.Generate")
	defer span.End()

	customer, err := g.data.GetCustomer(ctx, customerID)
	if err != nil {
		g.logger.Info("Customer not resolved for reply",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return CustomerNotFoundReply
	}

	orderID := ExtractOrderID(message)

	reply, strategy, _ := FirstSuccess(ctx,
		Step[string]{Name: "completion", Run: func(ctx context.Context) (string, error) {
			if g.text == nil {
				return "", errClassifierDisabled
			}
			text, err := g.text.Complete(ctx, g.buildPrompt(ctx, intent, message, customer, orderID), g.maxTokens)
			if err != nil {
				g.logger.Warn("Reply completion failed, using template",
					zap.String("intent", string(intent)),
					zap.Error(err),
				)
				return "", err
			}
			if strings.TrimSpace(text) == "" {
				return "", errors.New("empty completion")
			}
			return strings.TrimSpace(text), nil
		}},
		Step[string]{Name: "template", Run: func(ctx context.Context) (string, error) {
			return TemplateReply(intent, customer, orderID), nil
		}},
	)
	if strategy == "template" && g.text != nil {
		util.FallbacksTotal.WithLabelValues("response_generator").Inc()
	}
	return reply
}

func (g *Generator) buildPrompt(ctx context.Context, intent models.Intent, message string, customer *models.Customer, orderID string) string {
	orders, err := g.data.GetCustomerOrders(ctx, customer.ID)
	if err != nil {
		g.logger.Warn("Failed to load orders for prompt", zap.Error(err))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are a helpful grocery customer support agent. Respond professionally and helpfully.

Customer Information:
- Name: %s
- Wallet Balance: ₹%s
- Membership: %s
- Location: %s

Recent Orders: %d orders
Intent: %s
Customer Message: "%s"

Based on the intent, provide a helpful response:
`, customer.Name, customer.WalletBalance.StringFixed(2), customer.Membership, customer.Location,
		len(orders), intent, message)

	switch intent {
	case models.IntentWalletIssue:
		payments, _ := g.data.GetCustomerPayments(ctx, customer.ID)
		fmt.Fprintf(&b, "\nRecent payments: %d transactions\nCurrent wallet balance: ₹%s\n", len(payments), customer.WalletBalance.StringFixed(2))
		b.WriteString("If the wallet shows ₹0 but the customer paid, explain payment processing and offer to credit the wallet.\n")
	case models.IntentDeliveryIssue, models.IntentOrderStatus:
		if orderID != "" {
			if order, err := g.data.GetOrder(ctx, orderID); err == nil {
				fmt.Fprintf(&b, "\nOrder %s details:\n- Status: %s\n- Expected delivery: %s\n- Items: %d items\n",
					orderID, order.Status, order.ExpectedDelivery, order.ItemCount())
			}
		}
	case models.IntentPaymentProblem:
		failed, _ := g.data.GetFailedPayments(ctx, customer.ID)
		fmt.Fprintf(&b, "\nFailed payments: %d\n", len(failed))
	case models.IntentRefundRequest:
		if amount, ok := ExtractAmount(message); ok {
			fmt.Fprintf(&b, "\nRequested refund amount: ₹%s\n", amount.StringFixed(2))
		}
	case models.IntentSubscriptionRequest:
		if items := ExtractGroceryItems(message); len(items) > 0 {
			fmt.Fprintf(&b, "\nItems mentioned: %s\nAsk for any missing delivery date or recurrence.\n", strings.Join(items, ", "))
		}
	}

	b.WriteString("\nProvide a concise, helpful response (max 100 words).")
	return b.String()
}

// TemplateReply is the fixed reply for intent, used when completion is unavailable
func TemplateReply(intent models.Intent, customer *models.Customer, orderID string) string {
	name := customer.Name
	switch intent {
	case models.IntentWalletIssue:
		return fmt.Sprintf("Hi %s! I can see your current wallet balance is ₹%s. Let me help you resolve this payment issue.",
			name, customer.WalletBalance.StringFixed(2))
	case models.IntentDeliveryIssue:
		if orderID != "" {
			return fmt.Sprintf("Hi %s! I'm checking the delivery status of %s right now. Let me get you an update.", name, orderID)
		}
		return fmt.Sprintf("Hi %s! I'm checking your delivery status right now. Let me get you an update.", name)
	case models.IntentPaymentProblem:
		if orderID != "" {
			return fmt.Sprintf("Hi %s! I can help you with the payment for %s. Let me review your recent transactions.", name, orderID)
		}
		return fmt.Sprintf("Hi %s! I can help you with your payment concerns. Let me review your recent transactions.", name)
	case models.IntentOrderStatus:
		if orderID != "" {
			return fmt.Sprintf("Hi %s! I'll check the status of %s for you right away.", name, orderID)
		}
		return fmt.Sprintf("Hi %s! I'll check your order status for you right away.", name)
	case models.IntentRefundRequest:
		if orderID != "" {
			return fmt.Sprintf("Hi %s! I can help you with your refund request for %s. Let me process this for you.", name, orderID)
		}
		return fmt.Sprintf("Hi %s! I can help you with your refund request. Let me process this for you.", name)
	case models.IntentSubscriptionRequest:
		return fmt.Sprintf("Hi %s! I can set up a recurring delivery for you. Tell me the items, the delivery date and how often you'd like them.", name)
	case models.IntentGeneralInquiry:
		return fmt.Sprintf("Hi %s! I'm here to help. How can I assist you today?", name)
	default:
		return unknownIntentReply
	}
}
