package models

import "strings"

// Intent is the closed set of support message categories
type Intent string

// Intents in declaration order. The order breaks keyword-score ties.
const (
	IntentRefundRequest       Intent = "REFUND_REQUEST"
	IntentDeliveryIssue       Intent = "DELIVERY_ISSUE"
	IntentPaymentProblem      Intent = "PAYMENT_PROBLEM"
	IntentWalletIssue         Intent = "WALLET_ISSUE"
	IntentOrderStatus         Intent = "ORDER_STATUS"
	IntentSubscriptionRequest Intent = "SUBSCRIPTION_REQUEST"
	IntentGeneralInquiry      Intent = "GENERAL_INQUIRY"
)

// Intents returns every intent in declaration order
func Intents() []Intent {
	return []Intent{
		IntentRefundRequest,
		IntentDeliveryIssue,
		IntentPaymentProblem,
		IntentWalletIssue,
		IntentOrderStatus,
		IntentSubscriptionRequest,
		IntentGeneralInquiry,
	}
}

// ParseIntent matches a label exactly against the closed set
func ParseIntent(label string) (Intent, bool) {
	label = strings.TrimSpace(label)
	for _, intent := range Intents() {
		if string(intent) == label {
			return intent, true
		}
	}
	return "", false
}
