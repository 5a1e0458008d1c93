// Package nlu turns free-text support messages into intents and replies.
//
// Both the classifier and the generator are fallback chains: a local
// strategy, then the external text classifier, then a fixed local value.
// Neither ever returns an upstream error to its caller.
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

// TextClassifier is the external completion service
type TextClassifier interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

var (
	errNoKeywordMatch     = errors.New("no decisive keyword match")
	errClassifierDisabled = errors.New("text classifier not configured")
)

type intentKeywords struct {
	intent   models.Intent
	keywords []string
}

// keywordTable follows the intent declaration order
var keywordTable = []intentKeywords{
	{models.IntentRefundRequest, []string{"refund", "money back", "return", "cancel order", "get my money"}},
	{models.IntentDeliveryIssue, []string{"not delivered", "missing", "delay", "late", "not received", "where is"}},
	{models.IntentPaymentProblem, []string{"charged twice", "payment failed", "double charge", "not charged", "billing", "payment", "failed"}},
	{models.IntentWalletIssue, []string{"wallet", "balance", "credited", "deducted", "shows 0", "wallet empty"}},
	{models.IntentOrderStatus, []string{"order status", "tracking", "shipped", "when will", "delivery date"}},
	{models.IntentSubscriptionRequest, []string{"subscribe", "subscription", "every week", "every month", "every day", "recurring", "restock", "auto deliver"}},
	{models.IntentGeneralInquiry, []string{"help", "support", "question", "how to", "what is"}},
}

const classifyMaxTokens = 50

// Classifier maps messages to intents
type Classifier struct {
	text   TextClassifier
	logger *zap.Logger
}

// NewClassifier creates a classifier. text may be nil, in which case the
// heuristic result is final.
func NewClassifier(text TextClassifier) *Classifier {
	return &Classifier{
		text:   text,
		logger: util.GetLogger(),
	}
}

// ScoreKeywords counts, per intent, how many keywords occur in message
func ScoreKeywords(message string) map[models.Intent]int {
	lower := strings.ToLower(message)
	scores := make(map[models.Intent]int, len(keywordTable))
	for _, entry := range keywordTable {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				scores[entry.intent]++
			}
		}
	}
	return scores
}

// ClassifyHeuristic picks the highest keyword score. Ties go to the intent
// declared first; no match at all yields GENERAL_INQUIRY.
func ClassifyHeuristic(message string) models.Intent {
	scores := ScoreKeywords(message)
	best, bestScore := models.IntentGeneralInquiry, 0
	for _, entry := range keywordTable {
		if s := scores[entry.intent]; s > bestScore {
			best, bestScore = entry.intent, s
		}
	}
	return best
}

// Classify returns the intent of message. A GENERAL_INQUIRY heuristic
// result is referred to the text classifier; any failure there keeps
// GENERAL_INQUIRY.
func (c *Classifier) Classify(ctx context.Context, message string) models.Intent {
	ctx, span := util.StartSpan(ctx, "Classifier.Classify")
	defer span.End()

	intent, strategy, err := FirstSuccess(ctx,
		Step[models.Intent]{Name: "keywords", Run: func(ctx context.Context) (models.Intent, error) {
			if intent := ClassifyHeuristic(message); intent != models.IntentGeneralInquiry {
				return intent, nil
			}
			return "", errNoKeywordMatch
		}},
		Step[models.Intent]{Name: "text_classifier", Run: func(ctx context.Context) (models.Intent, error) {
			return c.classifyRemote(ctx, message)
		}},
		Step[models.Intent]{Name: "default", Run: func(ctx context.Context) (models.Intent, error) {
			return models.IntentGeneralInquiry, nil
		}},
	)
	if err != nil {
		// unreachable: the default step cannot fail
		intent, strategy = models.IntentGeneralInquiry, "default"
	}

	if strategy == "default" && c.text != nil {
		util.FallbacksTotal.WithLabelValues("intent_classifier").Inc()
	}
	util.IntentsClassifiedTotal.WithLabelValues(string(intent), strategy).Inc()
	return intent
}

func (c *Classifier) classifyRemote(ctx context.Context, message string) (models.Intent, error) {
	if c.text == nil {
		return "", errClassifierDisabled
	}

	answer, err := c.text.Complete(ctx, classificationPrompt(message), classifyMaxTokens)
	if err != nil {
		c.logger.Warn("Text classifier failed, keeping GENERAL_INQUIRY", zap.Error(err))
		return "", err
	}

	intent, ok := models.ParseIntent(answer)
	if !ok {
		c.logger.Warn("Text classifier returned unknown label", zap.String("answer", answer))
		return "", fmt.Errorf("malformed label %q", answer)
	}
	return intent, nil
}

func classificationPrompt(message string) string {
	labels := make([]string, 0, len(keywordTable))
	for _, intent := range models.Intents() {
		labels = append(labels, string(intent))
	}
	return fmt.Sprintf(`Classify this customer support message into ONE of these intents:
%s

Message: "%s"

Return only the intent name, nothing else.`, strings.Join(labels, ", "), message)
}
