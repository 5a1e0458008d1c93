package nlu

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	reOrderID = regexp.MustCompile(`ORD\d{3}`)
	reAmount  = regexp.MustCompile(`₹(\d+(?:\.\d{2})?)`)
)

// groceryVocabulary is the fixed list of items recognised as subscription hints
var groceryVocabulary = []string{
	"milk", "bread", "eggs", "rice", "butter", "cheese", "apples", "bananas",
	"tomatoes", "onions", "potatoes", "sugar", "flour", "coffee", "tea", "yogurt",
}

// ExtractOrderID returns the first ORDnnn identifier in message, or ""
func ExtractOrderID(message string) string {
	return reOrderID.FindString(message)
}

// ExtractAmount returns the first ₹-prefixed amount in message
func ExtractAmount(message string) (decimal.Decimal, bool) {
	m := reAmount.FindStringSubmatch(message)
	if len(m) < 2 {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ExtractGroceryItems returns vocabulary items mentioned in message, in
// vocabulary order. The result is a hint only and is not checked against a catalog.
func ExtractGroceryItems(message string) []string {
	lower := strings.ToLower(message)
	var items []string
	for _, item := range groceryVocabulary {
		if strings.Contains(lower, item) {
			items = append(items, item)
		}
	}
	return items
}
