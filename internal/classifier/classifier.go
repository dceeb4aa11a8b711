package classifier

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/money"
)

const (
	DefaultCategory = "Misc"
	OtherCategory   = "Other"
	NoDescription   = "No description"
)

// Categories is the fixed list offered to the model.
var Categories = []string{
	"Housing", "Transportation", "Food", "Utilities", "Insurance",
	"Medical/Healthcare", "Savings", "Debt", "Education", "Entertainment", OtherCategory,
}

// Classifier extracts category, amount and description from free text.
// Implementations never fail: the worst case is the heuristic result.
type Classifier interface {
	Classify(ctx context.Context, text string) models.Classification
}

type SimpleClassifier struct {
	keywords map[string][]string
}

func NewSimpleClassifier() *SimpleClassifier {
	return &SimpleClassifier{
		keywords: map[string][]string{
			"Food":               {"pizza", "burger", "lunch", "dinner", "breakfast", "coffee", "grocery", "groceries", "restaurant", "snack"},
			"Transportation":     {"taxi", "uber", "bus", "train", "metro", "fuel", "gas", "parking", "ticket"},
			"Housing":            {"rent", "mortgage", "furniture"},
			"Utilities":          {"electricity", "water", "internet", "phone", "bill"},
			"Medical/Healthcare": {"doctor", "pharmacy", "medicine", "dentist", "hospital"},
			"Entertainment":      {"cinema", "movie", "concert", "netflix", "game", "games"},
			"Education":          {"course", "book", "books", "tuition", "school"},
			"Insurance":          {"insurance"},
		},
	}
}

// Classify takes the first number as the amount, matches keywords for the
// category and keeps the original text as the description.
func (c *SimpleClassifier) Classify(_ context.Context, text string) models.Classification {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return models.Classification{
			Category:    DefaultCategory,
			Amount:      decimal.Zero,
			Description: NoDescription,
			Source:      models.SourceFallback,
		}
	}

	amount, _ := money.FirstAmount(trimmed)

	return models.Classification{
		Category:    c.category(trimmed),
		Amount:      amount,
		Description: trimmed,
		Source:      models.SourceFallback,
	}
}

func (c *SimpleClassifier) category(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})

	// Iterate the fixed list so the result does not depend on map order.
	for _, category := range Categories {
		for _, keyword := range c.keywords[category] {
			for _, word := range words {
				if word == keyword {
					return category
				}
			}
		}
	}
	return DefaultCategory
}

// NormalizeCategory maps a model answer onto the fixed list, case-insensitively.
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	for _, known := range Categories {
		if strings.EqualFold(known, category) {
			return known
		}
	}
	switch strings.ToLower(category) {
	case "transport":
		return "Transportation"
	case "medical", "healthcare", "health":
		return "Medical/Healthcare"
	}
	return OtherCategory
}
