// ABOUTME: Deterministic keyword classifier used when the model path is unavailable
// ABOUTME: Most matches wins, ties go to the earlier category

package intent

import (
	"fmt"
	"strings"
	"time"
)

// Category is one keyword-scored intent with its urgency tag.
type Category struct {
	Intent   Intent
	Keywords []string
	Priority string
}

// DefaultCategories is the built-in keyword table, in tie-break order.
var DefaultCategories = []Category{
	{
		Intent:   Maintenance,
		Keywords: []string{"problema", "fuga", "no funciona", "reparar", "aire acondicionado", "plomería"},
		Priority: "urgent",
	},
	{
		Intent:   Leasing,
		Keywords: []string{"precio", "disponible", "tour", "renta", "contrato", "propiedad"},
		Priority: "high",
	},
	{
		Intent:   Payments,
		Keywords: []string{"pago", "recibo", "factura", "cobro", "tarjeta"},
		Priority: "medium",
	},
	{
		Intent:   Amenities,
		Keywords: []string{"gym", "co-working", "azotea", "terraza", "mascotas", "reserva"},
		Priority: "low",
	},
}

// Confidence used when no keyword matches.
const noMatchConfidence = 0.5

// KeywordClassifier scores text against a fixed keyword table.
type KeywordClassifier struct {
	categories []Category
	now        func() time.Time
}

// NewKeywordClassifier creates a classifier over categories, or DefaultCategories when nil.
func NewKeywordClassifier(categories []Category) *KeywordClassifier {
	if categories == nil {
		categories = DefaultCategories
	}
	return &KeywordClassifier{categories: categories, now: time.Now}
}

// Classify returns the keyword decision for text. Identical input always
// yields identical intent and confidence.
func (k *KeywordClassifier) Classify(text string) Decision {
	lower := strings.ToLower(text)

	best := -1
	bestScore := 0
	for i, cat := range k.categories {
		score := 0
		for _, kw := range cat.Keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if best < 0 {
		return Decision{
			Intent:                Others,
			Confidence:            noMatchConfidence,
			Entities:              map[string]string{"urgency": "medium"},
			RoutingRecommendation: Others.Agent(),
			Reasoning:             "Keyword matching with 0 matches",
			Source:                SourceFallback,
			ProcessedAt:           k.now(),
		}
	}

	cat := k.categories[best]
	return Decision{
		Intent:                cat.Intent,
		Confidence:            min(0.8, float64(bestScore)*0.2),
		Entities:              map[string]string{"urgency": cat.Priority},
		RoutingRecommendation: cat.Intent.Agent(),
		Reasoning:             fmt.Sprintf("Keyword matching with %d matches", bestScore),
		Source:                SourceFallback,
		ProcessedAt:           k.now(),
	}
}
