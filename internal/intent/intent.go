// ABOUTME: Intent labels, routing targets and the routing decision produced per message
// ABOUTME: Normalises free-form labels from a model onto the closed intent set

package intent

import (
	"strings"
	"time"
)

// Intent is a closed-set topical label for an inbound message.
type Intent string

const (
	Maintenance Intent = "MAINTENANCE"
	Leasing     Intent = "LEASING"
	Payments    Intent = "PAYMENTS"
	Amenities   Intent = "AMENITIES"
	Others      Intent = "OTHERS"
)

// ConversationAgent handles messages no specialist claims.
const ConversationAgent = "conversation-ai"

// Decision sources.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Decision is the routing decision for one inbound message.
type Decision struct {
	Intent                Intent            `json:"intent"`
	Confidence            float64           `json:"confidence"`
	Entities              map[string]string `json:"entities"`
	RoutingRecommendation string            `json:"routing_recommendation"`
	Reasoning             string            `json:"reasoning"`
	Source                string            `json:"source"`
	ProcessedAt           time.Time         `json:"processed_at"`

	// PromptTokens is the estimated size of the classification prompt.
	PromptTokens int `json:"-"`
}

// Agent returns the default downstream handler for an intent.
func (i Intent) Agent() string {
	switch i {
	case Maintenance, Leasing, Payments, Amenities:
		return strings.ToLower(string(i)) + "-agent"
	default:
		return ConversationAgent
	}
}

// Valid reports whether i is in the closed set.
func (i Intent) Valid() bool {
	switch i {
	case Maintenance, Leasing, Payments, Amenities, Others:
		return true
	}
	return false
}

var labelAliases = map[string]Intent{
	"MAINTENANCE":   Maintenance,
	"MANTENIMIENTO": Maintenance,
	"LEASING":       Leasing,
	"ARRENDAMIENTO": Leasing,
	"PAYMENTS":      Payments,
	"PAYMENT":       Payments,
	"PAGOS":         Payments,
	"PAGO":          Payments,
	"AMENITIES":     Amenities,
	"AMENIDADES":    Amenities,
	"OTHERS":        Others,
	"OTHER":         Others,
	"OTROS":         Others,
}

// ParseIntent maps a label, in English or Spanish and in any case, onto the
// closed set.
func ParseIntent(label string) (Intent, bool) {
	key := strings.ToUpper(strings.TrimSpace(label))
	key = strings.TrimSuffix(key, "-AGENT")
	i, ok := labelAliases[key]
	return i, ok
}
