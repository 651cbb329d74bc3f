// ABOUTME: Response bodies produced by the pipeline
// ABOUTME: Success, duplicate and generic error shapes

package pipeline

import (
	"time"

	"github.com/2389/bird-gateway/internal/intent"
)

// Classification summarises the routing decision for the caller.
type Classification struct {
	Intent                intent.Intent `json:"intent"`
	Confidence            float64       `json:"confidence"`
	RoutingRecommendation string        `json:"routing_recommendation"`
}

// SuccessResponse is returned once the routing event is published.
type SuccessResponse struct {
	Success        bool            `json:"success"`
	ConversationID string          `json:"conversation_id"`
	Classification *Classification `json:"classification,omitempty"`
	MediaProcessed bool            `json:"media_processed"`
	Duplicate      bool            `json:"duplicate,omitempty"`
}

// ErrorResponse carries only a generic message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Result is the outcome of one Process call.
type Result struct {
	State      State
	StatusCode int
	Body       any
	Err        error
	Duration   time.Duration
}
