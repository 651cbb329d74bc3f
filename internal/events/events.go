// ABOUTME: Routing event shape published once per classified message
// ABOUTME: Defines the Publisher interface shared by EventBridge and in-process backends

package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/2389/bird-gateway/internal/intent"
	"github.com/2389/bird-gateway/internal/media"
)

// Event envelope identifiers.
const (
	Source     = "urbanhub.bird.webhook"
	DetailType = "Agent Routing Required"
)

// ErrClosed is returned when publishing on a closed publisher.
var ErrClosed = errors.New("publisher closed")

// ErrNoSubscribers is returned when no subscriber is registered for an
// event's target.
var ErrNoSubscribers = errors.New("no subscribers for routing target")

// ErrSubscriberFull is returned when a subscriber's buffer could not take
// the event.
var ErrSubscriberFull = errors.New("subscriber buffer full")

// MessageData is the message as forwarded to the downstream agent.
type MessageData struct {
	ConversationID string          `json:"conversation_id"`
	MessageID      string          `json:"message_id,omitempty"`
	Text           string          `json:"text"`
	UserID         string          `json:"user_id"`
	SenderName     string          `json:"sender_name"`
	Type           string          `json:"type"`
	SessionID      string          `json:"session_id,omitempty"`
	MediaAnalysis  *media.Analysis `json:"media_analysis,omitempty"`
}

// Detail is the event body.
type Detail struct {
	RoutingDecision intent.Decision `json:"routing_decision"`
	MessageData     MessageData     `json:"message_data"`
	Timestamp       time.Time       `json:"timestamp"`
}

// Event is one routing notification.
type Event struct {
	Source     string `json:"source"`
	DetailType string `json:"detail-type"`
	Detail     Detail `json:"detail"`
}

// Target returns the agent the event is addressed to.
func (e *Event) Target() string {
	return e.Detail.RoutingDecision.RoutingRecommendation
}

// NewEvent builds a routing event stamped at now.
func NewEvent(d intent.Decision, msg MessageData, now time.Time) *Event {
	return &Event{
		Source:     Source,
		DetailType: DetailType,
		Detail: Detail{
			RoutingDecision: d,
			MessageData:     msg,
			Timestamp:       now.UTC(),
		},
	}
}

// DetailJSON encodes the event body.
func (e *Event) DetailJSON() (string, error) {
	b, err := json.Marshal(e.Detail)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Publisher emits routing events. Exactly one call is made per message.
type Publisher interface {
	Publish(ctx context.Context, d intent.Decision, msg MessageData) error
}

// Subscriber is implemented by publishers that deliver to in-process
// consumers, such as the event stream endpoint.
type Subscriber interface {
	Subscribe(ctx context.Context, target string) (<-chan *Event, string)
	Unsubscribe(target, subID string)
}
