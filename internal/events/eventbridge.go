// ABOUTME: Publishes routing events to an AWS EventBridge bus
// ABOUTME: One PutEvents entry per message; failed entries are reported as errors

package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/2389/bird-gateway/internal/intent"
)

// PutEventsAPI is the slice of the EventBridge client the publisher uses.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher sends routing events to a bus.
type EventBridgePublisher struct {
	client  PutEventsAPI
	busName string
	logger  *slog.Logger
	now     func() time.Time
}

// NewEventBridgePublisher wraps an existing client.
func NewEventBridgePublisher(client PutEventsAPI, busName string, logger *slog.Logger) *EventBridgePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBridgePublisher{
		client:  client,
		busName: busName,
		logger:  logger.With("component", "eventbridge"),
		now:     time.Now,
	}
}

// DialEventBridge builds a publisher from the default AWS credential chain.
func DialEventBridge(ctx context.Context, busName, region string, logger *slog.Logger) (*EventBridgePublisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return NewEventBridgePublisher(eventbridge.NewFromConfig(cfg), busName, logger), nil
}

// Publish sends one entry. There is no retry; upstream redelivery covers it.
func (p *EventBridgePublisher) Publish(ctx context.Context, d intent.Decision, msg MessageData) error {
	event := NewEvent(d, msg, p.now())
	detail, err := event.DetailJSON()
	if err != nil {
		return fmt.Errorf("encoding event detail: %w", err)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			Source:       aws.String(event.Source),
			DetailType:   aws.String(event.DetailType),
			Detail:       aws.String(detail),
			EventBusName: aws.String(p.busName),
			Time:         aws.Time(event.Detail.Timestamp),
		}},
	})
	if err != nil {
		return fmt.Errorf("putting event: %w", err)
	}
	if out.FailedEntryCount > 0 {
		code, message := "unknown", ""
		if len(out.Entries) > 0 {
			code = aws.ToString(out.Entries[0].ErrorCode)
			message = aws.ToString(out.Entries[0].ErrorMessage)
		}
		return fmt.Errorf("putting event: entry rejected: %s %s", code, message)
	}

	eventID := ""
	if len(out.Entries) > 0 {
		eventID = aws.ToString(out.Entries[0].EventId)
	}
	p.logger.Info("routing event published",
		"event_id", eventID,
		"target", event.Target(),
		"conversation_id", msg.ConversationID)
	return nil
}

var _ Publisher = (*EventBridgePublisher)(nil)
