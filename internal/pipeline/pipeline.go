// ABOUTME: Webhook intake state machine: verify, parse, classify, persist, publish, respond
// ABOUTME: Each stage runs in its own trace span and failures map onto typed stage errors

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/bird-gateway/internal/conversation"
	"github.com/2389/bird-gateway/internal/events"
	"github.com/2389/bird-gateway/internal/intent"
	"github.com/2389/bird-gateway/internal/media"
	"github.com/2389/bird-gateway/internal/session"
	"github.com/2389/bird-gateway/internal/store"
	"github.com/2389/bird-gateway/internal/webhook"
)

const tracerName = "github.com/2389/bird-gateway/internal/pipeline"

// Request is one inbound webhook delivery.
type Request struct {
	Body      []byte
	Signature string
}

// Messenger sends replies back to the end user.
type Messenger interface {
	SendText(ctx context.Context, to, text, replyTo string) (string, error)
	MarkRead(ctx context.Context, messageID string) error
}

// Deps are the collaborators a Pipeline needs. Media, Fetcher, Replay,
// Responder and Messenger are optional.
type Deps struct {
	Verifier   *webhook.Verifier
	Classifier *intent.Classifier
	Contexts   *conversation.Manager
	Sessions   *session.Manager
	Records    store.RecordStore
	Publisher  events.Publisher

	Media     media.Store
	Fetcher   *media.Fetcher
	Replay    *webhook.ReplayGuard
	Responder *conversation.Responder
	Messenger Messenger

	Logger *slog.Logger
	Tracer trace.Tracer
}

// Pipeline processes webhook deliveries. It holds no per-request state and
// is safe for concurrent use.
type Pipeline struct {
	d      Deps
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New validates deps and creates a Pipeline.
func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Verifier == nil:
		return nil, errors.New("pipeline: verifier is required")
	case d.Classifier == nil:
		return nil, errors.New("pipeline: classifier is required")
	case d.Contexts == nil:
		return nil, errors.New("pipeline: context manager is required")
	case d.Sessions == nil:
		return nil, errors.New("pipeline: session manager is required")
	case d.Records == nil:
		return nil, errors.New("pipeline: record store is required")
	case d.Publisher == nil:
		return nil, errors.New("pipeline: publisher is required")
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := d.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Pipeline{
		d:      d,
		logger: logger.With("component", "pipeline"),
		tracer: tracer,
		now:    time.Now,
	}, nil
}

// run carries the transient state of one delivery through the stages.
type run struct {
	req      Request
	state    State
	payload  *webhook.Payload
	userID   string
	replayID string

	cc       *store.ConversationContext
	decision intent.Decision
	session  *store.Session
	analysis media.Analysis
	reply    string
}

// Process runs a delivery through the state machine. It never returns an
// error; failures are reported in the Result.
func (p *Pipeline) Process(ctx context.Context, req Request) (res Result) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "webhook.process")
	r := &run{req: req, state: Received}

	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("panic while processing webhook",
				"state", r.state,
				"panic", v,
				"stack", string(debug.Stack()))
			res = p.fail(r, &StageError{Stage: r.state, Kind: KindInternal, Err: fmt.Errorf("panic: %v", v)})
		}
		res.Duration = p.now().Sub(start)
		span.SetAttributes(attribute.String("pipeline.state", string(res.State)))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, string(res.State))
		}
		span.End()
	}()

	if err := p.stage(ctx, r, Verified, p.verify); err != nil {
		return p.fail(r, err)
	}
	if err := p.stage(ctx, r, Parsed, p.parse); err != nil {
		return p.fail(r, err)
	}
	span.SetAttributes(attribute.String("conversation.id", r.payload.ConversationID))

	if !p.claim(r) {
		p.logger.Info("duplicate delivery ignored",
			"conversation_id", r.payload.ConversationID,
			"message_id", r.payload.Message.ID)
		r.state = Responded
		return Result{
			State:      Responded,
			StatusCode: http.StatusOK,
			Body: SuccessResponse{
				Success:        true,
				ConversationID: r.payload.ConversationID,
				Duplicate:      true,
			},
		}
	}

	for _, s := range []struct {
		state State
		fn    func(context.Context, *run) error
	}{
		{Classified, p.classify},
		{Persisted, p.persist},
		{Published, p.publish},
	} {
		if err := p.stage(ctx, r, s.state, s.fn); err != nil {
			return p.fail(r, err)
		}
	}

	p.respond(ctx, r)
	r.state = Responded

	p.logger.Info("webhook processed",
		"conversation_id", r.payload.ConversationID,
		"intent", r.decision.Intent,
		"confidence", r.decision.Confidence,
		"routing", r.decision.RoutingRecommendation,
		"source", r.decision.Source,
		"media", r.analysis.HasMedia,
		"duration", p.now().Sub(start))

	return Result{
		State:      Responded,
		StatusCode: http.StatusOK,
		Body: SuccessResponse{
			Success:        true,
			ConversationID: r.payload.ConversationID,
			Classification: &Classification{
				Intent:                r.decision.Intent,
				Confidence:            r.decision.Confidence,
				RoutingRecommendation: r.decision.RoutingRecommendation,
			},
			MediaProcessed: r.analysis.HasMedia,
		},
	}
}

// stage runs fn in a child span and advances r.state when it succeeds.
func (p *Pipeline) stage(ctx context.Context, r *run, next State, fn func(context.Context, *run) error) error {
	ctx, span := p.tracer.Start(ctx, "webhook."+string(next))
	defer span.End()

	if err := fn(ctx, r); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.state = next
	return nil
}

func (p *Pipeline) fail(r *run, err error) Result {
	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: r.state, Kind: KindInternal, Err: err}
	}
	if r.replayID != "" && p.d.Replay != nil {
		p.d.Replay.Release(r.replayID)
	}

	state := Failed
	if se.Kind == KindAuthentication {
		state = Rejected
		p.logger.Warn("webhook rejected", "reason", se.Err)
	} else {
		conv := ""
		if r.payload != nil {
			conv = r.payload.ConversationID
		}
		p.logger.Error("webhook processing failed",
			"stage", se.Stage,
			"kind", se.Kind,
			"conversation_id", conv,
			"error", se.Err)
	}
	r.state = state

	return Result{
		State:      state,
		StatusCode: se.StatusCode(),
		Body:       ErrorResponse{Error: se.PublicMessage()},
		Err:        se,
	}
}

func (p *Pipeline) verify(_ context.Context, r *run) error {
	if !p.d.Verifier.Verify(r.req.Body, r.req.Signature) {
		return &StageError{Stage: Verified, Kind: KindAuthentication, Err: errors.New("signature mismatch")}
	}
	return nil
}

func (p *Pipeline) parse(_ context.Context, r *run) error {
	payload, err := webhook.ParsePayload(r.req.Body)
	if err != nil {
		return &StageError{Stage: Parsed, Kind: KindParse, Err: err}
	}
	r.payload = payload
	r.userID = payload.Message.Sender.UserID()
	if r.userID == "" {
		r.userID = payload.ConversationID
	}
	return nil
}

// claim reports whether this delivery is new. Deliveries without a message
// id are always processed.
func (p *Pipeline) claim(r *run) bool {
	if p.d.Replay == nil || r.payload.Message.ID == "" {
		return true
	}
	key := r.payload.ConversationID + ":" + r.payload.Message.ID
	if !p.d.Replay.Claim(key) {
		return false
	}
	r.replayID = key
	return true
}

// classify never fails. A context that cannot be loaded only costs the
// classifier its history; persist retries the load. Summarisation is left
// to AppendExchange so a long conversation costs one model call, not two.
func (p *Pipeline) classify(ctx context.Context, r *run) error {
	msg := r.payload.Message

	cc, err := p.d.Contexts.Load(ctx, r.payload.ConversationID, r.userID)
	if err != nil {
		p.logger.Warn("context unavailable for classification",
			"conversation_id", r.payload.ConversationID,
			"error", err)
	}
	r.cc = cc

	in := intent.Input{Text: msg.Text, SenderName: msg.Sender.DisplayName()}
	if cc != nil {
		in.History = p.d.Contexts.History(cc)
	}
	r.decision = p.d.Classifier.Classify(ctx, in)
	if cc != nil {
		cc.TotalTokensUsed += r.decision.PromptTokens
	}
	return nil
}

func (p *Pipeline) persist(ctx context.Context, r *run) error {
	msg := r.payload.Message
	now := p.now()
	persistErr := func(what string, err error) error {
		return &StageError{Stage: Persisted, Kind: KindPersistence, Err: fmt.Errorf("%s: %w", what, err)}
	}

	r.session = p.d.Sessions.GetOrCreate(ctx, r.userID, session.TypeForIntent(r.decision.Intent))

	locator, err := p.storeMedia(ctx, r)
	if err != nil {
		return persistErr("storing media", err)
	}
	r.analysis = media.Analyze(msg.Type, locator)

	err = p.d.Records.SaveInbound(ctx, &store.InboundRecord{
		ID:             uuid.New().String(),
		ConversationID: r.payload.ConversationID,
		MessageID:      msg.ID,
		UserID:         r.userID,
		Payload:        r.req.Body,
		ReceivedAt:     now,
		ExpiresAt:      now.Add(store.InboundTTL),
	})
	if err != nil {
		return persistErr("saving inbound message", err)
	}

	analysis, err := json.Marshal(analysisDocument{
		Decision:      r.decision,
		MediaAnalysis: r.analysis,
		SessionID:     r.session.SessionID,
		SessionType:   r.session.SessionType,
	})
	if err != nil {
		return persistErr("encoding analysis", err)
	}
	err = p.d.Records.SaveAnalysis(ctx, &store.AnalysisRecord{
		ID:             uuid.New().String(),
		ConversationID: r.payload.ConversationID,
		Intent:         string(r.decision.Intent),
		Confidence:     r.decision.Confidence,
		Routing:        r.decision.RoutingRecommendation,
		Source:         r.decision.Source,
		Analysis:       analysis,
		AnalyzedAt:     now,
		ExpiresAt:      now.Add(store.AnalysisTTL),
	})
	if err != nil {
		return persistErr("saving analysis", err)
	}

	if r.cc == nil {
		cc, err := p.d.Contexts.Load(ctx, r.payload.ConversationID, r.userID)
		if err != nil {
			return persistErr("loading context", err)
		}
		r.cc = cc
	}

	r.reply = p.generateReply(ctx, r)
	assistant := r.reply
	if assistant == "" {
		assistant = routingNote(r.decision.RoutingRecommendation)
	}
	if err := p.d.Contexts.AppendExchange(ctx, r.cc, userTurn(msg), assistant); err != nil {
		return persistErr("appending exchange", err)
	}
	return nil
}

// storeMedia returns the locator of the stored attachment, or "" when there
// is nothing to store or no media store is configured.
func (p *Pipeline) storeMedia(ctx context.Context, r *run) (string, error) {
	msg := r.payload.Message
	if !msg.HasMedia() || p.d.Media == nil {
		return "", nil
	}

	data := msg.DecodeMedia()
	if len(data) == 0 && msg.MediaID != "" {
		fetched, err := p.d.Fetcher.Fetch(ctx, msg.MediaID)
		if err != nil {
			p.logger.Warn("media download failed",
				"conversation_id", r.payload.ConversationID,
				"media_id", msg.MediaID,
				"error", err)
			return "", nil
		}
		data = fetched
	}
	if len(data) == 0 {
		return "", nil
	}
	return p.d.Media.Save(ctx, data, msg.Type, r.payload.ConversationID)
}

// generateReply returns "" when replies are disabled or generation fails.
func (p *Pipeline) generateReply(ctx context.Context, r *run) string {
	if p.d.Responder == nil {
		return ""
	}
	reply, err := p.d.Responder.Generate(ctx, r.cc, r.payload.Message.Text, string(r.decision.Intent))
	if err != nil {
		p.logger.Warn("reply generation failed",
			"conversation_id", r.payload.ConversationID,
			"error", err)
		return ""
	}
	p.logger.Debug("reply generated",
		"conversation_id", r.payload.ConversationID,
		"confidence", reply.Confidence)
	return reply.Text
}

func (p *Pipeline) publish(ctx context.Context, r *run) error {
	msg := r.payload.Message
	data := events.MessageData{
		ConversationID: r.payload.ConversationID,
		MessageID:      msg.ID,
		Text:           msg.Text,
		UserID:         r.userID,
		SenderName:     msg.Sender.DisplayName(),
		Type:           msg.Type,
		SessionID:      r.session.SessionID,
	}
	if r.analysis.HasMedia {
		a := r.analysis
		data.MediaAnalysis = &a
	}
	if err := p.d.Publisher.Publish(ctx, r.decision, data); err != nil {
		return &StageError{Stage: Published, Kind: KindPublish, Err: err}
	}
	return nil
}

// respond performs the best-effort outbound calls. Failures are logged only.
func (p *Pipeline) respond(ctx context.Context, r *run) {
	if p.d.Messenger == nil {
		return
	}
	msg := r.payload.Message
	if msg.ID != "" {
		if err := p.d.Messenger.MarkRead(ctx, msg.ID); err != nil {
			p.logger.Warn("mark read failed", "message_id", msg.ID, "error", err)
		}
	}
	if r.reply == "" {
		return
	}
	id, err := p.d.Messenger.SendText(ctx, r.userID, r.reply, msg.ID)
	if err != nil {
		p.logger.Warn("reply send failed",
			"conversation_id", r.payload.ConversationID,
			"error", err)
		return
	}
	p.logger.Debug("reply sent", "conversation_id", r.payload.ConversationID, "message_id", id)
}

type analysisDocument struct {
	Decision      intent.Decision `json:"classification"`
	MediaAnalysis media.Analysis  `json:"media_analysis"`
	SessionID     string          `json:"session_id"`
	SessionType   string          `json:"session_type"`
}

func routingNote(target string) string {
	return "[ruteado a " + target + "]"
}

func userTurn(msg webhook.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	return "[" + msg.Type + "]"
}
