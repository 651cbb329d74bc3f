// Package conversation keeps the bounded memory of each WhatsApp conversation.
//
// # Window
//
// A context holds at most 50 live messages. When more than 40 are live the
// older turns are summarised by the language model and only the latest 20
// are kept; if summarisation fails the latest 30 are kept and the previous
// summary is left untouched.
//
//	m := conversation.New(st, provider, logger)
//	cc, _ := m.Load(ctx, "conv-1", "+5215512345678")
//	_ = m.AppendExchange(ctx, cc, "tengo una fuga", "[ruteado a maintenance-agent]")
//
// OptimizeForModel turns a context into model input, injecting the summary
// as an assistant turn ahead of the recent messages.
//
// # Replies
//
// Responder generates an optional conversational reply and scores it with
// ScoreResponse.
package conversation
