// Package intent decides which specialist agent should handle an inbound message.
//
// Classifier asks a language model for a JSON decision and, when the call
// fails, times out, or returns something unparsable, falls back to
// KeywordClassifier. The keyword path is deterministic: confidence is
// min(0.8, matches*0.2), and a message with no matches is OTHERS at 0.5 and
// routes to conversation-ai.
package intent
