// ABOUTME: Pipeline states and the typed error carried by failed stages
// ABOUTME: Kinds map onto response status codes without exposing details to callers

package pipeline

import (
	"fmt"
	"net/http"
)

// State is a step of the per-request state machine.
type State string

const (
	Received   State = "received"
	Verified   State = "verified"
	Parsed     State = "parsed"
	Classified State = "classified"
	Persisted  State = "persisted"
	Published  State = "published"
	Responded  State = "responded"
	Rejected   State = "rejected"
	Failed     State = "failed"
)

// Kind classifies a stage failure.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindParse          Kind = "parse"
	KindPersistence    Kind = "persistence"
	KindPublish        Kind = "publish"
	KindInternal       Kind = "internal"
)

// StageError records which stage failed and why.
type StageError struct {
	Stage State
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StatusCode is the HTTP status reported for this failure.
func (e *StageError) StatusCode() int {
	if e.Kind == KindAuthentication {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// Generic messages returned to callers.
const (
	MessageInvalidSignature = "Invalid signature"
	MessageInternalError    = "Internal processing error"
)

// PublicMessage is safe to return to the caller.
func (e *StageError) PublicMessage() string {
	if e.Kind == KindAuthentication {
		return MessageInvalidSignature
	}
	return MessageInternalError
}
