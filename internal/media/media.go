// ABOUTME: Media kinds, object keys and content types for inbound attachments
// ABOUTME: Builds the media analysis attached to routing events

package media

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Media kinds as they arrive in webhook payloads.
const (
	KindImage    = "image"
	KindVoice    = "voice"
	KindAudio    = "audio"
	KindDocument = "document"
	KindVideo    = "video"
)

// Downstream processors for stored media.
const (
	ProcessorVisual   = "visual-analyzer"
	ProcessorVoice    = "voice-assistant"
	ProcessorDocument = "document-processor"
)

// Store persists media bytes and returns a locator for them.
type Store interface {
	Save(ctx context.Context, data []byte, kind, conversationID string) (string, error)
}

// ContentType returns the MIME type recorded for a media kind.
func ContentType(kind string) string {
	switch kind {
	case KindImage:
		return "image/jpeg"
	case KindVoice, KindAudio:
		return "audio/ogg"
	case KindDocument:
		return "application/pdf"
	case KindVideo:
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension used in object keys.
func Extension(kind string) string {
	switch kind {
	case KindImage:
		return "jpg"
	case KindVoice, KindAudio:
		return "ogg"
	case KindDocument:
		return "pdf"
	case KindVideo:
		return "mp4"
	default:
		return "bin"
	}
}

// Key returns media/<conversation>/<unix seconds>.<ext>.
func Key(conversationID, kind string, at time.Time) string {
	return fmt.Sprintf("media/%s/%d.%s", safeSegment(conversationID), at.Unix(), Extension(kind))
}

// safeSegment keeps a conversation ID to a single path segment.
func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

// Analysis describes the media attached to a message.
type Analysis struct {
	HasMedia           bool     `json:"has_media"`
	MediaTypes         []string `json:"media_types"`
	ProcessingRequired []string `json:"processing_required"`
	Locator            string   `json:"locator,omitempty"`
}

// IsMedia reports whether kind carries an attachment.
func IsMedia(kind string) bool {
	switch kind {
	case KindImage, KindVoice, KindAudio, KindDocument, KindVideo:
		return true
	}
	return false
}

// Analyze builds the analysis for a message of the given kind. Presence
// follows the kind alone; locator is empty when nothing was stored.
func Analyze(kind, locator string) Analysis {
	a := Analysis{MediaTypes: []string{}, ProcessingRequired: []string{}}
	if !IsMedia(kind) {
		return a
	}
	a.HasMedia = true
	a.Locator = locator
	a.MediaTypes = append(a.MediaTypes, kind)
	if p := processorFor(kind); p != "" {
		a.ProcessingRequired = append(a.ProcessingRequired, p)
	}
	return a
}

func processorFor(kind string) string {
	switch kind {
	case KindImage, KindVideo:
		return ProcessorVisual
	case KindVoice, KindAudio:
		return ProcessorVoice
	case KindDocument:
		return ProcessorDocument
	}
	return ""
}
