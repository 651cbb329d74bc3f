// ABOUTME: Inbound webhook payload types and boundary validation
// ABOUTME: Sender accepts either a bare identifier string or an object form

package webhook

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Message kinds seen on the wire.
const (
	KindText     = "text"
	KindImage    = "image"
	KindVoice    = "voice"
	KindAudio    = "audio"
	KindDocument = "document"
	KindVideo    = "video"
)

// ErrInvalidPayload is returned for bodies that fail boundary validation.
var ErrInvalidPayload = errors.New("invalid webhook payload")

// Payload is the top-level webhook body.
type Payload struct {
	ConversationID string  `json:"conversation_id"`
	Message        Message `json:"message"`
}

// Message is a single inbound chat message.
type Message struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	Sender    Sender `json:"sender"`
	Type      string `json:"type"`
	MediaID   string `json:"media_id,omitempty"`
	MediaData string `json:"media_data,omitempty"`
}

// Sender identifies the end user.
type Sender struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// UnmarshalJSON accepts "sender": "+52..." as well as the object form.
func (s *Sender) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Sender{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*s = Sender{ID: id, Phone: id}
		return nil
	}

	type plain Sender
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = Sender(p)
	return nil
}

// MarshalJSON always emits the object form.
func (s Sender) MarshalJSON() ([]byte, error) {
	type plain Sender
	return json.Marshal(plain(s))
}

// UserID returns the stable identifier used for sessions and contexts.
func (s Sender) UserID() string {
	switch {
	case s.Phone != "":
		return s.Phone
	case s.ID != "":
		return s.ID
	default:
		return s.Name
	}
}

// DisplayName returns the best human-readable label for prompts.
func (s Sender) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if id := s.UserID(); id != "" {
		return id
	}
	return "Unknown"
}

// HasMedia reports whether the message kind carries a media attachment.
func (m Message) HasMedia() bool {
	switch m.Type {
	case KindImage, KindVoice, KindAudio, KindDocument, KindVideo:
		return true
	}
	return false
}

// DecodeMedia returns the inline media bytes. Base64 content is decoded;
// anything else is returned as raw bytes.
func (m Message) DecodeMedia() []byte {
	if m.MediaData == "" {
		return nil
	}
	if b, err := base64.StdEncoding.DecodeString(m.MediaData); err == nil {
		return b
	}
	return []byte(m.MediaData)
}

// ParsePayload decodes and validates a webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	p.ConversationID = strings.TrimSpace(p.ConversationID)
	if p.ConversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", ErrInvalidPayload)
	}
	if p.Message.Type == "" {
		p.Message.Type = KindText
	}
	if p.Message.Text == "" && !p.Message.HasMedia() {
		return nil, fmt.Errorf("%w: message text is required", ErrInvalidPayload)
	}

	return &p, nil
}
