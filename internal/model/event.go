package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// legacyTimestampLayout is the locale format older producers put on the wire.
const legacyTimestampLayout = "02/01/2006, 15:04:05"

// IngestEvent is one inbound conversation message as it travels over the relay.
type IngestEvent struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
	Sender         string `json:"sender"`
	Text           string `json:"text"`
	Timestamp      string `json:"timestamp"`
	MessageID      string `json:"message_id,omitempty"`
}

// NewIngestEvent builds an event with an RFC 3339 timestamp.
func NewIngestEvent(conversationID, title, sender, text, messageID string, at time.Time) IngestEvent {
	return IngestEvent{
		ConversationID: conversationID,
		Title:          title,
		Sender:         sender,
		Text:           text,
		Timestamp:      at.Format(time.RFC3339),
		MessageID:      messageID,
	}
}

// Time parses the event timestamp. RFC 3339 and the legacy locale layout are
// accepted; the legacy layout is interpreted in loc.
func (e IngestEvent) Time(loc *time.Location) (time.Time, error) {
	ts := strings.TrimSpace(e.Timestamp)
	if ts == "" {
		return time.Time{}, eris.New("model: event has no timestamp")
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation(legacyTimestampLayout, ts, loc)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "model: parse event timestamp %q", ts)
	}
	return t, nil
}

// Validate checks the fields every consumer relies on.
func (e IngestEvent) Validate() error {
	if e.ConversationID == "" {
		return eris.New("model: event missing conversation_id")
	}
	if strings.TrimSpace(e.Text) == "" {
		return eris.New("model: event has empty text")
	}
	return nil
}
