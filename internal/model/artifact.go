package model

import "time"

// DailyArtifact is the compiled export for one (conversation, day).
type DailyArtifact struct {
	ConversationID string    `json:"conversation_id"`
	Day            Day       `json:"day"`
	Records        []Record  `json:"records"`
	Blob           []byte    `json:"-"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ChatMessage is one inbound message as kept in the message log.
type ChatMessage struct {
	ID             int64     `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Title          string    `json:"title"`
	SenderID       int64     `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}
