package models

import "time"

// Message represents one chat utterance held in a room's history.
type Message struct {
	ID     string    `json:"id"`
	Room   string    `json:"room"`
	User   string    `json:"user"`
	Text   string    `json:"text"`
	Time   time.Time `json:"time"`
	Edited bool      `json:"edited,omitempty"`
}

// MessageEdit is broadcast to a room when a message text changes.
type MessageEdit struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MessageDeletion is broadcast to a room when a message is removed.
type MessageDeletion struct {
	ID string `json:"id"`
}

// SystemAuthor is the user field of server-authored notices.
const SystemAuthor = "system"

// SystemMessage is a server-authored notice sent to room members.
type SystemMessage struct {
	User string    `json:"user"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// NewSystemMessage stamps a notice with the current time.
func NewSystemMessage(text string, at time.Time) SystemMessage {
	return SystemMessage{User: SystemAuthor, Text: text, Time: at}
}
