package repositories

import (
	"time"

	"chat-coordinator/internal/models"
)

// MessageLedger stores messages by id and, in insertion order, by room.
type MessageLedger struct {
	byID   map[string]*models.Message
	byRoom map[string][]*models.Message
	now    func() time.Time
}

// NewMessageLedger constructs an empty ledger stamping messages with time.Now.
func NewMessageLedger() *MessageLedger {
	return NewMessageLedgerWithClock(time.Now)
}

// NewMessageLedgerWithClock constructs an empty ledger using now for timestamps.
func NewMessageLedgerWithClock(now func() time.Time) *MessageLedger {
	return &MessageLedger{
		byID:   make(map[string]*models.Message),
		byRoom: make(map[string][]*models.Message),
		now:    now,
	}
}

// Post appends a message to room's history. Ids are unique across all rooms.
func (l *MessageLedger) Post(room, author, text, id string) (models.Message, error) {
	if _, ok := l.byID[id]; ok {
		return models.Message{}, ErrDuplicateID
	}
	msg := &models.Message{
		ID:   id,
		Room: room,
		User: author,
		Text: text,
		Time: l.now(),
	}
	l.byID[id] = msg
	l.byRoom[room] = append(l.byRoom[room], msg)
	return *msg, nil
}

// Edit replaces the text of message id in place.
func (l *MessageLedger) Edit(id, requester, newText, claimedRoom string) (models.Message, error) {
	msg, err := l.authorize(id, requester, claimedRoom)
	if err != nil {
		return models.Message{}, err
	}
	msg.Text = newText
	msg.Edited = true
	return *msg, nil
}

// Remove deletes message id from both indices.
func (l *MessageLedger) Remove(id, requester, claimedRoom string) (models.Message, error) {
	msg, err := l.authorize(id, requester, claimedRoom)
	if err != nil {
		return models.Message{}, err
	}
	delete(l.byID, id)
	history := l.byRoom[msg.Room]
	for i, m := range history {
		if m == msg {
			l.byRoom[msg.Room] = append(history[:i:i], history[i+1:]...)
			break
		}
	}
	if len(l.byRoom[msg.Room]) == 0 {
		delete(l.byRoom, msg.Room)
	}
	return *msg, nil
}

// PurgeRoom drops every message of room and returns how many were removed.
func (l *MessageLedger) PurgeRoom(room string) int {
	history := l.byRoom[room]
	for _, m := range history {
		delete(l.byID, m.ID)
	}
	delete(l.byRoom, room)
	return len(history)
}

// HistoryOf returns room's messages in insertion order. Unknown rooms yield
// an empty slice.
func (l *MessageLedger) HistoryOf(room string) []models.Message {
	history := l.byRoom[room]
	out := make([]models.Message, 0, len(history))
	for _, m := range history {
		out = append(out, *m)
	}
	return out
}

// Get returns message id.
func (l *MessageLedger) Get(id string) (models.Message, bool) {
	msg, ok := l.byID[id]
	if !ok {
		return models.Message{}, false
	}
	return *msg, true
}

// Count returns the number of stored messages.
func (l *MessageLedger) Count() int {
	return len(l.byID)
}

func (l *MessageLedger) authorize(id, requester, claimedRoom string) (*models.Message, error) {
	msg, ok := l.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	if msg.User != requester || msg.Room != claimedRoom {
		return nil, ErrForbidden
	}
	return msg, nil
}
