package repositories

import (
	"time"

	"github.com/samber/lo"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/sanitize"
)

// Transfer describes a completed move into a room. From is empty when the
// member had no prior room or re-joined the room it was already in.
type Transfer struct {
	From      string
	Remaining []string
	Snapshot  models.RoomSnapshot
}

type room struct {
	name      string
	owner     string
	members   []string
	createdAt time.Time
}

// RoomDirectory owns room existence, ownership and membership. Message
// history is delegated to a MessageLedger.
type RoomDirectory struct {
	rooms  map[string]*room
	order  []string
	ledger *MessageLedger
	now    func() time.Time
}

// NewRoomDirectory constructs an empty directory backed by ledger.
func NewRoomDirectory(ledger *MessageLedger) *RoomDirectory {
	return &RoomDirectory{
		rooms:  make(map[string]*room),
		ledger: ledger,
		now:    time.Now,
	}
}

// CreateRoom registers a new empty room owned by creator.
func (d *RoomDirectory) CreateRoom(rawName, creator string) (models.RoomSummary, error) {
	name := sanitize.Text(rawName)
	if name == "" {
		return models.RoomSummary{}, ErrInvalidName
	}
	if _, ok := d.rooms[name]; ok {
		return models.RoomSummary{}, ErrRoomExists
	}
	d.rooms[name] = &room{name: name, owner: creator, createdAt: d.now()}
	d.order = append(d.order, name)
	return models.RoomSummary{Name: name, Owner: creator}, nil
}

// Exists reports whether a room called name exists.
func (d *RoomDirectory) Exists(name string) bool {
	_, ok := d.rooms[name]
	return ok
}

// JoinRoom moves member from its previous room (if any) into target. When
// target does not exist nothing changes.
func (d *RoomDirectory) JoinRoom(member, from, target string) (Transfer, error) {
	dst, ok := d.rooms[target]
	if !ok {
		return Transfer{}, ErrRoomNotFound
	}

	var transfer Transfer
	if from != "" && from != target {
		if remaining, left := d.LeaveRoom(from, member); left {
			transfer.From = from
			transfer.Remaining = remaining
		}
	}
	if !lo.Contains(dst.members, member) {
		dst.members = append(dst.members, member)
	}

	transfer.Snapshot = models.RoomSnapshot{
		Room:    dst.name,
		Members: cloneNames(dst.members),
		History: d.ledger.HistoryOf(dst.name),
	}
	return transfer, nil
}

// LeaveRoom removes member from room and returns the remaining members.
func (d *RoomDirectory) LeaveRoom(name, member string) ([]string, bool) {
	r, ok := d.rooms[name]
	if !ok || !lo.Contains(r.members, member) {
		return nil, false
	}
	r.members = lo.Without(r.members, member)
	return cloneNames(r.members), true
}

// DeleteRoom removes the room and its history. Only the owner may delete a
// room; the members at the time of deletion are returned for eviction.
func (d *RoomDirectory) DeleteRoom(name, requester string) ([]string, error) {
	r, ok := d.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	if r.owner != requester {
		return nil, ErrNotOwner
	}
	members := cloneNames(r.members)
	delete(d.rooms, name)
	d.order = lo.Without(d.order, name)
	d.ledger.PurgeRoom(name)
	return members, nil
}

// CurrentMembers returns the members of room in join order.
func (d *RoomDirectory) CurrentMembers(name string) ([]string, bool) {
	r, ok := d.rooms[name]
	if !ok {
		return nil, false
	}
	return cloneNames(r.members), true
}

// Get returns a copy of the room record.
func (d *RoomDirectory) Get(name string) (models.Room, bool) {
	r, ok := d.rooms[name]
	if !ok {
		return models.Room{}, false
	}
	return models.Room{
		Name:      r.name,
		Owner:     r.owner,
		Members:   cloneNames(r.members),
		CreatedAt: r.createdAt,
	}, true
}

// ListRooms returns every room in creation order.
func (d *RoomDirectory) ListRooms() []models.RoomSummary {
	return lo.Map(d.order, func(name string, _ int) models.RoomSummary {
		r := d.rooms[name]
		return models.RoomSummary{Name: r.name, Owner: r.owner}
	})
}

// History returns the ordered message history of room.
func (d *RoomDirectory) History(name string) []models.Message {
	return d.ledger.HistoryOf(name)
}

// Count returns the number of rooms.
func (d *RoomDirectory) Count() int {
	return len(d.rooms)
}

func cloneNames(names []string) []string {
	return append(make([]string, 0, len(names)), names...)
}
