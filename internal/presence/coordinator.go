// Package presence moves users between the lobby and rooms, keeping the
// identity registry and the room directory consistent with each other.
package presence

import (
	"errors"
	"fmt"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/repositories"
)

var ErrNotInLobby = errors.New("connection has not joined the lobby")

// Departure is the leave side of a transition: who left which room and who
// is still there.
type Departure struct {
	Room      string
	User      string
	Remaining []string
}

// Switch is the outcome of a room change. Left is nil when the user had no
// prior room or re-entered its current one; Rejoined marks the latter.
type Switch struct {
	User     models.User
	Left     *Departure
	Snapshot models.RoomSnapshot
	Rejoined bool
}

// Eviction is the outcome of a room deletion.
type Eviction struct {
	Room    string
	Owner   string
	Members []string
	Conns   []string
}

// Coordinator drives the Unjoined → InLobby → InRoom state machine.
type Coordinator struct {
	identities *repositories.IdentityRegistry
	directory  *repositories.RoomDirectory
}

// NewCoordinator constructs a Coordinator over the given registries.
func NewCoordinator(identities *repositories.IdentityRegistry, directory *repositories.RoomDirectory) *Coordinator {
	return &Coordinator{identities: identities, directory: directory}
}

// EnterLobby registers connID under rawName.
func (c *Coordinator) EnterLobby(connID, rawName string) (models.User, error) {
	return c.identities.RegisterUser(connID, rawName)
}

// SwitchRoom moves the user of connID into target as one transition.
func (c *Coordinator) SwitchRoom(connID, target string) (Switch, error) {
	user, ok := c.identities.Lookup(connID)
	if !ok {
		return Switch{}, ErrNotInLobby
	}

	transfer, err := c.directory.JoinRoom(user.Name, user.Room, target)
	if err != nil {
		return Switch{}, fmt.Errorf("join %q: %w", target, err)
	}
	rejoined := user.Room == target
	c.identities.SetRoom(connID, target)
	user.Room = target

	out := Switch{User: user, Snapshot: transfer.Snapshot, Rejoined: rejoined}
	if transfer.From != "" {
		out.Left = &Departure{Room: transfer.From, User: user.Name, Remaining: transfer.Remaining}
	}
	return out, nil
}

// DeleteRoom removes a room on behalf of its owner and returns every member
// to the lobby.
func (c *Coordinator) DeleteRoom(connID, name string) (Eviction, error) {
	user, ok := c.identities.Lookup(connID)
	if !ok {
		return Eviction{}, ErrNotInLobby
	}

	members, err := c.directory.DeleteRoom(name, user.Name)
	if err != nil {
		return Eviction{}, fmt.Errorf("delete %q: %w", name, err)
	}
	return Eviction{
		Room:    name,
		Owner:   user.Name,
		Members: members,
		Conns:   c.identities.ClearRoom(members...),
	}, nil
}

// Disconnect unregisters connID and performs the leave side of its current
// room, if any. It reports false for connections that never joined the lobby.
func (c *Coordinator) Disconnect(connID string) (models.User, *Departure, bool) {
	user, ok := c.identities.Unregister(connID)
	if !ok {
		return models.User{}, nil, false
	}
	if !user.InRoom() {
		return user, nil, true
	}
	remaining, left := c.directory.LeaveRoom(user.Room, user.Name)
	if !left {
		return user, nil, true
	}
	return user, &Departure{Room: user.Room, User: user.Name, Remaining: remaining}, true
}

// Lookup returns the user bound to connID.
func (c *Coordinator) Lookup(connID string) (models.User, bool) {
	return c.identities.Lookup(connID)
}
