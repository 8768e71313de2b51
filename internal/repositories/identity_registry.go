package repositories

import (
	"fmt"

	"github.com/samber/lo"

	"chat-coordinator/internal/models"
	"chat-coordinator/internal/sanitize"
)

// IdentityRegistry maps live connections to users and keeps the set of
// display names in use. It is not safe for concurrent use; callers serialize
// access through the dispatcher loop.
type IdentityRegistry struct {
	byConn map[string]*models.User
	byName map[string]string
}

// NewIdentityRegistry constructs an empty registry.
func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		byConn: make(map[string]*models.User),
		byName: make(map[string]string),
	}
}

// RegisterUser binds connID to the sanitized name with no current room.
func (r *IdentityRegistry) RegisterUser(connID, rawName string) (models.User, error) {
	name := sanitize.Text(rawName)
	if name == "" {
		return models.User{}, ErrNameInvalid
	}
	if existing, ok := r.byConn[connID]; ok {
		return models.User{}, fmt.Errorf("%w as %q", ErrAlreadyRegistered, existing.Name)
	}
	if _, ok := r.byName[name]; ok {
		return models.User{}, ErrNameTaken
	}

	user := &models.User{ConnID: connID, Name: name}
	r.byConn[connID] = user
	r.byName[name] = connID
	return *user, nil
}

// IsTaken reports whether the sanitized form of rawName is held by a live connection.
func (r *IdentityRegistry) IsTaken(rawName string) bool {
	_, ok := r.byName[sanitize.Text(rawName)]
	return ok
}

// Lookup returns the user bound to connID.
func (r *IdentityRegistry) Lookup(connID string) (models.User, bool) {
	user, ok := r.byConn[connID]
	if !ok {
		return models.User{}, false
	}
	return *user, true
}

// ConnOf returns the connection holding name.
func (r *IdentityRegistry) ConnOf(name string) (string, bool) {
	connID, ok := r.byName[name]
	return connID, ok
}

// Unregister removes the binding and frees the name. The removed user is
// returned so departure side effects run once.
func (r *IdentityRegistry) Unregister(connID string) (models.User, bool) {
	user, ok := r.byConn[connID]
	if !ok {
		return models.User{}, false
	}
	delete(r.byConn, connID)
	delete(r.byName, user.Name)
	return *user, true
}

// SetRoom records the current room of connID. An empty room means the lobby.
func (r *IdentityRegistry) SetRoom(connID, room string) bool {
	user, ok := r.byConn[connID]
	if !ok {
		return false
	}
	user.Room = room
	return true
}

// ClearRoom moves the named users back to the lobby and returns their connections.
func (r *IdentityRegistry) ClearRoom(names ...string) []string {
	conns := make([]string, 0, len(names))
	for _, name := range names {
		connID, ok := r.byName[name]
		if !ok {
			continue
		}
		r.byConn[connID].Room = ""
		conns = append(conns, connID)
	}
	return conns
}

// Users returns a copy of every registered user.
func (r *IdentityRegistry) Users() []models.User {
	return lo.Map(lo.Values(r.byConn), func(u *models.User, _ int) models.User {
		return *u
	})
}

// Count returns the number of registered users.
func (r *IdentityRegistry) Count() int {
	return len(r.byName)
}
