package models

// User is one participant bound to exactly one live connection.
type User struct {
	ConnID string `json:"-"`
	Name   string `json:"username"`
	Room   string `json:"room,omitempty"`
}

// InRoom reports whether the user currently occupies a room.
func (u User) InRoom() bool {
	return u.Room != ""
}
