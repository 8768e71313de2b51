package models

import "time"

// Room is a named channel owned by the user who created it.
type Room struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// RoomSummary is the directory entry broadcast in "room list".
type RoomSummary struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

// RoomSnapshot is delivered privately to a user joining a room.
type RoomSnapshot struct {
	Room    string    `json:"room"`
	Members []string  `json:"members"`
	History []Message `json:"history"`
}
