package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-coordinator/internal/models"
)

// RoomReader answers directory queries consistently with the event loop.
type RoomReader interface {
	ListRooms(ctx context.Context) ([]models.RoomSummary, error)
	RoomMembers(ctx context.Context, room string) ([]string, bool, error)
}

// RoomHandler exposes read-only views of the room directory.
type RoomHandler struct {
	rooms RoomReader
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(rooms RoomReader) *RoomHandler {
	return &RoomHandler{rooms: rooms}
}

// ListRooms returns every room with its owner, in creation order.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListRooms(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// RoomUsers returns the current members of one room.
func (h *RoomHandler) RoomUsers(c *gin.Context) {
	room := c.Param("room")
	members, found, err := h.rooms.RoomMembers(c.Request.Context(), room)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to load room"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room, "users": members})
}
