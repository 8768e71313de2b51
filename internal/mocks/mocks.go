package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-coordinator/internal/models"
)

type RoomReaderMock struct {
	mock.Mock
}

func (m *RoomReaderMock) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	args := m.Called(ctx)
	var rooms []models.RoomSummary
	if val := args.Get(0); val != nil {
		rooms = val.([]models.RoomSummary)
	}
	return rooms, args.Error(1)
}

func (m *RoomReaderMock) RoomMembers(ctx context.Context, room string) ([]string, bool, error) {
	args := m.Called(ctx, room)
	var members []string
	if val := args.Get(0); val != nil {
		members = val.([]string)
	}
	return members, args.Bool(1), args.Error(2)
}

type AuditorMock struct {
	mock.Mock
}

func (m *AuditorMock) Emit(ctx context.Context, level, text, connID, username string) {
	m.Called(ctx, level, text, connID, username)
}
