package repositories

import "errors"

var (
	ErrNameInvalid       = errors.New("name is empty after sanitization")
	ErrNameTaken         = errors.New("name already taken")
	ErrAlreadyRegistered = errors.New("connection already registered")

	ErrInvalidName  = errors.New("room name is empty after sanitization")
	ErrRoomExists   = errors.New("room already exists")
	ErrRoomNotFound = errors.New("room not found")
	ErrNotOwner     = errors.New("requester does not own room")

	ErrMessageNotFound = errors.New("message not found")
	ErrForbidden       = errors.New("requester may not modify message")
	ErrDuplicateID     = errors.New("message id already exists")
)
