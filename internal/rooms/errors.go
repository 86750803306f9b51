package rooms

import "errors"

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrWrongPassword    = errors.New("wrong password")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password longer than 72 bytes")
	ErrMissingRoomID    = errors.New("room id is required")
	ErrCorruptRoom      = errors.New("room metadata is missing or unreadable")
	ErrLocked           = errors.New("too many failed attempts")
	ErrIDSpaceExhausted = errors.New("could not allocate a free room id")
)
