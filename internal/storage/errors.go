package storage

import "errors"

var (
	ErrChatNotFound = errors.New("chat not found")
	ErrChatExists   = errors.New("chat already exists")
	ErrInvalidData  = errors.New("invalid data")
)
