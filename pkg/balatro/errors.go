package balatro

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned for calls made after Close.
	ErrClosed = errors.New("balatro client closed")
	// ErrNoResult is returned when a response carries neither result nor error.
	ErrNoResult = errors.New("balatro response has no result")
)

// Error is a JSON-RPC error object returned by the game.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Name    string `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Name, e.Message)
}

// IsGameError reports whether err carries an error object from the game
// rather than a transport failure.
func IsGameError(err error) bool {
	var ge *Error
	return errors.As(err, &ge)
}
