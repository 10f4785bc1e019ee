package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyTimeouts signals the owner must abort: consecutive timeouts reached the cap.
	ErrTooManyTimeouts = errors.New("too many consecutive timeouts")
	// ErrCallerTripped is returned by calls made after ErrTooManyTimeouts was signalled.
	ErrCallerTripped = errors.New("caller aborted after consecutive timeouts")
	// ErrUnauthorized marks credential failures, which are never retried.
	ErrUnauthorized = errors.New("decision endpoint rejected credentials")
	// ErrNoToolCall is a parse failure: the response carried no tool call.
	ErrNoToolCall = errors.New("response contains no tool call")
	// ErrMalformedArguments is a parse failure: tool arguments are not a JSON object.
	ErrMalformedArguments = errors.New("tool call arguments are not a JSON object")
	// ErrContentFiltered is a transport-class failure raised when the endpoint filtered the output.
	ErrContentFiltered = errors.New("response blocked by content filter")
)

// Kind classifies a failed call.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindTransport Kind = "transport"
	KindParse     Kind = "parse"
)

// CallError is returned when a call fails after its retry budget.
type CallError struct {
	Kind     Kind
	Attempts int
	Err      error
	// Response is set for parse failures.
	Response *Response
}

func (e *CallError) Error() string {
	return fmt.Sprintf("decision call failed (%s after %d attempts): %v", e.Kind, e.Attempts, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// IsParseError reports whether err is a malformed-output failure.
func IsParseError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce) && ce.Kind == KindParse
}
