package channel

import "fmt"

// Code is a stable, programmatic identifier for a channel-layer failure.
type Code string

const (
	CodeSpawnFailed    Code = "spawn_failed"
	CodeChannelClosed  Code = "channel_closed"
	CodeMessageTooLong Code = "message_too_long"
	CodePayloadTooLong Code = "payload_too_long"
	CodeTimedOut       Code = "timed_out"
	CodeResponse       Code = "response"
	CodeFailedToParse  Code = "failed_to_parse"
	CodeBadPpid        Code = "bad_ppid"
)

// Error is a structured channel-layer error.
type Error struct {
	Code   Code
	Reason string // Set only for CodeResponse: the worker's verbatim reason string.
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Code == CodeResponse:
		return fmt.Sprintf("channel: response error: %s", e.Reason)
	case e.Err != nil:
		return fmt.Sprintf("channel: %s: %v", e.Code, e.Err)
	default:
		return fmt.Sprintf("channel: %s", e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Code, so callers can
// use errors.Is(err, ErrChannelClosed) against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel errors, matched with errors.Is by Code alone; their Err/Reason
// fields are empty and exist only as comparison targets.
var (
	ErrSpawnFailed    = &Error{Code: CodeSpawnFailed}
	ErrChannelClosed  = &Error{Code: CodeChannelClosed}
	ErrMessageTooLong = &Error{Code: CodeMessageTooLong}
	ErrPayloadTooLong = &Error{Code: CodePayloadTooLong}
	ErrTimedOut       = &Error{Code: CodeTimedOut}
	ErrBadPpid        = &Error{Code: CodeBadPpid}
)

// ResponseError reports the worker's own rejection of a request.
func ResponseError(reason string) *Error {
	return &Error{Code: CodeResponse, Reason: reason}
}

// ParseError reports that a response matched but its data didn't fit the
// caller's expected schema.
func ParseError(cause error) *Error {
	return &Error{Code: CodeFailedToParse, Err: cause}
}
