package circle

import (
	"errors"

	"go.trai.ch/zerr"
)

var (
	// ErrNotFound is returned when a circle id is not in the directory.
	ErrNotFound = zerr.New("circle not found")

	// ErrInvalidFormat is returned for malformed custom ids, emoji, colors or channel ids.
	ErrInvalidFormat = zerr.New("invalid format")

	// ErrValidation is returned when an emoji is not a pictographic symbol.
	ErrValidation = zerr.New("validation failed")

	// ErrUpstream is returned when the persistence or chat platform call fails.
	ErrUpstream = zerr.New("upstream failure")
)

// upstreamError keeps both ErrUpstream and the transport cause in the chain.
type upstreamError struct {
	cause error
}

func (e *upstreamError) Error() string {
	return ErrUpstream.Error() + ": " + e.cause.Error()
}

func (e *upstreamError) Unwrap() []error {
	return []error{ErrUpstream, e.cause}
}

// Upstream marks err as an upstream failure of op. Errors already marked are
// only wrapped with op. Returns nil for a nil err.
func Upstream(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) {
		return zerr.Wrap(err, op)
	}
	return zerr.Wrap(&upstreamError{cause: err}, op)
}

// UserMessage turns an error into the short text shown to a member in an
// ephemeral reply.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "That circle no longer exists. Ask a moderator to repost the circle list."
	case errors.Is(err, ErrValidation):
		return "Invalid emoji: use a single emoji symbol."
	case errors.Is(err, ErrInvalidFormat):
		return "That request was malformed: " + err.Error()
	case errors.Is(err, ErrUpstream):
		return "Something went wrong talking to the server, please try again later."
	default:
		return "Unexpected error: " + err.Error()
	}
}
