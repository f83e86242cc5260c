package session

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfig is returned by Start when required fields are missing.
	ErrInvalidConfig = errors.New("session: invalid config")

	// ErrNotIdle is returned by Start when a session is already running or
	// has not been restarted yet.
	ErrNotIdle = errors.New("session: not idle")

	// ErrNotActive is returned by SendText outside the active state.
	ErrNotActive = errors.New("session: not active")

	// ErrNotFinished is returned by Restart before the session reached a
	// terminal state.
	ErrNotFinished = errors.New("session: not finished")

	// ErrNoSummariser is reported when no summary backend is configured.
	ErrNoSummariser = errors.New("session: no summariser configured")

	// ErrEmptyTranscript is reported when the session ended without any
	// transcript to summarise.
	ErrEmptyTranscript = errors.New("session: empty transcript")
)

// SetupError is returned by Start when the live session could not be
// established. All partially acquired resources have been released and the
// controller is back in [StateIdle].
type SetupError struct {
	// Msg is a short message safe to show to the user.
	Msg string

	// Err is the underlying cause.
	Err error
}

func (e *SetupError) Error() string { return "session: setup: " + e.Err.Error() }

func (e *SetupError) Unwrap() error { return e.Err }

// UserMessage maps err to a short human-readable message. Raw transport errors
// are never exposed.
func UserMessage(err error) string {
	var setup *SetupError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &setup):
		return setup.Msg
	case errors.Is(err, ErrInvalidConfig):
		return "Please provide both a role and a topic."
	case errors.Is(err, ErrNotIdle):
		return "A session is already in progress."
	case errors.Is(err, ErrNotActive):
		return "There is no active session."
	case errors.Is(err, ErrNotFinished):
		return "The current session has not finished yet."
	case errors.Is(err, ErrNoSummariser):
		return "Feedback is not available: no summary model is configured."
	case errors.Is(err, ErrEmptyTranscript):
		return "Nothing was said, so there is no feedback to give."
	case errors.Is(err, context.DeadlineExceeded):
		return "The feedback took too long to generate. Please try again."
	case errors.Is(err, errMalformedReport):
		return "The feedback could not be read. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
