package milter

import "errors"

// Errors of the codec layer. They are wrapped with context (command name, byte dump) so check them with [errors.Is].
var (
	ErrTooShort             = errors.New("milter: too short")
	ErrTooLong              = errors.New("milter: too long")
	ErrMissingNul           = errors.New("milter: missing null-byte")
	ErrUnexpectedEnd        = errors.New("milter: unexpected end of input")
	ErrUnexpectedCommand    = errors.New("milter: unexpected command")
	ErrUnexpectedMacroStage = errors.New("milter: unexpected macro stage")
	ErrUnknownMacroContext  = errors.New("milter: unknown macro context")
	ErrUnknownSocketFamily  = errors.New("milter: unknown socket family")
	ErrInvalidFormat        = errors.New("milter: invalid format")
)

// Errors of the agent layer.
var (
	// ErrIO wraps errors of the underlying byte channel.
	ErrIO = errors.New("milter: i/o error")
	// ErrNotReady is returned when a writer or reader is used before it was started.
	ErrNotReady = errors.New("milter: not ready")
	// ErrNoChannel is returned when there is no channel (anymore) to write to.
	ErrNoChannel = errors.New("milter: no channel")
	// ErrNoEventLoop is returned when an agent gets started without an event loop.
	ErrNoEventLoop = errors.New("milter: no event loop")
	// ErrDecode is the agent level classification of every decoder failure. The original decoder error is wrapped too.
	ErrDecode = errors.New("milter: decode error")
)
