package score

import "errors"

var (
	// ErrLoad is returned when the MIDI file or the instrument bank cannot be
	// loaded, or when an engine cannot be created for a channel. No partial
	// Score is returned alongside it.
	ErrLoad = errors.New("failed to load score")

	// ErrNotFound is returned for a channel index that never appeared in the
	// file.
	ErrNotFound = errors.New("channel not found")

	// ErrUnsupportedOperation is returned by Clone and by seeks relative to
	// the end of a stream.
	ErrUnsupportedOperation = errors.New("unsupported operation")

	// ErrClosed is returned by operations on a closed stream or score.
	ErrClosed = errors.New("stream closed")

	// ErrNegativePosition is returned by seeks to a position before the start.
	ErrNegativePosition = errors.New("negative stream position")

	// ErrUnreachableEventKind is the panic value raised when a stream meets an
	// event kind it cannot apply. Ingestion filters such events, so this only
	// fires on a corrupted timeline.
	ErrUnreachableEventKind = errors.New("unreachable event kind")
)
