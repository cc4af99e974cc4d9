package audio

import "errors"

var (
	// ErrNotInitialized is returned when an operation that requires a known
	// [Format] is invoked before the source was initialized.
	ErrNotInitialized = errors.New("audio: source is not initialized")

	// ErrAlreadyFlushed is returned when frames are appended after Flush.
	ErrAlreadyFlushed = errors.New("audio: source is flushed and cannot accept new frames")

	// ErrDiscardedRange is returned when a read references frames that were
	// already discarded.
	ErrDiscardedRange = errors.New("audio: frames were discarded")

	// ErrInvalidRange is returned for non-positive or oversized discard counts,
	// negative frame indices and frames whose size does not match the format.
	ErrInvalidRange = errors.New("audio: invalid frame range")
)
