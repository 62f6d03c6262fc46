package gin

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedVersion is returned when the segment-id file carries
	// a format version this build does not understand.
	ErrUnsupportedVersion = errors.New("unsupported gin index format version")

	// ErrStoreFinalized is returned when a write operation is attempted
	// on a store that has already been finalized.
	ErrStoreFinalized = errors.New("index store already finalized")

	// ErrSegmentNotLoaded is returned when a postings lookup runs before
	// the segment descriptors have been read.
	ErrSegmentNotLoaded = errors.New("segment metadata not loaded")
)

// UnknownPostingsFormatError indicates a postings list whose encoding
// tag is not recognized. It is a hard decode failure: substituting an
// empty result would produce false negatives in search.
type UnknownPostingsFormatError struct {
	Tag byte
}

func (e *UnknownPostingsFormatError) Error() string {
	return fmt.Sprintf("unknown postings list format tag: 0x%02x", e.Tag)
}
