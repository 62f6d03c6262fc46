package gin

import (
	"log/slog"

	"github.com/devopscorner-otel/ClickHouse/compression"
)

// UnlimitedSegmentDigestionThreshold disables size-based segment
// flushing; the store writes a single segment at finalize.
const UnlimitedSegmentDigestionThreshold uint64 = 0

// Options contains configuration for an index store.
type Options struct {
	// SegmentDigestionThresholdBytes bounds how much text is digested
	// into the current segment before it is flushed. 0 means unlimited.
	SegmentDigestionThresholdBytes uint64

	// Codec compresses large dictionary blobs. Defaults to zstd.
	Codec compression.Codec

	// Logger receives structured build/read events. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// DefaultOptions are the options used when none are supplied.
var DefaultOptions = Options{
	SegmentDigestionThresholdBytes: UnlimitedSegmentDigestionThreshold,
}

// WithSegmentDigestionThreshold sets the flush threshold in bytes.
func WithSegmentDigestionThreshold(threshold uint64) func(o *Options) {
	return func(o *Options) {
		o.SegmentDigestionThresholdBytes = threshold
	}
}

// WithCodec sets the dictionary compression codec.
func WithCodec(codec compression.Codec) func(o *Options) {
	return func(o *Options) {
		o.Codec = codec
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) func(o *Options) {
	return func(o *Options) {
		o.Logger = logger
	}
}
