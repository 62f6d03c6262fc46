package gin

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/blevesearch/vellum"

	"github.com/devopscorner-otel/ClickHouse/compression"
	"github.com/devopscorner-otel/ClickHouse/storage"
)

// FormatVersion is the on-disk format version of an index store,
// recorded in the first byte of the segment-id file.
type FormatVersion uint8

// FormatV1 is the initial version; it supports adaptive postings
// compression.
const FormatV1 FormatVersion = 1

const currentFormatVersion = FormatV1

// The four file types of an index store.
const (
	segmentIDFileSuffix       = ".gin_sid"
	segmentMetadataFileSuffix = ".gin_seg"
	dictionaryFileSuffix      = ".gin_dict"
	postingsFileSuffix        = ".gin_post"
)

// FST blobs below 100 KiB are not worth compressing.
const fstSizeCompressionThreshold = 100 << 10

// segmentIDFileSize is version byte + fixed-width uint32 counter.
const segmentIDFileSize = 1 + 4

// Store holds one column's inverted index for a data part. It owns the
// current in-progress segment during construction and the loaded
// segment dictionaries during reads.
//
// Row-id and segment-id allocation are safe under concurrent writers.
// WriteSegment and Finalize must be driven by the single writer that
// owns the build.
type Store struct {
	name    string
	storage storage.Storage
	codec   compression.Codec
	logger  *slog.Logger

	segmentDigestionThresholdBytes uint64

	// mu guards the id counters and the current segment descriptor.
	mu                     sync.Mutex
	nextAvailableSegmentID uint32
	currentSegment         Segment

	currentSize     uint64
	currentPostings map[string]*PostingsBuilder
	finalized       bool

	// dictMu guards the lazily populated dictionary cache.
	dictMu       sync.RWMutex
	dictionaries map[uint32]*SegmentDictionary

	metadataStream storage.OutputStream
	dictStream     storage.OutputStream
	postingsStream storage.OutputStream
	metadataWriter *bufio.Writer
	dictWriter     *bufio.Writer
	postingsWriter *bufio.Writer
}

// NewStore opens or creates the index store for the given base name
// within the given storage.
//
// If the segment-id file exists, the persisted counter is read back;
// otherwise the store's four files are created and the counter is
// initialized to 1.
func NewStore(name string, st storage.Storage, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Codec == nil {
		opts.Codec = compression.Zstd()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Store{
		name:                           name,
		storage:                        st,
		codec:                          opts.Codec,
		logger:                         opts.Logger,
		segmentDigestionThresholdBytes: opts.SegmentDigestionThresholdBytes,
		currentPostings:                make(map[string]*PostingsBuilder),
		dictionaries:                   make(map[uint32]*SegmentDictionary),
	}

	if err := s.init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the store's base file name.
func (s *Store) Name() string { return s.name }

// Version returns the store's on-disk format version.
func (s *Store) Version() FormatVersion { return currentFormatVersion }

// Exists reports whether the store has been created on disk, by
// checking for the segment-id file.
func (s *Store) Exists() (bool, error) {
	return s.storage.Exists(s.name + segmentIDFileSuffix)
}

// CurrentSegmentID returns the id the open segment will be flushed as.
func (s *Store) CurrentSegmentID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentSegment.SegmentID
}

// NumSegments returns the number of flushed segments, derived from the
// persisted segment-id counter.
func (s *Store) NumSegments() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextAvailableSegmentID - 1
}

func (s *Store) init() error {
	sidName := s.name + segmentIDFileSuffix

	exists, err := s.storage.Exists(sidName)
	if err != nil {
		return fmt.Errorf("failed to check segment id file: %w", err)
	}

	if exists {
		data, err := s.storage.ReadFile(sidName)
		if err != nil {
			return fmt.Errorf("failed to read segment id file: %w", err)
		}
		if len(data) < segmentIDFileSize {
			return fmt.Errorf("segment id file truncated: %d bytes", len(data))
		}
		if FormatVersion(data[0]) != currentFormatVersion {
			return fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
		}
		s.nextAvailableSegmentID = binary.LittleEndian.Uint32(data[1:])

		// Continue offsets after already-flushed segments.
		postingsSize, err := s.fileSize(s.name + postingsFileSuffix)
		if err != nil {
			return err
		}
		dictSize, err := s.fileSize(s.name + dictionaryFileSuffix)
		if err != nil {
			return err
		}
		s.currentSegment = Segment{
			SegmentID:           s.nextAvailableSegmentID,
			NextRowID:           1,
			PostingsStartOffset: postingsSize,
			DictStartOffset:     dictSize,
		}
		return nil
	}

	s.nextAvailableSegmentID = 1
	s.currentSegment = Segment{SegmentID: 1, NextRowID: 1}

	if err := s.writeSegmentID(); err != nil {
		return err
	}
	// Touch the three data files so a finalized empty store is readable.
	for _, suffix := range []string{segmentMetadataFileSuffix, dictionaryFileSuffix, postingsFileSuffix} {
		w, err := s.storage.Create(s.name + suffix)
		if err != nil {
			return fmt.Errorf("failed to create index file: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close index file: %w", err)
		}
	}
	return nil
}

func (s *Store) fileSize(name string) (uint64, error) {
	exists, err := s.storage.Exists(name)
	if err != nil || !exists {
		return 0, err
	}
	r, err := s.storage.Open(name)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return uint64(r.Size()), nil
}

// writeSegmentID persists the next available segment id. Callers hold
// s.mu or have exclusive access during init.
func (s *Store) writeSegmentID() error {
	buf := make([]byte, segmentIDFileSize)
	buf[0] = byte(currentFormatVersion)
	binary.LittleEndian.PutUint32(buf[1:], s.nextAvailableSegmentID)

	if err := s.storage.WriteFile(s.name+segmentIDFileSuffix, buf); err != nil {
		return fmt.Errorf("failed to persist segment id: %w", err)
	}
	return nil
}

// GetNextRowIDRange atomically reserves count contiguous row ids from
// the current segment and returns the first one. Safe under concurrent
// writers.
func (s *Store) GetNextRowIDRange(count uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.currentSegment.NextRowID
	s.currentSegment.NextRowID += count
	return start
}

// GetNextSegmentID allocates and persists the next available segment
// id. Safe under concurrent writers.
func (s *Store) GetNextSegmentID() (uint32, error) {
	return s.GetNextSegmentIDRange(1)
}

// GetNextSegmentIDRange allocates n consecutive segment ids, persisting
// the counter once. Batching amortizes the persisted-counter update
// under contention.
func (s *Store) GetNextSegmentIDRange(n uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextAvailableSegmentID
	s.nextAvailableSegmentID += n
	if err := s.writeSegmentID(); err != nil {
		s.nextAvailableSegmentID = id
		return 0, err
	}
	return id, nil
}

// NeedToWriteCurrentSegment reports whether the digested text size has
// reached the segment digestion threshold.
func (s *Store) NeedToWriteCurrentSegment() bool {
	return s.segmentDigestionThresholdBytes != UnlimitedSegmentDigestionThreshold &&
		s.currentSize >= s.segmentDigestionThresholdBytes
}

// IncrementCurrentSizeBy accumulates the size of text digested since
// the last flush. Called by the tokenizer as it feeds terms in.
func (s *Store) IncrementCurrentSizeBy(n uint64) {
	s.currentSize += n
}

// GetPostingsListBuilder returns the in-progress term to builder map of
// the current segment.
func (s *Store) GetPostingsListBuilder() map[string]*PostingsBuilder {
	return s.currentPostings
}

// SetPostingsBuilder sets the postings builder for the given term.
func (s *Store) SetPostingsBuilder(term string, builder *PostingsBuilder) {
	s.currentPostings[term] = builder
}

func (s *Store) initFileStreams() error {
	metadataStream, err := s.storage.Create(s.name + segmentMetadataFileSuffix)
	if err != nil {
		return fmt.Errorf("failed to open segment metadata stream: %w", err)
	}
	dictStream, err := s.storage.Create(s.name + dictionaryFileSuffix)
	if err != nil {
		_ = metadataStream.Close()
		return fmt.Errorf("failed to open dictionary stream: %w", err)
	}
	postingsStream, err := s.storage.Create(s.name + postingsFileSuffix)
	if err != nil {
		_ = metadataStream.Close()
		_ = dictStream.Close()
		return fmt.Errorf("failed to open postings stream: %w", err)
	}

	s.metadataStream = metadataStream
	s.dictStream = dictStream
	s.postingsStream = postingsStream
	s.metadataWriter = bufio.NewWriter(metadataStream)
	s.dictWriter = bufio.NewWriter(dictStream)
	s.postingsWriter = bufio.NewWriter(postingsStream)
	return nil
}

// WriteSegment flushes the current segment: postings lists to the
// postings file, the term dictionary FST to the dictionary file, and
// the segment descriptor to the metadata file. The three writes form
// one logical unit: any failure leaves the segment unflushed.
//
// Afterwards the store starts a new segment; row ids continue where the
// flushed segment left off.
func (s *Store) WriteSegment() error {
	if s.finalized {
		return ErrStoreFinalized
	}
	if len(s.currentPostings) == 0 {
		return nil
	}

	if s.metadataWriter == nil {
		if err := s.initFileStreams(); err != nil {
			return err
		}
	}

	segmentID, err := s.GetNextSegmentID()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.currentSegment.SegmentID = segmentID
	descriptor := s.currentSegment
	s.mu.Unlock()

	// The FST builder requires terms in sorted order.
	terms := make([]string, 0, len(s.currentPostings))
	for term := range s.currentPostings {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	var postingsWritten uint64
	termOffsets := make([]uint64, len(terms))
	for i, term := range terms {
		termOffsets[i] = postingsWritten
		n, err := s.currentPostings[term].Serialize(s.postingsWriter)
		if err != nil {
			return fmt.Errorf("failed to write postings for segment %d: %w", segmentID, err)
		}
		postingsWritten += n
	}

	var fstBuf bytes.Buffer
	fstBuilder, err := vellum.New(&fstBuf, nil)
	if err != nil {
		return fmt.Errorf("failed to create dictionary builder: %w", err)
	}
	for i, term := range terms {
		if err := fstBuilder.Insert([]byte(term), termOffsets[i]); err != nil {
			return fmt.Errorf("failed to add term to dictionary: %w", err)
		}
	}
	if err := fstBuilder.Close(); err != nil {
		return fmt.Errorf("failed to build dictionary: %w", err)
	}

	blob := fstBuf.Bytes()
	flags := byte(0)
	stored := blob
	if len(blob) > fstSizeCompressionThreshold {
		compressed, err := s.codec.Compress(blob)
		switch {
		case errors.Is(err, compression.ErrIncompressible):
			// Keep the raw blob.
		case err != nil:
			return fmt.Errorf("failed to compress dictionary for segment %d: %w", segmentID, err)
		case len(compressed) < len(blob):
			flags = dictEntryCompressed
			stored = compressed
		}
	}

	dictWritten, err := writeDictEntry(s.dictWriter, flags, len(blob), stored)
	if err != nil {
		return fmt.Errorf("failed to write dictionary for segment %d: %w", segmentID, err)
	}

	var record [segmentRecordSize]byte
	descriptor.encode(record[:])
	if _, err := s.metadataWriter.Write(record[:]); err != nil {
		return fmt.Errorf("failed to write segment descriptor %d: %w", segmentID, err)
	}

	if err := s.flushFileStreams(); err != nil {
		return fmt.Errorf("failed to flush segment %d: %w", segmentID, err)
	}

	s.logger.Debug("flushed index segment",
		"store", s.name,
		"segment", segmentID,
		"terms", len(terms),
		"postings_bytes", postingsWritten,
		"dict_bytes", dictWritten,
	)

	s.mu.Lock()
	s.currentSegment = Segment{
		SegmentID:           s.nextAvailableSegmentID,
		NextRowID:           descriptor.NextRowID,
		PostingsStartOffset: descriptor.PostingsStartOffset + postingsWritten,
		DictStartOffset:     descriptor.DictStartOffset + dictWritten,
	}
	s.mu.Unlock()
	s.currentPostings = make(map[string]*PostingsBuilder)
	s.currentSize = 0
	return nil
}

func (s *Store) flushFileStreams() error {
	for _, w := range []*bufio.Writer{s.postingsWriter, s.dictWriter, s.metadataWriter} {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	for _, f := range []storage.OutputStream{s.postingsStream, s.dictStream, s.metadataStream} {
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}

// Finalize flushes any remaining non-empty segment and closes the
// output streams, making the store durable and queryable. It must be
// called exactly once at the end of a successful build.
func (s *Store) Finalize() error {
	if s.finalized {
		return ErrStoreFinalized
	}

	if len(s.currentPostings) > 0 {
		if err := s.WriteSegment(); err != nil {
			return err
		}
	}
	if err := s.closeFileStreams(); err != nil {
		return err
	}
	s.finalized = true

	s.logger.Debug("finalized index store", "store", s.name, "segments", s.NumSegments())
	return nil
}

func (s *Store) closeFileStreams() error {
	for _, f := range []storage.OutputStream{s.postingsStream, s.dictStream, s.metadataStream} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close index stream: %w", err)
		}
	}
	s.postingsStream, s.dictStream, s.metadataStream = nil, nil, nil
	s.postingsWriter, s.dictWriter, s.metadataWriter = nil, nil, nil
	return nil
}

// Cancel discards in-progress state and releases resources without
// persisting a consistent file set. It is the cleanup path for aborted
// builds and never fails.
func (s *Store) Cancel() {
	for _, f := range []storage.OutputStream{s.postingsStream, s.dictStream, s.metadataStream} {
		if f != nil {
			_ = f.Close()
		}
	}
	s.postingsStream, s.dictStream, s.metadataStream = nil, nil, nil
	s.postingsWriter, s.dictWriter, s.metadataWriter = nil, nil, nil
	s.currentPostings = make(map[string]*PostingsBuilder)
	s.currentSize = 0
	s.finalized = true
}

// dictionary returns the cached dictionary for the given segment, if
// the segment descriptors have been read.
func (s *Store) dictionary(segmentID uint32) (*SegmentDictionary, bool) {
	s.dictMu.RLock()
	defer s.dictMu.RUnlock()
	d, ok := s.dictionaries[segmentID]
	return d, ok
}
