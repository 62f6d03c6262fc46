package gin

import (
	"fmt"
	"io"

	"github.com/blevesearch/vellum"

	"github.com/devopscorner-otel/ClickHouse/storage"
)

// StoreDeserializer reads an index store's files: segment descriptors,
// dictionaries and postings lists.
//
// Loaded dictionaries are cached on the store, so concurrent queries
// against the same store share one FST per segment.
type StoreDeserializer struct {
	store *Store

	metadataFile storage.InputStream
	dictFile     storage.InputStream
	postingsFile storage.InputStream
}

// NewStoreDeserializer opens the store's files for reading.
func NewStoreDeserializer(store *Store) (*StoreDeserializer, error) {
	d := &StoreDeserializer{store: store}

	var err error
	if d.metadataFile, err = store.storage.Open(store.name + segmentMetadataFileSuffix); err != nil {
		return nil, fmt.Errorf("failed to open segment metadata file: %w", err)
	}
	if d.dictFile, err = store.storage.Open(store.name + dictionaryFileSuffix); err != nil {
		_ = d.metadataFile.Close()
		return nil, fmt.Errorf("failed to open dictionary file: %w", err)
	}
	if d.postingsFile, err = store.storage.Open(store.name + postingsFileSuffix); err != nil {
		_ = d.metadataFile.Close()
		_ = d.dictFile.Close()
		return nil, fmt.Errorf("failed to open postings file: %w", err)
	}
	return d, nil
}

// Close releases the input streams. Cached dictionaries stay on the
// store.
func (d *StoreDeserializer) Close() error {
	var firstErr error
	for _, f := range []storage.InputStream{d.metadataFile, d.dictFile, d.postingsFile} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadSegments reads the full array of segment descriptors into the
// store's dictionary cache. Memory use is bounded by segment count, not
// index size.
func (d *StoreDeserializer) ReadSegments() error {
	size := d.metadataFile.Size()
	if size%segmentRecordSize != 0 {
		return fmt.Errorf("segment metadata file truncated: %d bytes", size)
	}

	numSegments := size / segmentRecordSize
	if numSegments == 0 {
		return nil
	}

	buf := make([]byte, size)
	if _, err := d.metadataFile.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("failed to read segment descriptors: %w", err)
	}

	d.store.dictMu.Lock()
	defer d.store.dictMu.Unlock()
	for i := int64(0); i < numSegments; i++ {
		segment := decodeSegment(buf[i*segmentRecordSize:])
		if _, ok := d.store.dictionaries[segment.SegmentID]; ok {
			continue
		}
		d.store.dictionaries[segment.SegmentID] = &SegmentDictionary{
			PostingsStartOffset: segment.PostingsStartOffset,
			DictStartOffset:     segment.DictStartOffset,
		}
	}
	return nil
}

// ReadSegmentDictionaries loads the FST of every known segment.
func (d *StoreDeserializer) ReadSegmentDictionaries() error {
	for _, segmentID := range d.segmentIDs() {
		if err := d.ReadSegmentDictionary(segmentID); err != nil {
			return err
		}
	}
	return nil
}

// ReadSegmentDictionary loads the FST for one segment, decompressing
// the blob when the entry flags say so. Loading is idempotent and safe
// under concurrent readers.
func (d *StoreDeserializer) ReadSegmentDictionary(segmentID uint32) error {
	dict, ok := d.store.dictionary(segmentID)
	if !ok {
		return fmt.Errorf("%w: segment %d", ErrSegmentNotLoaded, segmentID)
	}
	if d.loadedFST(dict) != nil {
		return nil
	}

	entry := io.NewSectionReader(d.dictFile, int64(dict.DictStartOffset), d.dictFile.Size()-int64(dict.DictStartOffset))
	flags, uncompressedSize, blob, err := readDictEntry(entry)
	if err != nil {
		return fmt.Errorf("failed to read dictionary for segment %d: %w", segmentID, err)
	}

	if flags&dictEntryCompressed != 0 {
		blob, err = d.store.codec.Decompress(blob, int(uncompressedSize))
		if err != nil {
			return fmt.Errorf("failed to decompress dictionary for segment %d: %w", segmentID, err)
		}
	} else if uint32(len(blob)) != uncompressedSize {
		return fmt.Errorf("dictionary size mismatch for segment %d: expected %d, got %d", segmentID, uncompressedSize, len(blob))
	}

	fst, err := vellum.Load(blob)
	if err != nil {
		return fmt.Errorf("failed to parse dictionary for segment %d: %w", segmentID, err)
	}

	// Insert-if-absent: a racing reader's FST is equivalent, first one
	// in wins.
	d.store.dictMu.Lock()
	if dict.offsets == nil {
		dict.offsets = fst
	}
	d.store.dictMu.Unlock()
	return nil
}

// ReadSegmentedPostingsLists resolves term in every loaded segment
// dictionary and decodes the matching postings lists. A miss in a
// segment means the term has no postings there; it is not an error.
func (d *StoreDeserializer) ReadSegmentedPostingsLists(term string) (SegmentedPostingsContainer, error) {
	container := make(SegmentedPostingsContainer)

	for _, segmentID := range d.segmentIDs() {
		dict, ok := d.store.dictionary(segmentID)
		if !ok {
			continue
		}
		if d.loadedFST(dict) == nil {
			if err := d.ReadSegmentDictionary(segmentID); err != nil {
				return nil, err
			}
		}

		offset, ok, err := d.lookup(dict, term)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve term in segment %d: %w", segmentID, err)
		}
		if !ok {
			continue
		}

		start := int64(dict.PostingsStartOffset + offset)
		postings, err := DeserializePostings(io.NewSectionReader(d.postingsFile, start, d.postingsFile.Size()-start))
		if err != nil {
			return nil, fmt.Errorf("failed to read postings in segment %d: %w", segmentID, err)
		}
		container[segmentID] = postings
	}
	return container, nil
}

// CreatePostingsCacheFromTerms resolves every term once and memoizes
// the segment-keyed result. Called once per tokenized query string.
func (d *StoreDeserializer) CreatePostingsCacheFromTerms(terms []string) (PostingsCache, error) {
	cache := make(PostingsCache, len(terms))
	for _, term := range terms {
		if _, ok := cache[term]; ok {
			continue
		}
		container, err := d.ReadSegmentedPostingsLists(term)
		if err != nil {
			return nil, err
		}
		cache[term] = container
	}
	return cache, nil
}

func (d *StoreDeserializer) segmentIDs() []uint32 {
	d.store.dictMu.RLock()
	defer d.store.dictMu.RUnlock()

	ids := make([]uint32, 0, len(d.store.dictionaries))
	for id := range d.store.dictionaries {
		ids = append(ids, id)
	}
	return ids
}

func (d *StoreDeserializer) loadedFST(dict *SegmentDictionary) *vellum.FST {
	d.store.dictMu.RLock()
	defer d.store.dictMu.RUnlock()
	return dict.offsets
}

func (d *StoreDeserializer) lookup(dict *SegmentDictionary, term string) (uint64, bool, error) {
	fst := d.loadedFST(dict)
	if fst == nil {
		return 0, false, ErrSegmentNotLoaded
	}
	offset, ok, err := fst.Get([]byte(term))
	if err != nil {
		return 0, false, err
	}
	return offset, ok, nil
}
