package gin

import (
	"encoding/binary"
	"fmt"
	"io"
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// Row-id sets below this cardinality are serialized as a raw sorted
	// array; anything smaller than this is cheaper than any bitmap form.
	minRowIDsForRoaringEncoding = 16

	// Roaring sets above this cardinality are candidates for run-length
	// container compression; the smaller serialization wins.
	runCompressionCardinalityThreshold = 5000
)

// Postings list encoding tags. The on-disk format is one tag byte
// followed by the variant payload.
const (
	// postingsRoaringTag marks an uncompressed roaring bitmap payload.
	postingsRoaringTag byte = 0x0
	// postingsArrayTag marks a sorted array of raw row ids.
	postingsArrayTag byte = 0x1
	// postingsRunTag marks a run-optimized roaring bitmap payload.
	postingsRunTag byte = 0x2
)

// PostingsList is the immutable, decoded set of row ids for one term
// within one segment.
type PostingsList struct {
	bm *roaring.Bitmap
}

func newPostingsList(bm *roaring.Bitmap) *PostingsList {
	return &PostingsList{bm: bm}
}

// Contains checks whether rowID is in the postings list.
func (p *PostingsList) Contains(rowID uint32) bool {
	return p.bm.Contains(rowID)
}

// Cardinality returns the number of row ids in the postings list.
func (p *PostingsList) Cardinality() uint64 {
	return p.bm.GetCardinality()
}

// ToArray returns the row ids in ascending order.
func (p *PostingsList) ToArray() []uint32 {
	return p.bm.ToArray()
}

// Iterator returns an iterator over the row ids in ascending order.
func (p *PostingsList) Iterator() iter.Seq[uint32] {
	return func(yield func(uint32) bool) {
		it := p.bm.Iterator()
		for it.HasNext() {
			if !yield(it.Next()) {
				return
			}
		}
	}
}

// PostingsBuilder accumulates the row-id set for one term while its
// segment is open. It is discarded once serialized into the segment's
// postings file.
type PostingsBuilder struct {
	rowids *roaring.Bitmap
}

// NewPostingsBuilder creates an empty postings builder.
func NewPostingsBuilder() *PostingsBuilder {
	return &PostingsBuilder{rowids: roaring.New()}
}

// Contains checks whether rowID has already been added.
func (b *PostingsBuilder) Contains(rowID uint32) bool {
	return b.rowids.Contains(rowID)
}

// Add inserts rowID into the builder. Adding an existing row id is a
// no-op.
func (b *PostingsBuilder) Add(rowID uint32) {
	b.rowids.Add(rowID)
}

// Serialize writes the accumulated row-id set to w and returns the
// number of bytes written.
//
// Encoding policy, in order of precedence: small sets become a raw
// sorted array; larger sets become a roaring bitmap, run-compressed
// when the set is big enough for run containers to pay off.
func (b *PostingsBuilder) Serialize(w io.Writer) (uint64, error) {
	card := b.rowids.GetCardinality()

	if card < minRowIDsForRoaringEncoding {
		buf := make([]byte, 1+4+4*card)
		buf[0] = postingsArrayTag
		binary.LittleEndian.PutUint32(buf[1:], uint32(card))
		for i, rowID := range b.rowids.ToArray() {
			binary.LittleEndian.PutUint32(buf[5+4*i:], rowID)
		}

		n, err := w.Write(buf)
		if err != nil {
			return uint64(n), fmt.Errorf("failed to write postings array: %w", err)
		}
		return uint64(n), nil
	}

	tag := postingsRoaringTag
	data, err := b.rowids.ToBytes()
	if err != nil {
		return 0, fmt.Errorf("failed to serialize roaring bitmap: %w", err)
	}

	if card > runCompressionCardinalityThreshold {
		optimized := b.rowids.Clone()
		optimized.RunOptimize()

		runData, err := optimized.ToBytes()
		if err != nil {
			return 0, fmt.Errorf("failed to serialize run-optimized bitmap: %w", err)
		}
		if len(runData) < len(data) {
			tag = postingsRunTag
			data = runData
		}
	}

	header := make([]byte, 5)
	header[0] = tag
	binary.LittleEndian.PutUint32(header[1:], uint32(len(data)))

	written := 0
	n, err := w.Write(header)
	written += n
	if err != nil {
		return uint64(written), fmt.Errorf("failed to write postings header: %w", err)
	}
	n, err = w.Write(data)
	written += n
	if err != nil {
		return uint64(written), fmt.Errorf("failed to write postings bitmap: %w", err)
	}
	return uint64(written), nil
}

// DeserializePostings reads one serialized postings list from r.
//
// It accepts any value produced by Serialize. An unrecognized tag is a
// hard decode failure, never an empty result.
func DeserializePostings(r io.Reader) (*PostingsList, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, fmt.Errorf("failed to read postings tag: %w", err)
	}

	switch tag[0] {
	case postingsArrayTag:
		var head [4]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return nil, fmt.Errorf("failed to read postings array length: %w", err)
		}
		card := binary.LittleEndian.Uint32(head[:])

		buf := make([]byte, 4*card)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read postings array: %w", err)
		}

		rowids := make([]uint32, card)
		for i := range rowids {
			rowids[i] = binary.LittleEndian.Uint32(buf[4*i:])
		}

		bm := roaring.New()
		bm.AddMany(rowids)
		return newPostingsList(bm), nil

	case postingsRoaringTag, postingsRunTag:
		var head [4]byte
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return nil, fmt.Errorf("failed to read postings bitmap size: %w", err)
		}
		size := binary.LittleEndian.Uint32(head[:])

		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("failed to read postings bitmap: %w", err)
		}

		bm := roaring.New()
		if err := bm.UnmarshalBinary(buf); err != nil {
			return nil, fmt.Errorf("failed to decode postings bitmap: %w", err)
		}
		return newPostingsList(bm), nil

	default:
		return nil, &UnknownPostingsFormatError{Tag: tag[0]}
	}
}
