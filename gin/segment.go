package gin

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/blevesearch/vellum"
)

// segmentRecordSize is the fixed size of one Segment descriptor in the
// .gin_seg file: two uint32 ids followed by two uint64 offsets.
const segmentRecordSize = 4 + 4 + 8 + 8

// Segment describes one immutable slice of the index.
type Segment struct {
	// SegmentID is allocated from the persisted counter in .gin_sid.
	SegmentID uint32

	// NextRowID is the first row id not yet assigned in this segment.
	// Segments partition the row-id space contiguously; row ids are
	// never reused.
	NextRowID uint32

	// PostingsStartOffset is the .gin_post offset of this segment's
	// postings lists.
	PostingsStartOffset uint64

	// DictStartOffset is the .gin_dict offset of this segment's
	// dictionary.
	DictStartOffset uint64
}

func (s Segment) encode(buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], s.SegmentID)
	binary.LittleEndian.PutUint32(buf[4:], s.NextRowID)
	binary.LittleEndian.PutUint64(buf[8:], s.PostingsStartOffset)
	binary.LittleEndian.PutUint64(buf[16:], s.DictStartOffset)
}

func decodeSegment(buf []byte) Segment {
	return Segment{
		SegmentID:           binary.LittleEndian.Uint32(buf[0:]),
		NextRowID:           binary.LittleEndian.Uint32(buf[4:]),
		PostingsStartOffset: binary.LittleEndian.Uint64(buf[8:]),
		DictStartOffset:     binary.LittleEndian.Uint64(buf[16:]),
	}
}

// SegmentDictionary is one segment's term dictionary: a finite state
// transducer mapping each term to the offset of its postings list,
// relative to the segment's postings start offset. The FST itself is
// loaded lazily from the .gin_dict file.
type SegmentDictionary struct {
	PostingsStartOffset uint64
	DictStartOffset     uint64

	offsets *vellum.FST
}

// Dictionary entry flags in the .gin_dict file.
const dictEntryCompressed byte = 0x1

// dictEntryHeaderSize is flags byte + uncompressed size + stored size.
const dictEntryHeaderSize = 1 + 4 + 4

func writeDictEntry(w io.Writer, flags byte, uncompressedSize int, blob []byte) (uint64, error) {
	header := make([]byte, dictEntryHeaderSize)
	header[0] = flags
	binary.LittleEndian.PutUint32(header[1:], uint32(uncompressedSize))
	binary.LittleEndian.PutUint32(header[5:], uint32(len(blob)))

	written := 0
	n, err := w.Write(header)
	written += n
	if err != nil {
		return uint64(written), fmt.Errorf("failed to write dictionary header: %w", err)
	}
	n, err = w.Write(blob)
	written += n
	if err != nil {
		return uint64(written), fmt.Errorf("failed to write dictionary blob: %w", err)
	}
	return uint64(written), nil
}

func readDictEntry(r io.Reader) (flags byte, uncompressedSize uint32, blob []byte, err error) {
	header := make([]byte, dictEntryHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read dictionary header: %w", err)
	}

	flags = header[0]
	uncompressedSize = binary.LittleEndian.Uint32(header[1:])
	storedSize := binary.LittleEndian.Uint32(header[5:])

	blob = make([]byte, storedSize)
	if _, err := io.ReadFull(r, blob); err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read dictionary blob: %w", err)
	}
	return flags, uncompressedSize, blob, nil
}
