// Package gin implements the on-disk generalized inverted index (text
// index) for one column of a data part. An index store is made up of one
// or more immutable segments, each covering a contiguous row-id range.
//
// A store owns four files, sharing a base name:
//
//  1. Segment ID file (.gin_sid): one version byte followed by the next
//     available segment id, a persisted counter.
//  2. Segment metadata file (.gin_seg): a dense array of fixed-size
//     segment descriptors. postings_start_offset and dict_start_offset
//     locate the segment's data in the .gin_post and .gin_dict files.
//  3. Dictionary file (.gin_dict): per segment, a framed FST blob
//     mapping term to postings offset. Blobs over 100 KiB are stored
//     compressed.
//  4. Postings file (.gin_post): serialized postings lists, addressed
//     by postings_start_offset plus the FST-resolved offset.
//
// During a search, the segment descriptors are read from .gin_seg, each
// segment's FST is loaded from .gin_dict, the term is resolved to an
// offset, and the postings list is decoded from .gin_post.
package gin
