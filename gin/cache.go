package gin

// SegmentedPostingsContainer maps segment id to the postings list a
// term resolved to in that segment.
type SegmentedPostingsContainer map[uint32]*PostingsList

// PostingsCache memoizes resolved postings per term. It is built from
// the tokenized terms of one query string.
type PostingsCache map[string]SegmentedPostingsContainer

// PostingsCacheForStore binds a store to the postings caches built for
// one query. One query can carry multiple query strings; each gets its
// own cache. The whole struct is query-scoped and never persisted.
type PostingsCacheForStore struct {
	// Store is where the postings lists were read from.
	Store *Store

	// Cache maps query string to its resolved postings.
	Cache map[string]PostingsCache
}

// NewPostingsCacheForStore creates an empty cache bound to store.
func NewPostingsCacheForStore(store *Store) *PostingsCacheForStore {
	return &PostingsCacheForStore{
		Store: store,
		Cache: make(map[string]PostingsCache),
	}
}

// GetPostings returns the postings cache for the query string, or nil
// if it has not been resolved yet.
func (c *PostingsCacheForStore) GetPostings(queryString string) PostingsCache {
	return c.Cache[queryString]
}

// SetPostings stores the resolved postings for the query string.
func (c *PostingsCacheForStore) SetPostings(queryString string, cache PostingsCache) {
	c.Cache[queryString] = cache
}
