package gin

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/devopscorner-otel/ClickHouse/storage"
)

// StoreFactory is a registry deduplicating store instances per data
// part: all consumers of the same part's index share one Store. It is
// an explicitly constructed object, so tests and hosts can run isolated
// registries side by side.
type StoreFactory struct {
	mu     sync.Mutex
	stores map[string]*Store
	group  singleflight.Group
}

// NewStoreFactory creates an empty registry.
func NewStoreFactory() *StoreFactory {
	return &StoreFactory{stores: make(map[string]*Store)}
}

// Get returns the shared store for the given index name and part
// storage, constructing and loading it on first use. Concurrent callers
// for the same part race safely onto one instance; exactly one winner
// pays the construction cost.
func (f *StoreFactory) Get(name string, st storage.Storage, optFns ...func(o *Options)) (*Store, error) {
	key := storeKey(name, st.Path())

	f.mu.Lock()
	store, ok := f.stores[key]
	f.mu.Unlock()
	if ok {
		return store, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		// Re-check: a previous winner may have inserted between our map
		// lookup and this call.
		f.mu.Lock()
		store, ok := f.stores[key]
		f.mu.Unlock()
		if ok {
			return store, nil
		}

		store, err := NewStore(name, st, optFns...)
		if err != nil {
			return nil, err
		}

		exists, err := store.Exists()
		if err != nil {
			return nil, err
		}
		if exists {
			if err := preloadStore(store); err != nil {
				return nil, err
			}
		}

		f.mu.Lock()
		f.stores[key] = store
		f.mu.Unlock()
		return store, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Store), nil
}

// preloadStore reads segment descriptors and dictionaries up front so
// queries against the store only pay for postings reads.
func preloadStore(store *Store) error {
	deserializer, err := NewStoreDeserializer(store)
	if err != nil {
		return fmt.Errorf("failed to open store %q: %w", store.Name(), err)
	}
	defer deserializer.Close()

	if err := deserializer.ReadSegments(); err != nil {
		return err
	}
	return deserializer.ReadSegmentDictionaries()
}

// Remove drops every registry entry under the given part path, e.g.
// when the part is dropped or merged away. Deleting the bytes on disk
// is the storage layer's responsibility.
func (f *StoreFactory) Remove(partPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key := range f.stores {
		if strings.HasSuffix(key, ":"+partPath) {
			delete(f.stores, key)
		}
	}
}

func storeKey(name, partPath string) string {
	return name + ":" + partPath
}

// ginFileSuffixes are the four recognized index file types.
var ginFileSuffixes = []string{
	segmentIDFileSuffix,
	segmentMetadataFileSuffix,
	dictionaryFileSuffix,
	postingsFileSuffix,
}

// IsGinFile reports whether fileName is one of the four index file
// types. The storage layer uses it to decide what to clean up or skip
// during part operations.
func IsGinFile(fileName string) bool {
	for _, suffix := range ginFileSuffixes {
		if strings.HasSuffix(fileName, suffix) {
			return true
		}
	}
	return false
}
