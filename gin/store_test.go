package gin

import (
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/devopscorner-otel/ClickHouse/storage"
)

func newTestStorage(t *testing.T) *storage.Local {
	t.Helper()

	st, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	return st
}

func addTerm(store *Store, term string, rowID uint32) {
	builder, ok := store.GetPostingsListBuilder()[term]
	if !ok {
		builder = NewPostingsBuilder()
		store.SetPostingsBuilder(term, builder)
	}
	builder.Add(rowID)
}

func TestNewStore_Initialization(t *testing.T) {
	st := newTestStorage(t)

	store, err := NewStore("idx_text", st)
	require.NoError(t, err)
	require.Equal(t, "idx_text", store.Name())
	require.Equal(t, FormatV1, store.Version())
	require.Equal(t, uint32(0), store.NumSegments())
	require.Equal(t, uint32(1), store.CurrentSegmentID())

	exists, err := store.Exists()
	require.NoError(t, err)
	require.True(t, exists)

	// All four files are created up front.
	for _, suffix := range ginFileSuffixes {
		ok, err := st.Exists("idx_text" + suffix)
		require.NoError(t, err)
		require.True(t, ok, "missing %s", suffix)
	}
}

func TestStore_RowIDRangesAreMonotonic(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t))
	require.NoError(t, err)

	sizes := []uint32{1, 7, 3, 100, 1, 25, 8, 4}

	var prev uint32
	for _, size := range sizes {
		start := store.GetNextRowIDRange(size)
		require.Greater(t, start, prev)
		require.GreaterOrEqual(t, start, prev+1)
		prev = start + size - 1
	}
}

func TestStore_RowIDRangesDisjointUnderConcurrency(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t))
	require.NoError(t, err)

	const (
		writers   = 8
		perWriter = 200
		rangeSize = 3
	)

	var mu sync.Mutex
	starts := make([]uint32, 0, writers*perWriter)

	var g errgroup.Group
	for range writers {
		g.Go(func() error {
			for range perWriter {
				start := store.GetNextRowIDRange(rangeSize)
				mu.Lock()
				starts = append(starts, start)
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	for i := 1; i < len(starts); i++ {
		require.GreaterOrEqual(t, starts[i], starts[i-1]+rangeSize, "ranges overlap")
	}
	require.Equal(t, uint32(1), starts[0])
	require.Equal(t, uint32(1+(writers*perWriter-1)*rangeSize), starts[len(starts)-1])
}

func TestStore_SegmentIDsPersistAcrossReopen(t *testing.T) {
	st := newTestStorage(t)

	store, err := NewStore("idx", st)
	require.NoError(t, err)

	id, err := store.GetNextSegmentIDRange(5)
	require.NoError(t, err)
	require.Equal(t, uint32(1), id)

	id, err = store.GetNextSegmentID()
	require.NoError(t, err)
	require.Equal(t, uint32(6), id)

	// A store opened later over the same files continues the counter.
	reopened, err := NewStore("idx", st)
	require.NoError(t, err)

	id, err = reopened.GetNextSegmentID()
	require.NoError(t, err)
	require.Equal(t, uint32(7), id)
}

func TestStore_SegmentIDAllocationUnderConcurrency(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t))
	require.NoError(t, err)

	const allocations = 64

	var mu sync.Mutex
	ids := make(map[uint32]struct{}, allocations)

	var g errgroup.Group
	for range allocations {
		g.Go(func() error {
			id, err := store.GetNextSegmentID()
			if err != nil {
				return err
			}
			mu.Lock()
			ids[id] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Len(t, ids, allocations)
}

func TestStore_DigestionThreshold(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t), WithSegmentDigestionThreshold(10))
	require.NoError(t, err)

	store.IncrementCurrentSizeBy(9)
	require.False(t, store.NeedToWriteCurrentSegment())

	store.IncrementCurrentSizeBy(1)
	require.True(t, store.NeedToWriteCurrentSegment())

	addTerm(store, "term", 1)
	require.NoError(t, store.WriteSegment())
	require.False(t, store.NeedToWriteCurrentSegment(), "size counter must reset after flush")
}

func TestStore_UnlimitedThresholdNeverFlushes(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t))
	require.NoError(t, err)

	store.IncrementCurrentSizeBy(1 << 30)
	require.False(t, store.NeedToWriteCurrentSegment())
}

func TestStore_WriteSegmentWithoutPostingsIsNoop(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t))
	require.NoError(t, err)

	require.NoError(t, store.WriteSegment())
	require.Equal(t, uint32(0), store.NumSegments())
}

func TestStore_DictionarySortsTermsInternally(t *testing.T) {
	st := newTestStorage(t)

	store, err := NewStore("idx", st)
	require.NoError(t, err)

	// Insertion order deliberately unsorted; the FST builder requires
	// sorted input, so the store must sort before building.
	addTerm(store, "b", 1)
	addTerm(store, "a", 2)
	addTerm(store, "c", 3)

	require.NoError(t, store.Finalize())

	deserializer, err := NewStoreDeserializer(store)
	require.NoError(t, err)
	defer deserializer.Close()

	require.NoError(t, deserializer.ReadSegments())
	require.NoError(t, deserializer.ReadSegmentDictionaries())

	for term, rowID := range map[string]uint32{"b": 1, "a": 2, "c": 3} {
		container, err := deserializer.ReadSegmentedPostingsLists(term)
		require.NoError(t, err)
		require.Len(t, container, 1)
		require.Equal(t, []uint32{rowID}, container[1].ToArray())
	}
}

func TestStore_FinalizeExactlyOnce(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t))
	require.NoError(t, err)

	addTerm(store, "term", 1)
	require.NoError(t, store.Finalize())

	require.ErrorIs(t, store.Finalize(), ErrStoreFinalized)
	require.ErrorIs(t, store.WriteSegment(), ErrStoreFinalized)
}

func TestStore_CancelNeverFails(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t), WithSegmentDigestionThreshold(1))
	require.NoError(t, err)

	addTerm(store, "abandoned", 1)
	store.IncrementCurrentSizeBy(1)
	require.NoError(t, store.WriteSegment())

	addTerm(store, "in-progress", 2)
	store.Cancel()

	require.Empty(t, store.GetPostingsListBuilder())
	require.ErrorIs(t, store.WriteSegment(), ErrStoreFinalized)

	// Cancel is safe to call again.
	store.Cancel()
}

func TestStore_QuietLogger(t *testing.T) {
	store, err := NewStore("idx", newTestStorage(t), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	addTerm(store, "term", 1)
	require.NoError(t, store.Finalize())
}
