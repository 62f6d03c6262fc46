package gin

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildRowIDs(n int) []uint32 {
	// Spread ids so several roaring containers are exercised.
	ids := make([]uint32, n)
	for i := range ids {
		ids[i] = uint32(i * 7)
	}
	return ids
}

func TestPostingsBuilder_RoundTrip(t *testing.T) {
	cardinalities := []int{0, 1, 15, 16, 100, 4999, 5000, 5001, 100000}

	for _, card := range cardinalities {
		ids := buildRowIDs(card)

		builder := NewPostingsBuilder()
		for _, id := range ids {
			builder.Add(id)
		}

		var buf bytes.Buffer
		n, err := builder.Serialize(&buf)
		require.NoError(t, err, "cardinality %d", card)
		require.Equal(t, uint64(buf.Len()), n, "cardinality %d", card)

		postings, err := DeserializePostings(&buf)
		require.NoError(t, err, "cardinality %d", card)
		require.Equal(t, uint64(card), postings.Cardinality(), "cardinality %d", card)
		if card > 0 {
			require.Equal(t, ids, postings.ToArray(), "cardinality %d", card)
		}
	}
}

func TestPostingsBuilder_AddIsIdempotent(t *testing.T) {
	builder := NewPostingsBuilder()

	require.False(t, builder.Contains(42))
	builder.Add(42)
	require.True(t, builder.Contains(42))
	builder.Add(42)

	var buf bytes.Buffer
	_, err := builder.Serialize(&buf)
	require.NoError(t, err)

	postings, err := DeserializePostings(&buf)
	require.NoError(t, err)
	require.Equal(t, []uint32{42}, postings.ToArray())
}

func TestPostingsBuilder_EncodingSelection(t *testing.T) {
	t.Run("small sets use array encoding", func(t *testing.T) {
		builder := NewPostingsBuilder()
		for _, id := range buildRowIDs(15) {
			builder.Add(id)
		}

		var buf bytes.Buffer
		_, err := builder.Serialize(&buf)
		require.NoError(t, err)
		require.Equal(t, postingsArrayTag, buf.Bytes()[0])
	})

	t.Run("sixteen ids switch to roaring", func(t *testing.T) {
		builder := NewPostingsBuilder()
		for _, id := range buildRowIDs(16) {
			builder.Add(id)
		}

		var buf bytes.Buffer
		_, err := builder.Serialize(&buf)
		require.NoError(t, err)
		require.Equal(t, postingsRoaringTag, buf.Bytes()[0])
	})

	t.Run("large dense sets use run compression", func(t *testing.T) {
		builder := NewPostingsBuilder()
		for id := uint32(0); id < 100000; id++ {
			builder.Add(id)
		}

		var buf bytes.Buffer
		_, err := builder.Serialize(&buf)
		require.NoError(t, err)
		require.Equal(t, postingsRunTag, buf.Bytes()[0])

		postings, err := DeserializePostings(&buf)
		require.NoError(t, err)
		require.Equal(t, uint64(100000), postings.Cardinality())
	})
}

func TestDeserializePostings_UnknownTag(t *testing.T) {
	for _, tag := range []byte{0x3, 0x7f, 0xff} {
		_, err := DeserializePostings(bytes.NewReader([]byte{tag, 0, 0, 0, 0}))

		var formatErr *UnknownPostingsFormatError
		require.ErrorAs(t, err, &formatErr, "tag 0x%02x", tag)
		require.Equal(t, tag, formatErr.Tag)
	}
}

func TestDeserializePostings_Truncated(t *testing.T) {
	builder := NewPostingsBuilder()
	for _, id := range buildRowIDs(100) {
		builder.Add(id)
	}

	var buf bytes.Buffer
	_, err := builder.Serialize(&buf)
	require.NoError(t, err)

	truncated := buf.Bytes()[:buf.Len()/2]
	_, err = DeserializePostings(bytes.NewReader(truncated))
	require.Error(t, err)

	_, err = DeserializePostings(bytes.NewReader(nil))
	require.Error(t, err)
}

func TestPostingsList_Iterator(t *testing.T) {
	builder := NewPostingsBuilder()
	builder.Add(3)
	builder.Add(1)
	builder.Add(2)

	var buf bytes.Buffer
	_, err := builder.Serialize(&buf)
	require.NoError(t, err)

	postings, err := DeserializePostings(&buf)
	require.NoError(t, err)

	var got []uint32
	for id := range postings.Iterator() {
		got = append(got, id)
	}
	require.Equal(t, []uint32{1, 2, 3}, got)
	require.True(t, postings.Contains(2))
	require.False(t, postings.Contains(4))
}
