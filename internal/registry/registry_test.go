package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/tickhub/internal/model"
)

var (
	nifty    = model.InstrumentKey{Segment: model.SegmentIndex, SecurityID: "13"}
	reliance = model.InstrumentKey{Segment: model.SegmentNSEEquity, SecurityID: "2885"}
	hdfc     = model.InstrumentKey{Segment: model.SegmentNSEEquity, SecurityID: "1333"}
)

func TestRegistry_AddReturnsFirstReferences(t *testing.T) {
	r := New()

	added, err := r.Add("a", []model.InstrumentKey{nifty, reliance}, model.ModeQuote)
	require.NoError(t, err)
	assert.ElementsMatch(t, []model.InstrumentKey{nifty, reliance}, added)

	added, err = r.Add("b", []model.InstrumentKey{nifty, hdfc}, model.ModeQuote)
	require.NoError(t, err)
	assert.Equal(t, []model.InstrumentKey{hdfc}, added)

	assert.Equal(t, 2, r.RefCount(nifty))
	assert.Equal(t, 1, r.RefCount(reliance))
	assert.Equal(t, 1, r.RefCount(hdfc))
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 2, r.ConsumerCount())
}

func TestRegistry_AddSameKeyTwiceForOneConsumer(t *testing.T) {
	r := New()

	_, err := r.Add("a", []model.InstrumentKey{nifty}, model.ModeQuote)
	require.NoError(t, err)
	added, err := r.Add("a", []model.InstrumentKey{nifty, nifty}, model.ModeQuote)
	require.NoError(t, err)

	assert.Empty(t, added)
	assert.Equal(t, 1, r.RefCount(nifty))

	removed := r.Remove("a")
	assert.Equal(t, []model.InstrumentKey{nifty}, removed)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RemoveReturnsLastReferences(t *testing.T) {
	r := New()
	_, _ = r.Add("a", []model.InstrumentKey{nifty, reliance}, model.ModeQuote)
	_, _ = r.Add("b", []model.InstrumentKey{nifty}, model.ModeQuote)

	removed := r.Remove("a")
	assert.Equal(t, []model.InstrumentKey{reliance}, removed)
	assert.Equal(t, 1, r.RefCount(nifty))

	removed = r.Remove("b")
	assert.Equal(t, []model.InstrumentKey{nifty}, removed)
	assert.Empty(t, r.Snapshot())
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := New()
	_, _ = r.Add("a", []model.InstrumentKey{nifty}, model.ModeQuote)

	assert.Nil(t, r.Remove("ghost"))
	assert.Nil(t, r.Remove("ghost"))
	assert.Equal(t, 1, r.RefCount(nifty))

	r.Remove("a")
	assert.Nil(t, r.Remove("a"))
}

func TestRegistry_ModeMismatch(t *testing.T) {
	r := New()
	_, err := r.Add("a", []model.InstrumentKey{nifty}, model.ModeQuote)
	require.NoError(t, err)

	_, err = r.Add("b", []model.InstrumentKey{reliance}, model.ModeFull)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModeMismatch)

	var mmErr *ModeMismatchError
	require.ErrorAs(t, err, &mmErr)
	assert.Equal(t, model.ModeQuote, mmErr.Active)
	assert.Equal(t, model.ModeFull, mmErr.Requested)
	assert.Equal(t, 0, r.RefCount(reliance), "rejected add must not mutate")

	// Once empty, a new mode may take over.
	r.Remove("a")
	_, err = r.Add("b", []model.InstrumentKey{reliance}, model.ModeFull)
	require.NoError(t, err)
	mode, ok := r.Mode()
	assert.True(t, ok)
	assert.Equal(t, model.ModeFull, mode)
}

func TestRegistry_EmptyAddIsNoop(t *testing.T) {
	r := New()
	added, err := r.Add("a", nil, model.ModeQuote)
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Equal(t, 0, r.ConsumerCount())

	_, ok := r.Mode()
	assert.False(t, ok)
}

func TestRegistry_ConsumersIndex(t *testing.T) {
	r := New()
	_, _ = r.Add("a", []model.InstrumentKey{nifty}, model.ModeQuote)
	_, _ = r.Add("b", []model.InstrumentKey{nifty, reliance}, model.ModeQuote)

	assert.ElementsMatch(t, []model.ConsumerID{"a", "b"}, r.Consumers(nifty))
	assert.Equal(t, []model.ConsumerID{"b"}, r.Consumers(reliance))
	assert.Empty(t, r.Consumers(hdfc))
	assert.Equal(t, []model.InstrumentKey{nifty, reliance}, r.ConsumerKeys("b"))
	assert.Equal(t, []model.ConsumerID{"a", "b"}, r.ConsumerIDs())

	r.Remove("a")
	assert.Equal(t, []model.ConsumerID{"b"}, r.Consumers(nifty))
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	r := New()
	_, _ = r.Add("a", []model.InstrumentKey{reliance, hdfc, nifty}, model.ModeQuote)

	assert.Equal(t, []model.InstrumentKey{nifty, hdfc, reliance}, r.Snapshot())
}

func TestRegistry_ConcurrentAddRemove(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := model.ConsumerID(fmt.Sprintf("c%d", i))
			_, err := r.Add(id, []model.InstrumentKey{nifty, reliance}, model.ModeQuote)
			assert.NoError(t, err)
			_ = r.Snapshot()
			if i%2 == 0 {
				r.Remove(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 25, r.RefCount(nifty))
	assert.Equal(t, 25, r.RefCount(reliance))
	assert.Equal(t, 25, r.ConsumerCount())
}
