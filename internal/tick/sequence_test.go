package tick

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSequenceRejectsGaps(t *testing.T) {
	_, err := NewSequence(nil, spacing, true)
	assert.ErrorIs(t, err, ErrInvalidSequence)

	_, err = NewSequence([]*Page{newPage(t, 0), newPage(t, 5632)}, spacing, true)
	assert.ErrorIs(t, err, ErrInvalidSequence, "a-to-b pages must descend")

	_, err = NewSequence([]*Page{newPage(t, 0), newPage(t, 11264)}, spacing, false)
	assert.ErrorIs(t, err, ErrInvalidSequence)

	pages := []*Page{newPage(t, 0), newPage(t, 5632), newPage(t, 11264), newPage(t, 16896)}
	_, err = NewSequence(pages, spacing, false)
	assert.ErrorIs(t, err, ErrInvalidSequence)
}

func TestSequenceStart(t *testing.T) {
	assert.Equal(t, int32(0), SequenceStart(0, spacing, true))
	assert.Equal(t, int32(-5632), SequenceStart(-1, spacing, true))
	assert.Equal(t, int32(0), SequenceStart(-1, spacing, false))
	assert.Equal(t, int32(5632), SequenceStart(5600, spacing, false))
}

func TestSequenceWalksAcrossPages(t *testing.T) {
	seq, err := NewSequence([]*Page{newPage(t, 0), newPage(t, -5632, -128)}, spacing, true)
	require.NoError(t, err)

	pageIndex, next, initialized, err := seq.NextInitializedTick(0, 10)
	require.NoError(t, err)
	assert.True(t, initialized)
	assert.Equal(t, 1, pageIndex)
	assert.Equal(t, int32(-128), next)

	// Past the last initialized tick the search stops at the edge of the last page.
	pageIndex, next, initialized, err = seq.NextInitializedTick(1, -129)
	require.NoError(t, err)
	assert.False(t, initialized)
	assert.Equal(t, 1, pageIndex)
	assert.Equal(t, int32(-5632), next)

	_, _, _, err = seq.NextInitializedTick(1, -5633)
	assert.ErrorIs(t, err, ErrPageNotLoaded)
}

func TestSequenceUpward(t *testing.T) {
	seq, err := NewSequence([]*Page{newPage(t, 0, 5568), newPage(t, 5632, 5632)}, spacing, false)
	require.NoError(t, err)

	pageIndex, next, initialized, err := seq.NextInitializedTick(0, 0)
	require.NoError(t, err)
	assert.True(t, initialized)
	assert.Equal(t, 0, pageIndex)
	assert.Equal(t, int32(5568), next)

	pageIndex, next, initialized, err = seq.NextInitializedTick(pageIndex, next)
	require.NoError(t, err)
	assert.True(t, initialized)
	assert.Equal(t, 1, pageIndex)
	assert.Equal(t, int32(5632), next)

	pageIndex, next, initialized, err = seq.NextInitializedTick(pageIndex, next)
	require.NoError(t, err)
	assert.False(t, initialized)
	assert.Equal(t, int32(5632+5632-1), next)

	_, _, _, err = seq.NextInitializedTick(pageIndex, next)
	assert.ErrorIs(t, err, ErrPageNotLoaded)
}

func TestSequenceAdvancesPastPageEdge(t *testing.T) {
	// Crossing the first tick of a page downward leaves the search index in the next page.
	seq, err := NewSequence([]*Page{newPage(t, 0, 0), newPage(t, -5632, -64)}, spacing, true)
	require.NoError(t, err)

	pageIndex, next, initialized, err := seq.NextInitializedTick(0, 10)
	require.NoError(t, err)
	assert.True(t, initialized)
	assert.Equal(t, int32(0), next)

	pageIndex, next, initialized, err = seq.NextInitializedTick(pageIndex, next-1)
	require.NoError(t, err)
	assert.True(t, initialized)
	assert.Equal(t, 1, pageIndex)
	assert.Equal(t, int32(-64), next)
}

func TestSequenceTick(t *testing.T) {
	seq, err := NewSequence([]*Page{newPage(t, 0, 64)}, spacing, true)
	require.NoError(t, err)
	tk, err := seq.Tick(0, 64)
	require.NoError(t, err)
	assert.True(t, tk.Initialized)

	_, err = seq.Tick(1, 64)
	assert.ErrorIs(t, err, ErrPageNotLoaded)
}
