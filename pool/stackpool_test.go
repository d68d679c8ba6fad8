package pool_test

import (
	"os"
	"testing"

	"github.com/momentics/hioload-fiber/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackPoolReuse(t *testing.T) {
	sp := pool.NewStackPool(16*1024, 2)
	defer sp.Close()

	s1, err := sp.Get()
	require.NoError(t, err)
	assert.Len(t, s1.Bytes(), 16*1024)
	copy(s1.Bytes(), "dirty")
	id := s1.ID()
	sp.Put(s1)

	s2, err := sp.Get()
	require.NoError(t, err)
	assert.Equal(t, id, s2.ID(), "idle region not reused")
	assert.Equal(t, make([]byte, 5), s2.Bytes()[:5], "recycled region not cleared")

	st := sp.Stats()
	assert.Equal(t, int64(1), st.Mapped)
	assert.Equal(t, int64(1), st.InUse)
	assert.Equal(t, int64(0), st.Idle)
	assert.Equal(t, int64(1), st.Recycled)
	sp.Put(s2)
}

func TestStackPoolRoundsToPages(t *testing.T) {
	page := os.Getpagesize()
	sp := pool.NewStackPool(page+1, 1)
	defer sp.Close()
	assert.Equal(t, 2*page, sp.Size())

	def := pool.NewStackPool(0, 1)
	defer def.Close()
	assert.Equal(t, pool.DefaultStackSize, def.Size())
}

func TestStackPoolCapacityBound(t *testing.T) {
	sp := pool.NewStackPool(4096, 1)
	a, err := sp.Get()
	require.NoError(t, err)
	b, err := sp.Get()
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())

	sp.Put(a)
	sp.Put(b) // over capacity: unmapped
	st := sp.Stats()
	assert.Equal(t, int64(1), st.Mapped)
	assert.Equal(t, int64(1), st.Idle)
	assert.Equal(t, int64(0), st.InUse)

	require.NoError(t, sp.Close())
	assert.Equal(t, int64(0), sp.Stats().Mapped)
	_, err = sp.Get()
	assert.ErrorIs(t, err, pool.ErrPoolClosed)
}

func TestStackPoolDoublePutPanics(t *testing.T) {
	sp := pool.NewStackPool(4096, 4)
	defer sp.Close()
	s, err := sp.Get()
	require.NoError(t, err)
	sp.Put(s)
	assert.Panics(t, func() { sp.Put(s) })
}

func TestStackPoolPutAfterClose(t *testing.T) {
	sp := pool.NewStackPool(4096, 4)
	s, err := sp.Get()
	require.NoError(t, err)
	require.NoError(t, sp.Close())
	sp.Put(s)
	assert.Equal(t, int64(0), sp.Stats().Mapped)
}
