package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	bp := New(1024)

	b := bp.Acquire()
	require.Equal(t, 1024, b.Cap())
	require.Zero(t, b.Len())

	n := copy(b.Space(), "hello")
	b.Commit(n)
	require.Equal(t, "hello", string(b.Bytes()))

	st := bp.Stats()
	assert.Equal(t, int64(1), st.Acquired)
	assert.Equal(t, int64(1), st.InUse)

	bp.Release(b)
	st = bp.Stats()
	assert.Equal(t, int64(1), st.Released)
	assert.Zero(t, st.InUse)
}

func TestAcquiredBufferIsReset(t *testing.T) {
	bp := New(64)

	b := bp.Acquire()
	b.Commit(copy(b.Space(), "stale"))
	bp.Release(b)

	b2 := bp.Acquire()
	require.Zero(t, b2.Len())
	require.Empty(t, b2.Bytes())
	bp.Release(b2)
}

func TestDoubleReleaseIsNoop(t *testing.T) {
	bp := New(64)

	b := bp.Acquire()
	bp.Release(b)
	bp.Release(b)

	st := bp.Stats()
	require.Equal(t, int64(1), st.Released)
	require.Zero(t, st.InUse)
}

func TestForeignBufferIgnored(t *testing.T) {
	a := New(64)
	b := New(64)

	buf := a.Acquire()
	b.Release(buf)
	require.Zero(t, b.Stats().Released)
	require.Equal(t, int64(1), a.Stats().InUse)

	a.Release(buf)
	require.Zero(t, a.Stats().InUse)
}

func TestCommitOutOfRangePanics(t *testing.T) {
	b := New(8).Acquire()
	require.Panics(t, func() { b.Commit(9) })
	require.Panics(t, func() { b.Commit(-1) })
}

func TestDefaultPool(t *testing.T) {
	require.Same(t, Default(), Default())
	require.Equal(t, DefaultBufferSize, Default().Size())
}

func TestNonPositiveSizeFallsBackToDefault(t *testing.T) {
	require.Equal(t, DefaultBufferSize, New(0).Size())
}
