package block

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManagerCanTake(t *testing.T) {
	m := NewManager(2)
	require.True(t, m.CanTake())
	m.Take()
	require.True(t, m.CanTake())
	m.Take()
	require.False(t, m.CanTake())
	m.Release()
	require.True(t, m.CanTake())
}

func TestDataBlockProvideConsumeOrder(t *testing.T) {
	m := NewManager(10)
	b := NewDataBlock(m)
	ctx := context.Background()

	require.NoError(t, b.Provide(ctx, []byte("a")))
	require.NoError(t, b.Provide(ctx, []byte("b")))

	first, err := b.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), first)

	second, err := b.Consume(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), second)
}

func TestEmptyAdmitAllowsOneChunkUnderZeroLimit(t *testing.T) {
	m := NewManager(0)
	b := NewDataBlock(m)
	ctx := context.Background()

	// Queue starts empty, so this must be admitted even though CanTake is
	// always false with limit=0.
	done := make(chan error, 1)
	go func() { done <- b.Provide(ctx, []byte("x")) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("empty-admit rule did not admit chunk under zero limit")
	}
}

func TestProvideBlocksUntilConsumeFreesRoom(t *testing.T) {
	m := NewManager(1)
	b := NewDataBlock(m)
	ctx := context.Background()

	require.NoError(t, b.Provide(ctx, []byte("a"))) // fills the only slot

	secondDone := make(chan error, 1)
	go func() { secondDone <- b.Provide(ctx, []byte("b")) }()

	select {
	case <-secondDone:
		t.Fatal("second provide should have blocked: queue non-empty and at limit")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := b.Consume(ctx)
	require.NoError(t, err)

	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second provide never unblocked after consume released a credit")
	}
}

func TestProvideRespectsContextCancellation(t *testing.T) {
	m := NewManager(1)
	b := NewDataBlock(m)
	require.NoError(t, b.Provide(context.Background(), []byte("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := b.Provide(ctx, []byte("b"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentProvideConsumeNeverLosesChunks(t *testing.T) {
	m := NewManager(4)
	b := NewDataBlock(m)
	ctx := context.Background()
	const n = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			require.NoError(t, b.Provide(ctx, []byte{byte(i)}))
		}
	}()

	seen := make([]bool, n)
	for i := 0; i < n; i++ {
		chunk, err := b.Consume(ctx)
		require.NoError(t, err)
		seen[chunk[0]] = true
	}
	wg.Wait()

	for i, ok := range seen {
		require.True(t, ok, "missing chunk %d", i)
	}
}
