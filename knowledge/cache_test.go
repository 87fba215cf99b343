package knowledge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCachedRetriever(t *testing.T, inner Retriever) (*miniredis.Miniredis, *CachedRetriever) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := CacheConfig{
		Addr: mr.Addr(),
		TTL:  time.Minute,
	}
	cr := NewCachedRetriever(inner, cfg, zap.NewNop())
	t.Cleanup(func() { cr.Close() })

	return mr, cr
}

func TestCachedRetriever_ReadThrough(t *testing.T) {
	var calls atomic.Int32
	inner := RetrieverFunc(func(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error) {
		calls.Add(1)
		return []Snippet{
			{DocumentTitle: "Risk basics", Content: "size positions first", Score: 0.9},
		}, nil
	})

	_, cr := setupCachedRetriever(t, inner)
	ctx := context.Background()

	first, err := cr.Retrieve(ctx, "position sizing", 5, 400)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := cr.Retrieve(ctx, "position sizing", 5, 400)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load(), "second call must be served from cache")

	// A different budget is a different cache entry.
	_, err = cr.Retrieve(ctx, "position sizing", 3, 400)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCachedRetriever_CacheDownDegradesToDirect(t *testing.T) {
	inner := RetrieverFunc(func(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error) {
		return []Snippet{{Content: "direct", Score: 0.5}}, nil
	})

	mr, cr := setupCachedRetriever(t, inner)
	mr.Close()

	snippets, err := cr.Retrieve(context.Background(), "anything", 5, 400)
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "direct", snippets[0].Content)
}

func TestCachedRetriever_ConcurrentMissesCollapse(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	inner := RetrieverFunc(func(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error) {
		calls.Add(1)
		<-release
		return []Snippet{{Content: "shared", Score: 0.8}}, nil
	})

	_, cr := setupCachedRetriever(t, inner)
	ctx := context.Background()

	const workers = 5
	var wg sync.WaitGroup
	results := make([][]Snippet, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cr.Retrieve(ctx, "same query", 5, 400)
		}(i)
	}

	// Give the goroutines time to pile up on the in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, "shared", results[i][0].Content)
	}
	assert.Equal(t, int32(1), calls.Load(), "concurrent identical misses must share one fetch")
}

func TestCachedRetriever_LeaderCancelDoesNotFailFollowers(t *testing.T) {
	release := make(chan struct{})
	inner := RetrieverFunc(func(ctx context.Context, query string, topK, maxCandidates int) ([]Snippet, error) {
		<-release
		// The shared fetch must not ride on the leading caller's context.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []Snippet{{Content: "survived", Score: 0.7}}, nil
	})

	_, cr := setupCachedRetriever(t, inner)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	var leaderErr, followerErr error
	var followerResult []Snippet

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, leaderErr = cr.Retrieve(leaderCtx, "same query", 5, 400)
	}()

	time.Sleep(50 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		followerResult, followerErr = cr.Retrieve(context.Background(), "same query", 5, 400)
	}()

	// Let the follower join the in-flight fetch, then abandon the leader.
	time.Sleep(50 * time.Millisecond)
	cancelLeader()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.ErrorIs(t, leaderErr, context.Canceled)
	require.NoError(t, followerErr)
	require.Len(t, followerResult, 1)
	assert.Equal(t, "survived", followerResult[0].Content)
}

func TestFormat_OrderingAndProvenance(t *testing.T) {
	t.Parallel()

	snippets := []Snippet{
		{DocumentTitle: "B", Content: "second", Score: 0.3},
		{DocumentTitle: "A", Content: "first", Score: 0.9},
		{DocumentTitle: "C", Content: "   ", Score: 1.0},
	}

	out := Format(snippets)
	assert.Contains(t, out, "[1] A\nfirst")
	assert.Contains(t, out, "[2] B\nsecond")
	assert.NotContains(t, out, "C")

	assert.Empty(t, Format(nil))
	assert.Empty(t, Format([]Snippet{{Content: " "}}))
}

func TestSortByScore_Stable(t *testing.T) {
	t.Parallel()

	snippets := []Snippet{
		{ChunkID: "a", Score: 0.5},
		{ChunkID: "b", Score: 0.5},
		{ChunkID: "c", Score: 0.9},
	}
	SortByScore(snippets)
	assert.Equal(t, "c", snippets[0].ChunkID)
	assert.Equal(t, "a", snippets[1].ChunkID)
	assert.Equal(t, "b", snippets[2].ChunkID)
}
