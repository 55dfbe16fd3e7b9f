package knowledge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dbvybe-backend/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetDrop(t *testing.T) {
	c := NewCache()

	_, ok := c.Get("c1")
	assert.False(t, ok)

	schema := &domain.Schema{DatabaseName: "pizza"}
	c.Put("c1", schema)

	got, ok := c.Get("c1")
	require.True(t, ok)
	assert.Same(t, schema, got)
	assert.Equal(t, 1, c.Len())

	// Replacement overwrites.
	next := &domain.Schema{DatabaseName: "pizza_v2"}
	c.Put("c1", next)
	got, _ = c.Get("c1")
	assert.Same(t, next, got)

	c.Drop("c1")
	_, ok = c.Get("c1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestRefreshCoalescesConcurrentExtractions(t *testing.T) {
	c := NewCache()
	var calls atomic.Int32

	extract := func(ctx context.Context) (*domain.Schema, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return &domain.Schema{DatabaseName: "pizza"}, nil
	}

	var wg sync.WaitGroup
	results := make([]*domain.Schema, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Refresh(context.Background(), "c1", extract)
			require.NoError(t, err)
			results[i] = s
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, s := range results {
		assert.Same(t, results[0], s)
	}

	cached, ok := c.Get("c1")
	require.True(t, ok)
	assert.Same(t, results[0], cached)
}

func TestRefreshDoesNotCacheFailures(t *testing.T) {
	c := NewCache()

	_, err := c.Refresh(context.Background(), "c1", func(ctx context.Context) (*domain.Schema, error) {
		return nil, errors.New("unreachable")
	})
	require.Error(t, err)

	_, ok := c.Get("c1")
	assert.False(t, ok)
}
