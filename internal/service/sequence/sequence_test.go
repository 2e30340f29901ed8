package sequence

import (
	"context"
	"sync"
	"testing"

	"dm_chat/internal/model"
	"dm_chat/internal/repository/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_StrictlyIncreasingUnderConcurrency(t *testing.T) {
	g := NewMemory(10)
	ctx := context.Background()

	const workers, per = 8, 200
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{}, workers*per)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev int64
			for i := 0; i < per; i++ {
				id, err := g.Next(ctx)
				assert.NoError(t, err)
				assert.Greater(t, id, prev)
				prev = id
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*per)
	for id := range seen {
		require.Greater(t, id, int64(10))
	}
}

func TestMemory_AdvanceToNeverMovesBack(t *testing.T) {
	g := NewMemory(0)
	ctx := context.Background()

	require.NoError(t, g.AdvanceTo(ctx, 50))
	id, err := g.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(51), id)

	require.NoError(t, g.AdvanceTo(ctx, 10))
	id, err = g.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(52), id)
}

func TestSeed_SkipsStoredIDs(t *testing.T) {
	ctx := context.Background()
	log := message.NewMemoryRepo()
	require.NoError(t, log.Insert(ctx, &model.Message{ID: 120, ConversationKey: "a:b", LogicalTimestamp: 1}))
	require.NoError(t, log.Insert(ctx, &model.Message{ID: 121, ConversationKey: "a:b", LogicalTimestamp: 2}))

	// a counter that restarted below what the log already holds
	g := NewMemory(3)
	maxID, err := Seed(ctx, g, log)
	require.NoError(t, err)
	require.Equal(t, int64(121), maxID)

	id, err := g.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(122), id)
	require.NoError(t, log.Insert(ctx, &model.Message{ID: id, ConversationKey: "a:b", LogicalTimestamp: 3}))
}
