package auction

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestKeyedLane_MutualExclusion(t *testing.T) {
	defer goleak.VerifyNone(t)
	lane := NewKeyedLane()

	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := lane.Lock(context.Background(), "item-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, lane.Len(), "idle keys should be released")
}

func TestKeyedLane_IndependentKeys(t *testing.T) {
	lane := NewKeyedLane()
	unlockA, err := lane.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := lane.Lock(ctx, "b")
	require.NoError(t, err, "another key must not wait")
	unlockB()
	assert.Equal(t, 1, lane.Len())
}

func TestKeyedLane_ContextCancel(t *testing.T) {
	lane := NewKeyedLane()
	unlock, err := lane.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = lane.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	// 重複釋放不會影響其他持有者
	unlock()
	assert.Zero(t, lane.Len())

	again, err := lane.Lock(context.Background(), "a")
	require.NoError(t, err)
	again()
}
