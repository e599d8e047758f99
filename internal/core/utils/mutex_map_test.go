package utils_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"training-backend/internal/core/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutexMap_SameKeyIsExclusive(t *testing.T) {
	m := utils.NewMutexMap(10)

	var inside, maxInside atomic.Int32
	wg := sync.WaitGroup{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Lock("activity"))
			n := inside.Add(1)
			if n > maxInside.Load() {
				maxInside.Store(n)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, m.Unlock("activity"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Equal(t, 0, m.Len())
}

func TestMutexMap_DifferentKeysRunConcurrently(t *testing.T) {
	m := utils.NewMutexMap(10)

	require.NoError(t, m.Lock("a"))

	done := make(chan struct{})
	go func() {
		assert.NoError(t, m.Lock("b"))
		assert.NoError(t, m.Unlock("b"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}

	require.NoError(t, m.Unlock("a"))
}

func TestMutexMap_ErrorWhenFull(t *testing.T) {
	m := utils.NewMutexMap(1)

	require.NoError(t, m.Lock("a"))
	assert.ErrorIs(t, m.Lock("b"), utils.ErrMutexMapFull)

	require.NoError(t, m.Unlock("a"))
	require.NoError(t, m.Lock("b"))
	require.NoError(t, m.Unlock("b"))
}

func TestMutexMap_UnlockUnknownKey(t *testing.T) {
	m := utils.NewMutexMap(10)
	assert.Error(t, m.Unlock("missing"))
}
