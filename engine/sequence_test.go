package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/booking-engine/engine"
	"github.com/warp/booking-engine/engine/store"
)

func TestSequencer_StartsAtOneAndIncrements(t *testing.T) {
	seq := engine.NewSequencer(store.NewMemory())
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := seq.Next(ctx, engine.BookingSequenceKey("2026"))
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
}

func TestSequencer_KeysAreIndependent(t *testing.T) {
	seq := engine.NewSequencer(store.NewMemory())
	ctx := context.Background()

	// GIVEN: Two booking periods and the client namespace
	// WHEN: Each is advanced once
	// THEN: Each starts at 1
	for _, key := range []string{engine.BookingSequenceKey("2025"), engine.BookingSequenceKey("2026"), engine.ClientSequenceKey()} {
		n, err := seq.Next(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, key)
	}
}

func TestSequencer_EmptyKeyRejected(t *testing.T) {
	seq := engine.NewSequencer(store.NewMemory())
	_, err := seq.Next(context.Background(), "  ")
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestSequencer_ConcurrentCallersGetDistinctValues(t *testing.T) {
	// GIVEN: 50 goroutines advancing the same key
	seq := engine.NewSequencer(store.NewMemory())
	const callers = 50

	var wg sync.WaitGroup
	values := make([]int64, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n, err := seq.Next(context.Background(), engine.ClientSequenceKey())
			assert.NoError(t, err)
			values[i] = n
		}(i)
	}
	wg.Wait()

	// THEN: The values are exactly 1..50 with no gaps or repeats
	seen := make(map[int64]bool, callers)
	for _, v := range values {
		assert.False(t, seen[v], "duplicate %d", v)
		seen[v] = true
	}
	for want := int64(1); want <= callers; want++ {
		assert.True(t, seen[want], "missing %d", want)
	}
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "BK-2026-00001", engine.FormatBookingNumber("BK", "2026", 1))
	assert.Equal(t, "BK-2026-123456", engine.FormatBookingNumber("BK", "2026", 123456))
	assert.Equal(t, "CL-00042", engine.FormatClientCode("CL", 42))
	assert.Equal(t, "booking:2026", engine.BookingSequenceKey("2026"))
}
