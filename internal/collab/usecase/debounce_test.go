package usecase

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var calls int64
	for i := 0; i < 5; i++ {
		d.Trigger(func() { atomic.AddInt64(&calls, 1) })
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&calls) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var calls int64
	d.Trigger(func() { atomic.AddInt64(&calls, 1) })
	d.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt64(&calls))

	// triggers after Stop are rejected
	d.Trigger(func() { atomic.AddInt64(&calls, 1) })
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt64(&calls))
}
