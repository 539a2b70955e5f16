package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClock_StartsAtGivenTime(t *testing.T) {
	clock := NewFakeClock(epoch)
	assert.Equal(t, epoch, clock.Now())
}

func TestFakeClock_Advance(t *testing.T) {
	clock := NewFakeClock(epoch)

	clock.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), clock.Now())

	clock.Advance(time.Hour)
	assert.Equal(t, epoch.Add(time.Hour+90*time.Second), clock.Now())
}

func TestFakeClock_AfterFuncFiresWhenDue(t *testing.T) {
	clock := NewFakeClock(epoch)
	fired := 0
	clock.AfterFunc(5*time.Minute, func() { fired++ })

	clock.Advance(4 * time.Minute)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, clock.Pending())

	// Fires once only.
	clock.Advance(time.Hour)
	assert.Equal(t, 1, fired)
}

func TestFakeClock_TimersFireInDueOrder(t *testing.T) {
	clock := NewFakeClock(epoch)
	var order []string
	clock.AfterFunc(3*time.Second, func() { order = append(order, "late") })
	clock.AfterFunc(1*time.Second, func() { order = append(order, "early") })

	clock.Advance(10 * time.Second)
	assert.Equal(t, []string{"early", "late"}, order)
}

func TestFakeClock_StopCancelsTimer(t *testing.T) {
	clock := NewFakeClock(epoch)
	fired := false
	stop := clock.AfterFunc(time.Second, func() { fired = true })

	require.True(t, stop())
	assert.False(t, stop(), "second stop reports the timer already gone")

	clock.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeClock_TimerMayRegisterAnother(t *testing.T) {
	clock := NewFakeClock(epoch)
	fired := 0
	clock.AfterFunc(time.Second, func() {
		fired++
		clock.AfterFunc(time.Second, func() { fired++ })
	})

	clock.Advance(time.Second)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(time.Second)
	assert.Equal(t, 2, fired)
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	clock := NewFakeClock(epoch)
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, epoch.Add(numGoroutines*time.Second), clock.Now())
}
