package cloud

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/orgsync/internal/testutil"
)

func countingFetcher(lifetime time.Duration) (TokenFetcher, *int) {
	n := 0
	return func(context.Context) (string, time.Duration, error) {
		n++
		return fmt.Sprintf("tok-%d", n), lifetime, nil
	}, &n
}

func TestTokenCache_FetchesLazilyOnce(t *testing.T) {
	fetch, n := countingFetcher(2 * time.Hour)
	cache := NewTokenCache(fetch, time.Now)
	assert.Equal(t, 0, *n)

	for i := 0; i < 3; i++ {
		tok, err := cache.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, 1, *n)
}

func TestTokenCache_RefreshesBeforeAdvertisedExpiry(t *testing.T) {
	clock := testutil.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	fetch, n := countingFetcher(600 * time.Second)
	cache := NewTokenCache(fetch, clock.Now)

	_, err := cache.Token(context.Background())
	require.NoError(t, err)

	// Usable lifetime is expires_in minus the 300s margin.
	clock.Advance(299 * time.Second)
	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clock.Advance(time.Second)
	tok, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, *n)
}

func TestTokenCache_Invalidate(t *testing.T) {
	fetch, n := countingFetcher(time.Hour)
	cache := NewTokenCache(fetch, time.Now)

	_, err := cache.Token(context.Background())
	require.NoError(t, err)
	cache.Invalidate()

	tok, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.Equal(t, 2, *n)
}

func TestTokenCache_FetchError(t *testing.T) {
	boom := errors.New("boom")
	cache := NewTokenCache(func(context.Context) (string, time.Duration, error) {
		return "", 0, boom
	}, time.Now)

	_, err := cache.Token(context.Background())
	assert.ErrorIs(t, err, boom)
}
