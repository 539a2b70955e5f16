package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduler_Add(t *testing.T) {
	s := New(context.Background(), NewRunner(), zap.NewNop())

	require.NoError(t, s.Add("0 2 * * *", "sync", func(context.Context) error { return nil }))
	require.NoError(t, s.Add("@every 1h", "clean", func(context.Context) error { return nil }))
	assert.Equal(t, 2, s.Entries())

	err := s.Add("not a spec", "broken", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 2, s.Entries())
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(context.Background(), NewRunner(), nil)
	require.NoError(t, s.Add("@every 1h", "sync", func(context.Context) error { return nil }))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestCronLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := cronLogger{zap.New(core).Sugar()}

	l.Info("wake", "now", "2026-01-01")
	l.Error(errors.New("panic in job"), "job failed", "entry", 1)

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, zap.DebugLevel, entries[0].Level)
	assert.Equal(t, "job failed", entries[1].Message)
	assert.Equal(t, "panic in job", entries[1].ContextMap()["error"])
}
