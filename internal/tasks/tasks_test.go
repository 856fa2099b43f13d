package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/visit-scheduler/internal/domain/appointment"
	"github.com/example/visit-scheduler/internal/domain/identity"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	id, err := identity.New("alice", "self")
	require.NoError(t, err)
	return Config{Identity: id, Strategy: StrategyInterval, IntervalMinutes: 5}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid interval", func(t *testing.T) {
		assert.NoError(t, testConfig(t).Validate())
	})

	t.Run("interval needs a period", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.IntervalMinutes = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("burst needs an end date", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Strategy = StrategyBurst
		cfg.IntervalMinutes = 0
		assert.Error(t, cfg.Validate())

		cfg.Filters = appointment.Filters{EndDate: "2026-10-01"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown strategy", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Strategy = "hourly"
		assert.Error(t, cfg.Validate())
	})

	t.Run("twin must differ from the task identity", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.TwinIdentity = cfg.Identity
		assert.Error(t, cfg.Validate())

		twin, err := identity.New("alice", "kid-1")
		require.NoError(t, err)
		cfg.TwinIdentity = twin
		assert.NoError(t, cfg.Validate())
	})

	t.Run("zero identity rejected", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Identity = identity.Identity{}
		assert.Error(t, cfg.Validate())
	})
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	store := NewMemoryStore()
	cfg := testConfig(t)

	first := State{Config: cfg, Active: true}
	require.NoError(t, store.Put(context.Background(), first))

	second := first
	second.Active = false
	second.StopReason = "stopped"
	require.NoError(t, store.Put(context.Background(), second))

	got, ok, err := store.Get(context.Background(), cfg.Identity)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Active)
	assert.Equal(t, "stopped", got.StopReason)
}
