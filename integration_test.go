package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/api"
	"github.com/weiihann/energy-stats-indexer/internal/cache"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/livestate"
	"github.com/weiihann/energy-stats-indexer/internal/service"
	"github.com/weiihann/energy-stats-indexer/internal/source"
	"github.com/weiihann/energy-stats-indexer/pkg/client"
	"github.com/weiihann/energy-stats-indexer/pkg/storage"
)

const (
	integrationContract = "SP000000000000000000002Q6VF78.energize"
	holder              = "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7"
)

type constantQuote uint64

func (q constantQuote) PendingUnits(context.Context, string, string) (uint64, error) {
	return uint64(q), nil
}

func writeHarvestSnapshot(t *testing.T, dir string, now time.Time) {
	t.Helper()
	store, err := storage.NewFileStoreWithCompression(dir, true)
	require.NoError(t, err)
	defer store.Close()

	entry := func(energyValue uint64, height int64, at time.Time) energy.HarvestLogEntry {
		unix := at.Unix()
		return energy.HarvestLogEntry{Sender: holder, Energy: &energyValue, BlockHeight: &height, BlockTime: &unix, TxID: "0x" + at.Format("150405")}
	}
	logs := []energy.HarvestLogEntry{
		entry(100, 1, now.Add(-2*time.Hour)),
		entry(140, 2, now.Add(-time.Hour)),
		{Sender: "", TxID: "0xbad"},
	}

	data, err := json.Marshal(logs)
	require.NoError(t, err)
	require.NoError(t, store.SaveCompressed(source.SnapshotName(integrationContract), data))
}

func TestIntegration_ConfigurationLoading(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("LOG_SOURCE", "file")
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("ENVIRONMENT", "production")

	config, err := internal.LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "file", config.LogSource)
	assert.Equal(t, dataDir, config.DataDir)
	assert.Equal(t, 2*time.Minute, config.CacheTTLDuration())
	assert.True(t, config.IsProduction())
}

func TestIntegration_ComponentInteraction(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	dataDir := t.TempDir()
	now := time.Now()
	writeHarvestSnapshot(t, dataDir, now)

	t.Setenv("LOG_SOURCE", "file")
	t.Setenv("DATA_DIR", dataDir)
	config, err := internal.LoadConfig(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	src, closeSource, err := source.NewSource(ctx, config)
	require.NoError(t, err)
	defer closeSource()

	store, err := cache.NewMemoryStore(config.CacheMaxEntries, time.Now)
	require.NoError(t, err)
	resultCache, err := cache.NewResultCache(store, config.CacheTTLDuration(), config.CacheCompression)
	require.NoError(t, err)
	defer resultCache.Close()

	svc := service.NewService(src, resultCache, energy.NewAggregator(service.AggregatorConfig(config), time.Now))
	server := httptest.NewServer(api.NewServer(svc, false).Router())
	defer server.Close()

	apiClient := client.New(server.URL, 5*time.Second)

	t.Run("system report", func(t *testing.T) {
		report, err := apiClient.SystemStats(ctx, integrationContract, false)
		require.NoError(t, err)
		assert.Equal(t, uint64(240), report.Stats.TotalEnergyHarvested)
		assert.Equal(t, 1, report.Stats.UniqueUsers)
	})

	t.Run("user stats", func(t *testing.T) {
		stats, err := apiClient.UserStats(ctx, integrationContract, holder, false)
		require.NoError(t, err)
		assert.True(t, stats.HasData)
		assert.Equal(t, 2, stats.HarvestCount)
		assert.Equal(t, uint64(240), stats.TotalEnergyHarvested)
		assert.Greater(t, stats.EstimatedEnergyRate, 0.0)
	})

	t.Run("live estimate", func(t *testing.T) {
		live := livestate.New(livestate.Config{
			ContractID:     integrationContract,
			PollInterval:   20 * time.Millisecond,
			ReconcileDelay: 50 * time.Millisecond,
			MinutesPerUnit: 10,
		}, apiClient, constantQuote(3))
		defer live.Close()

		live.Bind(ctx, holder)
		require.Eventually(t, func() bool { return live.Snapshot().State == livestate.StateReady }, 5*time.Second, 10*time.Millisecond)

		snap := live.Snapshot()
		assert.Equal(t, uint64(3), snap.PendingUnits)
		assert.InDelta(t, 3*10*snap.Stats.EstimatedEnergyRate, snap.Projected, 1e-9)

		require.NoError(t, live.Harvest())
		assert.Equal(t, livestate.StateOptimistic, live.Snapshot().State)
		require.Eventually(t, func() bool { return live.Snapshot().State == livestate.StateReady }, 5*time.Second, 10*time.Millisecond)
	})
}

func TestIntegration_DataDirectoryHandling(t *testing.T) {
	dataDir := t.TempDir() + "/nested/snapshots"

	store, err := storage.NewFileStore(dataDir)
	require.NoError(t, err)
	defer store.Close()

	_, err = source.NewFileSource(store).FetchHarvestLogs(context.Background(), integrationContract)
	assert.ErrorIs(t, err, source.ErrUpstream)
}
