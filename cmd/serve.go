package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/api"
	"github.com/weiihann/energy-stats-indexer/internal/cache"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/service"
	"github.com/weiihann/energy-stats-indexer/internal/source"
)

var (
	autoMigrate    bool
	migrationsPath string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve user and system energy statistics over HTTP",
	Long:  `This command wires the configured harvest log source, the result cache and the aggregator behind the HTTP API. Results are cached for CACHE_TTL_SECONDS and can be recomputed on demand with ?refresh=true.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.GetLogger("serve-cmd")

		config := loadConfig()

		log.Info("Configuration loaded successfully",
			"environment", config.Environment,
			"api_port", config.APIPort,
			"api_host", config.APIHost,
			"log_source", config.LogSource,
			"cache_backend", config.CacheBackend,
			"cache_ttl", config.CacheTTLDuration(),
			"cache_compression", config.CacheCompression)

		if autoMigrate && strings.EqualFold(config.LogSource, "postgres") {
			log.Info("Checking database migrations...")
			if err := RunMigrationsUp(config, migrationsPath); err != nil {
				log.Error("Failed to run database migrations", "error", err)
				os.Exit(1)
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		log.Info("Initializing harvest log source...", "source", config.LogSource)
		src, closeSource, err := source.NewSource(ctx, config)
		if err != nil {
			log.Error("Failed to create harvest log source", "error", err, "source", config.LogSource)
			os.Exit(1)
		}
		defer closeSource()

		log.Info("Initializing result cache...", "backend", config.CacheBackend)
		store, closeStore, err := newCacheStore(ctx, config)
		if err != nil {
			log.Error("Failed to create cache store", "error", err, "backend", config.CacheBackend)
			os.Exit(1)
		}
		defer closeStore()

		resultCache, err := cache.NewResultCache(store, config.CacheTTLDuration(), config.CacheCompression)
		if err != nil {
			log.Error("Failed to create result cache", "error", err)
			os.Exit(1)
		}
		defer resultCache.Close()

		aggregator := energy.NewAggregator(service.AggregatorConfig(config), time.Now)
		svc := service.NewService(src, resultCache, aggregator)

		log.Info("Initializing API server...", "host", config.APIHost, "port", config.APIPort)
		apiServer := api.NewServer(svc, config.IsProduction())

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Run(ctx, config.APIHost, config.APIPort); err != nil {
				log.Error("API server error", "error", err, "host", config.APIHost, "port", config.APIPort)
			}
		}()

		log.Info("All services started successfully",
			"api_url", fmt.Sprintf("http://%s:%d", config.APIHost, config.APIPort),
			"environment", config.Environment)
		log.Info("Press Ctrl+C to stop all services")

		<-sigChan
		log.Info("Received shutdown signal, stopping all services...")
		cancel()

		wg.Wait()
		log.Info("All services stopped gracefully")
	},
}

// newCacheStore builds the store selected by CACHE_BACKEND. An unreachable
// Redis is only logged: lookups then miss and every request recomputes.
func newCacheStore(ctx context.Context, config internal.Config) (cache.Store, func(), error) {
	log := logger.GetLogger("cache-setup")

	switch strings.ToLower(config.CacheBackend) {
	case "redis":
		store := cache.NewRedisStore(config.RedisAddr, config.RedisDB, config.RedisPassword)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			log.Warn("Redis is not reachable, results will be recomputed until it recovers", "addr", config.RedisAddr, "error", err)
		}
		return store, func() { store.Close() }, nil
	case "memory", "":
		store, err := cache.NewMemoryStore(config.CacheMaxEntries, time.Now)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", config.CacheBackend)
	}
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "Apply pending migrations on startup when LOG_SOURCE is postgres")
	serveCmd.Flags().StringVar(&migrationsPath, "migrations-path", "db/migrations", "Directory holding the SQL migrations")
	rootCmd.AddCommand(serveCmd)
}
