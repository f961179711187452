package cmd

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/energy-stats-indexer/internal/cache"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/service"
	"github.com/weiihann/energy-stats-indexer/internal/source"
)

var (
	statsContract string
	statsAddress  string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Compute energy statistics once and print them as JSON",
	Long: `Fetch the harvest log of a contract from the configured source, aggregate it
and print the system report, or the stats of one address when --address is set.

Examples:
  energy-stats-indexer stats --contract SP000000000000000000002Q6VF78.energize
  energy-stats-indexer stats --contract SP000000000000000000002Q6VF78.energize --address SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.GetLogger("stats-cmd")

		config := loadConfig()
		ctx := context.Background()

		src, closeSource, err := source.NewSource(ctx, config)
		if err != nil {
			log.Error("Failed to create harvest log source", "error", err, "source", config.LogSource)
			os.Exit(1)
		}
		defer closeSource()

		store, err := cache.NewMemoryStore(1, time.Now)
		if err != nil {
			log.Error("Failed to create cache store", "error", err)
			os.Exit(1)
		}
		resultCache, err := cache.NewResultCache(store, config.CacheTTLDuration(), false)
		if err != nil {
			log.Error("Failed to create result cache", "error", err)
			os.Exit(1)
		}
		defer resultCache.Close()

		svc := service.NewService(src, resultCache, energy.NewAggregator(service.AggregatorConfig(config), time.Now))

		if err := printStats(ctx, os.Stdout, svc, statsContract, statsAddress); err != nil {
			log.Error("Failed to compute statistics", "error", err, "contract", statsContract, "address", statsAddress)
			os.Exit(1)
		}
	},
}

func printStats(ctx context.Context, w io.Writer, svc *service.Service, contractID, address string) error {
	var data any
	if address != "" {
		result, err := svc.UserStats(ctx, contractID, address, true)
		if err != nil {
			return err
		}
		data = result.Data
	} else {
		result, err := svc.SystemStats(ctx, contractID, true)
		if err != nil {
			return err
		}
		data = result.Data
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func init() {
	statsCmd.Flags().StringVar(&statsContract, "contract", "", "Contract identifier whose harvest log is aggregated")
	statsCmd.Flags().StringVar(&statsAddress, "address", "", "Print the stats of this address instead of the system report")
	statsCmd.MarkFlagRequired("contract")
	rootCmd.AddCommand(statsCmd)
}
