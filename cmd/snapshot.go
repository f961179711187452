package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/source"
	"github.com/weiihann/energy-stats-indexer/pkg/storage"
)

var (
	snapshotContracts []string
	snapshotCompress  bool
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Download harvest logs from the chain indexer into the data directory",
	Long: `Fetch the complete harvest log of each contract from INDEXER_URL and store it
under DATA_DIR, where LOG_SOURCE=file serves it without network access.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.GetLogger("snapshot-cmd")

		config := loadConfig()
		if config.IndexerURL == "" {
			log.Error("INDEXER_URL is required to download snapshots")
			os.Exit(1)
		}

		store, err := storage.NewFileStoreWithCompression(config.DataDir, snapshotCompress)
		if err != nil {
			log.Error("Failed to open data directory", "error", err, "path", config.DataDir)
			os.Exit(1)
		}
		defer store.Close()

		src := source.NewHTTPSource(httpSourceConfig(config))

		failed := 0
		for _, contract := range snapshotContracts {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			n, err := downloadSnapshot(ctx, src, store, contract, snapshotCompress)
			cancel()
			if err != nil {
				log.Error("Failed to download snapshot", "contract", contract, "error", err)
				failed++
				continue
			}
			log.Info("Snapshot stored", "contract", contract, "entries", n, "file", source.SnapshotName(contract), "compressed", snapshotCompress)
		}

		if failed > 0 {
			os.Exit(1)
		}
	},
}

func httpSourceConfig(config internal.Config) source.HTTPConfig {
	return source.HTTPConfig{
		BaseURL:    config.IndexerURL,
		Timeout:    time.Duration(config.IndexerTimeout) * time.Second,
		PageSize:   config.IndexerPage,
		MaxRetries: config.FetchRetries,
	}
}

// downloadSnapshot stores the full harvest log of contractID and returns
// the number of entries written.
func downloadSnapshot(ctx context.Context, src source.Source, store *storage.FileStore, contractID string, compressed bool) (int, error) {
	logs, err := src.FetchHarvestLogs(ctx, contractID)
	if err != nil {
		return 0, err
	}

	data, err := json.Marshal(logs)
	if err != nil {
		return 0, fmt.Errorf("could not encode harvest log: %w", err)
	}

	name := source.SnapshotName(contractID)
	if compressed {
		err = store.SaveCompressed(name, data)
	} else {
		err = store.Save(name, data)
	}
	if err != nil {
		return 0, fmt.Errorf("could not write %s: %w", name, err)
	}
	return len(logs), nil
}

func init() {
	snapshotCmd.Flags().StringSliceVar(&snapshotContracts, "contract", nil, "Contract to download (repeatable)")
	snapshotCmd.Flags().BoolVar(&snapshotCompress, "compress", true, "Store snapshots zstd-compressed")
	snapshotCmd.MarkFlagRequired("contract")
	rootCmd.AddCommand(snapshotCmd)
}
