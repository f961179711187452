package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/source"
	"github.com/weiihann/energy-stats-indexer/pkg/storage"
	"github.com/weiihann/energy-stats-indexer/pkg/utils"
)

var (
	compressContracts      []string
	compressAll            bool
	compressDryRun         bool
	compressOverwrite      bool
	compressDeleteOriginal bool
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress harvest log snapshots in the data directory to zstd format",
	Long: `Compress plain JSON harvest log snapshots to zstd format to save storage space.
The file log source reads compressed snapshots transparently.

Examples:
  # Compress the snapshot of one contract
  energy-stats-indexer compress --contract SP000000000000000000002Q6VF78.energize

  # Compress every snapshot in the data directory
  energy-stats-indexer compress --all

  # Preview what would be compressed without actually doing it
  energy-stats-indexer compress --all --dry-run`,
	Run: compress,
}

func compress(cmd *cobra.Command, args []string) {
	log := logger.GetLogger("compress")

	config := loadConfig()

	log.Info("Starting compression process",
		"data_dir", config.DataDir,
		"dry_run", compressDryRun,
		"overwrite", compressOverwrite,
		"delete", compressDeleteOriginal,
	)

	var files []string
	var err error
	if compressAll {
		files, err = getAllSnapshotFiles(config.DataDir)
	} else {
		files, err = getSnapshotFiles(config.DataDir, compressContracts)
	}
	if err != nil {
		log.Error("Failed to collect snapshot files", "error", err)
		os.Exit(1)
	}

	if len(files) == 0 {
		log.Info("No JSON snapshots found to compress")
		return
	}

	if compressDryRun {
		log.Info("DRY RUN - Files that would be compressed:")
		for _, file := range files {
			if compressedExists(config.DataDir, file) && !compressOverwrite {
				log.Info("Would skip (already exists)", "file", file)
			} else {
				log.Info("Would compress", "file", file, "compressed", file+".zst")
			}
		}
		log.Info("Dry run completed", "total_files", len(files))
		return
	}

	store, err := storage.NewFileStoreWithCompression(config.DataDir, true)
	if err != nil {
		log.Error("Failed to open data directory", "error", err, "path", config.DataDir)
		os.Exit(1)
	}
	defer store.Close()

	stats := compressSnapshots(log, store, files, compressOverwrite, compressDeleteOriginal)

	log.Info("Compression completed",
		"total_files", stats.totalFiles,
		"compressed_files", stats.compressedFiles,
		"skipped_files", stats.skippedFiles,
		"failed_files", stats.failedFiles,
		"original_size_kb", fmt.Sprintf("%.2f", float64(stats.originalSize)/1024),
		"compressed_size_kb", fmt.Sprintf("%.2f", float64(stats.compressedSize)/1024),
		"compression_ratio", fmt.Sprintf("%.2f%%", stats.compressionRatio))
}

type compressionStats struct {
	totalFiles       int
	compressedFiles  int
	skippedFiles     int
	failedFiles      int
	originalSize     int64
	compressedSize   int64
	compressionRatio float64
}

func compressSnapshots(log *slog.Logger, store *storage.FileStore, files []string, overwrite, deleteOriginal bool) compressionStats {
	stats := compressionStats{totalFiles: len(files)}

	for _, file := range files {
		original := filepath.Join(store.Path, file)

		if compressedExists(store.Path, file) && !overwrite {
			log.Debug("Skipping file (already compressed)", "file", file)
			stats.skippedFiles++
			if deleteOriginal {
				if err := os.Remove(original); err != nil && !os.IsNotExist(err) {
					log.Error("Failed to delete original file", "file", file, "error", err)
					stats.failedFiles++
				}
			}
			continue
		}

		data, err := os.ReadFile(original)
		if err != nil {
			log.Error("Failed to read file", "file", file, "error", err)
			stats.failedFiles++
			continue
		}

		if err := store.SaveCompressed(file, data); err != nil {
			log.Error("Failed to compress file", "file", file, "error", err)
			stats.failedFiles++
			continue
		}

		info, err := os.Stat(original + ".zst")
		if err != nil {
			log.Error("Compressed file missing after write", "file", file, "error", err)
			stats.failedFiles++
			continue
		}

		if deleteOriginal {
			if err := os.Remove(original); err != nil {
				log.Error("Failed to delete original file", "file", file, "error", err)
				stats.failedFiles++
				continue
			}
		}

		stats.compressedFiles++
		stats.originalSize += int64(len(data))
		stats.compressedSize += info.Size()

		log.Debug("Successfully compressed file",
			"file", file,
			"original_size", len(data),
			"compressed_size", info.Size(),
			"ratio", fmt.Sprintf("%.2f%%", utils.GetCompressionRatio(len(data), int(info.Size()))))
	}

	if stats.originalSize > 0 {
		stats.compressionRatio = utils.GetCompressionRatio(int(stats.originalSize), int(stats.compressedSize))
	}
	return stats
}

func compressedExists(dataDir, file string) bool {
	_, err := os.Stat(filepath.Join(dataDir, file+".zst"))
	return err == nil
}

func getAllSnapshotFiles(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}

func getSnapshotFiles(dataDir string, contracts []string) ([]string, error) {
	var files []string
	for _, contract := range contracts {
		name := source.SnapshotName(contract)
		if _, err := os.Stat(filepath.Join(dataDir, name)); err == nil {
			files = append(files, name)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to check file %s: %w", name, err)
		}
	}
	return files, nil
}

func init() {
	compressCmd.Flags().StringSliceVar(&compressContracts, "contract", nil, "Contract whose snapshot should be compressed (repeatable)")
	compressCmd.Flags().BoolVar(&compressAll, "all", false, "Compress all JSON snapshots in the data directory")
	compressCmd.Flags().BoolVar(&compressDryRun, "dry-run", false, "Preview what would be compressed without actually doing it")
	compressCmd.Flags().BoolVar(&compressOverwrite, "overwrite", false, "Overwrite existing .json.zst files")
	compressCmd.Flags().BoolVar(&compressDeleteOriginal, "delete", false, "Delete original JSON files after compression")

	compressCmd.MarkFlagsMutuallyExclusive("all", "contract")
	compressCmd.MarkFlagsOneRequired("all", "contract")

	rootCmd.AddCommand(compressCmd)
}
