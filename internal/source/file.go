package source

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/metrics"
	"github.com/weiihann/energy-stats-indexer/pkg/storage"
)

// FileSource serves harvest logs from snapshots written by the snapshot
// command: <DATA_DIR>/<contractId>.json, optionally zstd-compressed.
type FileSource struct {
	store *storage.FileStore
}

var _ Source = (*FileSource)(nil)

func NewFileSource(store *storage.FileStore) *FileSource {
	return &FileSource{store: store}
}

// SnapshotName is the file name a contract's snapshot is stored under.
func SnapshotName(contractID string) string {
	return contractID + ".json"
}

func (s *FileSource) FetchHarvestLogs(_ context.Context, contractID string) ([]energy.HarvestLogEntry, error) {
	data, err := s.store.Load(SnapshotName(contractID))
	if err != nil {
		metrics.UpstreamFetchFailures.WithLabelValues("file").Inc()
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	logs := []energy.HarvestLogEntry{}
	if err := json.Unmarshal(data, &logs); err != nil {
		metrics.UpstreamFetchFailures.WithLabelValues("file").Inc()
		return nil, fmt.Errorf("%w: could not decode snapshot for %s: %w", ErrUpstream, contractID, err)
	}

	if logs == nil {
		logs = []energy.HarvestLogEntry{}
	}

	metrics.UpstreamRowsFetched.WithLabelValues("file").Add(float64(len(logs)))
	return logs, nil
}
