package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/database"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/pkg/storage"
)

// ErrUpstream wraps every failure to read a harvest log. Callers map it to
// a server error and must not cache anything derived from the failed read.
var ErrUpstream = errors.New("upstream harvest log unavailable")

// Source fetches the complete harvest log of a contract. Each call returns
// a fresh snapshot owned by the caller.
type Source interface {
	FetchHarvestLogs(ctx context.Context, contractID string) ([]energy.HarvestLogEntry, error)
}

// NewSource builds the Source selected by LOG_SOURCE. The returned close
// function releases any connections the source holds.
func NewSource(ctx context.Context, config internal.Config) (Source, func(), error) {
	switch strings.ToLower(config.LogSource) {
	case "http":
		src := NewHTTPSource(HTTPConfig{
			BaseURL:    config.IndexerURL,
			Timeout:    time.Duration(config.IndexerTimeout) * time.Second,
			PageSize:   config.IndexerPage,
			MaxRetries: config.FetchRetries,
		})
		return src, func() {}, nil
	case "postgres":
		pool, err := database.Connect(ctx, config)
		if err != nil {
			return nil, nil, err
		}
		return NewPostgresSource(pool), pool.Close, nil
	case "file":
		fs, err := storage.NewFileStore(config.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open data dir %s: %w", config.DataDir, err)
		}
		return NewFileSource(fs), func() { fs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown log source %q", config.LogSource)
	}
}
