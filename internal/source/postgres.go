package source

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/metrics"
)

// querier is the subset of pgxpool.Pool used by PostgresSource.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PostgresSource reads harvest logs mirrored into the harvest_logs table.
// NULL columns map to absent fields so that row validation sees the same
// shape as the indexer API.
type PostgresSource struct {
	db querier
}

var _ Source = (*PostgresSource)(nil)

func NewPostgresSource(db querier) *PostgresSource {
	return &PostgresSource{db: db}
}

func (s *PostgresSource) FetchHarvestLogs(ctx context.Context, contractID string) ([]energy.HarvestLogEntry, error) {
	const query = `
		SELECT sender, energy, integral, tx_id, block_height, block_time, block_time_iso
		FROM harvest_logs
		WHERE contract_id = $1
		ORDER BY id`

	rows, err := s.db.Query(ctx, query, contractID)
	if err != nil {
		metrics.UpstreamFetchFailures.WithLabelValues("postgres").Inc()
		return nil, fmt.Errorf("%w: could not query harvest logs for %s: %w", ErrUpstream, contractID, err)
	}
	defer rows.Close()

	logs := []energy.HarvestLogEntry{}
	for rows.Next() {
		var (
			sender, txID, blockTimeISO *string
			energyVal, integral        *int64
			entry                      energy.HarvestLogEntry
		)
		if err := rows.Scan(&sender, &energyVal, &integral, &txID, &entry.BlockHeight, &entry.BlockTime, &blockTimeISO); err != nil {
			metrics.UpstreamFetchFailures.WithLabelValues("postgres").Inc()
			return nil, fmt.Errorf("%w: could not scan harvest log row: %w", ErrUpstream, err)
		}

		entry.Sender = deref(sender)
		entry.TxID = deref(txID)
		entry.BlockTimeISO = deref(blockTimeISO)
		entry.Energy = toUnsigned(energyVal)
		entry.Integral = toUnsigned(integral)
		logs = append(logs, entry)
	}

	if err := rows.Err(); err != nil {
		metrics.UpstreamFetchFailures.WithLabelValues("postgres").Inc()
		return nil, fmt.Errorf("%w: error iterating harvest logs: %w", ErrUpstream, err)
	}

	metrics.UpstreamRowsFetched.WithLabelValues("postgres").Add(float64(len(logs)))
	return logs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// toUnsigned drops negative amounts, which the contract can never emit.
func toUnsigned(v *int64) *uint64 {
	if v == nil || *v < 0 {
		return nil
	}
	u := uint64(*v)
	return &u
}
