package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/weiihann/energy-stats-indexer/internal"
	"github.com/weiihann/energy-stats-indexer/internal/cache"
	"github.com/weiihann/energy-stats-indexer/internal/energy"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/internal/metrics"
	"github.com/weiihann/energy-stats-indexer/internal/source"
)

// ErrInvalidArgument marks requests rejected before any work is done.
var ErrInvalidArgument = errors.New("invalid argument")

// Result is an aggregation outcome tagged with its provenance.
type Result[T any] struct {
	Data      T
	FromCache bool
}

// Service answers user and system statistics requests, serving from the
// result cache unless a refresh is forced.
type Service struct {
	source     source.Source
	cache      *cache.ResultCache
	aggregator *energy.Aggregator
	log        *slog.Logger
}

func NewService(src source.Source, resultCache *cache.ResultCache, aggregator *energy.Aggregator) *Service {
	return &Service{
		source:     src,
		cache:      resultCache,
		aggregator: aggregator,
		log:        logger.GetLogger("energy-service"),
	}
}

// AggregatorConfig maps the runtime configuration onto aggregation settings.
func AggregatorConfig(config internal.Config) energy.Config {
	return energy.Config{
		TopUsers:        config.TopUsersLimit,
		FallbackMinutes: float64(config.RateFallbackMinutes),
		Daily:           energy.Timeframe{Width: time.Duration(config.DailyBucketMinutes) * time.Minute, Count: config.DailyBucketCount},
		Weekly:          energy.Timeframe{Width: time.Duration(config.WeeklyBucketMinutes) * time.Minute, Count: config.WeeklyBucketCount},
		Monthly:         energy.Timeframe{Width: time.Duration(config.MonthlyBucketMinutes) * time.Minute, Count: config.MonthlyBucketCount},
	}
}

func (s *Service) SystemStats(ctx context.Context, contractID string, refresh bool) (Result[energy.SystemReport], error) {
	contractID = strings.TrimSpace(contractID)
	if contractID == "" {
		return Result[energy.SystemReport]{}, fmt.Errorf("%w: contract id is required", ErrInvalidArgument)
	}

	key := cache.SystemKey(contractID)
	report, fromCache, err := cache.Fetch(ctx, s.cache, key, refresh, func(ctx context.Context) (energy.SystemReport, error) {
		start := time.Now()
		logs, err := s.fetchLogs(ctx, contractID)
		if err != nil {
			return energy.SystemReport{}, err
		}
		report := s.aggregator.System(logs)
		metrics.AggregationDuration.WithLabelValues(string(cache.ScopeSystem)).Observe(time.Since(start).Seconds())
		return report, nil
	})
	if err != nil {
		s.log.Error("System stats aggregation failed", "contract_id", contractID, "refresh", refresh, "error", err)
		return Result[energy.SystemReport]{}, err
	}

	s.log.Debug("Served system stats",
		"contract_id", contractID,
		"refresh", refresh,
		"from_cache", fromCache,
		"unique_users", report.Stats.UniqueUsers)
	return Result[energy.SystemReport]{Data: report, FromCache: fromCache}, nil
}

func (s *Service) UserStats(ctx context.Context, contractID, address string, refresh bool) (Result[energy.UserEnergyStats], error) {
	contractID = strings.TrimSpace(contractID)
	address = strings.TrimSpace(address)
	if contractID == "" {
		return Result[energy.UserEnergyStats]{}, fmt.Errorf("%w: contract id is required", ErrInvalidArgument)
	}
	if address == "" {
		return Result[energy.UserEnergyStats]{}, fmt.Errorf("%w: address is required", ErrInvalidArgument)
	}

	key := cache.UserKey(contractID, address)
	stats, fromCache, err := cache.Fetch(ctx, s.cache, key, refresh, func(ctx context.Context) (energy.UserEnergyStats, error) {
		start := time.Now()
		logs, err := s.fetchLogs(ctx, contractID)
		if err != nil {
			return energy.UserEnergyStats{}, err
		}
		stats := s.aggregator.User(logs, address)
		metrics.AggregationDuration.WithLabelValues(string(cache.ScopeUser)).Observe(time.Since(start).Seconds())
		return stats, nil
	})
	if err != nil {
		s.log.Error("User stats aggregation failed",
			"contract_id", contractID,
			"address", address,
			"refresh", refresh,
			"error", err)
		return Result[energy.UserEnergyStats]{}, err
	}

	s.log.Debug("Served user stats",
		"contract_id", contractID,
		"address", address,
		"refresh", refresh,
		"from_cache", fromCache,
		"has_data", stats.HasData)
	return Result[energy.UserEnergyStats]{Data: stats, FromCache: fromCache}, nil
}

func (s *Service) fetchLogs(ctx context.Context, contractID string) ([]energy.HarvestLogEntry, error) {
	logs, err := s.source.FetchHarvestLogs(ctx, contractID)
	if err != nil {
		return nil, err
	}

	if _, rejected := energy.Validate(logs); len(rejected) > 0 {
		metrics.RejectedRows.Add(float64(len(rejected)))
		s.log.Debug("Excluding malformed harvest log rows",
			"contract_id", contractID,
			"rejected", len(rejected),
			"total", len(logs),
			"first_error", rejected[0].Error())
	}
	return logs, nil
}
