package energy

import (
	"sort"
	"time"
)

const (
	DefaultTopUsers        = 10
	DefaultFallbackMinutes = 1440
)

// Timeframe describes one rate-history view: Count buckets of Width each,
// ending at the time of computation.
type Timeframe struct {
	Width time.Duration
	Count int
}

func (tf Timeframe) orDefault(d Timeframe) Timeframe {
	if tf.Width <= 0 || tf.Count <= 0 {
		return d
	}
	return tf
}

type Config struct {
	// TopUsers bounds the leaderboard length.
	TopUsers int
	// FallbackMinutes is the holding period assumed when a rate cannot be
	// derived from block times.
	FallbackMinutes float64

	Daily   Timeframe
	Weekly  Timeframe
	Monthly Timeframe
}

func DefaultConfig() Config {
	return Config{
		TopUsers:        DefaultTopUsers,
		FallbackMinutes: DefaultFallbackMinutes,
		Daily:           Timeframe{Width: time.Hour, Count: 24},
		Weekly:          Timeframe{Width: 24 * time.Hour, Count: 7},
		Monthly:         Timeframe{Width: 72 * time.Hour, Count: 10},
	}
}

// Aggregator reduces harvest logs into user and system statistics. It holds
// no state besides its configuration and is safe for concurrent use.
type Aggregator struct {
	config Config
	now    func() time.Time
}

// NewAggregator returns an Aggregator. A nil clock defaults to time.Now.
func NewAggregator(config Config, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	if config.FallbackMinutes <= 0 {
		config.FallbackMinutes = DefaultFallbackMinutes
	}
	if config.TopUsers <= 0 {
		config.TopUsers = DefaultTopUsers
	}
	defaults := DefaultConfig()
	config.Daily = config.Daily.orDefault(defaults.Daily)
	config.Weekly = config.Weekly.orDefault(defaults.Weekly)
	config.Monthly = config.Monthly.orDefault(defaults.Monthly)
	return &Aggregator{config: config, now: now}
}

// User computes the statistics of a single address. An address without
// matching rows yields zero values with HasData unset.
func (a *Aggregator) User(logs []HarvestLogEntry, address string) UserEnergyStats {
	now := a.now()

	var matched []HarvestLogEntry
	for _, entry := range logs {
		if entry.Sender == address && entry.Energy != nil {
			matched = append(matched, entry)
		}
	}

	stats := UserEnergyStats{
		Address:        address,
		HarvestHistory: []HarvestRecord{},
	}
	if len(matched) == 0 {
		return stats
	}

	sortByHeight(matched)

	history := make([]HarvestRecord, 0, len(matched))
	for _, entry := range matched {
		record := HarvestRecord{
			Timestamp:   ResolveTimestamp(entry.BlockTimeISO, entry.BlockTime, now),
			Energy:      entry.energy(),
			Integral:    entry.integral(),
			BlockHeight: entry.height(),
			TxID:        entry.TxID,
		}
		stats.TotalEnergyHarvested += record.Energy
		stats.TotalIntegralCalculated += record.Integral
		history = append(history, record)
	}

	span := a.spanMinutes(matched)

	stats.HarvestHistory = history
	stats.HarvestCount = len(history)
	stats.AverageEnergyPerHarvest = float64(stats.TotalEnergyHarvested) / float64(stats.HarvestCount)
	stats.EstimatedEnergyRate = float64(stats.TotalEnergyHarvested) / span
	stats.EstimatedIntegralRate = float64(stats.TotalIntegralCalculated) / span
	stats.LastHarvestTimestamp = latestTimestamp(history)
	stats.HasData = true

	return stats
}

// System computes the contract-wide statistics, leaderboard and rate history.
func (a *Aggregator) System(logs []HarvestLogEntry) SystemReport {
	now := a.now()
	valid, _ := Validate(logs)

	report := SystemReport{
		Stats: SystemEnergyStats{LastUpdated: now.UTC()},
		Rates: EnergyRates{
			TopUserRates: []UserRate{},
			RateHistoryTimeframes: RateHistoryTimeframes{
				Daily:   []RatePoint{},
				Weekly:  []RatePoint{},
				Monthly: []RatePoint{},
			},
		},
	}
	if len(valid) == 0 {
		return report
	}

	senders := make(map[string][]HarvestLogEntry)
	var order []string
	for _, entry := range valid {
		report.Stats.TotalEnergyHarvested += entry.energy()
		report.Stats.TotalIntegralCalculated += entry.integral()
		if _, ok := senders[entry.Sender]; !ok {
			order = append(order, entry.Sender)
		}
		senders[entry.Sender] = append(senders[entry.Sender], entry)
	}

	count := float64(len(valid))
	report.Stats.UniqueUsers = len(senders)
	report.Stats.AverageEnergyPerHarvest = float64(report.Stats.TotalEnergyHarvested) / count
	report.Stats.AverageIntegralPerHarvest = float64(report.Stats.TotalIntegralCalculated) / count

	sorted := append([]HarvestLogEntry(nil), valid...)
	sortByHeight(sorted)
	span := a.spanMinutes(sorted)
	report.Rates.OverallEnergyPerMinute = float64(report.Stats.TotalEnergyHarvested) / span
	report.Rates.OverallIntegralPerMinute = float64(report.Stats.TotalIntegralCalculated) / span

	report.Rates.TopUserRates = a.leaderboard(senders, order)

	events := make([]timedEnergy, 0, len(valid))
	for _, entry := range valid {
		events = append(events, timedEnergy{
			timestamp: ResolveTimestamp(entry.BlockTimeISO, entry.BlockTime, now),
			energy:    entry.energy(),
		})
	}
	report.Rates.RateHistoryTimeframes = RateHistoryTimeframes{
		Daily:   bucketRates(events, a.config.Daily, now),
		Weekly:  bucketRates(events, a.config.Weekly, now),
		Monthly: bucketRates(events, a.config.Monthly, now),
	}

	return report
}

func (a *Aggregator) leaderboard(senders map[string][]HarvestLogEntry, order []string) []UserRate {
	rates := make([]UserRate, 0, len(order))
	for _, sender := range order {
		entries := senders[sender]
		sortByHeight(entries)

		var total uint64
		for _, entry := range entries {
			total += entry.energy()
		}
		rates = append(rates, UserRate{
			Address:         sender,
			EnergyPerMinute: float64(total) / a.spanMinutes(entries),
		})
	}

	sort.SliceStable(rates, func(i, j int) bool {
		if rates[i].EnergyPerMinute != rates[j].EnergyPerMinute {
			return rates[i].EnergyPerMinute > rates[j].EnergyPerMinute
		}
		return rates[i].Address < rates[j].Address
	})

	if len(rates) > a.config.TopUsers {
		rates = rates[:a.config.TopUsers]
	}
	return rates
}

// spanMinutes returns the holding period of entries sorted by block height.
// It uses the block times of the first and last entry, never less than one
// minute, and the configured fallback when either end has no block time.
func (a *Aggregator) spanMinutes(sorted []HarvestLogEntry) float64 {
	if len(sorted) > 1 {
		first, last := sorted[0].BlockTime, sorted[len(sorted)-1].BlockTime
		if first != nil && last != nil {
			return max(1, float64(*last-*first)/60)
		}
	}
	return a.config.FallbackMinutes
}

func sortByHeight(entries []HarvestLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].height() < entries[j].height()
	})
}

// latestTimestamp orders by time independently of block height; the two are
// not guaranteed to agree.
func latestTimestamp(history []HarvestRecord) int64 {
	byTime := append([]HarvestRecord(nil), history...)
	sort.SliceStable(byTime, func(i, j int) bool {
		return byTime[i].Timestamp > byTime[j].Timestamp
	})
	return byTime[0].Timestamp
}
