package energy

import (
	"encoding/json"
	"strconv"
	"time"
)

// HarvestLogEntry is one raw harvest event as reported by the chain indexer.
// Optional fields are pointers so that absent values can be told apart from zero.
type HarvestLogEntry struct {
	Sender       string  `json:"sender"`
	Energy       *uint64 `json:"energy,omitempty"`
	Integral     *uint64 `json:"integral,omitempty"`
	TxID         string  `json:"txId"`
	BlockHeight  *int64  `json:"blockHeight,omitempty"`
	BlockTime    *int64  `json:"blockTime,omitempty"`
	BlockTimeISO string  `json:"blockTimeIso,omitempty"`
}

// UnmarshalJSON decodes a row field by field. A value of the wrong type,
// a negative or fractional amount, or an overflowing number leaves that
// field absent instead of failing the whole document, so Validate can
// reject the row on its own. A row that is not an object decodes empty.
func (e *HarvestLogEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Sender       json.RawMessage `json:"sender"`
		Energy       json.RawMessage `json:"energy"`
		Integral     json.RawMessage `json:"integral"`
		TxID         json.RawMessage `json:"txId"`
		BlockHeight  json.RawMessage `json:"blockHeight"`
		BlockTime    json.RawMessage `json:"blockTime"`
		BlockTimeISO json.RawMessage `json:"blockTimeIso"`
	}
	*e = HarvestLogEntry{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	e.Sender = rawString(raw.Sender)
	e.Energy = rawUnsigned(raw.Energy)
	e.Integral = rawUnsigned(raw.Integral)
	e.TxID = rawString(raw.TxID)
	e.BlockHeight = rawSigned(raw.BlockHeight)
	e.BlockTime = rawSigned(raw.BlockTime)
	e.BlockTimeISO = rawString(raw.BlockTimeISO)
	return nil
}

func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func rawUnsigned(raw json.RawMessage) *uint64 {
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func rawSigned(raw json.RawMessage) *int64 {
	v, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func (e HarvestLogEntry) energy() uint64 {
	if e.Energy == nil {
		return 0
	}
	return *e.Energy
}

func (e HarvestLogEntry) integral() uint64 {
	if e.Integral == nil {
		return 0
	}
	return *e.Integral
}

func (e HarvestLogEntry) height() int64 {
	if e.BlockHeight == nil {
		return 0
	}
	return *e.BlockHeight
}

// HarvestRecord is a normalized entry of a user's harvest history.
type HarvestRecord struct {
	Timestamp   int64  `json:"timestamp"`
	Energy      uint64 `json:"energy"`
	Integral    uint64 `json:"integral"`
	BlockHeight int64  `json:"blockHeight"`
	TxID        string `json:"txId"`
}

type UserEnergyStats struct {
	Address                 string          `json:"address"`
	TotalEnergyHarvested    uint64          `json:"totalEnergyHarvested"`
	TotalIntegralCalculated uint64          `json:"totalIntegralCalculated"`
	HarvestCount            int             `json:"harvestCount"`
	AverageEnergyPerHarvest float64         `json:"averageEnergyPerHarvest"`
	LastHarvestTimestamp    int64           `json:"lastHarvestTimestamp"`
	EstimatedEnergyRate     float64         `json:"estimatedEnergyRate"`
	EstimatedIntegralRate   float64         `json:"estimatedIntegralRate"`
	HarvestHistory          []HarvestRecord `json:"harvestHistory"`
	HasData                 bool            `json:"hasData"`
}

type SystemEnergyStats struct {
	TotalEnergyHarvested      uint64    `json:"totalEnergyHarvested"`
	TotalIntegralCalculated   uint64    `json:"totalIntegralCalculated"`
	UniqueUsers               int       `json:"uniqueUsers"`
	AverageEnergyPerHarvest   float64   `json:"averageEnergyPerHarvest"`
	AverageIntegralPerHarvest float64   `json:"averageIntegralPerHarvest"`
	LastUpdated               time.Time `json:"lastUpdated"`
}

type UserRate struct {
	Address         string  `json:"address"`
	EnergyPerMinute float64 `json:"energyPerMinute"`
}

type RatePoint struct {
	Timestamp int64   `json:"timestamp"`
	Rate      float64 `json:"rate"`
}

type RateHistoryTimeframes struct {
	Daily   []RatePoint `json:"daily"`
	Weekly  []RatePoint `json:"weekly"`
	Monthly []RatePoint `json:"monthly"`
}

type EnergyRates struct {
	OverallEnergyPerMinute   float64               `json:"overallEnergyPerMinute"`
	OverallIntegralPerMinute float64               `json:"overallIntegralPerMinute"`
	TopUserRates             []UserRate            `json:"topUserRates"`
	RateHistoryTimeframes    RateHistoryTimeframes `json:"rateHistoryTimeframes"`
}

// SystemReport is the combined system-scope result served by the API.
type SystemReport struct {
	Stats SystemEnergyStats `json:"stats"`
	Rates EnergyRates       `json:"rates"`
}
