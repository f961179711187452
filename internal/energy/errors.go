package energy

import (
	"errors"
	"fmt"
)

// Ignorable row errors. Rows failing validation are excluded from
// aggregation and never surfaced to API callers.
var (
	ErrMissingSender = errors.New("harvest row has no sender")
	ErrMissingEnergy = errors.New("harvest row has no energy value")
)

// RowError identifies a rejected row of a harvest log.
type RowError struct {
	Index int
	TxID  string
	Err   error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d (tx %q): %v", e.Index, e.TxID, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// IsIgnorable reports whether err belongs to a category that must be
// swallowed rather than returned to a caller.
func IsIgnorable(err error) bool {
	return errors.Is(err, ErrMissingSender) || errors.Is(err, ErrMissingEnergy)
}

// Validate splits a log into rows usable by the aggregators and the
// rejected remainder. The order of accepted rows is preserved.
func Validate(logs []HarvestLogEntry) ([]HarvestLogEntry, []*RowError) {
	accepted := make([]HarvestLogEntry, 0, len(logs))
	var rejected []*RowError

	for i, entry := range logs {
		if err := validateRow(entry); err != nil {
			rejected = append(rejected, &RowError{Index: i, TxID: entry.TxID, Err: err})
			continue
		}
		accepted = append(accepted, entry)
	}

	return accepted, rejected
}

func validateRow(entry HarvestLogEntry) error {
	if entry.Sender == "" {
		return ErrMissingSender
	}
	if entry.Energy == nil {
		return ErrMissingEnergy
	}
	return nil
}
