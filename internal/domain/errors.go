package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMissingProductID = errors.New("product_sales goal has no product_id")
	ErrInvalidMetric    = errors.New("unknown metric type")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrNotManual        = errors.New("goal progress is computed from sales data")
	ErrGoalArchived     = errors.New("goal is archived")
	ErrEntryNotFound    = errors.New("ledger entry not found")
	ErrNoEntries        = errors.New("ledger has no entries")
	ErrLegacyEntry      = errors.New("legacy credit sale entries cannot be edited")
	ErrNotAnomalous     = errors.New("record balance is explained by its entries")
	ErrNoRecord         = errors.New("party has no ledger record")
	ErrAnomalous        = errors.New("record balance has no supporting entries; clear it first")
)

// DataSourceError wraps a failed read or write against the backing store.
type DataSourceError struct {
	Op  string
	Err error
}

func (e *DataSourceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *DataSourceError) Unwrap() error { return e.Err }

// InvariantViolation reports a request the data model cannot honor.
type InvariantViolation struct {
	Err    error
	Detail string
}

func (e *InvariantViolation) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

func (e *InvariantViolation) Unwrap() error { return e.Err }

// Violation builds an InvariantViolation around one of the sentinel errors.
func Violation(err error, format string, args ...any) error {
	return &InvariantViolation{Err: err, Detail: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when a ledger record changed underneath a mutation.
// The whole mutation was rolled back and may be retried.
type ConflictError struct {
	RecordID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("ledger record %s was modified concurrently; retry", e.RecordID)
}

func (e *ConflictError) Retriable() bool { return true }

func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}
