package rollup

import "errors"

var (
	// ErrInvalidGranularity is returned when granularity is unsupported.
	ErrInvalidGranularity = errors.New("rollup: invalid granularity")
	// ErrInvalidPeriodStart is returned when the period start is zero.
	ErrInvalidPeriodStart = errors.New("rollup: invalid period start")
	// ErrEmptySourceID is returned when a bucket has no source.
	ErrEmptySourceID = errors.New("rollup: empty source id")
	// ErrPeriodMismatch is returned when a reading does not belong to the bucket period.
	ErrPeriodMismatch = errors.New("rollup: reading outside bucket period")
	// ErrNotFound is returned when a bucket does not exist.
	ErrNotFound = errors.New("rollup: not found")
	// ErrTransactionConflict is returned by stores when a read-modify-write lost a race.
	ErrTransactionConflict = errors.New("rollup: transaction conflict")
	// ErrOutOfOrder is returned when a reading is older than the last one ingested for its source.
	ErrOutOfOrder = errors.New("rollup: out of order reading")
)
