package monitoring

import (
	"fmt"
	"strings"
)

// TopologyInconsistency records a device that references an unknown station.
// It is never fatal; the device is kept with unknown station metadata.
type TopologyInconsistency struct {
	Serial    string
	StationID int64
}

func (e *TopologyInconsistency) Error() string {
	return fmt.Sprintf("monitoring: device %s references unknown station %d", e.Serial, e.StationID)
}

// PartialCollectionError aggregates the soft failures of an otherwise successful pass.
type PartialCollectionError struct {
	Failures []error
}

func (e *PartialCollectionError) Error() string {
	if e == nil || len(e.Failures) == 0 {
		return "monitoring: partial collection"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, failure := range e.Failures {
		parts = append(parts, failure.Error())
	}
	return fmt.Sprintf("monitoring: partial collection (%d failures): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is/As.
func (e *PartialCollectionError) Unwrap() []error {
	if e == nil {
		return nil
	}
	return e.Failures
}

// Add appends a failure.
func (e *PartialCollectionError) Add(err error) {
	if e == nil || err == nil {
		return
	}
	e.Failures = append(e.Failures, err)
}

// ErrOrNil returns e when it holds failures.
func (e *PartialCollectionError) ErrOrNil() error {
	if e == nil || len(e.Failures) == 0 {
		return nil
	}
	return e
}
