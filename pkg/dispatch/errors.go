package dispatch

import (
	"errors"
	"fmt"

	"github.com/mfaltys/regiond/pkg/probe"
)

var (
	// ErrUnknownRegion is returned when the region id is not in the registry.
	ErrUnknownRegion = errors.New("dispatch: unknown region")

	// ErrRegionDisabled is returned when the region gate rejects the requester.
	ErrRegionDisabled = errors.New("dispatch: region unavailable")

	// ErrFeatureDisabled is returned when the probe kind's feature gate is off.
	ErrFeatureDisabled = errors.New("dispatch: feature disabled")

	// ErrNoRegions is returned when the requester has no enabled regions.
	ErrNoRegions = errors.New("dispatch: no regions available")
)

// RecordError reports that a probe completed but its record could not be
// persisted. The probe outcome is carried along so callers can show it
// without reporting the operation as fully successful.
type RecordError struct {
	Result probe.Result
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("dispatch: check completed but recording failed: %v", e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}
