package performance

import (
	"errors"
	"fmt"
)

var ErrNoConvergence = errors.New("least squares did not converge")

// DataError reports calibration input that cannot be fitted. Index is the
// offending observation, or -1 when the set as a whole is at fault.
type DataError struct {
	Index  int
	Reason string
}

func (e *DataError) Error() string {
	if e.Index < 0 {
		return "calibration data: " + e.Reason
	}
	return fmt.Sprintf("calibration data: observation %d: %s", e.Index, e.Reason)
}
