package simulator

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidHysteresis = errors.New("on threshold must be strictly below the off threshold")
	ErrInvalidOptions    = errors.New("invalid simulation options")
	ErrNoAmbient         = errors.New("no ambient temperature profile")
	ErrDiverged          = errors.New("tank temperature is no longer finite")
	ErrInvalidSweep      = errors.New("invalid sweep")
)

// StepError is a failure inside the integration loop. Step is the index being
// computed and Time the elapsed seconds it starts from.
type StepError struct {
	Step int
	Time float64
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (t=%gs): %v", e.Step, e.Time, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
