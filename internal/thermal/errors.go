package thermal

import "errors"

var (
	ErrDivisionByZero  = errors.New("division by zero")
	ErrInvalidGeometry = errors.New("invalid tank geometry")
	ErrSeriesMismatch  = errors.New("value and time series do not match")
)
