// Package ambient provides the outdoor temperature the tank loses heat to and
// the heat pump evaporator draws from.
package ambient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"
)

var (
	ErrTooFewSamples  = errors.New("at least 2 samples are required")
	ErrNotIncreasing  = errors.New("sample times must be strictly increasing")
	ErrLengthMismatch = errors.New("hours and temperatures differ in length")
	ErrNonFinite      = errors.New("non-finite sample")
)

// Profile samples the outdoor temperature in Kelvin at a time in hours from
// the start of the run.
type Profile interface {
	Sample(hours float64) float64
}

// Constant is a fixed ambient temperature in Kelvin.
type Constant float64

func (c Constant) Sample(float64) float64 { return float64(c) }

// Series interpolates an hourly temperature series with a monotone cubic.
// It reproduces the samples exactly, never overshoots between them and holds
// the end values outside the sampled range.
type Series struct {
	hours  []float64
	kelvin []float64
	fb     interp.FritschButland
}

func NewSeries(hours, kelvin []float64) (*Series, error) {
	if len(hours) != len(kelvin) {
		return nil, ErrLengthMismatch
	}
	if len(hours) < 2 {
		return nil, ErrTooFewSamples
	}
	for i := range hours {
		if !finite(hours[i]) || !finite(kelvin[i]) {
			return nil, fmt.Errorf("sample %d: %w", i, ErrNonFinite)
		}
		if i > 0 && hours[i] <= hours[i-1] {
			return nil, fmt.Errorf("sample %d: %w", i, ErrNotIncreasing)
		}
	}

	s := &Series{
		hours:  append([]float64(nil), hours...),
		kelvin: append([]float64(nil), kelvin...),
	}
	if err := s.fb.Fit(s.hours, s.kelvin); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Series) Sample(hours float64) float64 {
	return s.fb.Predict(hours)
}

// Span returns the first and last sampled hour.
func (s *Series) Span() (float64, float64) {
	return s.hours[0], s.hours[len(s.hours)-1]
}

// LoadCSV reads a two-column file with a header row:
//
//	timestamp,temp_c
//	2024-01-15T00:00:00Z,3.4
//
// The first column is either an RFC 3339 timestamp, converted to hours since
// the first row, or a plain number of hours.
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open ambient csv %s", path)
	}
	defer f.Close()

	s, err := ParseCSV(f)
	if err != nil {
		return nil, pkgerrors.WithMessagef(err, "ambient csv %s", path)
	}
	return s, nil
}

func ParseCSV(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var (
		hours, kelvin []float64
		origin        time.Time
	)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading line %d: %w", line, err)
		}

		h, err := parseHours(strings.TrimSpace(record[0]), &origin, len(hours) == 0)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: temperature: %w", line, err)
		}
		hours = append(hours, h)
		kelvin = append(kelvin, c+273.15)
	}
	return NewSeries(hours, kelvin)
}

func parseHours(field string, origin *time.Time, first bool) (float64, error) {
	if ts, err := time.Parse(time.RFC3339, field); err == nil {
		if first {
			*origin = ts
		}
		if origin.IsZero() {
			return 0, fmt.Errorf("timestamp %q after numeric hours", field)
		}
		return ts.Sub(*origin).Hours(), nil
	}
	h, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("time %q is neither RFC 3339 nor hours", field)
	}
	return h, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
