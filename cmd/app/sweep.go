package app

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/Agrid-Dev/tanksim/internal/params"
	"github.com/Agrid-Dev/tanksim/internal/simulator"
)

// ParseSweep reads "category.name=lower,upper,increments[,C]". A trailing C
// gives the bounds in degrees Celsius.
func ParseSweep(s string) (simulator.SweepSpec, error) {
	keyPart, rangePart, ok := strings.Cut(s, "=")
	if !ok {
		return simulator.SweepSpec{}, errors.Errorf("sweep %q: expected key=lower,upper,increments", s)
	}
	key, err := params.ParseKey(keyPart)
	if err != nil {
		return simulator.SweepSpec{}, errors.WithMessagef(err, "sweep %q", s)
	}

	fields := strings.Split(rangePart, ",")
	spec := simulator.SweepSpec{Key: key}
	if len(fields) == 4 && strings.EqualFold(strings.TrimSpace(fields[3]), "C") {
		spec.Celsius = true
		fields = fields[:3]
	}
	if len(fields) != 3 {
		return simulator.SweepSpec{}, errors.Errorf("sweep %q: expected lower,upper,increments", s)
	}
	if spec.Lower, err = strconv.ParseFloat(strings.TrimSpace(fields[0]), 64); err != nil {
		return simulator.SweepSpec{}, errors.Wrapf(err, "sweep %q: lower bound", s)
	}
	if spec.Upper, err = strconv.ParseFloat(strings.TrimSpace(fields[1]), 64); err != nil {
		return simulator.SweepSpec{}, errors.Wrapf(err, "sweep %q: upper bound", s)
	}
	if spec.Increments, err = strconv.Atoi(strings.TrimSpace(fields[2])); err != nil {
		return simulator.SweepSpec{}, errors.Wrapf(err, "sweep %q: increments", s)
	}
	if _, err := spec.Values(); err != nil {
		return simulator.SweepSpec{}, err
	}
	return spec, nil
}
