package simulator

// Hysteresis switches the pump off at or above OffK and back on at or below
// OnK. Between the two thresholds the previous mode is kept. OnK must be
// strictly below OffK: a zero-width band is rejected rather than run.
type Hysteresis struct {
	OnK  float64
	OffK float64
}

func NewHysteresis(onK, offK float64) (Hysteresis, error) {
	h := Hysteresis{OnK: onK, OffK: offK}
	if err := h.Validate(); err != nil {
		return Hysteresis{}, err
	}
	return h, nil
}

func (h Hysteresis) Validate() error {
	if !(h.OnK < h.OffK) {
		return ErrInvalidHysteresis
	}
	return nil
}

// Initial is the mode before the first step: on only below the on threshold.
func (h Hysteresis) Initial(tankK float64) Mode {
	if tankK < h.OnK {
		return ModeOn
	}
	return ModeOff
}

func (h Hysteresis) Update(m Mode, tankK float64) Mode {
	switch {
	case tankK >= h.OffK:
		return ModeOff
	case tankK <= h.OnK:
		return ModeOn
	default:
		return m
	}
}
