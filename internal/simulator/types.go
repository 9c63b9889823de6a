package simulator

import "fmt"

// Mode is the heat pump state.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeOff
	ModeOn
)

func (m Mode) Valid() bool {
	return m == ModeOff || m == ModeOn
}

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	default:
		return "unknown"
	}
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "off":
		return ModeOff, nil
	case "on":
		return ModeOn, nil
	default:
		return ModeUnknown, fmt.Errorf("invalid mode: %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
