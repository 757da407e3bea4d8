package contracts

import "fmt"

// EnvelopeStatus is the lifecycle state of an envelope
type EnvelopeStatus int

// StatusNone is the zero value, left on envelopes no agent has stamped yet
const (
	StatusNone EnvelopeStatus = iota
	StatusOutgoing
	StatusScheduled
	StatusIncoming
	StatusHandled
)

func (s EnvelopeStatus) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusOutgoing:
		return "Outgoing"
	case StatusScheduled:
		return "Scheduled"
	case StatusIncoming:
		return "Incoming"
	case StatusHandled:
		return "Handled"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s EnvelopeStatus) MarshalText() ([]byte, error) {
	if s < StatusNone || s > StatusHandled {
		return nil, fmt.Errorf("contracts: invalid envelope status %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *EnvelopeStatus) UnmarshalText(text []byte) error {
	status, err := ParseEnvelopeStatus(string(text))
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ParseEnvelopeStatus parses the string form of a status
func ParseEnvelopeStatus(value string) (EnvelopeStatus, error) {
	switch value {
	case "None", "":
		return StatusNone, nil
	case "Outgoing":
		return StatusOutgoing, nil
	case "Scheduled":
		return StatusScheduled, nil
	case "Incoming":
		return StatusIncoming, nil
	case "Handled":
		return StatusHandled, nil
	default:
		return 0, fmt.Errorf("contracts: unknown envelope status %q", value)
	}
}
