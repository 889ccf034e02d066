package deployment

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of a deployment.
type State int32

const (
	// StateUnknown indicates an uninitialised record.
	StateUnknown State = iota

	// StateRegistered indicates the deployment exists but no instance backs it.
	StateRegistered

	// StateLoading indicates an instantiate call is in flight.
	StateLoading

	// StateActive indicates a running instance serves the domain.
	StateActive

	// StateError indicates the last load attempt failed.
	StateError

	// StateUnloading indicates a teardown call is in flight.
	StateUnloading
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateRegistered:
		return "registered"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateUnloading:
		return "unloading"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ParseState(str)
	return nil
}

// ParseState converts a string to State.
func ParseState(s string) State {
	switch s {
	case "registered", "inactive":
		return StateRegistered
	case "loading":
		return StateLoading
	case "active", "running":
		return StateActive
	case "error", "failed":
		return StateError
	case "unloading":
		return StateUnloading
	default:
		return StateUnknown
	}
}

// InFlight reports whether a lifecycle operation currently owns the record.
func (s State) InFlight() bool {
	return s == StateLoading || s == StateUnloading
}

// CanLoad reports whether a load may start from s.
func (s State) CanLoad() bool {
	return s == StateRegistered || s == StateError
}

// CanUnload reports whether an unload may start from s.
func (s State) CanUnload() bool {
	return s == StateActive
}
