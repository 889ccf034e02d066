package deployment

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateUnknown, "unknown"},
		{StateRegistered, "registered"},
		{StateLoading, "loading"},
		{StateActive, "active"},
		{StateError, "error"},
		{StateUnloading, "unloading"},
		{State(99), "state(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input string
		want  State
	}{
		{"registered", StateRegistered},
		{"inactive", StateRegistered},
		{"loading", StateLoading},
		{"active", StateActive},
		{"running", StateActive},
		{"error", StateError},
		{"unloading", StateUnloading},
		{"bogus", StateUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseState(tt.input); got != tt.want {
				t.Errorf("ParseState(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(StateLoading)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"loading"` {
		t.Errorf("marshal = %s", data)
	}
	var s State
	if err := json.Unmarshal([]byte(`"active"`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s != StateActive {
		t.Errorf("unmarshal = %v", s)
	}
	if err := json.Unmarshal([]byte(`1`), &s); err == nil {
		t.Error("unmarshal of a number should fail")
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		state                     State
		inFlight, load, canUnload bool
	}{
		{StateRegistered, false, true, false},
		{StateLoading, true, false, false},
		{StateActive, false, false, true},
		{StateError, false, true, false},
		{StateUnloading, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.InFlight(); got != tt.inFlight {
				t.Errorf("InFlight() = %v", got)
			}
			if got := tt.state.CanLoad(); got != tt.load {
				t.Errorf("CanLoad() = %v", got)
			}
			if got := tt.state.CanUnload(); got != tt.canUnload {
				t.Errorf("CanUnload() = %v", got)
			}
		})
	}
}

func TestTicks(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	dep := Deployment{State: StateLoading, LoadStartedAt: start}

	if got := dep.Ticks(start.Add(2600*time.Millisecond), 500*time.Millisecond); got != 5 {
		t.Errorf("Ticks() = %d, want 5", got)
	}
	if got := dep.Ticks(start.Add(-time.Second), 500*time.Millisecond); got != 0 {
		t.Errorf("Ticks() before start = %d, want 0", got)
	}
	dep.State = StateActive
	if got := dep.Ticks(start.Add(time.Second), 500*time.Millisecond); got != NotLoading {
		t.Errorf("Ticks() outside loading = %d, want %d", got, NotLoading)
	}
}
