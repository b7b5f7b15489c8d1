package kqloop

import "testing"

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateReady:    "Ready",
		StateRunning:  "Running",
		StateStopping: "Stopping",
		State(99):     "Unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
