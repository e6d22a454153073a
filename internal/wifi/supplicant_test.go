package wifi

import "testing"

func TestOnAPModeChangeReportsInitialStateOnRegistration(t *testing.T) {
	c := &SupplicantCollaborator{apMode: true}
	var got []bool
	c.OnAPModeChange(func(enabled bool) { got = append(got, enabled) })
	if len(got) != 1 || got[0] != true {
		t.Fatalf("expected initial callback with true, got %v", got)
	}
}

func TestSetAPModeOnlyNotifiesOnChange(t *testing.T) {
	c := &SupplicantCollaborator{apMode: true}
	var got []bool
	c.onAPMode = func(enabled bool) { got = append(got, enabled) }

	c.setAPMode(true) // no change, no callback
	c.setAPMode(false)
	c.setAPMode(false) // no change, no callback
	c.setAPMode(true)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("expected [false true], got %v", got)
	}
}

func TestMapSupplicantState(t *testing.T) {
	cases := map[string]State{
		"disconnected":     StateDisabled,
		"inactive":         StateDisabled,
		"scanning":         StateConnectingLink,
		"authenticating":   StateConnectingLink,
		"associating":      StateConnectingLink,
		"associated":       StateConnectingLink,
		"4way_handshake":   StateConnectingLink,
		"group_handshake":  StateConnectingLink,
		"completed":        StateUp,
		"unknown-or-empty": StateNA,
		"":                 StateNA,
	}
	for input, want := range cases {
		if got := mapSupplicantState(input); got != want {
			t.Errorf("mapSupplicantState(%q) = %v, want %v", input, got, want)
		}
	}
}
