package gattsvc

import "testing"

func TestBringupStateStringCoversAllValues(t *testing.T) {
	states := []BringupState{
		StateInit, StatePowerOn, StateRegAgent, StateRegDefAgent,
		StateGetLocAddr, StateSigSubscribe, StateReqMgrObj, StateWaiting,
		StateRegAppPath, StateRegApp, StateRegAdvPath, StateRegAdv, StateReady,
	}
	seen := make(map[string]bool)
	for _, s := range states {
		name := s.String()
		if name == "" || name == "unknown" {
			t.Fatalf("state %d has no readable name", s)
		}
		if seen[name] {
			t.Fatalf("duplicate state name %q", name)
		}
		seen[name] = true
	}
}

func TestBringupStateStringUnknown(t *testing.T) {
	var s BringupState = 255
	if s.String() == "" {
		t.Fatalf("unknown state should still produce a non-empty name")
	}
}
