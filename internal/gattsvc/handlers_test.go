package gattsvc

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/fieldkit-io/btprovd/internal/appagent"
	"github.com/fieldkit-io/btprovd/internal/wifi"
)

type fakeCollaborator struct {
	connectErr  error
	scanErr     error
	status      wifi.StatusSnapshot
	connectArgs []interface{}
}

func (f *fakeCollaborator) Scan() error { return f.scanErr }
func (f *fakeCollaborator) Connect(ssid string, bssid [6]byte, key string, security wifi.Security) error {
	f.connectArgs = []interface{}{ssid, bssid, key, security}
	return f.connectErr
}
func (f *fakeCollaborator) Status() wifi.StatusSnapshot                    { return f.status }
func (f *fakeCollaborator) SetSetupToken(token []byte) error               { return nil }
func (f *fakeCollaborator) OnScanComplete(fn wifi.ScanCompleteFunc)         {}
func (f *fakeCollaborator) OnConnectStateChange(fn wifi.ConnectStateChangeFunc) {}
func (f *fakeCollaborator) OnAPModeChange(fn wifi.APModeChangeFunc)         {}

func testService(t *testing.T, coll *fakeCollaborator) *Service {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Service{
		log:         log,
		coll:        coll,
		dsnProvider: appagent.StaticDSNProvider{Value: "AY0123456789012"},
	}
}

func TestReadDSNCachesAfterFirstFetch(t *testing.T) {
	s := testService(t, &fakeCollaborator{})
	got, derr := s.readDSN()
	if derr != nil {
		t.Fatalf("readDSN: %v", derr)
	}
	if string(got) != "AY0123456789012" {
		t.Fatalf("unexpected DSN: %s", got)
	}
	if s.dsnCached != "AY0123456789012" {
		t.Fatalf("expected DSN to be cached on Service")
	}
}

func TestWriteConnectRejectsWrongLength(t *testing.T) {
	s := testService(t, &fakeCollaborator{})
	if derr := s.writeConnect([]byte{1, 2, 3}); derr == nil {
		t.Fatalf("expected rejection for malformed connect payload")
	}
	if s.connectPayload != (ConnectPayload{}) {
		t.Fatalf("expected no mutation of connectPayload on rejection")
	}
}

func TestWriteConnectDispatchesToCollaborator(t *testing.T) {
	coll := &fakeCollaborator{}
	s := testService(t, coll)

	ssid, ssidLen := packSSID("home-net")
	p := ConnectPayload{SSID: ssid, SSIDLen: ssidLen, Security: SecurityWPA2Personal}
	if derr := s.writeConnect(p.Encode()); derr != nil {
		t.Fatalf("writeConnect: %v", derr)
	}
	if len(coll.connectArgs) == 0 {
		t.Fatalf("expected collaborator Connect to be invoked")
	}
	if coll.connectArgs[0] != "home-net" {
		t.Fatalf("expected SSID passed through, got %v", coll.connectArgs[0])
	}
}

func TestWriteConnectSurfacesCollaboratorFailure(t *testing.T) {
	coll := &fakeCollaborator{connectErr: errRejected}
	s := testService(t, coll)

	ssid, ssidLen := packSSID("home-net")
	p := ConnectPayload{SSID: ssid, SSIDLen: ssidLen}
	if derr := s.writeConnect(p.Encode()); derr == nil {
		t.Fatalf("expected collaborator failure to surface as rejection")
	}
}

func TestWriteScanRejectsWrongValue(t *testing.T) {
	s := testService(t, &fakeCollaborator{})
	if derr := s.writeScan([]byte{'0'}); derr == nil {
		t.Fatalf("expected rejection for non-'1' scan trigger value")
	}
	if derr := s.writeScan([]byte("11")); derr == nil {
		t.Fatalf("expected rejection for multi-byte scan trigger value")
	}
}

func TestWriteScanResetsResultState(t *testing.T) {
	s := testService(t, &fakeCollaborator{})
	s.scanResults = []ScanResult{{Index: 0}}
	s.resultCursor = 1
	s.haveFreshScan = true

	if derr := s.writeScan([]byte{'1'}); derr != nil {
		t.Fatalf("writeScan: %v", derr)
	}
	if s.scanResults != nil || s.resultCursor != 0 || s.haveFreshScan {
		t.Fatalf("expected scan state reset after triggering a new scan")
	}
}

func TestReadResultCursorAdvancesThenTerminates(t *testing.T) {
	s := testService(t, &fakeCollaborator{})
	s.scanResults = []ScanResult{{Index: 0}, {Index: 1}}

	first, derr := s.readResult()
	if derr != nil {
		t.Fatalf("readResult: %v", derr)
	}
	if first[0] != 0 {
		t.Fatalf("expected first entry index 0, got %d", first[0])
	}

	second, derr := s.readResult()
	if derr != nil {
		t.Fatalf("readResult: %v", derr)
	}
	if second[0] != 1 {
		t.Fatalf("expected second entry index 1, got %d", second[0])
	}

	term, derr := s.readResult()
	if derr != nil {
		t.Fatalf("readResult: %v", derr)
	}
	for _, b := range term {
		if b != 0 {
			t.Fatalf("expected terminator after exhausting results")
		}
	}
}

func TestSetNotifyFlags(t *testing.T) {
	s := testService(t, &fakeCollaborator{})
	s.setStateNotify(true)
	if !s.stateNotify {
		t.Fatalf("expected stateNotify to be set")
	}
	s.setResultNotify(true)
	if !s.resultNotify {
		t.Fatalf("expected resultNotify to be set")
	}
}
