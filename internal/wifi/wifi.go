// Package wifi defines the Wi-Fi collaborator contract the GATT
// provisioning service drives, and a wpa_supplicant-backed
// implementation of it over D-Bus (fi.w1.wpa_supplicant1).
package wifi

// Security mirrors the wire-level security byte the GATT service packs
// onto connect/scan-result characteristics. Kept as its own type here
// rather than imported from the service package, so this package stays
// free to be driven by something other than the GATT service later;
// the service converts to/from its own Security type at the boundary.
type Security uint8

const (
	SecurityOpen Security = iota
	SecurityWEP
	SecurityWPA
	SecurityWPA2Personal
)

// ScanEntry is one access point observed by a scan, in collaborator
// terms (the GATT service packs these onto the wire with its own
// ScanResult type).
type ScanEntry struct {
	SSID     string
	BSSID    [6]byte
	RSSI     int16
	Security Security
}

// State mirrors gattsvc.WifiState; kept as a distinct type so the
// collaborator boundary doesn't import gattsvc's wire-level constants
// by coincidence — the conversion is explicit in adapter code.
type State uint8

const (
	StateNA State = iota
	StateDisabled
	StateConnectingLink
	StateObtainingAddress
	StateConnectingCloud
	StateUp
)

// ErrorCode is the Wi-Fi error code enum carried in the state payload.
type ErrorCode uint8

const (
	ErrNone ErrorCode = iota
	ErrAuthFailed
	ErrNoSuchNetwork
	ErrAssociationFailed
	ErrDHCPFailed
)

// StatusSnapshot is what wifi_state returns: the SSID currently
// associated (or being associated to), the last error and the current
// connection state.
type StatusSnapshot struct {
	SSID  string
	Error ErrorCode
	State State
}

// ScanCompleteFunc is invoked once a requested scan finishes, carrying
// the result set (already capped to the implementation limit).
type ScanCompleteFunc func(results []ScanEntry)

// ConnectStateChangeFunc is invoked whenever the collaborator's
// connection state machine advances.
type ConnectStateChangeFunc func(snapshot StatusSnapshot)

// APModeChangeFunc is invoked when the collaborator decides whether the
// device should be advertising for provisioning (entering/leaving AP
// mode, in the source's terms).
type APModeChangeFunc func(enabled bool)

// Collaborator is the external Wi-Fi subsystem contract. Every callback
// registration fires on whatever goroutine the collaborator implementation
// runs on; the GATT service is responsible for marshaling those calls back
// onto the Reactor goroutine before touching its own state.
type Collaborator interface {
	// Scan requests a fresh scan. The result set is delivered
	// asynchronously to the registered ScanCompleteFunc.
	Scan() error
	// Connect attempts to associate to an access point with the given
	// credentials. Outcome is observed via ConnectStateChangeFunc.
	Connect(ssid string, bssid [6]byte, key string, security Security) error
	// Status returns the most recently known connection snapshot.
	Status() StatusSnapshot
	// SetSetupToken forwards a provisioning-peer-supplied setup token
	// to the collaborator; its persistence is the collaborator's concern.
	SetSetupToken(token []byte) error

	OnScanComplete(fn ScanCompleteFunc)
	OnConnectStateChange(fn ConnectStateChangeFunc)
	OnAPModeChange(fn APModeChangeFunc)
}
