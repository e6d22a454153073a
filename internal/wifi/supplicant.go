package wifi

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
)

const (
	supplicantDest      = "fi.w1.wpa_supplicant1"
	supplicantPath      = dbus.ObjectPath("/fi/w1/wpa_supplicant1")
	supplicantIface     = "fi.w1.wpa_supplicant1"
	supplicantIfaceIfc  = "fi.w1.wpa_supplicant1.Interface"
	supplicantBSSIfc    = "fi.w1.wpa_supplicant1.BSS"
	supplicantNetworkIfc = "fi.w1.wpa_supplicant1.Network"
)

// SupplicantCollaborator implements Collaborator against wpa_supplicant's
// own D-Bus service. It owns a private connection and dispatch goroutine
// independent of the agent's Reactor — per the collaborator contract, its
// internal state is opaque and its callbacks run on whatever goroutine it
// chooses; gattsvc's adapter marshals them back onto the Reactor.
type SupplicantCollaborator struct {
	log  *logrus.Logger
	conn *dbus.Conn
	ifcPath dbus.ObjectPath

	mu     sync.Mutex
	status StatusSnapshot
	apMode bool

	onScanComplete ScanCompleteFunc
	onStateChange  ConnectStateChangeFunc
	onAPMode       APModeChangeFunc

	sigCh chan *dbus.Signal
}

// NewSupplicantCollaborator connects to the system bus and resolves the
// managed interface for ifaceName (e.g. "wlan0").
func NewSupplicantCollaborator(ifaceName string, log *logrus.Logger) (*SupplicantCollaborator, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("wifi: system bus: %w", err)
	}
	c := &SupplicantCollaborator{log: log, conn: conn, sigCh: make(chan *dbus.Signal, 32), apMode: true}

	obj := conn.Object(supplicantDest, supplicantPath)
	var ifPath dbus.ObjectPath
	err = obj.Call(supplicantIface+".GetInterface", 0, ifaceName).Store(&ifPath)
	if err != nil {
		// Interface not yet known to wpa_supplicant; create it.
		args := map[string]interface{}{"Ifname": ifaceName}
		err = obj.Call(supplicantIface+".CreateInterface", 0, args).Store(&ifPath)
		if err != nil {
			return nil, fmt.Errorf("wifi: resolve interface %s: %w", ifaceName, err)
		}
	}
	c.ifcPath = ifPath

	conn.Signal(c.sigCh)
	_ = conn.AddMatchSignal(
		dbus.WithMatchObjectPath(ifPath),
		dbus.WithMatchInterface(supplicantIfaceIfc),
	)
	go c.dispatchSignals()
	return c, nil
}

func (c *SupplicantCollaborator) ifc() dbus.BusObject {
	return c.conn.Object(supplicantDest, c.ifcPath)
}

// Scan requests a passive+active scan via the Interface.Scan method.
func (c *SupplicantCollaborator) Scan() error {
	args := map[string]interface{}{"Type": "active"}
	call := c.ifc().Call(supplicantIfaceIfc+".Scan", 0, args)
	if call.Err != nil {
		return fmt.Errorf("wifi: scan: %w", call.Err)
	}
	return nil
}

// Connect adds (or reuses) a network with the given credentials and
// selects it. Security maps onto wpa_supplicant's key_mgmt/proto fields.
func (c *SupplicantCollaborator) Connect(ssid string, bssid [6]byte, key string, security Security) error {
	args := map[string]interface{}{"ssid": ssid}
	switch security {
	case SecurityOpen:
		args["key_mgmt"] = "NONE"
	case SecurityWEP:
		args["key_mgmt"] = "NONE"
		args["wep_key0"] = key
	case SecurityWPA:
		args["key_mgmt"] = "WPA-PSK"
		args["proto"] = "WPA"
		args["psk"] = key
	case SecurityWPA2Personal:
		args["key_mgmt"] = "WPA-PSK"
		args["proto"] = "RSN"
		args["psk"] = key
	}

	var netPath dbus.ObjectPath
	call := c.ifc().Call(supplicantIfaceIfc+".AddNetwork", 0, args)
	if call.Err != nil {
		return fmt.Errorf("wifi: add network: %w", call.Err)
	}
	if err := call.Store(&netPath); err != nil {
		return fmt.Errorf("wifi: add network reply: %w", err)
	}

	if call := c.ifc().Call(supplicantIfaceIfc+".SelectNetwork", 0, netPath); call.Err != nil {
		return fmt.Errorf("wifi: select network: %w", call.Err)
	}

	c.mu.Lock()
	c.status = StatusSnapshot{SSID: ssid, State: StateConnectingLink}
	c.mu.Unlock()
	if c.onStateChange != nil {
		c.onStateChange(c.Status())
	}
	return nil
}

func (c *SupplicantCollaborator) Status() StatusSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetSetupToken has no wpa_supplicant equivalent; the agent persists it
// itself via a provisioning-side store (internal/appagent), so this is
// intentionally a no-op here.
func (c *SupplicantCollaborator) SetSetupToken(token []byte) error { return nil }

func (c *SupplicantCollaborator) OnScanComplete(fn ScanCompleteFunc)         { c.onScanComplete = fn }
func (c *SupplicantCollaborator) OnConnectStateChange(fn ConnectStateChangeFunc) { c.onStateChange = fn }

// OnAPModeChange registers fn and immediately reports the current AP-mode
// state. Without this, a registrant that only reacts to future flips (as
// gattsvc does, to drive advertising) would never learn the initial
// "should be advertising" state, since nothing else flips it until the
// first connection attempt changes wpa_supplicant's interface state.
func (c *SupplicantCollaborator) OnAPModeChange(fn APModeChangeFunc) {
	c.onAPMode = fn
	if fn != nil {
		c.mu.Lock()
		enabled := c.apMode
		c.mu.Unlock()
		fn(enabled)
	}
}

// setAPMode updates the AP-mode flag and notifies the registrant only on
// an actual change, so repeated PropertiesChanged signals for the same
// state don't spam redundant advertising toggles.
func (c *SupplicantCollaborator) setAPMode(enabled bool) {
	c.mu.Lock()
	changed := c.apMode != enabled
	c.apMode = enabled
	c.mu.Unlock()
	if changed && c.onAPMode != nil {
		c.onAPMode(enabled)
	}
}

func (c *SupplicantCollaborator) dispatchSignals() {
	for sig := range c.sigCh {
		if sig == nil {
			return
		}
		switch sig.Name {
		case supplicantIfaceIfc + ".ScanDone":
			c.handleScanDone()
		case supplicantIfaceIfc + ".PropertiesChanged":
			c.handlePropertiesChanged(sig)
		}
	}
}

func (c *SupplicantCollaborator) handleScanDone() {
	var paths []dbus.ObjectPath
	prop, err := c.ifc().GetProperty(supplicantIfaceIfc + ".BSSs")
	if err != nil {
		c.log.WithError(err).Warn("wifi: read BSSs property after scan")
		return
	}
	if err := prop.Store(&paths); err != nil {
		c.log.WithError(err).Warn("wifi: decode BSSs property")
		return
	}

	const maxResults = 50
	entries := make([]ScanEntry, 0, len(paths))
	for i, p := range paths {
		if i >= maxResults {
			c.log.WithField("count", len(paths)).Warn("wifi: scan result set truncated")
			break
		}
		bss := c.conn.Object(supplicantDest, p)
		entry, err := decodeBSS(bss)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if c.onScanComplete != nil {
		c.onScanComplete(entries)
	}
}

func decodeBSS(bss dbus.BusObject) (ScanEntry, error) {
	var entry ScanEntry

	ssidProp, err := bss.GetProperty(supplicantBSSIfc + ".SSID")
	if err != nil {
		return entry, err
	}
	var ssidBytes []byte
	if err := ssidProp.Store(&ssidBytes); err != nil {
		return entry, err
	}
	entry.SSID = string(ssidBytes)

	bssidProp, err := bss.GetProperty(supplicantBSSIfc + ".BSSID")
	if err == nil {
		var raw []byte
		if err := bssidProp.Store(&raw); err == nil {
			copy(entry.BSSID[:], raw)
		}
	}

	if signalProp, err := bss.GetProperty(supplicantBSSIfc + ".Signal"); err == nil {
		var rssi int16
		if err := signalProp.Store(&rssi); err == nil {
			entry.RSSI = rssi
		}
	}

	entry.Security = classifySecurity(bss)
	return entry, nil
}

// classifySecurity inspects the WPA/RSN IE properties to pick the
// coarse security classification gattsvc's wire format wants.
func classifySecurity(bss dbus.BusObject) Security {
	if _, err := bss.GetProperty(supplicantBSSIfc + ".RSN"); err == nil {
		return SecurityWPA2Personal
	}
	if _, err := bss.GetProperty(supplicantBSSIfc + ".WPA"); err == nil {
		return SecurityWPA
	}
	return SecurityOpen
}

func (c *SupplicantCollaborator) handlePropertiesChanged(sig *dbus.Signal) {
	if len(sig.Body) < 2 {
		return
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}
	stateVar, ok := changed["State"]
	if !ok {
		return
	}
	stateStr, _ := stateVar.Value().(string)
	snapshot := c.Status()
	snapshot.State = mapSupplicantState(stateStr)

	c.mu.Lock()
	c.status = snapshot
	c.mu.Unlock()

	if c.onStateChange != nil {
		c.onStateChange(snapshot)
	}
	c.setAPMode(snapshot.State != StateUp)
}

func mapSupplicantState(s string) State {
	switch s {
	case "disconnected", "inactive":
		return StateDisabled
	case "scanning", "authenticating", "associating", "associated":
		return StateConnectingLink
	case "4way_handshake", "group_handshake":
		return StateConnectingLink
	case "completed":
		return StateUp
	default:
		return StateNA
	}
}
