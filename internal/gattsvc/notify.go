package gattsvc

import (
	"github.com/godbus/dbus/v5"

	"github.com/fieldkit-io/btprovd/internal/dbusclient"
	"github.com/fieldkit-io/btprovd/internal/reactor"
	"github.com/fieldkit-io/btprovd/internal/wifi"
)

func statePayloadFromSnapshot(snap wifi.StatusSnapshot) StatePayload {
	ssid, ssidLen := packSSID(snap.SSID)
	return StatePayload{
		SSID:    ssid,
		SSIDLen: ssidLen,
		Error:   uint8(snap.Error),
		State:   WifiState(snap.State),
	}
}

func scanResultFromEntry(index uint8, e wifi.ScanEntry) ScanResult {
	ssid, ssidLen := packSSID(e.SSID)
	return ScanResult{
		Index:    index,
		SSID:     ssid,
		SSIDLen:  ssidLen,
		BSSID:    e.BSSID,
		RSSI:     e.RSSI,
		Security: Security(e.Security),
	}
}

// onScanCompleteAsync is the collaborator's ScanCompleteFunc. It may run
// on the collaborator's own goroutine, so it marshals onto the Reactor
// before touching Service state.
func (s *Service) onScanCompleteAsync(results []wifi.ScanEntry) {
	s.runOnReactor(func() { s.onScanComplete(results) })
}

func (s *Service) onScanComplete(results []wifi.ScanEntry) {
	const maxResults = 50
	if len(results) > maxResults {
		s.log.WithField("count", len(results)).Warn("gattsvc: scan result set truncated")
		results = results[:maxResults]
	}

	packed := make([]ScanResult, len(results))
	for i, e := range results {
		packed[i] = scanResultFromEntry(uint8(i), e)
	}

	s.mu.Lock()
	s.scanResults = packed
	s.resultCursor = 0
	s.haveFreshScan = true
	notify := s.resultNotify
	advertising := s.advEnable
	s.mu.Unlock()

	if !notify || !advertising {
		return
	}
	for _, r := range packed {
		s.emitPropertiesChanged(resultChrPath, r.Encode())
	}
	s.emitPropertiesChanged(resultChrPath, resultTerminator())
}

// onConnectStateChangeAsync is the collaborator's ConnectStateChangeFunc.
func (s *Service) onConnectStateChangeAsync(snap wifi.StatusSnapshot) {
	s.runOnReactor(func() { s.onConnectStateChange(snap) })
}

func (s *Service) onConnectStateChange(snap wifi.StatusSnapshot) {
	payload := statePayloadFromSnapshot(snap)
	s.mu.Lock()
	s.statePayload = payload
	notify := s.stateNotify
	attemptID := s.lastConnectAttemptID
	s.mu.Unlock()

	if s.audit != nil && attemptID != 0 && (snap.State == wifi.StateUp || snap.Error != wifi.ErrNone) {
		outcome := "up"
		if snap.Error != wifi.ErrNone {
			outcome = "failed"
		}
		if err := s.audit.UpdateConnectOutcome(attemptID, outcome); err != nil {
			s.log.WithError(err).Warn("gattsvc: audit log write failed")
		}
	}

	if notify {
		s.emitPropertiesChanged(stateChrPath, payload.Encode())
	}
}

func (s *Service) emitPropertiesChanged(path dbus.ObjectPath, value []byte) {
	changed := map[string]dbus.Variant{"Value": dbus.MakeVariant(value)}
	req := dbusclient.Request{
		Path:      path,
		Interface: "org.freedesktop.DBus.Properties",
		Member:    "PropertiesChanged",
		Args:      []interface{}{"org.bluez.GattCharacteristic1", changed, []string{}},
	}
	if err := s.bc.SendOneway(req); err != nil {
		s.log.WithError(err).WithField("path", path).Warn("gattsvc: emit PropertiesChanged failed")
	}
}

// onPropertiesChanged handles PropertiesChanged for adapter/device paths
// this service subscribed to at REQ_MGR_OBJ (or later, via InterfacesAdded).
func (s *Service) onPropertiesChanged(path dbus.ObjectPath, msg *dbusclient.IncomingMessage) {
	if len(msg.Body) < 2 {
		return
	}
	iface, _ := msg.Body[0].(string)
	changed, ok := msg.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	switch iface {
	case "org.bluez.Adapter1":
		if _, ok := changed["Powered"]; ok {
			s.updateAdv()
		}
		if _, ok := changed["Discovering"]; ok {
			s.updateAdv()
		}
	case "org.bluez.Device1":
		if _, ok := changed["Connected"]; ok {
			s.updateAdv()
		}
	}
}

func (s *Service) onInterfacesAdded(msg *dbusclient.IncomingMessage) {
	if len(msg.Body) < 2 {
		return
	}
	path, ok := msg.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	ifaces, ok := msg.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}
	names := make([]string, 0, len(ifaces))
	for name := range ifaces {
		names = append(names, name)
	}
	if hasAdapterOrDevice(names) {
		s.subscribePropertiesChanged(path)
	}
}

func (s *Service) onInterfacesRemoved(msg *dbusclient.IncomingMessage) {
	if len(msg.Body) < 2 {
		return
	}
	path, ok := msg.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}
	names, ok := msg.Body[1].([]string)
	if !ok {
		return
	}
	if !hasAdapterOrDevice(names) {
		return
	}
	s.unsubscribePropertiesChanged(path)

	// The source remains in READY rather than regressing when the
	// adapter owning our application disappears; it just re-asserts
	// advertising once the broker's own cleanup has had time to settle.
	t := reactor.NewTimer(s.updateAdv)
	s.re.TimerSet(t, interfacesRemovedSettleDelayMs)
}
