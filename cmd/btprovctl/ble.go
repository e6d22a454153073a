package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// GATT UUIDs, matching internal/gattsvc's identity/wifi/token services.
var (
	identitySvcUUID = mustUUID("0000FE28-0000-1000-8000-00805F9B34FB")
	dsnCharUUID     = mustUUID("00000001-0000-1000-8000-00805F9B34FB")
	duidCharUUID    = mustUUID("00000002-0000-1000-8000-00805F9B34FB")

	wifiSvcUUID    = mustUUID("1CF0FE66-3ECF-4D6E-A9FC-E287AB124B96")
	connectChrUUID = mustUUID("1F80AF6A-3D1D-4F0F-9EE3-77C6CB14B3D7")
	stateChrUUID   = mustUUID("1F80AF6C-3D1D-4F0F-9EE3-77C6CB14B3D7")
	scanChrUUID    = mustUUID("1F80AF6D-3D1D-4F0F-9EE3-77C6CB14B3D7")
	resultChrUUID  = mustUUID("1F80AF6E-3D1D-4F0F-9EE3-77C6CB14B3D7")

	tokenSvcUUID  = mustUUID("FCE3EC41-3D1D-4F0F-9EE3-77C6CB14B3D7")
	tokenCharUUID = mustUUID("FCE3EC42-3D1D-4F0F-9EE3-77C6CB14B3D7")
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// DiscoveredPeripheral is a provisioning agent seen during a scan.
type DiscoveredPeripheral struct {
	Name    string
	Address string
	RSSI    int16
	device  bluetooth.ScanResult
}

// PeerHandler plays the BLE central role against a single btprovd
// peripheral: it scans for the "Ayla-" advertisement, connects, and
// reads/writes the identity, Wi-Fi, and setup-token characteristics.
type PeerHandler struct {
	adapter *bluetooth.Adapter
	device  *bluetooth.Device

	dsnChar     bluetooth.DeviceCharacteristic
	duidChar    bluetooth.DeviceCharacteristic
	connectChar bluetooth.DeviceCharacteristic
	stateChar   bluetooth.DeviceCharacteristic
	scanChar    bluetooth.DeviceCharacteristic
	resultChar  bluetooth.DeviceCharacteristic
	tokenChar   bluetooth.DeviceCharacteristic

	notifyMu   sync.Mutex
	stateNote  chan []byte
	resultNote chan []byte

	connected bool
}

// NewPeerHandler enables the default adapter in central mode.
func NewPeerHandler() (*PeerHandler, error) {
	adapter := bluetooth.DefaultAdapter
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	return &PeerHandler{
		adapter:    adapter,
		stateNote:  make(chan []byte, 8),
		resultNote: make(chan []byte, 64),
	}, nil
}

// Scan looks for advertisements whose local name has the "Ayla-" prefix
// used by the provisioning agent.
func (h *PeerHandler) Scan(duration time.Duration) ([]DiscoveredPeripheral, error) {
	fmt.Printf("Scanning for provisioning peers for %v...\n", duration)

	found := make(map[string]DiscoveredPeripheral)
	var mu sync.Mutex
	scanDone := make(chan error, 1)

	go func() {
		err := h.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			name := result.LocalName()
			if !strings.HasPrefix(name, "Ayla-") {
				return
			}
			addr := result.Address.String()
			mu.Lock()
			defer mu.Unlock()
			if existing, ok := found[addr]; !ok || result.RSSI > existing.RSSI {
				found[addr] = DiscoveredPeripheral{Name: name, Address: addr, RSSI: result.RSSI, device: result}
				if !ok {
					fmt.Printf("  found: %s (RSSI %d dBm)\n", name, result.RSSI)
				}
			}
		})
		scanDone <- err
	}()

	select {
	case err := <-scanDone:
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
	case <-time.After(duration):
	}
	if err := h.adapter.StopScan(); err != nil {
		fmt.Printf("warning: error stopping scan: %v\n", err)
	}
	time.Sleep(100 * time.Millisecond)

	peers := make([]DiscoveredPeripheral, 0, len(found))
	for _, p := range found {
		peers = append(peers, p)
	}
	return peers, nil
}

// Connect connects to a discovered peer and discovers the identity,
// Wi-Fi, and setup-token services and characteristics.
func (h *PeerHandler) Connect(peer DiscoveredPeripheral) error {
	fmt.Printf("Connecting to %s...\n", peer.Name)

	device, err := h.adapter.Connect(peer.device.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	h.device = &device
	time.Sleep(500 * time.Millisecond)

	services, err := device.DiscoverServices([]bluetooth.UUID{identitySvcUUID, wifiSvcUUID, tokenSvcUUID})
	if err != nil {
		return fmt.Errorf("service discovery failed: %w", err)
	}

	for _, svc := range services {
		switch svc.UUID() {
		case identitySvcUUID:
			if err := h.bindIdentity(svc); err != nil {
				return err
			}
		case wifiSvcUUID:
			if err := h.bindWifi(svc); err != nil {
				return err
			}
		case tokenSvcUUID:
			if err := h.bindToken(svc); err != nil {
				return err
			}
		}
	}

	h.connected = true
	fmt.Printf("Connected to %s\n", peer.Name)
	return nil
}

func (h *PeerHandler) bindIdentity(svc bluetooth.DeviceService) error {
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{dsnCharUUID, duidCharUUID})
	if err != nil {
		return fmt.Errorf("identity characteristic discovery failed: %w", err)
	}
	for _, c := range chars {
		switch c.UUID() {
		case dsnCharUUID:
			h.dsnChar = c
		case duidCharUUID:
			h.duidChar = c
		}
	}
	return nil
}

func (h *PeerHandler) bindWifi(svc bluetooth.DeviceService) error {
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{connectChrUUID, stateChrUUID, scanChrUUID, resultChrUUID})
	if err != nil {
		return fmt.Errorf("wifi characteristic discovery failed: %w", err)
	}
	for _, c := range chars {
		switch c.UUID() {
		case connectChrUUID:
			h.connectChar = c
		case stateChrUUID:
			h.stateChar = c
			if err := c.EnableNotifications(func(buf []byte) { h.notifyMu.Lock(); defer h.notifyMu.Unlock(); h.stateNote <- append([]byte(nil), buf...) }); err != nil {
				return fmt.Errorf("enable state notifications: %w", err)
			}
		case scanChrUUID:
			h.scanChar = c
		case resultChrUUID:
			h.resultChar = c
			if err := c.EnableNotifications(func(buf []byte) { h.notifyMu.Lock(); defer h.notifyMu.Unlock(); h.resultNote <- append([]byte(nil), buf...) }); err != nil {
				return fmt.Errorf("enable result notifications: %w", err)
			}
		}
	}
	var zero bluetooth.UUID
	if h.connectChar.UUID() == zero || h.stateChar.UUID() == zero {
		return errors.New("required wifi characteristics not found")
	}
	return nil
}

func (h *PeerHandler) bindToken(svc bluetooth.DeviceService) error {
	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{tokenCharUUID})
	if err != nil {
		return fmt.Errorf("token characteristic discovery failed: %w", err)
	}
	for _, c := range chars {
		if c.UUID() == tokenCharUUID {
			h.tokenChar = c
		}
	}
	return nil
}

// Disconnect tears down the central-role connection.
func (h *PeerHandler) Disconnect() error {
	if h.device != nil && h.connected {
		err := h.device.Disconnect()
		h.connected = false
		h.device = nil
		if err != nil {
			return err
		}
		fmt.Println("disconnected")
	}
	return nil
}

// IsConnected reports whether a peer connection is currently established.
func (h *PeerHandler) IsConnected() bool {
	return h.connected
}

// ReadDSN reads the identity service's DSN characteristic.
func (h *PeerHandler) ReadDSN() (string, error) {
	buf := make([]byte, 64)
	n, err := h.dsnChar.Read(buf)
	if err != nil {
		return "", fmt.Errorf("read DSN: %w", err)
	}
	return string(buf[:n]), nil
}

// ReadDUID reads the identity service's DUID characteristic.
func (h *PeerHandler) ReadDUID() (string, error) {
	buf := make([]byte, 64)
	n, err := h.duidChar.Read(buf)
	if err != nil {
		return "", fmt.Errorf("read DUID: %w", err)
	}
	return string(buf[:n]), nil
}

// WriteConnect writes a packed connect payload to trigger association.
func (h *PeerHandler) WriteConnect(payload []byte) error {
	_, err := h.connectChar.WriteWithoutResponse(payload)
	return err
}

// ReadState reads the current state payload.
func (h *PeerHandler) ReadState() ([]byte, error) {
	buf := make([]byte, statePayloadLen)
	n, err := h.stateChar.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	return buf[:n], nil
}

// TriggerScan writes '1' to the scan characteristic.
func (h *PeerHandler) TriggerScan() error {
	_, err := h.scanChar.WriteWithoutResponse([]byte{'1'})
	return err
}

// ReadResultsUntilTerminator polls the result characteristic until the
// all-zero terminator entry is seen, or timeout elapses.
func (h *PeerHandler) ReadResultsUntilTerminator(timeout time.Duration) ([][]byte, error) {
	deadline := time.Now().Add(timeout)
	var entries [][]byte
	for time.Now().Before(deadline) {
		buf := make([]byte, resultPayloadLen)
		n, err := h.resultChar.Read(buf)
		if err != nil {
			return entries, fmt.Errorf("read result: %w", err)
		}
		buf = buf[:n]
		if isZero(buf) {
			return entries, nil
		}
		entries = append(entries, buf)
	}
	return entries, errors.New("timed out waiting for result terminator")
}

// WaitForStateNotification blocks for the next state notification.
func (h *PeerHandler) WaitForStateNotification(timeout time.Duration) ([]byte, error) {
	select {
	case buf := <-h.stateNote:
		return buf, nil
	case <-time.After(timeout):
		return nil, errors.New("timed out waiting for state notification")
	}
}

// WriteSetupToken writes the setup-token characteristic.
func (h *PeerHandler) WriteSetupToken(token []byte) error {
	_, err := h.tokenChar.WriteWithoutResponse(token)
	return err
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
