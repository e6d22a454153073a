package gattsvc

import "encoding/binary"

// Security mirrors the security byte carried by the connect, and is
// echoed back in scan results.
type Security uint8

const (
	SecurityOpen Security = iota
	SecurityWEP
	SecurityWPA
	SecurityWPA2Personal
)

// WifiState is the state byte carried by the state characteristic.
type WifiState uint8

const (
	WifiStateNA WifiState = iota
	WifiStateDisabled
	WifiStateConnectingLink
	WifiStateObtainingAddress
	WifiStateConnectingCloud
	WifiStateUp
)

const (
	ssidBufLen = 32
	bssidLen   = 6
	keyBufLen  = 64

	connectPayloadLen = ssidBufLen + 1 + bssidLen + keyBufLen + 1 + 1 // 105
	statePayloadLen   = ssidBufLen + 1 + 1 + 1                        // 35
	resultPayloadLen  = 1 + ssidBufLen + 1 + bssidLen + 2 + 1         // 43
)

// ConnectPayload is the packed wire layout of the connect characteristic:
// SSID[32], ssid_len, BSSID[6], key[64], key_len, security. All fields are
// little-endian (there are no multi-byte integers in this struct).
type ConnectPayload struct {
	SSID     [ssidBufLen]byte
	SSIDLen  uint8
	BSSID    [bssidLen]byte
	Key      [keyBufLen]byte
	KeyLen   uint8
	Security Security
}

// DecodeConnectPayload parses a write to the connect characteristic.
// Returns ProtocolViolation-shaped error behavior via ok=false when buf
// is the wrong length; callers reject the write without mutating state.
func DecodeConnectPayload(buf []byte) (ConnectPayload, bool) {
	var p ConnectPayload
	if len(buf) != connectPayloadLen {
		return p, false
	}
	off := 0
	copy(p.SSID[:], buf[off:off+ssidBufLen])
	off += ssidBufLen
	p.SSIDLen = buf[off]
	off++
	copy(p.BSSID[:], buf[off:off+bssidLen])
	off += bssidLen
	copy(p.Key[:], buf[off:off+keyBufLen])
	off += keyBufLen
	p.KeyLen = buf[off]
	off++
	p.Security = Security(buf[off])
	return p, true
}

// Encode re-serializes the payload byte-identically to what DecodeConnectPayload consumed.
func (p ConnectPayload) Encode() []byte {
	buf := make([]byte, connectPayloadLen)
	off := 0
	copy(buf[off:], p.SSID[:])
	off += ssidBufLen
	buf[off] = p.SSIDLen
	off++
	copy(buf[off:], p.BSSID[:])
	off += bssidLen
	copy(buf[off:], p.Key[:])
	off += keyBufLen
	buf[off] = p.KeyLen
	off++
	buf[off] = byte(p.Security)
	return buf
}

// StatePayload is the packed wire layout of the state characteristic:
// SSID[32], ssid_len, error, state.
type StatePayload struct {
	SSID    [ssidBufLen]byte
	SSIDLen uint8
	Error   uint8
	State   WifiState
}

func (p StatePayload) Encode() []byte {
	buf := make([]byte, statePayloadLen)
	off := 0
	copy(buf[off:], p.SSID[:])
	off += ssidBufLen
	buf[off] = p.SSIDLen
	off++
	buf[off] = p.Error
	off++
	buf[off] = byte(p.State)
	return buf
}

// ScanResult is one entry of the scan-result stream. RSSI travels
// big-endian on the wire (htons/ntohs in the source this was ported
// from) while every other multi-byte field in this protocol is
// little-endian; every field here besides RSSI is single-byte so the
// distinction only matters for RSSI itself.
type ScanResult struct {
	Index    uint8
	SSID     [ssidBufLen]byte
	SSIDLen  uint8
	BSSID    [bssidLen]byte
	RSSI     int16
	Security Security
}

// Encode packs a scan-result entry, network byte order for RSSI.
func (r ScanResult) Encode() []byte {
	buf := make([]byte, resultPayloadLen)
	off := 0
	buf[off] = r.Index
	off++
	copy(buf[off:], r.SSID[:])
	off += ssidBufLen
	buf[off] = r.SSIDLen
	off++
	copy(buf[off:], r.BSSID[:])
	off += bssidLen
	binary.BigEndian.PutUint16(buf[off:], uint16(r.RSSI))
	off += 2
	buf[off] = byte(r.Security)
	return buf
}

// resultTerminator is the all-zero sentinel entry marking the end of a
// scan-result notification stream or read sequence.
func resultTerminator() []byte {
	return make([]byte, resultPayloadLen)
}

// packSSID copies s into a fixed buffer, truncating to capacity, and
// returns the buffer plus the length actually copied.
func packSSID(s string) ([ssidBufLen]byte, uint8) {
	var buf [ssidBufLen]byte
	n := copy(buf[:], s)
	return buf, uint8(n)
}

func packBSSID(b []byte) [bssidLen]byte {
	var buf [bssidLen]byte
	copy(buf[:], b)
	return buf
}
