package gattsvc

import (
	"github.com/godbus/dbus/v5"

	"github.com/fieldkit-io/btprovd/internal/wifi"
)

var errRejected = dbus.NewError("org.bluez.Error.Rejected", []interface{}{"rejected"})

// readDSN returns the cached DSN, fetching it from the collaborator on
// first access. ReadValue/WriteValue run on godbus's dispatch goroutine,
// so every access to Service state here goes through mu.
func (s *Service) readDSN() ([]byte, *dbus.Error) {
	s.mu.Lock()
	cached := s.dsnCached
	s.mu.Unlock()
	if cached != "" {
		return []byte(cached), nil
	}

	dsn, err := s.dsnProvider.DSN()
	if err != nil {
		s.log.WithError(err).Warn("gattsvc: fetch DSN failed")
		return nil, errRejected
	}
	s.mu.Lock()
	s.dsnCached = dsn
	s.mu.Unlock()
	return []byte(dsn), nil
}

func (s *Service) readDUID() ([]byte, *dbus.Error) {
	s.mu.Lock()
	addr := s.localAddr
	s.mu.Unlock()
	return []byte(addr), nil
}

// writeConnect decodes the connect payload and hands it to the
// collaborator. An over-length or malformed value is rejected without
// mutating s.connectPayload, per the "no partial mutation" invariant.
func (s *Service) writeConnect(value []byte) *dbus.Error {
	payload, ok := DecodeConnectPayload(value)
	if !ok {
		return errRejected
	}

	s.mu.Lock()
	s.connectPayload = payload
	s.mu.Unlock()

	ssid := string(payload.SSID[:payload.SSIDLen])

	var attemptID int64
	if s.audit != nil {
		id, err := s.audit.RecordConnectAttempt(ssid, uint8(payload.Security))
		if err != nil {
			s.log.WithError(err).Warn("gattsvc: audit log write failed")
		}
		attemptID = id
	}

	if err := s.coll.Connect(ssid, payload.BSSID, string(payload.Key[:payload.KeyLen]), wifi.Security(payload.Security)); err != nil {
		s.log.WithError(err).Warn("gattsvc: collaborator Connect failed")
		if s.audit != nil && attemptID != 0 {
			_ = s.audit.UpdateConnectOutcome(attemptID, "failed")
		}
		return errRejected
	}
	s.mu.Lock()
	s.lastConnectAttemptID = attemptID
	s.mu.Unlock()
	return nil
}

// readState returns the cached state payload, rebuilt from the
// collaborator's current snapshot.
func (s *Service) readState() ([]byte, *dbus.Error) {
	snap := s.coll.Status()
	payload := statePayloadFromSnapshot(snap)
	s.mu.Lock()
	s.statePayload = payload
	s.mu.Unlock()
	return payload.Encode(), nil
}

func (s *Service) writeScan(value []byte) *dbus.Error {
	if len(value) != 1 || value[0] != '1' {
		return errRejected
	}
	s.mu.Lock()
	s.scanResults = nil
	s.resultCursor = 0
	s.haveFreshScan = false
	s.mu.Unlock()

	if err := s.coll.Scan(); err != nil {
		s.log.WithError(err).Warn("gattsvc: collaborator Scan failed")
		return errRejected
	}
	return nil
}

// readResult advances the internal cursor: the first read after a
// scan-complete event starts at 0, each subsequent read returns the
// next entry, and reads past the last entry return the terminator.
func (s *Service) readResult() ([]byte, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resultCursor >= len(s.scanResults) {
		return resultTerminator(), nil
	}
	entry := s.scanResults[s.resultCursor]
	s.resultCursor++
	return entry.Encode(), nil
}

func (s *Service) writeSetupToken(value []byte) *dbus.Error {
	s.mu.Lock()
	s.setupToken = append([]byte(nil), value...)
	s.mu.Unlock()

	if err := s.coll.SetSetupToken(value); err != nil {
		s.log.WithError(err).Warn("gattsvc: collaborator SetSetupToken failed")
		return errRejected
	}
	return nil
}

func (s *Service) setStateNotify(enabled bool) {
	s.mu.Lock()
	s.stateNotify = enabled
	s.mu.Unlock()
}

func (s *Service) setResultNotify(enabled bool) {
	s.mu.Lock()
	s.resultNotify = enabled
	s.mu.Unlock()
}
