// Package gattsvc implements the BLE Wi-Fi provisioning GATT service:
// the bring-up state machine, the GATT object tree it registers with
// BlueZ, and the characteristic handlers that bridge provisioning-peer
// reads/writes onto the Wi-Fi collaborator.
package gattsvc

import (
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"github.com/fieldkit-io/btprovd/internal/appagent"
	"github.com/fieldkit-io/btprovd/internal/auditlog"
	"github.com/fieldkit-io/btprovd/internal/dbusclient"
	"github.com/fieldkit-io/btprovd/internal/platform"
	"github.com/fieldkit-io/btprovd/internal/reactor"
	"github.com/fieldkit-io/btprovd/internal/wifi"
)

const (
	rootPath   = dbus.ObjectPath("/ayla/app")
	agentPath  = dbus.ObjectPath("/ayla/agent1")
	advPath    = dbus.ObjectPath("/ayla/advertisement1")
	adapterObj = "/org/bluez/hci0"

	identitySvcPath = rootPath + "/service0"
	dsnCharPath     = identitySvcPath + "/char0"
	duidCharPath    = identitySvcPath + "/char1"

	wifiSvcPath    = rootPath + "/service1"
	connectChrPath = wifiSvcPath + "/char0"
	stateChrPath   = wifiSvcPath + "/char1"
	scanChrPath    = wifiSvcPath + "/char2"
	resultChrPath  = wifiSvcPath + "/char3"

	tokenSvcPath = rootPath + "/service2"
	tokenChrPath = tokenSvcPath + "/char0"

	uuidIdentitySvc = "0000FE28-0000-1000-8000-00805F9B34FB"
	uuidDSNChar     = "00000001-0000-1000-8000-00805F9B34FB"
	uuidDUIDChar    = "00000002-0000-1000-8000-00805F9B34FB"

	uuidWifiSvc    = "1CF0FE66-3ECF-4D6E-A9FC-E287AB124B96"
	uuidConnectChr = "1F80AF6A-3D1D-4F0F-9EE3-77C6CB14B3D7"
	uuidStateChr   = "1F80AF6C-3D1D-4F0F-9EE3-77C6CB14B3D7"
	uuidScanChr    = "1F80AF6D-3D1D-4F0F-9EE3-77C6CB14B3D7"
	uuidResultChr  = "1F80AF6E-3D1D-4F0F-9EE3-77C6CB14B3D7"

	uuidTokenSvc  = "FCE3EC41-3D1D-4F0F-9EE3-77C6CB14B3D7"
	uuidTokenChr  = "FCE3EC42-3D1D-4F0F-9EE3-77C6CB14B3D7"
)

// Service is the single owned value holding everything the source kept
// as global singletons: bring-up state, cached characteristic buffers,
// notification flags and the collaborator handles. ReadValue/WriteValue
// are invoked by godbus on its own dispatch goroutine (see
// dbusclient's package doc), while the bring-up step timer and signal
// routing run on the Reactor goroutine; mu serializes the two.
type Service struct {
	log  *logrus.Logger
	re   *reactor.Reactor
	bc   *dbusclient.Client
	coll wifi.Collaborator
	dsnProvider appagent.DSNProvider
	advertiser  platform.Advertiser
	led         platform.LEDController
	audit       *auditlog.Log

	mu sync.Mutex

	state     BringupState
	stepTimer *reactor.Timer
	advEnable bool

	localAddr string
	localName string
	dsnCached string

	connectPayload ConnectPayload
	statePayload   StatePayload
	scanResults    []ScanResult
	resultCursor   int
	haveFreshScan  bool

	stateNotify  bool
	resultNotify bool

	setupToken []byte

	lastConnectAttemptID int64

	subscriptions map[dbus.ObjectPath]dbusclient.FilterHandle
}

// New builds an unstarted Service. Call Start to begin bring-up. audit
// may be nil, in which case session history is not persisted.
func New(re *reactor.Reactor, bc *dbusclient.Client, coll wifi.Collaborator, dsn appagent.DSNProvider, adv platform.Advertiser, led platform.LEDController, audit *auditlog.Log, log *logrus.Logger) *Service {
	s := &Service{
		log:           log,
		re:            re,
		bc:            bc,
		coll:          coll,
		dsnProvider:   dsn,
		advertiser:    adv,
		led:           led,
		audit:         audit,
		state:         StateInit,
		subscriptions: make(map[dbus.ObjectPath]dbusclient.FilterHandle),
	}
	s.stepTimer = reactor.NewTimer(s.runStep)
	coll.OnScanComplete(s.onScanCompleteAsync)
	coll.OnConnectStateChange(s.onConnectStateChangeAsync)
	coll.OnAPModeChange(s.onAPModeChangeAsync)
	return s
}

// Start arms the bring-up timer. Per the state table, INIT transitions
// to POWER_ON after 1s with no action of its own.
func (s *Service) Start() {
	s.re.TimerSet(s.stepTimer, stepRetryDelayMs)
}

// State returns the current bring-up phase, for status reporting.
func (s *Service) State() BringupState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(next BringupState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"from": prev.String(), "to": next.String()}).Info("gattsvc: state transition")
	if s.audit != nil {
		if err := s.audit.RecordStateTransition(prev.String(), next.String()); err != nil {
			s.log.WithError(err).Warn("gattsvc: audit log write failed")
		}
	}
}

// retry re-arms the step timer at the standard backoff without
// advancing state, for use when a step's action fails.
func (s *Service) retry(err error) {
	s.log.WithError(err).WithField("state", s.State().String()).Warn("gattsvc: step failed, retrying")
	s.re.TimerSet(s.stepTimer, stepRetryDelayMs)
}

func (s *Service) advance(next BringupState) {
	s.setState(next)
	s.re.TimerSet(s.stepTimer, 0)
}

// runStep executes the action for the current state and, on success,
// advances. It is the step timer's callback, so it always runs on the
// Reactor goroutine — exactly one outstanding step at a time, per the
// "no re-entrant step" invariant.
func (s *Service) runStep() {
	switch s.State() {
	case StateInit:
		s.advance(StatePowerOn)
	case StatePowerOn:
		s.stepPowerOn()
	case StateRegAgent:
		s.stepRegAgent()
	case StateRegDefAgent:
		s.stepRegDefAgent()
	case StateGetLocAddr:
		s.stepGetLocAddr()
	case StateSigSubscribe:
		s.stepSigSubscribe()
	case StateReqMgrObj:
		s.stepReqMgrObj()
	case StateWaiting:
		s.stepWaiting()
	case StateRegAppPath:
		s.stepRegAppPath()
	case StateRegApp:
		s.stepRegApp()
	case StateRegAdvPath:
		s.stepRegAdvPath()
	case StateRegAdv:
		s.stepRegAdv()
	case StateReady:
		// Cancel the step timer; nothing left to drive forward.
		s.re.TimerCancel(s.stepTimer)
	}
}

func (s *Service) stepPowerOn() {
	req := dbusclient.Request{
		Destination: "org.bluez",
		Path:        adapterObj,
		Interface:   "org.freedesktop.DBus.Properties",
		Member:      "Set",
		Args:        []interface{}{"org.bluez.Adapter1", "Powered", dbus.MakeVariant(true)},
	}
	_, err := s.bc.SendAsync(req, 5*time.Second, func(_ []interface{}, errName string) {
		if errName != "" {
			s.retry(&dbusclient.PeerRejection{ErrorName: errName})
			return
		}
		s.advance(StateRegAgent)
	})
	if err != nil {
		s.retry(err)
	}
}

func (s *Service) stepRegAgent() {
	if err := s.bc.RegisterObject(agentPath, "org.bluez.Agent1", &agent{onRelease: func() {
		s.log.Warn("gattsvc: agent released by broker")
	}}); err != nil {
		s.retry(err)
		return
	}
	req := dbusclient.Request{
		Destination: "org.bluez",
		Path:        "/org/bluez",
		Interface:   "org.bluez.AgentManager1",
		Member:      "RegisterAgent",
		Args:        []interface{}{agentPath, "NoInputNoOutput"},
	}
	_, err := s.bc.SendAsync(req, 5*time.Second, func(_ []interface{}, errName string) {
		if errName != "" {
			s.retry(&dbusclient.PeerRejection{ErrorName: errName})
			return
		}
		s.advance(StateRegDefAgent)
	})
	if err != nil {
		s.retry(err)
	}
}

func (s *Service) stepRegDefAgent() {
	req := dbusclient.Request{
		Destination: "org.bluez",
		Path:        "/org/bluez",
		Interface:   "org.bluez.AgentManager1",
		Member:      "RequestDefaultAgent",
		Args:        []interface{}{agentPath},
	}
	_, err := s.bc.SendAsync(req, 5*time.Second, func(_ []interface{}, errName string) {
		if errName != "" {
			s.retry(&dbusclient.PeerRejection{ErrorName: errName})
			return
		}
		s.advance(StateGetLocAddr)
	})
	if err != nil {
		s.retry(err)
	}
}

func (s *Service) stepGetLocAddr() {
	req := dbusclient.Request{
		Destination: "org.bluez",
		Path:        adapterObj,
		Interface:   "org.freedesktop.DBus.Properties",
		Member:      "Get",
		Args:        []interface{}{"org.bluez.Adapter1", "Address"},
	}
	_, err := s.bc.SendAsync(req, 5*time.Second, func(reply []interface{}, errName string) {
		if errName != "" {
			s.retry(&dbusclient.PeerRejection{ErrorName: errName})
			return
		}
		addr, ok := variantString(reply)
		if !ok {
			s.retry(&dbusclient.ProtocolViolation{Detail: "Adapter1.Address reply not a string variant"})
			return
		}
		s.mu.Lock()
		s.localAddr = addr
		s.localName = deriveLocalName(addr)
		s.mu.Unlock()
		s.advance(StateSigSubscribe)
	})
	if err != nil {
		s.retry(err)
	}
}

// deriveLocalName builds "Ayla-XXXXXXXXXXXX" from a colon-separated MAC.
func deriveLocalName(addr string) string {
	hex := make([]byte, 0, 12)
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if c == ':' {
			continue
		}
		hex = append(hex, c)
	}
	if len(hex) > 12 {
		hex = hex[:12]
	}
	return "Ayla-" + string(hex)
}

func variantString(reply []interface{}) (string, bool) {
	if len(reply) != 1 {
		return "", false
	}
	v, ok := reply[0].(dbus.Variant)
	if !ok {
		return "", false
	}
	str, ok := v.Value().(string)
	return str, ok
}

func (s *Service) stepSigSubscribe() {
	_, err1 := s.bc.AddFilter(dbusclient.Filter{
		Type:      dbusclient.Signal,
		Interface: "org.freedesktop.DBus.ObjectManager",
		Member:    "InterfacesAdded",
		Path:      "/",
	}, s.onInterfacesAdded)
	_, err2 := s.bc.AddFilter(dbusclient.Filter{
		Type:      dbusclient.Signal,
		Interface: "org.freedesktop.DBus.ObjectManager",
		Member:    "InterfacesRemoved",
		Path:      "/",
	}, s.onInterfacesRemoved)
	if err1 != nil {
		s.retry(err1)
		return
	}
	if err2 != nil {
		s.retry(err2)
		return
	}
	s.advance(StateReqMgrObj)
}

func (s *Service) stepReqMgrObj() {
	req := dbusclient.Request{
		Destination: "org.bluez",
		Path:        "/",
		Interface:   "org.freedesktop.DBus.ObjectManager",
		Member:      "GetManagedObjects",
	}
	_, err := s.bc.SendAsync(req, 5*time.Second, func(reply []interface{}, errName string) {
		if errName != "" {
			s.retry(&dbusclient.PeerRejection{ErrorName: errName})
			return
		}
		objs, ok := parseManagedObjects(reply)
		if !ok {
			s.retry(&dbusclient.ProtocolViolation{Detail: "GetManagedObjects reply shape"})
			return
		}
		for path, ifaces := range objs {
			if hasAdapterOrDevice(ifaces) {
				s.subscribePropertiesChanged(path)
			}
		}
		s.advance(StateWaiting)
	})
	if err != nil {
		s.retry(err)
	}
}

func parseManagedObjects(reply []interface{}) (map[dbus.ObjectPath][]string, bool) {
	if len(reply) != 1 {
		return nil, false
	}
	raw, ok := reply[0].(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	if !ok {
		return nil, false
	}
	out := make(map[dbus.ObjectPath][]string, len(raw))
	for path, ifaces := range raw {
		names := make([]string, 0, len(ifaces))
		for name := range ifaces {
			names = append(names, name)
		}
		out[path] = names
	}
	return out, true
}

func hasAdapterOrDevice(ifaces []string) bool {
	for _, name := range ifaces {
		if name == "org.bluez.Adapter1" || name == "org.bluez.Device1" {
			return true
		}
	}
	return false
}

func (s *Service) subscribePropertiesChanged(path dbus.ObjectPath) {
	s.mu.Lock()
	if _, ok := s.subscriptions[path]; ok {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	handle, err := s.bc.AddFilter(dbusclient.Filter{
		Type:      dbusclient.Signal,
		Interface: "org.freedesktop.DBus.Properties",
		Member:    "PropertiesChanged",
		Path:      path,
	}, func(msg *dbusclient.IncomingMessage) { s.onPropertiesChanged(path, msg) })
	if err != nil {
		s.log.WithError(err).WithField("path", path).Warn("gattsvc: subscribe PropertiesChanged failed")
		return
	}
	s.mu.Lock()
	s.subscriptions[path] = handle
	s.mu.Unlock()
}

func (s *Service) unsubscribePropertiesChanged(path dbus.ObjectPath) {
	s.mu.Lock()
	handle, ok := s.subscriptions[path]
	if ok {
		delete(s.subscriptions, path)
	}
	s.mu.Unlock()
	if ok {
		_ = s.bc.RemoveFilter(handle)
	}
}

// stepWaiting only advances once advertising has been requested by the
// collaborator's AP-mode callback; it otherwise idles without
// re-arming, since onAPModeChangeAsync re-arms it when the flag flips.
func (s *Service) stepWaiting() {
	s.mu.Lock()
	enabled := s.advEnable
	s.mu.Unlock()
	if enabled {
		s.advance(StateRegAppPath)
	}
}

func (s *Service) stepRegAppPath() {
	if err := s.registerObjectTree(); err != nil {
		s.retry(err)
		return
	}
	s.advance(StateRegApp)
}

func (s *Service) stepRegApp() {
	req := dbusclient.Request{
		Destination: "org.bluez",
		Path:        adapterObj,
		Interface:   "org.bluez.GattManager1",
		Member:      "RegisterApplication",
		Args:        []interface{}{rootPath, map[string]dbus.Variant{}},
	}
	_, err := s.bc.SendAsync(req, 10*time.Second, func(_ []interface{}, errName string) {
		if errName != "" {
			s.retry(&dbusclient.PeerRejection{ErrorName: errName})
			return
		}
		s.advance(StateRegAdvPath)
	})
	if err != nil {
		s.retry(err)
	}
}

func (s *Service) stepRegAdvPath() {
	s.mu.Lock()
	name := s.localName
	s.mu.Unlock()

	adv := &advertisement{
		localName:    name,
		serviceUUIDs: []string{uuidWifiSvc},
		onRelease:    func() { s.log.Warn("gattsvc: advertisement released by broker") },
	}
	if err := s.bc.RegisterObject(advPath, "org.bluez.LEAdvertisement1", adv); err != nil {
		s.retry(err)
		return
	}
	props := prop.New(s.bc.Conn(), advPath, adv.propsMap())
	_ = props
	s.advance(StateRegAdv)
}

func (s *Service) stepRegAdv() {
	req := dbusclient.Request{
		Destination: "org.bluez",
		Path:        adapterObj,
		Interface:   "org.bluez.LEAdvertisingManager1",
		Member:      "RegisterAdvertisement",
		Args:        []interface{}{advPath, map[string]dbus.Variant{}},
	}
	_, err := s.bc.SendAsync(req, 10*time.Second, func(_ []interface{}, errName string) {
		if errName != "" {
			s.retry(&dbusclient.PeerRejection{ErrorName: errName})
			return
		}
		s.advance(StateReady)
	})
	if err != nil {
		s.retry(err)
	}
}

// teardown reverses REG_APP_PATH..REG_ADV, returning to WAITING. Called
// when advertising is disabled from READY.
func (s *Service) teardown() {
	req := dbusclient.Request{
		Destination: "org.bluez", Path: adapterObj,
		Interface: "org.bluez.LEAdvertisingManager1", Member: "UnregisterAdvertisement",
		Args: []interface{}{advPath},
	}
	_ = s.bc.SendOneway(req)
	_ = s.bc.UnregisterObject(advPath)

	req2 := dbusclient.Request{
		Destination: "org.bluez", Path: adapterObj,
		Interface: "org.bluez.GattManager1", Member: "UnregisterApplication",
		Args: []interface{}{rootPath},
	}
	_ = s.bc.SendOneway(req2)
	s.unregisterObjectTree()

	s.setState(StateWaiting)
}

func (s *Service) onAPModeChangeAsync(enabled bool) {
	s.runOnReactor(func() { s.onAPModeChange(enabled) })
}

func (s *Service) onAPModeChange(enabled bool) {
	s.mu.Lock()
	s.advEnable = enabled
	state := s.state
	s.mu.Unlock()

	if enabled && state == StateWaiting {
		s.re.TimerSet(s.stepTimer, 0)
		return
	}
	if !enabled && state == StateReady {
		s.teardown()
	}
	s.updateAdv()
}

// updateAdv re-asserts the desired LE advertising posture at the
// platform level, for adapters whose BlueZ build perturbs advertising
// state on its own (after a Powered or Discovering flip, or a device
// connect/disconnect).
func (s *Service) updateAdv() {
	s.mu.Lock()
	enabled := s.advEnable
	s.mu.Unlock()
	if s.advertiser == nil {
		return
	}
	if err := s.advertiser.SetAdvertising(enabled); err != nil {
		s.log.WithError(err).Warn("gattsvc: update_adv failed")
	}
}

// runOnReactor marshals fn onto the Reactor goroutine via its
// thread-safe wake mechanism, for collaborator callbacks that may run
// on their own goroutine per the collaborator contract. TimerSet is not
// safe to call from a foreign goroutine — the timer heap is only
// synchronized by running exclusively on the Reactor goroutine — so
// this must go through Reactor.Invoke rather than a raw TimerSet(0).
func (s *Service) runOnReactor(fn func()) {
	s.re.Invoke(fn)
}
