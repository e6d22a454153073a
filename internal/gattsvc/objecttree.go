package gattsvc

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

// registerObjectTree exports root, both services, every characteristic
// and their Properties interfaces. Per REG_APP_PATH, this must register
// every path before RegisterApplication is called.
func (s *Service) registerObjectTree() error {
	if err := s.bc.RegisterObject(rootPath, "org.freedesktop.DBus.ObjectManager", &objectManager{svc: s}); err != nil {
		return err
	}

	services := []*gattService{
		{path: identitySvcPath, uuid: uuidIdentitySvc, primary: true},
		{path: wifiSvcPath, uuid: uuidWifiSvc, primary: true},
		{path: tokenSvcPath, uuid: uuidTokenSvc, primary: true},
	}
	for _, svc := range services {
		if err := s.bc.RegisterObject(svc.path, "org.bluez.GattService1", svc); err != nil {
			return err
		}
		prop.New(s.bc.Conn(), svc.path, svc.propsMap())
	}

	chars := s.buildCharacteristics()
	for _, c := range chars {
		if err := s.bc.RegisterObject(c.path, "org.bluez.GattCharacteristic1", c); err != nil {
			return err
		}
		prop.New(s.bc.Conn(), c.path, c.propsMap())
	}
	return nil
}

func (s *Service) unregisterObjectTree() {
	paths := []dbus.ObjectPath{
		dsnCharPath, duidCharPath,
		connectChrPath, stateChrPath, scanChrPath, resultChrPath,
		tokenChrPath,
		identitySvcPath, wifiSvcPath, tokenSvcPath,
		rootPath,
	}
	for _, p := range paths {
		_ = s.bc.UnregisterObject(p)
	}
}

func (s *Service) buildCharacteristics() []*characteristic {
	return []*characteristic{
		{
			path: dsnCharPath, uuid: uuidDSNChar, service: identitySvcPath,
			flags:  []string{"read"},
			onRead: func(map[string]dbus.Variant) ([]byte, *dbus.Error) { return s.readDSN() },
		},
		{
			path: duidCharPath, uuid: uuidDUIDChar, service: identitySvcPath,
			flags:  []string{"read"},
			onRead: func(map[string]dbus.Variant) ([]byte, *dbus.Error) { return s.readDUID() },
		},
		{
			path: connectChrPath, uuid: uuidConnectChr, service: wifiSvcPath,
			flags:   []string{"write"},
			onWrite: func(value []byte, _ map[string]dbus.Variant) *dbus.Error { return s.writeConnect(value) },
		},
		{
			path: stateChrPath, uuid: uuidStateChr, service: wifiSvcPath,
			flags:         []string{"read", "notify"},
			onRead:        func(map[string]dbus.Variant) ([]byte, *dbus.Error) { return s.readState() },
			onStartNotify: func() *dbus.Error { s.setStateNotify(true); return nil },
			onStopNotify:  func() *dbus.Error { s.setStateNotify(false); return nil },
		},
		{
			path: scanChrPath, uuid: uuidScanChr, service: wifiSvcPath,
			flags:   []string{"write"},
			onWrite: func(value []byte, _ map[string]dbus.Variant) *dbus.Error { return s.writeScan(value) },
		},
		{
			path: resultChrPath, uuid: uuidResultChr, service: wifiSvcPath,
			flags:         []string{"read", "notify"},
			onRead:        func(map[string]dbus.Variant) ([]byte, *dbus.Error) { return s.readResult() },
			onStartNotify: func() *dbus.Error { s.setResultNotify(true); return nil },
			onStopNotify:  func() *dbus.Error { s.setResultNotify(false); return nil },
		},
		{
			path: tokenChrPath, uuid: uuidTokenChr, service: tokenSvcPath,
			flags:   []string{"write"},
			onWrite: func(value []byte, _ map[string]dbus.Variant) *dbus.Error { return s.writeSetupToken(value) },
		},
	}
}

// objectManager implements org.freedesktop.DBus.ObjectManager on the
// application root, aggregating every exported object's properties —
// BlueZ walks this once at RegisterApplication to learn the GATT tree.
type objectManager struct {
	svc *Service
}

func (o *objectManager) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	out := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)

	addService := func(svc *gattService) {
		out[svc.path] = variantizeProps(svc.propsMap())
	}
	addService(&gattService{path: identitySvcPath, uuid: uuidIdentitySvc, primary: true})
	addService(&gattService{path: wifiSvcPath, uuid: uuidWifiSvc, primary: true})
	addService(&gattService{path: tokenSvcPath, uuid: uuidTokenSvc, primary: true})

	for _, c := range o.svc.buildCharacteristics() {
		out[c.path] = variantizeProps(c.propsMap())
	}
	return out, nil
}

func variantizeProps(m prop.Map) map[string]map[string]dbus.Variant {
	out := make(map[string]map[string]dbus.Variant, len(m))
	for iface, props := range m {
		ifaceOut := make(map[string]dbus.Variant, len(props))
		for name, p := range props {
			ifaceOut[name] = dbus.MakeVariant(p.Value)
		}
		out[iface] = ifaceOut
	}
	return out
}
