package gattsvc

import (
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
)

// characteristic is the generic GattCharacteristic1 object: every
// concrete characteristic (dsn, duid, connect, state, scan, result,
// setup-token) is one of these configured with closures over the
// owning Service, exported at its own object path. Hooks left nil
// answer with org.bluez.Error.NotSupported, matching BlueZ's own
// behavior for a characteristic that doesn't implement a given call.
type characteristic struct {
	path    dbus.ObjectPath
	uuid    string
	service dbus.ObjectPath
	flags   []string

	onRead        func(options map[string]dbus.Variant) ([]byte, *dbus.Error)
	onWrite       func(value []byte, options map[string]dbus.Variant) *dbus.Error
	onStartNotify func() *dbus.Error
	onStopNotify  func() *dbus.Error
}

var errNotSupported = dbus.NewError("org.bluez.Error.NotSupported", []interface{}{"not supported"})

func (c *characteristic) ReadValue(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
	if c.onRead == nil {
		return nil, errNotSupported
	}
	return c.onRead(options)
}

func (c *characteristic) WriteValue(value []byte, options map[string]dbus.Variant) *dbus.Error {
	if c.onWrite == nil {
		return errNotSupported
	}
	return c.onWrite(value, options)
}

func (c *characteristic) StartNotify() *dbus.Error {
	if c.onStartNotify == nil {
		return errNotSupported
	}
	return c.onStartNotify()
}

func (c *characteristic) StopNotify() *dbus.Error {
	if c.onStopNotify == nil {
		return errNotSupported
	}
	return c.onStopNotify()
}

func (c *characteristic) propsMap() prop.Map {
	return prop.Map{
		"org.bluez.GattCharacteristic1": {
			"UUID":    {Value: c.uuid, Writable: false, Emit: prop.EmitFalse},
			"Service": {Value: c.service, Writable: false, Emit: prop.EmitFalse},
			"Flags":   {Value: c.flags, Writable: false, Emit: prop.EmitFalse},
		},
	}
}

// gattService is the GattService1 object: UUID and Primary are static;
// Characteristics is informational only (BlueZ derives the real tree
// from ObjectManager).
type gattService struct {
	path    dbus.ObjectPath
	uuid    string
	primary bool
}

func (s *gattService) propsMap() prop.Map {
	return prop.Map{
		"org.bluez.GattService1": {
			"UUID":    {Value: s.uuid, Writable: false, Emit: prop.EmitFalse},
			"Primary": {Value: s.primary, Writable: false, Emit: prop.EmitFalse},
		},
	}
}

// advertisement is the LEAdvertisement1 object registered with
// LEAdvertisingManager1. Release is called by BlueZ when the
// advertisement is removed out from under us (adapter reset, etc.).
type advertisement struct {
	localName    string
	serviceUUIDs []string
	onRelease    func()
}

func (a *advertisement) Release() *dbus.Error {
	if a.onRelease != nil {
		a.onRelease()
	}
	return nil
}

func (a *advertisement) propsMap() prop.Map {
	return prop.Map{
		"org.bluez.LEAdvertisement1": {
			"Type":         {Value: "peripheral", Writable: false, Emit: prop.EmitFalse},
			"LocalName":    {Value: a.localName, Writable: false, Emit: prop.EmitFalse},
			"ServiceUUIDs": {Value: a.serviceUUIDs, Writable: false, Emit: prop.EmitFalse},
			"Discoverable": {Value: false, Writable: false, Emit: prop.EmitFalse},
		},
	}
}

// agent is the Agent1 object registered with AgentManager1. It declares
// NoInputNoOutput capability, so every interactive method BlueZ could
// call (RequestPinCode, RequestPasskey, DisplayPasskey, RequestConfirmation,
// RequestAuthorization) is unreachable in practice; Release and Cancel are
// the only ones the agent lifecycle actually exercises.
type agent struct {
	onRelease func()
}

func (a *agent) Release() *dbus.Error {
	if a.onRelease != nil {
		a.onRelease()
	}
	return nil
}

func (a *agent) Cancel() *dbus.Error { return nil }

func (a *agent) RequestAuthorization(device dbus.ObjectPath) *dbus.Error {
	return nil // NoInputNoOutput: authorize unconditionally
}

func (a *agent) AuthorizeService(device dbus.ObjectPath, uuid string) *dbus.Error {
	return nil
}
