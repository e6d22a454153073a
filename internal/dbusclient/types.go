package dbusclient

import "github.com/godbus/dbus/v5"

// MessageType narrows a filter to one kind of D-Bus message; zero value
// matches every type.
type MessageType uint8

const (
	AnyMessage MessageType = iota
	MethodCall
	MethodReply
	ErrorMessage
	Signal
)

// Filter is the in-process projection of what the broker calls a match
// rule. Every non-empty field must match exactly; an unset field (empty
// string, or AnyMessage) matches anything. A Filter with every field
// unset matches every message — used sparingly, since it also subscribes
// to every signal on the bus once installed.
type Filter struct {
	Type        MessageType
	Sender      string
	Interface   string
	Member      string
	Path        dbus.ObjectPath
	Destination string
	// Eavesdrop requests delivery of signals not addressed to this
	// client's own unique name. Required when Destination is unset (or
	// set to something other than our own unique name) on a Signal filter.
	Eavesdrop bool
}

func (f Filter) matches(msg *incoming) bool {
	if f.Type != AnyMessage && f.Type != msg.kind {
		return false
	}
	if f.Sender != "" && f.Sender != msg.sender {
		return false
	}
	if f.Interface != "" {
		if msg.iface == "" {
			// Interface is required on method calls/signals; absent on a
			// message that should carry one is a non-match, not a wildcard.
			return false
		}
		if f.Interface != msg.iface {
			return false
		}
	}
	if f.Member != "" && f.Member != msg.member {
		return false
	}
	if f.Path != "" && f.Path != msg.path {
		return false
	}
	if f.Destination != "" && f.Destination != msg.destination {
		return false
	}
	return true
}

// FilterHandle identifies an installed Filter for later removal.
type FilterHandle uint64

// FilterCallback receives every message matching an installed Filter.
type FilterCallback func(msg *IncomingMessage)

// IncomingMessage is the broker message handed to a FilterCallback.
type IncomingMessage struct {
	Type        MessageType
	Sender      string
	Path        dbus.ObjectPath
	Interface   string
	Member      string
	Destination string
	Body        []interface{}
}

// incoming is the internal representation used for filter matching,
// built once per message and reused across every registered filter.
type incoming struct {
	kind        MessageType
	sender      string
	path        dbus.ObjectPath
	iface       string
	member      string
	destination string
	body        []interface{}
}

// AsyncCallback completes an async send. Exactly one of reply/errName is
// set: reply carries the method reply body on success; errName carries
// the D-Bus error name (including the synthetic timeout/disconnect
// names this package defines) on failure.
type AsyncCallback func(reply []interface{}, errName string)

// CallHandle identifies a pending async call for bookkeeping/logging; it
// is not the wire-level D-Bus serial (godbus does not expose that to
// callers), but plays the same role: async pending entries are indexed
// by it exactly as spec.md describes indexing by serial.
type CallHandle uint64

const (
	// ErrNameTimeout is reported to an AsyncCallback when the reply never
	// arrived before the call's deadline.
	ErrNameTimeout = "io.btprovd.Error.Timeout"
	// ErrNameDisconnected is reported to every still-pending AsyncCallback
	// when the broker connection is lost.
	ErrNameDisconnected = "io.btprovd.Error.Disconnected"
)
