package dbusclient

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func sampleMessage() *incoming {
	return &incoming{
		kind:        Signal,
		sender:      "org.bluez",
		path:        dbus.ObjectPath("/org/bluez/hci0"),
		iface:       "org.freedesktop.DBus.Properties",
		member:      "PropertiesChanged",
		destination: "",
		body:        []interface{}{"org.bluez.Adapter1"},
	}
}

func TestFilterZeroValueMatchesEverything(t *testing.T) {
	if !(Filter{}).matches(sampleMessage()) {
		t.Fatalf("zero-value filter should match any message")
	}
}

func TestFilterTypeMismatch(t *testing.T) {
	f := Filter{Type: MethodCall}
	if f.matches(sampleMessage()) {
		t.Fatalf("filter requiring MethodCall should not match a Signal")
	}
}

func TestFilterEveryFieldMustMatch(t *testing.T) {
	msg := sampleMessage()
	f := Filter{
		Sender:      msg.sender,
		Interface:   msg.iface,
		Member:      msg.member,
		Path:        msg.path,
		Destination: msg.destination,
	}
	if !f.matches(msg) {
		t.Fatalf("filter exactly matching every field should match")
	}

	broken := f
	broken.Member = "SomethingElse"
	if broken.matches(msg) {
		t.Fatalf("filter with one mismatched field should not match")
	}
}

func TestFilterInterfaceRequiredWhenSet(t *testing.T) {
	msg := sampleMessage()
	msg.iface = ""
	f := Filter{Interface: "org.freedesktop.DBus.Properties"}
	if f.matches(msg) {
		t.Fatalf("a filter requiring an interface must not match a message with none")
	}
}

func TestFilterUnsetFieldsActAsWildcards(t *testing.T) {
	msg := sampleMessage()
	f := Filter{Member: msg.member} // only Member constrained
	if !f.matches(msg) {
		t.Fatalf("filter with only Member set should match on Member alone")
	}

	other := sampleMessage()
	other.sender = "some.other.service"
	if !f.matches(other) {
		t.Fatalf("filter with only Member set should ignore Sender entirely")
	}
}

func TestFilterDestinationMismatch(t *testing.T) {
	msg := sampleMessage()
	f := Filter{Destination: ":1.42"}
	if f.matches(msg) {
		t.Fatalf("filter requiring a destination should not match a broadcast signal with none")
	}
}
