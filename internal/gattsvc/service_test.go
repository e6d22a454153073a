package gattsvc

import (
	"github.com/godbus/dbus/v5"
	"testing"
)

func TestDeriveLocalName(t *testing.T) {
	got := deriveLocalName("AA:BB:CC:DD:EE:FF")
	want := "Ayla-AABBCCDDEEFF"
	if got != want {
		t.Fatalf("deriveLocalName = %q, want %q", got, want)
	}
}

func TestDeriveLocalNameTruncatesOverlongInput(t *testing.T) {
	got := deriveLocalName("AA:BB:CC:DD:EE:FF:00:11")
	if len(got) != len("Ayla-")+12 {
		t.Fatalf("expected name capped at 12 hex chars, got %q", got)
	}
}

func TestVariantString(t *testing.T) {
	reply := []interface{}{dbus.MakeVariant("AA:BB:CC:DD:EE:FF")}
	got, ok := variantString(reply)
	if !ok || got != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("variantString = (%q, %v), want (\"AA:BB:CC:DD:EE:FF\", true)", got, ok)
	}
}

func TestVariantStringRejectsWrongShape(t *testing.T) {
	if _, ok := variantString(nil); ok {
		t.Fatalf("expected empty reply to be rejected")
	}
	if _, ok := variantString([]interface{}{"not-a-variant"}); ok {
		t.Fatalf("expected non-variant reply to be rejected")
	}
	if _, ok := variantString([]interface{}{dbus.MakeVariant(42)}); ok {
		t.Fatalf("expected non-string variant to be rejected")
	}
}

func TestHasAdapterOrDevice(t *testing.T) {
	if !hasAdapterOrDevice([]string{"org.freedesktop.DBus.Introspectable", "org.bluez.Adapter1"}) {
		t.Fatalf("expected Adapter1 interface to be recognized")
	}
	if !hasAdapterOrDevice([]string{"org.bluez.Device1"}) {
		t.Fatalf("expected Device1 interface to be recognized")
	}
	if hasAdapterOrDevice([]string{"org.bluez.GattService1"}) {
		t.Fatalf("expected unrelated interface to be rejected")
	}
}

func TestParseManagedObjects(t *testing.T) {
	raw := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		"/org/bluez/hci0": {
			"org.bluez.Adapter1": {},
		},
	}
	objs, ok := parseManagedObjects([]interface{}{raw})
	if !ok {
		t.Fatalf("expected well-shaped reply to parse")
	}
	ifaces, ok := objs["/org/bluez/hci0"]
	if !ok || len(ifaces) != 1 || ifaces[0] != "org.bluez.Adapter1" {
		t.Fatalf("unexpected parsed interfaces: %v", ifaces)
	}
}

func TestParseManagedObjectsRejectsWrongShape(t *testing.T) {
	if _, ok := parseManagedObjects(nil); ok {
		t.Fatalf("expected empty reply to be rejected")
	}
	if _, ok := parseManagedObjects([]interface{}{"not-a-map"}); ok {
		t.Fatalf("expected non-map reply to be rejected")
	}
}
