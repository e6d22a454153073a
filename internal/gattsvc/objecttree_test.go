package gattsvc

import (
	"testing"

	"github.com/godbus/dbus/v5/prop"
)

func TestVariantizePropsWrapsEachValue(t *testing.T) {
	m := prop.Map{
		"org.bluez.GattCharacteristic1": {
			"UUID":  {Value: "0000FE28-0000-1000-8000-00805F9B34FB"},
			"Flags": {Value: []string{"read"}},
		},
	}
	out := variantizeProps(m)

	iface, ok := out["org.bluez.GattCharacteristic1"]
	if !ok {
		t.Fatalf("expected interface key to survive variantizing")
	}
	uuidVariant, ok := iface["UUID"]
	if !ok {
		t.Fatalf("expected UUID property to survive variantizing")
	}
	if uuidVariant.Value() != "0000FE28-0000-1000-8000-00805F9B34FB" {
		t.Fatalf("unexpected UUID variant value: %v", uuidVariant.Value())
	}
}

func TestBuildCharacteristicsCoversEveryServicePath(t *testing.T) {
	s := &Service{}
	chars := s.buildCharacteristics()
	if len(chars) != 7 {
		t.Fatalf("expected 7 characteristics, got %d", len(chars))
	}

	byPath := make(map[string]bool)
	for _, c := range chars {
		byPath[string(c.path)] = true
	}
	for _, want := range []string{
		string(dsnCharPath), string(duidCharPath),
		string(connectChrPath), string(stateChrPath),
		string(scanChrPath), string(resultChrPath), string(tokenChrPath),
	} {
		if !byPath[want] {
			t.Fatalf("expected characteristic path %s to be present", want)
		}
	}
}
