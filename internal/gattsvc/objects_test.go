package gattsvc

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestCharacteristicNilHooksReturnNotSupported(t *testing.T) {
	c := &characteristic{}

	if _, derr := c.ReadValue(nil); derr == nil {
		t.Fatalf("expected NotSupported for nil onRead")
	}
	if derr := c.WriteValue(nil, nil); derr == nil {
		t.Fatalf("expected NotSupported for nil onWrite")
	}
	if derr := c.StartNotify(); derr == nil {
		t.Fatalf("expected NotSupported for nil onStartNotify")
	}
	if derr := c.StopNotify(); derr == nil {
		t.Fatalf("expected NotSupported for nil onStopNotify")
	}
}

func TestCharacteristicInvokesConfiguredHooks(t *testing.T) {
	c := &characteristic{onRead: func(options map[string]dbus.Variant) ([]byte, *dbus.Error) {
		return []byte("hello"), nil
	}}
	got, derr := c.ReadValue(nil)
	if derr != nil {
		t.Fatalf("ReadValue: %v", derr)
	}
	if string(got) != "hello" {
		t.Fatalf("expected configured hook's value, got %q", got)
	}
}

func TestAgentReleaseInvokesCallback(t *testing.T) {
	called := false
	a := &agent{onRelease: func() { called = true }}
	if derr := a.Release(); derr != nil {
		t.Fatalf("Release: %v", derr)
	}
	if !called {
		t.Fatalf("expected onRelease callback to run")
	}
}

func TestAdvertisementReleaseIsSafeWithoutCallback(t *testing.T) {
	a := &advertisement{}
	if derr := a.Release(); derr != nil {
		t.Fatalf("Release: %v", derr)
	}
}

func TestAgentNoInputNoOutputMethodsSucceedUnconditionally(t *testing.T) {
	a := &agent{}
	if derr := a.Cancel(); derr != nil {
		t.Fatalf("Cancel: %v", derr)
	}
	if derr := a.RequestAuthorization("/org/bluez/hci0/dev_AA"); derr != nil {
		t.Fatalf("RequestAuthorization: %v", derr)
	}
	if derr := a.AuthorizeService("/org/bluez/hci0/dev_AA", "0000"); derr != nil {
		t.Fatalf("AuthorizeService: %v", derr)
	}
}
