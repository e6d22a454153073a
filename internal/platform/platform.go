// Package platform collects the hardware/OS shims the core treats as
// external collaborators: status LEDs, OTA update triggers, and the
// fallback LE-advertising control knob for adapters whose BlueZ build
// doesn't expose a reliable Discoverable property.
package platform

import (
	"os/exec"

	"github.com/sirupsen/logrus"
)

// LEDController drives a status indicator. The default implementation
// only logs; real boards provide a GPIO- or sysfs-backed one.
type LEDController interface {
	SetProvisioning(active bool)
	SetConnected(active bool)
}

// LoggingLEDController satisfies LEDController by logging transitions.
type LoggingLEDController struct{ Log *logrus.Logger }

func (l LoggingLEDController) SetProvisioning(active bool) {
	l.Log.WithField("active", active).Debug("led: provisioning state")
}

func (l LoggingLEDController) SetConnected(active bool) {
	l.Log.WithField("active", active).Debug("led: connected state")
}

// OTAController triggers a firmware update check/apply cycle.
type OTAController interface {
	CheckNow() error
}

// LoggingOTAController satisfies OTAController by logging the request.
type LoggingOTAController struct{ Log *logrus.Logger }

func (o LoggingOTAController) CheckNow() error {
	o.Log.Info("ota: check requested (no-op controller)")
	return nil
}

// MACSource resolves the local BLE adapter's hardware address when the
// broker's own Adapter1.Address property is unavailable at bring-up.
type MACSource interface {
	Address() (string, error)
}

// Advertiser forces LE advertising on or off at the platform level when
// the desired and observed advertising posture diverge. The GATT
// service's update_adv step calls this only when the broker's adapter
// Discoverable property doesn't reflect the request after being set.
type Advertiser interface {
	SetAdvertising(enabled bool) error
}

// ShellAdvertiser shells out to hciconfig, matching the source's
// "system(\"hciconfig hci0 leadv\")" fallback — used only when the
// adapter property path is refused by the broker.
type ShellAdvertiser struct {
	Adapter string // e.g. "hci0"
	Log     *logrus.Logger
}

func (s ShellAdvertiser) SetAdvertising(enabled bool) error {
	arg := "noleadv"
	if enabled {
		arg = "leadv"
	}
	cmd := exec.Command("hciconfig", s.Adapter, arg)
	out, err := cmd.CombinedOutput()
	if err != nil {
		s.Log.WithError(err).WithField("output", string(out)).Warn("hciconfig fallback failed")
		return err
	}
	return nil
}
