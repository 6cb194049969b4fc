package ble

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/radlink/internal/testutil/testlog"
	"github.com/godbus/dbus/v5"
)

func TestNewDialerValidatesAddress(t *testing.T) {
	testlog.Start(t)

	if _, err := NewDialer("nope", ""); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	d, err := NewDialer("aa:bb:cc:dd:ee:ff", "")
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	if d.Adapter != "hci0" || d.Identity() != "ble:AA:BB:CC:DD:EE:FF" {
		t.Fatalf("unexpected dialer: %+v", d)
	}
	if got := DevicePath("hci1", "aa:bb:cc:dd:ee:ff"); got != "/org/bluez/hci1/dev_AA_BB_CC_DD_EE_FF" {
		t.Fatalf("unexpected device path %s", got)
	}
}

func TestMatchCharacteristicsScopesToDevice(t *testing.T) {
	testlog.Start(t)

	dev := DevicePath("hci0", "AA:BB:CC:DD:EE:FF")
	other := DevicePath("hci0", "11:22:33:44:55:66")
	char := func(uuid string) map[string]map[string]dbus.Variant {
		return map[string]map[string]dbus.Variant{
			bluezGattChar: {"UUID": dbus.MakeVariant(uuid)},
		}
	}
	objects := map[dbus.ObjectPath]map[string]map[string]dbus.Variant{
		dev + "/service0010/char0011":   char(WriteUUID),
		dev + "/service0010/char0013":   char(NotifyUUID),
		other + "/service0010/char0011": char(WriteUUID),
	}
	write, notify := matchCharacteristics(dev, objects)
	if write != dev+"/service0010/char0011" || notify != dev+"/service0010/char0013" {
		t.Fatalf("unexpected match write=%s notify=%s", write, notify)
	}
}

func TestNotifyValueFiltersSignals(t *testing.T) {
	testlog.Start(t)

	path := dbus.ObjectPath("/org/bluez/hci0/dev_X/service0010/char0013")
	sig := &dbus.Signal{
		Path: path,
		Name: dbusProperties + ".PropertiesChanged",
		Body: []interface{}{
			bluezGattChar,
			map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{1, 2, 3})},
			[]string{},
		},
	}
	got, ok := notifyValue(path, sig)
	if !ok || !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("expected notification value, got %x ok=%v", got, ok)
	}
	if _, ok := notifyValue("/elsewhere", sig); ok {
		t.Fatalf("expected foreign path to be ignored")
	}

	drop := &dbus.Signal{
		Path: "/org/bluez/hci0/dev_X",
		Name: dbusProperties + ".PropertiesChanged",
		Body: []interface{}{bluezDevice1, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}},
	}
	if !disconnected(drop) {
		t.Fatalf("expected disconnect signal to be detected")
	}
}

func TestMatchRulesCoverDeviceAndNotify(t *testing.T) {
	testlog.Start(t)

	dev := DevicePath("hci0", "AA:BB:CC:DD:EE:FF")
	notify := dev + "/service0010/char0013"
	rules := matchRules(dev, notify)
	if len(rules) != 2 {
		t.Fatalf("expected two match rules, got %d: %v", len(rules), rules)
	}
	seen := map[string]bool{}
	for _, rule := range rules {
		if !strings.Contains(rule, "interface='"+dbusProperties+"'") ||
			!strings.Contains(rule, "member='PropertiesChanged'") ||
			!strings.Contains(rule, "sender='"+bluezBus+"'") {
			t.Fatalf("rule does not select BlueZ property changes: %s", rule)
		}
		for _, path := range []dbus.ObjectPath{dev, notify} {
			if strings.Contains(rule, "path='"+string(path)+"'") {
				seen[string(path)] = true
			}
		}
	}
	if !seen[string(dev)] || !seen[string(notify)] {
		t.Fatalf("expected rules for device and notify paths, got %v", rules)
	}
}

func TestRouteSignals(t *testing.T) {
	testlog.Start(t)

	dev := DevicePath("hci0", "AA:BB:CC:DD:EE:FF")
	notify := dev + "/service0010/char0013"
	changed := func(path dbus.ObjectPath, iface string, props map[string]dbus.Variant) *dbus.Signal {
		return &dbus.Signal{
			Sender: bluezBus,
			Path:   path,
			Name:   dbusProperties + ".PropertiesChanged",
			Body:   []interface{}{iface, props, []string{}},
		}
	}

	value, lost := route(dev, notify, changed(notify, bluezGattChar, map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{9, 8})}))
	if lost || !bytes.Equal(value, []byte{9, 8}) {
		t.Fatalf("expected notification value, got %x lost=%v", value, lost)
	}

	value, lost = route(dev, notify, changed(dev, bluezDevice1, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)}))
	if !lost || value != nil {
		t.Fatalf("expected device disconnect to report a lost link, got %x lost=%v", value, lost)
	}

	if _, lost = route(dev, notify, changed(dev, bluezDevice1, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-60))})); lost {
		t.Fatalf("expected unrelated device property change to be ignored")
	}
	if _, lost = route(dev, notify, changed(dev, "org.bluez.Battery1", map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)})); lost {
		t.Fatalf("expected other interfaces to be ignored")
	}
	other := DevicePath("hci0", "11:22:33:44:55:66")
	if _, lost = route(dev, notify, changed(other, bluezDevice1, map[string]dbus.Variant{"Connected": dbus.MakeVariant(false)})); lost {
		t.Fatalf("expected another device's disconnect to be ignored")
	}
}
