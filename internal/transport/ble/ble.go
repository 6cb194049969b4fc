// Package ble carries spectrometer frames over Bluetooth LE using the BlueZ
// D-Bus API. Requests are written to one GATT characteristic in 18-byte units
// and responses arrive as notifications on another.
package ble

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/radlink/internal/protocol/frame"
	"github.com/danmuck/radlink/internal/transport"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	ServiceUUID = "e63215e5-7003-49d8-96b0-b024798fb901"
	WriteUUID   = "e63215e6-7003-49d8-96b0-b024798fb901"
	NotifyUUID  = "e63215e7-7003-49d8-96b0-b024798fb901"

	bluezBus          = "org.bluez"
	bluezDevice1      = "org.bluez.Device1"
	bluezGattChar     = "org.bluez.GattCharacteristic1"
	dbusProperties    = "org.freedesktop.DBus.Properties"
	dbusObjectManager = "org.freedesktop.DBus.ObjectManager"

	defaultAdapter  = "hci0"
	connectTimeout  = 10 * time.Second
	resolveTimeout  = 15 * time.Second
	notifyQueueSize = 128
)

var (
	ErrInvalidAddress        = errors.New("ble: invalid device address")
	ErrCharacteristicMissing = errors.New("ble: characteristic not found")
	addressPattern           = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)
)

// Dialer connects to one spectrometer by MAC address through a BlueZ adapter.
type Dialer struct {
	Address string
	Adapter string
}

func NewDialer(address, adapter string) (*Dialer, error) {
	if !addressPattern.MatchString(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if adapter == "" {
		adapter = defaultAdapter
	}
	return &Dialer{Address: strings.ToUpper(address), Adapter: adapter}, nil
}

func (d *Dialer) Identity() string {
	return "ble:" + d.Address
}

// Dial connects the device, resolves the GATT characteristics and subscribes
// to response notifications.
func (d *Dialer) Dial(ctx context.Context) (transport.Link, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("ble: system bus: %w", err)
	}
	l := &Link{
		conn:       conn,
		address:    d.Address,
		devicePath: DevicePath(d.Adapter, d.Address),
		notifyCh:   make(chan []byte, notifyQueueSize),
		closed:     make(chan struct{}),
	}
	if err := l.connect(ctx); err != nil {
		return nil, err
	}
	if err := l.waitServicesResolved(ctx); err != nil {
		l.disconnect()
		return nil, err
	}
	if err := l.discover(); err != nil {
		l.disconnect()
		return nil, err
	}
	if err := l.subscribe(); err != nil {
		l.disconnect()
		return nil, err
	}
	log.Info().Str("device", d.Identity()).Str("adapter", d.Adapter).Msg("ble link established")
	return l, nil
}

// Link is an open BlueZ GATT channel.
type Link struct {
	conn       *dbus.Conn
	address    string
	devicePath dbus.ObjectPath
	writePath  dbus.ObjectPath
	notifyPath dbus.ObjectPath

	rules    []string
	sigCh    chan *dbus.Signal
	notifyCh chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func (l *Link) MTU() int {
	return frame.BLEUnit
}

func (l *Link) Send(ctx context.Context, chunk []byte) error {
	select {
	case <-l.closed:
		return transport.ErrClosed
	default:
	}
	obj := l.conn.Object(bluezBus, l.writePath)
	call := obj.CallWithContext(ctx, bluezGattChar+".WriteValue", 0, chunk, map[string]dbus.Variant{
		"type": dbus.MakeVariant("request"),
	})
	if call.Err != nil {
		return fmt.Errorf("ble: write value: %w", call.Err)
	}
	return nil
}

func (l *Link) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, transport.ErrClosed
	case data := <-l.notifyCh:
		return data, nil
	}
}

func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.notifyPath != "" {
			l.conn.Object(bluezBus, l.notifyPath).Call(bluezGattChar+".StopNotify", 0)
		}
		l.removeMatches()
		l.disconnect()
		log.Info().Str("device", "ble:"+l.address).Msg("ble link closed")
	})
	return nil
}

func (l *Link) connect(ctx context.Context) error {
	connected, err := property[bool](l.conn, l.devicePath, bluezDevice1, "Connected")
	if err == nil && connected {
		return nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	call := l.conn.Object(bluezBus, l.devicePath).CallWithContext(connectCtx, bluezDevice1+".Connect", 0)
	if call.Err != nil {
		return fmt.Errorf("ble: connect %s: %w", l.address, call.Err)
	}
	return nil
}

func (l *Link) disconnect() {
	l.conn.Object(bluezBus, l.devicePath).Call(bluezDevice1+".Disconnect", 0)
}

func (l *Link) waitServicesResolved(ctx context.Context) error {
	deadline := time.NewTimer(resolveTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("ble: service discovery timed out after %s", resolveTimeout)
		case <-ticker.C:
			resolved, err := property[bool](l.conn, l.devicePath, bluezDevice1, "ServicesResolved")
			if err == nil && resolved {
				return nil
			}
		}
	}
}

func (l *Link) discover() error {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	call := l.conn.Object(bluezBus, "/").Call(dbusObjectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return fmt.Errorf("ble: managed objects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return fmt.Errorf("ble: parse managed objects: %w", err)
	}
	l.writePath, l.notifyPath = matchCharacteristics(l.devicePath, objects)
	if l.writePath == "" {
		return fmt.Errorf("%w: write %s", ErrCharacteristicMissing, WriteUUID)
	}
	if l.notifyPath == "" {
		return fmt.Errorf("%w: notify %s", ErrCharacteristicMissing, NotifyUUID)
	}
	return nil
}

func (l *Link) subscribe() error {
	for _, rule := range matchRules(l.devicePath, l.notifyPath) {
		if call := l.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule); call.Err != nil {
			l.removeMatches()
			return fmt.Errorf("ble: add match: %w", call.Err)
		}
		l.rules = append(l.rules, rule)
	}
	if call := l.conn.Object(bluezBus, l.notifyPath).Call(bluezGattChar+".StartNotify", 0); call.Err != nil {
		return fmt.Errorf("ble: start notify: %w", call.Err)
	}
	l.sigCh = make(chan *dbus.Signal, notifyQueueSize)
	l.conn.Signal(l.sigCh)
	go l.pump()
	return nil
}

func (l *Link) removeMatches() {
	for _, rule := range l.rules {
		l.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
	}
	l.rules = nil
}

// matchRules selects notifications on the response characteristic and
// property changes on the device itself, which carry Connected=false when
// the radio link drops.
func matchRules(device, notify dbus.ObjectPath) []string {
	rule := "type='signal',sender='%s',interface='%s',member='PropertiesChanged',path='%s'"
	return []string{
		fmt.Sprintf(rule, bluezBus, dbusProperties, notify),
		fmt.Sprintf(rule, bluezBus, dbusProperties, device),
	}
}

func (l *Link) pump() {
	defer l.conn.RemoveSignal(l.sigCh)
	for {
		select {
		case <-l.closed:
			return
		case sig, ok := <-l.sigCh:
			if !ok {
				return
			}
			value, lost := route(l.devicePath, l.notifyPath, sig)
			if lost {
				log.Warn().Str("device", "ble:"+l.address).Msg("ble device disconnected")
				l.Close()
				return
			}
			if value == nil {
				continue
			}
			select {
			case l.notifyCh <- value:
			case <-l.closed:
				return
			}
		}
	}
}

// route classifies a signal from the bus: a response notification yields its
// value, a Connected=false change on the device reports the link as lost.
func route(device, notify dbus.ObjectPath, sig *dbus.Signal) (value []byte, lost bool) {
	if sig == nil {
		return nil, false
	}
	if sig.Path == device {
		return nil, disconnected(sig)
	}
	value, _ = notifyValue(notify, sig)
	return value, false
}

// notifyValue extracts the characteristic value from a PropertiesChanged signal.
func notifyValue(path dbus.ObjectPath, sig *dbus.Signal) ([]byte, bool) {
	if sig == nil || sig.Path != path || sig.Name != dbusProperties+".PropertiesChanged" {
		return nil, false
	}
	if len(sig.Body) < 2 {
		return nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return nil, false
	}
	v, ok := changed["Value"]
	if !ok {
		return nil, false
	}
	data, ok := v.Value().([]byte)
	if !ok || len(data) == 0 {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func disconnected(sig *dbus.Signal) bool {
	if sig == nil || sig.Name != dbusProperties+".PropertiesChanged" || len(sig.Body) < 2 {
		return false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != bluezDevice1 {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	v, ok := changed["Connected"]
	if !ok {
		return false
	}
	connected, ok := v.Value().(bool)
	return ok && !connected
}

func matchCharacteristics(device dbus.ObjectPath, objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) (write, notify dbus.ObjectPath) {
	prefix := string(device) + "/"
	for path, ifaces := range objects {
		props, ok := ifaces[bluezGattChar]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		uuidVar, ok := props["UUID"]
		if !ok {
			continue
		}
		uuid, ok := uuidVar.Value().(string)
		if !ok {
			continue
		}
		switch strings.ToLower(uuid) {
		case WriteUUID:
			write = path
		case NotifyUUID:
			notify = path
		}
	}
	return write, notify
}

// DevicePath maps a MAC address onto its BlueZ object path.
func DevicePath(adapter, address string) dbus.ObjectPath {
	return dbus.ObjectPath(fmt.Sprintf("/org/bluez/%s/dev_%s", adapter, strings.ReplaceAll(strings.ToUpper(address), ":", "_")))
}

func property[T any](conn *dbus.Conn, path dbus.ObjectPath, iface, name string) (T, error) {
	var zero T
	variant, err := conn.Object(bluezBus, path).GetProperty(iface + "." + name)
	if err != nil {
		return zero, err
	}
	val, ok := variant.Value().(T)
	if !ok {
		return zero, fmt.Errorf("ble: property %s.%s has type %T", iface, name, variant.Value())
	}
	return val, nil
}
