package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/godbus/dbus/v5"
)

// D-Bus identity of the update engine service.
const (
	busName    = "org.chromium.UpdateEngine"
	objectPath = dbus.ObjectPath("/org/chromium/UpdateEngine")
	ifaceName  = "org.chromium.UpdateEngineInterface"

	signalStatusUpdate = ifaceName + ".StatusUpdate"
	signalComplete     = ifaceName + ".PayloadApplicationComplete"
)

// DBusClient talks to the update engine over the system bus.
type DBusClient struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	log  *slog.Logger

	mu      sync.Mutex
	cb      Callback
	signals chan *dbus.Signal
	done    chan struct{}
}

var _ Client = (*DBusClient)(nil)

// NewDBusClient wraps an established bus connection. The caller owns the
// connection's lifetime.
func NewDBusClient(conn *dbus.Conn) *DBusClient {
	return &DBusClient{
		conn: conn,
		obj:  conn.Object(busName, objectPath),
		log:  slog.Default().With("component", "engine-dbus"),
	}
}

// Bind subscribes to the engine's signals and forwards them to cb.
func (c *DBusClient) Bind(cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cb != nil {
		return fmt.Errorf("already bound to update engine")
	}
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(objectPath),
		dbus.WithMatchInterface(ifaceName),
	); err != nil {
		return fmt.Errorf("add signal match: %w", err)
	}

	c.cb = cb
	c.signals = make(chan *dbus.Signal, 16)
	c.done = make(chan struct{})
	c.conn.Signal(c.signals)
	go c.dispatch(cb, c.signals, c.done)
	return nil
}

// dispatch decodes engine signals and hands them to the callback. Runs until
// the signal channel is closed by Unbind.
func (c *DBusClient) dispatch(cb Callback, signals chan *dbus.Signal, done chan struct{}) {
	defer close(done)
	for sig := range signals {
		switch sig.Name {
		case signalStatusUpdate:
			var status int32
			var fraction float64
			if err := dbus.Store(sig.Body, &status, &fraction); err != nil {
				c.log.Warn("Malformed StatusUpdate signal", "error", err)
				continue
			}
			cb.OnStatusUpdate(Status(status), fraction)

		case signalComplete:
			var code int32
			if err := dbus.Store(sig.Body, &code); err != nil {
				c.log.Warn("Malformed PayloadApplicationComplete signal", "error", err)
				continue
			}
			cb.OnPayloadApplicationComplete(ErrorCode(code))
		}
	}
}

// Unbind drops the signal subscription. Idempotent.
func (c *DBusClient) Unbind() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cb == nil {
		return nil
	}
	err := c.conn.RemoveMatchSignal(
		dbus.WithMatchObjectPath(objectPath),
		dbus.WithMatchInterface(ifaceName),
	)
	c.conn.RemoveSignal(c.signals)
	close(c.signals)
	<-c.done

	c.cb = nil
	c.signals = nil
	c.done = nil
	return err
}

func (c *DBusClient) call(method string, args ...any) error {
	if call := c.obj.Call(ifaceName+"."+method, 0, args...); call.Err != nil {
		return fmt.Errorf("%s: %w", method, call.Err)
	}
	return nil
}

func (c *DBusClient) Suspend() error     { return c.call("Suspend") }
func (c *DBusClient) Resume() error      { return c.call("Resume") }
func (c *DBusClient) Cancel() error      { return c.call("Cancel") }
func (c *DBusClient) ResetStatus() error { return c.call("ResetStatus") }

func (c *DBusClient) ApplyPayload(url string, offset, size uint64, headers []string) error {
	return c.call("ApplyPayload", url, offset, size, headers)
}
