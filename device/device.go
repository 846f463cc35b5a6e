// Package device implements a generic data-point façade over a
// connection: refresh, setDps/setDp, a cached status snapshot, and
// auto-reconnect scheduling. Per-device-class wrappers (bulb, outlet,
// cover) are out of scope; everything is keyed by raw data-point id.
package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tuyalan/tuyalan/connection"
	"github.com/tuyalan/tuyalan/protocol"
	"github.com/tuyalan/tuyalan/retry"
)

// Options configures a Device. Addr/DeviceID/LocalKey are forwarded to the
// underlying connection.Options; ReconnectDelay defaults to 5s.
// AutoReconnect gets no default: left false, no reconnect is scheduled
// after the connection fails.
type Options struct {
	Addr     string
	DeviceID string
	LocalKey string
	Version  protocol.Version
	ForceMD5 bool

	AutoReconnect  bool
	ReconnectDelay time.Duration

	RefreshRetry retry.Policy
	SetDpsRetry  retry.Policy

	Logger *logrus.Logger
}

func (o *Options) applyDefaults() {
	if o.ReconnectDelay == 0 {
		o.ReconnectDelay = 5 * time.Second
	}
	if o.RefreshRetry.MaxAttempts == 0 {
		o.RefreshRetry = retry.STANDARD
	}
	if o.SetDpsRetry.MaxAttempts == 0 {
		o.SetDpsRetry = retry.STANDARD
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}

// Device is the generic data-point façade over one connection.
type Device struct {
	opts Options
	conn *connection.Connection
	log  *logrus.Entry

	statusMu sync.RWMutex
	status   Status

	subsMu sync.Mutex
	subs   []chan Status

	reconnecting int32 // atomic bool

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a Device for opts. The connection is not dialed until
// Connect is called.
func New(opts Options) (*Device, error) {
	opts.applyDefaults()

	conn, err := connection.NewConnection(connection.Options{
		Addr:     opts.Addr,
		DeviceID: opts.DeviceID,
		LocalKey: opts.LocalKey,
		Version:  opts.Version,
		ForceMD5: opts.ForceMD5,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	d := &Device{
		opts:   opts,
		conn:   conn,
		log:    logrus.NewEntry(opts.Logger).WithField("device_id", opts.DeviceID),
		status: make(Status),
		closed: make(chan struct{}),
	}
	return d, nil
}

// Connect dials the connection and starts the background tasks that keep
// the cached status current: unsolicited-message consumption and, when
// enabled, auto-reconnect scheduling.
func (d *Device) Connect(ctx context.Context) error {
	if err := d.conn.Connect(ctx); err != nil {
		return err
	}
	go d.consumeUnsolicited()
	if d.opts.AutoReconnect {
		go d.watchForReconnect()
	}
	return nil
}

// Disconnect tears down the underlying connection and stops all
// background tasks.
func (d *Device) Disconnect() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return d.conn.Disconnect()
}

// IsConnected reports whether the underlying connection is currently
// Connected.
func (d *Device) IsConnected() bool {
	return d.conn.State().Kind == connection.Connected
}

// Status returns a snapshot of the cached data-point status.
func (d *Device) Status() Status {
	d.statusMu.RLock()
	defer d.statusMu.RUnlock()
	return d.status.Clone()
}

// StatusUpdates returns a channel receiving a full status snapshot every
// time the cache changes, from either a refresh response, a setDps
// response, or an unsolicited push.
func (d *Device) StatusUpdates() <-chan Status {
	ch := make(chan Status, 4)
	d.subsMu.Lock()
	d.subs = append(d.subs, ch)
	d.subsMu.Unlock()
	return ch
}

func (d *Device) mergeStatus(partial Status) Status {
	d.statusMu.Lock()
	for k, v := range partial {
		d.status[k] = v
	}
	snapshot := d.status.Clone()
	d.statusMu.Unlock()

	d.subsMu.Lock()
	subs := append([]chan Status(nil), d.subs...)
	d.subsMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
	return snapshot
}

// Refresh issues DP_QUERY for this device's current data points, wrapped
// in the configured refresh retry policy, and merges the response into
// the cached status.
func (d *Device) Refresh(ctx context.Context) (Status, error) {
	payload, err := json.Marshal(map[string]string{
		"gwId":  d.opts.DeviceID,
		"devId": d.opts.DeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("device: building refresh payload: %w", err)
	}

	var resp protocol.Message
	err = retry.Do(ctx, d.opts.RefreshRetry, func(ctx context.Context) error {
		msg := protocol.NewMessage(protocol.CommandDPQuery, payload, 0)
		resp, err = d.conn.Send(ctx, msg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("device: refresh: %w", err)
	}

	parsed, err := parseStatus(resp.Payload)
	if err != nil {
		return nil, fmt.Errorf("device: parsing refresh response: %w", err)
	}
	return d.mergeStatus(parsed), nil
}

// SetDps issues CONTROL with dps, wrapped in the configured setDps retry
// policy, and merges dps into the cached status.
func (d *Device) SetDps(ctx context.Context, dps map[string]interface{}) (Status, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"devId": d.opts.DeviceID,
		"uid":   d.opts.DeviceID,
		"t":     strconv.FormatInt(time.Now().Unix(), 10),
		"dps":   dps,
	})
	if err != nil {
		return nil, fmt.Errorf("device: building setDps payload: %w", err)
	}

	err = retry.Do(ctx, d.opts.SetDpsRetry, func(ctx context.Context) error {
		msg := protocol.NewMessage(protocol.CommandControl, payload, 0)
		_, sendErr := d.conn.Send(ctx, msg)
		return sendErr
	})
	if err != nil {
		return nil, fmt.Errorf("device: setDps: %w", err)
	}

	return d.mergeStatus(Status(dps)), nil
}

// SetDp is a convenience wrapper around SetDps for a single data point.
func (d *Device) SetDp(ctx context.Context, id string, value interface{}) (Status, error) {
	return d.SetDps(ctx, map[string]interface{}{id: value})
}

func (d *Device) consumeUnsolicited() {
	for {
		select {
		case <-d.closed:
			return
		case msg, ok := <-d.conn.Unsolicited():
			if !ok {
				return
			}
			parsed, err := parseStatus(msg.Payload)
			if err != nil {
				d.log.WithError(err).Debug("device: discarding unparsable unsolicited payload")
				continue
			}
			if parsed != nil {
				d.mergeStatus(parsed)
			}
		}
	}
}

// watchForReconnect schedules exactly one reconnect attempt after the
// connection fails, guarded by an atomic flag so a burst of Failed
// observations (unlikely, but state updates can coalesce) never starts a
// second concurrent reconnect task.
func (d *Device) watchForReconnect() {
	for {
		select {
		case <-d.closed:
			return
		case state, ok := <-d.conn.StateUpdates():
			if !ok {
				return
			}
			if state.Kind != connection.Failed {
				continue
			}
			if !atomic.CompareAndSwapInt32(&d.reconnecting, 0, 1) {
				continue
			}
			go d.reconnectAfterDelay()
		}
	}
}

func (d *Device) reconnectAfterDelay() {
	defer atomic.StoreInt32(&d.reconnecting, 0)

	select {
	case <-d.closed:
		return
	case <-time.After(d.opts.ReconnectDelay):
	}

	d.log.Info("device: attempting scheduled reconnect")
	if err := d.conn.Connect(context.Background()); err != nil {
		d.log.WithError(err).Warn("device: reconnect failed")
	}
}
