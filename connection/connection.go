// Package connection manages a single TCP session to a Tuya LAN device:
// request/response multiplexing by sequence number, an unsolicited-message
// stream for device-pushed status, a periodic heartbeat, and a connection-
// state observable, coordinated with an errgroup anchored to the
// connection's own lifetime.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tuyalan/tuyalan/cipher"
	"github.com/tuyalan/tuyalan/internal/bytesutil"
	"github.com/tuyalan/tuyalan/protocol"
)

type pendingResult struct {
	msg protocol.Message
	err error
}

// Connection is a single TCP session to one device. The zero value is not
// usable; build one with NewConnection.
type Connection struct {
	opts   Options
	cipher *cipher.Cipher
	id     uuid.UUID
	log    *logrus.Entry

	connMu sync.Mutex
	conn   net.Conn
	cancel context.CancelFunc
	group  *errgroup.Group

	writeMu sync.Mutex
	seq     int32

	stateMu   sync.Mutex
	state     State
	stateSubs []chan State

	pendingMu sync.Mutex
	pending   map[int32]chan pendingResult

	unsolicitedMu sync.Mutex
	unsolicited   chan protocol.Message
}

// NewConnection builds a Connection for opts, which must carry at least
// Addr, DeviceID, and LocalKey. Defaults are filled in for any zero field.
func NewConnection(opts Options) (*Connection, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("connection: Addr is required")
	}
	if opts.LocalKey == "" {
		return nil, fmt.Errorf("connection: LocalKey is required")
	}
	opts.applyDefaults()

	id := uuid.New()
	c := &Connection{
		opts:   opts,
		cipher: cipher.New(opts.LocalKey, opts.ForceMD5),
		id:     id,
		log: logrus.NewEntry(opts.Logger).WithFields(logrus.Fields{
			"device_id": opts.DeviceID,
			"conn_id":   id.String(),
		}),
		state: State{Kind: Disconnected},
	}
	return c, nil
}

// ID returns the connection's correlation UUID, used only in log fields.
func (c *Connection) ID() uuid.UUID { return c.id }

// State returns the current connection state.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// StateUpdates returns a channel receiving every subsequent state
// transition. The channel is buffered (4 states); each send is
// non-blocking and drops the new state when the channel is full, so a
// slow consumer keeps the oldest buffered transitions and misses those
// pushed while its channel was full.
func (c *Connection) StateUpdates() <-chan State {
	ch := make(chan State, 4)
	c.stateMu.Lock()
	c.stateSubs = append(c.stateSubs, ch)
	c.stateMu.Unlock()
	return ch
}

// Unsolicited returns the channel of device-pushed messages whose
// sequence number matched no pending send — status updates, mostly.
func (c *Connection) Unsolicited() <-chan protocol.Message {
	c.unsolicitedMu.Lock()
	defer c.unsolicitedMu.Unlock()
	return c.unsolicited
}

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	subs := append([]chan State(nil), c.stateSubs...)
	c.stateMu.Unlock()

	c.log.WithField("state", s.String()).Info("connection: state transition")
	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Connect dials the device, transitioning Disconnected -> Connecting ->
// Connected within ctx or the configured connect timeout, and starts the
// receive and heartbeat tasks. On failure the connection is left Failed
// and any partial state is cleaned up before the error is returned.
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(State{Kind: Connecting})

	addr := c.opts.Addr
	if !strings.Contains(addr, ":") {
		addr = addr + ":" + defaultPort
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer dialCancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		wrapped := c.classifyDialError(err)
		c.setState(State{Kind: Failed, Err: wrapped})
		return wrapped
	}

	c.connMu.Lock()
	c.conn = conn
	atomic.StoreInt32(&c.seq, 0)

	c.pendingMu.Lock()
	c.pending = make(map[int32]chan pendingResult)
	c.pendingMu.Unlock()

	c.unsolicitedMu.Lock()
	c.unsolicited = make(chan protocol.Message, c.opts.UnsolicitedBuffer)
	c.unsolicitedMu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	group, gctx := errgroup.WithContext(runCtx)
	c.group = group
	c.connMu.Unlock()

	group.Go(func() error { return c.receiveLoop(gctx) })
	group.Go(func() error { return c.heartbeatLoop(gctx) })

	c.setState(State{Kind: Connected})
	return nil
}

func (c *Connection) classifyDialError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("connection: dialing %s: %w", c.opts.Addr, ErrConnectTimeout)
	}
	return fmt.Errorf("connection: dialing %s: %w: %w", c.opts.Addr, ErrSocketError, err)
}

// Send assigns a fresh sequence number if msg carries 0, encodes and
// writes it under the write mutex, and blocks for the matching response
// until it arrives, ctx is done, or the response timeout elapses.
func (c *Connection) Send(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	if c.State().Kind != Connected {
		return protocol.Message{}, ErrNotConnected
	}

	if msg.Sequence == 0 {
		msg.Sequence = atomic.AddInt32(&c.seq, 1)
	}

	resultCh := make(chan pendingResult, 1)
	c.pendingMu.Lock()
	c.pending[msg.Sequence] = resultCh
	c.pendingMu.Unlock()

	if err := c.writeFrame(msg); err != nil {
		c.removePending(msg.Sequence)
		return protocol.Message{}, err
	}

	timer := time.NewTimer(c.opts.ResponseTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res.msg, res.err
	case <-timer.C:
		c.removePending(msg.Sequence)
		return protocol.Message{}, fmt.Errorf("connection: awaiting sequence %d: %w", msg.Sequence, ErrResponseTimeout)
	case <-ctx.Done():
		c.removePending(msg.Sequence)
		return protocol.Message{}, ctx.Err()
	}
}

// SendNoResponse writes msg and returns as soon as the write completes,
// without waiting for a matching response, for a caller that only cares
// that the frame went out. The heartbeat loop does not use it: it sends
// through SendHeartbeat, which awaits the response.
func (c *Connection) SendNoResponse(msg protocol.Message) error {
	if c.State().Kind != Connected {
		return ErrNotConnected
	}
	if msg.Sequence == 0 {
		msg.Sequence = atomic.AddInt32(&c.seq, 1)
	}
	return c.writeFrame(msg)
}

// SendHeartbeat builds an empty HEART_BEAT frame and awaits its response.
func (c *Connection) SendHeartbeat(ctx context.Context) error {
	msg := protocol.NewEmptyMessage(protocol.CommandHeartBeat, 0)
	_, err := c.Send(ctx, msg)
	return err
}

func (c *Connection) writeFrame(msg protocol.Message) error {
	encoded, err := protocol.Encode(msg, c.cipher, c.opts.Version)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.log.WithFields(logrus.Fields{"seq": msg.Sequence, "command": msg.Command, "frame": bytesutil.HexEncode(encoded)}).Debug("connection: writing frame")

	if _, err := conn.Write(encoded); err != nil {
		wrapped := fmt.Errorf("connection: writing sequence %d: %w: %w", msg.Sequence, ErrSocketError, err)
		c.fail(wrapped)
		return wrapped
	}
	return nil
}

func (c *Connection) removePending(seq int32) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// receiveLoop repeatedly reads one frame (16-byte header, then
// declaredLength more bytes), decodes it, and dispatches it to the
// matching pending send or the unsolicited channel. Any read/decode
// failure transitions the connection to Failed and exits the loop.
func (c *Connection) receiveLoop(ctx context.Context) error {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return nil
		}

		header := make([]byte, protocol.HeaderLength)
		if _, err := io.ReadFull(conn, header); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.fail(fmt.Errorf("connection: reading frame header: %w: %w", ErrSocketError, err))
			return err
		}

		declaredLength, err := protocol.PeekHeader(header)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.fail(err)
			return err
		}

		rest := make([]byte, declaredLength)
		if declaredLength > 0 {
			if _, err := io.ReadFull(conn, rest); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.fail(fmt.Errorf("connection: reading frame body: %w: %w", ErrSocketError, err))
				return err
			}
		}

		frame := append(header, rest...)
		msg, err := protocol.Decode(frame, c.cipher, c.opts.Version)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.fail(fmt.Errorf("connection: decoding frame: %w", err))
			return err
		}

		c.log.WithFields(logrus.Fields{"seq": msg.Sequence, "command": msg.Command, "frame": bytesutil.HexEncode(frame)}).Debug("connection: received frame")
		c.dispatch(msg)
	}
}

func (c *Connection) dispatch(msg protocol.Message) {
	c.pendingMu.Lock()
	ch, ok := c.pending[msg.Sequence]
	if ok {
		delete(c.pending, msg.Sequence)
	}
	c.pendingMu.Unlock()

	if ok {
		ch <- pendingResult{msg: msg}
		return
	}

	c.pushUnsolicited(msg)
}

// pushUnsolicited delivers msg to the unsolicited channel, dropping the
// oldest buffered message to make room if the channel is full — status
// pushes are idempotent refreshes, so losing a stale one is preferable to
// blocking the receive loop.
func (c *Connection) pushUnsolicited(msg protocol.Message) {
	c.unsolicitedMu.Lock()
	ch := c.unsolicited
	c.unsolicitedMu.Unlock()
	if ch == nil {
		return
	}

	select {
	case ch <- msg:
		return
	default:
	}

	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

// heartbeatLoop sends a heartbeat every HeartbeatInterval while connected.
// A failed heartbeat transitions the connection to Failed.
func (c *Connection) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.SendHeartbeat(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				wrapped := fmt.Errorf("connection: heartbeat: %w", err)
				c.fail(wrapped)
				return wrapped
			}
		}
	}
}

// fail transitions the connection to Failed(err), cancels all pending
// sends with that error, and closes the socket. Safe to call more than
// once; only the first call has an effect. A no-op while Disconnecting —
// the socket-close and context-cancel a caller-initiated Disconnect
// triggers can themselves unblock the receive/heartbeat loops with an
// error, and that is a clean shutdown, not a failure.
func (c *Connection) fail(err error) {
	switch c.State().Kind {
	case Failed, Disconnected, Disconnecting:
		return
	}
	c.setState(State{Kind: Failed, Err: err})
	c.cancelAllPending(err)
	c.closeSocket()

	c.connMu.Lock()
	cancel := c.cancel
	c.connMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Connection) cancelAllPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int32]chan pendingResult)
	c.pendingMu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
}

func (c *Connection) closeSocket() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Disconnect transitions Connected -> Disconnecting -> Disconnected,
// cancelling the receive and heartbeat tasks and every pending send. It
// runs to completion even though it is what cancels its own children's
// context, since its own cleanup steps do not depend on that context.
func (c *Connection) Disconnect() error {
	if c.State().Kind == Disconnected {
		return nil
	}
	c.setState(State{Kind: Disconnecting})

	c.connMu.Lock()
	cancel := c.cancel
	group := c.group
	c.connMu.Unlock()

	c.cancelAllPending(ErrCancelled)

	// Cancel before closing the socket: closing unblocks the receive
	// loop's blocked read with an error, and its ctx.Err() guard must
	// already see the cancellation by then, or it mistakes this clean
	// shutdown for a failure (see fail's Disconnecting guard above).
	if cancel != nil {
		cancel()
	}
	c.closeSocket()

	if group != nil {
		_ = group.Wait()
	}

	c.setState(State{Kind: Disconnected})
	return nil
}
