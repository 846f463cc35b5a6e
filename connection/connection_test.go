package connection

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuyalan/tuyalan/cipher"
	"github.com/tuyalan/tuyalan/protocol"
)

const (
	testLocalKey = "JvEuI)cyLCdpGFf:"
)

// fakeDevice accepts exactly one connection and runs handle against it in
// its own goroutine, giving tests a minimal device-side peer to exercise
// the real wire codec against.
func fakeDevice(t *testing.T, handle func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handle(conn)
	}()

	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	frame, err := readFrameOrEOF(conn)
	require.NoError(t, err)
	return frame
}

func readFrameOrEOF(conn net.Conn) ([]byte, error) {
	header := make([]byte, protocol.HeaderLength)
	if _, err := io.ReadFull(conn, header); err != nil {
		return nil, err
	}
	declaredLength, err := protocol.PeekHeader(header)
	if err != nil {
		return nil, err
	}
	rest := make([]byte, declaredLength)
	if declaredLength > 0 {
		if _, err := io.ReadFull(conn, rest); err != nil {
			return nil, err
		}
	}
	return append(header, rest...), nil
}

func i32(v int32) *int32 { return &v }

func TestConnectSendHeartbeat(t *testing.T) {
	c := cipher.New(testLocalKey, false)

	addr := fakeDevice(t, func(conn net.Conn) {
		for {
			frame, err := readFrameOrEOF(conn)
			if err != nil {
				return
			}

			msg, err := protocol.Decode(frame, c, protocol.V33)
			require.NoError(t, err)

			resp := protocol.Message{
				Command:    msg.Command,
				Sequence:   msg.Sequence,
				ReturnCode: i32(0),
			}
			out, err := protocol.Encode(resp, c, protocol.V33)
			require.NoError(t, err)
			_, err = conn.Write(out)
			require.NoError(t, err)
		}
	})

	conn, err := NewConnection(Options{
		Addr:              addr,
		DeviceID:          "bf4e86355fde4faab6l043",
		LocalKey:          testLocalKey,
		Version:           protocol.V33,
		HeartbeatInterval: time.Hour, // disable automatic firing during this test
	})
	require.NoError(t, err)

	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	require.Equal(t, Connected, conn.State().Kind)

	err = conn.SendHeartbeat(context.Background())
	require.NoError(t, err)
}

func TestSendControlRoundTrip(t *testing.T) {
	c := cipher.New(testLocalKey, false)

	addr := fakeDevice(t, func(conn net.Conn) {
		frame := readFrame(t, conn)
		msg, err := protocol.Decode(frame, c, protocol.V33)
		require.NoError(t, err)
		require.Equal(t, protocol.CommandControl, msg.Command)

		resp := protocol.Message{
			Command:    protocol.CommandControl,
			Sequence:   msg.Sequence,
			Payload:    []byte(`{"dps":{"1":true}}`),
			ReturnCode: i32(0),
		}
		out, err := protocol.Encode(resp, c, protocol.V33)
		require.NoError(t, err)
		_, err = conn.Write(out)
		require.NoError(t, err)
	})

	conn, err := NewConnection(Options{
		Addr:              addr,
		DeviceID:          "bf4e86355fde4faab6l043",
		LocalKey:          testLocalKey,
		Version:           protocol.V33,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	req := protocol.NewMessage(protocol.CommandControl, []byte(`{"dps":{"1":true}}`), 0)
	resp, err := conn.Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"dps":{"1":true}}`), resp.Payload)
	require.NotNil(t, resp.ReturnCode)
	require.Equal(t, int32(0), *resp.ReturnCode)
}

func TestUnsolicitedStatusPush(t *testing.T) {
	c := cipher.New(testLocalKey, false)
	pushed := make(chan struct{})

	addr := fakeDevice(t, func(conn net.Conn) {
		// Unprompted STATUS frame, sequence 999: no pending send ever
		// uses that sequence number.
		msg := protocol.Message{
			Command:    protocol.CommandStatus,
			Sequence:   999,
			Payload:    []byte(`{"dps":{"1":false}}`),
			ReturnCode: i32(0),
		}
		out, err := protocol.Encode(msg, c, protocol.V33)
		require.NoError(t, err)
		_, err = conn.Write(out)
		require.NoError(t, err)
		close(pushed)
		// keep the connection open long enough for the test to read
		time.Sleep(200 * time.Millisecond)
	})

	conn, err := NewConnection(Options{
		Addr:              addr,
		DeviceID:          "bf4e86355fde4faab6l043",
		LocalKey:          testLocalKey,
		Version:           protocol.V33,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))
	defer conn.Disconnect()

	<-pushed
	select {
	case msg := <-conn.Unsolicited():
		require.Equal(t, protocol.CommandStatus, msg.Command)
		require.Equal(t, []byte(`{"dps":{"1":false}}`), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for unsolicited message")
	}
}

func TestSendFailsWhenNotConnected(t *testing.T) {
	conn, err := NewConnection(Options{
		Addr:     "127.0.0.1:1",
		DeviceID: "dev",
		LocalKey: testLocalKey,
	})
	require.NoError(t, err)

	_, err = conn.Send(context.Background(), protocol.NewMessage(protocol.CommandDPQuery, nil, 0))
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestKillSocketMidExchangeTransitionsFailed(t *testing.T) {
	addr := fakeDevice(t, func(conn net.Conn) {
		// Read the request, then close without responding.
		_ = readFrame(t, conn)
		conn.Close()
	})

	conn, err := NewConnection(Options{
		Addr:              addr,
		DeviceID:          "dev",
		LocalKey:          testLocalKey,
		Version:           protocol.V33,
		ResponseTimeout:   200 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))

	_, err = conn.Send(context.Background(), protocol.NewMessage(protocol.CommandDPQuery, nil, 0))
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return conn.State().Kind == Failed
	}, time.Second, 10*time.Millisecond)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	addr := fakeDevice(t, func(conn net.Conn) {
		time.Sleep(200 * time.Millisecond)
	})

	conn, err := NewConnection(Options{
		Addr:              addr,
		DeviceID:          "dev",
		LocalKey:          testLocalKey,
		Version:           protocol.V33,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))

	require.NoError(t, conn.Disconnect())
	require.Equal(t, Disconnected, conn.State().Kind)
	require.NoError(t, conn.Disconnect())
}

// TestDisconnectNeverObservedAsFailed guards invariant #5: a clean
// Disconnect of a connection with a receive loop blocked on a read must
// settle on Disconnected, never surface an intermediate Failed state —
// the socket-close Disconnect performs to unblock that read must not be
// mistaken for a socket error.
func TestDisconnectNeverObservedAsFailed(t *testing.T) {
	addr := fakeDevice(t, func(conn net.Conn) {
		time.Sleep(time.Second)
	})

	conn, err := NewConnection(Options{
		Addr:              addr,
		DeviceID:          "dev",
		LocalKey:          testLocalKey,
		Version:           protocol.V33,
		HeartbeatInterval: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, conn.Connect(context.Background()))

	states := conn.StateUpdates()
	require.NoError(t, conn.Disconnect())

	for {
		select {
		case s := <-states:
			require.NotEqual(t, Failed, s.Kind, "disconnect must never surface a Failed state")
			if s.Kind == Disconnected {
				return
			}
		default:
			return
		}
	}
}
