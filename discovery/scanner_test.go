package discovery

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tuyalan/tuyalan/cipher"
	"github.com/tuyalan/tuyalan/protocol"
)

func buildBroadcastFrame(t *testing.T, payload string, seq int32) []byte {
	t.Helper()
	c := cipher.New(fixedKey, true)
	msg := protocol.NewMessage(protocol.CommandDiscover, []byte(payload), seq)
	out, err := protocol.Encode(msg, c, protocol.V33)
	require.NoError(t, err)
	return out
}

// TestScanOneDeviceOnAlternatePort starts a scanner with a short timeout
// against a single broadcast datagram sent on a non-default port and
// expects exactly one discovered device, keyed by source IP.
func TestScanOneDeviceOnAlternatePort(t *testing.T) {
	serverConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer serverConn.Close()

	port := serverConn.LocalAddr().(*net.UDPAddr).Port

	scanner := NewScanner(Options{
		Ports:    []int{port},
		BindAddr: "127.0.0.1",
		Timeout:  500 * time.Millisecond,
	})

	go func() {
		time.Sleep(50 * time.Millisecond)
		frame := buildBroadcastFrame(t, `{"ip":"10.214.2.176","gwId":"bf1bd7f0bda4cbc644ichw","active":2,"encrypt":true,"productKey":"keym4vvjhx4sd9kk","version":"3.3"}`, 1)
		clientConn, err := net.Dial("udp4", fmt.Sprintf("127.0.0.1:%d", port))
		require.NoError(t, err)
		defer clientConn.Close()
		_, err = clientConn.Write(frame)
		require.NoError(t, err)
	}()

	// serverConn only reserved a free port; close it here so Scan's own
	// bind doesn't collide on the same address.
	serverConn.Close()

	devices, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "bf1bd7f0bda4cbc644ichw", devices[0].GwID)
	require.Equal(t, "keym4vvjhx4sd9kk", devices[0].ProductKey)
	require.Equal(t, "3.3", devices[0].Version)
	require.True(t, devices[0].Encrypted)
	require.True(t, devices[0].Active)
}

func TestDecodeMissingGwIDRejected(t *testing.T) {
	scanner := NewScanner(Options{})
	frame := buildBroadcastFrame(t, `{"productKey":"abc"}`, 1)
	_, err := scanner.decode(frame, &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 6667})
	require.Error(t, err)
}

func TestDecodePrefersIPFromPayload(t *testing.T) {
	scanner := NewScanner(Options{})
	frame := buildBroadcastFrame(t, `{"gwId":"dev1","ip":"192.168.1.50"}`, 1)
	d, err := scanner.decode(frame, &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 6667})
	require.NoError(t, err)
	require.Equal(t, "192.168.1.50", d.IP)
}

func TestSniffVersionFallsBackToDefault(t *testing.T) {
	require.Equal(t, "3.3", sniffVersion([]byte("no version markers here")))
	require.Equal(t, "3.4", sniffVersion([]byte("marker 3.4 present")))
}

func TestDedupeByIP(t *testing.T) {
	scanner := NewScanner(Options{})
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.5"), Port: 6667}

	d1, err := scanner.decode(buildBroadcastFrame(t, `{"gwId":"dev1"}`, 1), addr)
	require.NoError(t, err)
	d2, err := scanner.decode(buildBroadcastFrame(t, `{"gwId":"dev2"}`, 2), addr)
	require.NoError(t, err)

	require.Equal(t, d1.IP, d2.IP, "same source IP should dedupe to one entry in Scan")
}
