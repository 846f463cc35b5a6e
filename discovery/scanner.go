// Package discovery implements UDP broadcast discovery of Tuya LAN
// devices: a multi-port listener that decodes announcements with the
// protocol's fixed well-known key and reports the devices it hears from.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tuyalan/tuyalan/cipher"
	"github.com/tuyalan/tuyalan/protocol"
)

// fixedKey is the well-known local key Tuya devices use to encrypt their
// own broadcast announcements.
const fixedKey = "yGAdlopoPVldABfn"

// DefaultPorts are the UDP ports Tuya gateways broadcast discovery frames
// on: 6666/6667 for the legacy and encrypted broadcast, 7000 for some
// gateway firmwares.
var DefaultPorts = []int{6666, 6667, 7000}

// Options configures a Scanner. The zero value is not usable; use
// NewScanner to fill in defaults.
type Options struct {
	Ports    []int
	BindAddr string
	Timeout  time.Duration

	// Events, if non-nil, receives each DiscoveredDevice as it's found,
	// in addition to the batch result Scan returns. The scanner never
	// blocks on a full channel — it drops the event and logs.
	Events chan<- DiscoveredDevice

	Logger *logrus.Logger
}

// Scanner listens for Tuya UDP broadcast discovery announcements.
type Scanner struct {
	opts   Options
	cipher *cipher.Cipher
}

// NewScanner builds a Scanner from opts, filling in DefaultPorts, a 10s
// timeout, and 0.0.0.0 bind address when left zero.
func NewScanner(opts Options) *Scanner {
	if len(opts.Ports) == 0 {
		opts.Ports = DefaultPorts
	}
	if opts.BindAddr == "" {
		opts.BindAddr = "0.0.0.0"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Scanner{
		opts:   opts,
		cipher: cipher.New(fixedKey, true),
	}
}

// Scan binds a UDP socket on every configured port, collects discovery
// announcements until ctx is done or the scanner's timeout elapses, and
// returns the deduplicated (by source IP) list of devices heard from.
// Per-datagram decode failures are logged and ignored; a bind failure on
// any port is returned as an error.
func (s *Scanner) Scan(ctx context.Context) ([]DiscoveredDevice, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		byIP  = make(map[string]DiscoveredDevice)
		group errgroup.Group
	)

	for _, port := range s.opts.Ports {
		port := port
		conn, err := net.ListenPacket("udp4", fmt.Sprintf("%s:%d", s.opts.BindAddr, port))
		if err != nil {
			return nil, fmt.Errorf("discovery: binding port %d: %w", port, err)
		}

		group.Go(func() error {
			defer conn.Close()
			go func() {
				<-ctx.Done()
				conn.Close()
			}()
			s.listen(ctx, conn, func(sourceIP string, d DiscoveredDevice) {
				mu.Lock()
				byIP[sourceIP] = d
				mu.Unlock()
				s.publish(d)
			})
			return nil
		})
	}

	_ = group.Wait()

	out := make([]DiscoveredDevice, 0, len(byIP))
	for _, d := range byIP {
		out = append(out, d)
	}
	return out, nil
}

func (s *Scanner) listen(ctx context.Context, conn net.PacketConn, found func(sourceIP string, d DiscoveredDevice)) {
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.opts.Logger.WithError(err).Debug("discovery: read failed")
			return
		}

		d, err := s.decode(buf[:n], addr)
		if err != nil {
			s.opts.Logger.WithError(err).Debug("discovery: decode failed")
			continue
		}
		sourceIP := addr.String()
		if host, _, err := net.SplitHostPort(sourceIP); err == nil {
			sourceIP = host
		}
		found(sourceIP, d)
	}
}

func (s *Scanner) decode(raw []byte, addr net.Addr) (DiscoveredDevice, error) {
	msg, err := protocol.Decode(raw, s.cipher, protocol.V33)
	if err != nil {
		return DiscoveredDevice{}, fmt.Errorf("discovery: decoding frame: %w", err)
	}

	var payload broadcastPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return DiscoveredDevice{}, fmt.Errorf("discovery: parsing payload: %w", err)
	}
	if payload.GwID == "" {
		return DiscoveredDevice{}, fmt.Errorf("discovery: payload missing gwId")
	}

	version := payload.Version
	if version == "" {
		version = sniffVersion(raw)
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	if payload.IP != "" {
		host = payload.IP
	}

	return DiscoveredDevice{
		IP:         host,
		GwID:       payload.GwID,
		ProductKey: payload.ProductKey,
		Version:    version,
		Encrypted:  payload.Encrypt,
		Active:     payload.Active != 0,
	}, nil
}

// sniffVersion falls back to a byte-pattern scan for "3.1".."3.5" in the
// raw frame when the decoded payload doesn't carry a version field,
// defaulting to "3.3" per the protocol's own documented fallback.
func sniffVersion(raw []byte) string {
	candidates := []string{"3.1", "3.2", "3.3", "3.4", "3.5"}
	for _, v := range candidates {
		if bytes.Contains(raw, []byte(v)) {
			return v
		}
	}
	return "3.3"
}

func (s *Scanner) publish(d DiscoveredDevice) {
	if s.opts.Events == nil {
		return
	}
	select {
	case s.opts.Events <- d:
	default:
		s.opts.Logger.Debug("discovery: event channel full, dropping")
	}
}
