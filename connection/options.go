package connection

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tuyalan/tuyalan/protocol"
)

// Options configures a Connection. Use NewConnection, which fills in
// reasonable defaults for any zero field. Auto-reconnect scheduling is a
// device-façade concern, not a connection one — see device.Options.
type Options struct {
	Addr     string // host:port, default port 6668 if no port given
	DeviceID string
	LocalKey string
	Version  protocol.Version
	ForceMD5 bool

	ConnectTimeout    time.Duration
	ResponseTimeout   time.Duration
	HeartbeatInterval time.Duration

	UnsolicitedBuffer int

	Logger *logrus.Logger
}

const defaultPort = "6668"

func (o *Options) applyDefaults() {
	if o.Version == "" {
		o.Version = protocol.V33
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ResponseTimeout == 0 {
		o.ResponseTimeout = 5 * time.Second
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.UnsolicitedBuffer == 0 {
		o.UnsolicitedBuffer = 32
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
}
