package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tuyalan/tuyalan/device"
	"github.com/tuyalan/tuyalan/protocol"
)

func addDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().String("ip", "", "device IP address")
	cmd.Flags().String("id", "", "device id (gwId/devId)")
	cmd.Flags().String("key", "", "device local key")
	cmd.Flags().String("version", "3.3", "protocol version (3.1, 3.2, 3.3, 3.4)")
}

func deviceFromFlags() (*device.Device, error) {
	return newDeviceFromFlags(false)
}

func newDeviceFromFlags(autoReconnect bool) (*device.Device, error) {
	ip := viper.GetString("ip")
	id := viper.GetString("id")
	key := viper.GetString("key")
	if ip == "" || id == "" || key == "" {
		return nil, fmt.Errorf("tuyalanctl: --ip, --id, and --key are required")
	}

	version, err := protocol.ParseVersion(viper.GetString("version"))
	if err != nil {
		return nil, err
	}

	return device.New(device.Options{
		Addr:          ip,
		DeviceID:      id,
		LocalKey:      key,
		Version:       version,
		AutoReconnect: autoReconnect,
		Logger:        logger,
	})
}
