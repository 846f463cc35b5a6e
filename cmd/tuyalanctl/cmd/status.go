package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tuyalan/tuyalan/device"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Connect to a device and print its current data points",
	RunE:  runStatus,
}

func init() {
	addDeviceFlags(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := deviceFromFlags()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		return fmt.Errorf("tuyalanctl: connecting: %w", err)
	}
	defer d.Disconnect()

	status, err := d.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("tuyalanctl: refresh: %w", err)
	}

	printStatus(status)
	return nil
}

func printStatus(status device.Status) {
	for id, value := range status {
		fmt.Printf("%s = %v\n", id, value)
	}
}
