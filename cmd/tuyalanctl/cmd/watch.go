package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Connect with auto-reconnect and print every status update",
	RunE:  runWatch,
}

func init() {
	addDeviceFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	d, err := newDeviceFromFlags(true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if err := d.Connect(ctx); err != nil {
		return fmt.Errorf("tuyalanctl: connecting: %w", err)
	}
	defer d.Disconnect()

	updates := d.StatusUpdates()
	for {
		select {
		case <-sigCh:
			return nil
		case status, ok := <-updates:
			if !ok {
				return nil
			}
			printStatus(status)
		}
	}
}

