package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tuyalan/tuyalan/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan for Tuya LAN devices via UDP broadcast",
	RunE:  runDiscover,
}

func init() {
	discoverCmd.Flags().Duration("timeout", 10*time.Second, "scan duration")
	discoverCmd.Flags().String("ports", "6666,6667,7000", "comma-separated UDP ports to listen on")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	timeout := viper.GetDuration("timeout")
	ports, err := parsePorts(viper.GetString("ports"))
	if err != nil {
		return err
	}

	events := make(chan discovery.DiscoveredDevice, 16)
	scanner := discovery.NewScanner(discovery.Options{
		Ports:   ports,
		Timeout: timeout,
		Events:  events,
		Logger:  logger,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for d := range events {
			fmt.Printf("%-16s gwId=%-24s version=%-4s encrypted=%-5v active=%v\n",
				d.IP, d.GwID, d.Version, d.Encrypted, d.Active)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	devices, err := scanner.Scan(ctx)
	close(events)
	<-done
	if err != nil {
		return fmt.Errorf("tuyalanctl: discover: %w", err)
	}

	fmt.Printf("%d device(s) found\n", len(devices))
	return nil
}

func parsePorts(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		p, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("tuyalanctl: invalid port %q: %w", part, err)
		}
		out = append(out, p)
	}
	return out, nil
}
