package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Connect to a device and set one or more data points",
	RunE:  runSet,
}

func init() {
	addDeviceFlags(setCmd)
	setCmd.Flags().StringArray("dp", nil, "data point to set, as id=value (repeatable)")
}

func runSet(cmd *cobra.Command, args []string) error {
	d, err := deviceFromFlags()
	if err != nil {
		return err
	}

	dps, err := parseDpFlags(viper.GetStringSlice("dp"))
	if err != nil {
		return err
	}
	if len(dps) == 0 {
		return fmt.Errorf("tuyalanctl: at least one --dp is required")
	}

	ctx := context.Background()
	if err := d.Connect(ctx); err != nil {
		return fmt.Errorf("tuyalanctl: connecting: %w", err)
	}
	defer d.Disconnect()

	status, err := d.SetDps(ctx, dps)
	if err != nil {
		return fmt.Errorf("tuyalanctl: setDps: %w", err)
	}

	printStatus(status)
	return nil
}

// parseDpFlags turns a list of "id=value" strings into a data-point map,
// coercing value to bool/number where it parses as one and falling back
// to string otherwise.
func parseDpFlags(raw []string) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(raw))
	for _, kv := range raw {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("tuyalanctl: malformed --dp %q, want id=value", kv)
		}
		out[parts[0]] = coerceDpValue(parts[1])
	}
	return out, nil
}

func coerceDpValue(s string) interface{} {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
