package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var profile string
	var watch bool
	var verbose bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List depth devices and their video modes",
		Long: `Enumerates every device the drivers report and prints the sensors and video modes of each. ` +
			`With --watch it keeps running and prints devices as they connect and disconnect.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			initCLILogging(verbose)
			sctx, err := NewSensorContext(profile)
			if err != nil {
				return err
			}
			defer sctx.Shutdown()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// subscribe before listing so nothing in between is missed
			eventCh := make(chan any, 16)
			if watch {
				bus := sctx.Events()
				unsubscribers := []func(){
					events.SubscribeToChannel[events.DeviceConnectedEvent](bus, eventCh),
					events.SubscribeToChannel[events.DeviceDisconnectedEvent](bus, eventCh),
					events.SubscribeToChannel[events.DeviceStateChangedEvent](bus, eventCh),
				}
				defer func() {
					for _, unsub := range unsubscribers {
						unsub()
					}
				}()
			}

			out := cmd.OutOrStdout()
			infos, err := sctx.Devices(ctx)
			if err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Fprintln(out, "No devices found")
			}
			for _, info := range infos {
				dev, err := sctx.Open(ctx, info.URI)
				if err != nil {
					fmt.Fprintf(out, "%s  %s (%s)  open failed: %s\n", info.URI, info.Name, info.Vendor, sensor.ExtendedError(err))
					continue
				}
				printDevice(out, dev)
				_ = dev.Close()
			}

			if !watch {
				return nil
			}
			fmt.Fprintln(out, "Watching for device changes, press Ctrl+C to stop")
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev := <-eventCh:
					switch e := ev.(type) {
					case events.DeviceConnectedEvent:
						fmt.Fprintf(out, "%s connected: %s %s\n", e.Timestamp, e.URI, e.Name)
					case events.DeviceDisconnectedEvent:
						fmt.Fprintf(out, "%s disconnected: %s\n", e.Timestamp, e.URI)
					case events.DeviceStateChangedEvent:
						fmt.Fprintf(out, "%s state %s: %s\n", e.Timestamp, e.State, e.URI)
					}
				}
			}
		},
	}

	cmd.Flags().StringVarP(&profile, "profile", "p", "", "Synthetic device profile (TOML)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep running and print hotplug events")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func printDevice(out io.Writer, dev *sensor.Device) {
	info := dev.Info()
	fmt.Fprintf(out, "%s  %s (%s)\n", info.URI, info.Name, info.Vendor)
	if serial, err := dev.SerialNumber(); err == nil {
		fmt.Fprintf(out, "  serial:   %s\n", serial)
	}
	if fw, err := dev.FirmwareVersion(); err == nil {
		fmt.Fprintf(out, "  firmware: %s\n", fw)
	}
	if dev.IsImageRegistrationModeSupported(sensor.RegistrationDepthToColor) {
		fmt.Fprintln(out, "  registration: depth to color")
	}
	for _, t := range dev.Sensors() {
		si, ok := dev.SensorInfo(t)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "  %s\n", t)
		for i, m := range si.Modes {
			fmt.Fprintf(out, "    [%d] %s\n", i, m)
		}
	}
}
