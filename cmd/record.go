package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/depthnode/internal/recording"
	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type recordOptions struct {
	profile      string
	device       string
	sensors      string
	mode         int
	frames       int
	duration     time.Duration
	lossy        bool
	registration bool
	sync         bool
	verbose      bool
}

// CreateRecordCmd creates the record command.
func CreateRecordCmd() *cobra.Command {
	opts := recordOptions{}

	cmd := &cobra.Command{
		Use:   "record [output-file]",
		Short: "Record device streams to a file",
		Long: `Opens a device, starts the selected sensors and records every frame to the output file ` +
			`until the frame count or duration is reached or the command is interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initCLILogging(opts.verbose)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecord(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "Synthetic device profile (TOML)")
	cmd.Flags().StringVarP(&opts.device, "device", "d", "", "Device URI (default: first device found)")
	cmd.Flags().StringVarP(&opts.sensors, "sensors", "s", "depth,color", "Comma-separated sensors to record")
	cmd.Flags().IntVarP(&opts.mode, "mode", "m", 0, "Video mode index as listed by the devices command")
	cmd.Flags().IntVarP(&opts.frames, "frames", "n", 0, "Stop after this many frames in total (0 = unlimited)")
	cmd.Flags().DurationVarP(&opts.duration, "duration", "t", 0, "Stop after this long (0 = until interrupted)")
	cmd.Flags().BoolVar(&opts.lossy, "lossy", false, "Allow JPEG compression of color frames")
	cmd.Flags().BoolVar(&opts.registration, "registration", false, "Register depth to color")
	cmd.Flags().BoolVar(&opts.sync, "sync", false, "Enable depth/color frame synchronization")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func runRecord(ctx context.Context, cmd *cobra.Command, path string, opts recordOptions) error {
	types, err := parseSensors(opts.sensors)
	if err != nil {
		return err
	}

	sctx, err := NewSensorContext(opts.profile)
	if err != nil {
		return err
	}
	defer sctx.Shutdown()

	dev, err := sctx.Open(ctx, opts.device)
	if err != nil {
		return err
	}
	if opts.registration {
		if err := dev.SetImageRegistrationMode(sensor.RegistrationDepthToColor); err != nil {
			return err
		}
	}
	if opts.sync {
		if err := dev.SetDepthColorSyncEnabled(true); err != nil {
			return err
		}
	}

	rec, err := recording.NewRecorder(path)
	if err != nil {
		return err
	}

	streams := make([]*sensor.Stream, 0, len(types))
	for _, t := range types {
		s, err := dev.CreateStream(t)
		if err != nil {
			return err
		}
		if si, ok := dev.SensorInfo(t); ok && opts.mode > 0 {
			if opts.mode >= len(si.Modes) {
				return fmt.Errorf("%s has no mode %d", t, opts.mode)
			}
			if err := s.SetVideoMode(si.Modes[opts.mode]); err != nil {
				return err
			}
		}
		if err := rec.AttachStream(s, opts.lossy); err != nil {
			return err
		}
		streams = append(streams, s)
	}
	for _, s := range streams {
		if err := s.Start(); err != nil {
			return err
		}
	}
	if err := rec.Start(); err != nil {
		return err
	}

	if opts.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}
	ctx, finish := context.WithCancel(ctx)
	defer finish()

	out := cmd.OutOrStdout()
	counts := make([]int, len(streams))
	started := time.Now()
	fmt.Fprintf(out, "Recording %s to %s\n", dev.URI(), path)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer finish()
		total := 0
		for opts.frames == 0 || total < opts.frames {
			idx, err := sensor.WaitForAny(gctx, streams, time.Second)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				if errors.Is(err, sensor.ErrTimeout) {
					continue
				}
				return err
			}
			f, err := streams[idx].TryReadFrame()
			if err != nil {
				return err
			}
			if f == nil {
				continue
			}
			f.Release()
			counts[idx]++
			total++
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := rec.Err(); err != nil {
					return err
				}
				fmt.Fprintf(out, "\r%s elapsed", time.Since(started).Truncate(time.Second))
			}
		}
	})
	runErr := g.Wait()

	destroyErr := rec.Destroy()
	fmt.Fprintln(out)
	for i, s := range streams {
		fmt.Fprintf(out, "%s: %d frames read, %d written\n", s.Sensor(), counts[i], rec.FramesWritten(s))
	}
	if runErr != nil {
		return runErr
	}
	if destroyErr != nil {
		return destroyErr
	}
	return rec.Err()
}
