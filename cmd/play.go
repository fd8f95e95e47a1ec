package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/smazurov/depthnode/internal/events"
	"github.com/smazurov/depthnode/internal/sensor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type playOptions struct {
	speed   float64
	manual  bool
	repeat  bool
	frames  int
	seek    int64
	verbose bool
}

// CreatePlayCmd creates the play command.
func CreatePlayCmd() *cobra.Command {
	opts := playOptions{}

	cmd := &cobra.Command{
		Use:   "play [recording]",
		Short: "Replay a recording and print its frames",
		Long: `Opens a recording as a device, starts every recorded stream and prints one line per frame. ` +
			`Playback follows the recorded timing scaled by --speed; --speed 0 plays as fast as possible ` +
			`and --manual produces one frame per read.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			initCLILogging(opts.verbose)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlay(ctx, cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().Float64Var(&opts.speed, "speed", 1.0, "Speed ratio (0 = as fast as possible)")
	cmd.Flags().BoolVar(&opts.manual, "manual", false, "Produce one frame per read")
	cmd.Flags().BoolVar(&opts.repeat, "repeat", false, "Restart at the end of the file")
	cmd.Flags().IntVarP(&opts.frames, "frames", "n", 0, "Stop after this many frames per stream (0 = unlimited)")
	cmd.Flags().Int64Var(&opts.seek, "seek", 0, "Start at this frame of the first stream (1-based)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func runPlay(ctx context.Context, out io.Writer, path string, opts playOptions) error {
	sctx, err := NewSensorContext("")
	if err != nil {
		return err
	}
	defer sctx.Shutdown()

	dev, err := sctx.Open(ctx, path)
	if err != nil {
		return err
	}
	pc, err := dev.Playback()
	if err != nil {
		return fmt.Errorf("%s is not a recording: %w", path, err)
	}
	speed := opts.speed
	if opts.manual {
		speed = sensor.SpeedManual
	}
	if err := pc.SetSpeed(speed); err != nil {
		return err
	}
	if err := pc.SetRepeatEnabled(opts.repeat); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unsub := sctx.Events().Subscribe(func(e events.PlaybackEndedEvent) {
		if e.URI == dev.URI() {
			cancel()
		}
	})
	defer unsub()

	var streams []*sensor.Stream
	for _, t := range dev.Sensors() {
		s, err := dev.CreateStream(t)
		if err != nil {
			return err
		}
		n, _ := pc.NumberOfFrames(s)
		fmt.Fprintf(out, "%s: %s, %d frames\n", t, s.VideoMode(), n)
		streams = append(streams, s)
	}
	if len(streams) == 0 {
		return errors.New("recording has no streams")
	}
	if opts.seek > 0 {
		if err := pc.Seek(streams[0], opts.seek); err != nil {
			return err
		}
	}
	for _, s := range streams {
		if err := s.Start(); err != nil {
			return err
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range streams {
		g.Go(func() error {
			for n := 0; opts.frames == 0 || n < opts.frames; n++ {
				f, err := s.ReadFrame(gctx)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return err
				}
				line := describeFrame(s, f)
				f.Release()

				mu.Lock()
				fmt.Fprintln(out, line)
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}

func describeFrame(s *sensor.Stream, f *sensor.Frame) string {
	info, err := f.Info()
	if err != nil {
		return fmt.Sprintf("%s: %v", s.Sensor(), err)
	}
	line := fmt.Sprintf("%-5s #%-6d ts=%-10d %dx%d", s.Sensor(), info.Index, info.TimestampMicros, info.Width, info.Height)
	if !info.VideoMode.PixelFormat.IsDepth() {
		return line
	}
	x, y := info.Width/2, info.Height/2
	z, err := f.DepthAt(x, y)
	if err != nil || z == 0 {
		return line
	}
	wx, wy, wz, err := s.ConvertDepthToWorld(float64(x), float64(y), float64(z))
	if err != nil {
		return fmt.Sprintf("%s center=%d", line, z)
	}
	return fmt.Sprintf("%s center=%d world=(%.1f, %.1f, %.1f)", line, z, wx, wy, wz)
}
