package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/svbcapture/internal/camera"
	"github.com/smazurov/svbcapture/internal/config"
	"github.com/smazurov/svbcapture/internal/logging"
	"github.com/smazurov/svbcapture/internal/pipeline"
	"github.com/smazurov/svbcapture/pkg/svb"
)

// captureOptions holds the capture command flags.
type captureOptions struct {
	dev  deviceFlags
	logs logFlags

	duration  time.Duration
	frames    uint64
	exposure  float64
	gain      float64
	format    string
	bin       int32
	profile   string
	buffers   int
	sinks     pipeline.Config
	quietRuns bool
}

// CreateCaptureCmd creates the capture command.
func CreateCaptureCmd() *cobra.Command {
	var o captureOptions

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Acquire frames into the configured sinks",
		Long: `Opens a camera, applies the requested settings and runs one acquisition until --duration ` +
			`elapses, --frames frames were delivered, or the process is interrupted. Frames go to a raw ` +
			`recording (--raw), TIFF snapshots (--tiff-dir), MQTT metadata (--mqtt) and NATS metadata (--nats).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			o.logs.init()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !cmd.Flags().Changed("exposure") {
				o.exposure = -1
			}
			if !cmd.Flags().Changed("gain") {
				o.gain = -1
			}
			return runCapture(ctx, &o, cmd)
		},
	}

	f := cmd.Flags()
	o.dev.register(f)
	o.logs.register(f)
	f.DurationVar(&o.duration, "duration", 10*time.Second, "Stop after this long, 0 to run until interrupted")
	f.Uint64Var(&o.frames, "frames", 0, "Stop after this many frames, 0 for no limit")
	f.Float64Var(&o.exposure, "exposure", 0, "Exposure in seconds")
	f.Float64Var(&o.gain, "gain", 0, "Gain")
	f.StringVar(&o.format, "format", "", "Output image type (RAW8, RAW10, RAW12, RAW14, RAW16, Y8, Y10, Y12, Y14, Y16, RGB24, RGB32)")
	f.Int32Var(&o.bin, "bin", 0, "Binning factor applied to the full sensor, 0 keeps the current ROI")
	f.StringVar(&o.profile, "profile", "", "Control profile to apply before exposure and gain")
	f.IntVar(&o.buffers, "buffers", 0, "Frame buffers to rotate through")
	f.StringVar(&o.sinks.RawPath, "raw", "", "Record frames to this raw file")
	f.BoolVar(&o.sinks.RawZstd, "zstd", false, "Compress the raw recording with zstd")
	f.BoolVar(&o.sinks.RawIndex, "raw-index", false, "Write a JSON lines index next to the raw recording")
	f.StringVar(&o.sinks.TIFFDir, "tiff-dir", "", "Write TIFF snapshots to this directory")
	f.IntVar(&o.sinks.TIFFEvery, "tiff-every", 10, "Write one TIFF snapshot every N frames")
	f.StringVar(&o.sinks.MQTTBroker, "mqtt", "", "Publish frame metadata to this MQTT broker, e.g. tcp://localhost:1883")
	f.StringVar(&o.sinks.MQTTPrefix, "mqtt-prefix", "svbcapture", "MQTT topic prefix")
	f.IntVar(&o.sinks.MQTTEvery, "mqtt-every", 1, "Publish metadata for one frame in N")
	f.StringVar(&o.sinks.NATSURL, "nats", "", "Publish frame metadata to this NATS server, e.g. nats://localhost:4222")
	f.IntVar(&o.sinks.NATSEvery, "nats-every", 1, "Publish NATS metadata for one frame in N")
	f.BoolVar(&o.quietRuns, "quiet", false, "Do not print the run summary")
	return cmd
}

func runCapture(ctx context.Context, o *captureOptions, cmd *cobra.Command) error {
	logger := logging.GetLogger("main")

	p, err := pipeline.New(ctx, o.sinks, nil, logging.GetLogger("sinks"))
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(); err != nil {
			logger.Error("Failed to close sinks", "error", err)
		}
	}()

	opts := append([]camera.Option{
		camera.WithLogger(logging.GetLogger("camera")),
		camera.WithBufferCount(o.buffers),
	}, p.CameraOptions()...)
	if o.format != "" {
		t, err := svb.ParseImageType(o.format)
		if err != nil {
			return err
		}
		opts = append(opts, camera.WithImageType(t))
	}

	cam, err := o.dev.open(opts...)
	if err != nil {
		return err
	}
	defer cam.Close()

	if o.bin > 0 {
		prop := cam.Property()
		roi := svb.ROI{Width: prop.MaxWidth / o.bin, Height: prop.MaxHeight / o.bin, Bin: o.bin}
		// Width and height must stay multiples of 8 and 2.
		roi.Width -= roi.Width % 8
		roi.Height -= roi.Height % 2
		if err := cam.SetROI(roi); err != nil {
			return err
		}
	}
	if err := configureControls(cam.Controls(), o); err != nil {
		return err
	}

	p.Attach(cam.Dispatcher())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if o.duration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, o.duration)
		defer cancel()
	}
	if o.frames > 0 {
		var n atomic.Uint64
		unregister := cam.Dispatcher().RegisterFunc("limit", func(camera.Frame) error {
			if n.Add(1) >= o.frames {
				cancel()
			}
			return nil
		})
		defer unregister()
	}

	exposure := cam.Controls().CachedExposure()
	logger.Info("Starting capture", "camera", cam.Info().String(), "roi", cam.ROI().String(),
		"image_type", cam.ImageType().String(), "exposure", exposure, "consumers", cam.Dispatcher().Len())
	start := time.Now()
	if err := cam.Start(runCtx); err != nil {
		return err
	}
	runErr := cam.Wait()
	elapsed := time.Since(start)
	st := cam.Status()
	p.Detach()

	if !o.quietRuns {
		printSummary(cmd, st, elapsed, p)
	}
	if runErr != nil {
		return fmt.Errorf("capture run %s: %w", st.RunID, runErr)
	}
	return nil
}

func configureControls(ctrls *camera.Controls, o *captureOptions) error {
	if o.profile != "" {
		prof, err := config.LoadControlProfile(o.profile)
		if err != nil {
			return err
		}
		if err := prof.Apply(ctrls); err != nil {
			return fmt.Errorf("apply %s: %w", o.profile, err)
		}
	}
	if o.exposure >= 0 {
		if err := ctrls.Set(svb.Exposure, o.exposure); err != nil {
			return err
		}
	}
	if o.gain >= 0 {
		if err := ctrls.Set(svb.Gain, o.gain); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(cmd *cobra.Command, st camera.Status, elapsed time.Duration, p *pipeline.Pipeline) {
	out := cmd.OutOrStdout()
	fps := 0.0
	if elapsed > 0 {
		fps = float64(st.Frames) / elapsed.Seconds()
	}
	fmt.Fprintf(out, "run %s: %d frames in %s (%.2f fps)\n", st.RunID, st.Frames, elapsed.Round(time.Millisecond), fps)
	attrs := p.Summary()
	for i := 0; i+1 < len(attrs); i += 2 {
		fmt.Fprintf(out, "  %s: %v\n", attrs[i], attrs[i+1])
	}
}
