package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/databike/replay/internal/config"
	"github.com/databike/replay/internal/influx"
	"github.com/databike/replay/internal/monitor"
	"github.com/databike/replay/internal/session"
	"github.com/databike/replay/internal/storage"
	"github.com/databike/replay/internal/util"
	"github.com/databike/replay/pkg/core"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type playOptions struct {
	speed    float64
	seek     float64
	fast     bool
	store    string
	influx   bool
	progress bool
	status   string
}

func newPlayCmd() *cobra.Command {
	opts := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play <timeline.gpx>",
		Short: "Play a timeline headless until its end",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlay(ctx, cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().Float64Var(&opts.speed, "speed", 1, "replay speed multiplier")
	cmd.Flags().Float64Var(&opts.seek, "seek", 0, "start position in seconds")
	cmd.Flags().BoolVar(&opts.fast, "fast", false, "produce samples without waiting for the tick interval")
	cmd.Flags().StringVar(&opts.store, "store", storage.TypeNone, "record samples to storage (none, memory, sqlite, postgres)")
	cmd.Flags().BoolVar(&opts.influx, "influx", false, "stream samples to InfluxDB")
	cmd.Flags().BoolVar(&opts.progress, "progress", true, "print playback progress once per second")
	cmd.Flags().StringVar(&opts.status, "status-file", "", "refresh playback status as JSON in this file")
	return cmd
}

func runPlay(ctx context.Context, out io.Writer, path string, opts *playOptions) error {
	sessOpts := sessionOptions()
	sessOpts.Speed = opts.speed
	sessOpts.Playback.StopAtEnd = true
	sess, err := session.Open(ctx, path, sessOpts)
	if err != nil {
		return err
	}
	ctrl := sess.Controller

	if opts.progress {
		ctrl.Subscribe(newProgressPrinter(out, ctrl.Length()))
	}

	storageCfg := config.GetStorageConfig()
	storageCfg.Type = opts.store
	backend, err := storage.NewBackend(storageCfg, config.GetDBConfig(), sess.Logger().With("component", "storage"), ZLogger)
	if err != nil {
		return err
	}
	var rec *storage.Recorder
	if backend != nil {
		if err := backend.Init(); err != nil {
			return fmt.Errorf("failed to initialize storage backend: %w", err)
		}
		defer func() {
			if err := backend.Close(); err != nil {
				Logger.Error("Failed to close storage backend", "error", err)
			}
		}()
		rec, err = sess.Record(backend, storageCfg.FlushSize, viper.GetInt("trail.samplesPerSecond"))
		if err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
	}

	if opts.influx {
		influxCfg := config.GetInfluxConfig()
		influxCfg.Enabled = true
		mgr := influx.NewManager(ZLogger, influxCfg, backupPath())
		if err := mgr.Connect(ctx); err != nil {
			return fmt.Errorf("failed to set up InfluxDB: %w", err)
		}
		defer func() {
			if err := mgr.Close(); err != nil {
				Logger.Error("Failed to close InfluxDB manager", "error", err)
			}
		}()
		if err := sess.Stream(mgr); err != nil {
			return fmt.Errorf("failed to write raw timeline: %w", err)
		}
	}

	if opts.status != "" {
		mon := monitor.NewService(monitor.Dependencies{
			Controller: ctrl,
			Session:    sess.Info(),
			Recorder:   rec,
			Logger:     sess.Logger().With("component", "monitor"),
			StatusPath: opts.status,
		})
		if err := mon.Start(); err != nil {
			return fmt.Errorf("failed to start status monitor: %w", err)
		}
		defer mon.Stop()
	}

	if opts.seek > 0 {
		if err := ctrl.Seek(opts.seek); err != nil {
			return err
		}
	}

	info := sess.Info()
	pterm.Fprintln(out, pterm.Info.Sprintf("Playing %q (%s) at %gx", info.TimelineName,
		util.FormatPlaybackTime(info.Length), ctrl.Speed()))

	ctrl.Play()
	if opts.fast {
		for ctrl.Tick() {
			if ctx.Err() != nil {
				break
			}
		}
	} else {
		err = ctrl.Run(ctx)
	}
	ctrl.Pause()

	finishErr := sess.Finish()
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Join(err, finishErr)
	}
	if finishErr != nil {
		return finishErr
	}

	if exp, ok := backend.(storage.Exportable); ok && exp.GetExportedFilePath() != "" {
		pterm.Fprintln(out, pterm.Success.Sprintf("Recording written to %s", exp.GetExportedFilePath()))
	}
	pterm.Fprintln(out, pterm.Success.Sprintf("Stopped at %s", util.FormatPlaybackTime(ctrl.CurrentTime())))
	return nil
}

// progressPrinter is a visualizer that prints one line per second of
// timeline.
type progressPrinter struct {
	out    io.Writer
	length float64
	next   float64
}

func newProgressPrinter(out io.Writer, length float64) *progressPrinter {
	return &progressPrinter{out: out, length: length}
}

func (p *progressPrinter) UpdateBikeState(st *core.BikeState) {
	if st.Time < p.next {
		return
	}
	p.next = float64(int(st.Time)) + 1
	fmt.Fprintf(p.out, "%s / %s  speed %5.2f m/s  gear %d-%d  rpm %6.1f\n",
		util.FormatPlaybackTime(st.Time), util.FormatPlaybackTime(p.length),
		st.SpeedMPS, st.GearFront, st.GearRear, st.WheelRPM)
}

func (p *progressPrinter) UpdatePlaybackState(playing bool) {
	if playing {
		fmt.Fprintln(p.out, "> playing")
	} else {
		fmt.Fprintln(p.out, "|| paused")
	}
}
