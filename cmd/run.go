// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"beatlight/internal/animation"
	"beatlight/internal/audio"
	"beatlight/internal/bridge/hue"
	"beatlight/internal/color"
	"beatlight/internal/config"
	"beatlight/internal/delegate"
	"beatlight/internal/log"
	"beatlight/internal/metrics"
	"beatlight/internal/reactive"
	"beatlight/internal/session"
	"beatlight/internal/transport"
	"beatlight/internal/tui"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var logger = log.New("Main")

func newRunCommand(opts *options) *cobra.Command {
	var recordFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the configured entertainment group from live audio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			return runEngine(cmd.Context(), cfg, config.ResolvePath(opts.ConfigPath), opts.TUIMode, recordFile)
		},
	}
	cmd.Flags().StringVarP(&recordFile, "record", "r", "",
		"Also record the captured input to this WAV file")
	return cmd
}

// newBridge builds the Hue adapter behind a delegate host. Closing the host
// rejects further bridge calls.
func newBridge(cfg *config.Config) (*hue.Bridge, *delegate.Host) {
	host := delegate.NewHost()
	b := hue.New(host, cfg.Bridge, hue.Options{
		Port:            cfg.Streaming.Port,
		KeepAlive:       cfg.Streaming.KeepAlive,
		DefaultChannels: cfg.Streaming.ChannelCount,
	})
	return b, host
}

// traceOperations logs the progress and failures of bridge operations.
func traceOperations(ctx context.Context, host *delegate.Host) {
	events, cancel := host.Subscribe(64)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Kind {
				case delegate.EventProgress:
					logger.Debugf("%s: %s", ev.Op, ev.Message)
				case delegate.EventError:
					logger.Debugf("%s failed: %v", ev.Op, ev.Err)
				}
			}
		}
	}()
}

// openSource starts the audio input: a WAV file when one is configured, the
// capture device otherwise. stop releases it.
func openSource(ctx context.Context, cfg *config.Config, recordFile string) (src audio.Source, stop func(), err error) {
	if cfg.Audio.InputFile != "" {
		file, err := audio.OpenFile(cfg.Audio.InputFile, cfg, true)
		if err != nil {
			return nil, nil, err
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := file.Run(ctx); err != nil {
				logger.Errorf("File playback stopped: %v", err)
			}
		}()
		return file, func() { <-done }, nil
	}

	if err := audio.Initialize(); err != nil {
		return nil, nil, err
	}
	engine, err := audio.NewEngine(cfg)
	if err != nil {
		audio.Terminate()
		return nil, nil, err
	}

	// CRITICAL: the first call to StartInputStream makes PortAudio begin
	// calling the capture callback.
	if err := engine.StartInputStream(); err != nil {
		audio.Terminate()
		return nil, nil, err
	}
	if recordFile != "" {
		if err := engine.StartRecording(recordFile); err != nil {
			engine.Close()
			audio.Terminate()
			return nil, nil, err
		}
		logger.Infof("Recording input to %s", recordFile)
	}

	return engine, func() {
		if err := engine.Close(); err != nil {
			logger.Errorf("Error closing audio engine: %v", err)
		}
		if recordFile != "" {
			fmt.Printf("\nRecording saved to: %s\n", recordFile)
		}
		audio.Terminate()
	}, nil
}

// runEngine runs the engine in three phases.
//
// 1. Startup (cold path): audio input, bridge adapter, session, loop and
// telemetry are built and the streaming session is brought up.
//
// 2. Running (hot path): the tick loop feeds colors to the session until ctx
// is cancelled or the monitor is closed.
//
// 3. Shutdown (cold path): the loop stops first, then the session, then audio
// and telemetry.
func runEngine(ctx context.Context, cfg *config.Config, configPath string, tuiMode bool, recordFile string) error {
	// ==================== STARTUP PHASE (Cold Path) ====================

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src, stopSource, err := openSource(ctx, cfg, recordFile)
	if err != nil {
		return err
	}
	defer stopSource()

	hueBridge, host := newBridge(cfg)
	defer host.Close()
	defer hueBridge.Close()
	traceOperations(ctx, host)

	manager := session.New(hueBridge, nil)
	if err := manager.Initialize(ctx, session.OptionsFrom(cfg)); err != nil {
		return err
	}
	defer manager.Stop()

	if err := manager.StartStreaming(ctx, cfg.Bridge.SelectedGroupID); err != nil {
		return err
	}
	if manager.IsUsingStreamingMode() {
		logger.Infof("Streaming to group %s", manager.Config().SelectedGroupID)
	} else {
		logger.Warnf("Streaming unavailable, using the request path")
	}

	loopOpts, err := reactive.OptionsFrom(cfg.Analysis)
	if err != nil {
		return err
	}
	seq := animation.New(manager, animation.Options{MinStepDelay: cfg.Dispatcher.AnimationInterval})
	loop := reactive.New(src, manager, loopOpts, color.NewMapper(nil))
	loop.SetFlasher(seq)

	snapshot := func() tui.Snapshot {
		return tui.Snapshot{Session: manager.Stats(), Loop: loop.Stats()}
	}
	stopTelemetry := startTelemetry(ctx, cfg.Telemetry, cfg.Debug, snapshot)
	defer stopTelemetry()

	if configPath != "" {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			manager.UpdateConfig(next.Bridge)
			loop.SetSensitivity(next.Analysis.Sensitivity)
			if mode, err := color.ParseMode(next.Analysis.Mode); err == nil {
				loop.SetMode(mode)
			}
			logger.Infof("Configuration reloaded from %s", configPath)
		})
		if err != nil {
			logger.Warnf("Config reload disabled: %v", err)
		}
	}

	// ==================== CONCURRENT PHASE (Hot Path) ====================

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil {
			logger.Errorf("Tick loop stopped: %v", err)
		}
	}()

	if tuiMode {
		// The monitor owns the terminal while it runs.
		log.SetOutput(io.Discard)
		err = tui.RunMonitor(ctx, &monitorEngine{ctx: ctx, manager: manager, loop: loop, seq: seq}, manager.Events())
		log.SetOutput(os.Stderr)
	} else {
		logEvents(ctx, manager.Events())
	}

	// ==================== SHUTDOWN PHASE (Cold Path) ====================

	cancel()
	wg.Wait()
	return err
}

// logEvents logs session transitions until ctx is cancelled.
func logEvents(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-events:
			if e.To == session.FallbackActive {
				logger.Warnf("Session %s", e)
				continue
			}
			logger.Infof("Session %s", e)
		}
	}
}

// startTelemetry serves the Prometheus exporter and publishes snapshots over the
// websocket, or into the debug log when no websocket is configured.
func startTelemetry(ctx context.Context, cfg config.TelemetryConfig, debug bool, snapshot func() tui.Snapshot) (stop func()) {
	var stops []func()

	if cfg.MetricsAddress != "" {
		exporter := metrics.NewExporter(cfg.MetricsAddress)
		go func() {
			logger.Infof("Metrics on %s/metrics", cfg.MetricsAddress)
			if err := exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("Metrics exporter error: %v", err)
			}
		}()
		stops = append(stops, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := exporter.Shutdown(shutdownCtx); err != nil {
				logger.Warnf("Metrics exporter shutdown: %v", err)
			}
		})
	}

	var t transport.Transport
	switch {
	case cfg.WebSocketAddress != "":
		t = transport.NewWebSocketTransport(cfg.WebSocketAddress)
	case debug:
		t = transport.NewLoggingTransport()
	}
	if t != nil {
		done := make(chan struct{})
		go func() {
			defer close(done)
			transport.Publish(ctx, t, cfg.Interval, func() any { return snapshot() })
		}()
		stops = append(stops, func() {
			<-done
			if err := t.Close(); err != nil {
				logger.Warnf("Telemetry transport close: %v", err)
			}
		})
	}

	return func() {
		for _, s := range stops {
			s()
		}
	}
}

// monitorEngine adapts the running engine to the terminal monitor.
type monitorEngine struct {
	ctx     context.Context
	manager *session.Manager
	loop    *reactive.Loop
	seq     *animation.Sequencer
}

func (e *monitorEngine) Snapshot() tui.Snapshot {
	return tui.Snapshot{Session: e.manager.Stats(), Loop: e.loop.Stats()}
}

func (e *monitorEngine) EmergencyClear() { e.manager.EmergencyClear() }

// Reset clears the beat history and any queued commands.
func (e *monitorEngine) Reset() { e.loop.Reset() }

func (e *monitorEngine) TestFlash() {
	go func() {
		if err := e.seq.TestFlash(e.ctx, color.White); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnf("Test flash: %v", err)
		}
	}()
}
