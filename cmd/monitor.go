package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sergev/pulsesensor/playground"
	"github.com/sergev/pulsesensor/pulse"
	"github.com/sergev/pulsesensor/record"
	"github.com/sergev/pulsesensor/source"
	"github.com/sergev/pulsesensor/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	recordFile      string
	polledMode      bool
	monitorDuration time.Duration
)

// Minimum interval between repeated warnings about failing sinks.
const warnInterval = 5 * time.Second

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Detect heartbeats from the configured board",
	Long: `Sample every channel of the configured board, detect heartbeats and
publish them to the configured telemetry sinks. Stop with Ctrl-C.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		board := conf.Selected
		fmt.Printf("Board: %s (%s), %d channel(s)\n", board.Name, board.Source, len(conf.Channels))

		dev, err := source.Open(board)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to open board %q: %w", board.Name, err))
		}
		defer dev.Close()

		p, err := newPlayground(dev, conf.Channels, true)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to set up channels: %w", err))
		}
		names := channelNames(conf.Channels)
		session := telemetry.NewSession()
		slog.Info("session started", "component", "monitor", "session", session, "board", board.Name)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if monitorDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, monitorDuration)
			defer cancel()
		}
		g, ctx := errgroup.WithContext(ctx)

		var queue *sampleQueue
		var queueTap playground.TapFunc
		if conf.Telemetry.Samples {
			queue = newSampleQueue(len(names), sampleQueueDepth)
			queueTap = queue.Observe
		}

		sink, hub, err := openSinks(p, session, names, queue)
		if err != nil {
			cobra.CheckErr(err)
		}
		defer sink.Close()

		if hub != nil {
			serveHub(ctx, g, hub)
		}

		var rec *record.Recorder
		var recTap playground.TapFunc
		if recordFile != "" {
			rec, err = record.New(recordFile, record.Header{
				Patient:   conf.Record.Patient,
				Recording: conf.Record.Recording,
				Session:   session,
				Channels:  names,
			})
			if err != nil {
				cobra.CheckErr(err)
			}
			recTap = rec.Observe
			g.Go(func() error {
				return rec.Run(ctx)
			})
			fmt.Printf("Recording to '%s'\n", recordFile)
		}

		p.SetTap(joinTaps(recTap, queueTap))

		var ticks playground.TickSource
		if !polledMode {
			ticks = playground.NewTimerTicker(p.Period())
		}
		if err := p.Begin(ticks); err != nil {
			cobra.CheckErr(err)
		}

		g.Go(func() error {
			return foreground(ctx, p, sink, queue, session, names, polledMode)
		})

		err = g.Wait()
		p.End()
		p.SetTap(nil)
		if rec != nil {
			if cerr := rec.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		if queue != nil && queue.Dropped() > 0 {
			slog.Warn("sample events dropped", "component", "monitor", "ticks", queue.Dropped())
		}
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			cobra.CheckErr(err)
		}
		fmt.Printf("\nStopped after %.1f seconds.\n", float64(p.Ticks())*float64(pulse.TickPeriodMs)/1000)
	},
}

// openSinks connects the telemetry sinks enabled in the configuration.
// Standard output is always one of them.
func openSinks(p *playground.Playground, session string, names []string, queue *sampleQueue) (telemetry.Multi, *telemetry.Hub, error) {
	tc := conf.Telemetry
	sinks := telemetry.Multi{outputSink(os.Stdout, names, tc.Text)}

	if tc.NATSURL != "" {
		nc, err := telemetry.Connect(tc.NATSURL)
		if err != nil {
			sinks.Close()
			return nil, nil, err
		}
		if tc.ControlSubject != "" {
			_, err := telemetry.SubscribeControl(nc, tc.ControlSubject, func(c telemetry.Control) {
				if c.Channel < 0 || c.Channel >= p.Channels() {
					slog.Warn("control message for unknown channel", "component", "monitor", "channel", c.Channel)
					return
				}
				p.SetThreshold(c.Channel, c.Threshold)
				slog.Info("threshold changed", "component", "monitor", "channel", c.Channel, "threshold", c.Threshold)
			})
			if err != nil {
				nc.Close()
				sinks.Close()
				return nil, nil, err
			}
		}
		sinks = append(sinks, telemetry.NewNATSSink(nc, tc.NATSSubject))
		slog.Info("publishing to NATS", "component", "monitor", "url", tc.NATSURL, "subject", tc.NATSSubject)
	}

	if tc.MQTTBroker != "" {
		m, err := telemetry.NewMQTTSink(tc.MQTTBroker, tc.MQTTTopic, session)
		if err != nil {
			sinks.Close()
			return nil, nil, err
		}
		sinks = append(sinks, m)
		slog.Info("publishing to MQTT", "component", "monitor", "broker", tc.MQTTBroker, "topic", tc.MQTTTopic)
	}

	var hub *telemetry.Hub
	if tc.HTTPAddr != "" {
		hub = telemetry.NewHub(func() any {
			return statusOf(p, session, names, queue)
		})
		sinks = append(sinks, hub)
	}
	return sinks, hub, nil
}

// channelStatus is one entry of the /status document.
type channelStatus struct {
	Name string `json:"name"`
	pulse.Snapshot
}

type monitorStatus struct {
	Session  string          `json:"session"`
	Board    string          `json:"board"`
	Ticks    uint64          `json:"ticks"`
	Channels []channelStatus `json:"channels"`

	// Ticks whose sample events were lost; omitted when samples are off.
	DroppedSamples *uint64 `json:"dropped_samples,omitempty"`
}

func statusOf(p *playground.Playground, session string, names []string, queue *sampleQueue) monitorStatus {
	st := monitorStatus{
		Session:  session,
		Board:    conf.Selected.Name,
		Ticks:    p.Ticks(),
		Channels: make([]channelStatus, 0, len(names)),
	}
	for i, name := range names {
		snap, _ := p.Snapshot(i)
		st.Channels = append(st.Channels, channelStatus{Name: name, Snapshot: snap})
	}
	if queue != nil {
		dropped := queue.Dropped()
		st.DroppedSamples = &dropped
	}
	return st
}

// serveHub runs the HTTP server of the hub until ctx is done.
func serveHub(ctx context.Context, g *errgroup.Group, hub *telemetry.Hub) {
	srv := &http.Server{
		Addr:              conf.Telemetry.HTTPAddr,
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("serving HTTP", "component", "monitor", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// foreground waits for ticks and publishes what they produced: the queued
// samples first, then the beats. In polled mode it also drives the sampling.
func foreground(ctx context.Context, p *playground.Playground, sink telemetry.Sink, queue *sampleQueue, session string, names []string, polled bool) error {
	var lastWarn time.Time

	handle := func() {
		now := time.Now()
		var err error
		if queue != nil {
			err = queue.publish(sink, session, names, now)
		}
		if berr := publishTick(p, sink, session, names, now); err == nil {
			err = berr
		}
		if err != nil {
			if time.Since(lastWarn) > warnInterval {
				slog.Warn("failed to publish", "component", "monitor", "err", err)
				lastWarn = time.Now()
			}
		}
	}

	if polled {
		// Poll several times per period so that no tick is missed.
		poll := time.NewTicker(p.Period() / 4)
		defer poll.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-poll.C:
				if p.SawNewSample() {
					handle()
				}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.NewSample():
			p.SawNewSample()
			handle()
		}
	}
}

func init() {
	monitorCmd.Flags().StringVarP(&recordFile, "record", "r", "", "record raw samples to an EDF file")
	monitorCmd.Flags().BoolVar(&polledMode, "polled", false, "sample from the foreground loop instead of a timer")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "stop after this time (default: run until interrupted)")
	rootCmd.AddCommand(monitorCmd)
}
