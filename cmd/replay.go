package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/sergev/pulsesensor/config"
	"github.com/sergev/pulsesensor/playground"
	"github.com/sergev/pulsesensor/pulse"
	"github.com/sergev/pulsesensor/source"
	"github.com/sergev/pulsesensor/telemetry"
	"github.com/spf13/cobra"
)

var replaySignals int

var replayCmd = &cobra.Command{
	Use:   "replay FILE.edf",
	Short: "Detect heartbeats in a recorded EDF file",
	Long: `Run the beat detector over a recording made with 'monitor --record'.
The file is processed as fast as possible, one sample per tick.
Signal i of the file is fed to channel i of the configured board.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := args[0]
		dev, err := source.OpenEDF(filename)
		if err != nil {
			cobra.CheckErr(err)
		}
		defer dev.Close()

		channels := replayChannels(conf.Channels, replaySignals)
		p, err := newPlayground(dev, channels, false)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read %s: %w", filename, err))
		}
		names := channelNames(channels)
		sink := outputSink(os.Stdout, names, conf.Telemetry.Text)

		length := dev.Len()
		fmt.Printf("Replaying %d signal(s), %.1f seconds\n", len(channels), float64(length)*pulse.TickPeriodMs/1000)

		beats := replay(p, length, sink, names)

		fmt.Printf("\n")
		for i, name := range names {
			snap, _ := p.Snapshot(i)
			fmt.Printf("%-10s %d beats, last %d BPM, IBI %d ms\n", name, beats[i], snap.BPM, snap.IBI)
		}
	},
}

// replayChannels returns the channels used to replay n signals. Channels
// beyond the configured ones are named after their signal index.
func replayChannels(configured []config.Channel, n int) []config.Channel {
	if n <= 0 {
		n = len(configured)
	}
	channels := make([]config.Channel, n)
	for i := range channels {
		if i < len(configured) {
			channels[i] = configured[i]
		} else {
			channels[i] = config.Channel{Name: fmt.Sprintf("signal%d", i)}
		}
		channels[i].Column = i
	}
	return channels
}

// replay runs length ticks through p and publishes every beat to sink.
// It returns the number of beats seen on each channel.
func replay(p *playground.Playground, length int, sink telemetry.Sink, names []string) []int {
	ticker := playground.NewManualTicker()
	if err := p.Begin(ticker); err != nil {
		cobra.CheckErr(err)
	}
	defer p.End()

	beats := make([]int, p.Channels())
	start := time.Now()
	for t := 0; t < length; t++ {
		ticker.Tick()
		p.SawNewSample()
		for i := range beats {
			if !p.SawStartOfBeat(i) {
				continue
			}
			beats[i]++
			snap, _ := p.Snapshot(i)
			_ = sink.Publish(telemetry.BeatEvent("", i, names[i], snap, start))
		}
	}
	return beats
}

func init() {
	replayCmd.Flags().IntVarP(&replaySignals, "signals", "n", 0, "number of signals to replay (default: channels of the board)")
	rootCmd.AddCommand(replayCmd)
}
