package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sergev/pulsesensor/config"
	"github.com/sergev/pulsesensor/playground"
	"github.com/sergev/pulsesensor/pulse"
	"github.com/sergev/pulsesensor/source"
	"github.com/sergev/pulsesensor/telemetry"
)

// newPlayground creates one detector per channel and connects each one to
// its column of the device. Columns are taken from the channel list when
// byColumn is set, otherwise channel i reads column i.
func newPlayground(dev source.Device, channels []config.Channel, byColumn bool) (*playground.Playground, error) {
	p, err := playground.New(len(channels), pulse.DefaultParams())
	if err != nil {
		return nil, err
	}
	for i, ch := range channels {
		column := i
		if byColumn {
			column = ch.Column
		}
		s, err := dev.Sampler(column)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", ch.Name, err)
		}
		p.SetSource(i, s)
		if ch.Threshold > 0 {
			p.SetThreshold(i, ch.Threshold)
		}
	}
	return p, nil
}

// channelNames returns the names of the channels, in order.
func channelNames(channels []config.Channel) []string {
	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.Name
	}
	return names
}

// publishTick sends a beat event for every channel that started a beat
// since the previous call. The first publish error is returned after all
// channels are handled.
func publishTick(p *playground.Playground, sink telemetry.Sink, session string, names []string, now time.Time) error {
	var first error
	for i, name := range names {
		if !p.SawStartOfBeat(i) {
			continue
		}
		snap, ok := p.Snapshot(i)
		if !ok {
			continue
		}
		if err := sink.Publish(telemetry.BeatEvent(session, i, name, snap, now)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// consoleSink prints beats in a human readable form.
type consoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *consoleSink) Publish(e telemetry.Event) error {
	if e.Kind != telemetry.KindBeat {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	name := e.Name
	if name == "" {
		name = fmt.Sprintf("channel %d", e.Channel)
	}
	_, err := fmt.Fprintf(c.w, "%9.3f s  %-10s %3d BPM  IBI %4d ms  amplitude %d\n",
		float64(e.SampleTime)/1000, name, e.BPM, e.IBI, e.Amplitude)
	return err
}

func (c *consoleSink) Close() error {
	return nil
}

// outputSink returns the sink for standard output: the plotter text
// format when enabled in the configuration, otherwise console lines.
func outputSink(w io.Writer, names []string, text bool) telemetry.Sink {
	if text {
		return telemetry.NewTextSink(w, len(names))
	}
	return &consoleSink{w: w}
}
