// Package playground manages a fixed set of pulse sensors that are sampled
// together at the detector's tick period.
//
// Every tick the playground reads one raw value from each channel's
// Sampler, then runs each channel's detector on it, always in channel
// order, and finally raises a sticky "new sample" flag for the foreground.
// Ticks come either from a TickSource (interrupt-style) or from the
// foreground itself calling SawNewSample often enough (polled mode).
//
// Per-channel accessors take a channel index. An index out of range is
// answered with a sentinel (-1 for numbers, false for booleans) and
// mutators ignore it, so no call on the tick path can fail.
package playground

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sergev/pulsesensor/pulse"
)

// ErrNoChannels is returned when a playground is created without sensors.
var ErrNoChannels = errors.New("playground needs at least one channel")

// ErrAlreadyStarted is returned by Begin when sampling is already running.
var ErrAlreadyStarted = errors.New("playground already started")

// Sampler produces the current raw analog reading of one sensor.
// ReadSample is called from the tick context and must not block.
type Sampler interface {
	ReadSample() int
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func() int

// ReadSample implements Sampler.
func (f SamplerFunc) ReadSample() int { return f() }

// TapFunc observes the raw samples of one tick, in channel order.
// It runs in the tick context: it must copy what it keeps and must not block.
type TapFunc func(tick uint64, samples []int)

// Playground owns the detectors of all channels and drives them.
type Playground struct {
	params  pulse.Params
	period  time.Duration
	sensors []*pulse.Detector

	// tickMu serializes ticks with source/tap reconfiguration.
	tickMu  sync.Mutex
	sources []Sampler
	raw     []int // Per-tick read buffer, reused
	tap     TapFunc
	ticks   uint64

	sawNewSample atomic.Bool
	notify       chan struct{}

	runMu         sync.Mutex
	running       bool
	ticker        TickSource // nil in polled mode
	nextSampleDue time.Time
	now           func() time.Time
}

// New creates a playground with n channels, all using params.
// Every channel starts reading the midline value until SetSource is called.
func New(n int, params pulse.Params) (*Playground, error) {
	if n < 1 {
		return nil, ErrNoChannels
	}
	p := &Playground{
		params:  params,
		period:  time.Duration(params.TickPeriodMs) * time.Millisecond,
		sensors: make([]*pulse.Detector, n),
		sources: make([]Sampler, n),
		raw:     make([]int, n),
		notify:  make(chan struct{}, 1),
		now:     time.Now,
	}
	for i := range p.sensors {
		d, err := pulse.NewDetector(params)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", i, err)
		}
		p.sensors[i] = d
		midline := params.Midline
		p.sources[i] = SamplerFunc(func() int { return midline })
	}
	return p, nil
}

// Channels returns the number of sensors.
func (p *Playground) Channels() int {
	return len(p.sensors)
}

// Period returns the tick period.
func (p *Playground) Period() time.Duration {
	return p.period
}

// Ticks returns the number of ticks processed so far.
func (p *Playground) Ticks() uint64 {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()
	return p.ticks
}

func (p *Playground) valid(i int) bool {
	return i >= 0 && i < len(p.sensors)
}

// SetSource selects the raw-value producer of channel i.
func (p *Playground) SetSource(i int, s Sampler) {
	if !p.valid(i) || s == nil {
		return
	}
	p.tickMu.Lock()
	p.sources[i] = s
	p.tickMu.Unlock()
}

// SetTap installs fn to observe every tick's raw samples. A nil fn removes it.
func (p *Playground) SetTap(fn TapFunc) {
	p.tickMu.Lock()
	p.tap = fn
	p.tickMu.Unlock()
}

// Begin starts sampling. With a TickSource the playground is driven by it;
// with nil the foreground must call SawNewSample at least once per period.
// Configuration calls should be made before Begin.
func (p *Playground) Begin(ticks TickSource) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running {
		return ErrAlreadyStarted
	}
	p.nextSampleDue = p.now().Add(p.period)
	p.sawNewSample.Store(false)

	if ticks != nil {
		if err := ticks.Start(p.OnSampleTime); err != nil {
			return fmt.Errorf("failed to start tick source: %w", err)
		}
	}
	p.ticker = ticks
	p.running = true

	mode := "polled"
	if ticks != nil {
		mode = "ticker"
	}
	slog.Debug("sampling started", "component", "playground",
		"channels", len(p.sensors), "period", p.period, "mode", mode)
	return nil
}

// End stops the tick source. Detector state is kept.
func (p *Playground) End() {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if !p.running {
		return
	}
	if p.ticker != nil {
		p.ticker.Stop()
	}
	p.ticker = nil
	p.running = false
}

// OnSampleTime performs one tick: read every channel, then process every
// channel, then raise the new-sample flag. It is the TickSource handler and
// is not meant to be called by the foreground.
func (p *Playground) OnSampleTime() {
	p.tickMu.Lock()

	// Reading all channels first keeps acquisition jitter low.
	for i, s := range p.sources {
		p.raw[i] = s.ReadSample()
	}
	for i, d := range p.sensors {
		d.ProcessLatestSample(p.raw[i])
	}
	p.ticks++
	if p.tap != nil {
		p.tap(p.ticks, p.raw)
	}
	p.tickMu.Unlock()

	p.sawNewSample.Store(true)
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// SawNewSample reports whether a tick happened since the previous call and
// clears the flag. In polled mode it also runs the tick itself when one is due.
func (p *Playground) SawNewSample() bool {
	p.runMu.Lock()
	polled := p.running && p.ticker == nil
	due := false
	if polled {
		now := p.now()
		if !now.Before(p.nextSampleDue) {
			p.nextSampleDue = now.Add(p.period)
			due = true
		}
	}
	p.runMu.Unlock()

	if polled {
		if !due {
			return false
		}
		p.OnSampleTime()
	}
	return p.sawNewSample.Swap(false)
}

// NewSample returns a channel that receives a value after ticks.
// Notifications coalesce: one receive may stand for several ticks.
func (p *Playground) NewSample() <-chan struct{} {
	return p.notify
}

// Detector returns the detector of channel i, or nil.
func (p *Playground) Detector(i int) *pulse.Detector {
	if !p.valid(i) {
		return nil
	}
	return p.sensors[i]
}

// SetThreshold sets the crossing threshold of channel i.
func (p *Playground) SetThreshold(i, threshold int) {
	if !p.valid(i) {
		return
	}
	p.sensors[i].SetThreshold(threshold)
}

// LatestSample returns the last raw sample of channel i, or -1.
func (p *Playground) LatestSample(i int) int {
	if !p.valid(i) {
		return -1
	}
	return p.sensors[i].LatestSample()
}

// BeatsPerMinute returns the BPM of channel i, or -1.
func (p *Playground) BeatsPerMinute(i int) int {
	if !p.valid(i) {
		return -1
	}
	return p.sensors[i].BeatsPerMinute()
}

// InterBeatIntervalMs returns the IBI of channel i, or -1.
func (p *Playground) InterBeatIntervalMs(i int) int {
	if !p.valid(i) {
		return -1
	}
	return p.sensors[i].InterBeatIntervalMs()
}

// PulseAmplitude returns the pulse amplitude of channel i, or -1.
func (p *Playground) PulseAmplitude(i int) int {
	if !p.valid(i) {
		return -1
	}
	return p.sensors[i].PulseAmplitude()
}

// LastBeatTime returns the time of the last beat of channel i, or -1.
func (p *Playground) LastBeatTime(i int) int64 {
	if !p.valid(i) {
		return -1
	}
	return p.sensors[i].LastBeatTime()
}

// SawStartOfBeat reads and clears the start-of-beat flag of channel i.
func (p *Playground) SawStartOfBeat(i int) bool {
	if !p.valid(i) {
		return false
	}
	return p.sensors[i].SawStartOfBeat()
}

// IsInsideBeat reports whether channel i is inside a beat.
func (p *Playground) IsInsideBeat(i int) bool {
	if !p.valid(i) {
		return false
	}
	return p.sensors[i].IsInsideBeat()
}

// Snapshot returns a consistent view of channel i.
func (p *Playground) Snapshot(i int) (pulse.Snapshot, bool) {
	if !p.valid(i) {
		return pulse.Snapshot{}, false
	}
	return p.sensors[i].Snapshot(), true
}
