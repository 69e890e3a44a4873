package source

import (
	"fmt"

	"github.com/sergev/pulsesensor/config"
	"github.com/sergev/pulsesensor/pulse"
)

// Synthetic generates a pulse-like waveform without hardware: a baseline
// with a slow drift, a pulse of fixed width every period, and a little
// deterministic noise. Integer math only.
type Synthetic struct {
	PeriodMs int // Time between pulse starts
	HighMs   int // Pulse width
	Low      int // Baseline level
	High     int // Pulse level
	DriftMs  int // Baseline drift period, 0 disables drift
	Drift    int // Peak baseline drift
	Noise    int // Peak noise amplitude, 0 disables noise
}

// SyntheticDevice hands out one independent generator per column.
type SyntheticDevice struct {
	shape Synthetic
}

func init() {
	Register(config.SourceSynthetic, openSynthetic)
}

func openSynthetic(board *config.Board) (Device, error) {
	shape := Synthetic{
		PeriodMs: board.PeriodMs,
		HighMs:   board.HighMs,
		Low:      board.Low,
		High:     board.High,
		DriftMs:  10000,
		Drift:    20,
		Noise:    8,
	}
	if shape.Low == 0 && shape.High == 0 {
		shape.Low, shape.High = 400, 700
	}
	dev, err := NewSyntheticDevice(shape)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// NewSyntheticDevice validates the pulse shape.
func NewSyntheticDevice(shape Synthetic) (*SyntheticDevice, error) {
	if shape.PeriodMs <= 0 || shape.HighMs <= 0 || shape.HighMs >= shape.PeriodMs {
		return nil, fmt.Errorf("invalid pulse shape: period %d ms, high %d ms", shape.PeriodMs, shape.HighMs)
	}
	return &SyntheticDevice{shape: shape}, nil
}

// Sampler implements Device. Each column is shifted in phase so that
// channels do not beat in unison.
func (d *SyntheticDevice) Sampler(column int) (Sampler, error) {
	if column < 0 || column >= MaxColumns {
		return nil, fmt.Errorf("%w: %d", ErrBadColumn, column)
	}
	return &generator{
		shape: d.shape,
		time:  column * 37,
		seed:  uint32(column)*2654435761 + 1,
	}, nil
}

// Close implements Device.
func (d *SyntheticDevice) Close() error {
	return nil
}

type generator struct {
	shape Synthetic
	time  int    // ms since start, including the phase offset
	seed  uint32 // Noise state
}

// ReadSample advances the waveform by one tick.
func (g *generator) ReadSample() int {
	g.time += pulse.TickPeriodMs
	s := &g.shape

	v := s.Low
	if g.time%s.PeriodMs >= s.PeriodMs-s.HighMs {
		v = s.High
	}

	// Triangle drift: 0 -> Drift -> 0 over DriftMs.
	if s.DriftMs > 1 && s.Drift > 0 {
		half := s.DriftMs / 2
		phase := g.time % s.DriftMs
		if phase < half {
			v += s.Drift * phase / half
		} else {
			v += s.Drift * (s.DriftMs - phase) / half
		}
	}

	if s.Noise > 0 {
		g.seed = g.seed*1664525 + 1013904223
		v += int(g.seed>>16)%(2*s.Noise+1) - s.Noise
	}
	return v
}
