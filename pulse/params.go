package pulse

import (
	"errors"
	"fmt"
)

// Detector tuning constants.
// They were chosen empirically for the PulseSensor front end sampled every
// 2 ms and are expressed in absolute milliseconds, so changing TickPeriodMs
// without rescaling them breaks detection.
const (
	// TickPeriodMs is the fixed time between two samples.
	TickPeriodMs = 2

	// HistorySize is the number of inter-beat intervals averaged for BPM.
	HistorySize = 60

	// RefractoryMs is the minimum time between two beat onsets.
	RefractoryMs = 250

	// SignalLossMs is how long without a beat before the detector re-arms.
	SignalLossMs = 2500

	// DebounceNum/DebounceDen is the fraction of the last IBI during which
	// trough tracking and onsets are suppressed (dicrotic notch).
	DebounceNum = 3
	DebounceDen = 5

	// Midline seeds peak and trough: half of the 0..1023 input range.
	Midline = 512

	// DefaultThreshold seeds the crossing level and its reset baseline.
	DefaultThreshold = 550

	// SeedIBI is 600 ms per beat, i.e. 100 BPM.
	SeedIBI = 600

	// SeedAmplitude is 1/10 of the input range.
	SeedAmplitude = 100
)

// ErrBadParams is returned when detector parameters are inconsistent.
var ErrBadParams = errors.New("invalid detector parameters")

// Params holds the overridable detector constants.
type Params struct {
	TickPeriodMs     int // Time advanced per processed sample
	HistorySize      int // IBIs averaged for BPM, at least 2
	RefractoryMs     int // Hard minimum between onsets
	SignalLossMs     int // Re-arm after this long without a beat
	DebounceNum      int // Debounce fraction numerator
	DebounceDen      int // Debounce fraction denominator
	Midline          int // Peak/trough seed
	DefaultThreshold int // Threshold and baseline seed
	SeedIBI          int // Initial inter-beat interval
}

// DefaultParams returns the parameters tuned for a 2 ms tick.
func DefaultParams() Params {
	return Params{
		TickPeriodMs:     TickPeriodMs,
		HistorySize:      HistorySize,
		RefractoryMs:     RefractoryMs,
		SignalLossMs:     SignalLossMs,
		DebounceNum:      DebounceNum,
		DebounceDen:      DebounceDen,
		Midline:          Midline,
		DefaultThreshold: DefaultThreshold,
		SeedIBI:          SeedIBI,
	}
}

// Validate checks that the parameters cannot lead to a division by zero
// or to a detector that never fires.
func (p Params) Validate() error {
	switch {
	case p.TickPeriodMs <= 0:
		return fmt.Errorf("%w: tick period %d ms (must be positive)", ErrBadParams, p.TickPeriodMs)
	case p.HistorySize < 2:
		return fmt.Errorf("%w: history size %d (must be at least 2)", ErrBadParams, p.HistorySize)
	case p.RefractoryMs < 0:
		return fmt.Errorf("%w: refractory period %d ms", ErrBadParams, p.RefractoryMs)
	case p.SignalLossMs <= p.RefractoryMs:
		return fmt.Errorf("%w: signal loss timeout %d ms must exceed refractory period %d ms",
			ErrBadParams, p.SignalLossMs, p.RefractoryMs)
	case p.DebounceDen <= 0 || p.DebounceNum <= 0 || p.DebounceNum > p.DebounceDen:
		return fmt.Errorf("%w: debounce fraction %d/%d", ErrBadParams, p.DebounceNum, p.DebounceDen)
	case p.SeedIBI <= 0:
		return fmt.Errorf("%w: seed IBI %d ms (must be positive)", ErrBadParams, p.SeedIBI)
	}
	return nil
}

// debounce returns the part of ibi during which a new trough or onset is ignored.
func (p Params) debounce(ibi int) int {
	return (ibi / p.DebounceDen) * p.DebounceNum
}
