// Package pulse finds heart beats in the raw waveform of an optical pulse
// sensor using integer arithmetic only.
//
// A Detector is fed one sample per fixed tick by a single producer and read
// by any number of consumers. It tracks the peak and trough of every pulse,
// re-centres its crossing threshold halfway between them, declares a beat
// when the signal rises through the threshold, and keeps a sliding average
// of the last inter-beat intervals to report beats per minute.
package pulse

import (
	"sync"
	"sync/atomic"
)

// Detector is the per-channel beat detection state machine.
type Detector struct {
	params Params

	// mu is the critical section shared by the producer and the consumers.
	// ProcessLatestSample holds it for the whole step, so readers never see
	// a half-updated beat.
	mu sync.Mutex

	signal            int   // Latest raw sample
	sampleCounter     int64 // Virtual milliseconds since start
	lastBeatTime      int64 // sampleCounter at the last onset
	peak              int   // Highest point of the current pulse
	trough            int   // Lowest point of the current pulse
	threshold         int   // Adaptive crossing level
	thresholdBaseline int   // Threshold restored after signal loss
	ibi               int   // Most recent inter-beat interval, ms
	bpm               int   // Beats per minute over the history window
	amplitude         int   // peak - trough of the last completed beat
	inBeat            bool  // Signal is above threshold inside a pulse
	awaitingFirst     bool  // No beat seen since (re)start
	awaitingSecond    bool  // One beat seen, history not seeded yet
	history           *History

	// beatStarted is set by the producer and cleared only by SawStartOfBeat.
	beatStarted atomic.Bool
}

// Snapshot is a consistent copy of the public measurements of a Detector.
type Snapshot struct {
	Signal       int   `json:"signal"`
	BPM          int   `json:"bpm"`
	IBI          int   `json:"ibi"`
	Amplitude    int   `json:"amplitude"`
	Threshold    int   `json:"threshold"`
	LastBeatTime int64 `json:"last_beat_time"`
	SampleTime   int64 `json:"sample_time"`
	InsideBeat   bool  `json:"inside_beat"`
}

// NewDetector creates a detector in its power-on state.
func NewDetector(p Params) (*Detector, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		params:            p,
		peak:              p.Midline,
		trough:            p.Midline,
		threshold:         p.DefaultThreshold,
		thresholdBaseline: p.DefaultThreshold,
		ibi:               p.SeedIBI,
		bpm:               (60000 + p.SeedIBI/2) / p.SeedIBI,
		amplitude:         SeedAmplitude,
		awaitingFirst:     true,
		history:           NewHistory(p.HistorySize),
	}
	d.history.Seed(p.SeedIBI)
	return d, nil
}

// Params returns the constants the detector was built with.
func (d *Detector) Params() Params {
	return d.params
}

// ProcessLatestSample advances virtual time by one tick and runs the
// detection step on raw. It must be called exactly once per tick and
// never concurrently with itself.
func (d *Detector) ProcessLatestSample(raw int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := &d.params
	d.signal = raw
	d.sampleCounter += int64(p.TickPeriodMs)
	n := int(d.sampleCounter - d.lastBeatTime)
	debounce := p.debounce(d.ibi)

	// Trough: wait out the dicrotic notch of the previous beat.
	if raw < d.threshold && n > debounce && raw < d.trough {
		d.trough = raw
	}

	// Peak: the threshold keeps noise out.
	if raw > d.threshold && raw > d.peak {
		d.peak = raw
	}

	if n > p.RefractoryMs && !d.inBeat && raw > d.threshold && n > debounce {
		if !d.onset(n) {
			return
		}
	}

	if raw < d.threshold && d.inBeat {
		d.inBeat = false
		d.amplitude = d.peak - d.trough
		d.threshold = d.trough + d.amplitude/2
		d.peak = d.threshold
		d.trough = d.threshold
	}

	if n > p.SignalLossMs {
		d.threshold = d.thresholdBaseline
		d.peak = p.Midline
		d.trough = p.Midline
		d.lastBeatTime = d.sampleCounter
		d.awaitingFirst = true
		d.awaitingSecond = false
	}
}

// onset records a beat start that happened n ms after the previous one.
// It returns false when the rest of the step must be skipped: the very
// first beat after (re)start carries a meaningless interval.
func (d *Detector) onset(n int) bool {
	d.inBeat = true
	d.ibi = n
	d.lastBeatTime = d.sampleCounter

	if d.awaitingFirst {
		d.awaitingFirst = false
		d.awaitingSecond = true
		return false
	}
	if d.awaitingSecond {
		d.awaitingSecond = false
		d.history.Seed(n)
	} else {
		d.history.Push(n)
	}

	// The average truncates; the BPM division rounds to nearest.
	if avg := d.history.Average(); avg > 0 {
		d.bpm = (60000 + avg/2) / avg
	}
	d.beatStarted.Store(true)
	return true
}

// SetThreshold overrides both the live threshold and the value restored
// after signal loss.
func (d *Detector) SetThreshold(threshold int) {
	d.mu.Lock()
	d.threshold = threshold
	d.thresholdBaseline = threshold
	d.mu.Unlock()
}

// SawStartOfBeat reports whether a beat started since the previous call
// and clears the flag. A beat detected concurrently is never lost: it is
// either returned now or on the next call.
func (d *Detector) SawStartOfBeat() bool {
	return d.beatStarted.Swap(false)
}

// IsInsideBeat reports whether the signal is currently above the threshold
// inside a detected pulse.
func (d *Detector) IsInsideBeat() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inBeat
}

// LatestSample returns the last raw sample processed.
func (d *Detector) LatestSample() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.signal
}

// BeatsPerMinute returns the BPM averaged over the history window.
func (d *Detector) BeatsPerMinute() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bpm
}

// InterBeatIntervalMs returns the most recent beat-to-beat time.
func (d *Detector) InterBeatIntervalMs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ibi
}

// PulseAmplitude returns peak minus trough of the last completed beat.
func (d *Detector) PulseAmplitude() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.amplitude
}

// LastBeatTime returns the virtual time in ms of the most recent onset.
func (d *Detector) LastBeatTime() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastBeatTime
}

// Threshold returns the live crossing level.
func (d *Detector) Threshold() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.threshold
}

// SampleTime returns the virtual time in ms of the latest sample.
func (d *Detector) SampleTime() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleCounter
}

// Snapshot copies all measurements in one critical section.
func (d *Detector) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		Signal:       d.signal,
		BPM:          d.bpm,
		IBI:          d.ibi,
		Amplitude:    d.amplitude,
		Threshold:    d.threshold,
		LastBeatTime: d.lastBeatTime,
		SampleTime:   d.sampleCounter,
		InsideBeat:   d.inBeat,
	}
}
