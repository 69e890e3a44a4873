package pulse

import (
	"errors"
	"math"
	"testing"
)

const (
	testLow  = 400 // Below the default threshold of 550
	testHigh = 700 // Above the default threshold
)

// Helper function: newTestDetector creates a detector with default parameters.
func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultParams())
	if err != nil {
		t.Fatalf("NewDetector() returned error: %v", err)
	}
	return d
}

// Helper function: squareWave returns one period of a pulse train:
// lowMs of testLow followed by highMs of testHigh, one value per tick.
func squareWave(lowMs, highMs int) []int {
	samples := make([]int, 0, (lowMs+highMs)/TickPeriodMs)
	for i := 0; i < lowMs/TickPeriodMs; i++ {
		samples = append(samples, testLow)
	}
	for i := 0; i < highMs/TickPeriodMs; i++ {
		samples = append(samples, testHigh)
	}
	return samples
}

// beatLog collects what a consumer polling after every tick would observe.
type beatLog struct {
	onsets  int   // Rising edges of IsInsideBeat
	started int   // True results of SawStartOfBeat
	bpm     []int // BPM sampled right after each onset
	ibi     []int // IBI sampled right after each onset
}

// Helper function: feed runs the samples through the detector and records
// every onset as a polling consumer would see it.
func feed(d *Detector, samples []int, log *beatLog) {
	for _, s := range samples {
		wasInside := d.IsInsideBeat()
		d.ProcessLatestSample(s)
		if !wasInside && d.IsInsideBeat() {
			log.onsets++
			log.bpm = append(log.bpm, d.BeatsPerMinute())
			log.ibi = append(log.ibi, d.InterBeatIntervalMs())
		}
		if d.SawStartOfBeat() {
			log.started++
		}
	}
}

func TestNewDetectorDefaults(t *testing.T) {
	d := newTestDetector(t)
	s := d.Snapshot()

	if s.IBI != 600 {
		t.Errorf("IBI = %d, expected 600", s.IBI)
	}
	if s.BPM != 100 {
		t.Errorf("BPM = %d, expected 100", s.BPM)
	}
	if s.Threshold != 550 {
		t.Errorf("Threshold = %d, expected 550", s.Threshold)
	}
	if s.Amplitude != SeedAmplitude {
		t.Errorf("Amplitude = %d, expected %d", s.Amplitude, SeedAmplitude)
	}
	if s.InsideBeat || d.SawStartOfBeat() {
		t.Errorf("fresh detector reports a beat")
	}
}

func TestNewDetectorRejectsBadParams(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
	}{
		{"history too small", func(p *Params) { p.HistorySize = 1 }},
		{"zero tick", func(p *Params) { p.TickPeriodMs = 0 }},
		{"zero debounce denominator", func(p *Params) { p.DebounceDen = 0 }},
		{"debounce above one", func(p *Params) { p.DebounceNum = 6 }},
		{"signal loss below refractory", func(p *Params) { p.SignalLossMs = 200 }},
		{"zero seed IBI", func(p *Params) { p.SeedIBI = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.modify(&p)
			_, err := NewDetector(p)
			if !errors.Is(err, ErrBadParams) {
				t.Errorf("NewDetector() error = %v, expected ErrBadParams", err)
			}
		})
	}
}

// Five 600 ms cycles (500 ms low, 100 ms high) from power-on.
// The first onset is discarded, the second seeds the history, and the
// IBI reads 600 from the third onset on.
func TestFiveCycleScenario(t *testing.T) {
	d := newTestDetector(t)
	var log beatLog

	cycle := squareWave(500, 100)
	for i := 0; i < 5; i++ {
		feed(d, cycle, &log)
	}

	if log.onsets != 5 {
		t.Fatalf("saw %d onsets, expected 5", log.onsets)
	}
	// The bootstrap onset never raises the start-of-beat flag.
	if log.started != 4 {
		t.Errorf("SawStartOfBeat() returned true %d times, expected 4", log.started)
	}
	if log.ibi[0] != 502 {
		t.Errorf("first IBI = %d, expected 502 (time from power-on)", log.ibi[0])
	}
	if log.bpm[0] != 100 {
		t.Errorf("BPM after first onset = %d, expected seeded 100", log.bpm[0])
	}
	for i := 1; i < 5; i++ {
		if log.ibi[i] != 600 {
			t.Errorf("IBI after onset %d = %d, expected 600", i+1, log.ibi[i])
		}
		if log.bpm[i] != 100 {
			t.Errorf("BPM after onset %d = %d, expected 100", i+1, log.bpm[i])
		}
	}
	if got := d.PulseAmplitude(); got != testHigh-testLow {
		t.Errorf("PulseAmplitude() = %d, expected %d", got, testHigh-testLow)
	}
	if got := d.Threshold(); got != (testHigh+testLow)/2 {
		t.Errorf("Threshold() = %d, expected %d", got, (testHigh+testLow)/2)
	}
	if got := d.LastBeatTime(); got != 4*600+502 {
		t.Errorf("LastBeatTime() = %d, expected %d", got, 4*600+502)
	}
}

// The second onset seeds the whole history, so the next beat already
// averages uniform values.
func TestBootstrapSeedsHistory(t *testing.T) {
	d := newTestDetector(t)
	var log beatLog

	feed(d, squareWave(500, 100), &log)
	if !d.history.equal(600) {
		t.Errorf("history changed by the first onset: %v", d.history.Values())
	}

	feed(d, squareWave(700, 100), &log)
	if !d.history.equal(800) {
		t.Errorf("history after second onset = %v, expected all 800", d.history.Values())
	}
	if got := d.BeatsPerMinute(); got != 75 {
		t.Errorf("BPM after second onset = %d, expected 75", got)
	}

	feed(d, squareWave(400, 100), &log)
	values := d.history.Values()
	if values[len(values)-1] != 500 || values[0] != 800 {
		t.Errorf("history after third onset = %v", values)
	}
	// (59*800 + 500) / 60 = 795, 60000 / 795 = 75.47 rounds to 75
	if got := d.BeatsPerMinute(); got != 75 {
		t.Errorf("BPM after third onset = %d, expected 75", got)
	}
}

// A periodic train converges to 60000/T rounded to nearest and stays there.
// For 400 ms the first onset lands in the middle of a pulse (the 360 ms
// debounce of the seed IBI is still running), so the seeded value is off
// and the window needs a full turn to settle.
func TestPeriodicTrainConverges(t *testing.T) {
	periods := []int{400, 500, 600, 700, 750, 900, 1000, 1100, 1200, 2000}
	for _, period := range periods {
		d := newTestDetector(t)
		var log beatLog

		cycle := squareWave(period-100, 100)
		for i := 0; i < HistorySize+10; i++ {
			feed(d, cycle, &log)
		}

		want := int(math.Round(60000 / float64(period)))
		if got := d.BeatsPerMinute(); got != want {
			t.Errorf("period %d ms: BPM = %d, expected %d", period, got, want)
		}
		if got := d.InterBeatIntervalMs(); got != period {
			t.Errorf("period %d ms: IBI = %d, expected %d", period, got, period)
		}
		// Stable over the last ten beats.
		for i := len(log.bpm) - 10; i < len(log.bpm); i++ {
			if log.bpm[i] != want {
				t.Errorf("period %d ms: BPM after onset %d = %d, expected %d", period, i+1, log.bpm[i], want)
				break
			}
		}
	}
}

// A signal that never crosses the threshold never produces a beat,
// and BPM/IBI keep their seeded values.
func TestNoCrossingNoBeat(t *testing.T) {
	d := newTestDetector(t)
	for i := 0; i < 10000; i++ {
		d.ProcessLatestSample(300 + i%200)
		if d.IsInsideBeat() {
			t.Fatalf("IsInsideBeat() = true at tick %d", i)
		}
		if d.SawStartOfBeat() {
			t.Fatalf("SawStartOfBeat() = true at tick %d", i)
		}
	}
	if d.BeatsPerMinute() != 100 || d.InterBeatIntervalMs() != 600 {
		t.Errorf("BPM/IBI = %d/%d, expected seeded 100/600", d.BeatsPerMinute(), d.InterBeatIntervalMs())
	}
}

// After more than 2.5 s of flat signal the detector re-arms and picks up
// a new pulse train on its own.
func TestSignalLossRecovery(t *testing.T) {
	d := newTestDetector(t)
	var log beatLog

	for i := 0; i < 5; i++ {
		feed(d, squareWave(500, 100), &log)
	}
	d.SetThreshold(560)

	flat := make([]int, 3000/TickPeriodMs)
	for i := range flat {
		flat[i] = testLow
	}
	feed(d, flat, &log)

	s := d.Snapshot()
	if s.Threshold != 560 {
		t.Errorf("threshold after signal loss = %d, expected baseline 560", s.Threshold)
	}
	if !d.awaitingFirst || d.awaitingSecond {
		t.Errorf("detector did not re-enter bootstrap")
	}
	if s.BPM != 100 {
		t.Errorf("BPM after signal loss = %d, expected unchanged 100", s.BPM)
	}

	started := log.started
	for i := 0; i < 4; i++ {
		feed(d, squareWave(700, 100), &log)
	}
	if log.started-started != 3 {
		t.Errorf("saw %d beats after recovery, expected 3", log.started-started)
	}
	if got := d.BeatsPerMinute(); got != 75 {
		t.Errorf("BPM after recovery = %d, expected 75", got)
	}
}

// Onsets closer than the refractory period are ignored even when the
// debounce window has already passed.
func TestRefractoryPeriod(t *testing.T) {
	p := DefaultParams()
	p.SeedIBI = 200 // debounce 120 ms, below the 250 ms refractory
	d, err := NewDetector(p)
	if err != nil {
		t.Fatalf("NewDetector() returned error: %v", err)
	}
	var log beatLog

	// A 200 ms train: every second pulse falls inside the refractory period.
	for i := 0; i < 20; i++ {
		feed(d, squareWave(160, 40), &log)
	}
	for i, ibi := range log.ibi {
		if ibi <= RefractoryMs {
			t.Errorf("onset %d has IBI %d, inside the refractory period", i+1, ibi)
		}
	}
}

// SawStartOfBeat is read-and-clear.
func TestSawStartOfBeatClears(t *testing.T) {
	d := newTestDetector(t)
	feed(d, squareWave(500, 100), &beatLog{})

	// Feed the low part of the next cycle and the first high sample only.
	for _, s := range squareWave(500, TickPeriodMs) {
		d.ProcessLatestSample(s)
	}
	if !d.SawStartOfBeat() {
		t.Fatalf("SawStartOfBeat() = false after second onset")
	}
	if d.SawStartOfBeat() {
		t.Errorf("SawStartOfBeat() = true on the second read")
	}
}

// Garbage input must never drive IBI or BPM to zero or below.
func TestNoisyInputKeepsMeasurementsPositive(t *testing.T) {
	d := newTestDetector(t)
	x := uint32(12345)
	for i := 0; i < 200000; i++ {
		x = x*1664525 + 1013904223
		d.ProcessLatestSample(int(x>>20) - 1024) // -1024..3071
		if d.InterBeatIntervalMs() <= 0 || d.BeatsPerMinute() <= 0 {
			t.Fatalf("tick %d: IBI=%d BPM=%d", i, d.InterBeatIntervalMs(), d.BeatsPerMinute())
		}
	}
}

// equal reports whether every value in the window is v.
func (h *History) equal(v int) bool {
	for _, x := range h.values {
		if x != v {
			return false
		}
	}
	return true
}
