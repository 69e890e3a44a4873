// Package record stores the raw waveform of every channel in an EDF file
// while the monitor runs, so that sessions can be replayed later.
package record

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/OpenPSG/edf"

	"github.com/sergev/pulsesensor/pulse"
)

const (
	// SamplesPerRecord is one second of samples at the tick rate.
	SamplesPerRecord = 1000 / pulse.TickPeriodMs

	// poolSize is the number of one-second buffers shared between the
	// tick context and the writer.
	poolSize = 4

	maxLabel = 16
)

// Header carries the descriptive EDF header fields.
type Header struct {
	Patient   string
	Recording string
	Session   string
	Channels  []string // Signal labels, one per channel
	Start     time.Time
}

// Recorder collects samples from the tick tap and writes them as EDF data
// records of one second. The tap side never blocks: when the writer falls
// behind, whole seconds are dropped and counted.
type Recorder struct {
	f        *os.File
	w        *edf.Writer
	channels int

	// Owned by the tick context.
	cur  [][]float64
	fill int

	full chan [][]float64
	free chan [][]float64

	written atomic.Uint64
	dropped atomic.Uint64
}

// New creates the EDF file at path and writes its header.
func New(path string, hdr Header) (*Recorder, error) {
	if len(hdr.Channels) == 0 {
		return nil, fmt.Errorf("recording needs at least one channel")
	}

	signals := make([]edf.Signal, len(hdr.Channels))
	for i, name := range hdr.Channels {
		signals[i] = edf.Signal{
			Label:             truncateLabel(name),
			TransducerType:    "PPG pulse sensor",
			PhysicalDimension: "adc",
			PhysicalMin:       0,
			PhysicalMax:       1023,
			DigitalMin:        0,
			DigitalMax:        1023,
			Prefiltering:      "none",
			SamplesPerRecord:  SamplesPerRecord,
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	start := hdr.Start
	if start.IsZero() {
		start = time.Now()
	}
	w, err := edf.Create(f, edf.Header{
		Version:            edf.Version0,
		PatientID:          hdr.Patient,
		RecordingID:        fmt.Sprintf("%s %s", hdr.Recording, hdr.Session),
		StartTime:          start,
		DataRecordDuration: time.Second,
		SignalCount:        len(signals),
		Signals:            signals,
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write EDF header: %w", err)
	}

	r := &Recorder{
		f:        f,
		w:        w,
		channels: len(signals),
		full:     make(chan [][]float64, poolSize),
		free:     make(chan [][]float64, poolSize),
	}
	for i := 0; i < poolSize; i++ {
		buf := make([][]float64, r.channels)
		for ch := range buf {
			buf[ch] = make([]float64, SamplesPerRecord)
		}
		r.free <- buf
	}
	return r, nil
}

// truncateLabel shortens name to at most maxLabel bytes without splitting
// a UTF-8 sequence.
func truncateLabel(name string) string {
	if len(name) <= maxLabel {
		return name
	}
	n := maxLabel
	for n > 0 && !utf8.RuneStart(name[n]) {
		n--
	}
	return name[:n]
}

// Observe appends one tick of samples. It has the playground tap signature
// and runs in the tick context.
func (r *Recorder) Observe(_ uint64, samples []int) {
	if r.cur == nil {
		select {
		case r.cur = <-r.free:
			r.fill = 0
		default:
			r.dropped.Add(1)
			return
		}
	}
	for ch := 0; ch < r.channels; ch++ {
		v := pulse.Midline
		if ch < len(samples) {
			v = samples[ch]
		}
		// Clamp to the recorded range.
		if v < 0 {
			v = 0
		} else if v > 1023 {
			v = 1023
		}
		r.cur[ch][r.fill] = float64(v)
	}
	r.fill++
	if r.fill == SamplesPerRecord {
		// Never blocks: full has room for every buffer in the pool.
		r.full <- r.cur
		r.cur = nil
	}
}

// Run writes completed records until ctx is cancelled, then writes the
// records still queued.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case buf := <-r.full:
					if err := r.write(buf); err != nil {
						return err
					}
				default:
					return nil
				}
			}
		case buf := <-r.full:
			if err := r.write(buf); err != nil {
				return err
			}
		}
	}
}

func (r *Recorder) write(buf [][]float64) error {
	if err := r.w.WriteRecord(buf); err != nil {
		return fmt.Errorf("failed to write EDF record: %w", err)
	}
	r.written.Add(1)
	r.free <- buf
	return nil
}

// Written returns the number of one-second records written.
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// Dropped returns the number of ticks lost because the writer fell behind.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close finalizes the header and closes the file. A trailing partial
// second is discarded. The tap must be removed before Close.
func (r *Recorder) Close() error {
	if err := r.w.Close(); err != nil {
		r.f.Close()
		return err
	}
	slog.Info("recording closed", "component", "record", "file", r.f.Name(),
		"seconds", r.Written(), "dropped_ticks", r.Dropped())
	return r.f.Close()
}
