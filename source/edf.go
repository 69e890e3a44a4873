package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/sergev/pulsesensor/config"
	"github.com/sergev/pulsesensor/pulse"

	"github.com/OpenPSG/edf"
)

// edfChunk is how many samples are decoded per read call.
const edfChunk = 1024

// EDFDevice replays the signals of an EDF recording, one sample per call.
// Signal i of the file is column i. Recordings are expected at the
// detector's tick rate, as written by the record package.
type EDFDevice struct {
	f      *os.File
	reader *edf.Reader

	mu      sync.Mutex
	signals map[int]*edfSignal
}

func init() {
	Register(config.SourceEDF, openEDF)
}

func openEDF(board *config.Board) (Device, error) {
	dev, err := OpenEDF(board.File)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// OpenEDF opens a recording for replay.
func OpenEDF(path string) (*EDFDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open EDF file: %w", err)
	}
	reader, err := edf.Open(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse EDF file %s: %w", path, err)
	}
	return &EDFDevice{
		f:       f,
		reader:  reader,
		signals: make(map[int]*edfSignal),
	}, nil
}

// Sampler implements Device. The whole signal is decoded up front so
// that ReadSample never touches the file.
func (d *EDFDevice) Sampler(column int) (Sampler, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.signals[column]; ok {
		return s, nil
	}
	sr, err := d.reader.Signal(column)
	if err != nil {
		return nil, fmt.Errorf("%w: EDF signal %d: %v", ErrBadColumn, column, err)
	}

	var samples []int
	buf := make([]float64, edfChunk)
	for {
		n, err := sr.Read(buf)
		for _, v := range buf[:n] {
			samples = append(samples, int(math.Round(v)))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read EDF signal %d: %w", column, err)
		}
	}

	s := &edfSignal{samples: samples}
	d.signals[column] = s
	return s, nil
}

// Len returns the number of samples of the shortest loaded signal.
func (d *EDFDevice) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := -1
	for _, s := range d.signals {
		if n < 0 || len(s.samples) < n {
			n = len(s.samples)
		}
	}
	if n < 0 {
		return 0
	}
	return n
}

// Close implements Device.
func (d *EDFDevice) Close() error {
	return d.f.Close()
}

// edfSignal replays one decoded signal. After the end it repeats the
// last sample.
type edfSignal struct {
	samples []int
	pos     int
}

func (s *edfSignal) ReadSample() int {
	if len(s.samples) == 0 {
		return pulse.Midline
	}
	v := s.samples[s.pos]
	if s.pos < len(s.samples)-1 {
		s.pos++
	}
	return v
}
