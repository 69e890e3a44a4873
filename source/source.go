// Package source provides the raw-value producers that feed pulse detectors:
// microcontroller boards streaming ADC readings over a serial port or a USB
// bulk endpoint, EDF recordings, a synthetic pulse generator and a constant
// level.
//
// Devices are opened by source kind through a registry that each
// implementation fills from its init function. A device exposes one Sampler
// per frame column; ReadSample never blocks and returns the most recent value.
package source

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/sergev/pulsesensor/config"
	"github.com/sergev/pulsesensor/pulse"
)

// MaxColumns is the widest frame a streaming device can deliver.
const MaxColumns = 16

var (
	// ErrUnknownKind is returned by Open for an unregistered source kind.
	ErrUnknownKind = errors.New("unknown source kind")

	// ErrNoDevice is returned when no matching hardware is attached.
	ErrNoDevice = errors.New("no supported pulse sensor board found")

	// ErrBadColumn is returned for a column outside 0..MaxColumns-1.
	ErrBadColumn = errors.New("column out of range")
)

// Sampler returns the current raw reading of one sensor without blocking.
type Sampler interface {
	ReadSample() int
}

// Device is an open sample source carrying one or more sensor columns.
type Device interface {
	// Sampler returns the reader for the given frame column.
	Sampler(column int) (Sampler, error)

	// Close releases the device.
	Close() error
}

// Factory opens a device described by a board configuration.
type Factory func(board *config.Board) (Device, error)

var registeredSources = map[string]Factory{}

// Register makes a source kind available to Open.
func Register(kind string, factory Factory) {
	registeredSources[kind] = factory
}

// Kinds lists the registered source kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(registeredSources))
	for kind := range registeredSources {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Open opens the source described by board.
func Open(board *config.Board) (Device, error) {
	factory, ok := registeredSources[board.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, board.Source)
	}
	dev, err := factory(board)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source for board %q: %w", board.Source, board.Name, err)
	}
	return dev, nil
}

// frame holds the latest value of every column of a streaming device.
// The device's reader goroutine stores, the tick context loads.
type frame struct {
	values [MaxColumns]atomic.Int32
	frames atomic.Uint64 // Complete frames received
	errors atomic.Uint64 // Malformed frames dropped
}

func newFrame() *frame {
	f := &frame{}
	for i := range f.values {
		f.values[i].Store(pulse.Midline)
	}
	return f
}

// store publishes one received frame. Values beyond the int32 range
// saturate.
func (f *frame) store(values []int) {
	for i, v := range values {
		if i >= MaxColumns {
			break
		}
		f.values[i].Store(int32(max(math.MinInt32, min(v, math.MaxInt32))))
	}
	f.frames.Add(1)
}

func (f *frame) sampler(column int) (Sampler, error) {
	if column < 0 || column >= MaxColumns {
		return nil, fmt.Errorf("%w: %d", ErrBadColumn, column)
	}
	return columnSampler{f: f, column: column}, nil
}

// Stats reports how many frames were received and dropped.
func (f *frame) Stats() (received, dropped uint64) {
	return f.frames.Load(), f.errors.Load()
}

type columnSampler struct {
	f      *frame
	column int
}

func (c columnSampler) ReadSample() int {
	return int(c.f.values[c.column].Load())
}
