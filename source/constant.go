package source

import (
	"fmt"

	"github.com/sergev/pulsesensor/config"
)

// ConstantDevice reads the same level on every column. It stands in for
// a disconnected sensor.
type ConstantDevice struct {
	level int
}

func init() {
	Register(config.SourceConstant, func(board *config.Board) (Device, error) {
		return NewConstantDevice(board.Level), nil
	})
}

// NewConstantDevice returns a device whose every sample is level.
func NewConstantDevice(level int) *ConstantDevice {
	return &ConstantDevice{level: level}
}

// Sampler implements Device.
func (d *ConstantDevice) Sampler(column int) (Sampler, error) {
	if column < 0 || column >= MaxColumns {
		return nil, fmt.Errorf("%w: %d", ErrBadColumn, column)
	}
	return constantSampler(d.level), nil
}

// Close implements Device.
func (d *ConstantDevice) Close() error {
	return nil
}

type constantSampler int

func (c constantSampler) ReadSample() int {
	return int(c)
}
