package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sergev/pulsesensor/config"

	"go.bug.st/serial"
)

// DefaultBaud is used when the board configuration leaves baud at zero.
const DefaultBaud = 115200

// SerialDevice reads lines of comma separated ADC values, one line per
// sample period, from a microcontroller on a serial port.
type SerialDevice struct {
	*frame
	port serial.Port
	name string
	wg   sync.WaitGroup

	closing atomic.Bool
}

func init() {
	Register(config.SourceSerial, openSerial)
}

func openSerial(board *config.Board) (Device, error) {
	name := board.Port
	if name == "" {
		details, err := FindSerialPort()
		if err != nil {
			return nil, err
		}
		name = details.Name
	}
	baud := board.Baud
	if baud == 0 {
		baud = DefaultBaud
	}
	dev, err := OpenSerial(name, baud)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// OpenSerial opens the named port and starts reading frames from it.
func OpenSerial(name string, baud int) (*SerialDevice, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}

	// Drop whatever the board printed before we were listening.
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to reset input buffer of %s: %w", name, err)
	}

	dev := &SerialDevice{
		frame: newFrame(),
		port:  port,
		name:  name,
	}
	dev.wg.Add(1)
	go func() {
		defer dev.wg.Done()
		if err := dev.run(port); err != nil {
			slog.Warn("serial read stopped", "component", "source", "port", name, "err", err)
		}
	}()
	slog.Info("serial source opened", "component", "source", "port", name, "baud", baud)
	return dev, nil
}

// Sampler implements Device.
func (d *SerialDevice) Sampler(column int) (Sampler, error) {
	return d.frame.sampler(column)
}

// run reads frames from r until it fails. The read error caused by Close
// is not reported.
func (d *SerialDevice) run(r io.Reader) error {
	err := d.frame.readLines(r)
	if d.closing.Load() {
		return nil
	}
	return err
}

// Close implements Device.
func (d *SerialDevice) Close() error {
	d.closing.Store(true)
	err := d.port.Close()
	d.wg.Wait()
	return err
}

// readLines stores every well-formed line of r until r fails.
func (f *frame) readLines(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	values := make([]int, 0, MaxColumns)
	for scanner.Scan() {
		var err error
		values, err = parseLine(scanner.Text(), values[:0])
		if err != nil {
			f.errors.Add(1)
			continue
		}
		if len(values) == 0 {
			continue
		}
		f.store(values)
	}
	err := scanner.Err()
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseLine decodes "512,498,530" into values. Blank lines and lines
// starting with '#' yield no values. Fields may be separated by commas,
// spaces or tabs.
func parseLine(line string, values []int) ([]int, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return values, nil
	}
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == ';'
	})
	if len(fields) > MaxColumns {
		return values, fmt.Errorf("frame has %d columns, max is %d", len(fields), MaxColumns)
	}
	for _, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return values, fmt.Errorf("bad sample %q: %w", field, err)
		}
		values = append(values, v)
	}
	return values, nil
}
