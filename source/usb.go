package source

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sergev/pulsesensor/config"

	"github.com/google/gousb"
)

// USB stream constants
const (
	// ReadBufferSize is the size of one bulk IN transfer.
	ReadBufferSize = 512

	// DefaultEndpoint is the bulk IN endpoint used when none is configured.
	DefaultEndpoint = 0x81
)

// USBDevice reads sample frames from a bulk IN endpoint of a vendor-class
// USB ADC. Each frame is a little-endian uint16 column count followed by
// that many little-endian uint16 samples.
type USBDevice struct {
	*frame
	usb    *gousb.Context
	dev    *gousb.Device
	done   func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// bulkReader is the part of gousb.InEndpoint used by the read loop.
type bulkReader interface {
	ReadContext(ctx context.Context, buf []byte) (int, error)
}

func init() {
	Register(config.SourceUSB, openUSB)
}

func openUSB(board *config.Board) (Device, error) {
	endpoint := board.Endpoint
	if endpoint == 0 {
		endpoint = DefaultEndpoint
	}
	dev, err := OpenUSB(uint16(board.VID), uint16(board.PID), endpoint)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// OpenUSB opens the first device with the given VID/PID and starts
// streaming from its bulk IN endpoint.
func OpenUSB(vendorID, productID uint16, endpoint int) (*USBDevice, error) {
	usb := gousb.NewContext()

	dev, err := usb.OpenDeviceWithVIDPID(gousb.ID(vendorID), gousb.ID(productID))
	if err != nil {
		usb.Close()
		return nil, fmt.Errorf("failed to enumerate USB devices: %w", err)
	}
	if dev == nil {
		usb.Close()
		return nil, fmt.Errorf("%w (VID=0x%04X PID=0x%04X)", ErrNoDevice, vendorID, productID)
	}

	// Kernel drivers such as usbhid must let go of the interface.
	if err := dev.SetAutoDetach(true); err != nil {
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("failed to enable auto detach: %w", err)
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("failed to claim default interface: %w", err)
	}

	bulkIn, err := intf.InEndpoint(endpoint & 0x0f)
	if err != nil {
		done()
		dev.Close()
		usb.Close()
		return nil, fmt.Errorf("failed to open bulk in endpoint 0x%02x: %w", endpoint, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &USBDevice{
		frame:  newFrame(),
		usb:    usb,
		dev:    dev,
		done:   done,
		cancel: cancel,
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.frame.readBulk(ctx, bulkIn); err != nil {
			slog.Warn("USB read stopped", "component", "source", "err", err)
		}
	}()

	slog.Info("USB source opened", "component", "source",
		"vid", fmt.Sprintf("%04x", vendorID), "pid", fmt.Sprintf("%04x", productID))
	return d, nil
}

// readBulk stores frames read from r until ctx is cancelled or the
// device goes away, which both end the loop without error.
func (f *frame) readBulk(ctx context.Context, r bulkReader) error {
	var dec frameDecoder
	buf := make([]byte, ReadBufferSize)
	for {
		n, err := r.ReadContext(ctx, buf)
		if n > 0 {
			dec.feed(buf[:n], f)
		}
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, gousb.TransferCancelled):
			return nil
		case errors.Is(err, gousb.ErrorNoDevice):
			return nil
		default:
			return err
		}
	}
}

// Sampler implements Device.
func (d *USBDevice) Sampler(column int) (Sampler, error) {
	return d.frame.sampler(column)
}

// Close implements Device. The pending transfer is cancelled and waited
// for before the interface is released.
func (d *USBDevice) Close() error {
	d.cancel()
	d.wg.Wait()
	d.done()
	err := d.dev.Close()
	if cerr := d.usb.Close(); err == nil {
		err = cerr
	}
	return err
}

// frameDecoder reassembles frames split across bulk transfers.
type frameDecoder struct {
	pending []byte
	values  []int
}

// feed consumes data and stores every complete frame into f.
func (dec *frameDecoder) feed(data []byte, f *frame) {
	dec.pending = append(dec.pending, data...)
	for len(dec.pending) >= 2 {
		count := int(binary.LittleEndian.Uint16(dec.pending))
		if count == 0 || count > MaxColumns {
			// Lost sync: skip one byte and look for the next header.
			f.errors.Add(1)
			dec.pending = dec.pending[1:]
			continue
		}
		size := 2 + 2*count
		if len(dec.pending) < size {
			break
		}
		dec.values = dec.values[:0]
		for i := 0; i < count; i++ {
			dec.values = append(dec.values, int(binary.LittleEndian.Uint16(dec.pending[2+2*i:])))
		}
		f.store(dec.values)
		dec.pending = dec.pending[size:]
	}

	if len(dec.pending) == 0 {
		dec.pending = nil
	}
}
