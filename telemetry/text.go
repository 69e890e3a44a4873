package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

// TextSink writes events in the line format understood by the PulseSensor
// visualizer: 'S' + signal for samples, 'B' + BPM and 'Q' + IBI for beats.
// With more than one channel the channel index follows the letter and a
// colon separates the value, e.g. "B1:72".
type TextSink struct {
	mu       sync.Mutex
	w        *bufio.Writer
	channels int
}

// NewTextSink writes to w for the given number of channels.
func NewTextSink(w io.Writer, channels int) *TextSink {
	return &TextSink{w: bufio.NewWriter(w), channels: channels}
}

func (s *TextSink) line(tag byte, channel, value int) {
	if s.channels > 1 {
		fmt.Fprintf(s.w, "%c%d:%d\n", tag, channel, value)
		return
	}
	fmt.Fprintf(s.w, "%c%d\n", tag, value)
}

// Publish implements Sink.
func (s *TextSink) Publish(e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case KindSample:
		s.line('S', e.Channel, e.Signal)
	case KindBeat:
		s.line('B', e.Channel, e.BPM)
		s.line('Q', e.Channel, e.IBI)
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return s.w.Flush()
}

// Close implements Sink.
func (s *TextSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
