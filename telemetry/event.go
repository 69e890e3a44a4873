// Package telemetry publishes detector results: detected beats and,
// optionally, raw samples. Sinks exist for NATS, MQTT, websocket clients
// and plain text in the serial-plotter format.
package telemetry

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sergev/pulsesensor/pulse"
)

// Event kinds
const (
	KindBeat   = "beat"
	KindSample = "sample"
)

// Event is one published measurement.
type Event struct {
	Kind       string `json:"kind"`
	Session    string `json:"session"`
	Channel    int    `json:"channel"`
	Name       string `json:"name,omitempty"`
	Ts         int64  `json:"ts"`          // Wall clock, Unix ms
	SampleTime int64  `json:"sample_time"` // Detector virtual time, ms
	Signal     int    `json:"signal"`
	BPM        int    `json:"bpm,omitempty"`
	IBI        int    `json:"ibi,omitempty"`
	Amplitude  int    `json:"amplitude,omitempty"`
}

// NewSession returns a fresh session identifier.
func NewSession() string {
	return uuid.NewString()
}

// BeatEvent builds a beat event from a detector snapshot.
func BeatEvent(session string, channel int, name string, s pulse.Snapshot, now time.Time) Event {
	return Event{
		Kind:       KindBeat,
		Session:    session,
		Channel:    channel,
		Name:       name,
		Ts:         now.UnixMilli(),
		SampleTime: s.LastBeatTime,
		Signal:     s.Signal,
		BPM:        s.BPM,
		IBI:        s.IBI,
		Amplitude:  s.Amplitude,
	}
}

// SampleEvent builds a raw sample event.
func SampleEvent(session string, channel int, name string, s pulse.Snapshot, now time.Time) Event {
	return Event{
		Kind:       KindSample,
		Session:    session,
		Channel:    channel,
		Name:       name,
		Ts:         now.UnixMilli(),
		SampleTime: s.SampleTime,
		Signal:     s.Signal,
	}
}

// Marshal encodes the event as JSON.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Sink receives events from the foreground loop.
type Sink interface {
	Publish(e Event) error
	Close() error
}

// Multi fans events out to several sinks.
type Multi []Sink

// Publish implements Sink. Every sink is tried; errors are joined.
func (m Multi) Publish(e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
