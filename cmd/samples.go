package cmd

import (
	"sync/atomic"
	"time"

	"github.com/sergev/pulsesensor/playground"
	"github.com/sergev/pulsesensor/pulse"
	"github.com/sergev/pulsesensor/telemetry"
)

// sampleQueueDepth is how many ticks may wait for the foreground: one
// second at the tick rate.
const sampleQueueDepth = 1000 / pulse.TickPeriodMs

type queuedTick struct {
	tick   uint64
	values []int
}

// sampleQueue carries every tick's raw values from the tap to the
// foreground, which publishes them as sample events. The tap side never
// blocks: when the foreground falls behind, ticks are dropped and counted.
type sampleQueue struct {
	free    chan []int
	full    chan queuedTick
	dropped atomic.Uint64
}

func newSampleQueue(channels, depth int) *sampleQueue {
	q := &sampleQueue{
		free: make(chan []int, depth),
		full: make(chan queuedTick, depth),
	}
	for i := 0; i < depth; i++ {
		q.free <- make([]int, channels)
	}
	return q
}

// Observe has the playground tap signature and runs in the tick context.
func (q *sampleQueue) Observe(tick uint64, samples []int) {
	var buf []int
	select {
	case buf = <-q.free:
	default:
		q.dropped.Add(1)
		return
	}
	copy(buf, samples)
	// Never blocks: full has room for every buffer.
	q.full <- queuedTick{tick: tick, values: buf}
}

// Dropped returns the number of ticks lost because the foreground fell behind.
func (q *sampleQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// publish sends one sample event per channel for every queued tick.
// The first publish error is returned after the queue is drained.
func (q *sampleQueue) publish(sink telemetry.Sink, session string, names []string, now time.Time) error {
	var first error
	for {
		select {
		case t := <-q.full:
			for i, name := range names {
				if i >= len(t.values) {
					break
				}
				snap := pulse.Snapshot{
					Signal:     t.values[i],
					SampleTime: int64(t.tick) * pulse.TickPeriodMs,
				}
				if err := sink.Publish(telemetry.SampleEvent(session, i, name, snap, now)); err != nil && first == nil {
					first = err
				}
			}
			q.free <- t.values
		default:
			return first
		}
	}
}

// joinTaps combines the non-nil taps into one, called in order.
func joinTaps(taps ...playground.TapFunc) playground.TapFunc {
	var active []playground.TapFunc
	for _, tap := range taps {
		if tap != nil {
			active = append(active, tap)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(tick uint64, samples []int) {
		for _, tap := range active {
			tap(tick, samples)
		}
	}
}
