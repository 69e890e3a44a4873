package playground

import (
	"errors"
	"sync"
	"time"
)

// ErrTickerRunning is returned when a tick source is started twice.
var ErrTickerRunning = errors.New("tick source already running")

// TickSource calls a handler at a fixed cadence.
// Implementations must never run two handler calls at the same time.
type TickSource interface {
	// Start arms the source. The handler runs on every tick until Stop.
	Start(onTick func()) error

	// Stop disarms the source and waits for a running handler to return.
	Stop()
}

// TimerTicker drives the handler from a dedicated goroutine, the way a
// hardware timer interrupt would. Ticks that arrive while the handler is
// still running are dropped by time.Ticker, so calls never overlap.
type TimerTicker struct {
	period time.Duration
	mu     sync.Mutex
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewTimerTicker creates a ticker with the given period.
func NewTimerTicker(period time.Duration) *TimerTicker {
	return &TimerTicker{period: period}
}

// Start implements TickSource.
func (t *TimerTicker) Start(onTick func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done != nil {
		return ErrTickerRunning
	}
	t.done = make(chan struct{})

	ticker := time.NewTicker(t.period)
	t.wg.Add(1)
	go func(done <-chan struct{}) {
		defer t.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				onTick()
			}
		}
	}(t.done)
	return nil
}

// Stop implements TickSource.
func (t *TimerTicker) Stop() {
	t.mu.Lock()
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// ManualTicker runs the handler only when told to. It is used to replay
// recordings faster than real time and in tests.
type ManualTicker struct {
	mu     sync.Mutex
	onTick func()
}

// NewManualTicker creates a disarmed manual ticker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{}
}

// Start implements TickSource.
func (m *ManualTicker) Start(onTick func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onTick != nil {
		return ErrTickerRunning
	}
	m.onTick = onTick
	return nil
}

// Stop implements TickSource.
func (m *ManualTicker) Stop() {
	m.mu.Lock()
	m.onTick = nil
	m.mu.Unlock()
}

// Tick runs one tick synchronously. It reports false when disarmed.
func (m *ManualTicker) Tick() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onTick == nil {
		return false
	}
	m.onTick()
	return true
}

// Advance runs n ticks and returns how many actually ran.
func (m *ManualTicker) Advance(n int) int {
	for i := 0; i < n; i++ {
		if !m.Tick() {
			return i
		}
	}
	return n
}
