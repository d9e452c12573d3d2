package session

import (
	"sync"
	"time"
)

// DefaultTickInterval is the host cadence the production driver runs
// at. It is deliberately faster than the normal send tier; the gate,
// not the driver, decides when a tick becomes a send.
const DefaultTickInterval = 33 * time.Millisecond

// TickDriver invokes a tick callback at the host's cadence. The
// session never assumes the cadence is fixed.
type TickDriver interface {
	// Start begins delivering ticks. Ticks stop after Stop returns.
	Start(tick func())
	// Stop halts tick delivery and waits for an in-flight tick.
	Stop()
}

// TickerDriver delivers ticks from a time.Ticker.
type TickerDriver struct {
	interval time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
	done   sync.WaitGroup
}

// NewTickerDriver creates a driver at the given interval, defaulting
// to DefaultTickInterval.
func NewTickerDriver(interval time.Duration) *TickerDriver {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &TickerDriver{interval: interval}
}

func (d *TickerDriver) Start(tick func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopCh != nil {
		return
	}
	stopCh := make(chan struct{})
	d.stopCh = stopCh

	d.done.Add(1)
	go func() {
		defer d.done.Done()
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

func (d *TickerDriver) Stop() {
	d.mu.Lock()
	if d.stopCh == nil {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	d.stopCh = nil
	d.mu.Unlock()

	d.done.Wait()
}
