package camera

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/teslashibe/go-scenewatch/internal/log"
)

// DefaultFrameInterval is the refresh period of the frame task.
const DefaultFrameInterval = 30 * time.Millisecond

// stalledAfter is how many consecutive failed reads are logged as a stall.
const stalledAfter = 100

// Feed continuously reads frames from a Source into a Slot.
// It is the single writer of the slot.
type Feed struct {
	source   Source
	slot     *Slot
	clock    clock.Clock
	interval time.Duration

	seq      uint64
	failures int
	misses   atomic.Uint64

	// OnFrame, when set, is called with every published frame.
	OnFrame func(Frame)
}

// NewFeed creates a feed. A zero interval uses DefaultFrameInterval and a
// nil clock uses the wall clock.
func NewFeed(source Source, slot *Slot, interval time.Duration, clk clock.Clock) *Feed {
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Feed{
		source:   source,
		slot:     slot,
		clock:    clk,
		interval: interval,
	}
}

// Run reads frames until ctx is cancelled. The source must already be open.
func (f *Feed) Run(ctx context.Context) error {
	ticker := f.clock.Ticker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.step()
		}
	}
}

func (f *Feed) step() {
	frame, err := f.source.Read()
	if err != nil {
		f.misses.Add(1)
		if errors.Is(err, ErrFrameMissing) {
			return
		}
		f.failures++
		if f.failures == stalledAfter {
			log.Warn("camera stalled", "component", "feed", "consecutive_failures", f.failures, "error", err)
		}
		return
	}
	if f.failures >= stalledAfter {
		log.Info("camera recovered", "component", "feed")
	}
	f.failures = 0

	f.seq++
	frame.Seq = f.seq
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = f.clock.Now()
	}
	f.slot.Store(frame)

	if f.OnFrame != nil {
		f.OnFrame(frame)
	}
}

// Misses returns how many reads produced no frame.
func (f *Feed) Misses() uint64 {
	return f.misses.Load()
}

// Grab opens src, waits for the first frame and closes it again.
// Used for one-shot scans while no feed is running.
func Grab(src Source, attempts int, wait time.Duration) (Frame, error) {
	if err := src.Open(); err != nil {
		return Frame{}, err
	}
	defer src.Close()

	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		frame, err := src.Read()
		if err == nil && !frame.Empty() {
			if frame.CapturedAt.IsZero() {
				frame.CapturedAt = time.Now()
			}
			return frame, nil
		}
		lastErr = err
		if wait > 0 {
			time.Sleep(wait)
		}
	}
	if lastErr == nil || errors.Is(lastErr, ErrFrameMissing) {
		return Frame{}, ErrFrameMissing
	}
	return Frame{}, errors.Join(ErrSourceUnavailable, lastErr)
}
