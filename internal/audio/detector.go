// Package audio turns microphone input into discrete activity events. The
// Detector holds the hysteresis logic and is the only engine state touched
// from the audio callback thread; Capture is the device glue around it.
package audio

import (
	"sync"
	"time"
)

// Edge is a discrete change in voice activity.
type Edge int

const (
	EdgeActive  Edge = iota // crossed into speech
	EdgeIdle                // speech ended (hold expired)
	EdgeIntense             // crossed into loud speech
)

// DetectorConfig holds the hysteresis thresholds. A signal must rise above
// OpenThreshold to activate and fall below CloseThreshold (and outlast the
// hold window) to deactivate, so it cannot chatter at one boundary.
type DetectorConfig struct {
	OpenThreshold    float64
	CloseThreshold   float64
	IntenseThreshold float64
	HoldTime         time.Duration
}

// DefaultDetectorConfig returns the stock thresholds.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		OpenThreshold:    0.08,
		CloseThreshold:   0.05,
		IntenseThreshold: 0.4,
		HoldTime:         150 * time.Millisecond,
	}
}

// Detector tracks voice activity with hysteresis. Process runs on the
// audio callback thread while Snapshot is read from the consumer thread,
// so all state sits behind one mutex; the displayed RMS only needs
// eventual consistency.
type Detector struct {
	mu  sync.Mutex
	cfg DetectorConfig

	active   bool
	intense  bool
	holdLeft time.Duration
	lastRMS  float64
}

// NewDetector creates a detector.
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.OpenThreshold <= 0 {
		cfg = DefaultDetectorConfig()
	}
	return &Detector{cfg: cfg}
}

// Process consumes one chunk's RMS level and returns the activity edges it
// caused, in the order they should be applied.
func (d *Detector) Process(rms float64, chunkDur time.Duration) []Edge {
	d.mu.Lock()
	defer d.mu.Unlock()

	wasActive := d.active
	wasIntense := d.intense
	d.lastRMS = rms

	switch {
	case rms >= d.cfg.OpenThreshold:
		d.active = true
		d.holdLeft = d.cfg.HoldTime
		d.intense = rms >= d.cfg.IntenseThreshold
	case d.active && rms >= d.cfg.CloseThreshold:
		// Between the thresholds: stay open, keep the hold armed.
		d.intense = false
		d.holdLeft = d.cfg.HoldTime
	default:
		d.intense = false
		if d.active {
			d.holdLeft -= chunkDur
			if d.holdLeft <= 0 {
				d.active = false
				d.holdLeft = 0
			}
		}
	}

	var edges []Edge
	switch {
	case d.intense && !wasIntense:
		edges = append(edges, EdgeIntense)
	case d.active && !wasActive:
		edges = append(edges, EdgeActive)
	case !d.active && wasActive:
		edges = append(edges, EdgeIdle)
	case d.active && wasIntense && !d.intense:
		// Dropped from intense back to normal speech.
		edges = append(edges, EdgeActive)
	}
	return edges
}

// Snapshot returns the last RMS and activity flags for display.
func (d *Detector) Snapshot() (rms float64, active, intense bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRMS, d.active, d.intense
}

// Level returns the last observed RMS.
func (d *Detector) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastRMS
}

// Active reports whether speech is currently detected.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// SetThresholds updates the config; takes effect on the next chunk.
func (d *Detector) SetThresholds(cfg DetectorConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// Reset clears activity state.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.intense = false
	d.holdLeft = 0
	d.lastRMS = 0
}
