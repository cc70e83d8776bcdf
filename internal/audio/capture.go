package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"

	"github.com/nixchirp/nixchirp/internal/engine"
)

const (
	captureSampleRate = 44100
	captureChunkMS    = 20
)

// Capture opens the microphone via miniaudio and feeds per-chunk RMS
// levels through the Detector, publishing the resulting activity edges as
// StateEvents. The data callback runs on miniaudio's audio thread; the
// only state it shares with the rest of the app is the Detector and the
// event queue, both safe for that.
type Capture struct {
	queue    *engine.Queue
	detector *Detector
	log      zerolog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

// NewCapture creates an idle capture around a detector.
func NewCapture(queue *engine.Queue, detector *Detector, log zerolog.Logger) *Capture {
	return &Capture{queue: queue, detector: detector, log: log}
}

// Start opens the default capture device and begins detection.
func (c *Capture) Start() error {
	if c.device != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = captureSampleRate
	deviceConfig.PeriodSizeInMilliseconds = captureChunkMS
	deviceConfig.Alsa.NoMMap = 1

	onRecv := func(_, samples []byte, frameCount uint32) {
		if frameCount == 0 {
			return
		}
		rms := rmsF32LE(samples, int(frameCount))
		chunkDur := time.Duration(frameCount) * time.Second / captureSampleRate
		for _, edge := range c.detector.Process(rms, chunkDur) {
			c.queue.Push(engine.StateEvent{Kind: edgeKind(edge), Value: rms})
		}
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{Data: onRecv})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("capture start: %w", err)
	}

	c.ctx = ctx
	c.device = device
	c.log.Info().Int("sample_rate", captureSampleRate).Int("chunk_ms", captureChunkMS).
		Msg("mic capture started")
	return nil
}

// Stop closes the capture device.
func (c *Capture) Stop() {
	if c.device == nil {
		return
	}
	_ = c.device.Stop()
	c.device.Uninit()
	c.device = nil
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
	c.detector.Reset()
	c.log.Info().Msg("mic capture stopped")
}

// Toggle flips capture on or off; wired to the toggle-mic action.
func (c *Capture) Toggle() {
	if c.Running() {
		c.Stop()
		return
	}
	if err := c.Start(); err != nil {
		c.log.Warn().Err(err).Msg("mic restart failed")
	}
}

// Running reports whether the device is open.
func (c *Capture) Running() bool { return c.device != nil }

// Level returns the detector's last RMS for display.
func (c *Capture) Level() float64 { return c.detector.Level() }

func edgeKind(e Edge) engine.EventKind {
	switch e {
	case EdgeIntense:
		return engine.EventMicIntense
	case EdgeIdle:
		return engine.EventMicIdle
	default:
		return engine.EventMicActive
	}
}

// rmsF32LE computes the RMS of mono little-endian float32 samples.
func rmsF32LE(samples []byte, frames int) float64 {
	if frames == 0 || len(samples) < 4 {
		return 0
	}
	if max := len(samples) / 4; frames > max {
		frames = max
	}
	var sum float64
	for i := 0; i < frames; i++ {
		s := math.Float32frombits(binary.LittleEndian.Uint32(samples[i*4:]))
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(frames))
}
