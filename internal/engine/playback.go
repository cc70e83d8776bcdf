package engine

import "github.com/nixchirp/nixchirp/internal/assets"

// Cursor is a remembered playback position for one state.
type Cursor struct {
	FrameIndex int
	TimerMS    float64
}

// Playback advances frame indices for the current clip and, during a
// crossfade, the previous clip. It remembers per-state positions so looping
// clips resume where they left off instead of restarting on every
// idle↔speaking cycle.
type Playback struct {
	current    *assets.LoadedAnimation
	frameIndex int
	frameTimer float64
	speed      float64
	loop       bool

	prev       *assets.LoadedAnimation
	prevIndex  int
	prevTimer  float64
	prevSpeed  float64

	cursors map[Handle]Cursor
}

// NewPlayback creates an empty playback controller.
func NewPlayback() *Playback {
	return &Playback{
		speed:   1.0,
		loop:    true,
		cursors: make(map[Handle]Cursor),
	}
}

// Current returns the clip being played, if any.
func (p *Playback) Current() *assets.LoadedAnimation { return p.current }

// FrameIndex returns the current frame index.
func (p *Playback) FrameIndex() int { return p.frameIndex }

// FrameTimer returns milliseconds accumulated toward the next frame.
func (p *Playback) FrameTimer() float64 { return p.frameTimer }

// HasPrevious reports whether a previous-clip snapshot is held.
func (p *Playback) HasPrevious() bool { return p.prev != nil }

// SaveCursor remembers the current position under a state handle.
func (p *Playback) SaveCursor(h Handle) {
	if h == NoHandle {
		return
	}
	p.cursors[h] = Cursor{FrameIndex: p.frameIndex, TimerMS: p.frameTimer}
}

// CursorFor returns a saved position, if one exists.
func (p *Playback) CursorFor(h Handle) (Cursor, bool) {
	c, ok := p.cursors[h]
	return c, ok
}

// DropCursor forgets a state's saved position (state removed).
func (p *Playback) DropCursor(h Handle) {
	delete(p.cursors, h)
}

// Enter makes anim the current clip for state h. Looping clips resume from
// their saved cursor; everything else starts at frame 0.
func (p *Playback) Enter(h Handle, anim *assets.LoadedAnimation, loop bool, speed float64) {
	p.current = anim
	p.loop = loop
	p.speed = speed
	if saved, ok := p.cursors[h]; ok && loop && anim.FrameCount() > 0 {
		p.frameIndex = saved.FrameIndex % anim.FrameCount()
		p.frameTimer = saved.TimerMS
		return
	}
	p.frameIndex = 0
	p.frameTimer = 0
}

// SwapKeepingFrame replaces the current clip while preserving the frame
// index (modulo the new clip's length). Used by mic-driven changes where
// idle/speaking variants share the same body animation.
func (p *Playback) SwapKeepingFrame(anim *assets.LoadedAnimation, loop bool, speed float64) {
	p.current = anim
	p.loop = loop
	p.speed = speed
	if n := anim.FrameCount(); n > 0 {
		p.frameIndex %= n
	}
}

// SnapshotPrevious records the current clip and position as the outgoing
// pair for a crossfade.
func (p *Playback) SnapshotPrevious() {
	if p.current == nil {
		return
	}
	p.prev = p.current
	p.prevIndex = p.frameIndex
	p.prevTimer = p.frameTimer
	p.prevSpeed = p.speed
}

// ReleasePrevious drops the previous-clip reference.
func (p *Playback) ReleasePrevious() {
	p.prev = nil
	p.prevIndex = 0
	p.prevTimer = 0
}

// Advance moves playback forward by dt seconds. The previous clip only
// advances while a transition is active, and it always wraps regardless of
// its configured loop flag so it never freezes mid-fade.
func (p *Playback) Advance(dt float64, transitionActive bool) {
	if anim := p.current; anim != nil && anim.FrameCount() > 0 {
		p.frameTimer += dt * 1000.0 * p.speed
		frameDur := anim.FrameDurationMS
		if frameDur <= 0 {
			frameDur = assets.DefaultFrameDurationMS
		}
		for p.frameTimer >= frameDur {
			p.frameTimer -= frameDur
			p.frameIndex++
			if p.frameIndex >= anim.FrameCount() {
				if p.loop {
					p.frameIndex = 0
				} else {
					p.frameIndex = anim.FrameCount() - 1
					p.frameTimer = 0
					break
				}
			}
		}
	}

	if !transitionActive || p.prev == nil || p.prev.FrameCount() == 0 {
		return
	}
	prev := p.prev
	p.prevTimer += dt * 1000.0 * p.prevSpeed
	frameDur := prev.FrameDurationMS
	if frameDur <= 0 {
		frameDur = assets.DefaultFrameDurationMS
	}
	for p.prevTimer >= frameDur {
		p.prevTimer -= frameDur
		p.prevIndex++
		if p.prevIndex >= prev.FrameCount() {
			p.prevIndex = 0
		}
	}
}

// CurrentFrame returns the frame to display, or nil when no clip is loaded.
func (p *Playback) CurrentFrame() *assets.Frame {
	if p.current == nil || p.current.FrameCount() == 0 {
		return nil
	}
	return p.current.FrameAt(p.frameIndex)
}

// PreviousFrame returns the outgoing clip's frame during a crossfade.
func (p *Playback) PreviousFrame() *assets.Frame {
	if p.prev == nil || p.prev.FrameCount() == 0 {
		return nil
	}
	return p.prev.FrameAt(p.prevIndex)
}
