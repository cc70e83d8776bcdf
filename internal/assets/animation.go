// Package assets defines the decoded-animation contract between the frame
// cache, the playback engine, and whatever decoder supplies the frames.
package assets

import (
	"errors"
	"os"
	"path/filepath"
)

// DefaultFrameDurationMS is used when the source carries no usable frame
// rate (≈30 fps).
const DefaultFrameDurationMS = 33.33

// ErrNotFound reports that the asset file does not exist. Callers treat it
// as "no visual change", never as a fatal condition.
var ErrNotFound = errors.New("asset not found")

// Frame is a single decoded RGBA image.
type Frame struct {
	Pix    []byte // RGBA, 4 bytes per pixel
	Width  int
	Height int
}

// SizeBytes returns the raw memory footprint of the frame.
func (f *Frame) SizeBytes() int {
	return len(f.Pix)
}

// LoadedAnimation is a fully decoded clip ready for playback. It is
// immutable after load and may be shared read-only between the cache and
// the playback controller.
type LoadedAnimation struct {
	Frames          []*Frame
	FrameDurationMS float64
	Width           int
	Height          int
}

// FrameCount returns the number of decoded frames.
func (a *LoadedAnimation) FrameCount() int {
	return len(a.Frames)
}

// FrameAt returns a frame by index, wrapping for looping playback.
func (a *LoadedAnimation) FrameAt(index int) *Frame {
	return a.Frames[index%len(a.Frames)]
}

// SizeBytes sums the raw footprint of every frame.
func (a *LoadedAnimation) SizeBytes() int {
	total := 0
	for _, f := range a.Frames {
		total += f.SizeBytes()
	}
	return total
}

// Loader decodes an animation file into memory. Implementations must return
// at least one frame or an error; a missing file is reported as ErrNotFound
// (possibly wrapped), a present-but-undecodable file as any other error.
type Loader interface {
	Load(path string) (*LoadedAnimation, error)
}

// ResolvePath resolves a state's asset path. Absolute paths are returned
// as-is; relative paths are tried against the profile directory, then the
// working directory. Returns ErrNotFound when nothing exists.
func ResolvePath(profileDir, path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", ErrNotFound
		}
		return path, nil
	}
	if profileDir != "" {
		candidate := filepath.Join(profileDir, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	if wd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(wd, path)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", ErrNotFound
}
