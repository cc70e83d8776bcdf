package assets

import (
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"os"
)

// GIFLoader is the default Loader implementation. Container decoding is
// deliberately thin here; anything beyond GIF belongs to an external
// decoder wired in through the Loader interface.
type GIFLoader struct{}

// Load decodes every frame of a GIF into RGBA buffers, compositing
// incremental frames onto the previous canvas the way players do.
func (GIFLoader) Load(path string) (*LoadedAnimation, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("decode %s: no frames", path)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	frames := make([]*Frame, 0, len(g.Image))
	var totalDelayMS float64
	for i, src := range g.Image {
		draw.Draw(canvas, src.Bounds(), src, src.Bounds().Min, draw.Over)

		pix := make([]byte, len(canvas.Pix))
		copy(pix, canvas.Pix)
		frames = append(frames, &Frame{
			Pix:    pix,
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		})

		// GIF delays are in centiseconds.
		totalDelayMS += float64(g.Delay[i]) * 10.0

		if i < len(g.Disposal) && g.Disposal[i] == gif.DisposalBackground {
			draw.Draw(canvas, src.Bounds(), image.Transparent, image.Point{}, draw.Src)
		}
	}

	frameDur := DefaultFrameDurationMS
	if avg := totalDelayMS / float64(len(frames)); avg > 0 {
		frameDur = avg
	}

	return &LoadedAnimation{
		Frames:          frames,
		FrameDurationMS: frameDur,
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
	}, nil
}
