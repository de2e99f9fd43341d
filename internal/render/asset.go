package render

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"golang.org/x/image/draw"
)

var (
	errUnknownSource = errors.New("unknown source type")
	errNoAsset       = errors.New("no asset configured")
)

const (
	// MinFrameDelay is the shortest per-frame duration honoured for GIFs.
	MinFrameDelay = 20 * time.Millisecond
	// DefaultFrameDelay replaces a zero GIF delay.
	DefaultFrameDelay = 100 * time.Millisecond
	// maxAssetFrames bounds decoding work for very long GIFs; the encoder
	// thins further to the payload limit.
	maxAssetFrames = 2000
)

type assetKey struct {
	path    string
	size    int64
	modTime time.Time
}

func (r *Renderer) asset(path string) (FrameSequence, error) {
	if path == "" {
		return FrameSequence{}, &Error{Kind: UnsupportedAsset, Err: errNoAsset}
	}
	info, err := os.Stat(path)
	if err != nil {
		return FrameSequence{}, &Error{Kind: UnsupportedAsset, Asset: path, Err: err}
	}
	key := assetKey{path: path, size: info.Size(), modTime: info.ModTime()}

	r.mu.Lock()
	cached, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return FrameSequence{}, &Error{Kind: UnsupportedAsset, Asset: path, Err: err}
	}
	seq, err := r.decode(data)
	if err != nil {
		return FrameSequence{}, &Error{Kind: UnsupportedAsset, Asset: path, Err: err}
	}

	r.mu.Lock()
	for k := range r.cache {
		if k.path == path || len(r.cache) >= r.cacheSize {
			delete(r.cache, k)
		}
	}
	r.cache[key] = seq
	r.mu.Unlock()

	r.logger.Debug("Decoded asset", "path", path, "frames", seq.Len())
	return seq, nil
}

// Decode renders an encoded image held in memory.
func (r *Renderer) Decode(data []byte) (FrameSequence, error) {
	seq, err := r.decode(data)
	if err != nil {
		return FrameSequence{}, &Error{Kind: UnsupportedAsset, Err: err}
	}
	return seq, nil
}

func (r *Renderer) decode(data []byte) (FrameSequence, error) {
	if bytes.HasPrefix(data, []byte("GIF8")) {
		g, err := gif.DecodeAll(bytes.NewReader(data))
		if err != nil {
			return FrameSequence{}, err
		}
		if len(g.Image) > 1 {
			return r.animation(g), nil
		}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return FrameSequence{}, err
	}
	return Still(r.fit(img, r.width, r.height)), nil
}

// animation composites GIF frames onto a full canvas, honouring each
// frame's disposal method, then fits every composite to the animation size.
func (r *Renderer) animation(g *gif.GIF) FrameSequence {
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	n := min(len(g.Image), maxAssetFrames)
	seq := FrameSequence{
		Frames:    make([]Frame, 0, n),
		Durations: make([]time.Duration, 0, n),
	}
	for i := 0; i < n; i++ {
		frame := g.Image[i]
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var previous *image.RGBA
		if disposal == gif.DisposalPrevious {
			previous = image.NewRGBA(bounds)
			copy(previous.Pix, canvas.Pix)
		}

		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		seq.Frames = append(seq.Frames, r.fit(canvas, r.animWidth, r.animHeight))
		seq.Durations = append(seq.Durations, gifDelay(g, i))

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	return seq
}

func gifDelay(g *gif.GIF, i int) time.Duration {
	if i >= len(g.Delay) || g.Delay[i] <= 0 {
		return DefaultFrameDelay
	}
	return max(time.Duration(g.Delay[i])*10*time.Millisecond, MinFrameDelay)
}

// fit center-crops src to the aspect ratio of width x height and scales it
// to that size over a black background.
func (r *Renderer) fit(src image.Image, width, height int) Frame {
	sb := src.Bounds()
	crop := sb
	// compare aspect ratios without floating point
	if sb.Dx()*height > sb.Dy()*width {
		w := sb.Dy() * width / height
		crop.Min.X = sb.Min.X + (sb.Dx()-w)/2
		crop.Max.X = crop.Min.X + w
	} else {
		h := sb.Dx() * height / width
		crop.Min.Y = sb.Min.Y + (sb.Dy()-h)/2
		crop.Max.Y = crop.Min.Y + h
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	if crop.Dx() == width && crop.Dy() == height {
		draw.Draw(dst, dst.Bounds(), src, crop.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)
	}
	return FrameFromImage(dst, width, height)
}

// Placeholder is drawn in place of a source that failed to render.
func (r *Renderer) Placeholder(label string) FrameSequence {
	img := r.canvas(colorBackground)
	w, h := r.width, r.height

	for x := 0; x < w; x++ {
		img.Set(x, 0, colorRule)
		img.Set(x, h-1, colorRule)
	}
	for y := 0; y < h; y++ {
		img.Set(0, y, colorRule)
		img.Set(w-1, y, colorRule)
	}
	steps := max(w, h)
	for i := 0; i < steps; i++ {
		x := i * (w - 1) / max(steps-1, 1)
		y := i * (h - 1) / max(steps-1, 1)
		img.Set(x, y, colorRule)
		img.Set(w-1-x, y, colorRule)
	}
	r.centered(img, h/2+4, label, colorDegraded)
	return Still(FrameFromImage(img, w, h))
}
