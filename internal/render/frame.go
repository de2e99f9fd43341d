package render

import (
	"fmt"
	"image"
	"image/color"
	"time"
)

// Frame is one screen-sized buffer of packed RGB565 pixels, row major.
type Frame struct {
	Width  int
	Height int
	Pix    []uint16
}

// NewFrame returns a black frame of the given size.
func NewFrame(width, height int) Frame {
	return Frame{Width: width, Height: height, Pix: make([]uint16, width*height)}
}

func (f Frame) At(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

func (f Frame) Set(x, y int, v uint16) {
	f.Pix[y*f.Width+x] = v
}

// Valid reports whether the buffer is completely filled for its size.
func (f Frame) Valid() bool {
	return f.Width > 0 && f.Height > 0 && len(f.Pix) == f.Width*f.Height
}

// Check returns a DimensionMismatch error unless f is a full width x height
// frame.
func (f Frame) Check(width, height int) error {
	if f.Width != width || f.Height != height || !f.Valid() {
		return &Error{
			Kind: DimensionMismatch,
			Err:  fmt.Errorf("frame is %dx%d (%d px), want %dx%d", f.Width, f.Height, len(f.Pix), width, height),
		}
	}
	return nil
}

// Image expands the frame back to 24-bit color.
func (f Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			img.SetRGBA(x, y, Expand565(f.At(x, y)))
		}
	}
	return img
}

// FrameFromImage packs the top-left width x height region of img. Pixels
// outside img's bounds stay black.
func FrameFromImage(img image.Image, width, height int) Frame {
	f := NewFrame(width, height)
	b := img.Bounds()
	for y := 0; y < height && b.Min.Y+y < b.Max.Y; y++ {
		for x := 0; x < width && b.Min.X+x < b.Max.X; x++ {
			f.Set(x, y, Pack565(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return f
}

// FrameSequence is an ordered list of frames with per-frame display
// durations. A single-frame sequence is a still image.
type FrameSequence struct {
	Frames    []Frame
	Durations []time.Duration
}

// Still wraps one frame as a sequence.
func Still(f Frame) FrameSequence {
	return FrameSequence{Frames: []Frame{f}, Durations: []time.Duration{0}}
}

func (s FrameSequence) Len() int {
	return len(s.Frames)
}

func (s FrameSequence) Animated() bool {
	return len(s.Frames) > 1
}

// Total returns the playback length of one loop.
func (s FrameSequence) Total() time.Duration {
	var d time.Duration
	for _, v := range s.Durations {
		d += v
	}
	return d
}

// Pack565 converts a color to RGB565 by truncating each channel.
func Pack565(c color.Color) uint16 {
	r, g, b, _ := c.RGBA()
	return uint16(r>>11)<<11 | uint16(g>>10)<<5 | uint16(b>>11)
}

// Expand565 converts RGB565 to 24-bit color, replicating the high bits into
// the low bits so full-scale channels map to 0xff.
func Expand565(v uint16) color.RGBA {
	r := uint8(v >> 11 & 0x1f)
	g := uint8(v >> 5 & 0x3f)
	b := uint8(v & 0x1f)
	return color.RGBA{
		R: r<<3 | r>>2,
		G: g<<2 | g>>4,
		B: b<<3 | b>>2,
		A: 0xff,
	}
}
