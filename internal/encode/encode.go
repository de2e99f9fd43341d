// Package encode serializes frame sequences into the byte payloads uploaded
// to the screen and decodes them back for inspection.
//
// A still image is W*H big-endian RGB565 pixels. An animation is a looping
// GIF file with per-frame delays in hundredths of a second.
package encode

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"slices"
	"time"

	"golang.org/x/image/draw"

	"screensync/internal/render"
)

// Kind matches the screen's upload channel numbers.
type Kind uint8

const (
	KindImage     Kind = 1
	KindAnimation Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindAnimation:
		return "animation"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	// GIF delays are in hundredths of a second.
	delayUnit = 10 * time.Millisecond
	// minDelay matches the shortest frame the renderer produces.
	minDelay  = 2
	maxDelay  = 0xffff
	maxColors = 256
)

var (
	ErrEmpty     = errors.New("empty frame sequence")
	ErrTooLarge  = errors.New("payload exceeds device limit")
	ErrMalformed = errors.New("malformed payload")
)

// Payload is the wire-ready form of a frame sequence.
type Payload struct {
	Kind   Kind
	Width  int
	Height int
	Frames int
	Data   []byte
	Digest [sha256.Size]byte
}

// DigestString returns the first bytes of the digest in hex, for logs.
func (p Payload) DigestString() string {
	return hex.EncodeToString(p.Digest[:6])
}

// Size returns the number of bytes that will be uploaded.
func (p Payload) Size() int {
	return len(p.Data)
}

// Encoder turns frame sequences into payloads no larger than MaxBytes.
type Encoder struct {
	MaxBytes int
}

// New returns an encoder enforcing maxBytes. Zero means no limit.
func New(maxBytes int) *Encoder {
	return &Encoder{MaxBytes: maxBytes}
}

// Encode serializes seq. Animations that do not fit are thinned by merging
// neighbouring frames, summing their durations, until the GIF fits.
func (e *Encoder) Encode(seq render.FrameSequence) (Payload, error) {
	if seq.Len() == 0 {
		return Payload{}, ErrEmpty
	}
	w, h := seq.Frames[0].Width, seq.Frames[0].Height
	for _, f := range seq.Frames {
		if err := f.Check(w, h); err != nil {
			return Payload{}, err
		}
	}
	if w > 0xffff || h > 0xffff {
		return Payload{}, fmt.Errorf("%w: %dx%d frame", ErrTooLarge, w, h)
	}

	if !seq.Animated() {
		data := make([]byte, 0, w*h*2)
		data = appendPixels(data, seq.Frames[0])
		if e.MaxBytes > 0 && len(data) > e.MaxBytes {
			return Payload{}, fmt.Errorf("%w: %d > %d bytes", ErrTooLarge, len(data), e.MaxBytes)
		}
		return newPayload(KindImage, w, h, 1, data), nil
	}

	n := seq.Len()
	for {
		thinned := Thin(seq, n)
		data, err := encodeGIF(thinned)
		if err != nil {
			return Payload{}, err
		}
		if e.MaxBytes <= 0 || len(data) <= e.MaxBytes {
			return newPayload(KindAnimation, w, h, thinned.Len(), data), nil
		}
		if n == 1 {
			return Payload{}, fmt.Errorf("%w: one %dx%d frame needs %d bytes", ErrTooLarge, w, h, len(data))
		}
		// GIF size is roughly linear in the frame count
		n = max(1, min(n-1, n*e.MaxBytes/len(data)))
	}
}

// Thin reduces seq to at most n frames. Frames are grouped into n
// contiguous runs; each run keeps its first frame and the summed duration.
func Thin(seq render.FrameSequence, n int) render.FrameSequence {
	total := seq.Len()
	if n <= 0 || total <= n {
		return seq
	}
	out := render.FrameSequence{
		Frames:    make([]render.Frame, 0, n),
		Durations: make([]time.Duration, 0, n),
	}
	for i := 0; i < n; i++ {
		start := i * total / n
		end := (i + 1) * total / n
		var d time.Duration
		for j := start; j < end; j++ {
			d += duration(seq, j)
		}
		out.Frames = append(out.Frames, seq.Frames[start])
		out.Durations = append(out.Durations, d)
	}
	return out
}

// Decode reverses Encode. Animation colors come back within the precision
// of each frame's palette.
func Decode(p Payload) (render.FrameSequence, error) {
	switch p.Kind {
	case KindImage:
		if p.Width <= 0 || p.Height <= 0 || len(p.Data) != p.Width*p.Height*2 {
			return render.FrameSequence{}, fmt.Errorf("%w: image of %d bytes for %dx%d", ErrMalformed, len(p.Data), p.Width, p.Height)
		}
		return render.Still(readPixels(p.Data, p.Width, p.Height)), nil
	case KindAnimation:
		return decodeGIF(p.Data)
	default:
		return render.FrameSequence{}, fmt.Errorf("%w: unknown kind %d", ErrMalformed, p.Kind)
	}
}

// Restore rebuilds a payload from bytes read back from a capture. The
// digest is recomputed.
func Restore(kind Kind, width, height int, data []byte) Payload {
	n := 1
	if kind == KindAnimation {
		if g, err := gif.DecodeAll(bytes.NewReader(data)); err == nil {
			n = len(g.Image)
		}
	}
	return newPayload(kind, width, height, n, data)
}

func encodeGIF(seq render.FrameSequence) ([]byte, error) {
	anim := &gif.GIF{
		Image:    make([]*image.Paletted, 0, seq.Len()),
		Delay:    make([]int, 0, seq.Len()),
		Disposal: make([]byte, 0, seq.Len()),
	}
	for i, f := range seq.Frames {
		anim.Image = append(anim.Image, quantize(f))
		anim.Delay = append(anim.Delay, delay(duration(seq, i)))
		anim.Disposal = append(anim.Disposal, gif.DisposalNone)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}
	return buf.Bytes(), nil
}

// quantize converts f to a paletted image. A frame with at most 256 colors
// keeps them exactly; anything richer is dithered onto the Plan 9 palette.
func quantize(f render.Frame) *image.Paletted {
	bounds := image.Rect(0, 0, f.Width, f.Height)

	index := make(map[uint16]uint8, maxColors)
	for _, v := range f.Pix {
		if _, ok := index[v]; ok {
			continue
		}
		if len(index) == maxColors {
			pm := image.NewPaletted(bounds, palette.Plan9)
			draw.FloydSteinberg.Draw(pm, bounds, f.Image(), image.Point{})
			return pm
		}
		index[v] = 0
	}

	// sorted so equal frames always produce equal bytes
	colors := make([]uint16, 0, len(index))
	for v := range index {
		colors = append(colors, v)
	}
	slices.Sort(colors)
	pal := make(color.Palette, len(colors))
	for i, v := range colors {
		index[v] = uint8(i)
		pal[i] = render.Expand565(v)
	}

	pm := image.NewPaletted(bounds, pal)
	for i, v := range f.Pix {
		pm.Pix[i] = index[v]
	}
	return pm
}

func decodeGIF(data []byte) (render.FrameSequence, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return render.FrameSequence{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(g.Image) == 0 {
		return render.FrameSequence{}, fmt.Errorf("%w: no frames", ErrMalformed)
	}
	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Dx(), b.Dy()
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	seq := render.FrameSequence{
		Frames:    make([]render.Frame, 0, len(g.Image)),
		Durations: make([]time.Duration, 0, len(g.Image)),
	}
	for i, frame := range g.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)
		seq.Frames = append(seq.Frames, render.FrameFromImage(canvas, w, h))
		var d time.Duration
		if i < len(g.Delay) {
			d = time.Duration(g.Delay[i]) * delayUnit
		}
		seq.Durations = append(seq.Durations, d)
	}
	return seq, nil
}

func newPayload(kind Kind, w, h, n int, data []byte) Payload {
	return Payload{
		Kind:   kind,
		Width:  w,
		Height: h,
		Frames: n,
		Data:   data,
		Digest: digest(kind, data),
	}
}

func digest(kind Kind, data []byte) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte{byte(kind)})
	h.Write(data)
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

func appendPixels(dst []byte, f render.Frame) []byte {
	for _, v := range f.Pix {
		dst = binary.BigEndian.AppendUint16(dst, v)
	}
	return dst
}

func readPixels(data []byte, w, h int) render.Frame {
	f := render.NewFrame(w, h)
	for i := range f.Pix {
		f.Pix[i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return f
}

func duration(seq render.FrameSequence, i int) time.Duration {
	if i < len(seq.Durations) {
		return seq.Durations[i]
	}
	return 0
}

// delay converts d to GIF hundredths, rounding to the nearest unit.
func delay(d time.Duration) int {
	cs := int((d + delayUnit/2) / delayUnit)
	return min(max(cs, minDelay), maxDelay)
}
