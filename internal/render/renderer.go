// Package render turns telemetry snapshots and image assets into
// screen-sized RGB565 frame sequences.
package render

import (
	"image"
	"image/color"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"screensync/internal/aggregator"
	"screensync/internal/logging"
)

// Source is what a rendering pass draws: a Dashboard or an Asset.
type Source interface {
	describe() string
}

// Dashboard draws the telemetry snapshot.
type Dashboard struct {
	Snapshot aggregator.Snapshot
}

func (Dashboard) describe() string { return "dashboard" }

// Asset draws a still image or an animated GIF from disk.
type Asset struct {
	Path string
}

func (a Asset) describe() string { return "asset " + a.Path }

// Describe names a source for logs.
func Describe(s Source) string {
	if s == nil {
		return "none"
	}
	return s.describe()
}

// Options configure a Renderer.
type Options struct {
	Width  int
	Height int
	// AnimationWidth and AnimationHeight size animated assets, which the
	// screen stores at a different resolution than stills. Zero means
	// Width and Height.
	AnimationWidth  int
	AnimationHeight int
	// Location is the zone the dashboard clock is drawn in. Defaults to
	// time.Local.
	Location *time.Location
	// CacheSize bounds the number of decoded assets kept. Defaults to 4.
	CacheSize int
}

// Renderer is deterministic: the same source always yields the same
// frames. Decoded assets are cached by path, size and modification time.
type Renderer struct {
	width      int
	height     int
	animWidth  int
	animHeight int
	loc        *time.Location

	mu        sync.Mutex
	cache     map[assetKey]FrameSequence
	cacheSize int

	logger *logging.Logger
}

func New(opts Options) *Renderer {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4
	}
	if opts.AnimationWidth <= 0 || opts.AnimationHeight <= 0 {
		opts.AnimationWidth, opts.AnimationHeight = opts.Width, opts.Height
	}
	return &Renderer{
		width:      opts.Width,
		height:     opts.Height,
		animWidth:  opts.AnimationWidth,
		animHeight: opts.AnimationHeight,
		loc:        opts.Location,
		cache:      make(map[assetKey]FrameSequence),
		cacheSize:  opts.CacheSize,
		logger:     logging.GetLogger("render"),
	}
}

func (r *Renderer) Size() (int, int) {
	return r.width, r.height
}

// AnimationSize returns the frame size of animated assets.
func (r *Renderer) AnimationSize() (int, int) {
	return r.animWidth, r.animHeight
}

// Render draws src. On failure it returns a placeholder sequence together
// with the *Error, so callers always have something to show.
func (r *Renderer) Render(src Source) (FrameSequence, error) {
	switch s := src.(type) {
	case Dashboard:
		return r.dashboard(s.Snapshot), nil
	case Asset:
		seq, err := r.asset(s.Path)
		if err != nil {
			r.logger.Warn("Asset render failed, using placeholder", "path", s.Path, "error", err)
			return r.Placeholder("NO IMAGE"), err
		}
		return seq, nil
	default:
		return r.Placeholder("NO SOURCE"), &Error{Kind: UnsupportedAsset, Err: errUnknownSource}
	}
}

func (r *Renderer) canvas(bg color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: bg}, image.Point{}, draw.Src)
	return img
}
