package render

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screensync/internal/aggregator"
	"screensync/internal/provider"
)

func newTestRenderer() *Renderer {
	return New(Options{Width: 110, Height: 110, Location: time.UTC})
}

func snapshot() aggregator.Snapshot {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	return aggregator.Snapshot{
		At:           at,
		CPUTemp:      aggregator.Reading[float64]{Value: 54.4, At: at, State: aggregator.Fresh},
		GPUTemp:      aggregator.Reading[float64]{Value: 71, At: at, State: aggregator.Aging},
		DownloadRate: aggregator.Reading[float64]{Value: 2.35, At: at, State: aggregator.Fresh},
		Weather: aggregator.Reading[provider.Weather]{
			Value: provider.Weather{Condition: provider.ConditionRain, TempC: 12.4, LowC: 8, HighC: 15},
			At:    at, State: aggregator.Fresh,
		},
		Location: aggregator.Reading[provider.Location]{
			Value: provider.Location{City: "Berlin"},
			At:    at, State: aggregator.Fresh,
		},
	}
}

func TestDashboardDeterministic(t *testing.T) {
	r := newTestRenderer()
	a, err := r.Render(Dashboard{Snapshot: snapshot()})
	require.NoError(t, err)
	b, err := newTestRenderer().Render(Dashboard{Snapshot: snapshot()})
	require.NoError(t, err)

	require.Equal(t, 1, a.Len())
	assert.NoError(t, a.Frames[0].Check(110, 110))
	assert.Equal(t, a, b)
}

func TestDashboardDegradesStaleField(t *testing.T) {
	r := newTestRenderer()

	stale := snapshot()
	stale.CPUTemp.State = aggregator.Stale
	stale.CPUTemp.Value = 99

	missing := snapshot()
	missing.CPUTemp = aggregator.Reading[float64]{State: aggregator.Missing}

	fresh, _ := r.Render(Dashboard{Snapshot: snapshot()})
	s, _ := r.Render(Dashboard{Snapshot: stale})
	m, _ := r.Render(Dashboard{Snapshot: missing})

	// a stale value is drawn exactly like a never observed one
	assert.Equal(t, m, s)
	assert.NotEqual(t, fresh, s)

	disabled := snapshot()
	disabled.CPUTemp.State = aggregator.Disabled
	d, _ := r.Render(Dashboard{Snapshot: disabled})
	assert.Equal(t, m, d)
}

func TestDashboardEmptySnapshot(t *testing.T) {
	seq, err := newTestRenderer().Render(Dashboard{})
	require.NoError(t, err)
	assert.NoError(t, seq.Frames[0].Check(110, 110))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{R: 255, A: 255}
			if x >= w/2 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestStillAssetCropsAndScales(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wide.png")
	writePNG(t, path, 400, 200)

	r := newTestRenderer()
	seq, err := r.Render(Asset{Path: path})
	require.NoError(t, err)
	require.Equal(t, 1, seq.Len())

	f := seq.Frames[0]
	require.NoError(t, f.Check(110, 110))
	left := Expand565(f.At(5, 55))
	right := Expand565(f.At(104, 55))
	assert.Greater(t, left.R, uint8(200))
	assert.Greater(t, right.B, uint8(200))
}

func TestAnimatedGIF(t *testing.T) {
	pal := color.Palette{color.Black, color.White, color.RGBA{G: 255, A: 255}}
	g := &gif.GIF{Config: image.Config{Width: 20, Height: 20, ColorModel: pal}}
	for i := 0; i < 3; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 20, 20), pal)
		for j := range frame.Pix {
			frame.Pix[j] = uint8(i)
		}
		g.Image = append(g.Image, frame)
		g.Disposal = append(g.Disposal, gif.DisposalNone)
	}
	g.Delay = []int{0, 1, 5}

	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	path := filepath.Join(t.TempDir(), "anim.gif")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))

	seq, err := newTestRenderer().Render(Asset{Path: path})
	require.NoError(t, err)
	require.Equal(t, 3, seq.Len())
	assert.True(t, seq.Animated())
	assert.Equal(t, []time.Duration{DefaultFrameDelay, MinFrameDelay, 50 * time.Millisecond}, seq.Durations)

	for _, f := range seq.Frames {
		require.NoError(t, f.Check(110, 110))
	}
	assert.Equal(t, uint16(0x0000), seq.Frames[0].At(50, 50))
	assert.Equal(t, uint16(0xffff), seq.Frames[1].At(50, 50))
	assert.Equal(t, uint16(0x07e0), seq.Frames[2].At(50, 50))
}

func TestAnimationRenderedAtAnimationSize(t *testing.T) {
	pal := color.Palette{color.Black, color.White}
	g := &gif.GIF{Config: image.Config{Width: 30, Height: 30, ColorModel: pal}}
	for i := 0; i < 2; i++ {
		frame := image.NewPaletted(image.Rect(0, 0, 30, 30), pal)
		for j := range frame.Pix {
			frame.Pix[j] = uint8(i)
		}
		g.Image = append(g.Image, frame)
		g.Delay = append(g.Delay, 10)
	}
	var buf bytes.Buffer
	require.NoError(t, gif.EncodeAll(&buf, g))
	dir := t.TempDir()
	anim := filepath.Join(dir, "anim.gif")
	require.NoError(t, os.WriteFile(anim, buf.Bytes(), 0644))
	still := filepath.Join(dir, "still.png")
	writePNG(t, still, 40, 40)

	r := New(Options{Width: 110, Height: 110, AnimationWidth: 111, AnimationHeight: 111, Location: time.UTC})
	w, h := r.AnimationSize()
	assert.Equal(t, [2]int{111, 111}, [2]int{w, h})

	seq, err := r.Render(Asset{Path: anim})
	require.NoError(t, err)
	require.Equal(t, 2, seq.Len())
	for _, f := range seq.Frames {
		require.NoError(t, f.Check(111, 111))
	}
	assert.Equal(t, uint16(0xffff), seq.Frames[1].At(55, 55))

	// stills and placeholders keep the still size
	seq, err = r.Render(Asset{Path: still})
	require.NoError(t, err)
	assert.NoError(t, seq.Frames[0].Check(110, 110))
	assert.NoError(t, r.Placeholder("x").Frames[0].Check(110, 110))

	// without an animation size both kinds share one
	w, h = newTestRenderer().AnimationSize()
	assert.Equal(t, [2]int{110, 110}, [2]int{w, h})
}

func TestUnsupportedAssetFallsBack(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "broken.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("definitely not an image"), 0644))

	r := newTestRenderer()
	for _, path := range []string{corrupt, filepath.Join(dir, "absent.png"), ""} {
		seq, err := r.Render(Asset{Path: path})
		require.Error(t, err, path)
		assert.True(t, IsKind(err, UnsupportedAsset), path)
		require.Equal(t, 1, seq.Len())
		assert.NoError(t, seq.Frames[0].Check(110, 110))
		assert.Equal(t, r.Placeholder("NO IMAGE"), seq)
	}
}

func TestAssetCacheInvalidatesOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.png")
	writePNG(t, path, 50, 50)

	r := newTestRenderer()
	first, err := r.Render(Asset{Path: path})
	require.NoError(t, err)
	again, err := r.Render(Asset{Path: path})
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Len(t, r.cache, 1)

	writePNG(t, path, 60, 20)
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	_, err = r.Render(Asset{Path: path})
	require.NoError(t, err)
	assert.Len(t, r.cache, 1, "stale entry for the same path is replaced")
}

func TestFrameImageRoundTrip(t *testing.T) {
	f := NewFrame(3, 2)
	f.Set(1, 1, Pack565(color.RGBA{R: 255, G: 255, A: 255}))
	img := f.Image()
	assert.Equal(t, f, FrameFromImage(img, 3, 2))
	assert.Equal(t, color.RGBA{R: 255, G: 255, A: 255}, img.RGBAAt(1, 1))
}

func TestFrameCheck(t *testing.T) {
	assert.NoError(t, NewFrame(4, 4).Check(4, 4))
	assert.True(t, IsKind(NewFrame(4, 5).Check(4, 4), DimensionMismatch))
	assert.True(t, IsKind(Frame{Width: 4, Height: 4}.Check(4, 4), DimensionMismatch))
}
