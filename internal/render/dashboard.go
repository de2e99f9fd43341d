package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"screensync/internal/aggregator"
)

// Placeholder text for a field that cannot be shown as a live value.
const Degraded = "--"

var (
	colorBackground = color.RGBA{R: 8, G: 10, B: 18, A: 255}
	colorLabel      = color.RGBA{R: 120, G: 140, B: 170, A: 255}
	colorValue      = color.RGBA{R: 240, G: 240, B: 240, A: 255}
	colorDegraded   = color.RGBA{R: 200, G: 120, B: 40, A: 255}
	colorRule       = color.RGBA{R: 40, G: 48, B: 64, A: 255}
	colorWarm       = color.RGBA{R: 240, G: 200, B: 60, A: 255}
	colorHot        = color.RGBA{R: 240, G: 70, B: 60, A: 255}
)

const (
	margin     = 4
	glyphWidth = 7
)

// row baselines for the 7x13 face
var rows = [...]int{13, 32, 46, 60, 76, 90, 104}

func (r *Renderer) dashboard(s aggregator.Snapshot) FrameSequence {
	img := r.canvas(colorBackground)

	clock := Degraded
	if !s.At.IsZero() {
		clock = s.At.In(r.loc).Format("15:04")
	}
	r.centered(img, rows[0], clock, colorValue)
	draw.Draw(img, image.Rect(margin, 17, r.width-margin, 18), &image.Uniform{C: colorRule}, image.Point{}, draw.Src)

	r.labelled(img, rows[1], "CPU", temperature(s.CPUTemp))
	r.labelled(img, rows[2], "GPU", temperature(s.GPUTemp))
	r.labelled(img, rows[3], "NET", rate(s.DownloadRate))

	w := s.Weather
	if w.Usable() {
		r.text(img, margin, rows[4], fmt.Sprintf("%dC %s", round(w.Value.TempC), w.Value.Condition), colorValue)
		r.text(img, margin, rows[5], fmt.Sprintf("L%d H%d", round(w.Value.LowC), round(w.Value.HighC)), colorLabel)
	} else {
		r.text(img, margin, rows[4], "WX "+Degraded, colorDegraded)
	}

	place := Degraded
	placeColor := colorDegraded
	switch {
	case s.Location.Usable():
		place, placeColor = s.Location.Value.String(), colorLabel
	case w.Usable() && w.Value.Location != "":
		place, placeColor = w.Value.Location, colorLabel
	}
	r.text(img, margin, rows[6], place, placeColor)

	return Still(FrameFromImage(img, r.width, r.height))
}

type value struct {
	text  string
	color color.Color
}

func temperature(rd aggregator.Reading[float64]) value {
	if !rd.Usable() {
		return value{Degraded, colorDegraded}
	}
	c := color.Color(colorValue)
	switch {
	case rd.Value >= 80:
		c = colorHot
	case rd.Value >= 65:
		c = colorWarm
	}
	return value{fmt.Sprintf("%dC", round(rd.Value)), c}
}

func rate(rd aggregator.Reading[float64]) value {
	if !rd.Usable() {
		return value{Degraded, colorDegraded}
	}
	if rd.Value < 10 {
		return value{fmt.Sprintf("%.1fM", rd.Value), colorValue}
	}
	return value{fmt.Sprintf("%dM", round(rd.Value)), colorValue}
}

func round(v float64) int {
	return int(math.Round(v))
}

// labelled draws label on the left and v right-aligned.
func (r *Renderer) labelled(img *image.RGBA, y int, label string, v value) {
	r.text(img, margin, y, label, colorLabel)
	width := font.MeasureString(basicfont.Face7x13, v.text).Ceil()
	r.text(img, r.width-margin-width, y, v.text, v.color)
}

func (r *Renderer) centered(img *image.RGBA, y int, s string, c color.Color) {
	width := font.MeasureString(basicfont.Face7x13, s).Ceil()
	r.text(img, (r.width-width)/2, y, s, c)
}

// text draws s with its baseline at y, truncated to the screen width.
func (r *Renderer) text(img *image.RGBA, x, y int, s string, c color.Color) {
	if x < 0 {
		x = 0
	}
	if fit := (r.width - x) / glyphWidth; fit < utf8.RuneCountInString(s) {
		if fit <= 0 {
			return
		}
		s = string([]rune(s)[:fit])
	}
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(strings.ToUpper(s))
}
