package chart

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"slices"
)

const (
	pngWidth   = 800
	pngHeight  = 480
	pngPadding = 40
)

var (
	pngBackground = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	pngAxis       = color.RGBA{R: 80, G: 80, B: 80, A: 255}
	pngBar        = color.RGBA{R: 68, G: 114, B: 196, A: 255}
)

// renderPNG draws a bar chart of the first numeric column and returns it as
// a data URI.
func renderPNG(f frame) (string, error) {
	if len(f.columns) == 0 {
		return "", errors.New("no columns to plot")
	}
	column, err := f.valueColumn(f.categoryColumn())
	if err != nil {
		return "", err
	}
	values := f.floats(column)

	peak := 0.0
	for _, value := range values {
		peak = math.Max(peak, math.Abs(value))
	}
	if peak == 0 || math.IsInf(peak, 0) || math.IsNaN(peak) {
		return "", fmt.Errorf("column %q has no plottable values", column)
	}

	img := image.NewRGBA(image.Rect(0, 0, pngWidth, pngHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: pngBackground}, image.Point{}, draw.Src)

	baseline := pngHeight - pngPadding
	if slices.ContainsFunc(values, func(v float64) bool { return v < 0 }) {
		baseline = pngHeight / 2
	}
	plotHeight := float64(baseline - pngPadding)
	slot := float64(pngWidth-2*pngPadding) / float64(len(values))
	barWidth := int(math.Max(1, slot*0.7))
	for i, value := range values {
		left := pngPadding + int(float64(i)*slot+(slot-float64(barWidth))/2)
		height := int(math.Abs(value) / peak * plotHeight)
		rect := image.Rect(left, baseline-height, left+barWidth, baseline)
		if value < 0 {
			rect = image.Rect(left, baseline, left+barWidth, baseline+height)
		}
		draw.Draw(img, rect, &image.Uniform{C: pngBar}, image.Point{}, draw.Src)
	}
	draw.Draw(img, image.Rect(pngPadding, baseline, pngWidth-pngPadding, baseline+1), &image.Uniform{C: pngAxis}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(pngPadding, pngPadding, pngPadding+1, pngHeight-pngPadding), &image.Uniform{C: pngAxis}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
