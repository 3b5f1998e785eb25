package widget

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"server/internal/domain"
)

// placeholderPalette picks a backdrop per category so the placeholder is not
// a flat grey box even before generation finishes.
var placeholderPalette = map[domain.WeatherCategory]color.RGBA{
	domain.CategoryClear:        {R: 0x87, G: 0xCE, B: 0xEB, A: 0xFF},
	domain.CategoryClouds:       {R: 0x9A, G: 0xA5, B: 0xB1, A: 0xFF},
	domain.CategoryRain:         {R: 0x4A, G: 0x5D, B: 0x73, A: 0xFF},
	domain.CategoryDrizzle:      {R: 0x6B, G: 0x7C, B: 0x8F, A: 0xFF},
	domain.CategoryThunderstorm: {R: 0x2F, G: 0x34, B: 0x42, A: 0xFF},
	domain.CategorySnow:         {R: 0xE8, G: 0xEE, B: 0xF4, A: 0xFF},
	domain.CategoryMist:         {R: 0xB8, G: 0xBE, B: 0xC4, A: 0xFF},
}

// placeholderPNG renders the tier-4 artifact: a solid weather-tinted square.
// Deterministic so repeated polls are byte-identical.
func placeholderPNG(city string, w *domain.WeatherSnapshot) []byte {
	backdrop, ok := placeholderPalette[w.Category]
	if !ok {
		backdrop = color.RGBA{R: 0x6E, G: 0x78, B: 0x82, A: 0xFF}
	}
	if !w.IsDay {
		backdrop = color.RGBA{R: backdrop.R / 2, G: backdrop.G / 2, B: backdrop.B / 2, A: 0xFF}
	}

	img := image.NewRGBA(image.Rect(0, 0, 480, 480))
	draw.Draw(img, img.Bounds(), &image.Uniform{backdrop}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
