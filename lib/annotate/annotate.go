// Copyright 2025 OpenVision Lab
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package annotate renders detection boxes and labels onto images.
package annotate

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/openvisionlab/visiond/lib/vision"
)

const (
	boxThickness = 2
	jpegQuality  = 85
)

// palette cycles per class so distinct labels get distinct box colors.
var palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 61, G: 219, B: 134, A: 255},
	{R: 52, G: 147, B: 235, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 146, G: 204, B: 23, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
}

// Draw returns a copy of img with each detection's bounding box and label
// drawn on it. The output always has the same dimensions as the input.
func Draw(img image.Image, detections []vision.Detection) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)

	colorIdx := make(map[string]int)
	for _, det := range detections {
		idx, ok := colorIdx[det.Name]
		if !ok {
			idx = len(colorIdx) % len(palette)
			colorIdx[det.Name] = idx
		}
		c := palette[idx]
		drawRect(out, det.Box, c)
		drawLabel(out, det, c)
	}
	return out
}

// EncodeJPEG encodes an image as JPEG bytes.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRect(img *image.RGBA, box vision.Box, c color.RGBA) {
	for t := 0; t < boxThickness; t++ {
		hline(img, box.XMin, box.XMax, box.YMin+t, c)
		hline(img, box.XMin, box.XMax, box.YMax-t, c)
		vline(img, box.XMin+t, box.YMin, box.YMax, c)
		vline(img, box.XMax-t, box.YMin, box.YMax, c)
	}
}

func hline(img *image.RGBA, x1, x2, y int, c color.RGBA) {
	if y < img.Bounds().Min.Y || y >= img.Bounds().Max.Y {
		return
	}
	for x := x1; x <= x2; x++ {
		if x >= img.Bounds().Min.X && x < img.Bounds().Max.X {
			img.SetRGBA(x, y, c)
		}
	}
}

func vline(img *image.RGBA, x, y1, y2 int, c color.RGBA) {
	if x < img.Bounds().Min.X || x >= img.Bounds().Max.X {
		return
	}
	for y := y1; y <= y2; y++ {
		if y >= img.Bounds().Min.Y && y < img.Bounds().Max.Y {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawLabel paints "name 0.87" on a filled background just above the box,
// or inside it when the box touches the top edge.
func drawLabel(img *image.RGBA, det vision.Detection, c color.RGBA) {
	text := fmt.Sprintf("%s %.2f", det.Name, det.Confidence)
	face := basicfont.Face7x13

	textW := font.MeasureString(face, text).Ceil()
	textH := face.Metrics().Height.Ceil()

	x := det.Box.XMin
	y := det.Box.YMin - textH
	if y < 0 {
		y = det.Box.YMin
	}

	bg := image.Rect(x, y, x+textW+4, y+textH+2)
	draw.Draw(img, bg.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{A: 255}),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(x + 2),
			Y: fixed.I(y + face.Metrics().Ascent.Ceil()),
		},
	}
	d.DrawString(text)
}
