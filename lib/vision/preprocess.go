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

package vision

import (
	"image"
	"image/color"
	stddraw "image/draw"

	xdraw "golang.org/x/image/draw"
)

// letterbox describes how an input image was scaled and padded into the
// square model input, so detections can be mapped back to source pixels.
type letterbox struct {
	scale      float32
	padX, padY int
	srcW, srcH int
}

// letterboxImage scales img into a size x size canvas preserving aspect ratio,
// padding the remainder with the conventional YOLO gray (114,114,114).
func letterboxImage(img image.Image, size int) (*image.RGBA, letterbox) {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()

	scale := float32(size) / float32(srcW)
	if s := float32(size) / float32(srcH); s < scale {
		scale = s
	}
	scaledW := int(float32(srcW) * scale)
	scaledH := int(float32(srcH) * scale)
	padX := (size - scaledW) / 2
	padY := (size - scaledH) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	stddraw.Draw(canvas, canvas.Bounds(),
		image.NewUniform(color.RGBA{R: 114, G: 114, B: 114, A: 255}),
		image.Point{}, stddraw.Src)

	dst := image.Rect(padX, padY, padX+scaledW, padY+scaledH)
	xdraw.ApproxBiLinear.Scale(canvas, dst, img, b, xdraw.Over, nil)

	return canvas, letterbox{
		scale: scale,
		padX:  padX,
		padY:  padY,
		srcW:  srcW,
		srcH:  srcH,
	}
}

// imageToTensor converts an RGBA canvas into a normalized NCHW float32 tensor
// of shape [1, 3, size, size].
func imageToTensor(canvas *image.RGBA, size int) []float32 {
	data := make([]float32, 3*size*size)
	plane := size * size
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			px := row[x*4:]
			idx := y*size + x
			data[idx] = float32(px[0]) / 255.0
			data[plane+idx] = float32(px[1]) / 255.0
			data[2*plane+idx] = float32(px[2]) / 255.0
		}
	}
	return data
}

// toSource maps a box from model-input coordinates back to source-image
// pixels, clamping to the image bounds.
func (lb letterbox) toSource(x1, y1, x2, y2 float32) Box {
	mapX := func(v float32) int {
		return clamp(int((v-float32(lb.padX))/lb.scale), 0, lb.srcW)
	}
	mapY := func(v float32) int {
		return clamp(int((v-float32(lb.padY))/lb.scale), 0, lb.srcH)
	}
	return Box{XMin: mapX(x1), YMin: mapY(y1), XMax: mapX(x2), YMax: mapY(y2)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
