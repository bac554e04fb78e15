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

import "sort"

// candidate is a raw detection in model-input coordinates, before NMS.
type candidate struct {
	class      int
	confidence float32
	x1, y1     float32
	x2, y2     float32
}

// decodeOutput parses a YOLOv8-style output tensor of shape
// [4+numClasses, numAnchors] (row-major) into thresholded candidates.
// Each anchor column holds cx, cy, w, h followed by per-class scores.
func decodeOutput(raw []float32, numClasses, numAnchors int, confThreshold float32) []candidate {
	var out []candidate
	for a := 0; a < numAnchors; a++ {
		best := -1
		var bestScore float32
		for c := 0; c < numClasses; c++ {
			score := raw[(4+c)*numAnchors+a]
			if score > bestScore {
				bestScore = score
				best = c
			}
		}
		if best < 0 || bestScore < confThreshold {
			continue
		}
		cx := raw[0*numAnchors+a]
		cy := raw[1*numAnchors+a]
		w := raw[2*numAnchors+a]
		h := raw[3*numAnchors+a]
		out = append(out, candidate{
			class:      best,
			confidence: bestScore,
			x1:         cx - w/2,
			y1:         cy - h/2,
			x2:         cx + w/2,
			y2:         cy + h/2,
		})
	}
	return out
}

// nonMaxSuppression keeps the highest-confidence candidate of each cluster of
// same-class boxes whose IoU exceeds iouThreshold. The result is ordered by
// descending confidence.
func nonMaxSuppression(cands []candidate, iouThreshold float32) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].confidence > cands[j].confidence
	})

	var kept []candidate
	suppressed := make([]bool, len(cands))
	for i := range cands {
		if suppressed[i] {
			continue
		}
		kept = append(kept, cands[i])
		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].class != cands[i].class {
				continue
			}
			if iou(cands[i], cands[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b candidate) float32 {
	ix1 := max32(a.x1, b.x1)
	iy1 := max32(a.y1, b.y1)
	ix2 := min32(a.x2, b.x2)
	iy2 := min32(a.y2, b.y2)

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	areaA := (a.x2 - a.x1) * (a.y2 - a.y1)
	areaB := (b.x2 - b.x1) * (b.y2 - b.y1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
