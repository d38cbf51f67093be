package heuristic

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/example/mushroom-check/internal/analysis"
)

const (
	// Images are reduced to fit this square before statistics are taken.
	analysisMaxSide = 512
	// A pixel is an edge when its Sobel gradient magnitude exceeds this.
	edgeThreshold = 100.0
)

// ComputeFeatures derives the image statistics the scoring rule works on.
// Brightness is BT.601 luma in [0,255]; hue is in [0,180) and saturation and
// value in [0,255], matching 8-bit HSV conventions. Texture variance is the
// variance of a 4-neighbour Laplacian response.
func ComputeFeatures(img image.Image) analysis.Features {
	src := fitForAnalysis(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	n := float64(w * h)

	gray := make([]float64, w*h)
	var sumGray, sumGraySq, sumHue, sumSat, sumVal float64
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			l := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			gray[y*w+x] = l
			sumGray += l
			sumGraySq += l * l

			hue, sat, val := hsv(r, g, b)
			sumHue += hue
			sumSat += sat
			sumVal += val
		}
	}

	mean := sumGray / n
	return analysis.Features{
		BrightnessMean:     mean,
		BrightnessVariance: math.Max(sumGraySq/n-mean*mean, 0),
		HueMean:            sumHue / n,
		SaturationMean:     sumSat / n,
		ValueMean:          sumVal / n,
		EdgeDensity:        edgeDensity(gray, w, h),
		TextureVariance:    laplacianVariance(gray, w, h),
	}
}

func fitForAnalysis(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if b.Dx() > analysisMaxSide || b.Dy() > analysisMaxSide {
		return imaging.Fit(img, analysisMaxSide, analysisMaxSide, imaging.Box)
	}
	return imaging.Clone(img)
}

func hsv(r, g, b uint8) (float64, float64, float64) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	maxC := math.Max(rf, math.Max(gf, bf))
	minC := math.Min(rf, math.Min(gf, bf))
	delta := maxC - minC

	var sat float64
	if maxC > 0 {
		sat = 255 * delta / maxC
	}
	if delta == 0 {
		return 0, sat, maxC
	}

	var deg float64
	switch maxC {
	case rf:
		deg = 60 * (gf - bf) / delta
	case gf:
		deg = 120 + 60*(bf-rf)/delta
	default:
		deg = 240 + 60*(rf-gf)/delta
	}
	if deg < 0 {
		deg += 360
	}
	return deg / 2, sat, maxC
}

// at reads gray with replicated borders.
func at(gray []float64, w, h, x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= w {
		x = w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= h {
		y = h - 1
	}
	return gray[y*w+x]
}

func edgeDensity(gray []float64, w, h int) float64 {
	edges := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gx := at(gray, w, h, x+1, y-1) + 2*at(gray, w, h, x+1, y) + at(gray, w, h, x+1, y+1) -
				at(gray, w, h, x-1, y-1) - 2*at(gray, w, h, x-1, y) - at(gray, w, h, x-1, y+1)
			gy := at(gray, w, h, x-1, y+1) + 2*at(gray, w, h, x, y+1) + at(gray, w, h, x+1, y+1) -
				at(gray, w, h, x-1, y-1) - 2*at(gray, w, h, x, y-1) - at(gray, w, h, x+1, y-1)
			if math.Hypot(gx, gy) > edgeThreshold {
				edges++
			}
		}
	}
	return float64(edges) / float64(w*h)
}

func laplacianVariance(gray []float64, w, h int) float64 {
	var sum, sumSq float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := at(gray, w, h, x-1, y) + at(gray, w, h, x+1, y) +
				at(gray, w, h, x, y-1) + at(gray, w, h, x, y+1) - 4*gray[y*w+x]
			sum += v
			sumSq += v * v
		}
	}
	n := float64(w * h)
	mean := sum / n
	return math.Max(sumSq/n-mean*mean, 0)
}
