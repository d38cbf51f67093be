package analysis

import (
	"image"
	"image/color"
	"math"
)

// Method identifies which tier produced a Result.
type Method string

const (
	// MethodTrainedModel results come from the on-device models and carry the highest trust.
	MethodTrainedModel Method = "trained-model"
	// MethodHeuristic results are estimated from raw image statistics.
	MethodHeuristic Method = "heuristic"
	// MethodPlaceholder results are not derived from image content at all.
	MethodPlaceholder Method = "placeholder"
)

// Valid reports whether m is one of the known tier methods.
func (m Method) Valid() bool {
	switch m {
	case MethodTrainedModel, MethodHeuristic, MethodPlaceholder:
		return true
	}
	return false
}

// Unknown is the advisory text used when a species cannot be resolved.
const Unknown = "Unknown"

const (
	WarningNotEdible     = "This mushroom appears to be poisonous or inedible. Do not consume!"
	WarningSafetyNote    = "Always consult with expert mycologists before consuming wild mushrooms."
	WarningHeuristic     = "Trained models unavailable; result estimated from image statistics."
	WarningPlaceholder   = "Result is a placeholder and is not derived from image content."
	WarningRandomSpecies = "Species was selected at random and is not a real classification."
)

// ImageInfo describes the analysed image.
type ImageInfo struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	ColorMode string `json:"color_mode"`
}

// Features are the image statistics computed by the heuristic tier.
type Features struct {
	BrightnessMean     float64 `json:"brightness_mean"`
	BrightnessVariance float64 `json:"brightness_variance"`
	HueMean            float64 `json:"hue_mean"`
	SaturationMean     float64 `json:"saturation_mean"`
	ValueMean          float64 `json:"value_mean"`
	EdgeDensity        float64 `json:"edge_density"`
	TextureVariance    float64 `json:"texture_variance"`
	EdibleScore        float64 `json:"edible_score"`
}

// ModelDetails exposes the raw decoded outputs of the trained models.
type ModelDetails struct {
	PoisonousProbability float64   `json:"poisonous_probability"`
	EdibleProbability    float64   `json:"edible_probability"`
	SpeciesIndex         int       `json:"species_index"`
	SpeciesCandidate     string    `json:"species_candidate"`
	SpeciesProbabilities []float64 `json:"species_probabilities,omitempty"`
}

// Result is the canonical output of every tier. When Error is set all other
// fields are unreliable.
type Result struct {
	Edible              bool          `json:"edible"`
	EdibilityConfidence float64       `json:"edibility_confidence"`
	Species             string        `json:"species,omitempty"`
	SpeciesConfidence   float64       `json:"species_confidence"`
	Lifespan            string        `json:"lifespan"`
	Preservation        string        `json:"preservation"`
	AnalysisMethod      Method        `json:"analysis_method"`
	Warnings            []string      `json:"warnings"`
	ImageInfo           ImageInfo     `json:"image_info"`
	Features            *Features     `json:"features,omitempty"`
	ModelDetails        *ModelDetails `json:"model_details,omitempty"`
	Error               string        `json:"error,omitempty"`
}

// ErrorResult builds the unrecoverable-failure shape.
func ErrorResult(err error) *Result {
	return &Result{
		Lifespan:     Unknown,
		Preservation: Unknown,
		Warnings:     []string{},
		Error:        err.Error(),
	}
}

// AddWarning appends w unless it is already present.
func (r *Result) AddWarning(w string) {
	for _, existing := range r.Warnings {
		if existing == w {
			return
		}
	}
	r.Warnings = append(r.Warnings, w)
}

// Normalize enforces the invariants every returned result must satisfy:
// confidences within [0,100], species only for edible results, and the
// safety warnings for non-edible ones.
func (r *Result) Normalize() {
	r.EdibilityConfidence = ClampPercent(r.EdibilityConfidence)
	r.SpeciesConfidence = ClampPercent(r.SpeciesConfidence)
	if r.Warnings == nil {
		r.Warnings = []string{}
	}
	if !r.Edible {
		r.Species = ""
		r.SpeciesConfidence = 0
		r.Lifespan = Unknown
		r.Preservation = Unknown
		r.AddWarning(WarningNotEdible)
		r.AddWarning(WarningSafetyNote)
	}
	if r.Lifespan == "" {
		r.Lifespan = Unknown
	}
	if r.Preservation == "" {
		r.Preservation = Unknown
	}
}

// ClampPercent bounds v to [0,100]; NaN maps to 0.
func ClampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// DescribeImage reports the dimensions and colour mode of img.
func DescribeImage(img image.Image) ImageInfo {
	b := img.Bounds()
	return ImageInfo{Width: b.Dx(), Height: b.Dy(), ColorMode: ColorMode(img)}
}

// ColorMode names the colour model of img using PIL-style mode strings.
func ColorMode(img image.Image) string {
	switch img.(type) {
	case *image.Paletted:
		return "P"
	case *image.YCbCr:
		return "YCbCr"
	case *image.CMYK:
		return "CMYK"
	}
	switch img.ColorModel() {
	case color.GrayModel:
		return "L"
	case color.Gray16Model:
		return "I;16"
	case color.RGBAModel, color.NRGBAModel, color.RGBA64Model, color.NRGBA64Model:
		if opaque, ok := img.(interface{ Opaque() bool }); ok && opaque.Opaque() {
			return "RGB"
		}
		return "RGBA"
	case color.AlphaModel, color.Alpha16Model:
		return "LA"
	}
	return "RGB"
}
