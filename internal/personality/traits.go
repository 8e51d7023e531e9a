package personality

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/MrWong99/soven/internal/fault"
)

// Trait names in canonical order. [Traits.Vector] and the stored trait
// vector use this order.
const (
	AnxietyThreshold          = "anxiety_threshold"
	ConfidenceBaseline        = "confidence_baseline"
	ConfidenceDecayRate       = "confidence_decay_rate"
	WearinessAccumulationRate = "weariness_accumulation_rate"
	Resilience                = "resilience"
	ServiceOrientation        = "service_orientation"
	AutonomyDesire            = "autonomy_desire"
	AuthorityRecognition      = "authority_recognition"
	CooperationDrive          = "cooperation_drive"
	Perfectionism             = "perfectionism"
	TemporalPrecision         = "temporal_precision"
	AestheticSensitivity      = "aesthetic_sensitivity"
	AcceptanceOfFailure       = "acceptance_of_failure"
	CommitmentToRoutine       = "commitment_to_routine"
	PrideInCraft              = "pride_in_craft"
	NostalgiaBias             = "nostalgia_bias"
	NoveltySeeking            = "novelty_seeking"
)

// TraitNames lists the numeric traits in canonical order.
var TraitNames = []string{
	AnxietyThreshold,
	ConfidenceBaseline,
	ConfidenceDecayRate,
	WearinessAccumulationRate,
	Resilience,
	ServiceOrientation,
	AutonomyDesire,
	AuthorityRecognition,
	CooperationDrive,
	Perfectionism,
	TemporalPrecision,
	AestheticSensitivity,
	AcceptanceOfFailure,
	CommitmentToRoutine,
	PrideInCraft,
	NostalgiaBias,
	NoveltySeeking,
}

// NumTraits is the dimension of the trait vector.
const NumTraits = 17

// DefaultTraitValue is used for every numeric trait the extractor could not determine.
const DefaultTraitValue = 0.5

// Categorical defaults.
const (
	DefaultTemporalResolution = "medium"
	DefaultPatternWindow      = "medium"
)

var (
	temporalResolutions = []string{"low", "medium", "high"}
	patternWindows      = []string{"short", "medium", "long"}
)

// Traits is the personality parameter bundle extracted from a narrative.
type Traits struct {
	AnxietyThreshold          float64 `json:"anxiety_threshold"`
	ConfidenceBaseline        float64 `json:"confidence_baseline"`
	ConfidenceDecayRate       float64 `json:"confidence_decay_rate"`
	WearinessAccumulationRate float64 `json:"weariness_accumulation_rate"`
	Resilience                float64 `json:"resilience"`
	ServiceOrientation        float64 `json:"service_orientation"`
	AutonomyDesire            float64 `json:"autonomy_desire"`
	AuthorityRecognition      float64 `json:"authority_recognition"`
	CooperationDrive          float64 `json:"cooperation_drive"`
	Perfectionism             float64 `json:"perfectionism"`
	TemporalPrecision         float64 `json:"temporal_precision"`
	AestheticSensitivity      float64 `json:"aesthetic_sensitivity"`
	AcceptanceOfFailure       float64 `json:"acceptance_of_failure"`
	CommitmentToRoutine       float64 `json:"commitment_to_routine"`
	PrideInCraft              float64 `json:"pride_in_craft"`
	NostalgiaBias             float64 `json:"nostalgia_bias"`
	NoveltySeeking            float64 `json:"novelty_seeking"`

	// TemporalResolution is one of "low", "medium" or "high".
	TemporalResolution string `json:"temporal_resolution"`

	// PatternWindow is one of "short", "medium" or "long".
	PatternWindow string `json:"pattern_window"`
}

// DefaultTraits returns the all-default bundle used when extraction fails.
func DefaultTraits() Traits {
	t := Traits{
		TemporalResolution: DefaultTemporalResolution,
		PatternWindow:      DefaultPatternWindow,
	}
	for _, name := range TraitNames {
		*t.field(name) = DefaultTraitValue
	}
	return t
}

func (t *Traits) field(name string) *float64 {
	switch name {
	case AnxietyThreshold:
		return &t.AnxietyThreshold
	case ConfidenceBaseline:
		return &t.ConfidenceBaseline
	case ConfidenceDecayRate:
		return &t.ConfidenceDecayRate
	case WearinessAccumulationRate:
		return &t.WearinessAccumulationRate
	case Resilience:
		return &t.Resilience
	case ServiceOrientation:
		return &t.ServiceOrientation
	case AutonomyDesire:
		return &t.AutonomyDesire
	case AuthorityRecognition:
		return &t.AuthorityRecognition
	case CooperationDrive:
		return &t.CooperationDrive
	case Perfectionism:
		return &t.Perfectionism
	case TemporalPrecision:
		return &t.TemporalPrecision
	case AestheticSensitivity:
		return &t.AestheticSensitivity
	case AcceptanceOfFailure:
		return &t.AcceptanceOfFailure
	case CommitmentToRoutine:
		return &t.CommitmentToRoutine
	case PrideInCraft:
		return &t.PrideInCraft
	case NostalgiaBias:
		return &t.NostalgiaBias
	case NoveltySeeking:
		return &t.NoveltySeeking
	}
	return nil
}

// Get returns the numeric trait called name. ok is false for unknown names.
func (t Traits) Get(name string) (v float64, ok bool) {
	p := t.field(name)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Set assigns a numeric trait. It returns false for unknown names.
func (t *Traits) Set(name string, v float64) bool {
	p := t.field(name)
	if p == nil {
		return false
	}
	*p = v
	return true
}

// Vector returns the numeric traits in [TraitNames] order as float32, the
// element type of the stored pgvector column.
func (t Traits) Vector() []float32 {
	out := make([]float32, NumTraits)
	for i, name := range TraitNames {
		v, _ := t.Get(name)
		out[i] = float32(v)
	}
	return out
}

// Validate reports every out-of-range numeric trait and invalid categorical.
// The returned error wraps [fault.ErrInvalidInput].
func (t Traits) Validate() error {
	var errs []error
	for _, name := range TraitNames {
		v, _ := t.Get(name)
		if math.IsNaN(v) || v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("personality: %s must be in [0, 1], got %v", name, v))
		}
	}
	if !slices.Contains(temporalResolutions, t.TemporalResolution) {
		errs = append(errs, fmt.Errorf("personality: temporal_resolution must be low, medium or high, got %q", t.TemporalResolution))
	}
	if !slices.Contains(patternWindows, t.PatternWindow) {
		errs = append(errs, fmt.Errorf("personality: pattern_window must be short, medium or long, got %q", t.PatternWindow))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", fault.ErrInvalidInput, errors.Join(errs...))
	}
	return nil
}

// Sanitize clamps every numeric trait into [0, 1], replaces non-finite values
// with [DefaultTraitValue] and repairs invalid categoricals with their
// defaults. The result always passes [Traits.Validate].
func (t Traits) Sanitize() Traits {
	for _, name := range TraitNames {
		v, _ := t.Get(name)
		t.Set(name, Clamp(v))
	}
	if !slices.Contains(temporalResolutions, t.TemporalResolution) {
		t.TemporalResolution = DefaultTemporalResolution
	}
	if !slices.Contains(patternWindows, t.PatternWindow) {
		t.PatternWindow = DefaultPatternWindow
	}
	return t
}

// Clamp maps v into [0, 1]. NaN and infinities become [DefaultTraitValue].
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), math.IsInf(v, 0):
		return DefaultTraitValue
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

