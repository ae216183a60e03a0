// Package validate normalizes and bounds-checks synthesis requests before they
// reach the model.
package validate

import (
	"strings"
	"unicode/utf8"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
)

// DefaultMaxChars is the text length beyond which requests are truncated.
const DefaultMaxChars = 500

// Parameter names as they appear on the wire.
const (
	FieldExaggeration      = "exaggeration"
	FieldTemperature       = "temperature"
	FieldCFGWeight         = "cfg_weight"
	FieldRepetitionPenalty = "repetition_penalty"
	FieldMinP              = "min_p"
	FieldTopP              = "top_p"
)

// Range is an inclusive numeric bound.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether value lies within the range, bounds included.
func (r Range) Contains(value float64) bool {
	return value >= r.Min && value <= r.Max
}

// Ranges lists the inclusive bounds of every numeric parameter.
var Ranges = map[string]Range{
	FieldExaggeration:      {Min: 0.25, Max: 2.0},
	FieldTemperature:       {Min: 0.05, Max: 5.0},
	FieldCFGWeight:         {Min: 0.0, Max: 1.0},
	FieldRepetitionPenalty: {Min: 1.0, Max: 3.0},
	FieldMinP:              {Min: 0.0, Max: 1.0},
	FieldTopP:              {Min: 0.0, Max: 1.0},
}

// Defaults returns the configuration used for every field a client omits.
func Defaults() core.SynthesisConfig {
	return core.SynthesisConfig{
		LanguageID:        DefaultLanguage,
		Exaggeration:      0.5,
		Temperature:       0.8,
		CFGWeight:         0.5,
		RepetitionPenalty: 2.0,
		MinP:              0.05,
		TopP:              1.0,
	}
}

// Options tune text handling.
type Options struct {
	MaxChars  int
	Normalize bool
}

// Validator turns client input into validated request parts.
type Validator struct {
	maxChars   int
	normalizer *Normalizer
	log        *logger.Logger
}

// New creates a Validator. A non-positive MaxChars selects DefaultMaxChars.
func New(opts Options, log *logger.Logger) *Validator {
	maxChars := opts.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	var normalizer *Normalizer
	if opts.Normalize {
		normalizer = NewNormalizer()
	}

	return &Validator{
		maxChars:   maxChars,
		normalizer: normalizer,
		log:        log,
	}
}

// Text checks that raw is present and non-blank and truncates it to the
// configured number of characters.
func (v *Validator) Text(raw *string) (string, error) {
	if raw == nil {
		return "", ErrMissingText
	}

	text := *raw
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyText
	}

	if v.normalizer != nil {
		text = v.normalizer.Normalize(text)
	}

	if utf8.RuneCountInString(text) > v.maxChars {
		text = string([]rune(text)[:v.maxChars])
		v.log.Warn("Text truncated to %d characters", v.maxChars)
	}

	return text, nil
}

// Config overlays the fields present in partial onto Defaults, rejecting
// unsupported languages and out-of-range values.
func (v *Validator) Config(partial core.PartialConfig) (core.SynthesisConfig, error) {
	cfg := Defaults()

	if partial.LanguageID != nil {
		language := strings.ToLower(*partial.LanguageID)
		if !IsSupported(language) {
			return core.SynthesisConfig{}, &UnsupportedLanguageError{
				Language:  language,
				Supported: LanguageIDs(),
			}
		}

		cfg.LanguageID = language
	}

	overlays := []struct {
		field  string
		value  *float64
		target *float64
	}{
		{FieldExaggeration, partial.Exaggeration, &cfg.Exaggeration},
		{FieldTemperature, partial.Temperature, &cfg.Temperature},
		{FieldCFGWeight, partial.CFGWeight, &cfg.CFGWeight},
		{FieldRepetitionPenalty, partial.RepetitionPenalty, &cfg.RepetitionPenalty},
		{FieldMinP, partial.MinP, &cfg.MinP},
		{FieldTopP, partial.TopP, &cfg.TopP},
	}

	for _, overlay := range overlays {
		if overlay.value == nil {
			continue
		}

		bounds := Ranges[overlay.field]
		if !bounds.Contains(*overlay.value) {
			return core.SynthesisConfig{}, &OutOfRangeError{
				Field: overlay.field,
				Value: *overlay.value,
				Min:   bounds.Min,
				Max:   bounds.Max,
			}
		}

		*overlay.target = *overlay.value
	}

	return cfg, nil
}
