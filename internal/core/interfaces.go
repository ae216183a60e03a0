// Package core defines the core types and interfaces shared by the gateway packages.
package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SynthesisConfig holds the validated generation parameters for one request.
// Values are only ever produced by the validate package and are treated as
// immutable afterwards.
type SynthesisConfig struct {
	LanguageID        string
	Exaggeration      float64
	Temperature       float64
	CFGWeight         float64
	RepetitionPenalty float64
	MinP              float64
	TopP              float64
}

// PartialConfig is the client-supplied subset of a SynthesisConfig. A nil
// field means "use the default".
type PartialConfig struct {
	LanguageID        *string  `json:"language_id,omitempty"`
	Exaggeration      *float64 `json:"exaggeration,omitempty"`
	Temperature       *float64 `json:"temperature,omitempty"`
	CFGWeight         *float64 `json:"cfg_weight,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`
	MinP              *float64 `json:"min_p,omitempty"`
	TopP              *float64 `json:"top_p,omitempty"`
}

// SynthesisRequest is a validated request ready for the gateway.
type SynthesisRequest struct {
	Text           string
	ReferenceAudio []byte
	Config         SynthesisConfig
}

// SynthesisStatus tags the shape of a SynthesisResult.
type SynthesisStatus string

// Result statuses.
const (
	StatusSuccess SynthesisStatus = "success"
	StatusError   SynthesisStatus = "error"
)

// SynthesisResult is either a success carrying a WAV container or an error
// carrying a message, never both.
type SynthesisResult struct {
	Status     SynthesisStatus
	Audio      []byte
	SampleRate int
	Language   string
	Message    string
}

// Succeeded reports whether the result carries audio.
func (r SynthesisResult) Succeeded() bool {
	return r.Status == StatusSuccess
}

// GenerateParams bundles every argument of a single model call.
type GenerateParams struct {
	Text              string
	LanguageID        string
	AudioPromptPath   string
	Exaggeration      float64
	Temperature       float64
	CFGWeight         float64
	RepetitionPenalty float64
	MinP              float64
	TopP              float64
}

// Model is the external speech-synthesis collaborator. Implementations must be
// safe for concurrent read-only inference.
type Model interface {
	Generate(ctx context.Context, params GenerateParams) ([]float32, error)
	SampleRate() int
	Close() error
}
