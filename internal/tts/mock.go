package tts

import (
	"context"
	"math"
	"unicode/utf8"

	"github.com/book-expert/tts-gateway/internal/core"
)

const (
	stubToneHz          = 220.0
	stubAmplitude       = 0.3
	stubSecondsPerRune  = 0.06
	stubMinimumDuration = 0.25
)

// StubModel produces a deterministic tone whose length follows the text. It
// lets the gateway run end to end without an inference backend.
type StubModel struct {
	sampleRate int
}

// NewStubModel creates a stub backend.
func NewStubModel(sampleRate int) *StubModel {
	return &StubModel{sampleRate: sampleRate}
}

// SampleRate returns the sample rate of generated audio.
func (m *StubModel) SampleRate() int {
	return m.sampleRate
}

// Close is a no-op.
func (m *StubModel) Close() error {
	return nil
}

// Generate returns a tone; reference audio and sampling parameters only
// affect the amplitude through exaggeration.
func (m *StubModel) Generate(ctx context.Context, params core.GenerateParams) ([]float32, error) {
	if params.Text == "" {
		return nil, ErrTextEmpty
	}

	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	seconds := math.Max(stubMinimumDuration, float64(utf8.RuneCountInString(params.Text))*stubSecondsPerRune)
	count := int(seconds * float64(m.sampleRate))
	amplitude := math.Min(1, stubAmplitude*math.Max(params.Exaggeration, 0.25)*2)

	samples := make([]float32, count)
	for index := range samples {
		phase := 2 * math.Pi * stubToneHz * float64(index) / float64(m.sampleRate)
		samples[index] = float32(amplitude * math.Sin(phase))
	}

	return samples, nil
}
