// Package gateway bridges validated synthesis requests to the shared model.
// It owns the reference-audio artifact for the duration of one model call and
// converts every model failure into an error result.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/codec"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/inference"
	"github.com/book-expert/tts-gateway/internal/ttsutils"
)

const (
	successMessageFormat = "Generated audio for '%s' text"
	logPreviewRunes      = 50
)

// ErrNoAudio is reported when the model returns no samples.
var ErrNoAudio = errors.New("model returned no audio")

// ModelProvider hands out the shared model.
type ModelProvider interface {
	Model() (core.Model, error)
}

// Gateway runs synthesis requests against the shared model.
type Gateway struct {
	models  ModelProvider
	pool    *inference.Pool
	tempDir string
	log     *logger.Logger
}

// New creates a Gateway. Reference artifacts are written to tempDir, or to the
// system temp directory when it is empty.
func New(models ModelProvider, pool *inference.Pool, tempDir string, log *logger.Logger) *Gateway {
	return &Gateway{
		models:  models,
		pool:    pool,
		tempDir: tempDir,
		log:     log,
	}
}

// Synthesize performs one model call. The returned result always has exactly
// one shape: success with a WAV container, or error with a message.
func (g *Gateway) Synthesize(ctx context.Context, req core.SynthesisRequest) core.SynthesisResult {
	g.log.Info("Generating TTS for text: '%s' in language: %s",
		ttsutils.Preview(req.Text, logPreviewRunes), req.Config.LanguageID)

	audio, sampleRate, err := g.synthesize(ctx, req)
	if err != nil {
		g.log.Error("TTS generation failed: %v", err)

		return core.SynthesisResult{
			Status:  core.StatusError,
			Message: err.Error(),
		}
	}

	return core.SynthesisResult{
		Status:     core.StatusSuccess,
		Audio:      audio,
		SampleRate: sampleRate,
		Language:   req.Config.LanguageID,
		Message:    fmt.Sprintf(successMessageFormat, req.Config.LanguageID),
	}
}

func (g *Gateway) synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, int, error) {
	model, err := g.models.Model()
	if err != nil {
		return nil, 0, err
	}

	params := core.GenerateParams{
		Text:              req.Text,
		LanguageID:        req.Config.LanguageID,
		Exaggeration:      req.Config.Exaggeration,
		Temperature:       req.Config.Temperature,
		CFGWeight:         req.Config.CFGWeight,
		RepetitionPenalty: req.Config.RepetitionPenalty,
		MinP:              req.Config.MinP,
		TopP:              req.Config.TopP,
	}

	if len(req.ReferenceAudio) > 0 {
		artifact, writeErr := codec.WriteArtifact(g.tempDir, req.ReferenceAudio)
		if writeErr != nil {
			return nil, 0, writeErr
		}

		defer g.release(artifact)

		params.AudioPromptPath = artifact.Path()
	}

	var samples []float32

	started := time.Now()

	// The call is not cancelled when the client goes away; it finishes before
	// the artifact is released.
	jobErr := g.pool.Do(ctx, func() error {
		var generateErr error

		samples, generateErr = model.Generate(context.WithoutCancel(ctx), params)

		return generateErr
	})
	if jobErr != nil {
		return nil, 0, jobErr
	}

	if len(samples) == 0 {
		return nil, 0, ErrNoAudio
	}

	sampleRate := model.SampleRate()

	audio, encodeErr := codec.EncodeWAV(samples, codec.NewFormat(sampleRate))
	if encodeErr != nil {
		return nil, 0, encodeErr
	}

	g.log.Info("Generated %s of audio in %s",
		ttsutils.FormatFileSize(len(audio)), ttsutils.FormatDuration(time.Since(started)))

	return audio, sampleRate, nil
}

func (g *Gateway) release(artifact *codec.Artifact) {
	removeErr := artifact.Remove()
	if removeErr != nil {
		g.log.Warn("Failed to clean up temporary file %s: %v", artifact.Path(), removeErr)
	}
}
