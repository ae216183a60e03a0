// Package worker bridges NATS text-processed events to the synthesis gateway.
// Each event's text is read from an object store, synthesized with the shared
// model and written back as a WAV object, and the request is answered with an
// AudioChunkCreatedEvent.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/validate"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultJobTimeout bounds one job from download to reply.
	DefaultJobTimeout = 5 * time.Minute
	audioKeySuffix    = ".wav"
)

// Synthesizer performs one synthesis call.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.SynthesisRequest) core.SynthesisResult
}

// SynthesisFailedError carries the message of a failed synthesis result.
type SynthesisFailedError struct {
	Message string
}

func (e *SynthesisFailedError) Error() string {
	return "synthesis failed: " + e.Message
}

// Stores groups the buckets a job reads from and writes to.
type Stores struct {
	Text  core.ObjectStore
	Audio core.ObjectStore
}

// NatsWorker listens for synthesis jobs on a NATS subject and processes them
// one at a time.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	stores         Stores
	validator      *validate.Validator
	synth          Synthesizer
	timeout        time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a worker. A non-positive timeout selects
// DefaultJobTimeout.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	stores Stores,
	validator *validate.Validator,
	synth Synthesizer,
	timeout time.Duration,
	log *logger.Logger,
) *NatsWorker {
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		stores:         stores,
		validator:      validator,
		synth:          synth,
		timeout:        timeout,
		log:            log,
	}
}

// Run subscribes and processes jobs until ctx is cancelled, then drains the
// subscription.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	w.log.Info("Listening for synthesis jobs on subject: %s", w.subject)

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	var event events.TextProcessedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal event: %v", err)

		return
	}

	audioKey, processErr := w.process(ctx, &event)
	if processErr != nil {
		w.log.Error("Failed to process TTS job for workflow %s: %v", event.Header.WorkflowID, processErr)

		return
	}

	reply := &events.AudioChunkCreatedEvent{
		Header:     event.Header,
		AudioKey:   audioKey,
		PageNumber: event.PageNumber,
		TotalPages: event.TotalPages,
	}

	err = w.respond(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", event.Header.WorkflowID, err)
	}
}

// process downloads the text, synthesizes it and uploads the audio. It returns
// the key of the uploaded object.
func (w *NatsWorker) process(ctx context.Context, event *events.TextProcessedEvent) (string, error) {
	textData, err := w.stores.Text.Download(ctx, event.TextKey)
	if err != nil {
		return "", fmt.Errorf("failed to download text data for key '%s': %w", event.TextKey, err)
	}

	req, err := w.buildRequest(event, string(textData))
	if err != nil {
		return "", err
	}

	result := w.synth.Synthesize(ctx, req)
	if !result.Succeeded() {
		return "", &SynthesisFailedError{Message: result.Message}
	}

	audioKey := uuid.NewString() + audioKeySuffix

	err = w.stores.Audio.Upload(ctx, audioKey, result.Audio)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	w.log.Info("Workflow %s page %d/%d synthesized to %s",
		event.Header.WorkflowID, event.PageNumber, event.TotalPages, audioKey)

	return audioKey, nil
}

// buildRequest maps the event onto a validated request. The voice names the
// language; zero-valued sampling fields keep their defaults.
func (w *NatsWorker) buildRequest(event *events.TextProcessedEvent, text string) (core.SynthesisRequest, error) {
	validText, err := w.validator.Text(&text)
	if err != nil {
		return core.SynthesisRequest{}, err
	}

	var partial core.PartialConfig

	if event.Voice != "" {
		partial.LanguageID = &event.Voice
	}

	if event.Temperature != 0 {
		partial.Temperature = &event.Temperature
	}

	if event.TopP != 0 {
		partial.TopP = &event.TopP
	}

	if event.RepetitionPenalty != 0 {
		partial.RepetitionPenalty = &event.RepetitionPenalty
	}

	cfg, err := w.validator.Config(partial)
	if err != nil {
		return core.SynthesisRequest{}, err
	}

	return core.SynthesisRequest{Text: validText, Config: cfg}, nil
}

func (w *NatsWorker) respond(msg *nats.Msg, reply *events.AudioChunkCreatedEvent) error {
	replyData, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}
