package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/core"
)

// Backend names accepted by Load.
const (
	BackendHTTP = "http"
	BackendExec = "exec"
	BackendStub = "stub"
)

// DefaultSampleRate is the output rate of the multilingual model.
const DefaultSampleRate = 24000

const healthCheckTimeout = 10 * time.Second

var (
	// ErrUnknownBackend is returned for a backend name Load does not know.
	ErrUnknownBackend = errors.New("unknown model backend")
	// ErrModelNotLoaded is returned by Handle.Model before a successful Load.
	ErrModelNotLoaded = errors.New("model is not loaded")
)

// Options select and configure a model backend.
type Options struct {
	Backend    string
	ServiceURL string
	Command    string
	SampleRate int
	Timeout    time.Duration
	TempDir    string
}

// Load constructs the configured backend on device. For the HTTP backend the
// sidecar must pass a health check, so a missing model fails here rather than
// on the first request.
func Load(ctx context.Context, device string, opts Options, log *logger.Logger) (core.Model, error) {
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	switch opts.Backend {
	case BackendHTTP:
		model := NewHTTPModel(opts.ServiceURL, device, sampleRate, opts.Timeout)

		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()

		healthErr := model.HealthCheck(healthCtx)
		if healthErr != nil {
			return nil, fmt.Errorf("failed to reach inference service: %w", healthErr)
		}

		return model, nil
	case BackendExec:
		return NewExecModel(opts.Command, device, opts.TempDir, sampleRate, log)
	case BackendStub:
		return NewStubModel(sampleRate), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// Loader builds a model for a device.
type Loader func(ctx context.Context, device string) (core.Model, error)

// Handle is the process-wide model. It is loaded at most once and then shared
// read-only by every connection.
type Handle struct {
	loader Loader
	device string
	log    *logger.Logger

	once  sync.Once
	model core.Model
	err   error
}

// NewHandle creates an unloaded handle bound to device.
func NewHandle(device string, loader Loader, log *logger.Logger) *Handle {
	return &Handle{
		loader: loader,
		device: device,
		log:    log,
	}
}

// Load runs the loader exactly once; later calls return the first outcome.
func (h *Handle) Load(ctx context.Context) error {
	h.once.Do(func() {
		h.log.Info("Loading TTS model on device: %s", h.device)

		h.model, h.err = h.loader(ctx, h.device)
		if h.err != nil {
			h.log.Error("Failed to load model: %v", h.err)

			return
		}

		h.log.Info("Model loaded successfully (sample rate %d Hz)", h.model.SampleRate())
	})

	return h.err
}

// Model returns the loaded model.
func (h *Handle) Model() (core.Model, error) {
	if h.model == nil {
		if h.err != nil {
			return nil, h.err
		}

		return nil, ErrModelNotLoaded
	}

	return h.model, nil
}

// Device returns the execution backend the model was bound to.
func (h *Handle) Device() string {
	return h.device
}

// Close releases the model if it was loaded.
func (h *Handle) Close() error {
	if h.model == nil {
		return nil
	}

	return h.model.Close()
}
