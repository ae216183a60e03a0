// Package tts provides the model backends behind core.Model and the process-wide
// model handle.
//
// The HTTP backend talks to a standalone inference sidecar that keeps the neural
// model resident; Go owns the protocol and orchestration, the sidecar owns
// inference.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/tts-gateway/internal/codec"
	"github.com/book-expert/tts-gateway/internal/core"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Error messages.
const (
	errFmtUnexpectedContentType = "unexpected content type: expected audio/wav, got %s"
	errFmtServiceErrorWithCode  = "TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus    = "TTS service returned non-OK status: %s, body: %s"
)

var (
	// ErrTextEmpty is returned when a generate call carries no text.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrEmptyAudio is returned when the service answers with no audio.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrServiceUnhealthy is returned when the sidecar health check fails.
	ErrServiceUnhealthy = errors.New("TTS service is not healthy")
)

// HTTPModel implements core.Model against an inference sidecar.
type HTTPModel struct {
	httpClient *http.Client
	baseURL    string
	device     string
	sampleRate int
}

// GenerateRequest is the JSON payload sent to the sidecar.
type GenerateRequest struct {
	Text              string  `json:"text"`
	LanguageID        string  `json:"language_id"`
	AudioPromptPath   string  `json:"audio_prompt_path,omitempty"`
	Device            string  `json:"device"`
	Exaggeration      float64 `json:"exaggeration"`
	Temperature       float64 `json:"temperature"`
	CFGWeight         float64 `json:"cfg_weight"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	MinP              float64 `json:"min_p"`
	TopP              float64 `json:"top_p"`
}

// ErrorResponse is a structured error returned by the sidecar.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// HealthResponse is the sidecar's health payload.
type HealthResponse struct {
	Status     string `json:"status"`
	Device     string `json:"device,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// NewHTTPModel creates an HTTP backend. The baseURL should include the
// protocol and port (e.g., "http://127.0.0.1:8001").
func NewHTTPModel(baseURL, device string, sampleRate int, timeout time.Duration) *HTTPModel {
	return &HTTPModel{
		baseURL:    baseURL,
		device:     device,
		sampleRate: sampleRate,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SampleRate returns the sample rate of generated audio.
func (m *HTTPModel) SampleRate() int {
	return m.sampleRate
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (m *HTTPModel) Close() error {
	return nil
}

// Generate asks the sidecar for speech and returns the decoded samples.
func (m *HTTPModel) Generate(ctx context.Context, params core.GenerateParams) ([]float32, error) {
	if params.Text == "" {
		return nil, ErrTextEmpty
	}

	requestBody, err := json.Marshal(GenerateRequest{
		Text:              params.Text,
		LanguageID:        params.LanguageID,
		AudioPromptPath:   params.AudioPromptPath,
		Device:            m.device,
		Exaggeration:      params.Exaggeration,
		Temperature:       params.Temperature,
		CFGWeight:         params.CFGWeight,
		RepetitionPenalty: params.RepetitionPenalty,
		MinP:              params.MinP,
		TopP:              params.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		m.baseURL+apiGenerateSpeech,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", m.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf(errFmtUnexpectedContentType, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	samples, format, err := codec.DecodeMonoWAV(audioData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio from TTS service: %w", err)
	}

	if format.SampleRate != m.sampleRate {
		return nil, fmt.Errorf("TTS service returned %d Hz audio, expected %d Hz", format.SampleRate, m.sampleRate)
	}

	return samples, nil
}

// HealthCheck verifies that the sidecar is up and adopts the sample rate it
// reports, if any.
func (m *HTTPModel) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", m.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %s", ErrServiceUnhealthy, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}

	var health HealthResponse

	if len(body) > 0 && json.Unmarshal(body, &health) == nil && health.SampleRate > 0 {
		m.sampleRate = health.SampleRate
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error from the service, falling
// back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errorResp ErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, resp.Status, string(body))
}
