// Package protocol defines the JSON frames exchanged over a session.
// Every frame is shaped {"type": <string>, "data": <object>}.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/book-expert/tts-gateway/internal/core"
)

// Client to server message types.
const (
	TypeTTSRequest = "tts_request"
	TypePing       = "ping"
)

// Server to client message types.
const (
	TypeServerInfo  = "server_info"
	TypeTTSResponse = "tts_response"
	TypePong        = "pong"
	TypeError       = "error"
)

// Fixed message texts.
const (
	ServerBanner          = "Chatterbox TTS WebSocket Server"
	PongMessage           = "Server is alive"
	InvalidJSON           = "Invalid JSON format"
	InvalidReferenceAudio = "Invalid base64 audio data"
	UnknownType           = "unknown"
	jsonNull              = "null"
	unknownTypeFormat     = "Unknown message type: %s"
	internalFormat        = "Internal server error: %v"
)

// Envelope is the outer frame of every message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Inbound is a frame as received from a client. Type is kept raw so that a
// non-string type can be echoed back in the error it causes.
type Inbound struct {
	Type json.RawMessage `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// TypeName returns the frame type as text: the string itself, the JSON text of
// any other value, or UnknownType when the key is absent.
func (f Inbound) TypeName() string {
	if len(f.Type) == 0 {
		return UnknownType
	}

	var name string

	if string(f.Type) != jsonNull && json.Unmarshal(f.Type, &name) == nil {
		return name
	}

	return string(f.Type)
}

// ServerInfo is sent once, before the session reads anything.
type ServerInfo struct {
	Message            string   `json:"message"`
	SupportedLanguages []string `json:"supported_languages"`
	DefaultLanguage    string   `json:"default_language"`
	Device             string   `json:"device"`
}

// TTSRequest is the payload of a tts_request. Text and Config are decoded
// separately so that a missing text can be told apart from a null one and a bad
// config is reported as a failed tts_response rather than a protocol error.
type TTSRequest struct {
	Text           json.RawMessage `json:"text"`
	ReferenceAudio string          `json:"reference_audio,omitempty"`
	Config         json.RawMessage `json:"config,omitempty"`
}

// TextValue returns nil when the text key is absent. A null text is returned
// as the empty string.
func (r TTSRequest) TextValue() (*string, error) {
	if len(r.Text) == 0 {
		return nil, nil
	}

	var text string

	if string(r.Text) == jsonNull {
		return &text, nil
	}

	err := json.Unmarshal(r.Text, &text)
	if err != nil {
		return nil, fmt.Errorf("invalid text: %w", err)
	}

	return &text, nil
}

// PartialConfig decodes the optional config object.
func (r TTSRequest) PartialConfig() (core.PartialConfig, error) {
	var partial core.PartialConfig

	if len(r.Config) == 0 || string(r.Config) == jsonNull {
		return partial, nil
	}

	err := json.Unmarshal(r.Config, &partial)
	if err != nil {
		return partial, fmt.Errorf("invalid config: %w", err)
	}

	return partial, nil
}

// TTSResponse is the payload of a tts_response. On error Audio is null and
// the success-only fields are omitted.
type TTSResponse struct {
	Audio      *string `json:"audio"`
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Language   string  `json:"language,omitempty"`
}

// Message is the payload of pong and error frames.
type Message struct {
	Message string `json:"message"`
}

// Encode builds a frame around payload.
func Encode(messageType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", messageType, err)
	}

	frame, err := json.Marshal(Envelope{Type: messageType, Data: data})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s frame: %w", messageType, err)
	}

	return frame, nil
}

// ErrorResponse builds a failed tts_response payload.
func ErrorResponse(message string) TTSResponse {
	return TTSResponse{Status: string(core.StatusError), Message: message}
}

// UnknownTypeMessage is the error text for an unrecognized frame type.
func UnknownTypeMessage(messageType string) Message {
	return Message{Message: fmt.Sprintf(unknownTypeFormat, messageType)}
}

// InternalErrorMessage is the error text for a failure while dispatching.
func InternalErrorMessage(cause any) Message {
	return Message{Message: fmt.Sprintf(internalFormat, cause)}
}
