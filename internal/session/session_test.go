package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/codec"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/protocol"
	"github.com/book-expert/tts-gateway/internal/session"
	"github.com/book-expert/tts-gateway/internal/validate"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

// scriptedConn replays a fixed list of client frames and then reports a
// normal close. Every frame written by the session is recorded.
type scriptedConn struct {
	mu       sync.Mutex
	incoming [][]byte
	written  []protocol.Envelope
	failFrom int
}

func newScriptedConn(frames ...string) *scriptedConn {
	conn := &scriptedConn{failFrom: -1}
	for _, frame := range frames {
		conn.incoming = append(conn.incoming, []byte(frame))
	}

	return conn
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.incoming) == 0 {
		return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
	}

	frame := c.incoming[0]
	c.incoming = c.incoming[1:]

	return websocket.TextMessage, frame, nil
}

func (c *scriptedConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failFrom >= 0 && len(c.written) >= c.failFrom {
		return errBrokenPipe
	}

	var envelope protocol.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	c.written = append(c.written, envelope)

	return nil
}

func (c *scriptedConn) frames() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]protocol.Envelope(nil), c.written...)
}

type fakeSynth struct {
	mu       sync.Mutex
	requests []core.SynthesisRequest
	result   core.SynthesisResult
	panicMsg string
}

func (f *fakeSynth) Synthesize(_ context.Context, req core.SynthesisRequest) core.SynthesisResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panicMsg != "" {
		panic(f.panicMsg)
	}

	f.requests = append(f.requests, req)

	return f.result
}

func successSynth() *fakeSynth {
	return &fakeSynth{result: core.SynthesisResult{
		Status:     core.StatusSuccess,
		Audio:      []byte("RIFF"),
		SampleRate: 24000,
		Language:   "es",
		Message:    "Generated audio for 'es' text",
	}}
}

var testInfo = protocol.ServerInfo{
	Message:            protocol.ServerBanner,
	SupportedLanguages: validate.LanguageIDs(),
	DefaultLanguage:    validate.DefaultLanguage,
	Device:             "cpu",
}

func runSession(t *testing.T, conn *scriptedConn, synth session.Synthesizer) (*session.Session, error) {
	t.Helper()

	log, err := logger.New(t.TempDir(), "session-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	sess := session.New(conn, "127.0.0.1:50000", testInfo, validate.New(validate.Options{}, log), synth, log)

	return sess, sess.Run(context.Background())
}

func decode[T any](t *testing.T, envelope protocol.Envelope) T {
	t.Helper()

	var payload T
	require.NoError(t, json.Unmarshal(envelope.Data, &payload))

	return payload
}

func TestSession_HandshakeComesFirst(t *testing.T) {
	t.Parallel()

	conn := newScriptedConn()

	sess, err := runSession(t, conn, successSynth())
	require.NoError(t, err)
	assert.Equal(t, session.Closed, sess.State())

	frames := conn.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.TypeServerInfo, frames[0].Type)

	info := decode[protocol.ServerInfo](t, frames[0])
	assert.Equal(t, "Chatterbox TTS WebSocket Server", info.Message)
	assert.Equal(t, "es", info.DefaultLanguage)
	assert.Equal(t, "cpu", info.Device)
	assert.Contains(t, info.SupportedLanguages, "en")
}

func TestSession_Ping(t *testing.T) {
	t.Parallel()

	conn := newScriptedConn(`{"type":"ping","data":{}}`, `{"type":"ping"}`)

	_, err := runSession(t, conn, successSynth())
	require.NoError(t, err)

	frames := conn.frames()
	require.Len(t, frames, 3)

	for _, frame := range frames[1:] {
		assert.Equal(t, protocol.TypePong, frame.Type)
		assert.Equal(t, "Server is alive", decode[protocol.Message](t, frame).Message)
	}
}

func TestSession_TTSRequestSuccess(t *testing.T) {
	t.Parallel()

	synth := successSynth()
	conn := newScriptedConn(`{"type":"tts_request","data":{"text":"Hola"}}`)

	_, err := runSession(t, conn, synth)
	require.NoError(t, err)

	frames := conn.frames()
	require.Len(t, frames, 2)
	assert.Equal(t, protocol.TypeTTSResponse, frames[1].Type)

	response := decode[protocol.TTSResponse](t, frames[1])
	assert.Equal(t, "success", response.Status)
	assert.Equal(t, 24000, response.SampleRate)
	assert.Equal(t, "es", response.Language)
	require.NotNil(t, response.Audio)

	audio, err := codec.Decode(*response.Audio)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), audio)

	require.Len(t, synth.requests, 1)
	assert.Equal(t, "Hola", synth.requests[0].Text)
	assert.Equal(t, validate.Defaults(), synth.requests[0].Config)
	assert.Nil(t, synth.requests[0].ReferenceAudio)
}

func TestSession_TTSRequestPassesConfigAndReference(t *testing.T) {
	t.Parallel()

	synth := successSynth()
	reference := codec.Encode([]byte("reference-wav"))
	conn := newScriptedConn(`{"type":"tts_request","data":{"text":"Hello","reference_audio":"` + reference +
		`","config":{"language_id":"EN","temperature":1.2}}}`)

	_, err := runSession(t, conn, synth)
	require.NoError(t, err)

	require.Len(t, synth.requests, 1)
	assert.Equal(t, []byte("reference-wav"), synth.requests[0].ReferenceAudio)
	assert.Equal(t, "en", synth.requests[0].Config.LanguageID)
	assert.InDelta(t, 1.2, synth.requests[0].Config.Temperature, 1e-9)
}

func TestSession_TTSRequestRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		frame   string
		message string
		exact   bool
	}{
		{name: "empty text", frame: `{"type":"tts_request","data":{"text":""}}`, message: "Text cannot be empty"},
		{name: "null text", frame: `{"type":"tts_request","data":{"text":null}}`, message: "Text cannot be empty", exact: true},
		{name: "non-string text", frame: `{"type":"tts_request","data":{"text":42}}`, message: "invalid text"},
		{name: "blank text", frame: `{"type":"tts_request","data":{"text":"  \n"}}`, message: "Text cannot be empty"},
		{name: "missing text", frame: `{"type":"tts_request","data":{}}`, message: "Missing required field: text"},
		{
			name:    "unsupported language",
			frame:   `{"type":"tts_request","data":{"text":"hi","config":{"language_id":"xx"}}}`,
			message: "Unsupported language: xx",
		},
		{
			name:    "out of range",
			frame:   `{"type":"tts_request","data":{"text":"hi","config":{"top_p":1.5}}}`,
			message: "top_p must be between",
		},
		{
			name:    "bad reference audio",
			frame:   `{"type":"tts_request","data":{"text":"hi","reference_audio":"@@not-base64@@"}}`,
			message: "Invalid base64 audio data",
			exact:   true,
		},
		{
			name:    "malformed config",
			frame:   `{"type":"tts_request","data":{"text":"hi","config":{"temperature":"hot"}}}`,
			message: "invalid config",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			synth := successSynth()
			conn := newScriptedConn(testCase.frame)

			_, err := runSession(t, conn, synth)
			require.NoError(t, err)

			frames := conn.frames()
			require.Len(t, frames, 2)
			assert.Equal(t, protocol.TypeTTSResponse, frames[1].Type)
			assert.JSONEq(t, `null`, string(mustField(t, frames[1], "audio")))

			response := decode[protocol.TTSResponse](t, frames[1])
			assert.Equal(t, "error", response.Status)
			assert.Contains(t, response.Message, testCase.message)
			assert.Empty(t, synth.requests, "model must not be reached")

			if testCase.exact {
				assert.Equal(t, testCase.message, response.Message)
			}
		})
	}
}

func mustField(t *testing.T, envelope protocol.Envelope, field string) json.RawMessage {
	t.Helper()

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(envelope.Data, &fields))

	value, ok := fields[field]
	require.True(t, ok, "field %s missing", field)

	return value
}

func TestSession_SynthesisFailure(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{result: core.SynthesisResult{Status: core.StatusError, Message: "CUDA out of memory"}}
	conn := newScriptedConn(`{"type":"tts_request","data":{"text":"Hola"}}`)

	_, err := runSession(t, conn, synth)
	require.NoError(t, err)

	response := decode[protocol.TTSResponse](t, conn.frames()[1])
	assert.Equal(t, "error", response.Status)
	assert.Equal(t, "CUDA out of memory", response.Message)
	assert.Nil(t, response.Audio)
}

func TestSession_UnknownTypeKeepsSessionOpen(t *testing.T) {
	t.Parallel()

	synth := successSynth()
	conn := newScriptedConn(
		`{"type":"subscribe","data":{}}`,
		`{"data":{}}`,
		`{"type":5,"data":{}}`,
		`{"type":"","data":{}}`,
		`{"type":null}`,
		`{"type":"tts_request","data":{"text":"Hola"}}`,
	)

	_, err := runSession(t, conn, synth)
	require.NoError(t, err)

	frames := conn.frames()
	require.Len(t, frames, 7)

	expected := []string{
		"Unknown message type: subscribe",
		"Unknown message type: unknown",
		"Unknown message type: 5",
		"Unknown message type: ",
		"Unknown message type: null",
	}

	for index, message := range expected {
		assert.Equal(t, protocol.TypeError, frames[index+1].Type)
		assert.Equal(t, message, decode[protocol.Message](t, frames[index+1]).Message)
	}

	assert.Equal(t, protocol.TypeTTSResponse, frames[6].Type)
	assert.Equal(t, "success", decode[protocol.TTSResponse](t, frames[6]).Status)
}

func TestSession_InvalidJSON(t *testing.T) {
	t.Parallel()

	conn := newScriptedConn(`{"type":`, `{"type":"ping"}`)

	_, err := runSession(t, conn, successSynth())
	require.NoError(t, err)

	frames := conn.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, protocol.TypeError, frames[1].Type)
	assert.Equal(t, "Invalid JSON format", decode[protocol.Message](t, frames[1]).Message)
	assert.Equal(t, protocol.TypePong, frames[2].Type)
}

func TestSession_PanicBecomesInternalError(t *testing.T) {
	t.Parallel()

	conn := newScriptedConn(`{"type":"tts_request","data":{"text":"Hola"}}`, `{"type":"ping"}`)

	_, err := runSession(t, conn, &fakeSynth{panicMsg: "index out of range"})
	require.NoError(t, err)

	frames := conn.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, protocol.TypeError, frames[1].Type)
	assert.Equal(t, "Internal server error: index out of range", decode[protocol.Message](t, frames[1]).Message)
	assert.Equal(t, protocol.TypePong, frames[2].Type)
}

func TestSession_WriteFailureEndsSession(t *testing.T) {
	t.Parallel()

	conn := newScriptedConn(`{"type":"ping"}`, `{"type":"ping"}`)
	conn.failFrom = 1

	sess, err := runSession(t, conn, successSynth())
	require.ErrorIs(t, err, errBrokenPipe)
	assert.Equal(t, session.Closed, sess.State())
	assert.Len(t, conn.frames(), 1)
}

func TestSession_HandshakeFailure(t *testing.T) {
	t.Parallel()

	conn := newScriptedConn(`{"type":"ping"}`)
	conn.failFrom = 0

	_, err := runSession(t, conn, successSynth())
	require.ErrorIs(t, err, session.ErrHandshake)
	require.ErrorIs(t, err, errBrokenPipe)
}

func TestState_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "handshaking", session.Handshaking.String())
	assert.Equal(t, "dispatching", session.Dispatching.String())
	assert.Equal(t, "closed", session.Closed.String())
	assert.Equal(t, "state(9)", session.State(9).String())
}
