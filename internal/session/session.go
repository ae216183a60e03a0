// Package session drives the lifecycle of one client connection: handshake,
// message loop, dispatch and teardown.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/codec"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/protocol"
	"github.com/book-expert/tts-gateway/internal/validate"
	"github.com/gorilla/websocket"
)

// State is a position in the session lifecycle.
type State int32

// Session states.
const (
	Connecting State = iota
	Handshaking
	Listening
	Dispatching
	Closed
)

var stateNames = [...]string{
	Connecting:  "connecting",
	Handshaking: "handshaking",
	Listening:   "listening",
	Dispatching: "dispatching",
	Closed:      "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}

	return stateNames[s]
}

// ErrHandshake is returned when server_info could not be delivered.
var ErrHandshake = errors.New("failed to send server info")

var errInvalidReference = errors.New(protocol.InvalidReferenceAudio)

// Conn is the message-oriented transport a session runs on.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Synthesizer performs one synthesis call.
type Synthesizer interface {
	Synthesize(ctx context.Context, req core.SynthesisRequest) core.SynthesisResult
}

// Session serves a single connection. Requests are handled strictly one at a
// time in arrival order, and each response is written before the next read.
type Session struct {
	conn      Conn
	remote    string
	info      protocol.ServerInfo
	validator *validate.Validator
	synth     Synthesizer
	log       *logger.Logger

	state   atomic.Int32
	writeMu sync.Mutex
}

// New binds a session to conn. info is sent as the handshake.
func New(
	conn Conn,
	remote string,
	info protocol.ServerInfo,
	validator *validate.Validator,
	synth Synthesizer,
	log *logger.Logger,
) *Session {
	return &Session{
		conn:      conn,
		remote:    remote,
		info:      info,
		validator: validator,
		synth:     synth,
		log:       log,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Run performs the handshake and then serves messages until the transport
// fails or the peer closes. A normal close returns nil.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(Closed)

	s.setState(Handshaking)

	writeErr := s.write(protocol.TypeServerInfo, s.info)
	if writeErr != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, writeErr)
	}

	for {
		s.setState(Listening)

		_, data, readErr := s.conn.ReadMessage()
		if readErr != nil {
			if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info("Client disconnected: %s", s.remote)
			} else {
				s.log.Warn("Connection to %s closed: %v", s.remote, readErr)
			}

			return nil
		}

		s.setState(Dispatching)

		dispatchErr := s.dispatch(ctx, data)
		if dispatchErr != nil {
			s.log.Warn("Failed to write to %s: %v", s.remote, dispatchErr)

			return dispatchErr
		}
	}
}

// dispatch handles one frame. Only transport errors are returned.
func (s *Session) dispatch(ctx context.Context, data []byte) (err error) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			s.log.Error("Error handling message from %s: %v", s.remote, recovered)

			err = s.write(protocol.TypeError, protocol.InternalErrorMessage(recovered))
		}
	}()

	var frame protocol.Inbound

	unmarshalErr := json.Unmarshal(data, &frame)
	if unmarshalErr != nil {
		s.log.Warn("Invalid JSON from %s: %v", s.remote, unmarshalErr)

		return s.write(protocol.TypeError, protocol.Message{Message: protocol.InvalidJSON})
	}

	messageType := frame.TypeName()

	switch messageType {
	case protocol.TypeTTSRequest:
		return s.write(protocol.TypeTTSResponse, s.handleTTSRequest(ctx, frame.Data))
	case protocol.TypePing:
		return s.write(protocol.TypePong, protocol.Message{Message: protocol.PongMessage})
	default:
		s.log.Warn("Unknown message type from %s: %q", s.remote, messageType)

		return s.write(protocol.TypeError, protocol.UnknownTypeMessage(messageType))
	}
}

func (s *Session) handleTTSRequest(ctx context.Context, data json.RawMessage) protocol.TTSResponse {
	req, err := s.buildRequest(data)
	if err != nil {
		s.log.Warn("Rejected TTS request from %s: %v", s.remote, err)

		return protocol.ErrorResponse(err.Error())
	}

	result := s.synth.Synthesize(ctx, req)
	if !result.Succeeded() {
		return protocol.ErrorResponse(result.Message)
	}

	audio := codec.Encode(result.Audio)

	return protocol.TTSResponse{
		Audio:      &audio,
		Status:     string(result.Status),
		Message:    result.Message,
		SampleRate: result.SampleRate,
		Language:   result.Language,
	}
}

func (s *Session) buildRequest(data json.RawMessage) (core.SynthesisRequest, error) {
	var payload protocol.TTSRequest

	if len(data) > 0 {
		unmarshalErr := json.Unmarshal(data, &payload)
		if unmarshalErr != nil {
			return core.SynthesisRequest{}, fmt.Errorf("invalid request data: %w", unmarshalErr)
		}
	}

	rawText, textErr := payload.TextValue()
	if textErr != nil {
		return core.SynthesisRequest{}, textErr
	}

	text, textErr := s.validator.Text(rawText)
	if textErr != nil {
		return core.SynthesisRequest{}, textErr
	}

	partial, partialErr := payload.PartialConfig()
	if partialErr != nil {
		return core.SynthesisRequest{}, partialErr
	}

	cfg, cfgErr := s.validator.Config(partial)
	if cfgErr != nil {
		return core.SynthesisRequest{}, cfgErr
	}

	var reference []byte

	if payload.ReferenceAudio != "" {
		decoded, decodeErr := codec.Decode(payload.ReferenceAudio)
		if decodeErr != nil {
			s.log.Error("Failed to decode audio from %s: %v", s.remote, decodeErr)

			return core.SynthesisRequest{}, errInvalidReference
		}

		reference = decoded
	}

	return core.SynthesisRequest{
		Text:           text,
		ReferenceAudio: reference,
		Config:         cfg,
	}, nil
}

func (s *Session) write(messageType string, payload any) error {
	frame, err := protocol.Encode(messageType, payload)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	writeErr := s.conn.WriteMessage(websocket.TextMessage, frame)
	if writeErr != nil {
		return fmt.Errorf("failed to send %s: %w", messageType, writeErr)
	}

	return nil
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}
