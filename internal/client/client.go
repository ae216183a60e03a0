// Package client talks to a tts-gateway over its WebSocket protocol.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/tts-gateway/internal/codec"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/protocol"
	"github.com/gorilla/websocket"
)

const handshakeTimeout = 15 * time.Second

var (
	// ErrUnexpectedMessage is returned when the server answers with a frame of
	// the wrong type.
	ErrUnexpectedMessage = errors.New("unexpected message from server")
	// ErrServer wraps the text of an error frame.
	ErrServer = errors.New("server error")
	// ErrSynthesisFailed wraps the message of a failed tts_response.
	ErrSynthesisFailed = errors.New("synthesis failed")
)

// Request is one synthesis request.
type Request struct {
	Text      string
	Reference []byte
	Config    core.PartialConfig
}

// Result is a successful synthesis.
type Result struct {
	Audio      []byte
	SampleRate int
	Language   string
	Message    string
}

// Client is a single connection. Calls must not overlap; the server answers
// strictly in order.
type Client struct {
	conn *websocket.Conn
	info protocol.ServerInfo
}

// Dial connects to url and reads the server_info handshake.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s (HTTP %d): %w", url, resp.StatusCode, err)
		}

		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	client := &Client{conn: conn}

	envelope, err := client.read(ctx)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	err = decodeAs(envelope, protocol.TypeServerInfo, &client.info)
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	return client, nil
}

// Info returns the handshake received at connect time.
func (c *Client) Info() protocol.ServerInfo {
	return c.info
}

// Ping sends a ping and returns the pong message.
func (c *Client) Ping(ctx context.Context) (string, error) {
	var pong protocol.Message

	err := c.roundTrip(ctx, protocol.TypePing, struct{}{}, protocol.TypePong, &pong)
	if err != nil {
		return "", err
	}

	return pong.Message, nil
}

// Synthesize sends a tts_request and returns the decoded audio container.
func (c *Client) Synthesize(ctx context.Context, req Request) (Result, error) {
	payload := struct {
		Text           string              `json:"text"`
		ReferenceAudio string              `json:"reference_audio,omitempty"`
		Config         *core.PartialConfig `json:"config,omitempty"`
	}{Text: req.Text}

	if len(req.Reference) > 0 {
		payload.ReferenceAudio = codec.Encode(req.Reference)
	}

	if req.Config != (core.PartialConfig{}) {
		payload.Config = &req.Config
	}

	var response protocol.TTSResponse

	err := c.roundTrip(ctx, protocol.TypeTTSRequest, payload, protocol.TypeTTSResponse, &response)
	if err != nil {
		return Result{}, err
	}

	if response.Status != string(core.StatusSuccess) || response.Audio == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrSynthesisFailed, response.Message)
	}

	audio, err := codec.Decode(*response.Audio)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Audio:      audio,
		SampleRate: response.SampleRate,
		Language:   response.Language,
		Message:    response.Message,
	}, nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(time.Second))

	return c.conn.Close()
}

func (c *Client) roundTrip(ctx context.Context, sendType string, payload any, wantType string, out any) error {
	frame, err := protocol.Encode(sendType, payload)
	if err != nil {
		return err
	}

	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.conn.SetWriteDeadline(deadline)
	}

	err = c.conn.WriteMessage(websocket.TextMessage, frame)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", sendType, err)
	}

	envelope, err := c.read(ctx)
	if err != nil {
		return err
	}

	return decodeAs(envelope, wantType, out)
}

func (c *Client) read(ctx context.Context) (protocol.Envelope, error) {
	deadline, ok := ctx.Deadline()
	if ok {
		_ = c.conn.SetReadDeadline(deadline)
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}

	var envelope protocol.Envelope

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return envelope, fmt.Errorf("failed to read from server: %w", err)
	}

	err = json.Unmarshal(data, &envelope)
	if err != nil {
		return envelope, fmt.Errorf("failed to decode server frame: %w", err)
	}

	return envelope, nil
}

func decodeAs(envelope protocol.Envelope, wantType string, out any) error {
	if envelope.Type == protocol.TypeError {
		var message protocol.Message

		_ = json.Unmarshal(envelope.Data, &message)

		return fmt.Errorf("%w: %s", ErrServer, message.Message)
	}

	if envelope.Type != wantType {
		return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedMessage, envelope.Type, wantType)
	}

	err := json.Unmarshal(envelope.Data, out)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", wantType, err)
	}

	return nil
}
