package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/book-expert/tts-gateway/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_WrapsPayload(t *testing.T) {
	t.Parallel()

	frame, err := protocol.Encode(protocol.TypePong, protocol.Message{Message: protocol.PongMessage})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","data":{"message":"Server is alive"}}`, string(frame))
}

func TestEncode_UnmarshalablePayload(t *testing.T) {
	t.Parallel()

	_, err := protocol.Encode(protocol.TypeError, make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error payload")
}

func TestErrorResponse_AudioIsNull(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(protocol.ErrorResponse("Text cannot be empty"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"audio":null,"status":"error","message":"Text cannot be empty"}`, string(data))
}

func TestUnknownTypeMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Unknown message type: bogus", protocol.UnknownTypeMessage("bogus").Message)
	assert.Equal(t, "Unknown message type: ", protocol.UnknownTypeMessage("").Message)
}

func TestInbound_TypeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frame string
		want  string
	}{
		{frame: `{"type":"ping"}`, want: "ping"},
		{frame: `{"data":{}}`, want: "unknown"},
		{frame: `{"type":""}`, want: ""},
		{frame: `{"type":5}`, want: "5"},
		{frame: `{"type":null}`, want: "null"},
		{frame: `{"type":["a"]}`, want: `["a"]`},
	}

	for _, testCase := range tests {
		var frame protocol.Inbound
		require.NoError(t, json.Unmarshal([]byte(testCase.frame), &frame))
		assert.Equal(t, testCase.want, frame.TypeName(), testCase.frame)
	}
}

func TestInternalErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Internal server error: boom", protocol.InternalErrorMessage("boom").Message)
}

func TestTTSRequest_PartialConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		frame    string
		language string
		wantErr  bool
	}{
		{name: "absent", frame: `{"text":"Hola"}`},
		{name: "null", frame: `{"text":"Hola","config":null}`},
		{name: "language", frame: `{"text":"Hola","config":{"language_id":"fr"}}`, language: "fr"},
		{name: "wrong type", frame: `{"text":"Hola","config":{"temperature":"hot"}}`, wantErr: true},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			var request protocol.TTSRequest
			require.NoError(t, json.Unmarshal([]byte(testCase.frame), &request))

			partial, err := request.PartialConfig()
			if testCase.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid config")

				return
			}

			require.NoError(t, err)

			if testCase.language == "" {
				assert.Nil(t, partial.LanguageID)
			} else {
				require.NotNil(t, partial.LanguageID)
				assert.Equal(t, testCase.language, *partial.LanguageID)
			}
		})
	}
}

func TestTTSRequest_TextValue(t *testing.T) {
	t.Parallel()

	var missing protocol.TTSRequest
	require.NoError(t, json.Unmarshal([]byte(`{"config":{}}`), &missing))

	text, err := missing.TextValue()
	require.NoError(t, err)
	assert.Nil(t, text)

	var null protocol.TTSRequest
	require.NoError(t, json.Unmarshal([]byte(`{"text":null}`), &null))

	text, err = null.TextValue()
	require.NoError(t, err)
	require.NotNil(t, text)
	assert.Empty(t, *text)

	var present protocol.TTSRequest
	require.NoError(t, json.Unmarshal([]byte(`{"text":"Hola"}`), &present))

	text, err = present.TextValue()
	require.NoError(t, err)
	require.NotNil(t, text)
	assert.Equal(t, "Hola", *text)

	var number protocol.TTSRequest
	require.NoError(t, json.Unmarshal([]byte(`{"text":7}`), &number))

	_, err = number.TextValue()
	require.Error(t, err)
}
