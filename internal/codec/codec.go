// Package codec converts audio between raw bytes, WAV containers, transport
// text and temporary on-disk artifacts.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrDecode is returned when transport text is not valid base64.
var ErrDecode = errors.New("invalid base64 audio data")

// Encode returns the standard base64 representation of data.
func Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Decode parses standard base64 transport text.
func Decode(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return data, nil
}
