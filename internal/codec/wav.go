package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Output defaults for synthesized audio.
const (
	DefaultBitDepth = 16
	DefaultChannels = 1

	pcmAudioFormat   = 1
	floatAudioFormat = 3
	floatBitDepth    = 32
	floatBytes       = 4
	unsignedBitDepth = 8
	unsignedMidpoint = 128
	maxInt16         = math.MaxInt16
)

// Limits enforced by Format.Validate.
const (
	MaxSampleRate = 192000
	MaxChannels   = 8
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtBitDepthValues  = "%w: bit depth must be 8, 16, 24, or 32, got %d"
	errFmtChannelsRange   = "%w: channels must be between 1 and %d, got %d"
	errFmtAudioFormat     = "%w: audio format tag %d"
	errFmtFloatBitDepth   = "%w: %d-bit float samples"
)

var (
	// ErrInvalidFormat indicates WAV framing parameters out of bounds.
	ErrInvalidFormat = errors.New("invalid audio format")
	// ErrInvalidWAV indicates that a payload is not a readable WAV container.
	ErrInvalidWAV = errors.New("invalid WAV data")
	// ErrUnsupportedWAV indicates a readable WAV whose sample encoding is
	// neither integer PCM nor 32-bit IEEE float.
	ErrUnsupportedWAV = errors.New("unsupported WAV encoding")
)

// Format describes the framing of a PCM WAV container.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// NewFormat returns the mono 16-bit format used for model output.
func NewFormat(sampleRate int) Format {
	return Format{
		SampleRate: sampleRate,
		BitDepth:   DefaultBitDepth,
		Channels:   DefaultChannels,
	}
}

// Validate checks that the format can be written.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidFormat, MaxSampleRate, f.SampleRate)
	}

	switch f.BitDepth {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf(errFmtBitDepthValues, ErrInvalidFormat, f.BitDepth)
	}

	if f.Channels <= 0 || f.Channels > MaxChannels {
		return fmt.Errorf(errFmtChannelsRange, ErrInvalidFormat, MaxChannels, f.Channels)
	}

	return nil
}

// EncodeWAV frames float samples in [-1, 1] as a 16-bit PCM WAV container.
func EncodeWAV(samples []float32, format Format) ([]byte, error) {
	format.BitDepth = DefaultBitDepth

	formatErr := format.Validate()
	if formatErr != nil {
		return nil, formatErr
	}

	sink := &memoryFile{}
	encoder := wav.NewEncoder(sink, format.SampleRate, format.BitDepth, format.Channels, pcmAudioFormat)

	buffer := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
		Data:           floatsToPCM(samples),
		SourceBitDepth: format.BitDepth,
	}

	writeErr := encoder.Write(buffer)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to write wav samples: %w", writeErr)
	}

	closeErr := encoder.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to finalize wav header: %w", closeErr)
	}

	return sink.data, nil
}

// DecodeWAV reads an integer PCM or IEEE float WAV container and returns its
// interleaved samples scaled to [-1, 1] along with the container's framing.
func DecodeWAV(data []byte) ([]float32, Format, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, Format{}, ErrInvalidWAV
	}

	switch decoder.WavAudioFormat {
	case pcmAudioFormat:
	case floatAudioFormat:
		if decoder.BitDepth != floatBitDepth {
			return nil, Format{}, fmt.Errorf(errFmtFloatBitDepth, ErrUnsupportedWAV, decoder.BitDepth)
		}
	default:
		return nil, Format{}, fmt.Errorf(errFmtAudioFormat, ErrUnsupportedWAV, decoder.WavAudioFormat)
	}

	format := Format{
		SampleRate: int(decoder.SampleRate),
		BitDepth:   int(decoder.BitDepth),
		Channels:   int(decoder.NumChans),
	}

	formatErr := format.Validate()
	if formatErr != nil {
		return nil, Format{}, fmt.Errorf("%w: %w", ErrInvalidWAV, formatErr)
	}

	if decoder.WavAudioFormat == floatAudioFormat {
		samples, err := decodeFloat32(decoder)
		if err != nil {
			return nil, Format{}, err
		}

		return samples, format, nil
	}

	buffer, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, Format{}, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	return pcmToFloats(buffer.Data, format.BitDepth), format, nil
}

// DecodeMonoWAV is DecodeWAV followed by a down-mix to a single channel.
// The returned format reports the original channel count.
func DecodeMonoWAV(data []byte) ([]float32, Format, error) {
	samples, format, err := DecodeWAV(data)
	if err != nil {
		return nil, Format{}, err
	}

	return Downmix(samples, format.Channels), format, nil
}

// Downmix averages interleaved frames into mono. A trailing partial frame is
// dropped.
func Downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}

	mono := make([]float32, len(samples)/channels)

	for frame := range mono {
		var sum float32

		for _, sample := range samples[frame*channels : (frame+1)*channels] {
			sum += sample
		}

		mono[frame] = sum / float32(channels)
	}

	return mono
}

func decodeFloat32(decoder *wav.Decoder) ([]float32, error) {
	err := decoder.FwdToPCM()
	if err != nil || decoder.PCMChunk == nil {
		return nil, fmt.Errorf("%w: PCM chunk not found", ErrInvalidWAV)
	}

	raw, err := io.ReadAll(decoder.PCMChunk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}

	samples := make([]float32, len(raw)/floatBytes)

	for index := range samples {
		bits := binary.LittleEndian.Uint32(raw[index*floatBytes:])
		value := float64(math.Float32frombits(bits))

		if math.IsNaN(value) {
			value = 0
		}

		samples[index] = float32(math.Max(-1, math.Min(1, value)))
	}

	return samples, nil
}

func floatsToPCM(samples []float32) []int {
	pcm := make([]int, len(samples))

	for index, sample := range samples {
		clamped := math.Max(-1, math.Min(1, float64(sample)))
		pcm[index] = int(math.Round(clamped * maxInt16))
	}

	return pcm
}

// pcmToFloats scales integer PCM to [-1, 1]. 8-bit WAV samples are unsigned
// and centred on 128.
func pcmToFloats(pcm []int, bitDepth int) []float32 {
	scale := float64(int(1)<<(bitDepth-1) - 1)
	offset := 0

	if bitDepth == unsignedBitDepth {
		offset = unsignedMidpoint
	}

	samples := make([]float32, len(pcm))

	for index, value := range pcm {
		samples[index] = float32(math.Max(-1, math.Min(1, float64(value-offset)/scale)))
	}

	return samples
}

// memoryFile is an in-memory io.WriteSeeker for the WAV encoder, which
// rewrites the header sizes once all samples are written.
type memoryFile struct {
	data []byte
	pos  int
}

func (f *memoryFile) Write(p []byte) (int, error) {
	end := f.pos + len(p)
	if end > len(f.data) {
		f.data = append(f.data, make([]byte, end-len(f.data))...)
	}

	copy(f.data[f.pos:end], p)
	f.pos = end

	return len(p), nil
}

func (f *memoryFile) Seek(offset int64, whence int) (int64, error) {
	var base int64

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(f.pos)
	case io.SeekEnd:
		base = int64(len(f.data))
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}

	next := base + offset
	if next < 0 {
		return 0, fmt.Errorf("negative seek position %d", next)
	}

	f.pos = int(next)

	return next, nil
}
