package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/codec"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/mattn/go-shellwords"
)

// ErrCommandEmpty is returned when the exec backend has no command configured.
var ErrCommandEmpty = errors.New("tts command cannot be empty")

// ExecModel implements core.Model by running a local synthesis program once per
// request. The program receives every parameter as a flag and writes a WAV
// file to the path given by --output. Output files are created in tempDir, or
// in the system temp directory when it is empty.
type ExecModel struct {
	command    []string
	device     string
	tempDir    string
	sampleRate int
	log        *logger.Logger
}

// NewExecModel parses command with shell quoting rules.
func NewExecModel(command, device, tempDir string, sampleRate int, log *logger.Logger) (*ExecModel, error) {
	args, err := shellwords.NewParser().Parse(command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tts command: %w", err)
	}

	if len(args) == 0 {
		return nil, ErrCommandEmpty
	}

	return &ExecModel{
		command:    args,
		device:     device,
		tempDir:    tempDir,
		sampleRate: sampleRate,
		log:        log,
	}, nil
}

// SampleRate returns the sample rate of generated audio.
func (m *ExecModel) SampleRate() int {
	return m.sampleRate
}

// Close is a no-op; each call starts its own process.
func (m *ExecModel) Close() error {
	return nil
}

// Generate runs the synthesis program and decodes the WAV it produced.
func (m *ExecModel) Generate(ctx context.Context, params core.GenerateParams) ([]float32, error) {
	tempFile, err := os.CreateTemp(m.tempDir, "tts-exec-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			m.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	args := append([]string{}, m.command[1:]...)
	args = append(args, m.flags(params, tempFile.Name())...)

	// #nosec G204 -- the binary comes from configuration and parameters are validated upstream
	cmd := exec.CommandContext(ctx, m.command[0], args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("tts command execution failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	samples, format, err := codec.DecodeMonoWAV(audioData)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tts command output: %w", err)
	}

	if format.SampleRate != m.sampleRate {
		return nil, fmt.Errorf("tts command produced %d Hz audio, expected %d Hz", format.SampleRate, m.sampleRate)
	}

	return samples, nil
}

func (m *ExecModel) flags(params core.GenerateParams, outputPath string) []string {
	flags := []string{
		"--text", params.Text,
		"--language-id", params.LanguageID,
		"--device", m.device,
		"--exaggeration", formatFloat(params.Exaggeration),
		"--temperature", formatFloat(params.Temperature),
		"--cfg-weight", formatFloat(params.CFGWeight),
		"--repetition-penalty", formatFloat(params.RepetitionPenalty),
		"--min-p", formatFloat(params.MinP),
		"--top-p", formatFloat(params.TopP),
		"--output", outputPath,
	}

	if params.AudioPromptPath != "" {
		flags = append(flags, "--audio-prompt", params.AudioPromptPath)
	}

	return flags
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
