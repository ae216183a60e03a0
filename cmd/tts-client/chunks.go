package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/client"
)

const (
	chunkFileFormat = "chunk_%03d.wav"
	wavExtension    = ".wav"
)

var errNoChunks = errors.New("no text chunks found")

// readChunksFile reads a JSON array of strings.
func readChunksFile(path string) ([]string, error) {
	// #nosec G304 -- the path is supplied by the operator on the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks file: %w", err)
	}

	var chunks []string

	err = json.Unmarshal(data, &chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunks JSON: %w", err)
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", errNoChunks, path)
	}

	return chunks, nil
}

// chunkOutputDir derives the output directory from --output; a .wav suffix
// is dropped so the default output name still works.
func chunkOutputDir(output string) string {
	if filepath.Ext(output) == wavExtension {
		return strings.TrimSuffix(output, wavExtension)
	}

	return output
}

// processChunks synthesizes every chunk in order over one connection. A
// failed chunk is logged and the rest still run; the last failure is returned.
func processChunks(
	ctx context.Context,
	conn *client.Client,
	flags appFlags,
	clientLog *logger.Logger,
	stdout io.Writer,
) error {
	chunks, err := readChunksFile(flags.chunks)
	if err != nil {
		return err
	}

	outputDir := chunkOutputDir(flags.output)
	clientLog.Info("Processing %d chunks from %s into %s", len(chunks), flags.chunks, outputDir)

	var lastError error

	for index, chunk := range chunks {
		req, buildErr := buildRequest(flags, chunk)
		if buildErr != nil {
			return buildErr
		}

		outputPath := filepath.Join(outputDir, fmt.Sprintf(chunkFileFormat, index+1))

		chunkErr := synthesizeTo(ctx, conn, req, outputPath, clientLog, stdout)
		if chunkErr != nil {
			lastError = fmt.Errorf("chunk %d failed: %w", index+1, chunkErr)
			clientLog.Error("Chunk %d/%d failed: %v", index+1, len(chunks), chunkErr)

			continue
		}

		clientLog.Info("Chunk %d/%d processed", index+1, len(chunks))
	}

	return lastError
}
