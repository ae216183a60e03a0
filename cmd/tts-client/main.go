// Command tts-client sends a single request to a tts-gateway and saves the
// returned audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/client"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/ttsutils"
)

// Flag names.
const (
	flagURL       = "url"
	flagText      = "text"
	flagLanguage  = "language"
	flagReference = "reference"
	flagOutput    = "output"
	flagPing      = "ping"
	flagChunks    = "chunks"
	flagTimeout   = "timeout"
)

// Flag descriptions.
const (
	flagURLDesc       = "Gateway WebSocket URL"
	flagTextDesc      = "Text to convert to speech"
	flagLanguageDesc  = "Language id (defaults to the server's default language)"
	flagReferenceDesc = "Reference voice sample (.wav) to clone"
	flagOutputDesc    = "Output file path (.wav)"
	flagPingDesc      = "Ping the gateway and exit"
	flagChunksDesc    = "JSON file containing an array of text chunks to synthesize in order"
	flagTimeoutDesc   = "Overall request timeout"
)

// Defaults.
const (
	defaultURL        = "ws://localhost:8000"
	defaultOutputFile = "output.wav"
	defaultTimeout    = 5 * time.Minute
	logFileName       = "tts-client.log"
	outputPermissions = 0o600
)

// Messages.
const (
	errTextRequired       = "Either --text, --chunks or --ping must be provided"
	errCannotSpecifyBoth  = "Only one of --text, --chunks and --ping may be given"
	logConnected          = "Connected to %s: %s (device %s, default language %s)"
	logLanguages          = "Supported languages: %s\n"
	logPong               = "Pong: %s\n"
	logGenerated          = "Generated: %s (%s, %d Hz, %s)\n"
	errFailedToReadRef    = "failed to read reference audio %s: %w"
	errFailedToWriteAudio = "failed to write audio to %s: %w"
)

var (
	errMissingText   = errors.New(errTextRequired)
	errConflictFlags = errors.New(errCannotSpecifyBoth)
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	url       string
	text      string
	language  string
	reference string
	output    string
	ping      bool
	chunks    string
	timeout   time.Duration
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	err = validateArguments(flags)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	conn, err := client.Dial(ctx, flags.url)
	if err != nil {
		clientLog.Error("Failed to connect: %v", err)

		return err
	}
	defer conn.Close()

	info := conn.Info()
	clientLog.Info(logConnected, flags.url, info.Message, info.Device, info.DefaultLanguage)
	fmt.Fprintf(stdout, logLanguages, strings.Join(info.SupportedLanguages, ", "))

	if flags.ping {
		message, pingErr := conn.Ping(ctx)
		if pingErr != nil {
			return pingErr
		}

		fmt.Fprintf(stdout, logPong, message)

		return nil
	}

	if flags.chunks != "" {
		return processChunks(ctx, conn, flags, clientLog, stdout)
	}

	return synthesize(ctx, conn, flags, clientLog, stdout)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("tts-client", flag.ContinueOnError)
	flagSet.StringVar(&flags.url, flagURL, defaultURL, flagURLDesc)
	flagSet.StringVar(&flags.text, flagText, "", flagTextDesc)
	flagSet.StringVar(&flags.language, flagLanguage, "", flagLanguageDesc)
	flagSet.StringVar(&flags.reference, flagReference, "", flagReferenceDesc)
	flagSet.StringVar(&flags.output, flagOutput, defaultOutputFile, flagOutputDesc)
	flagSet.BoolVar(&flags.ping, flagPing, false, flagPingDesc)
	flagSet.StringVar(&flags.chunks, flagChunks, "", flagChunksDesc)
	flagSet.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// validateArguments checks for required and conflicting arguments.
func validateArguments(flags appFlags) error {
	modes := 0

	for _, set := range []bool{flags.ping, flags.text != "", flags.chunks != ""} {
		if set {
			modes++
		}
	}

	if modes > 1 {
		return errConflictFlags
	}

	if !flags.ping && flags.chunks == "" && strings.TrimSpace(flags.text) == "" {
		return errMissingText
	}

	return nil
}

// buildRequest turns the flags into a synthesis request, reading the
// reference sample from disk when one is given.
func buildRequest(flags appFlags, text string) (client.Request, error) {
	req := client.Request{Text: text}

	if flags.language != "" {
		language := flags.language
		req.Config = core.PartialConfig{LanguageID: &language}
	}

	if flags.reference != "" {
		// #nosec G304 -- the path is supplied by the operator on the command line
		reference, err := os.ReadFile(flags.reference)
		if err != nil {
			return req, fmt.Errorf(errFailedToReadRef, flags.reference, err)
		}

		req.Reference = reference
	}

	return req, nil
}

func synthesize(
	ctx context.Context,
	conn *client.Client,
	flags appFlags,
	clientLog *logger.Logger,
	stdout io.Writer,
) error {
	req, err := buildRequest(flags, flags.text)
	if err != nil {
		return err
	}

	return synthesizeTo(ctx, conn, req, flags.output, clientLog, stdout)
}

// synthesizeTo runs one request and writes the audio to outputPath.
func synthesizeTo(
	ctx context.Context,
	conn *client.Client,
	req client.Request,
	outputPath string,
	clientLog *logger.Logger,
	stdout io.Writer,
) error {
	started := time.Now()

	result, err := conn.Synthesize(ctx, req)
	if err != nil {
		clientLog.Error("Synthesis failed: %v", err)

		return err
	}

	err = ttsutils.EnsureDir(filepath.Dir(outputPath))
	if err != nil {
		return err
	}

	err = os.WriteFile(outputPath, result.Audio, outputPermissions)
	if err != nil {
		return fmt.Errorf(errFailedToWriteAudio, outputPath, err)
	}

	clientLog.Info("%s in %s", result.Message, ttsutils.FormatDuration(time.Since(started)))
	fmt.Fprintf(stdout, logGenerated, outputPath, ttsutils.FormatFileSize(len(result.Audio)),
		result.SampleRate, result.Language)

	return nil
}
