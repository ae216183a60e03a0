// main package for the tts-gateway
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/config"
	"github.com/book-expert/tts-gateway/internal/core"
	"github.com/book-expert/tts-gateway/internal/device"
	"github.com/book-expert/tts-gateway/internal/gateway"
	"github.com/book-expert/tts-gateway/internal/inference"
	"github.com/book-expert/tts-gateway/internal/objectstore"
	"github.com/book-expert/tts-gateway/internal/server"
	"github.com/book-expert/tts-gateway/internal/tts"
	"github.com/book-expert/tts-gateway/internal/ttsutils"
	"github.com/book-expert/tts-gateway/internal/validate"
	"github.com/book-expert/tts-gateway/internal/worker"
	"github.com/nats-io/nats.go"
)

const (
	bootstrapLogFile = "tts-gateway-bootstrap.log"
	serviceLogFile   = "tts-gateway.log"
)

// cliFlags override the loaded configuration.
type cliFlags struct {
	host       string
	port       int
	configPath string
}

func parseFlags(args []string) (cliFlags, error) {
	var flags cliFlags

	flagSet := flag.NewFlagSet("tts-gateway", flag.ContinueOnError)
	flagSet.StringVar(&flags.host, "host", "", "Host to bind the server to (default from config, localhost)")
	flagSet.IntVar(&flags.port, "port", 0, "Port to bind the server to (default from config, 8000)")
	flagSet.StringVar(&flags.configPath, "config", "", "Path to a TOML config file instead of project.toml")

	err := flagSet.Parse(args)
	if err != nil {
		return flags, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, nil
}

// apply writes explicitly set flags over cfg.
func (f cliFlags) apply(cfg *config.Config) error {
	if f.host != "" {
		cfg.Server.Host = f.host
	}

	if f.port != 0 {
		cfg.Server.Port = f.port
	}

	return cfg.Validate()
}

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func loadConfig(flags cliFlags, log *logger.Logger) (*config.Config, error) {
	if flags.configPath == "" {
		return config.Load(log)
	}

	// #nosec G304 -- the path is supplied by the operator on the command line
	data, err := os.ReadFile(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", flags.configPath, err)
	}

	return config.Parse(data, log)
}

func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		// If bootstrap logger fails, we can only print to stderr
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}
	defer bootstrapLog.Close()

	// 2. Load configuration and apply command-line overrides
	cfg, err := loadConfig(flags, bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = flags.apply(cfg)
	if err != nil {
		bootstrapLog.Error("Invalid command-line overrides: %v", err)

		return err
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	logDir := cfg.Paths.BaseLogsDir
	if logDir == "" {
		logDir = os.TempDir()
	}

	err = ttsutils.EnsureDir(logDir)
	if err != nil {
		return err
	}

	finalLog, err := setupLogger(logDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	err := ttsutils.EnsureDir(cfg.Paths.TempDir)
	if err != nil {
		return err
	}

	selected := device.HostProber().Select(cfg.Model.Device)
	log.Info("Selected device: %s", selected)

	modelOptions := tts.Options{
		Backend:    cfg.Model.Backend,
		ServiceURL: cfg.Model.ServiceURL,
		Command:    cfg.Model.Command,
		SampleRate: cfg.Model.SampleRate,
		Timeout:    cfg.ModelTimeout(),
		TempDir:    cfg.Paths.TempDir,
	}

	handle := tts.NewHandle(selected, func(ctx context.Context, device string) (core.Model, error) {
		return tts.Load(ctx, device, modelOptions, log)
	}, log)

	defer func() {
		closeErr := handle.Close()
		if closeErr != nil {
			log.Warn("Failed to close model: %v", closeErr)
		}
	}()

	pool := inference.NewPool(cfg.Inference.Workers)
	defer pool.Close()

	validator := validate.New(validate.Options{MaxChars: cfg.Text.MaxChars, Normalize: cfg.Text.Normalize}, log)
	synth := gateway.New(handle, pool, cfg.Paths.TempDir, log)
	srv := server.New(cfg, handle, synth, validator, log)

	if !cfg.BridgeEnabled() {
		return srv.ListenAndServe(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// The model must be up before jobs are accepted from NATS as well.
	err = handle.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", server.ErrModelLoad, err)
	}

	bridgeErr := make(chan error, 1)

	go func() {
		runErr := runBridge(ctx, cfg, validator, synth, log)
		if runErr != nil {
			log.Error("Job bridge stopped: %v", runErr)
			cancel()
		}

		bridgeErr <- runErr
	}()

	serveErr := srv.ListenAndServe(ctx)
	cancel()

	return errors.Join(serveErr, <-bridgeErr)
}

// runBridge connects to NATS and serves synthesis jobs until ctx ends.
func runBridge(
	ctx context.Context,
	cfg *config.Config,
	validator *validate.Validator,
	synth worker.Synthesizer,
	log *logger.Logger,
) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name("tts-gateway"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	texts, err := objectstore.Open(jetstreamContext, cfg.NATS.TextBucket)
	if err != nil {
		return err
	}

	audio, err := objectstore.Open(jetstreamContext, cfg.NATS.AudioBucket)
	if err != nil {
		return err
	}

	bridge := worker.NewNatsWorker(
		natsConnection,
		cfg.NATS.Subject,
		worker.Stores{Text: texts, Audio: audio},
		validator,
		synth,
		cfg.ModelTimeout(),
		log,
	)

	return bridge.Run(ctx)
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
