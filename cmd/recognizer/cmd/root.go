// Package cmd implements the recognizer CLI's subcommands, one per input
// source (microphone, audio file, video file), sharing a common bootstrap:
// load configuration, build the selected recognition backend, wire an
// AudioProcessor, serve its events over a websocket, and run until the
// source is exhausted or the process receives a signal.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Cirno10124/stream-recognizer-go/internal/audiosource"
	"github.com/Cirno10124/stream-recognizer-go/internal/config"
	"github.com/Cirno10124/stream-recognizer-go/internal/feedback"
	"github.com/Cirno10124/stream-recognizer-go/internal/orchestrator"
	"github.com/Cirno10124/stream-recognizer-go/internal/pipeline"
	"github.com/Cirno10124/stream-recognizer-go/internal/session"
	"github.com/Cirno10124/stream-recognizer-go/internal/subtitle"
	"github.com/Cirno10124/stream-recognizer-go/internal/wsserver"
	"github.com/Cirno10124/stream-recognizer-go/pkg/recognizer"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "recognizer",
	Short: "Streaming speech recognition over microphone, audio, or video input",
	Long: `recognizer captures audio from a live microphone, a pre-recorded
audio file, or a video file's audio track, segments it on speech
boundaries, transcribes each segment against a configurable backend
(an in-process model, a local precise-recognition service, or an
OpenAI-compatible cloud endpoint), and serves the merged, ordered
transcript to a local UI over a websocket while also exporting it as
SRT/VTT subtitles and a JSON session record.`,
}

// Execute runs the root command, exiting the process non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file to load before reading configuration")

	rootCmd.AddCommand(newListenCmd())
	rootCmd.AddCommand(newFileCmd())
	rootCmd.AddCommand(newVideoCmd())
}

func initLogging() {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			logrus.WithField("env_file", envFile).Debug("no environment file loaded")
		}
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// buildBackend selects and constructs the one active recognition backend
// per cfg.Recognition.Mode.
func buildBackend(cfg config.Config) (pipeline.Backend, error) {
	switch cfg.Recognition.Mode {
	case config.ModePreciseHTTP:
		return recognizer.NewPreciseHTTP(cfg.Recognition.PreciseServerURL, recognizer.PreciseParams{
			Language: cfg.Recognition.Language,
			UseGPU:   cfg.Recognition.UseGPU,
		}), nil
	case config.ModeCloudHTTP:
		if cfg.Recognition.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("cmd: cloud recognition mode requires OPENAI_API_KEY")
		}
		return recognizer.NewCloudHTTP(cfg.Recognition.OpenAIAPIKey, cfg.Recognition.OpenAIServerURL, cfg.Recognition.OpenAIModel), nil
	case config.ModeFastLocal:
		provider := ""
		if cfg.Recognition.UseGPU {
			provider = "cuda"
		}
		return recognizer.NewFastLocal(recognizer.FastLocalConfig{
			Encoder:  os.Getenv("FASTLOCAL_ENCODER"),
			Decoder:  os.Getenv("FASTLOCAL_DECODER"),
			Tokens:   os.Getenv("FASTLOCAL_TOKENS"),
			Language: cfg.Recognition.Language,
			Provider: provider,
		})
	default:
		return nil, fmt.Errorf("cmd: unknown recognition mode %q", cfg.Recognition.Mode)
	}
}

// runSession wires a processor around source, starts it, serves its events
// over a websocket, and blocks until the source finishes or the process is
// signaled, then stops the processor and exports the transcript.
func runSession(source audiosource.Source, sourcePath string) error {
	cfg := config.Load()

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}
	if closer, ok := backend.(interface{ Close() }); ok {
		defer closer.Close()
	}

	bus := feedback.NewEventBus(256)
	defer bus.Stop()
	sessions := session.NewManager()
	subtitles := subtitle.NewStore()

	ws := wsserver.New(bus)
	defer ws.Close()
	httpServer := &http.Server{Addr: cfg.WsAddr, Handler: ws.Handler()}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("websocket server exited unexpectedly")
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	proc := orchestrator.NewAudioProcessor(cfg, backend, source, bus, sessions, subtitles)

	if cfg.Recognition.TargetLanguage != "" {
		translator, err := recognizer.NewTranslator(recognizer.TranslatorConfig{
			APIKey:         cfg.Recognition.OpenAIAPIKey,
			ServerURL:      cfg.Recognition.OpenAIServerURL,
			Model:          cfg.Recognition.TranslationModel,
			TargetLanguage: cfg.Recognition.TargetLanguage,
		})
		if err != nil {
			logrus.WithError(err).Warn("translation disabled")
		} else {
			proc.SetTranslator(translator, cfg.Recognition.DualLanguage)
		}
	}

	if err := proc.StartProcessing(sourcePath); err != nil {
		return fmt.Errorf("cmd: start processing: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	done := make(chan struct{})
	go func() {
		waitForSourceDrain(source)
		close(done)
	}()

	select {
	case <-sigCtx.Done():
		logrus.Info("interrupted, shutting down")
	case <-done:
		logrus.Info("input exhausted, shutting down")
	}

	if err := proc.StopProcessing(); err != nil {
		logrus.WithError(err).Warn("error during shutdown")
	}

	exportSession(sessions, proc.SessionID(), subtitles)
	return nil
}

// waitForSourceDrain returns at once for AudioFile/VideoFile sources: their
// Start runs synchronously inside StartProcessing, so the replay has already
// completed by the time this is called. Microphone.Start returns as soon as
// capture begins, so for the microphone this blocks forever and only the
// signal path ends the session.
func waitForSourceDrain(source audiosource.Source) {
	if _, ok := source.(*audiosource.Microphone); ok {
		select {}
	}
	// AudioFile/VideoFile.Start already ran to completion by the time
	// runSession reaches here (it's invoked synchronously inside
	// StartProcessing); nothing further to wait for.
}

func exportSession(sessions *session.Manager, sessionID string, subtitles *subtitle.Store) {
	if path, err := sessions.ExportSession(sessionID); err != nil {
		logrus.WithError(err).Warn("failed to export session transcript")
	} else {
		logrus.WithField("path", path).Info("session transcript exported")
	}

	if subtitles.Count() == 0 {
		return
	}
	if err := subtitles.ExportSRT(sessionID + ".srt"); err != nil {
		logrus.WithError(err).Warn("failed to export SRT subtitles")
	}
	if err := subtitles.ExportVTT(sessionID + ".vtt"); err != nil {
		logrus.WithError(err).Warn("failed to export VTT subtitles")
	}
}
