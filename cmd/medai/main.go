package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/bdougie/medai/internal/analyzer"
	"github.com/bdougie/medai/internal/config"
	"github.com/bdougie/medai/internal/embeddings"
	"github.com/bdougie/medai/internal/extractor"
	"github.com/bdougie/medai/internal/gateway"
	"github.com/bdougie/medai/internal/server"
	"github.com/bdougie/medai/internal/storage"
)

const usage = `Usage: medai <command> [flags]

Commands:
  prescription -file <image>           read a prescription image
  posture -file <video> [-frames n]    analyze exercise posture frame by frame
          [-whole]                      or send the whole video at once
  chat -q <question>                   ask a general health question
  notes -file <audio>                  transcribe a visit and write notes
  history [-clear] [-search q]         show, clear or search past results
  serve [-addr :8080]                  run the HTTP API
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}
	withModel := !historyOnly[args[0]]
	validate := cfg.Validate
	if !withModel {
		validate = cfg.ValidateHistory
	}
	if err := validate(); err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 2
	}

	logger := newLogger(stderr, cfg.LogLevel)
	a, err := newApp(ctx, cfg, logger, stdout, withModel)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer a.close()

	if err := cmd(ctx, a, args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		logger.Error("command failed", "command", args[0], "error", err)
		return 1
	}
	return 0
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}),
	)
}

// app bundles the dependencies every command shares. analyzer is nil for
// commands that only touch history.
type app struct {
	cfg      *config.Config
	analyzer *analyzer.Analyzer
	history  storage.History
	logger   *slog.Logger
	out      io.Writer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, withModel bool) (*app, error) {
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working directory: %w", err)
	}

	var embedder *embeddings.Service
	if cfg.EmbeddingModel != "" {
		embedder = embeddings.NewService(
			embeddings.NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, cfg.EmbeddingModel, cfg.EmbeddingDim),
		)
	}
	history, err := storage.Open(ctx, storage.Options{
		Backend:      cfg.HistoryBackend,
		JSONPath:     cfg.HistoryPath(),
		SQLitePath:   cfg.SQLitePath,
		PostgresURL:  cfg.PostgresURL,
		Embedder:     embedder,
		EmbeddingDim: cfg.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}

	a := &app{
		cfg:     cfg,
		history: history,
		logger:  logger,
		out:     out,
	}
	if !withModel {
		return a, nil
	}

	client, err := newClient(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	sampler := extractor.NewSampler(extractor.NewFFmpeg(), "", logger)
	a.analyzer = analyzer.New(client, sampler, logger, analyzer.WithFrameCount(cfg.Frames))
	return a, nil
}

func newClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (gateway.Client, error) {
	switch cfg.Backend {
	case config.BackendOllama:
		c, err := gateway.NewOllama(ctx, cfg.OllamaURL, cfg.OllamaModel, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to ollama: %w", err)
		}
		return c, nil
	default:
		return gateway.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model, logger), nil
	}
}

func (a *app) close() {
	if err := a.history.Close(); err != nil {
		a.logger.Warn("failed to close history", "error", err)
	}
}

func serve(ctx context.Context, a *app, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.New(a.analyzer, a.history, a.cfg.WorkDir, a.logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// model calls on long videos can take minutes
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
