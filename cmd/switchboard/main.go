package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aschepis/backscratcher/switchboard/config"
	"github.com/aschepis/backscratcher/switchboard/dispatch"
	"github.com/aschepis/backscratcher/switchboard/llm"
	switchlogger "github.com/aschepis/backscratcher/switchboard/logger"
	"github.com/aschepis/backscratcher/switchboard/pipeline"
	"github.com/aschepis/backscratcher/switchboard/telemetry"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Parse command-line flags
	var (
		configPath  = flag.String("config", config.GetConfigPath(), "Path to config file")
		provider    = flag.String("provider", "", "Provider to call (default: first enabled provider)")
		model       = flag.String("model", "", "Model override")
		system      = flag.String("system", "", "System prompt")
		prompt      = flag.String("prompt", "", "Prompt text. If not set, read from stdin")
		stream      = flag.Bool("stream", false, "Stream the response")
		noCache     = flag.Bool("no-cache", false, "Bypass the response cache")
		logFile     = flag.String("logfile", "", "Path to log file. If not set, logs to stderr")
		pretty      = flag.Bool("pretty", false, "Use pretty console output (only valid when logfile is not set)")
		metricsAddr = flag.String("metrics-addr", "", "Serve prometheus metrics on this address while running")
		stats       = flag.Bool("stats", false, "Print cache and breaker statistics after the call")
	)
	flag.Parse()

	// Validate that --logfile and --pretty are mutually exclusive
	if *logFile != "" && *pretty {
		return fmt.Errorf("--logfile and --pretty are mutually exclusive")
	}

	logger, err := switchlogger.InitWithOptions(*logFile, *pretty)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	text, err := readPrompt(*prompt)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logs := telemetry.NewLogObserver(logger)
	logs.Start()
	defer logs.Stop()

	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, logger)
		defer shutdown()
	}

	rt, err := dispatch.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start runtime: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn().Err(err).Msg("Runtime shutdown incomplete")
		}
	}()

	if *provider == "" {
		if *provider, err = rt.DefaultProvider(); err != nil {
			return err
		}
	}

	payload := llm.Request{
		Model:    *model,
		System:   *system,
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, text)},
	}
	opts := pipeline.Options{NoCache: *noCache}

	if *stream {
		err = streamChat(ctx, rt, *provider, payload, opts)
	} else {
		err = chat(ctx, rt, *provider, payload, opts)
	}
	if err != nil {
		return err
	}

	if *stats {
		printStats(rt)
	}
	return nil
}

func readPrompt(prompt string) (string, error) {
	if prompt != "" {
		return prompt, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("empty prompt")
	}
	return text, nil
}

func chat(ctx context.Context, rt *dispatch.Runtime, provider string, payload llm.Request, opts pipeline.Options) error {
	resp, req, err := rt.Chat(ctx, provider, payload, opts)
	if err != nil {
		return err
	}
	fmt.Println(resp.Text())
	if hit, _ := req.Assigns[pipeline.AssignCacheHit].(bool); hit {
		fmt.Fprintln(os.Stderr, "(cached)")
	}
	return nil
}

func streamChat(ctx context.Context, rt *dispatch.Runtime, provider string, payload llm.Request, opts pipeline.Options) error {
	events, err := rt.StreamChat(ctx, provider, payload, opts)
	if err != nil {
		return err
	}
	for event, err := range events.All() {
		if err != nil {
			return fmt.Errorf("stream failed: %w", err)
		}
		if event.Delta != nil && event.Delta.Type == llm.StreamDeltaTypeText {
			fmt.Print(event.Delta.Text)
		}
	}
	fmt.Println()
	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) func() {
	metrics := telemetry.NewMetrics()
	metrics.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		metrics.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printStats(rt *dispatch.Runtime) {
	s := rt.CacheStats()
	fmt.Fprintf(os.Stderr, "cache: hits=%d misses=%d evictions=%d errors=%d hit_rate=%.2f\n",
		s.Hits, s.Misses, s.Evictions, s.Errors, s.HitRate())
	if wb := rt.WriteBehindStats(); wb.Submitted > 0 {
		fmt.Fprintf(os.Stderr, "recorder: submitted=%d written=%d failed=%d dropped=%d\n",
			wb.Submitted, wb.Written, wb.Failed, wb.Dropped)
	}
	for _, b := range rt.Breakers() {
		fmt.Fprintf(os.Stderr, "breaker %s: %s (failures=%d)\n", b.Name, b.State, b.FailureCount)
	}
}
