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

	"github.com/alecthomas/kong"
	"github.com/aluiziolira/go-scrape-images/app"
	"github.com/aluiziolira/go-scrape-images/config"
	"github.com/aluiziolira/go-scrape-images/events"
	"github.com/aluiziolira/go-scrape-images/metrics"
	"github.com/aluiziolira/go-scrape-images/models"
	"github.com/aluiziolira/go-scrape-images/pipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := NewMain()
	if err := m.Run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// Main represents the program.
type Main struct {
	// EnvFile is loaded before flags are parsed. Missing files are ignored.
	EnvFile string

	// Transport replaces the network for end-to-end testing.
	Transport http.RoundTripper
}

// NewMain returns a new instance of Main with defaults.
func NewMain() *Main {
	return &Main{EnvFile: ".env"}
}

// Run executes the CLI with the given arguments.
func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if err := config.LoadDotEnv(m.EnvFile); err != nil {
		return err
	}

	deps := &Dependencies{
		Ctx:    ctx,
		Stdout: stdout,
		Stderr: stderr,
	}

	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("harvester"),
		kong.Description("Scrape web pages for image URLs and download them"),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
		kong.Bind(deps),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no command specified. Run 'harvester --help' to see available commands")
	}
	if args[0] == "help" || args[0] == "--help" || args[0] == "-h" {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	deps.Config = cfg

	logger, level := newLogger(cfg.Verbose, stderr)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	collectors := metrics.NewMetrics()
	if cfg.MetricsAddr != "" {
		server := startMetricsServer(cfg.MetricsAddr, collectors)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	a, err := app.New(cfg, app.Deps{
		Sink:      events.LogSink{Logger: logger},
		Metrics:   collectors,
		Transport: m.Transport,
	})
	if err != nil {
		return err
	}
	deps.App = a

	return kongCtx.Run(deps)
}

// loadConfig layers defaults, the YAML file, HARVESTER_* variables and flags.
func loadConfig(cli *CLI) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if cli.Config != "" {
		if err := cfg.LoadFile(cli.Config); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	cli.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func startMetricsServer(addr string, m *metrics.Metrics) *http.Server {
	server := &http.Server{
		Addr:    addr,
		Handler: promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		return pipeline.NewDualWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// exportCandidates streams candidates through the validation pipeline into
// the configured output file.
func exportCandidates(cfg *config.Config, candidates []*models.Candidate) (map[string]interface{}, error) {
	if cfg.OutputFile == "" {
		return nil, fmt.Errorf("no output file configured")
	}
	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		return nil, fmt.Errorf("creating writer: %w", err)
	}

	p := pipeline.NewPipeline(writer, cfg.PipelineBufferSize, cfg.BatchSize)
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	if err := p.Process(candidates...); err != nil {
		p.Close()
		return nil, fmt.Errorf("pipeline process: %w", err)
	}
	if err := p.Close(); err != nil {
		return nil, fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	if len(candidates) > 0 {
		if err := writer.Validate(); err != nil {
			return nil, fmt.Errorf("output validation failed: %w", err)
		}
	}
	return p.GetMetrics(), nil
}

func printScrapeSummary(w io.Writer, result *models.ScrapeResult, stats map[string]interface{}, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintf(w, "Found %d images.\n", len(result.Candidates))
	fmt.Fprintf(w, "  Seeds:         %d\n", len(result.Seeds))
	fmt.Fprintf(w, "  Failed seeds:  %d\n", len(result.FailedSeeds))
	for _, f := range result.FailedSeeds {
		fmt.Fprintf(w, "    %s: %v\n", f.URL, f.Err)
	}
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := stats["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Bytes fetched: %d\n", result.BytesFetched)
	fmt.Fprintf(w, "  Duration:      %v\n", result.EndTime.Sub(result.StartTime).Round(time.Millisecond))
	if outputFile != "" {
		fmt.Fprintf(w, "  Output file:   %s\n", outputFile)
	}
	fmt.Fprintln(w, separator)
}

func printDownloadSummary(w io.Writer, report *models.DownloadReport, dest string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintf(w, "Downloaded %d of %d image(s) to %s\n", report.Saved, len(report.Outcomes), dest)
	for _, o := range report.Outcomes {
		if o.Status == models.OutcomeSaved {
			fmt.Fprintf(w, "  saved   %s -> %s\n", o.Task.URL, o.Path)
			continue
		}
		fmt.Fprintf(w, "  failed  %s: %v\n", o.Task.URL, o.Err)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", report.EndTime.Sub(report.StartTime).Round(time.Millisecond))
	fmt.Fprintln(w, separator)
}

func newLogger(verbose bool, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
