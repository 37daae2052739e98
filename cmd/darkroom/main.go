package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tailored-agentic-units/darkroom/adjustment"
	"github.com/tailored-agentic-units/darkroom/bridge"
	"github.com/tailored-agentic-units/darkroom/launcher"
	"github.com/tailored-agentic-units/darkroom/session"
)

// defaultAddr keeps the bridge on loopback; it has no authentication.
const defaultAddr = "127.0.0.1:7420"

const usage = `Usage:
  darkroom edit  -source <raw> [-config <file>] [-out <jpg>] [-adjustment <in>] [-adjustment-out <out>]
  darkroom serve [-config <file>] [-addr 127.0.0.1:7420]`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "edit":
		err = runEdit(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func runEdit(args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	var (
		configFile    = fs.String("config", "", "Path to config file, JSON or YAML")
		source        = fs.String("source", "", "Raw file to edit (required)")
		out           = fs.String("out", "", "Where to write the rendered image (overrides session.output_dir)")
		adjustmentIn  = fs.String("adjustment", "", "Adjustment blob from an earlier edit")
		adjustmentOut = fs.String("adjustment-out", "", "Where to write the updated adjustment blob")
		editor        = fs.String("editor", "", "Interactive editor executable (overrides config)")
		renderer      = fs.String("renderer", "", "Headless renderer executable (overrides config)")
		verbose       = fs.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	fs.Parse(args)

	if *source == "" {
		fmt.Fprintln(os.Stderr, usage)
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *editor != "" {
		cfg.Session.Editor.Executable = *editor
	}
	if *renderer != "" {
		cfg.Render.Tool.Executable = *renderer
	}

	var prior *adjustment.Blob
	if *adjustmentIn != "" {
		if prior, err = readBlob(*adjustmentIn); err != nil {
			return err
		}
	}

	l, err := launcher.New(cfg, launcher.WithLogger(newLogger(*verbose)))
	if err != nil {
		return fmt.Errorf("failed to create launcher: %w", err)
	}
	defer l.Close(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := l.Edit(ctx, session.Input{SourcePath: *source, OutputPath: *out}, prior)
	if err != nil {
		return fmt.Errorf("edit failed: %w", err)
	}

	fmt.Printf("Rendered: %s\n", res.ArtifactPath)

	if res.Adjustment == nil {
		fmt.Println("Adjustment: none produced")
		return nil
	}
	if *adjustmentOut == "" {
		fmt.Printf("Adjustment: %d bytes (%s v%s)\n", len(res.Adjustment.Data), res.Adjustment.Identity, res.Adjustment.Version)
		return nil
	}
	if err := writeBlob(*adjustmentOut, res.Adjustment); err != nil {
		return err
	}
	fmt.Printf("Adjustment: %s\n", *adjustmentOut)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var (
		configFile = fs.String("config", "", "Path to config file, JSON or YAML")
		addr       = fs.String("addr", defaultAddr, "Listen address; the bridge has no authentication")
		metrics    = fs.Bool("metrics", false, "Serve Prometheus metrics (overrides config)")
		verbose    = fs.Bool("verbose", false, "Enable verbose logging to stderr")
	)
	fs.Parse(args)

	cfg, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *metrics {
		cfg.Metrics = true
	}

	logger := newLogger(*verbose)

	l, err := launcher.New(cfg, launcher.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create launcher: %w", err)
	}

	opts := []bridge.Option{
		bridge.WithChecks(l.Checks()),
		bridge.WithObserver(l.Observer()),
	}
	if reg := l.Registry(); reg != nil {
		opts = append(opts, bridge.WithRegistry(reg))
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           bridge.NewServer(l.Manager(), opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		logger.Info("bridge listening", "addr", *addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err = <-errc:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err = srv.Shutdown(shutdownCtx)
	}

	closeErr := l.Close(context.Background())
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return errors.Join(err, closeErr)
}

func loadConfig(path string) (*launcher.Config, error) {
	if path == "" {
		cfg := launcher.DefaultConfig()
		return &cfg, nil
	}
	cfg, err := launcher.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
