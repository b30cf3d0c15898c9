// Command carousel captures a web page from a chosen section down and
// slices it into equally shaped images for a carousel post.
//
// Usage:
//
//	carousel -url https://example.com -select '#pricing'   # start at an element
//	carousel -url https://example.com -offset 1200         # start at a y offset
//	carousel -url https://example.com                      # click to pick (visible Chrome)
//	carousel -serve -config carousel.yaml                  # HTTP API + MCP
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/carousel/capture"
	"github.com/hazyhaar/carousel/shield"
)

const version = "0.3.0"

var errUsage = errors.New("usage: carousel -url <url> [-select <css> | -offset <px>] | -serve [-config <file>]")

type options struct {
	configPath string
	url        string
	selector   string
	offset     float64
	serve      bool
	addr       string
	mode       string
	aspect     string
	percent    int
	out        string
}

func main() {
	_ = godotenv.Load()

	var o options
	flag.StringVar(&o.configPath, "config", env("CAROUSEL_CONFIG", ""), "path to carousel.yaml config file")
	flag.StringVar(&o.url, "url", "", "capture a single URL and exit")
	flag.StringVar(&o.selector, "select", "", "start at the section containing this CSS selector")
	flag.Float64Var(&o.offset, "offset", -1, "start at this vertical offset in CSS pixels")
	flag.BoolVar(&o.serve, "serve", false, "serve the HTTP API and MCP tools")
	flag.StringVar(&o.addr, "addr", env("CAROUSEL_ADDR", ""), "listen address (default from config)")
	flag.StringVar(&o.mode, "mode", env("CAROUSEL_MODE", ""), "browser mode: headless, xvfb, visible")
	flag.StringVar(&o.aspect, "aspect", "", `aspect ratio: "1:1", "4:5", "1.91:1", "9:16" or "W:H"`)
	flag.IntVar(&o.percent, "percent", 0, "percentage of the page below the start to capture (1-100)")
	flag.StringVar(&o.out, "out", "", "download directory for archives")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		stop()
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		logger.Error("carousel: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	switch {
	case o.serve:
		return runServe(ctx, logger, cfg, o)
	case o.url != "":
		return runOnce(ctx, logger, cfg, o)
	}
	return errUsage
}

func loadConfig(o options) (*capture.Config, error) {
	cfg := capture.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = capture.LoadConfigFile(o.configPath); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	if v := os.Getenv("CAROUSEL_REMOTE"); v != "" {
		cfg.Browser.Remote = v
	}
	if v := os.Getenv("CHROME_BIN"); v != "" {
		cfg.Browser.Bin = v
	}
	if o.mode != "" {
		cfg.Browser.Mode = o.mode
	}
	if o.addr != "" {
		cfg.Server.Addr = o.addr
	}
	if o.out != "" {
		cfg.Sinks = append(cfg.Sinks, capture.SinkConfig{Type: "dir", Path: o.out})
	}
	return cfg, cfg.Validate()
}

// runOnce captures one page and prints the result as JSON on stdout.
func runOnce(ctx context.Context, logger *slog.Logger, cfg *capture.Config, o options) error {
	interactive := o.selector == "" && o.offset < 0
	if interactive && cfg.Browser.Mode == "headless" && cfg.Browser.Remote == "" {
		logger.Info("carousel: no -select or -offset given, opening a visible browser to pick the start")
		cfg.Browser.Mode = "visible"
	}
	if len(cfg.Sinks) == 0 {
		cfg.Sinks = []capture.SinkConfig{{Type: "dir", Path: "."}}
	}
	// The URL comes from the local user, not a remote caller.
	cfg.Server.AllowPrivateURLs = true

	sinks, err := capture.SinksFromConfig(cfg.Sinks, logger)
	if err != nil {
		return err
	}
	c := capture.New(cfg, logger, capture.WithSinks(sinks...))
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	pageID, err := c.OpenPage(ctx, o.url)
	if err != nil {
		return err
	}
	m, err := c.PrepareMessage(ctx, capture.PrepareRequest{PageID: pageID, AspectRatio: o.aspect, Percentage: o.percent})
	if err != nil {
		return err
	}
	if err := c.Prepare(ctx, m); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}

	var res *capture.Result
	switch {
	case o.selector != "":
		if err := c.SelectElement(ctx, pageID, o.selector); err != nil {
			return err
		}
		res, err = c.Wait(ctx, pageID)
	case o.offset >= 0:
		res, err = c.CaptureFromOffset(ctx, capture.StartCaptureFromOffset{PageID: pageID, Offset: o.offset})
	default:
		logger.Info("carousel: click on the desired starting section in the browser window")
		res, err = c.Wait(ctx, pageID)
	}
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// runServe exposes the capturer over HTTP and MCP until ctx is done.
func runServe(ctx context.Context, logger *slog.Logger, cfg *capture.Config, o options) error {
	prefs, db, err := capture.OpenPreferenceStore(ctx, cfg.Preferences)
	if err != nil {
		return fmt.Errorf("preferences db: %w", err)
	}
	defer db.Close()

	history, err := capture.OpenHistory(ctx, db, logger, cfg.Preferences.HistoryRetention)
	if err != nil {
		return fmt.Errorf("capture history: %w", err)
	}
	defer history.Close()

	sinks, err := capture.SinksFromConfig(cfg.Sinks, logger)
	if err != nil {
		return err
	}
	metrics := capture.NewMetrics()
	c := capture.New(cfg, logger,
		capture.WithSinks(sinks...),
		capture.WithPreferences(prefs),
		capture.WithHistory(history),
		capture.WithMetrics(metrics))
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer c.Stop()

	if o.url != "" {
		if _, err := c.OpenPage(ctx, o.url); err != nil {
			logger.Warn("carousel: open initial page", "url", o.url, "error", err)
		}
	}

	stack, stopStack := shield.DefaultAPIStack(shield.StackConfig{MaxBodyBytes: cfg.Server.MaxBodyBytes})
	defer stopStack()
	limiter := shield.NewRateLimiter(cfg.Server.RatePerMinute, cfg.Server.Burst)
	gcDone := make(chan struct{})
	defer close(gcDone)
	limiter.StartGC(gcDone)

	r := chi.NewRouter()
	for _, mw := range stack {
		r.Use(mw)
	}
	if cfg.Server.RatePerMinute > 0 {
		c.RegisterRoutes(r, limiter.Middleware)
	} else {
		c.RegisterRoutes(r)
	}
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "carousel", Version: version}, nil)
	c.RegisterMCP(mcpSrv)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("carousel: listening", "addr", cfg.Server.Addr, "mode", cfg.Browser.Mode)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
