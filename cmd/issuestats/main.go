// Command issuestats analyzes how long GitHub issues take to resolve.
//
// One-shot mode fetches a repository's issues, classifies them by author
// membership and resolution status, and prints duration statistics, with
// optional HTML and CSV reports:
//
//	issuestats --separate-members --html report.html golang/go
//
// With --serve it exposes the same analysis as a JSON API with an embedded
// web UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeGROOVE-dev/issuestats/internal/server"
	"github.com/codeGROOVE-dev/issuestats/pkg/github"
	"github.com/codeGROOVE-dev/issuestats/pkg/stats"
)

// commit is stamped by the build via -ldflags "-X main.commit=...".
var commit = "dev"

// config holds the parsed command line.
type config struct {
	repo              string
	token             string
	state             string
	htmlPath          string
	csvPrefix         string
	addr              string
	datastoreDB       string
	corsOrigins       string
	perPage           int
	concurrency       int
	separateMembers   bool
	excludeMembers    bool
	firstResponse     bool
	includeUnresolved bool
	serve             bool
	corsAllowAll      bool
	verbose           bool
}

func main() {
	// Load .env before flag registration; the --datastore-db default
	// reads DATASTORE_DB from the environment.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using system environment variables")
	}

	cfg := parseFlags()
	setupLogging(cfg.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.serve {
		if err := runServer(ctx, cfg); err != nil {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if cfg.repo == "" {
		flag.Usage()
		os.Exit(1)
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	token := resolveToken(ctx, cfg.token)
	if token == "" {
		fmt.Fprintln(os.Stderr, "Error: GitHub token required (use --token, set GITHUB_TOKEN, or run gh auth login)")
		os.Exit(1)
	}

	if err := analyze(ctx, cfg, token); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Println("\nAnalysis interrupted by user.")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func parseFlags() config {
	var cfg config
	flag.StringVar(&cfg.token, "token", "", "GitHub API token (defaults to GITHUB_TOKEN or the gh CLI)")
	flag.StringVar(&cfg.state, "state", "closed", "Issue state to analyze: closed, open or all")
	flag.IntVar(&cfg.perPage, "per-page", 100, "Issues per API page (1-100)")
	flag.BoolVar(&cfg.separateMembers, "separate-members", false, "Analyze member and external user issues separately")
	flag.BoolVar(&cfg.excludeMembers, "exclude-members", false, "Analyze only issues opened by external users")
	flag.BoolVar(&cfg.firstResponse, "first-response", false, "Also analyze time to first member response")
	flag.BoolVar(&cfg.includeUnresolved, "include-unresolved", false, "Keep issues closed as not planned")
	flag.StringVar(&cfg.htmlPath, "html", "", "Write an HTML histogram report to this file")
	flag.StringVar(&cfg.csvPrefix, "csv", "", "Write CSV exports using this path prefix")
	flag.IntVar(&cfg.concurrency, "concurrency", stats.DefaultConcurrency, "Concurrent comment fetches during first-response analysis")
	flag.BoolVar(&cfg.serve, "serve", false, "Run as an HTTP analysis service instead of a one-shot CLI")
	flag.StringVar(&cfg.addr, "addr", ":8080", "Listen address in serve mode")
	flag.StringVar(&cfg.datastoreDB, "datastore-db", os.Getenv("DATASTORE_DB"), "DataStore database ID for the serve-mode issue cache")
	flag.StringVar(&cfg.corsOrigins, "cors-origins", "", "Comma-separated CORS origin allowlist in serve mode")
	flag.BoolVar(&cfg.corsAllowAll, "cors-allow-all", false, "Allow all CORS origins in serve mode (development only)")
	flag.BoolVar(&cfg.verbose, "verbose", false, "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] owner/repo\n\nAnalyze GitHub issue resolution times.\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg.repo = flag.Arg(0)
	return cfg
}

func (c config) validate() error {
	if _, _, err := github.ParseRepo(c.repo); err != nil {
		return err
	}
	switch c.state {
	case "closed", "open", "all":
	default:
		return fmt.Errorf("invalid state %q: must be closed, open or all", c.state)
	}
	return nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// resolveToken returns the GitHub token from the flag, the GITHUB_TOKEN
// environment variable, or the gh CLI, in that order.
func resolveToken(ctx context.Context, flagToken string) string {
	if flagToken != "" {
		return flagToken
	}
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		return token
	}
	if _, err := exec.LookPath("gh"); err == nil {
		output, err := exec.CommandContext(ctx, "gh", "auth", "token").Output()
		if err == nil {
			if token := strings.TrimSpace(string(output)); token != "" {
				slog.Debug("Using token from gh auth token")
				return token
			}
		}
	}
	return ""
}

func runServer(ctx context.Context, cfg config) error {
	srv := server.New()
	srv.SetCommit(commit)
	if cfg.corsOrigins != "" || cfg.corsAllowAll {
		srv.SetCORSConfig(cfg.corsOrigins, cfg.corsAllowAll)
	}
	if cfg.datastoreDB != "" {
		srv.EnableDatastore(ctx, cfg.datastoreDB)
	}

	httpServer := &http.Server{
		Addr:              cfg.addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Analysis of a large repository can hold a response open for a
		// while; the write timeout has to cover the whole fetch.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", cfg.addr, "commit", commit)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("Server shutdown complete")
	return nil
}
