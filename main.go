package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"nodetop/pkg/config"
	"nodetop/pkg/index"
	"nodetop/pkg/models"
	"nodetop/pkg/rpc"
	"nodetop/pkg/server"
	"nodetop/pkg/state"
	"nodetop/pkg/tui"
	"nodetop/pkg/watcher"

	"github.com/spf13/pflag"
)

// Version should be set during build
var Version = "dev"

type cliFlags struct {
	configPath string
	url        string
	indexDir   string
	listen     string
	logFile    string
	logLevel   string
	test       bool
	jsonOut    bool
	dryRun     bool
	server     bool
	saveConfig bool
	restore    bool
	noIndex    bool
	version    bool
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, *pflag.FlagSet, error) {
	var f cliFlags
	fs := pflag.NewFlagSet("nodetop", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to configuration file (default ~/"+config.ConfigFileName+")")
	fs.StringVarP(&f.url, "url", "u", "", "node RPC url")
	fs.StringVar(&f.indexDir, "index-dir", "", "directory holding the capacity index")
	fs.StringVar(&f.listen, "listen", "", "listen address for --server")
	fs.StringVar(&f.logFile, "log-file", "", "write JSON log records to this file")
	fs.StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVarP(&f.test, "test", "t", false, "test connectivity and exit")
	fs.BoolVar(&f.jsonOut, "json", false, "output test results as JSON")
	fs.BoolVar(&f.dryRun, "dry-run", false, "never write the configuration file")
	fs.BoolVar(&f.server, "server", false, "run headless with the status API only")
	fs.BoolVar(&f.saveConfig, "save-config", false, "persist flag overrides to the configuration file")
	fs.BoolVar(&f.restore, "restore-config", false, "restore the newest configuration backup and exit")
	fs.BoolVar(&f.noIndex, "no-index", false, "disable the top capacity index")
	fs.BoolVarP(&f.version, "version", "v", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return f, fs, err
	}
	if f.configPath == "" && fs.NArg() > 0 {
		f.configPath = fs.Arg(0)
	}
	return f, fs, nil
}

// applyFlags overrides file values with the flags that were set explicitly.
func applyFlags(cfg *config.Config, fs *pflag.FlagSet, f cliFlags) {
	if fs.Changed("url") {
		cfg.URL = strings.TrimSpace(f.url)
	}
	if fs.Changed("index-dir") {
		cfg.IndexDir = f.indexDir
	}
	if fs.Changed("listen") {
		cfg.Listen = f.listen
	}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, fs, err := parseFlags(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 2
	}
	if flags.version {
		fmt.Fprintf(stdout, "nodetop version %s\n", Version)
		return 0
	}

	path, err := config.GetConfigPath(flags.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error determining config path: %v\n", err)
		return 1
	}
	if flags.restore {
		if err := config.RestoreLastBackup(path); err != nil {
			fmt.Fprintf(stderr, "Failed to restore config: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Restored %s from its latest backup.\n", path)
		return 0
	}
	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config from %s: %v\n", path, err)
		return 1
	}
	applyFlags(&cfg, fs, flags)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Invalid configuration: %v\n", err)
		return 1
	}
	indexDir, err := config.ExpandPath(cfg.IndexDir)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid index directory: %v\n", err)
		return 1
	}

	if flags.test {
		report := runConnectivityTest(cfg, path, indexDir)
		if flags.saveConfig && !flags.dryRun && report.Reachable {
			if err := config.SaveConfig(cfg, path); err != nil {
				report.SaveError = err.Error()
			} else {
				report.ConfigSaved = true
			}
		}
		writeReport(stdout, report, flags.jsonOut, flags.dryRun && flags.saveConfig)
		if !testPassed(report) {
			return 1
		}
		return 0
	}

	if flags.saveConfig {
		if flags.dryRun {
			fmt.Fprintln(stderr, "Dry run enabled: Configuration NOT saved.")
		} else if err := config.SaveConfig(cfg, path); err != nil {
			fmt.Fprintf(stderr, "Failed to save config: %v\n", err)
			return 1
		}
	}

	var fallback io.Writer
	if flags.server {
		fallback = stderr
	}
	logger, closeLog, err := newLogger(flags.logFile, flags.logLevel, fallback)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening log: %v\n", err)
		return 1
	}
	defer func() { _ = closeLog() }()

	var controller *index.Controller
	if !flags.noIndex {
		controller = index.NewController(logger, index.ControllerOptions{Confirmations: cfg.IndexConfirmations})
	}

	if flags.server {
		if err := runServer(cfg, indexDir, controller, logger); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	err = tui.Start(cfg.URL, indexDir, controller, tui.Options{
		Logger:            logger,
		PollInterval:      cfg.PollInterval(),
		CallTimeout:       cfg.CallTimeout(),
		RedrawTick:        cfg.RedrawTick(),
		Freshness:         cfg.Freshness(),
		RecentBlocks:      cfg.RecentBlocks,
		TopN:              cfg.TopN,
		HighlightAllFresh: cfg.HighlightAllFresh,
	})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	return 0
}

// newLogger writes JSON to logFile when set, text to fallback otherwise, and
// discards records when neither is available so the terminal stays clean.
func newLogger(logFile, level string, fallback io.Writer) (*slog.Logger, func() error, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch {
	case logFile != "":
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		return slog.New(slog.NewJSONHandler(f, opts)), f.Close, nil
	case fallback != nil:
		return slog.New(slog.NewTextHandler(fallback, opts)), func() error { return nil }, nil
	default:
		return slog.New(slog.DiscardHandler), func() error { return nil }, nil
	}
}

// runConnectivityTest checks every call the dashboard depends on.
func runConnectivityTest(cfg config.Config, path, indexDir string) models.TestReport {
	report := models.TestReport{ConfigPath: path, URL: cfg.URL, IndexDir: indexDir}

	latency, err := rpc.FetchRPCLatency(cfg.URL)
	if err != nil {
		report.Endpoints = append(report.Endpoints, models.EndpointResult{Method: "dial", Status: "error", Error: err.Error()})
		return report
	}
	report.RoundTrip = latency.Latency.Round(time.Millisecond).String()

	ctx, cancel := context.WithTimeout(context.Background(), rpc.DialTimeout)
	defer cancel()
	client, err := rpc.Dial(ctx, cfg.URL)
	if err != nil {
		report.Endpoints = append(report.Endpoints, models.EndpointResult{Method: "dial", Status: "error", Error: err.Error()})
		return report
	}
	defer client.Close()

	check := func(method string, call func(ctx context.Context) error) bool {
		callCtx, callCancel := context.WithTimeout(ctx, cfg.CallTimeout())
		defer callCancel()
		start := time.Now()
		err := call(callCtx)
		res := models.EndpointResult{Method: method, Status: "ok", Latency: time.Since(start).Round(time.Millisecond).String()}
		if err != nil {
			res.Status = "error"
			res.Error = err.Error()
		}
		report.Endpoints = append(report.Endpoints, res)
		return err == nil
	}

	report.Reachable = check("get_block_by_number", func(ctx context.Context) error {
		genesis, err := client.BlockByNumber(ctx, 0)
		if err == nil {
			report.GenesisHash = genesis.Header.Hash.Hex()
		}
		return err
	})
	check("get_tip_header", func(ctx context.Context) error {
		header, err := client.TipHeader(ctx)
		if err == nil {
			report.TipNumber = uint64(header.Number)
		}
		return err
	})
	check("get_blockchain_info", func(ctx context.Context) error {
		info, err := client.BlockchainInfo(ctx)
		if err == nil {
			report.Chain = info.Chain
		}
		return err
	})
	check("local_node_info", func(ctx context.Context) error {
		_, err := client.LocalNodeInfo(ctx)
		return err
	})
	check("tx_pool_info", func(ctx context.Context) error {
		_, err := client.TxPoolInfo(ctx)
		return err
	})
	check("get_peers", func(ctx context.Context) error {
		_, err := client.Peers(ctx)
		return err
	})
	return report
}

func testPassed(report models.TestReport) bool {
	if !report.Reachable || report.SaveError != "" {
		return false
	}
	for _, e := range report.Endpoints {
		if e.Status != "ok" {
			return false
		}
	}
	return true
}

func writeReport(w io.Writer, report models.TestReport, asJSON, dryRunSave bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
		return
	}
	fmt.Fprintf(w, "Testing configuration at: %s\n", report.ConfigPath)
	fmt.Fprintf(w, "Node: %s\n", report.URL)
	if report.RoundTrip != "" {
		fmt.Fprintf(w, "Round trip: %s\n", report.RoundTrip)
	}
	for _, e := range report.Endpoints {
		if e.Status == "ok" {
			fmt.Fprintf(w, "  %-20s OK (%s)\n", e.Method, e.Latency)
		} else {
			fmt.Fprintf(w, "  %-20s Failed: %s\n", e.Method, e.Error)
		}
	}
	if report.Reachable {
		fmt.Fprintf(w, "Chain: %s, genesis %s, tip #%d\n", report.Chain, report.GenesisHash, report.TipNumber)
	}
	fmt.Fprintf(w, "Index directory: %s\n", report.IndexDir)
	switch {
	case dryRunSave:
		fmt.Fprintln(w, "Dry run enabled: Configuration NOT saved.")
	case report.ConfigSaved:
		fmt.Fprintln(w, "Configuration saved successfully.")
	case report.SaveError != "":
		fmt.Fprintf(w, "Failed to save config: %s\n", report.SaveError)
	}
}

// runServer polls the node and serves the status API until interrupted.
func runServer(cfg config.Config, indexDir string, controller *index.Controller, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := rpc.Dial(ctx, cfg.URL)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", cfg.URL, err)
	}
	defer client.Close()

	genesisCtx, cancel := context.WithTimeout(ctx, rpc.DialTimeout)
	genesis, err := client.BlockByNumber(genesisCtx, 0)
	cancel()
	if err != nil {
		return fmt.Errorf("get genesis block from %s: %w", cfg.URL, err)
	}

	var ranker index.Ranker
	if controller != nil {
		infoCtx, infoCancel := context.WithTimeout(ctx, rpc.DialTimeout)
		info, err := client.BlockchainInfo(infoCtx)
		infoCancel()
		if err != nil {
			return fmt.Errorf("get blockchain info from %s: %w", cfg.URL, err)
		}
		if err := controller.Start(ctx, indexDir, genesis.Header.Hash, info.Chain, client); err != nil {
			return fmt.Errorf("open index at %s: %w", indexDir, err)
		}
		defer func() {
			if err := controller.Stop(); err != nil {
				logger.Warn("index shutdown failed", "err", err)
			}
		}()
		ranker = index.NewCachedRanker(controller, index.DefaultCacheTTL)
	}

	w := watcher.NewWatcher(state.NewStore(cfg.RecentBlocks), client, logger, watcher.Options{
		Interval:    cfg.PollInterval(),
		CallTimeout: cfg.CallTimeout(),
	})
	w.Start(ctx)

	srv := server.NewServer(w, ranker, cfg.URL, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(cfg.Listen) }()
	logger.Info("running in server mode", "listen", cfg.Listen, "url", cfg.URL)

	select {
	case err = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), tui.DefaultQuitGrace)
	defer cancelShutdown()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("server shutdown failed", "err", serr)
	}
	if !w.Stop(tui.DefaultQuitGrace) {
		logger.Warn("poller did not stop within grace period")
	}
	return err
}
