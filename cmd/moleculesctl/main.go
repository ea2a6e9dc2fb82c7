// moleculesctl replays recorded input against the widgets and manages saved
// anchors.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"molecules/internal/config"
	"molecules/internal/health"
	"molecules/internal/logging"
	"molecules/internal/metrics"
	"molecules/internal/multi"
	"molecules/internal/replay"
	"molecules/internal/store"
	"molecules/internal/tracing"
)

var (
	configPath  = flag.String("config", "", "path to config file")
	jsonOut     = flag.Bool("json", false, "print replay reports as JSON")
	saveAnchors = flag.Bool("save", false, "persist anchors and a run record after replay")
	restore     = flag.Bool("restore", false, "start widgets from saved anchors")
	jobs        = flag.Int("jobs", 4, "fixtures replayed concurrently")
	showMetrics = flag.Bool("metrics", false, "print metrics after replay")
	traceFile   = flag.String("trace", "", "write replay spans as JSON lines to this file")
	logLevel    = flag.String("log-level", "", "override logging.level")
	dbPath      = flag.String("db", "", "override storage.path")
	fixtureDir  = flag.String("fixtures", "", "override replay.fixture_dir")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "replay":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: moleculesctl replay <fixture>...")
			os.Exit(1)
		}
		os.Exit(cmdReplay(args))
	case "validate":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: moleculesctl validate <fixture>...")
			os.Exit(1)
		}
		cmdValidate(args)
	case "anchors":
		cmdAnchors(args)
	case "runs":
		cmdRuns()
	case "config":
		cmdConfig(args)
	case "doctor":
		os.Exit(cmdDoctor())
	case "schema":
		os.Stdout.Write(replay.Schema())
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `moleculesctl - Replay and anchor tool for molecules widgets

Usage: moleculesctl [options] <command> [args]

Commands:
  replay <fixture>...      Replay fixtures (JSON or YAML) and print what each widget did
  validate <fixture>...    Check fixtures against the fixture schema
  anchors                  List saved anchors
  anchors delete <widget>  Delete a saved anchor
  runs                     List recent replay runs
  config                   Print the effective configuration as TOML
  config watch             Print the configuration again whenever the file changes
  doctor                   Check config, anchor store and fixture directory
  schema                   Print the fixture JSON schema
  help                     Show this help message

Options:
  -config <path>  Path to config file (default: <user config dir>/molecules/config.toml)
  -json           Print replay reports as JSON
  -save           Persist anchors and a run record after replay
  -restore        Start widgets from saved anchors
  -jobs <n>       Fixtures replayed concurrently (default 4)
  -metrics        Print metrics after replay
  -trace <file>   Write replay spans as JSON lines to file
  -log-level <l>  Override logging.level
  -db <path>      Override storage.path
  -fixtures <dir> Override replay.fixture_dir`)
}

// flagOverrides collects the config values given on the command line.
func flagOverrides() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: *logLevel},
		Storage: config.StorageConfig{Path: *dbPath},
		Replay:  config.ReplayConfig{FixtureDir: *fixtureDir},
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	cfg = config.Merge(cfg, flagOverrides())
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func setupLogger(cfg *config.Config) *logging.Logger {
	lc, err := cfg.LoggerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}
	lc.Component = "moleculesctl"
	l, err := logging.New(lc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(l)
	return l
}

func openStore(cfg *config.Config) *store.Store {
	st, err := storeFor(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening anchor store: %v\n", err)
		os.Exit(1)
	}
	return st
}

func storeFor(cfg *config.Config) (*store.Store, error) {
	return store.OpenWithTimeout(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
}

// resolveFixture falls back to the configured fixture directory for
// relative paths that do not exist as given.
func resolveFixture(cfg *config.Config, path string) string {
	if filepath.IsAbs(path) || cfg.Replay.FixtureDir == "" {
		return path
	}
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return filepath.Join(cfg.Replay.FixtureDir, path)
}

type replayed struct {
	path   string
	driver *replay.Driver
	report *replay.Report
}

// cmdReplay returns the process exit code so deferred cleanup runs first.
func cmdReplay(paths []string) int {
	cfg := loadConfig()
	logger := setupLogger(cfg)
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry(cfg.Metrics.Namespace)
	opts := []replay.Option{
		replay.WithLogger(logger.Logger),
		replay.WithRegistry(reg),
		replay.WithGrabDefaults(cfg.GrabSettings()),
		replay.WithHoverDefaults(cfg.HoverSettings()),
	}

	persist := *saveAnchors || cfg.Replay.SaveAnchors
	var st *store.Store
	if persist || *restore {
		var err error
		if st, err = storeFor(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening anchor store: %v\n", err)
			return 1
		}
		defer st.Close()
	}
	if *restore {
		opts = append(opts, replay.WithAnchors(st))
	}
	if *traceFile != "" {
		tracer, err := openTracer(*traceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening trace file: %v\n", err)
			return 1
		}
		defer func() {
			if err := tracer.Shutdown(); err != nil {
				fmt.Fprintf(os.Stderr, "Error closing trace file: %v\n", err)
			}
		}()
		opts = append(opts, replay.WithTracer(tracer))
	}

	results, err := multi.Call(ctx, paths, func(ctx context.Context, path string) (replayed, error) {
		f, err := replay.LoadFixture(resolveFixture(cfg, path))
		if err != nil {
			return replayed{path: path}, err
		}
		d, err := replay.NewDriver(f, opts...)
		if err != nil {
			return replayed{path: path}, err
		}
		r, err := d.Run(ctx)
		return replayed{path: path, driver: d, report: r}, err
	}, multi.WithLimit(*jobs))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Replay interrupted: %v\n", err)
	}

	failed := false
	for _, res := range results {
		if res.Err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "%s: %v\n", paths[res.Index], res.Err)
			continue
		}
		rp := res.Value
		if persist {
			if err := rp.driver.Persist(st, rp.report); err != nil {
				failed = true
				fmt.Fprintf(os.Stderr, "%s: save anchors: %v\n", rp.path, err)
			}
		}
		if *jsonOut {
			fmt.Println(prettyJSON(rp.report))
		} else {
			printReport(rp.path, rp.report)
		}
		if rp.report.Errors > 0 {
			failed = true
		}
	}

	if *showMetrics && cfg.Metrics.Enabled {
		printMetrics(cfg, reg)
	}
	if failed || err != nil {
		return 1
	}
	return 0
}

func openTracer(path string) (*tracing.Tracer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	return tracing.NewTracer("moleculesctl", tracing.NewWriterExporter(f)), nil
}

func printReport(path string, r *replay.Report) {
	fmt.Printf("=== %s (%s) ===\n", r.Fixture, path)
	fmt.Printf("Session: %s\n", r.Session)
	fmt.Printf("Frames:  %d (%d with errors)\n", r.Frames, r.Errors)
	fmt.Println()

	fmt.Printf("%-6s %-12s %-6s %-8s %-8s %s\n", "Frame", "Widget", "Kind", "Edge", "Actor", "Acting")
	fmt.Println(strings.Repeat("-", 60))
	for _, ev := range r.Events {
		edge := ""
		switch {
		case ev.Started:
			edge = "started"
		case ev.Changed:
			edge = "changed"
		case ev.Stopped:
			edge = "stopped"
		}
		actor := "-"
		if ev.Actor != 0 {
			actor = fmt.Sprintf("%d", ev.Actor)
		}
		fmt.Printf("%-6d %-12s %-6s %-8s %-8s %v\n", ev.Frame, ev.Widget, ev.Kind, edge, actor, ev.Acting)
		if ev.Error != "" {
			fmt.Printf("       error: %s\n", ev.Error)
		}
	}
	fmt.Println()

	fmt.Println("Anchors:")
	for name, t := range r.Anchors {
		p := t.Position
		fmt.Printf("  %-12s (%.3f, %.3f, %.3f)\n", name, p.X(), p.Y(), p.Z())
	}
	fmt.Println()
}

func printMetrics(cfg *config.Config, reg *metrics.Registry) {
	var err error
	if cfg.Metrics.Format == "json" {
		err = reg.WriteJSON(os.Stdout)
	} else {
		err = reg.WritePrometheus(os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing metrics: %v\n", err)
	}
}

func cmdValidate(paths []string) {
	cfg := loadConfig()

	failed := false
	for _, p := range paths {
		f, err := replay.LoadFixture(resolveFixture(cfg, p))
		if err != nil {
			failed = true
			fmt.Printf("✗ %s: %v\n", p, err)
			continue
		}
		fmt.Printf("✓ %s: %d widgets, %d frames\n", p, len(f.Widgets), len(f.Frames))
	}
	if failed {
		os.Exit(1)
	}
}

func cmdAnchors(args []string) {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	if len(args) >= 1 {
		if args[0] != "delete" || len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: moleculesctl anchors [delete <widget>]")
			os.Exit(1)
		}
		if err := st.DeleteAnchor(args[1]); err != nil {
			if errors.Is(err, store.ErrAnchorNotFound) {
				fmt.Fprintf(os.Stderr, "No anchor saved for %s\n", args[1])
			} else {
				fmt.Fprintf(os.Stderr, "Error deleting anchor: %v\n", err)
			}
			os.Exit(1)
		}
		fmt.Printf("Deleted anchor for %s\n", args[1])
		return
	}

	anchors, err := st.ListAnchors()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing anchors: %v\n", err)
		os.Exit(1)
	}
	if len(anchors) == 0 {
		fmt.Println("No anchors saved.")
		return
	}

	fmt.Printf("%-16s %-6s %-28s %s\n", "Widget", "Kind", "Position", "Updated")
	fmt.Println(strings.Repeat("-", 76))
	for _, a := range anchors {
		p := a.Transform.Position
		pos := fmt.Sprintf("(%.3f, %.3f, %.3f)", p.X(), p.Y(), p.Z())
		fmt.Printf("%-16s %-6s %-28s %s\n", a.Widget, a.Kind, pos, a.UpdatedAt.Format(time.RFC3339))
	}
}

func cmdRuns() {
	cfg := loadConfig()
	st := openStore(cfg)
	defer st.Close()

	runs, err := st.ListRuns(20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing runs: %v\n", err)
		os.Exit(1)
	}
	if len(runs) == 0 {
		fmt.Println("No replay runs recorded.")
		return
	}

	fmt.Printf("%-36s %-20s %-7s %-7s %s\n", "Session", "Fixture", "Frames", "Errors", "Started")
	fmt.Println(strings.Repeat("-", 96))
	for _, r := range runs {
		fmt.Printf("%-36s %-20s %-7d %-7d %s\n", r.ID, r.Fixture, r.Frames, r.Errors, r.StartedAt.Format(time.RFC3339))
	}
}

func cmdConfig(args []string) {
	if len(args) >= 1 && args[0] == "watch" {
		watchConfig()
		return
	}
	cfg := loadConfig()
	printTOML(cfg)
}

func printTOML(cfg *config.Config) {
	data, err := cfg.TOML()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding config: %v\n", err)
		os.Exit(1)
	}
	os.Stdout.Write(data)
}

func watchConfig() {
	path := *configPath
	if path == "" {
		path = config.ConfigPath()
	}

	loader := config.NewLoader(path)
	loader.SetOverrides(flagOverrides())
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	printTOML(cfg)

	loader.OnChange(func(_, next *config.Config) {
		slog.Info("config reloaded", "path", path)
		printTOML(next)
	})
	if err := loader.Watch(); err != nil {
		fmt.Fprintf(os.Stderr, "Error watching config: %v\n", err)
		os.Exit(1)
	}
	defer loader.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-loader.Errors():
			fmt.Fprintf(os.Stderr, "Config reload rejected: %v\n", err)
		}
	}
}

func cmdDoctor() int {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return 1
	}
	cfg = config.Merge(cfg, flagOverrides())

	checker := health.NewChecker()
	checker.RegisterFunc("config", true, health.CustomCheck(cfg.Validate))

	st, err := storeFor(cfg)
	if err != nil {
		checker.RegisterFunc("store", true, health.CustomCheck(func() error { return err }))
	} else {
		defer st.Close()
		checker.RegisterFunc("store", true, health.DatabaseCheck(st.DB().PingContext))
	}
	if cfg.Replay.FixtureDir != "" {
		checker.RegisterFunc("fixtures", false, health.DirCheck(cfg.Replay.FixtureDir))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results := checker.Check(ctx)

	if *jsonOut {
		fmt.Println(prettyJSON(map[string]any{
			"status":     checker.OverallStatus(),
			"components": results,
		}))
	} else {
		for _, name := range checker.Names() {
			r := results[name]
			mark := "✓"
			if r.Status != health.StatusHealthy {
				mark = "✗"
			}
			line := fmt.Sprintf("%s %-10s %s", mark, name, r.Status)
			if r.Message != "" {
				line += ": " + r.Message
			}
			if r.Error != "" {
				line += " (" + r.Error + ")"
			}
			fmt.Println(line)
		}
		fmt.Printf("\nOverall: %s\n", checker.OverallStatus())
	}
	if checker.OverallStatus() == health.StatusUnhealthy {
		return 1
	}
	return 0
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return string(data)
}
