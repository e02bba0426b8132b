package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/streamci/streamci/internal/client"
	"github.com/streamci/streamci/internal/compiler"
	"github.com/streamci/streamci/internal/config"
	"github.com/streamci/streamci/internal/export"
	"github.com/streamci/streamci/internal/inspect"
	"github.com/streamci/streamci/internal/lock"
	"github.com/streamci/streamci/internal/log"
	"github.com/streamci/streamci/internal/manifest"
	"github.com/streamci/streamci/internal/model"
	"github.com/streamci/streamci/internal/orchestrator"
	"github.com/streamci/streamci/internal/store"
	"github.com/streamci/streamci/internal/webhook"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "check":
		os.Exit(runCheck(args))
	case "export":
		os.Exit(runExport(args))
	case "inspect":
		os.Exit(runInspect(args))
	case "version":
		fmt.Printf("streamci version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`streamci - trigger-to-pipeline compiler and build orchestrator

Usage:
  streamci <command> [flags]

Commands:
  start     Run the webhook ingestion service in the foreground
  check     Validate a pipeline manifest file without triggering anything
  export    Render a compiled pipeline model back to manifest YAML
  inspect   Show the trigger decisions recorded for a webhook event
  version   Show version information
  help      Show this help message

Use 'streamci <command> --help' for command-specific flags.
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "streamci.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("streamci starting", "version", version, "config", *configPath)

	pidPath := pidLockPath(cfg.State.Path)
	pidLock, err := lock.AcquirePIDLock(pidPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	st, err := store.Open(cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer st.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	var locker lock.Locker
	switch cfg.Lock.Mode {
	case "", "memory":
		locker = lock.NewMemory()
	case "redis":
		locker = lock.NewRedis(cfg.Lock.RedisAddr)
		logger.Info("redis trigger lock enabled", "addr", cfg.Lock.RedisAddr)
	default:
		logger.Error("unknown lock mode", "mode", cfg.Lock.Mode)
		return 1
	}

	engine := client.NewEngine(cfg.Engine)
	git := client.NewGit(cfg.Git)
	registry := client.NewRegistry(cfg.Registry)

	comp := compiler.New(registry, git)
	orch := orchestrator.New(st, engine, git, comp, locker, orchestrator.Options{
		Channel: cfg.Service.Channel,
		LockTTL: cfg.Lock.TTL,
	})

	srv := webhook.NewServer(cfg.Ingest, st, orch, git)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("ingest server: %w", err)
		}
	}()
	logger.Info("ingest server listening", "listen", cfg.Ingest.Listen, "path", cfg.Ingest.Path)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}

	logger.Info("streamci stopped")
	return 0
}

func pidLockPath(statePath string) string {
	base := filepath.Base(statePath)
	ext := filepath.Ext(base)
	return filepath.Join(filepath.Dir(statePath), base[:len(base)-len(ext)]+".pid")
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	jsonOut := fs.Bool("json", false, "Output the normalized manifest as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: streamci check <manifest.yml> [--json]\n")
		return 1
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read manifest: %v\n", err)
		return 1
	}

	m, err := manifest.Normalize(string(raw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid manifest: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(m, "", "  ")
		fmt.Println(string(data))
		return 0
	}

	jobs := 0
	for _, s := range m.Stages {
		jobs += len(s.Jobs)
	}
	fmt.Printf("OK: %s (%d stage(s), %d job(s), %d variable(s))\n",
		fs.Arg(0), len(m.Stages), jobs, len(m.Variables))
	return 0
}

func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "streamci.yaml", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: streamci inspect <event_id> [--config PATH] [--json]\n")
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	st, err := store.Open(cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer st.Close()

	ctx := context.Background()
	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, st, fs.Arg(0))
	} else {
		report, err = inspect.BuildReport(ctx, st, fs.Arg(0))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

func runExport(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	projectID := fs.String("project", "", "Project identifier for the export banner")
	pipelineID := fs.String("pipeline", "", "Pipeline identifier for the export banner")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: streamci export <model.json> [--project ID] [--pipeline ID]\n")
		return 1
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read model: %v\n", err)
		return 1
	}

	var m model.Model
	if err := json.Unmarshal(raw, &m); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to decode model: %v\n", err)
		return 1
	}

	text, err := export.Export(&m, export.Meta{
		ProjectID:    *projectID,
		PipelineID:   *pipelineID,
		PipelineName: m.Name,
		Time:         time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		return 1
	}

	fmt.Print(text)
	return 0
}
