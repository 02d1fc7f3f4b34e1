package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/opsbridge/kubebridge/internal/api"
	"github.com/opsbridge/kubebridge/internal/audit"
	"github.com/opsbridge/kubebridge/internal/config"
	"github.com/opsbridge/kubebridge/internal/dispatch"
	"github.com/opsbridge/kubebridge/internal/doctor"
	"github.com/opsbridge/kubebridge/internal/helm"
	"github.com/opsbridge/kubebridge/internal/kubectl"
	"github.com/opsbridge/kubebridge/internal/log"
	"github.com/opsbridge/kubebridge/internal/storage"
	"github.com/opsbridge/kubebridge/internal/toolexec"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "doctor":
		os.Exit(runDoctor(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "version":
		fmt.Printf("kubebridge version %s\n", version)
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
	fmt.Print(`kubebridge - NDJSON request bridge for kubectl and helm

Usage:
  kubebridge <command> [flags]

Commands:
  serve             Run the dispatcher over stdin/stdout
  doctor            Validate configuration and tool environment
  config lock       Authorize current config state (write integrity hashes)
  config check      Validate configuration syntax and integrity
  config show       Print the resolved configuration
  version           Show version information
  help              Show this help message

Requests are one JSON object per stdin line ({"method": ..., "params": ...});
responses are one JSON object per stdout line. Logs go to stderr.
`)
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("kubebridge starting", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var auditor *audit.Recorder
	if cfg.Audit.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Audit.Path)
		if err != nil {
			logger.Error("failed to open audit database", "path", cfg.Audit.Path, "error", err)
			return 1
		}
		defer db.Close()
		auditor = audit.NewRecorder(db)
		logger.Info("audit database opened", "path", cfg.Audit.Path)
	}

	runner := toolexec.NewExec()
	kc := kubectl.New(runner, cfg.Tools.Kubectl.Bin, cfg.Tools.Kubectl.Timeout)
	hc := helm.New(runner, cfg.Tools.Helm.Bin, cfg.Tools.Helm.Timeout)
	disp := dispatch.New(kc, hc, auditor)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		apiServer := api.New(api.Config{
			Listen:  cfg.API.Listen,
			Version: version,
		}, auditor, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("status server enabled", "listen", cfg.API.Listen)
	}

	done := make(chan error, 1)
	go func() {
		done <- disp.Serve(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
		return 0
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	case err := <-done:
		if err != nil {
			logger.Error("dispatch loop failed", "error", err)
			return 1
		}
		logger.Info("input stream closed, exiting")
		return 0
	}
}

func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output report in JSON")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	doc := doctor.New(cfg)
	result := doc.Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: kubebridge config <lock|check|show> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lock":
		return runConfigLock(actionArgs)
	case "check":
		return runConfigCheck(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	case "help", "--help", "-h":
		fmt.Println("Usage: kubebridge config <lock|check|show> [flags]")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	dryRun := fs.Bool("dry-run", false, "Compute hashes without writing")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	hash, err := config.GenerateChecksums(path, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}

	if *dryRun {
		fmt.Printf("Dry run: %s would lock with hash %s\n", path, hash)
	} else {
		fmt.Printf("Locked %s (hash %s)\n", path, hash)
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "Config check FAILED: %v\n", err)
		return 1
	}

	fmt.Println("Config check PASSED.")
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	jsonOut := fs.Bool("json", false, "Output in JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(cfg, "", "  ")
		fmt.Println(string(data))
	} else {
		data, _ := yaml.Marshal(cfg)
		fmt.Print(string(data))
	}
	return 0
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.DiscoverConfig()
	if err != nil {
		return "", fmt.Errorf("Failed to discover config: %v", err)
	}
	if discovered == "" {
		return "", fmt.Errorf("No config file found (checked $KUBEBRIDGE_CONFIG, ~/.config/kubebridge, /etc/kubebridge, ./config.yaml)")
	}
	return discovered, nil
}
