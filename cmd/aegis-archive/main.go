package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ghalamif/AegisArchive"
)

func main() {
	fmt.Fprintln(os.Stderr, banner())
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "simulate":
		err = simulateCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "status":
		err = statusCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("aegis-archive %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to engine configuration file")
	engine := fs.String("engine", "", "Catalog engine to archive (overrides engine.name)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := aegisarchive.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Engine(*engine).Run(ctx)
}

// simulateCommand runs the configured engine against random-walk sources.
// Without a database, samples stay in memory and are only counted.
func simulateCommand(args []string) error {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to engine configuration file")
	period := fs.Duration("period", time.Second, "Update period of every simulated source")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := aegisarchive.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var archived atomic.Int64
	tap := func(b aegisarchive.Batch) error {
		archived.Add(int64(len(b.Samples)))
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = flow.Simulate(*period).Run(ctx, aegisarchive.StreamOutCallback(tap))
	fmt.Printf("archived %d simulated samples\n", archived.Load())
	return err
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := aegisarchive.LoadConfig(*cfgPath); err != nil {
		return err
	}
	fmt.Printf("config %s looks good ✅\n", *cfgPath)
	return nil
}

func printUsage() {
	fmt.Printf(`AegisArchive CLI

Usage:
  aegis-archive <command> [flags]

Commands:
  run        Start the archive engine using the provided config
  simulate   Run the configured engine against simulated sources
  validate   Load and validate a config file without starting the engine
  stats      Poll the Prometheus metrics endpoint and print live counters
  status     Print the channel table of a running engine

Examples:
  aegis-archive run -config ./data/config.yaml
  aegis-archive simulate -config ./data/config.yaml -period 200ms
  aegis-archive validate -config ./data/config.yaml
  aegis-archive stats -url http://localhost:9100/metrics -interval 1s
  aegis-archive status -url http://localhost:9100
`)
}
