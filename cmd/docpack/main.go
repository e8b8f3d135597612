// Package main provides the docpack batch conversion CLI. It drives a
// single browser tab through a documentation project, converts each page
// to Markdown, and saves the result as a zip archive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/docpack/pkg/archive"
	"github.com/entrhq/docpack/pkg/batch"
	"github.com/entrhq/docpack/pkg/config"
	"github.com/entrhq/docpack/pkg/delivery"
	"github.com/entrhq/docpack/pkg/extract"
	"github.com/entrhq/docpack/pkg/logging"
	"github.com/entrhq/docpack/pkg/probe"
	"github.com/entrhq/docpack/pkg/target"
	"github.com/entrhq/docpack/pkg/types"
)

const (
	version = "0.1.0"

	// targetID names the single driving tab in the target registry.
	targetID = "docpack-main"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	URL         string
	ConfigFile  string
	OutputDir   string
	Headless    bool
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("docpack v%s\n", version)
		return
	}

	if cli.URL == "" {
		fmt.Fprintln(os.Stderr, "error: -url is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ninterrupted; cancelling at the next page boundary...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags.
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.URL, "url", "", "Starting address of the documentation project (required)")
	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.OutputDir, "output", "", "Directory for the saved archive (default: current directory)")
	flag.BoolVar(&cli.Headless, "headless", true, "Run the browser without a window")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "docpack - batch documentation-to-Markdown converter\n\n")
		fmt.Fprintf(os.Stderr, "Usage: docpack [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Convert a project and save the archive here\n")
		fmt.Fprintf(os.Stderr, "  docpack -url https://docs.example.com/projects/widget\n\n")
		fmt.Fprintf(os.Stderr, "  # Watch the browser while it works\n")
		fmt.Fprintf(os.Stderr, "  docpack -url https://docs.example.com -headless=false\n\n")
	}

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	log, err := logging.NewLogger("docpack")
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer log.Close()

	manager := target.NewManager()
	if err := manager.Initialize(); err != nil {
		return err
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			log.Warnf("target manager shutdown: %v", err)
		}
	}()

	tab, err := manager.Open(targetID, target.Options{
		Headless: cfg.Headless,
		Timeout:  target.DefaultTimeout,
	})
	if err != nil {
		return err
	}

	queue := delivery.NewQueue(extract.NewTransport(tab), cfg.Timing.DeliveryTimeout)
	agent := extract.NewAgent(tab, queue, log)
	if err := agent.Install(); err != nil {
		return fmt.Errorf("failed to install page agent: %w", err)
	}

	inScope, err := cfg.Scope.Matcher()
	if err != nil {
		return err
	}

	coordinator := target.NewCoordinator(tab, queue, targetID, cfg.Timing.NavigationTimeout, cfg.Timing.PollInterval)
	prober := probe.New(
		extract.NewMetricsSource(queue, targetID),
		probe.Thresholds{
			MinTextVolume:      cfg.Readiness.MinTextVolume,
			MinStructuralCount: cfg.Readiness.MinStructuralCount,
		},
		cfg.Timing.PollInterval,
	)
	converter := extract.NewPageConverter(queue, targetID, log)
	discoverer := extract.NewPageDiscoverer(queue, targetID, inScope)
	assembler := &archive.Assembler{OutputDir: cfg.OutputDir}
	broadcaster := types.NewBroadcaster()

	orchestrator := batch.NewOrchestrator(batch.Deps{
		Processor:    batch.NewProcessor(coordinator, prober, converter, cfg, log),
		Navigator:    coordinator,
		Discoverer:   discoverer,
		Assembler:    assembler,
		Broadcaster:  broadcaster,
		Log:          log,
		TargetID:     targetID,
		TargetClosed: tab.Closed(),
		Address:      tab,
		InScope:      inScope,
	})

	log.Infof("navigating to %s", cli.URL)
	if err := coordinator.Navigate(ctx, cli.URL); err != nil {
		return fmt.Errorf("failed to open %s: %w", cli.URL, err)
	}

	events, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()

	result, err := orchestrator.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("converting %d pages into %s.zip\n", result.Total, result.FolderName)

	return report(ctx, events, orchestrator)
}

// loadConfig merges the config file with command-line overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg := config.Default()
	if cli.ConfigFile != "" {
		loaded, err := config.Load(cli.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if cli.OutputDir != "" {
		cfg.OutputDir = cli.OutputDir
	}
	cfg.Headless = cli.Headless
	return cfg, nil
}

// report prints status events until the run reaches a terminal state.
func report(ctx context.Context, events <-chan *types.StatusEvent, orchestrator *batch.Orchestrator) error {
	done := ctx.Done()
	for {
		select {
		case <-done:
			// The signal handler already cancelled; ask the run to stop
			// and keep draining until its terminal event arrives.
			orchestrator.Cancel()
			done = nil
		case event, ok := <-events:
			if !ok {
				return nil
			}
			printEvent(event)
			if event.Running {
				continue
			}
			switch event.Type {
			case types.EventTypeBatchErrored:
				return fmt.Errorf("%s", event.Message)
			default:
				return nil
			}
		}
	}
}

func printEvent(event *types.StatusEvent) {
	switch event.Type {
	case types.EventTypeBatchProgress:
		fmt.Printf("[%d/%d] %s\n", event.Processed+event.Failed+1, event.Total, event.Message)
	case types.EventTypePageFailed:
		fmt.Printf("  warning: %s\n", event.Message)
	case types.EventTypePageProcessed:
		fmt.Printf("  %s\n", event.Message)
	default:
		fmt.Println(event.Message)
	}
}
