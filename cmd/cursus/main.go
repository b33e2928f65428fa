package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/cursus/internal/common"
	"github.com/ternarybob/cursus/internal/interfaces"
	"github.com/ternarybob/cursus/internal/models"
	"github.com/ternarybob/cursus/internal/pipeline"
	"github.com/ternarybob/cursus/internal/runner"
	"github.com/ternarybob/cursus/internal/services/events"
	"github.com/ternarybob/cursus/internal/services/presets"
	"github.com/ternarybob/cursus/internal/services/scheduler"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths
	presetName   = flag.String("preset", "", "Pipeline preset to submit")
	detailLevel  = flag.String("detail", "", "Status detail level: lite or full (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	common.LoadVersionFromFile()

	if *showVersion || *showVersionV {
		fmt.Printf("Cursus %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("cursus.toml"); err == nil {
			configFiles = append(configFiles, "cursus.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	if *detailLevel != "" {
		config.Runner.DetailLevel = *detailLevel
		if err := config.Validate(); err != nil {
			arbor.NewLogger().Fatal().Err(err).Msg("Invalid detail level")
			os.Exit(1)
		}
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	if err := run(); err != nil {
		logger.Error().Err(err).Msg("Run did not succeed")
		os.Exit(1)
	}
}

func run() error {
	api := runner.NewClient(config.Backend.URL,
		runner.WithLogger(logger),
		runner.WithTimeout(config.Backend.RequestTimeoutDuration()),
		runner.WithRateLimit(config.Backend.RateLimit),
	)

	eventService := events.NewService(logger)
	defer eventService.Close()

	presetService := presets.NewService(logger)
	if _, err := os.Stat(config.Presets.Dir); err == nil {
		if err := presetService.LoadDir(config.Presets.Dir); err != nil {
			logger.Warn().Err(err).Str("dir", config.Presets.Dir).Msg("Failed to load presets")
		}
	}

	stages := pipeline.NewStageIndex(config.Runner.Stages)
	orch := runner.NewOrchestrator(api, stages, eventService, runner.OrchestratorConfig{
		OrchestratePath: config.Backend.URL,
		PollInterval:    config.Runner.PollIntervalDuration(),
		RunTimeout:      config.Runner.RunTimeoutDuration(),
		DetailLevel:     models.DetailLevel(config.Runner.DetailLevel),
	}, logger)

	done := make(chan string, 1)
	if err := eventService.Subscribe(interfaces.EventRunFinished, func(ctx context.Context, event interfaces.Event) error {
		payload, ok := event.Payload.(map[string]interface{})
		if !ok {
			return nil
		}
		phase, _ := payload["phase"].(string)
		select {
		case done <- phase:
		default:
		}
		return nil
	}); err != nil {
		return fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if config.Schedule.Enabled {
		return runScheduled(orch, presetService, sigChan)
	}

	if *presetName == "" {
		return fmt.Errorf("no preset given: pass -preset or enable [schedule] in config")
	}

	req, ok := presetService.Get(*presetName)
	if !ok {
		req = models.NewPresetRequest(*presetName)
	}

	if err := orch.Start(context.Background(), req); err != nil {
		return err
	}

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt received, cancelling run")
		if err := orch.Cancel(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Cancel failed")
		}
		<-done
	case phase := <-done:
		if phase != models.PhaseSucceeded.String() {
			return fmt.Errorf("run finished with phase %s: %s", phase, orch.LastError())
		}
		printOutcome(orch)
	}

	return nil
}

// runScheduled keeps submitting the configured preset on the cron
// schedule until interrupted.
func runScheduled(orch *runner.Orchestrator, presetService *presets.Service, sigChan chan os.Signal) error {
	sched := scheduler.NewService(orch, presetService, logger)

	preset := config.Schedule.Preset
	if preset == "" {
		preset = *presetName
	}
	if err := sched.Start(config.Schedule.Cron, preset); err != nil {
		return err
	}
	defer sched.Stop()

	<-sigChan
	logger.Info().Msg("Interrupt received, shutting down scheduler")
	if orch.Phase().IsActive() {
		if err := orch.Cancel(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("Cancel failed")
		}
	}
	return nil
}

func printOutcome(orch *runner.Orchestrator) {
	meta := orch.Meta()
	logger.Info().
		Str("run_id", meta.ID).
		Str("status", meta.Status.String()).
		Msg("Run complete")

	for _, entry := range orch.Reflections() {
		for _, action := range entry.NextActions {
			logger.Info().
				Str("stage", entry.Stage).
				Str("action_id", action.ID).
				Str("label", action.Label).
				Msg("Suggested next action")
		}
	}
}
