// Command meridiand wires every package in this module into a running
// process: it loads configuration, builds the shared registry and every
// typed bus, the LLM bus, the graph store, the identity variance
// monitor, the configuration feedback loop, the self-configuration
// orchestrator, and the task scheduler, then starts them all and serves
// a small HTTP control surface until an interrupt signal arrives.
//
// This mirrors the teacher's own framework.go component-startup
// sequence (_examples/itsneelabh-gomind/framework.go): construct every
// subsystem against shared dependencies, start them with
// logging-and-continue semantics, and shut down on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/meridian-run/meridian/ai"
	_ "github.com/meridian-run/meridian/ai/providers/mock" // self-registers the "mock" provider for dev_mode
	"github.com/meridian-run/meridian/bus"
	"github.com/meridian-run/meridian/busmanager"
	"github.com/meridian-run/meridian/config"
	"github.com/meridian-run/meridian/core"
	"github.com/meridian-run/meridian/feedback"
	"github.com/meridian-run/meridian/graph"
	"github.com/meridian-run/meridian/identity"
	"github.com/meridian-run/meridian/llmbus"
	"github.com/meridian-run/meridian/registry"
	"github.com/meridian-run/meridian/resilience"
	"github.com/meridian-run/meridian/scheduler"
	"github.com/meridian-run/meridian/selfconfig"
	"github.com/meridian-run/meridian/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to meridian.yaml (optional; defaults are used if omitted)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("meridiand: load config: %v", err)
	}

	var logger core.Logger = telemetry.NewTelemetryLogger(cfg.Namespace).WithComponent("meridiand")

	telemetryProfile := telemetry.ProfileProduction
	if cfg.DevMode {
		telemetryProfile = telemetry.ProfileDevelopment
	}
	telemetryConfig := telemetry.UseProfile(telemetryProfile)
	telemetryConfig.ServiceName = cfg.Namespace
	if cfg.OTelEndpoint != "" {
		telemetryConfig.Endpoint = cfg.OTelEndpoint
	}
	if err := telemetry.Initialize(telemetryConfig); err != nil {
		logger.Warn("meridiand: telemetry provider init failed, metrics will be discarded", map[string]interface{}{"error": err.Error()})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("meridiand: build failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer app.closeStores()

	app.start(ctx)
	logger.Info("meridiand started", map[string]interface{}{
		"operation": "meridiand_start",
		"namespace": cfg.Namespace,
		"port":      cfg.Port,
	})

	srv := app.httpServer(cfg.Port)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("meridiand: http server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	logger.Info("meridiand shutting down", map[string]interface{}{"operation": "meridiand_shutdown"})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	app.stop()
}

// app bundles every constructed subsystem so main can start/stop them as
// a unit.
type app struct {
	cfg    *config.Config
	logger core.Logger

	reg          *registry.Registry
	busMgr       *busmanager.Manager
	llmBus       *llmbus.Bus
	graphStore   graph.Store
	pgStore      *graph.PostgresStore
	pipeline     *graph.Pipeline
	consolidator *graph.Consolidator
	monitor      *identity.Monitor
	policyGate   *identity.PolicyGate
	feedbackLoop *feedback.Loop
	runtime      *config.RuntimeState
	orchestrator *selfconfig.Orchestrator
	sched        *scheduler.Scheduler
	redisClient  *core.RedisClient

	stopCh chan struct{}
}

// build constructs every subsystem without starting any background
// workers, so construction errors (bad DSNs, unreachable brokers) surface
// before anything is running.
func build(ctx context.Context, cfg *config.Config, logger core.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, stopCh: make(chan struct{})}

	a.reg = registry.New(logger)

	a.busMgr = busmanager.New(a.reg, busmanager.Config{QueueCapacity: cfg.Bus.QueueCapacity}, logger)

	a.llmBus = llmbus.New(a.reg, a.busMgr.Telemetry, llmbus.Config{
		Strategy: cfg.DistributionStrategyValue(),
		BreakerConfig: llmbus.BreakerConfig{
			FailureThreshold: cfg.LLM.FailureThreshold,
			RecoveryTimeout:  cfg.LLM.RecoveryTimeout,
			HalfOpenMaxCalls: uint32(cfg.LLM.HalfOpenMaxCalls),
		},
	}, logger)

	if err := a.registerOptionalProviders(ctx); err != nil {
		return nil, err
	}

	store, pgStore, err := buildGraphStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.graphStore = store
	a.pgStore = pgStore
	if a.pgStore != nil {
		a.pgStore.SetRetryExecutor(resilience.CreateRetryExecutor(resilience.ResilienceDependencies{Logger: logger}))
	}

	a.pipeline = graph.NewPipeline(a.graphStore, logger)
	ledger := graph.NewGraceLedger()
	a.consolidator = graph.NewConsolidator(a.graphStore, ledger, logger)
	a.consolidator.SetThreshold(time.Duration(cfg.Telemetry.ConsolidationThresholdHours) * time.Hour)

	a.monitor = identity.New(a.graphStore, a.busMgr.Wise, logger)
	a.monitor.SetThreshold(cfg.Variance.Threshold)
	hasBaseline, err := a.monitor.LoadBaseline(ctx)
	if err != nil {
		return nil, err
	}
	if !hasBaseline {
		if err := freezeInitialBaseline(ctx, a.monitor, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.OPAPolicyPath != "" {
		policyModule, err := os.ReadFile(cfg.OPAPolicyPath)
		if err != nil {
			return nil, err
		}
		gate, err := identity.NewPolicyGate(ctx, string(policyModule), logger)
		if err != nil {
			return nil, err
		}
		a.policyGate = gate
	} else {
		gate, err := identity.NewPolicyGate(ctx, "", logger)
		if err != nil {
			return nil, err
		}
		a.policyGate = gate
	}

	a.feedbackLoop = feedback.New(a.graphStore, logger, feedback.Config{
		AnalysisInterval:     time.Duration(cfg.Feedback.AnalysisIntervalHours) * time.Hour,
		ExpectedCapabilities: cfg.Feedback.ExpectedCapabilities,
	})

	a.runtime = config.NewRuntimeState()

	a.orchestrator = selfconfig.New(selfconfig.Deps{
		Monitor:         a.monitor,
		Feedback:        a.feedbackLoop,
		Store:           a.graphStore,
		Applier:         a.runtime,
		Logger:          logger,
		Handler:         "meridiand",
		CurrentSnapshot: currentSnapshotFunc(a.graphStore, cfg.Feedback.ExpectedCapabilities),
		PolicyGate:      a.policyGate,
		StabilizationPeriod: time.Duration(cfg.SelfConfig.StabilizationPeriodHours) * time.Hour,
	})

	schedStore, redisClient, err := buildSchedulerStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.redisClient = redisClient
	a.sched = scheduler.New(schedStore, noopThoughtEmitter{logger: logger}, logger, scheduler.Config{
		TickInterval: time.Duration(cfg.Scheduler.TickIntervalSeconds) * time.Second,
	})
	if err := a.sched.Restore(ctx); err != nil {
		return nil, err
	}

	return a, nil
}

// registerOptionalProviders wires the bundled default adapters (Slack
// wise authority, AWS secrets, an ai.AIClient-backed LLM provider) when
// their configuration is present. None are required: every bus degrades
// to provider_unavailable if nothing is registered (§7).
func (a *app) registerOptionalProviders(ctx context.Context) error {
	if a.cfg.SlackBotToken != "" && a.cfg.SlackChannel != "" {
		provider := bus.NewSlackWiseProvider(a.cfg.SlackBotToken, a.cfg.SlackChannel, a.logger)
		a.reg.RegisterGlobal(core.ServiceWiseAuthority, provider, core.PriorityNormal, map[string]string{"adapter": "slack"})
	}

	if a.cfg.AWSRegion != "" {
		var opts []func(*awsconfig.LoadOptions) error
		opts = append(opts, awsconfig.WithRegion(a.cfg.AWSRegion))
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return err
		}
		provider := bus.NewAWSSecretsProvider(awsCfg, a.logger)
		a.reg.RegisterGlobal(core.ServiceSecrets, provider, core.PriorityNormal, map[string]string{"adapter": "aws_secrets_manager"})
	}

	providerName := a.cfg.LLM.AIProvider
	if providerName == "" && len(ai.ListProviders()) > 0 {
		detected, err := ai.DetectBestProvider(a.logger)
		if err != nil {
			a.logger.Info("no ai provider configured and none detected in environment", map[string]interface{}{"error": err.Error()})
		} else {
			providerName = detected
		}
	}
	if providerName != "" {
		factory, ok := ai.GetProvider(providerName)
		if !ok {
			return fmt.Errorf("meridiand: unknown ai provider %q (registered: %v)", providerName, ai.ListProviders())
		}
		client := factory.Create(&ai.AIConfig{Provider: providerName, Model: a.cfg.LLM.AIModel})
		adapter := llmbus.NewAIClientAdapter(client, a.cfg.LLM.AIModel, []string{llmbus.CapabilityStructured})
		a.reg.RegisterGlobal(core.ServiceLLM, adapter, core.PriorityNormal, map[string]string{"adapter": providerName})
	}
	return nil
}

func buildGraphStore(ctx context.Context, cfg *config.Config) (graph.Store, *graph.PostgresStore, error) {
	if cfg.PostgresURL == "" {
		return graph.NewMemStore(), nil, nil
	}
	store, err := graph.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, nil, err
	}
	return store, store, nil
}

func buildSchedulerStore(cfg *config.Config, logger core.Logger) (scheduler.Store, *core.RedisClient, error) {
	if cfg.RedisURL == "" {
		return scheduler.NewMemStore(), nil, nil
	}
	client, err := core.NewRedisClient(core.RedisClientOptions{
		RedisURL:  cfg.RedisURL,
		DB:        core.RedisDBScheduler,
		Namespace: cfg.Namespace + ":scheduler",
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return scheduler.NewRedisStore(client), client, nil
}

// noopThoughtEmitter is the default ThoughtEmitter until a reasoning
// layer is wired in (§1: the reasoning layer is an external
// collaborator, out of this spec's scope). It logs rather than drops
// silently, so a missing reasoning-layer adapter is visible in
// operation rather than a silent no-op.
type noopThoughtEmitter struct {
	logger core.Logger
}

func (e noopThoughtEmitter) EmitThought(ctx context.Context, triggerPrompt, scheduledTaskID, originThoughtID string) error {
	e.logger.Info("scheduled task fired with no reasoning layer attached", map[string]interface{}{
		"operation":         "scheduler_emit_thought",
		"trigger_prompt":    triggerPrompt,
		"scheduled_task_id": scheduledTaskID,
		"origin_thought_id": originThoughtID,
	})
	return nil
}

// start launches every background worker: the bus manager's typed
// buses, the feedback loop, the scheduler, and this process's own
// adaptation-cycle and consolidation tickers.
func (a *app) start(ctx context.Context) {
	a.busMgr.Start(ctx)
	a.feedbackLoop.Start(ctx)
	a.sched.Start(ctx)

	go a.runAdaptationLoop(ctx)
	go a.runConsolidationLoop(ctx)
}

func (a *app) stop() {
	close(a.stopCh)
	a.sched.Stop()
	a.feedbackLoop.Stop()
	a.busMgr.Stop(10 * time.Second)
}

func (a *app) closeStores() {
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.redisClient != nil {
		_ = a.redisClient.Close()
	}
}

// runAdaptationLoop drives RunAdaptationCycle on the same cadence as the
// variance monitor's check interval — the cycle itself is a no-op when
// stabilizing, reviewing, or emergency-stopped, so ticking faster than
// the stabilization period is harmless (§4.10).
func (a *app) runAdaptationLoop(ctx context.Context) {
	interval := time.Duration(a.cfg.Variance.CheckIntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if _, err := a.orchestrator.RunAdaptationCycle(ctx); err != nil {
				a.logger.Warn("adaptation cycle failed", map[string]interface{}{
					"operation": "meridiand_adaptation_cycle",
					"error":     err.Error(),
				})
			}
		}
	}
}

// runConsolidationLoop runs grace-aware consolidation whenever
// Consolidator.ShouldRun reports the threshold has elapsed (§4.7).
func (a *app) runConsolidationLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		case <-ticker.C:
			if !a.consolidator.ShouldRun(time.Now()) {
				continue
			}
			for _, scope := range []core.GraphScope{core.ScopeLocal, core.ScopeIdentity, core.ScopeCommunity, core.ScopeEnvironment} {
				if _, err := a.consolidator.Run(ctx, scope); err != nil {
					a.logger.Warn("consolidation run failed", map[string]interface{}{
						"operation": "meridiand_consolidation",
						"scope":     string(scope),
						"error":     err.Error(),
					})
				}
			}
		}
	}
}
