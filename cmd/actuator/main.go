// Command actuator runs the action execution pipeline: the step endpoints
// the orchestration runtime drives plus the read-only status API.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/praxisworks/actuator/api"
	"github.com/praxisworks/actuator/core"
	"github.com/praxisworks/actuator/eventlog"
	"github.com/praxisworks/actuator/execution"
	"github.com/praxisworks/actuator/idempotency"
	"github.com/praxisworks/actuator/kv"
	"github.com/praxisworks/actuator/registry"
	"github.com/praxisworks/actuator/resilience"
	"github.com/praxisworks/actuator/telemetry"
)

const serviceName = "actuator"

func main() {
	logger := core.NewSlogLogger()

	cfg, err := core.NewConfig()
	if err != nil {
		logger.Error("Configuration invalid", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	provider, err := telemetry.NewProvider(serviceName)
	if err != nil {
		logger.Error("Telemetry bootstrap failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	store, err := kv.NewRedisStore(cfg.RedisURL, cfg.Namespace, logger)
	if err != nil {
		logger.Error("Redis connection failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	metrics := telemetry.NewOTelMetrics(serviceName, logger)
	slo := telemetry.NewSLOEmitter(metrics, cfg.SLOSampleRate)

	reg := registry.New(store, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if seedPath := os.Getenv("ACTUATOR_REGISTRY_SEED"); seedPath != "" {
		if err := reg.LoadSeedFile(ctx, seedPath); err != nil {
			logger.Error("Registry seeding failed", map[string]interface{}{
				"path":  seedPath,
				"error": err.Error(),
			})
			os.Exit(1)
		}
	}

	intents := execution.NewIntentStore(store)
	attempts := execution.NewAttemptStore(store, logger)
	attempts.SetTTLBuffer(cfg.AttemptTTLBuffer)
	outcomes := execution.NewOutcomeStore(store, logger, cfg.OutcomeRetention)
	dedupe := idempotency.NewDedupeStore(store, logger, cfg.DedupeRetention)
	events := eventlog.New(store, logger)
	// Re-read per call so a flag flipped through the environment (injected
	// config volume, supervisor restartless reload) takes effect immediately.
	killSwitch := execution.NewKillSwitch(store, logger, func() bool {
		if v := os.Getenv("ACTUATOR_EMERGENCY_STOP"); v != "" {
			stop, err := strconv.ParseBool(v)
			return err == nil && stop
		}
		return cfg.EmergencyStop
	})

	breaker := resilience.NewBreaker(store, resilience.BreakerOptions{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
		StateRetention:   cfg.Breaker.StateRetention,
	}, logger)
	limiter := resilience.NewLimiter(cfg.Concurrency.DefaultCapacity, cfg.Concurrency.PerConnector)
	wrapper := resilience.NewWrapper(breaker, limiter, slo, logger, cfg.Concurrency.DefaultRetryAfter)

	executor := execution.NewExecutor(execution.ExecutorDeps{
		Intents:    intents,
		Attempts:   attempts,
		Outcomes:   outcomes,
		Registry:   reg,
		Dedupe:     dedupe,
		KillSwitch: killSwitch,
		Events:     events,
		Gateway:    execution.NewHTTPGateway(cfg.HTTP.WriteTimeout, logger),
		Wrapper:    wrapper,
		Metrics:    metrics,
		Logger:     logger,
	}, cfg.GatewayURL, cfg.OrchestrationTimeout)

	server := api.NewServer(executor, intents, attempts, outcomes,
		api.NewOktaVerifier(cfg.Auth), logger, cfg.HTTP)

	if err := server.Run(ctx); err != nil {
		logger.Error("Server exited with error", map[string]interface{}{"error": err.Error()})
	}

	if err := provider.Shutdown(context.Background()); err != nil {
		logger.Warn("Telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
	}
}
