package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/rolloutd/rolloutd/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "rolloutd"
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("agent started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("driver")
	logger = logger.WithFields(map[string]interface{}{
		"run_id": "run-123",
		"step":   "100-users",
	})

	logger.Debug("evaluating step")
	logger.Info("step completed")
	logger.Warn("step ran in safe mode")

	err := fmt.Errorf("connection timeout")
	logger.WithError(err).Error("failed to fetch step source")

	// Output varies, no output specified
}

// Example_runInstrumentation demonstrates instrumenting a complete run.
func Example_runInstrumentation() {
	cfg := telemetry.DevelopmentConfig()
	// Keep log lines and spans off stdout so only the Println below is
	// compared against the Output comment.
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	runID := "run-123"
	ctx = telemetry.WithRunContext(ctx, runID, "host1", "apply")

	executeStep(ctx, runID)

	telemetry.EndRunContext(ctx, runID, "apply", "succeeded", nil)

	fmt.Println("run instrumentation complete")
	// Output: run instrumentation complete
}

func executeStep(ctx context.Context, runID string) {
	ctx = telemetry.WithStepContext(ctx, runID, "100-users", 100)

	logger := telemetry.FromContext(ctx)
	logger.Info("executing step")

	time.Sleep(time.Millisecond)

	telemetry.EndStepContext(ctx, runID, "100-users", nil)
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Metrics.RecordRunStarted()

	start := time.Now()
	time.Sleep(time.Millisecond)
	tel.Metrics.RecordRunCompleted("apply", "succeeded", time.Since(start))

	tel.Metrics.RecordStep("ok")
	tel.Metrics.RecordHTTPRequest("fetch_step", "ok")
	tel.Metrics.RecordCommand("100-users", 5*time.Millisecond)
	tel.Metrics.RecordError("local_file")
	tel.Metrics.SetQueueDepth(3)

	fmt.Println("metrics recorded successfully")
	// Output: metrics recorded successfully
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Enabled = true
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("event: %s - %s\n", event.Type, event.Message)
	}, nil)

	tel.Events.PublishRunStarted("run-123", "host1", "apply")
	tel.Events.PublishStepStarted("run-123", "100-users")
	tel.Events.PublishStepCompleted("run-123", "100-users", 25*time.Millisecond)

	// Output varies due to goroutine-delivered subscribers, no output specified
}

// Example_productionConfiguration demonstrates production-ready configuration.
func Example_productionConfiguration() {
	cfg := telemetry.ProductionConfig()
	cfg.ServiceName = "rolloutd"
	cfg.ServiceVersion = "1.2.3"
	cfg.Metrics.ListenAddress = ":9090"
	cfg.Metrics.Namespace = "rollout"

	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	fmt.Println("production configuration validated")
	// Output: production configuration validated
}

// Example_instrumentedOperation demonstrates using the InstrumentedContext helper.
func Example_instrumentedOperation() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stderr"
	cfg.Tracing.Exporter = "none"
	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartOperation(ctx, "validate_config")
	defer ic.End(nil)

	ic.Logger.Info("validating configuration")
	time.Sleep(time.Millisecond)
	ic.Logger.Debug("configuration validation complete")

	fmt.Println("operation instrumentation complete")
	// Output: operation instrumentation complete
}
