// Package telemetry provides observability instrumentation for rolloutd.
//
// It integrates structured logging (zerolog), optional distributed tracing
// (OpenTelemetry), metrics (Prometheus), and an internal event bus into a
// single handle carried through a run's context.
//
// # Architecture
//
//  1. Structured Logging - context-aware logging with zerolog
//  2. Tracing - spans for a run and each step within it, exported to
//     stdout for debugging or dropped entirely
//  3. Metrics - Prometheus counters/histograms for step, HTTP, and command
//     activity, exposed via --metrics-addr
//  4. Events - an internal pub/sub bus so a host process embedding the
//     driver can observe run and step lifecycle without polling the
//     history store
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "rolloutd"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := tel.WithContext(context.Background())
//	ctx = telemetry.WithRunContext(ctx, runID, host, mode)
//	defer telemetry.EndRunContext(ctx, runID, mode, status, runErr)
//
// # Metrics
//
//	rollout_steps_total{outcome}
//	rollout_http_requests_total{op,outcome}
//	rollout_run_duration_seconds{mode,outcome}
//	rollout_command_duration_seconds{step}
//	rollout_errors_total{kind}
//	rollout_queue_depth
//	rollout_active_runs
//
// # Tracing
//
// Supported exporters: "stdout" (pretty-printed spans, for running a step
// set by hand) and "none" (spans generated, never exported).
package telemetry
