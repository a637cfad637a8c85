// Package logging provides structured logging for wavekeeper.
//
// # Overview
//
// The package wraps Zap with:
//   - Custom Trace level (-2, below Debug)
//   - stderr output, optionally teed to a log file (stdout is reserved for
//     command results and hook verdicts)
//   - Automatic context field injection (trace_id, workflow.id, phase.id)
//   - Secret redaction of keys, patterns and error text before encoding
//   - An optional OpenTelemetry log bridge (WithOTEL)
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg, err := logging.FromSettings(appCfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	ctx = logging.WithWorkflowID(ctx, "wf_20260301_093015")
//	ctx = logging.WithPhaseID(ctx, "phase_1")
//	logger.Info(ctx, "phase completed", zap.Duration("duration", d))
//
// Output:
//
//	{
//	  "ts": "2026-03-01T09:31:02.114Z",
//	  "level": "info",
//	  "msg": "phase completed",
//	  "service": "wavekeeper",
//	  "workflow.id": "wf_20260301_093015",
//	  "phase.id": "phase_1",
//	  "duration": "45ms"
//	}
//
// Services take a plain *zap.Logger; pass Underlying() to them.
//
// When log export is on, WithOTEL tees entries into an OpenTelemetry
// LoggerProvider through the otelzap bridge. The bridge sees the same level
// and redaction as the local outputs.
//
// # Sampling
//
// Defaults per second:
//   - Trace: first 1, drop rest
//   - Debug: first 10, drop rest
//   - Info: first 100, then 1 every 10
//   - Warn: first 100, then 1 every 100
//   - Error+: never sampled
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	svc := retry.NewCoordinator(st, tl.Underlying())
//	tl.AssertLogged(t, zapcore.WarnLevel, "retry budget exhausted")
package logging
