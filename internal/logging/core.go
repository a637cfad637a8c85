package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newCore builds the stderr and file cores, then applies redaction and
// sampling. The returned closer releases the log file, if any.
func newCore(cfg *Config) (zapcore.Core, func(), error) {
	cores := make([]zapcore.Core, 0, 2)
	closer := func() {}

	if cfg.Output.Stderr {
		cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), zapcore.Lock(os.Stderr), cfg.Level))
	}

	if cfg.Output.File != "" {
		sink, closeFile, err := zap.Open(cfg.Output.File)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output.File, err)
		}
		// Files are always JSON so they can be shipped as-is.
		cores = append(cores, zapcore.NewCore(newEncoder("json"), sink, cfg.Level))
		closer = closeFile
	}

	if len(cores) == 0 {
		return nil, nil, fmt.Errorf("at least one output must be enabled")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	core, err := newRedactingCore(core, cfg.Redaction)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("failed to create redacting core: %w", err)
	}
	return newSampledCore(core, cfg.Sampling), closer, nil
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = encodeLevel

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
