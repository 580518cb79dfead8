package system

import (
	"os"

	"go.uber.org/zap"
)

// TestLogLevelEnv overrides the level of NewTestLogger, e.g. "warn" to quiet a run.
const TestLogLevelEnv = "ACCOUNTDESK_TEST_LOG_LEVEL"

// NewTestLogger returns a development logger for tests, without stacktraces.
func NewTestLogger() *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	if v := os.Getenv(TestLogLevelEnv); v != "" {
		if lvl, err := zap.ParseAtomicLevel(v); err == nil {
			cfg.Level = lvl
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}
