package cli

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/accountdesk/accountdesk/pkg/config"
)

// Flags holds the global flags. Every flag falls back to an environment
// variable so containers can be configured without arguments.
type Flags struct {
	Debug      bool
	ConfigPath string
	EnvFiles   []string

	// serve only
	Migrate         bool
	DisableDispatch bool
}

func defaultFlags() Flags {
	return Flags{
		Debug:           getEnvBool("ACCOUNTDESK_DEBUG", false),
		ConfigPath:      getEnvString("ACCOUNTDESK_CONFIG_PATH", ""),
		EnvFiles:        splitList(getEnvString("ACCOUNTDESK_ENV_FILES", ".env")),
		Migrate:         getEnvBool("ACCOUNTDESK_MIGRATE", true),
		DisableDispatch: getEnvBool("ACCOUNTDESK_DISABLE_DISPATCH", false),
	}
}

func (f Flags) Print(log *zap.SugaredLogger) {
	log.Infow("CLI Configuration",
		"debug", f.Debug,
		"config_path", f.ConfigPath,
		"env_files", f.EnvFiles,
		"migrate", f.Migrate,
		"disable_dispatch", f.DisableDispatch,
	)
}

// loadConfig reads .env files, the YAML file and the environment, in that
// order of increasing precedence, then fills defaults and validates.
func loadConfig(f Flags) (config.Config, error) {
	if err := config.LoadDotEnv(f.EnvFiles...); err != nil {
		return config.Config{}, fmt.Errorf("loading env files: %w", err)
	}
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg.ApplyEnv()
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger: JSON in production, console in debug,
// RFC3339 UTC timestamps and no automatic stacktraces.
func NewLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return logger
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
