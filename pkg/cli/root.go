package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/accountdesk/accountdesk/pkg/config"
)

// Options lets tests swap the output and the logger.
type Options struct {
	Out       io.Writer
	NewLogger func(debug bool) *zap.Logger
}

func DefaultOptions() Options {
	return Options{Out: os.Stdout, NewLogger: NewLogger}
}

// runtimeState is shared by all subcommands of one root command.
type runtimeState struct {
	opts  Options
	flags Flags
	cfg   config.Config
	zl    *zap.Logger
	log   *zap.SugaredLogger
}

func NewRootCommand(opts Options) *cobra.Command {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.NewLogger == nil {
		opts.NewLogger = NewLogger
	}
	rt := &runtimeState{opts: opts, flags: defaultFlags()}

	root := &cobra.Command{
		Use:           "accountdesk",
		Short:         "Account service and mail dispatch worker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			rt.zl = rt.opts.NewLogger(rt.flags.Debug)
			rt.log = rt.zl.Sugar()
			if rt.flags.Debug {
				rt.flags.Print(rt.log)
			}
			cfg, err := loadConfig(rt.flags)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.zl != nil {
				_ = rt.zl.Sync()
			}
		},
	}
	root.SetOut(opts.Out)
	root.SetErr(opts.Out)

	pf := root.PersistentFlags()
	pf.BoolVar(&rt.flags.Debug, "debug", rt.flags.Debug, "Enable debug level logging (ACCOUNTDESK_DEBUG)")
	pf.StringVar(&rt.flags.ConfigPath, "config", rt.flags.ConfigPath, "Path to the configuration file, default ./config.yaml (ACCOUNTDESK_CONFIG_PATH)")
	pf.StringSliceVar(&rt.flags.EnvFiles, "env-file", rt.flags.EnvFiles, "Env files loaded before the config when present (ACCOUNTDESK_ENV_FILES)")

	root.AddCommand(
		newServeCommand(rt),
		newDispatchCommand(rt),
		newMigrateCommand(rt),
		newVersionCommand(rt),
	)
	return root
}
