package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ayusman/nailwatch/internal/config"
	"github.com/ayusman/nailwatch/internal/logging"
)

type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	run := newRunCmd(opts)

	root := &cobra.Command{
		Use:           "nailwatch",
		Short:         "Menu-bar monitor that alerts on nail-biting",
		SilenceUsage:  true,
		SilenceErrors: false,
		Args:          cobra.NoArgs,
		RunE:          run.RunE,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default: config.yaml in the working or data directory)")
	pf.String("log-level", "", "log level: debug, info, warn or error")
	pf.String("data-dir", "", "directory for the detection log, database and models")
	opts.v.BindPFlag("logging.level", pf.Lookup("log-level"))
	opts.v.BindPFlag("data_dir", pf.Lookup("data-dir"))

	// The bare command runs the daemon, so it shares the run flags.
	root.Flags().AddFlagSet(run.Flags())

	root.AddCommand(run, newStatsCmd(opts), newClearCmd(opts))
	return root
}

// load reads the configuration and builds the logger.
func (o *rootOptions) load() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return config.Config{}, nil, err
	}
	logger.WithField("source", cfg.Source).Debug("configuration loaded")
	return cfg, logger, nil
}

// ensureDataDir creates the storage directory. Failing here is the only
// fatal startup error.
func ensureDataDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create data directory %q: %w", dir, err)
	}
	return nil
}
