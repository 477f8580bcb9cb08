package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ayusman/nailwatch/internal/app"
	"github.com/ayusman/nailwatch/internal/capture"
	"github.com/ayusman/nailwatch/internal/classifier"
	"github.com/ayusman/nailwatch/internal/config"
	"github.com/ayusman/nailwatch/internal/history"
	"github.com/ayusman/nailwatch/internal/notify"
	"github.com/ayusman/nailwatch/internal/plugin"
	"github.com/ayusman/nailwatch/internal/server"
	"github.com/ayusman/nailwatch/internal/store"
	"github.com/ayusman/nailwatch/internal/tray"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var headless bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start monitoring (the default command)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			if err := ensureDataDir(cfg.DataDir); err != nil {
				logger.WithError(err).Fatal("cannot create data directory")
			}
			return runDaemon(cmd.Context(), cfg, headless, logger)
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "run without the menu-bar icon")
	cmd.Flags().String("addr", "", "dashboard listen address, empty string disables it")
	opts.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func runDaemon(parent context.Context, cfg config.Config, headless bool, logger *logrus.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithFields(logrus.Fields{
		"data_dir": cfg.DataDir,
		"config":   cfg.Source,
	}).Info("nailwatch starting")

	// Preferences and sessions are optional; the monitor runs without them.
	st, err := store.New(filepath.Join(cfg.DataDir, store.FileName))
	if err != nil {
		logger.WithError(err).Warn("preferences database unavailable, using defaults")
		st = nil
	} else {
		defer st.Close()
	}

	hist := history.Open(filepath.Join(cfg.DataDir, history.FileName), logger)
	hist.Load()
	go reportPersistence(ctx, hist, logger)

	plugins := plugin.NewManager(cfg.Alert.PluginDir, logger)
	if err := plugins.Discover(); err != nil {
		logger.WithError(err).Warn("alert plugin discovery failed")
	}
	dispatcher := plugin.NewDispatcher(plugins, plugin.NewExecutor(cfg.Alert.HookTimeout), logger)

	overlay := notify.NewOverlay(cfg.Alert.Duration)
	alerter := notify.NewAlerter(overlay, dispatcher, logger)

	camera := capture.NewCamera(capture.Options{
		Device: cfg.Camera.Device,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
	})

	a, err := app.New(app.Config{
		Camera:    camera,
		LoadModel: modelLoader(cfg.Model, logger),
		History:   hist,
		Store:     st,
		Notifier:  alerter,
		Defaults: store.Preferences{
			Variant:          cfg.Model.Variant,
			ThresholdPercent: cfg.Detection.ThresholdPercent,
			Muted:            false,
			Autostart:        true,
		},
		Alpha:    cfg.Detection.Alpha,
		Cooldown: cfg.Detection.Cooldown,
		Log:      logger,
	})
	if err != nil {
		return err
	}
	if err := a.Open(); err != nil {
		return err
	}

	dashboardURL := ""
	if cfg.Server.Addr != "" {
		staticDir := cfg.Server.StaticDir
		if staticDir == "" {
			staticDir = findWebDir(cfg.DataDir)
		}
		srv := server.New(server.Config{
			StaticDir: staticDir,
			Monitor:   a,
			Store:     st,
			Log:       logger,
		})
		go func() {
			if err := srv.Run(ctx, cfg.Server.Addr); err != nil {
				logger.WithError(err).Error("dashboard server stopped")
			}
		}()
		dashboardURL = "http://" + cfg.Server.Addr
	}

	if err := a.Autostart(); err != nil {
		logger.WithError(err).Warn("autostart failed")
	}

	if headless {
		<-ctx.Done()
	} else {
		t := tray.New(a, dashboardURL, logger)
		overlay.OnChange(t.ShowAlert)
		t.OnQuit(stop)
		go func() {
			<-ctx.Done()
			t.Quit()
		}()
		t.Run()
	}

	logger.Info("nailwatch shutting down")
	return shutdown(a, alerter, hist, logger)
}

func shutdown(a *app.App, alerter *notify.Alerter, hist *history.Log, logger *logrus.Logger) error {
	var errs []error
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	alerter.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hist.Flush(ctx); err != nil {
		logger.WithError(err).Error("failed to save detection log")
		errs = append(errs, err)
	}
	if err := hist.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// reportPersistence logs the outcome of detection log writes.
func reportPersistence(ctx context.Context, hist *history.Log, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-hist.Results():
			if err != nil {
				logger.WithError(err).Warn("detection log write failed")
			}
		}
	}
}

func modelLoader(mc config.ModelConfig, logger *logrus.Logger) app.ModelLoader {
	return func(v classifier.Variant) (classifier.Classifier, error) {
		return classifier.Load(classifier.Options{
			Dir:                     mc.Dir,
			Variant:                 v,
			PositiveIsBiting:        mc.PositiveIsBiting,
			OutputsAreProbabilities: mc.OutputsAreProbabilities,
			PositiveLabel:           mc.PositiveLabel,
			InputNames:              mc.InputNames,
			ServiceScript:           mc.ServiceScript,
		}, logger)
	}
}

// findWebDir searches for the dashboard directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
