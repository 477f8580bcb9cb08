// Package config loads runtime configuration for nailwatch from defaults,
// an optional YAML file and NAILWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ayusman/nailwatch/internal/classifier"
)

// EnvPrefix is the prefix for environment overrides, e.g. NAILWATCH_CAMERA_DEVICE.
const EnvPrefix = "NAILWATCH"

// Config holds every tunable of the daemon.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Camera    CameraConfig    `mapstructure:"camera"`
	Model     ModelConfig     `mapstructure:"model"`
	Detection DetectionConfig `mapstructure:"detection"`
	Alert     AlertConfig     `mapstructure:"alert"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`

	// Source is the config file that was read, or "<defaults>".
	Source string `mapstructure:"-"`
}

// CameraConfig selects the capture device and its format.
type CameraConfig struct {
	Device int `mapstructure:"device"`
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	FPS    int `mapstructure:"fps"`
}

// ModelConfig describes where the classifier lives and how to read its output.
type ModelConfig struct {
	Dir                     string   `mapstructure:"dir"`
	Variant                 string   `mapstructure:"variant"`
	PositiveIsBiting        bool     `mapstructure:"positive_is_biting"`
	OutputsAreProbabilities bool     `mapstructure:"outputs_are_probabilities"`
	PositiveLabel           string   `mapstructure:"positive_label"`
	InputNames              []string `mapstructure:"input_names"`
	ServiceScript           string   `mapstructure:"service_script"`
}

// DetectionConfig tunes the smoother and event emitter.
type DetectionConfig struct {
	Alpha            float64       `mapstructure:"alpha"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	ThresholdPercent float64       `mapstructure:"threshold_percent"`
}

// AlertConfig tunes how detections are surfaced.
type AlertConfig struct {
	Duration    time.Duration `mapstructure:"duration"`
	PluginDir   string        `mapstructure:"plugin_dir"`
	HookTimeout time.Duration `mapstructure:"hook_timeout"`
}

// ServerConfig configures the local dashboard API. An empty Addr disables it.
type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	StaticDir string `mapstructure:"static_dir"`
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultDataDir returns the application support directory for nailwatch.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "NailWatch")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".nailwatch")
	}
	return ".nailwatch"
}

// SetDefaults registers the baseline values on v.
func SetDefaults(v *viper.Viper) {
	dataDir := DefaultDataDir()

	v.SetDefault("data_dir", dataDir)

	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 5)

	v.SetDefault("model.dir", "")
	v.SetDefault("model.variant", string(classifier.Variant512))
	v.SetDefault("model.positive_is_biting", false)
	v.SetDefault("model.outputs_are_probabilities", false)
	v.SetDefault("model.positive_label", classifier.DefaultPositiveLabel)
	v.SetDefault("model.input_names", classifier.DefaultInputNames)
	v.SetDefault("model.service_script", "")

	v.SetDefault("detection.alpha", 0.40)
	v.SetDefault("detection.cooldown", 2*time.Second)
	v.SetDefault("detection.threshold_percent", 75.0)

	v.SetDefault("alert.duration", 3*time.Second)
	v.SetDefault("alert.plugin_dir", "")
	v.SetDefault("alert.hook_timeout", 5*time.Second)

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.static_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	cfg, _ := decode(v)
	cfg.Source = "<defaults>"
	return cfg
}

// Load reads configuration into v. When path is empty a config.yaml in the
// working directory or the default data directory is used if present.
func Load(v *viper.Viper, path string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	source := "<defaults>"
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		source = v.ConfigFileUsed()
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("data_dir"))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		} else {
			source = v.ConfigFileUsed()
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	cfg.Source = source

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Model.Dir == "" {
		cfg.Model.Dir = filepath.Join(cfg.DataDir, "models")
	}
	if cfg.Alert.PluginDir == "" {
		cfg.Alert.PluginDir = filepath.Join(cfg.DataDir, "plugins")
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir must not be empty")
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera.fps must be positive, got %d", c.Camera.FPS)
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return fmt.Errorf("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if _, err := classifier.ParseVariant(c.Model.Variant); err != nil {
		return err
	}
	if c.Detection.Alpha <= 0 || c.Detection.Alpha > 1 {
		return fmt.Errorf("detection.alpha must be in (0,1], got %v", c.Detection.Alpha)
	}
	if c.Detection.Cooldown <= 0 {
		return fmt.Errorf("detection.cooldown must be positive, got %v", c.Detection.Cooldown)
	}
	if c.Detection.ThresholdPercent <= 0 || c.Detection.ThresholdPercent > 100 {
		return fmt.Errorf("detection.threshold_percent must be in (0,100], got %v", c.Detection.ThresholdPercent)
	}
	if c.Alert.Duration <= 0 {
		return fmt.Errorf("alert.duration must be positive, got %v", c.Alert.Duration)
	}
	if _, err := normalizeLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

// NormalizeLogLevel lowercases and validates a log level name.
func NormalizeLogLevel(level string) (string, error) {
	return normalizeLevel(level)
}

func normalizeLevel(level string) (string, error) {
	l := strings.ToLower(strings.TrimSpace(level))
	switch l {
	case "":
		return "info", nil
	case "debug", "info", "warn", "warning", "error":
		return l, nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}
