// Package config loads a connectivity.RunConfig from, in increasing
// precedence: built-in defaults, an optional YAML config file, VSRS_*
// environment variables and explicitly set command-line flags.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/vsrs-connectivity/connectivity"
)

// EnvPrefix prefixes every environment override, e.g. VSRS_WORKERS=8.
const EnvPrefix = "VSRS"

// ConfigKey names the flag and env var (VSRS_CONFIG) holding the config file path.
const ConfigKey = "config"

// SetDefaults registers every RunConfig key with its default value.
func SetDefaults(v *viper.Viper) {
	d := connectivity.DefaultRunConfig()
	v.SetDefault("input_dir", d.InputDir)
	v.SetDefault("bundle_dir", d.BundleDir)
	v.SetDefault("export_dir", d.ExportDir)
	v.SetDefault("journal_dir", d.JournalDir)
	v.SetDefault("metrics_file", d.MetricsFile)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("task_timeout", d.TaskTimeout)
	v.SetDefault("factors", d.Factors)
	v.SetDefault("bands", d.Bands)
	v.SetDefault("metrics", d.Metrics)
	v.SetDefault("cell_order", d.CellOrder)
	v.SetDefault("window_seconds", d.WindowSeconds)
	v.SetDefault("freq_step", d.FreqStep)
	v.SetDefault("overwrite", d.Overwrite)
	v.SetDefault("pretty", d.Pretty)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// RegisterFlags adds the shared run flags to fs. Flag names are the config
// keys with "-" for "_".
func RegisterFlags(fs *pflag.FlagSet) {
	d := connectivity.DefaultRunConfig()
	fs.String(ConfigKey, "", "YAML config file (env VSRS_CONFIG)")
	fs.String("input-dir", d.InputDir, "directory of <subject>_source_data.json archives")
	fs.String("bundle-dir", d.BundleDir, "directory for per-cell connectivity bundles")
	fs.String("export-dir", d.ExportDir, "directory for per-subject export files")
	fs.String("journal-dir", d.JournalDir, "task journal directory (empty disables the journal)")
	fs.String("metrics-file", d.MetricsFile, "write a Prometheus textfile here at the end of the run")
	fs.Int("workers", d.Workers, "parallel cell tasks")
	fs.Duration("task-timeout", d.TaskTimeout, "wall-clock budget per cell task (0 disables)")
	fs.StringSlice("metrics", d.Metrics, "connectivity metrics, in output order")
	fs.StringSlice("cell-order", d.CellOrder, "condition order of subject exports")
	fs.Float64("window-seconds", d.WindowSeconds, "spectral analysis window length")
	fs.Float64("freq-step", d.FreqStep, "frequency grid spacing in Hz")
	fs.Bool("overwrite", d.Overwrite, "recompute and overwrite existing outputs")
	fs.Bool("pretty", d.Pretty, "pretty-print JSON outputs")
	fs.String("log-level", d.LogLevel, "debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "text or json")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves and validates the run configuration. fs may be nil.
func Load(fs *pflag.FlagSet) (connectivity.RunConfig, error) {
	v := New()
	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if bindErr != nil || f.Name == "help" {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return connectivity.RunConfig{}, fmt.Errorf("config.Load: bind flags: %w", bindErr)
		}
	}

	if file := v.GetString(ConfigKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return connectivity.RunConfig{}, &connectivity.ConfigurationError{Field: ConfigKey, Reason: file, Err: err}
		}
	}

	var cfg connectivity.RunConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return connectivity.RunConfig{}, &connectivity.ConfigurationError{Field: "config", Reason: "decode", Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return connectivity.RunConfig{}, err
	}
	return cfg, nil
}

// WriteYAML prints cfg in config-file form.
func WriteYAML(w io.Writer, cfg connectivity.RunConfig) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("config.WriteYAML: %w", err)
	}
	return enc.Close()
}
