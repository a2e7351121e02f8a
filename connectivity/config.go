package connectivity

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultCellOrder is the agreed condition-axis order of subject exports.
func DefaultCellOrder() []string {
	return []string{"open_1", "open_2", "closed_1", "closed_2"}
}

// RunConfig is the explicit configuration of one pipeline run. It replaces
// process-wide paths and environment settings; every stage receives it.
type RunConfig struct {
	InputDir  string `mapstructure:"input_dir" yaml:"input_dir" validate:"required"`
	BundleDir string `mapstructure:"bundle_dir" yaml:"bundle_dir" validate:"required"`
	ExportDir string `mapstructure:"export_dir" yaml:"export_dir" validate:"required"`

	// JournalDir holds the badger task journal; empty disables journaling.
	JournalDir string `mapstructure:"journal_dir" yaml:"journal_dir"`

	// MetricsFile receives a Prometheus textfile dump at the end of a run.
	MetricsFile string `mapstructure:"metrics_file" yaml:"metrics_file"`

	Workers     int           `mapstructure:"workers" yaml:"workers" validate:"gte=1"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`

	Factors   []Factor  `mapstructure:"factors" yaml:"factors" validate:"required,min=1,dive"`
	Bands     BandTable `mapstructure:"bands" yaml:"bands" validate:"required,min=1,dive"`
	Metrics   []string  `mapstructure:"metrics" yaml:"metrics" validate:"required,min=1,unique,dive,required"`
	CellOrder []string  `mapstructure:"cell_order" yaml:"cell_order" validate:"required,min=1,unique"`

	WindowSeconds float64 `mapstructure:"window_seconds" yaml:"window_seconds" validate:"gt=0"`
	FreqStep      float64 `mapstructure:"freq_step" yaml:"freq_step" validate:"gt=0"`

	Overwrite bool `mapstructure:"overwrite" yaml:"overwrite"`
	Pretty    bool `mapstructure:"pretty" yaml:"pretty"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=text json"`
}

// DefaultRunConfig returns the eyes x session, five-band, wpli+coh setup.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		InputDir:      filepath.FromSlash("data/2_source_space"),
		BundleDir:     filepath.FromSlash("data/3_connectivity_data"),
		ExportDir:     filepath.FromSlash("data/connectivity_data_for_matlab"),
		JournalDir:    filepath.FromSlash("data/3_connectivity_data/.journal"),
		Workers:       4,
		TaskTimeout:   30 * time.Minute,
		Factors:       DefaultFactors(),
		Bands:         DefaultBands(),
		Metrics:       DefaultMetrics(),
		CellOrder:     DefaultCellOrder(),
		WindowSeconds: 1,
		FreqStep:      1,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Validate checks tags and cross-field rules. Every failure is a ConfigurationError.
func (c RunConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		field := "config"
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			field = verrs[0].Namespace()
		}
		return &ConfigurationError{Field: field, Err: err}
	}
	if err := ValidateFactors(c.Factors); err != nil {
		return err
	}
	if err := c.Bands.Validate(); err != nil {
		return err
	}
	if _, err := c.ResolvedCellOrder(); err != nil {
		return err
	}
	if c.TaskTimeout < 0 {
		return &ConfigurationError{Field: "task_timeout", Reason: "must be >= 0"}
	}
	if c.InputDir == c.BundleDir {
		return &ConfigurationError{Field: "bundle_dir", Reason: fmt.Sprintf("must differ from input_dir %q", c.InputDir)}
	}
	return nil
}

// ResolvedCellOrder maps CellOrder onto the factor design.
func (c RunConfig) ResolvedCellOrder() ([]CellDescriptor, error) {
	return ResolveCellOrder(c.Factors, c.CellOrder)
}

// CellStore returns the bundle store of the run.
func (c RunConfig) CellStore() CellStore {
	return CellStore{Dir: c.BundleDir, Pretty: c.Pretty}
}
