// Package config loads spice-score settings from viper: flags, SPICE_SCORE_
// environment variables and an optional YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/Veraticus/the-spice-must-score/internal/anomaly"
	"github.com/Veraticus/the-spice-must-score/internal/artifacts"
	"github.com/Veraticus/the-spice-must-score/internal/common"
	"github.com/Veraticus/the-spice-must-score/internal/embedding"
	"github.com/Veraticus/the-spice-must-score/internal/features"
	"github.com/Veraticus/the-spice-must-score/internal/merchant"
	"github.com/Veraticus/the-spice-must-score/internal/training"
)

// EnvPrefix is prepended to every environment override, e.g. SPICE_SCORE_MODELS_DIR.
const EnvPrefix = "SPICE_SCORE"

// Config is the resolved configuration.
type Config struct {
	Embedding        embedding.Config
	ModelsDir        string
	CatalogPath      string
	IndexKind        string
	MetricsTextfile  string
	LogLevel         string
	LogFormat        string
	MinScore         float64
	Contamination    float64
	Keep             int
	MerchantMinCount int
	MaxTextFeatures  int
	Estimators       int
}

// SetDefaults registers every key with its default so environment
// variables are picked up by AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("models.dir", "$HOME/.local/share/spice-score/models")
	v.SetDefault("models.catalog", "")
	v.SetDefault("models.keep", artifacts.DefaultKeep)

	v.SetDefault("embedding.mode", string(embedding.ModeAuto))
	v.SetDefault("embedding.model", embedding.DefaultModel)
	v.SetDefault("embedding.cache_dir", "$HOME/.cache/spice-score/fastembed")
	v.SetDefault("embedding.dimension", embedding.DefaultDimension)
	v.SetDefault("embedding.max_features", embedding.DefaultDimension)

	v.SetDefault("merchants.index", merchant.IndexChromem)
	v.SetDefault("merchants.min_count", training.DefaultMerchantMinCount)
	v.SetDefault("merchants.min_score", merchant.DefaultMinScore)

	v.SetDefault("categories.max_text_features", features.DefaultMaxTextFeatures)

	v.SetDefault("anomalies.contamination", anomaly.DefaultContamination)
	v.SetDefault("anomalies.estimators", anomaly.DefaultEstimators)

	v.SetDefault("telemetry.textfile", "")
}

// BindEnv wires SPICE_SCORE_* environment variables onto dotted keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load reads and validates the configuration.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		LogLevel:  v.GetString("logging.level"),
		LogFormat: v.GetString("logging.format"),

		ModelsDir:   ExpandPath(v.GetString("models.dir")),
		CatalogPath: ExpandPath(v.GetString("models.catalog")),
		Keep:        v.GetInt("models.keep"),

		Embedding: embedding.Config{
			Mode:        embedding.Mode(v.GetString("embedding.mode")),
			Model:       v.GetString("embedding.model"),
			CacheDir:    ExpandPath(v.GetString("embedding.cache_dir")),
			Dimension:   v.GetInt("embedding.dimension"),
			MaxFeatures: v.GetInt("embedding.max_features"),
		},

		IndexKind:        v.GetString("merchants.index"),
		MerchantMinCount: v.GetInt("merchants.min_count"),
		MinScore:         v.GetFloat64("merchants.min_score"),

		MaxTextFeatures: v.GetInt("categories.max_text_features"),

		Contamination: v.GetFloat64("anomalies.contamination"),
		Estimators:    v.GetInt("anomalies.estimators"),

		MetricsTextfile: ExpandPath(v.GetString("telemetry.textfile")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can honour.
func (c *Config) Validate() error {
	if c.ModelsDir == "" {
		return fmt.Errorf("%w: models.dir", common.ErrMissingConfig)
	}
	switch c.Embedding.Mode {
	case embedding.ModeAuto, embedding.ModeSemantic, embedding.ModeFrequency:
	default:
		return fmt.Errorf("%w: embedding.mode must be auto, semantic or frequency, got %q", common.ErrInvalidConfig, c.Embedding.Mode)
	}
	switch c.IndexKind {
	case merchant.IndexChromem, merchant.IndexFlat:
	default:
		return fmt.Errorf("%w: merchants.index must be chromem or flat, got %q", common.ErrInvalidConfig, c.IndexKind)
	}
	if c.Keep < 0 {
		return fmt.Errorf("%w: models.keep must not be negative", common.ErrInvalidConfig)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: merchants.min_score must be within [0, 1]", common.ErrInvalidConfig)
	}
	if c.Contamination <= 0 || c.Contamination > 0.5 {
		return fmt.Errorf("%w: anomalies.contamination must be within (0, 0.5]", common.ErrInvalidConfig)
	}
	return nil
}

// CatalogFile is the SQLite catalog location; it defaults to catalog.db in the models directory.
func (c *Config) CatalogFile() string {
	if c.CatalogPath != "" {
		return c.CatalogPath
	}
	return filepath.Join(c.ModelsDir, "catalog.db")
}

// TrainingOptions maps the configuration onto a training pass.
func (c *Config) TrainingOptions() training.Options {
	return training.Options{
		Embedding:        c.Embedding,
		IndexKind:        c.IndexKind,
		MaxTextFeatures:  c.MaxTextFeatures,
		MerchantMinCount: c.MerchantMinCount,
		Keep:             c.Keep,
		Anomaly: anomaly.Options{
			Contamination: c.Contamination,
			Estimators:    c.Estimators,
		},
	}
}

// ExpandPath expands a leading ~ and $VAR references.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = home + path[1:]
		}
	}
	return os.ExpandEnv(path)
}
