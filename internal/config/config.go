package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LevelSpec is one operator-configured filter level. Min and Max are either a
// numeric literal (e.g. "0.831") or a threshold formula in the legacy or the
// current grammar.
type LevelSpec struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

// ModelConfig is the static per-model configuration.
type ModelConfig struct {
	Enabled bool `yaml:"enabled"`
	// Classes maps class names to their stable indices. Index 0 is the
	// baseline class for non-aggregated models.
	Classes map[string]int `yaml:"classes"`
	// Aggregated collapses the per-class outputs into one weighted continuous
	// score stored under class index 0.
	Aggregated bool `yaml:"aggregated"`
	// KeepForever exempts the model's records from bulk purge.
	KeepForever bool `yaml:"keep_forever"`
	// FilterMode is "range" (continuous probability bands) or "discrete"
	// (predicted-class selection).
	FilterMode string `yaml:"filter_mode"`
	// FilterLevels apply in range mode only.
	FilterLevels map[string]LevelSpec `yaml:"filter_levels"`
}

// Config holds the application's configuration.
type Config struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Scorer struct {
		URL            string `yaml:"url"`
		TimeoutSeconds int64  `yaml:"timeout_seconds"`
	} `yaml:"scorer"`
	Fetch struct {
		// InlineBatchSize caps how many cache-miss revisions are fetched
		// synchronously within one request.
		InlineBatchSize int `yaml:"inline_batch_size"`
		// JobBatchSize is the number of revisions per background fetch job.
		JobBatchSize int `yaml:"job_batch_size"`
		// MaxJobsPerRequest bounds background fan-out from a single request;
		// excess work is left uncached and deferred.
		MaxJobsPerRequest int `yaml:"max_jobs_per_request"`
		Workers           int `yaml:"workers"`
		QueueSize         int `yaml:"queue_size"`
	} `yaml:"fetch"`
	Thresholds struct {
		CacheSize          int   `yaml:"cache_size"`
		CacheTTLSeconds    int64 `yaml:"cache_ttl_seconds"`
		NegativeTTLSeconds int64 `yaml:"negative_ttl_seconds"`
	} `yaml:"thresholds"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Logging struct {
		Development bool `yaml:"development"`
	} `yaml:"logging"`
	Models map[string]ModelConfig `yaml:"models"`
}

// LoadConfig reads configuration from the specified YAML file.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Scorer.TimeoutSeconds == 0 {
		c.Scorer.TimeoutSeconds = 15
	}
	if c.Fetch.InlineBatchSize == 0 {
		c.Fetch.InlineBatchSize = 5
	}
	if c.Fetch.JobBatchSize == 0 {
		c.Fetch.JobBatchSize = 50
	}
	if c.Fetch.MaxJobsPerRequest == 0 {
		c.Fetch.MaxJobsPerRequest = 4
	}
	if c.Fetch.Workers == 0 {
		c.Fetch.Workers = 2
	}
	if c.Fetch.QueueSize == 0 {
		c.Fetch.QueueSize = 64
	}
	if c.Thresholds.CacheSize == 0 {
		c.Thresholds.CacheSize = 128
	}
	if c.Thresholds.CacheTTLSeconds == 0 {
		c.Thresholds.CacheTTLSeconds = 3600
	}
	if c.Thresholds.NegativeTTLSeconds == 0 {
		c.Thresholds.NegativeTTLSeconds = 60
	}
}

func (c *Config) validate() error {
	for name, mc := range c.Models {
		if len(mc.Classes) == 0 {
			return fmt.Errorf("model %q: classes map must not be empty", name)
		}
		switch mc.FilterMode {
		case "", "range", "discrete":
		default:
			return fmt.Errorf("model %q: unknown filter_mode %q", name, mc.FilterMode)
		}
		if mc.Aggregated && mc.FilterMode == "discrete" {
			return fmt.Errorf("model %q: aggregated models cannot use discrete filtering", name)
		}
	}
	return nil
}

// EnabledModels returns the names of all enabled models.
func (c *Config) EnabledModels() []string {
	var names []string
	for name, mc := range c.Models {
		if mc.Enabled {
			names = append(names, name)
		}
	}
	return names
}

// Model returns the configuration for the named model, or false if the model
// is not configured.
func (c *Config) Model(name string) (ModelConfig, bool) {
	mc, ok := c.Models[name]
	return mc, ok
}
