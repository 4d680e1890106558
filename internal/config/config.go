package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/Alexander-D-Karpov/tonearm/internal/platform"
)

type Config struct {
	Debug bool `mapstructure:"debug"`

	Audio struct {
		CrossfadeDurationMs   int     `mapstructure:"crossfade_duration_ms"`
		BufferCapacitySamples int     `mapstructure:"buffer_capacity_samples"`
		LoudnessNormalization bool    `mapstructure:"loudness_normalization"`
		DefaultVolume         float64 `mapstructure:"default_volume"`
		MaxPrefetchBytes      int     `mapstructure:"max_prefetch_bytes"`
	} `mapstructure:"audio"`

	HTTP struct {
		Retries        int    `mapstructure:"retries"`
		TimeoutSeconds int    `mapstructure:"timeout"`
		UserAgent      string `mapstructure:"user_agent"`
	} `mapstructure:"http"`

	Resolver struct {
		TimeoutSeconds int `mapstructure:"timeout"`
		RateLimit      struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			BurstSize         int `mapstructure:"burst_size"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"resolver"`

	Storage struct {
		DatabasePath string `mapstructure:"database_path"`
		CacheDir     string `mapstructure:"cache_dir"`
		EnableWAL    bool   `mapstructure:"enable_wal"`
	} `mapstructure:"storage"`

	Download struct {
		MaxConcurrent  int    `mapstructure:"max_concurrent"`
		TempDir        string `mapstructure:"temp_dir"`
		BudgetSeconds  int    `mapstructure:"budget_seconds"`
		ChunkSizeBytes int    `mapstructure:"chunk_size_bytes"`
	} `mapstructure:"download"`

	Search struct {
		MaxResults int `mapstructure:"max_results"`
	} `mapstructure:"search"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		configDir, err := platform.GetConfigDir()
		if err != nil {
			return nil, err
		}
		viper.AddConfigPath(configDir)
		viper.AddConfigPath("./configs")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("TONEARM")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("debug", false)

	viper.SetDefault("audio.crossfade_duration_ms", 5000)
	viper.SetDefault("audio.buffer_capacity_samples", 65536)
	viper.SetDefault("audio.loudness_normalization", false)
	viper.SetDefault("audio.default_volume", 0.7)
	viper.SetDefault("audio.max_prefetch_bytes", 5*1024*1024)

	viper.SetDefault("http.retries", 5)
	viper.SetDefault("http.timeout", 10)
	viper.SetDefault("http.user_agent", "Tonearm/1.0.0")

	viper.SetDefault("resolver.timeout", 30)
	viper.SetDefault("resolver.rate_limit.requests_per_second", 10)
	viper.SetDefault("resolver.rate_limit.burst_size", 5)

	dataDir, _ := platform.GetDataDir()
	cacheDir, _ := platform.GetCacheDir()

	viper.SetDefault("storage.database_path", filepath.Join(dataDir, "tonearm.db"))
	viper.SetDefault("storage.cache_dir", cacheDir)
	viper.SetDefault("storage.enable_wal", true)

	viper.SetDefault("download.max_concurrent", 3)
	viper.SetDefault("download.temp_dir", filepath.Join(cacheDir, "temp"))
	viper.SetDefault("download.budget_seconds", 300)
	viper.SetDefault("download.chunk_size_bytes", 1024*1024)

	viper.SetDefault("search.max_results", 100)
}

func ensureDirectories(cfg *Config) error {
	dirs := []string{
		filepath.Dir(cfg.Storage.DatabasePath),
		cfg.Storage.CacheDir,
		cfg.Download.TempDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) Save() error {
	configDir, err := platform.GetConfigDir()
	if err != nil {
		return err
	}

	configFile := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configFile)
}
