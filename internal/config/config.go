package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Page     PageConfig     `yaml:"page" mapstructure:"page"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	OCR      OCRConfig      `yaml:"ocr" mapstructure:"ocr"`
	Browser  BrowserConfig  `yaml:"browser" mapstructure:"browser"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Figures  FiguresConfig  `yaml:"figures" mapstructure:"figures"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RegistryConfig configures the structured registry API client.
type RegistryConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	EntityBaseURL string `yaml:"entity_base_url" mapstructure:"entity_base_url"`
	LookbackYears int    `yaml:"lookback_years" mapstructure:"lookback_years"`
}

// PageConfig configures organization profile page resolution.
type PageConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FetchConfig configures the shared HTTP client.
type FetchConfig struct {
	UserAgent           string `yaml:"user_agent" mapstructure:"user_agent"`
	ConnectTimeoutSecs  int    `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
	DownloadTimeoutSecs int    `yaml:"download_timeout_secs" mapstructure:"download_timeout_secs"`
	PacerDelayMillis    int    `yaml:"pacer_delay_millis" mapstructure:"pacer_delay_millis"`
}

// OCRConfig configures the raster-and-recognize fallback for scanned PDFs.
type OCRConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	PdfToPpmPath  string `yaml:"pdftoppm_path" mapstructure:"pdftoppm_path"`
	TesseractPath string `yaml:"tesseract_path" mapstructure:"tesseract_path"`
	Language      string `yaml:"language" mapstructure:"language"`
	DPI           int    `yaml:"dpi" mapstructure:"dpi"`
}

// BrowserConfig configures the headless browser tab pool.
type BrowserConfig struct {
	Enabled         bool `yaml:"enabled" mapstructure:"enabled"`
	PoolSize        int  `yaml:"pool_size" mapstructure:"pool_size"`
	RenderWaitSecs  int  `yaml:"render_wait_secs" mapstructure:"render_wait_secs"`
	PageTimeoutSecs int  `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
}

// PipelineConfig configures the batch orchestrator.
type PipelineConfig struct {
	Workers int    `yaml:"workers" mapstructure:"workers"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// FiguresConfig configures figure extraction thresholds.
type FiguresConfig struct {
	MinNetResult   int64 `yaml:"min_net_result" mapstructure:"min_net_result"`
	MinRevenue     int64 `yaml:"min_revenue" mapstructure:"min_revenue"`
	ProximityFloor int64 `yaml:"proximity_floor" mapstructure:"proximity_floor"`
}

// LogConfig configures the global zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and REGNSKAP_* environment
// variables, applying defaults for anything unset.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("REGNSKAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "regnskap.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("registry.base_url", "https://data.brreg.no/regnskapsregisteret/regnskap")
	v.SetDefault("registry.entity_base_url", "https://data.brreg.no/enhetsregisteret/api/enheter")
	v.SetDefault("registry.lookback_years", 10)
	v.SetDefault("page.base_url", "https://virksomhet.brreg.no/nb/oppslag/enheter")
	v.SetDefault("fetch.user_agent", "regnskap-cli/1.0")
	v.SetDefault("fetch.connect_timeout_secs", 10)
	v.SetDefault("fetch.download_timeout_secs", 120)
	v.SetDefault("fetch.pacer_delay_millis", 500)
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.pdftoppm_path", "pdftoppm")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.language", "nor")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("browser.enabled", true)
	v.SetDefault("browser.pool_size", 2)
	v.SetDefault("browser.render_wait_secs", 2)
	v.SetDefault("browser.page_timeout_secs", 30)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("figures.min_net_result", 100)
	v.SetDefault("figures.min_revenue", 1000)
	v.SetDefault("figures.proximity_floor", 100000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
