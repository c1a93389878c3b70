package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. POLAR_SERVER_PORT
const EnvPrefix = "POLAR"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Ingest    IngestConfig    `yaml:"ingest" envconfig:"INGEST"`
	Engine    EngineConfig    `yaml:"engine" envconfig:"ENGINE"`
	Export    ExportConfig    `yaml:"export" envconfig:"EXPORT"`
	Batch     BatchConfig     `yaml:"batch" envconfig:"BATCH"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port             int             `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout      time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout     time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout      time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout  time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	OperationTimeout time.Duration   `yaml:"operation_timeout" envconfig:"OPERATION_TIMEOUT" validate:"gt=0"`
	MaxUploadBytes   int64           `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES" validate:"gt=0"`
	SessionTTL       time.Duration   `yaml:"session_ttl" envconfig:"SESSION_TTL" validate:"gte=0"`
	AllowedOrigins   []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	RateLimit        RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gte=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gte=0"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output      string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// PathsConfig contains file system paths configuration. Relative
// directories are resolved against BaseDir, which defaults to the
// executable directory.
type PathsConfig struct {
	BaseDir    string `yaml:"base_dir" envconfig:"BASE_DIR"`
	DataDir    string `yaml:"data_dir" envconfig:"DATA_DIR" validate:"required"`
	UploadsDir string `yaml:"uploads_dir" envconfig:"UPLOADS_DIR" validate:"required"`
	ReportsDir string `yaml:"reports_dir" envconfig:"REPORTS_DIR" validate:"required"`
	LogsDir    string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
}

// IngestConfig controls how analyzer exports are decoded and parsed
type IngestConfig struct {
	Encodings          []string `yaml:"encodings" envconfig:"ENCODINGS" validate:"min=1,dive,required"`
	SkipRows           int      `yaml:"skip_rows" envconfig:"SKIP_ROWS" validate:"gte=0"`
	Delimiter          string   `yaml:"delimiter" envconfig:"DELIMITER" validate:"len=1"`
	DetectionEnabled   bool     `yaml:"detection_enabled" envconfig:"DETECTION_ENABLED"`
	DetectionThreshold float64  `yaml:"detection_threshold" envconfig:"DETECTION_THRESHOLD" validate:"gte=0,lte=1"`
	AzimuthColumn      string   `yaml:"azimuth_column" envconfig:"AZIMUTH_COLUMN" validate:"required"`
	AzimuthPosition    int      `yaml:"azimuth_position" envconfig:"AZIMUTH_POSITION" validate:"gte=0"`
	MaxFileBytes       int64    `yaml:"max_file_bytes" envconfig:"MAX_FILE_BYTES" validate:"gt=0"`
	Extensions         []string `yaml:"extensions" envconfig:"EXTENSIONS" validate:"min=1"`
}

// EngineConfig controls the Stokes engine numeric policy
type EngineConfig struct {
	StrictNumerics     bool    `yaml:"strict_numerics" envconfig:"STRICT_NUMERICS"`
	RoundTripTolerance float64 `yaml:"round_trip_tolerance" envconfig:"ROUND_TRIP_TOLERANCE" validate:"gt=0"`
}

// ExportConfig controls CSV output
type ExportConfig struct {
	IncludeProperties bool   `yaml:"include_properties" envconfig:"INCLUDE_PROPERTIES"`
	BOM               bool   `yaml:"bom" envconfig:"BOM"`
	Suffix            string `yaml:"suffix" envconfig:"SUFFIX" validate:"required"`
}

// BatchConfig controls parallel conversion of independent files
type BatchConfig struct {
	Workers  int           `yaml:"workers" envconfig:"WORKERS" validate:"min=1,max=256"`
	Debounce time.Duration `yaml:"debounce" envconfig:"DEBOUNCE" validate:"gte=0"`
}

// TelemetryConfig controls OpenTelemetry setup
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	EnableMetrics bool   `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool   `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
}

// Load reads configuration from defaults, an optional YAML file and the
// environment, in that order of precedence (environment wins). An empty
// file argument searches the default locations.
func Load(file string) (*Config, error) {
	cfg := Default()

	if file == "" {
		file = getConfigFilePath()
	}
	if file != "" {
		if err := loadFromFile(file, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", file, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML values onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// normalize lower-cases enum-like values so validation accepts any case
func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Output = strings.ToLower(strings.TrimSpace(c.Logging.Output))
	c.Telemetry.TraceExporter = strings.ToLower(strings.TrimSpace(c.Telemetry.TraceExporter))
	for i, enc := range c.Ingest.Encodings {
		c.Ingest.Encodings[i] = strings.ToLower(strings.TrimSpace(enc))
	}
	for i, ext := range c.Ingest.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Ingest.Extensions[i] = ext
	}
}

// Validate checks struct constraints
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging output %q requires a file path", c.Logging.Output)
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"polar.yaml",
		"configs/polar.yaml",
		"../configs/polar.yaml",
	}

	for _, location := range locations {
		if FileExists(location) {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     60 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			OperationTimeout: 5 * time.Minute,
			MaxUploadBytes:   64 << 20,
			SessionTTL:       time.Hour,
			AllowedOrigins:   []string{"http://localhost:8080"},
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     50,
				Burst:   20,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/polar.log",
		},
		Paths: PathsConfig{
			DataDir:    "data",
			UploadsDir: "data/uploads",
			ReportsDir: "data/reports",
			LogsDir:    "logs",
		},
		Ingest: IngestConfig{
			Encodings:          []string{"utf-8", "gbk", "utf-16le", "gb2312", "latin-1", "cp1252", "utf-8-sig"},
			SkipRows:           2,
			Delimiter:          "\t",
			DetectionEnabled:   true,
			DetectionThreshold: 0.7,
			AzimuthColumn:      "φ [°]",
			AzimuthPosition:    4,
			MaxFileBytes:       256 << 20,
			Extensions:         []string{".txt", ".csv", ".dat", ".xlsx"},
		},
		Engine: EngineConfig{
			StrictNumerics:     false,
			RoundTripTolerance: 1e-4,
		},
		Export: ExportConfig{
			IncludeProperties: true,
			BOM:               true,
			Suffix:            "_stokes.csv",
		},
		Batch: BatchConfig{
			Workers:  4,
			Debounce: 500 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "polarcli",
			EnableMetrics: true,
			EnableTracing: false,
			TraceExporter: "none",
		},
	}
}
