package core

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort             = 8080
	DefaultDatabaseType     = "sqlite"
	DefaultConnectionString = "vehiclewatch.db"
	DefaultTimezone         = "Local"
	DefaultLogLevel         = "info"
	DefaultFormField        = "file"
	DefaultWorkers          = 4
	DefaultQueueSize        = 100
	DefaultTimeout          = 30 * time.Second
	DefaultJPEGQuality      = 90
)

type Database struct {
	Type             string `yaml:"type" validate:"oneof=sqlite redis"`
	ConnectionString string `yaml:"connectionString" validate:"required"`
}

type Detection struct {
	URL       string        `yaml:"url" validate:"required,url"`
	FormField string        `yaml:"formField" validate:"required"`
	Workers   int           `yaml:"workers" validate:"min=1"`
	QueueSize int           `yaml:"queueSize" validate:"min=1"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
}

type ServiceConfig struct {
	Port            int       `yaml:"port" validate:"min=1,max=65535"`
	LogLevel        string    `yaml:"logLevel" validate:"oneof=debug info warn error"`
	Timezone        string    `yaml:"timezone" validate:"required"`
	ImagesDirectory string    `yaml:"imagesDirectory" validate:"required"`
	JPEGQuality     int       `yaml:"jpegQuality" validate:"min=1,max=100"`
	Database        Database  `yaml:"database"`
	Detection       Detection `yaml:"detection"`
}

// LoadConfig loads configuration from the specified YAML file. Variables from an
// optional .env file and the process environment override values from the file.
// A missing file is not an error as long as the environment supplies the required values.
func LoadConfig(configPath string) (*ServiceConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := defaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Info("config file not found, using defaults and environment", "path", configPath)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := applyEnvironment(config); err != nil {
		return nil, err
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func defaultConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:        DefaultPort,
		LogLevel:    DefaultLogLevel,
		Timezone:    DefaultTimezone,
		JPEGQuality: DefaultJPEGQuality,
		Database: Database{
			Type:             DefaultDatabaseType,
			ConnectionString: DefaultConnectionString,
		},
		Detection: Detection{
			FormField: DefaultFormField,
			Workers:   DefaultWorkers,
			QueueSize: DefaultQueueSize,
			Timeout:   DefaultTimeout,
		},
	}
}

func applyEnvironment(config *ServiceConfig) error {
	if value, ok := os.LookupEnv("IMAGES_DIRECTORY"); ok {
		config.ImagesDirectory = value
	}
	if value, ok := os.LookupEnv("MODEL_URL"); ok {
		config.Detection.URL = value
	}
	if value, ok := os.LookupEnv("DATABASE_TYPE"); ok {
		config.Database.Type = value
	}
	if value, ok := os.LookupEnv("DATABASE_CONNECTION_STRING"); ok {
		config.Database.ConnectionString = value
	}
	if value, ok := os.LookupEnv("TIMEZONE"); ok {
		config.Timezone = value
	}
	if value, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", value, err)
		}
		config.Port = port
	}
	return nil
}

func (c *ServiceConfig) validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured timezone used for capture times.
func (c *ServiceConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	location, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", c.Timezone, err)
	}
	return location, nil
}

func (c *ServiceConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
