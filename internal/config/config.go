package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gommd/domain/core"
	"gommd/domain/mmd"
	"gommd/internal/errors"
)

// EnvConfigFile names an optional YAML file read before the environment
const EnvConfigFile = "MMD_CONFIG_FILE"

// Config represents the complete test configuration
type Config struct {
	Test     TestConfig    `yaml:"test"`
	Compute  ComputeConfig `yaml:"compute"`
	Sources  SourceConfig  `yaml:"sources"`
	LogLevel string        `yaml:"log_level" validate:"omitempty,oneof=error warn info debug trace"`
}

// TestConfig holds the statistical parameters
type TestConfig struct {
	Statistic      string  `yaml:"statistic" validate:"required,oneof=biased_full unbiased_full unbiased_incomplete"`
	NullMethod     string  `yaml:"null_method" validate:"required,oneof=permutation gaussian gamma spectrum"`
	VarianceMethod string  `yaml:"variance_method" validate:"required,oneof=direct permutation"`
	NumNullSamples int     `yaml:"num_null_samples" validate:"gt=0"`
	Seed           int64   `yaml:"seed"`
	Alpha          float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	NumEigenvalues int     `yaml:"num_eigenvalues" validate:"gte=0"`
}

// ComputeConfig holds block layout and backend settings
type ComputeConfig struct {
	// Blocksize 0 means full data: one block holding every sample
	Blocksize          int     `yaml:"blocksize" validate:"gte=0"`
	NumBlocksPerBurst  int     `yaml:"num_blocks_per_burst" validate:"gt=0"`
	Backend            string  `yaml:"backend" validate:"required,oneof=cpu gpu"`
	NumWorkers         int     `yaml:"num_workers" validate:"gte=0"`
	MaxSkippedFraction float64 `yaml:"max_skipped_fraction" validate:"gte=0,lte=1"`
}

// SourceConfig locates streaming sample sources
type SourceConfig struct {
	ExcelFile      string   `yaml:"excel_file"`
	ExcelSheetP    string   `yaml:"excel_sheet_p"`
	ExcelSheetQ    string   `yaml:"excel_sheet_q"`
	DatabaseDriver string   `yaml:"database_driver" validate:"omitempty,oneof=postgres sqlite"`
	DatabaseURL    string   `yaml:"database_url"`
	TableP         string   `yaml:"table_p" validate:"omitempty,max=63"`
	TableQ         string   `yaml:"table_q" validate:"omitempty,max=63"`
	Columns        []string `yaml:"columns"`
	OrderBy        string   `yaml:"order_by" validate:"omitempty,max=63"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Test: TestConfig{
			Statistic:      string(mmd.StatisticUnbiasedFull),
			NullMethod:     string(mmd.NullPermutation),
			VarianceMethod: string(mmd.VarianceDirect),
			NumNullSamples: 250,
			Alpha:          0.05,
		},
		Compute: ComputeConfig{
			NumBlocksPerBurst:  1,
			Backend:            string(mmd.BackendCPU),
			MaxSkippedFraction: 0.1,
		},
		Sources: SourceConfig{
			ExcelSheetP:    "P",
			ExcelSheetQ:    "Q",
			DatabaseDriver: "postgres",
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file named
// by MMD_CONFIG_FILE, a .env file and MMD_* environment variables, in that
// order, and validates the result.
func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	config := Default()
	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := loadFile(path, config); err != nil {
			return nil, err
		}
	}
	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// LoadFile reads a YAML file over the defaults without consulting the environment
func LoadFile(path string) (*Config, error) {
	config := Default()
	if err := loadFile(path, config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.ResourceError(path, fmt.Errorf("%w: %v", core.ErrResource, err))
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return invalid("parse %s: %v", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Test.Statistic = getEnvOrDefault("MMD_STATISTIC", c.Test.Statistic)
	c.Test.NullMethod = getEnvOrDefault("MMD_NULL_METHOD", c.Test.NullMethod)
	c.Test.VarianceMethod = getEnvOrDefault("MMD_VARIANCE_METHOD", c.Test.VarianceMethod)
	c.Test.NumNullSamples = getEnvIntOrDefault("MMD_NUM_NULL_SAMPLES", c.Test.NumNullSamples)
	c.Test.Seed = getEnvInt64OrDefault("MMD_SEED", c.Test.Seed)
	c.Test.Alpha = getEnvFloatOrDefault("MMD_ALPHA", c.Test.Alpha)
	c.Test.NumEigenvalues = getEnvIntOrDefault("MMD_NUM_EIGENVALUES", c.Test.NumEigenvalues)

	c.Compute.Blocksize = getEnvIntOrDefault("MMD_BLOCKSIZE", c.Compute.Blocksize)
	c.Compute.NumBlocksPerBurst = getEnvIntOrDefault("MMD_NUM_BLOCKS_PER_BURST", c.Compute.NumBlocksPerBurst)
	c.Compute.Backend = getEnvOrDefault("MMD_BACKEND", c.Compute.Backend)
	c.Compute.NumWorkers = getEnvIntOrDefault("MMD_NUM_WORKERS", c.Compute.NumWorkers)
	c.Compute.MaxSkippedFraction = getEnvFloatOrDefault("MMD_MAX_SKIPPED_FRACTION", c.Compute.MaxSkippedFraction)

	c.Sources.ExcelFile = getEnvOrDefault("MMD_EXCEL_FILE", c.Sources.ExcelFile)
	c.Sources.ExcelSheetP = getEnvOrDefault("MMD_EXCEL_SHEET_P", c.Sources.ExcelSheetP)
	c.Sources.ExcelSheetQ = getEnvOrDefault("MMD_EXCEL_SHEET_Q", c.Sources.ExcelSheetQ)
	c.Sources.DatabaseDriver = getEnvOrDefault("MMD_DATABASE_DRIVER", c.Sources.DatabaseDriver)
	c.Sources.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.Sources.DatabaseURL)
	c.Sources.TableP = getEnvOrDefault("MMD_TABLE_P", c.Sources.TableP)
	c.Sources.TableQ = getEnvOrDefault("MMD_TABLE_Q", c.Sources.TableQ)
	c.Sources.OrderBy = getEnvOrDefault("MMD_ORDER_BY", c.Sources.OrderBy)
	if cols := os.Getenv("MMD_COLUMNS"); cols != "" {
		c.Sources.Columns = strings.Split(cols, ",")
	}

	c.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", c.LogLevel))
}

var validate = validator.New()

// Validate checks field constraints and the combinations the test engine rejects
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return invalid("%v", err)
	}
	if c.Test.NullMethod == string(mmd.NullGamma) || c.Test.NullMethod == string(mmd.NullSpectrum) {
		if c.Compute.Blocksize != 0 {
			return invalid("%s null needs full data; blocksize must be 0", c.Test.NullMethod)
		}
	}
	if c.Test.NullMethod == string(mmd.NullGamma) && c.Test.Statistic != string(mmd.StatisticBiasedFull) {
		return invalid("gamma null needs the biased_full statistic")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.WithCode(errors.CodeConfigInvalid, core.NewConfigurationError(format, args...))
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
