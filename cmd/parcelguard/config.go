package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/nkiryanov/parcelguard/internal/logger"
)

const (
	defaultListenAddr        = "localhost:8000"
	defaultLoggingLevel      = logger.LevelInfo
	defaultRegistryAddr      = "http://localhost:3000"
	defaultEnvironment       = logger.EnvProduction
	defaultTemporaryValidity = 48 * time.Hour
	defaultSweepInterval     = 3 * time.Hour
	defaultStoreTimeout      = 500 * time.Millisecond
	defaultSweepTimeout      = time.Minute
)

type Config struct {
	// Default logging level
	LogLevel string

	// Address on which the parcelguard service will be run
	ListenAddr string

	// Parcel registry address to fetch parcels and pickups from and to send audit events to
	RegistryAddr string

	// Database to connect to
	// If empty tokens are kept in memory and lost on restart
	DatabaseDSN string

	// Redis address used for risk scoring
	// If empty risk scoring is disabled
	RedisAddr string

	// Secret key
	// Codes are signed with a key derived from it, actor access tokens are checked with another derived key
	SecretKey string

	// Environment
	Environment string

	// Validity of temporary codes when request does not set it
	TemporaryValidity time.Duration

	// How often expired temporary codes are deleted
	SweepInterval time.Duration

	// Deadline of every API request
	StoreTimeout time.Duration

	// Deadline of the sweep requested over API
	SweepTimeout time.Duration
}

func NewConfig() *Config {
	return &Config{
		LogLevel:          defaultLoggingLevel,
		ListenAddr:        defaultListenAddr,
		RegistryAddr:      defaultRegistryAddr,
		Environment:       defaultEnvironment,
		TemporaryValidity: defaultTemporaryValidity,
		SweepInterval:     defaultSweepInterval,
		StoreTimeout:      defaultStoreTimeout,
		SweepTimeout:      defaultSweepTimeout,
	}
}

// Load variable from '.env' file (should be located at working directory)
func (c *Config) LoadDotEnv(getwd func() (string, error)) error {
	wd, err := getwd()
	if err != nil {
		return err
	}

	envMap, err := godotenv.Read(filepath.Join(wd, ".env"))

	switch {
	case err == nil:
		return c.LoadEnv(func(key string) string {
			return envMap[key]
		})
	case errors.Is(err, os.ErrNotExist):
		return nil
	default:
		return err
	}
}

func (c *Config) LoadEnv(getenv func(string) string) error {
	// Set option to value if it not empty
	setString := func(o *string) func(value string) error {
		return func(value string) error {
			if value != "" {
				*o = value
			}
			return nil
		}
	}
	setDuration := func(o *time.Duration) func(value string) error {
		return func(value string) error {
			if value == "" {
				return nil
			}
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			*o = d
			return nil
		}
	}

	envMap := map[string]func(string) error{
		"RUN_ADDRESS":        setString(&c.ListenAddr),
		"DATABASE_URI":       setString(&c.DatabaseDSN),
		"SECRET_KEY":         setString(&c.SecretKey),
		"LOG_LEVEL":          setString(&c.LogLevel),
		"REGISTRY_ADDRESS":   setString(&c.RegistryAddr),
		"REDIS_ADDRESS":      setString(&c.RedisAddr),
		"ENVIRONMENT":        setString(&c.Environment),
		"TEMPORARY_VALIDITY": setDuration(&c.TemporaryValidity),
		"SWEEP_INTERVAL":     setDuration(&c.SweepInterval),
		"STORE_TIMEOUT":      setDuration(&c.StoreTimeout),
		"SWEEP_TIMEOUT":      setDuration(&c.SweepTimeout),
	}

	var errs []error
	for key, parseFn := range envMap {
		if err := parseFn(getenv(key)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("parcelguard", pflag.ContinueOnError)

	fs.StringVarP(&c.ListenAddr, "address", "a", c.ListenAddr, "Server listen address")
	fs.StringVarP(&c.DatabaseDSN, "database", "d", c.DatabaseDSN, "Database connection string")
	fs.StringVarP(&c.SecretKey, "secret-key", "s", c.SecretKey, "Secret key, at least 32 bytes")
	fs.StringVarP(&c.LogLevel, "log-level", "l", c.LogLevel, "Logging level (debug, info, warn, error)")
	fs.StringVarP(&c.RegistryAddr, "registry", "r", c.RegistryAddr, "Parcel registry address")
	fs.StringVar(&c.RedisAddr, "redis", c.RedisAddr, "Redis address for risk scoring")
	fs.StringVarP(&c.Environment, "environment", "e", c.Environment, "Environment (dev, prod)")
	fs.DurationVar(&c.TemporaryValidity, "temporary-validity", c.TemporaryValidity, "Default validity of temporary codes")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "Interval between expired codes sweeps")
	fs.DurationVar(&c.StoreTimeout, "store-timeout", c.StoreTimeout, "Deadline of API requests")
	fs.DurationVar(&c.SweepTimeout, "sweep-timeout", c.SweepTimeout, "Deadline of sweep requested over API")

	return fs.Parse(args)
}
