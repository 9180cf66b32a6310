package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/songmopx/planeveryday.org/internal/platform/auth"
	"github.com/songmopx/planeveryday.org/internal/platform/envconfig"
)

// Config encapsulates the runtime configuration for the tracker service and CLI.
type Config struct {
	Port           string          `yaml:"port" validate:"required,numeric"`
	LogLevel       string          `yaml:"logLevel" validate:"omitempty,oneof=debug info warn warning error"`
	Timezone       string          `yaml:"timezone" validate:"required"`
	DataDir        string          `yaml:"dataDir" validate:"required"`
	RequestTimeout time.Duration   `yaml:"requestTimeout" validate:"gte=0"`
	RemoteStore    RemoteStore     `yaml:"remoteStore" validate:"oneof=none firestore gcs"`
	RemoteTimeout  time.Duration   `yaml:"remoteTimeout" validate:"gt=0"`
	GCPProjectID   string          `yaml:"gcpProjectId"`
	Firestore      FirestoreConfig `yaml:"firestore"`
	Storage        StorageConfig   `yaml:"storage"`
	Auth           AuthConfig      `yaml:"auth"`
}

// RemoteStore enumerates supported remote persistence backends.
type RemoteStore string

const (
	// RemoteNone keeps every namespace on local disk only.
	RemoteNone RemoteStore = "none"
	// RemoteFirestore syncs account namespaces to Cloud Firestore.
	RemoteFirestore RemoteStore = "firestore"
	// RemoteGCS syncs account namespaces to a Cloud Storage bucket.
	RemoteGCS RemoteStore = "gcs"
)

// AuthConfig stores authentication middleware setup.
type AuthConfig struct {
	Mode     auth.Mode `yaml:"mode" validate:"oneof=clerk noop"`
	JWKSURL  string    `yaml:"jwksUrl" validate:"omitempty,url"`
	Audience string    `yaml:"audience"`
	Issuer   string    `yaml:"issuer"`
}

// FirestoreConfig tailors Firestore client behavior.
type FirestoreConfig struct {
	Database        string `yaml:"database"`
	EmulatorHost    string `yaml:"emulatorHost"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// StorageConfig contains Cloud Storage settings.
type StorageConfig struct {
	Bucket string `yaml:"bucket"`
}

// Defaults returns the configuration used when neither a file nor the
// environment says otherwise.
func Defaults() Config {
	return Config{
		Port:           "8080",
		LogLevel:       "info",
		Timezone:       "UTC",
		DataDir:        defaultDataDir(),
		RequestTimeout: 30 * time.Second,
		RemoteStore:    RemoteNone,
		RemoteTimeout:  10 * time.Second,
		Firestore:      FirestoreConfig{Database: "(default)"},
		Auth:           AuthConfig{Mode: auth.ModeNoop},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "planeveryday")
	}
	return ".planeveryday"
}

// Load reads the optional YAML file named by TASKTRACK_CONFIG, overlays the
// environment and validates the result.
func Load() (Config, error) {
	cfg := Defaults()

	if path := envconfig.Get("TASKTRACK_CONFIG", ""); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.Port = envconfig.Get("PORT", cfg.Port)
	cfg.LogLevel = strings.ToLower(envconfig.Get("LOG_LEVEL", cfg.LogLevel))
	cfg.Timezone = envconfig.Get("TASKTRACK_TIMEZONE", cfg.Timezone)
	cfg.DataDir = envconfig.Get("TASKTRACK_DATA_DIR", cfg.DataDir)
	cfg.RemoteStore = RemoteStore(strings.ToLower(envconfig.Get("REMOTE_STORE", string(cfg.RemoteStore))))
	cfg.GCPProjectID = envconfig.Get("GCP_PROJECT_ID", cfg.GCPProjectID)
	cfg.Firestore.Database = envconfig.Get("FIRESTORE_DATABASE", cfg.Firestore.Database)
	cfg.Firestore.EmulatorHost = envconfig.Get("FIRESTORE_EMULATOR_HOST", cfg.Firestore.EmulatorHost)
	cfg.Firestore.CredentialsFile = envconfig.Get("GOOGLE_APPLICATION_CREDENTIALS", cfg.Firestore.CredentialsFile)
	cfg.Storage.Bucket = envconfig.Get("TASKTRACK_BUCKET", cfg.Storage.Bucket)
	cfg.Auth.Mode = auth.Mode(strings.ToLower(envconfig.Get("AUTH_MODE", string(cfg.Auth.Mode))))
	cfg.Auth.JWKSURL = envconfig.Get("CLERK_JWKS_URL", cfg.Auth.JWKSURL)
	cfg.Auth.Audience = envconfig.Get("CLERK_AUDIENCE", cfg.Auth.Audience)
	cfg.Auth.Issuer = envconfig.Get("CLERK_ISSUER", cfg.Auth.Issuer)

	var err error
	if cfg.RemoteTimeout, err = envconfig.GetDuration("REMOTE_TIMEOUT", cfg.RemoteTimeout); err != nil {
		return err
	}
	if cfg.RequestTimeout, err = envconfig.GetDuration("REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return err
	}
	return nil
}

func validate(cfg Config) error {
	if err := envconfig.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("TASKTRACK_TIMEZONE: %w", err)
	}

	if cfg.Auth.Mode == auth.ModeClerk && cfg.Auth.JWKSURL == "" {
		return fmt.Errorf("CLERK_JWKS_URL is required when AUTH_MODE=clerk")
	}

	switch cfg.RemoteStore {
	case RemoteFirestore:
		if cfg.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when REMOTE_STORE=firestore")
		}
	case RemoteGCS:
		if strings.TrimSpace(cfg.Storage.Bucket) == "" {
			return fmt.Errorf("TASKTRACK_BUCKET is required when REMOTE_STORE=gcs")
		}
	}
	return nil
}

// Location resolves the configured time zone.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DatabasePath is the local SQLite file.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "tasks.db")
}
