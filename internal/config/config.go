// Package config loads and validates the engine configuration.
//
// Configuration is an explicitly owned record: loaded once at startup,
// validated as a whole, and passed by pointer into each component. A
// failed load or validation applies nothing.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the recognized option surface. Durations are expressed in
// the units the option names carry (minutes, milliseconds) to keep the
// YAML surface aligned with the platform SDKs this engine backs.
type Config struct {
	// DistanceFilter is the minimum meters between accepted fixes while
	// moving.
	DistanceFilter float64 `yaml:"distanceFilter" validate:"gte=0"`

	// StopTimeoutMinutes is how long MOVING persists without qualifying
	// movement before falling back to STATIONARY.
	StopTimeoutMinutes int `yaml:"stopTimeout" validate:"gte=0"`

	// DesiredAccuracy is the target horizontal accuracy in meters for
	// continuous sampling.
	DesiredAccuracy float64 `yaml:"desiredAccuracy" validate:"gt=0"`

	// ProximityRadius is the margin in meters used to pre-select
	// geofences before actual entry.
	ProximityRadius float64 `yaml:"proximityRadius" validate:"gt=0"`

	// LoiteringDelayMS is the default dwell delay for geofences that do
	// not set their own.
	LoiteringDelayMS int `yaml:"loiteringDelay" validate:"gte=0"`

	// GeofenceSlots is the platform slot ceiling. Supplied by the
	// platform at startup; configurable here for the daemon and tests.
	GeofenceSlots int `yaml:"geofenceSlots" validate:"gt=0"`

	// StationaryIntervalSeconds is the re-selection cadence while no
	// movement is occurring.
	StationaryIntervalSeconds int `yaml:"stationaryInterval" validate:"gt=0"`

	// URL is the delivery endpoint. Empty disables delivery.
	URL     string            `yaml:"url" validate:"omitempty,url"`
	Headers map[string]string `yaml:"headers"`
	Params  map[string]any    `yaml:"params"`

	AutoSync  bool `yaml:"autoSync"`
	BatchSync bool `yaml:"batchSync"`

	// MaxBatchSize caps how many pending records one batch request may
	// carry.
	MaxBatchSize int `yaml:"maxBatchSize" validate:"gt=0"`

	// MaxRecordsToPersist caps the stored location backlog; zero means
	// unbounded. Oldest records are pruned first.
	MaxRecordsToPersist int `yaml:"maxRecordsToPersist" validate:"gte=0"`

	// DesiredOdometerAccuracy is the accuracy ceiling in meters above
	// which a fix is excluded from odometer accumulation.
	DesiredOdometerAccuracy float64 `yaml:"desiredOdometerAccuracy" validate:"gt=0"`

	// HeartbeatIntervalSeconds is the heartbeat cadence while enabled;
	// zero disables heartbeats.
	HeartbeatIntervalSeconds int `yaml:"heartbeatInterval" validate:"gte=0"`

	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`

	// Schedule holds time-of-day tracking windows, e.g. "1-5 09:00-17:00"
	// (ISO weekday range, then a local-time window).
	Schedule []string `yaml:"schedule" validate:"dive,required"`
}

// Default returns the configuration used when an option is unset.
func Default() *Config {
	return &Config{
		DistanceFilter:            10,
		StopTimeoutMinutes:        5,
		DesiredAccuracy:           10,
		ProximityRadius:           1000,
		GeofenceSlots:             20,
		StationaryIntervalSeconds: 60,
		MaxBatchSize:              250,
		DesiredOdometerAccuracy:   100,
		LogLevel:                  "info",
	}
}

// StopTimeout returns the stop timeout as a duration.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMinutes) * time.Minute
}

// LoiteringDelay returns the default loitering delay as a duration.
func (c *Config) LoiteringDelay() time.Duration {
	return time.Duration(c.LoiteringDelayMS) * time.Millisecond
}

// StationaryInterval returns the stationary re-selection cadence.
func (c *Config) StationaryInterval() time.Duration {
	return time.Duration(c.StationaryIntervalSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat cadence; zero disables it.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// FieldError describes a single invalid option.
type FieldError struct {
	Field string
	Rule  string
}

// Error is a validation failure. The configuration it describes was not
// applied, in whole or in part.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("config: invalid option %s (%s)", e.Fields[0].Field, e.Fields[0].Rule)
	}
	return fmt.Sprintf("config: %d invalid options (first: %s)", len(e.Fields), e.Fields[0].Field)
}

// IsConfigError reports whether err is a configuration validation error.
func IsConfigError(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}

// Load reads a YAML config file, overlays it on defaults, and validates
// the result. On any error the returned config is nil and nothing is
// applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse overlays YAML bytes on defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks a config against its struct rules and returns a typed
// *Error listing every offending field.
func Validate(cfg *Config) error {
	v := validator.New()
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validate: %w", err)
	}

	ce := &Error{}
	for _, fe := range verrs {
		ce.Fields = append(ce.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return ce
}
