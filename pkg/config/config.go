package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker   string `env:"MQTT_BROKER" envDefault:"tcp://localhost:1883" validate:"required"`
	MQTTClientID string `env:"MQTT_CLIENT_ID" envDefault:"pet-tracker" validate:"required"`
	MQTTUsername string `env:"MQTT_USERNAME"`
	MQTTPassword string `env:"MQTT_PASSWORD"`

	// Topics
	MQTTTopicObservations string `env:"MQTT_TOPIC_OBSERVATIONS" envDefault:"pettrack/tags/+/observations" validate:"required"`
	MQTTTopicPositions    string `env:"MQTT_TOPIC_POSITIONS"` // e.g. "pettrack/positions/{tag_id}", empty disables

	// Floorplan
	FloorplanPath string `env:"FLOORPLAN_PATH" envDefault:"floorplan.yml" validate:"required"`

	// HTTP API
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080" validate:"required"`

	// ClickHouse Configuration (empty address disables the trail recorder)
	ClickHouseAddr string `env:"CLICKHOUSE_ADDR"`
	ClickHouseDB   string `env:"CLICKHOUSE_DB" envDefault:"pettrack"`
	ClickHouseUser string `env:"CLICKHOUSE_USER" envDefault:"default"`
	ClickHousePass string `env:"CLICKHOUSE_PASS"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console" validate:"oneof=console json"`

	// Estimation
	EstimationMode         string        `env:"ESTIMATION_MODE" envDefault:"push" validate:"oneof=push pull"`
	EstimationInterval     time.Duration `env:"ESTIMATION_INTERVAL" envDefault:"1s" validate:"gt=0"`
	WindowCapacity         int           `env:"WINDOW_CAPACITY" envDefault:"16" validate:"min=1"`
	MaxObservationAge      time.Duration `env:"MAX_OBSERVATION_AGE" envDefault:"10s" validate:"gt=0"`
	MaxClockSkew           time.Duration `env:"MAX_CLOCK_SKEW" envDefault:"2s" validate:"gte=0"`
	StaleThreshold         time.Duration `env:"STALE_THRESHOLD" envDefault:"30s" validate:"gt=0"`
	SweepInterval          time.Duration `env:"SWEEP_INTERVAL" envDefault:"5s" validate:"gt=0"`
	FreshnessHalfLife      time.Duration `env:"FRESHNESS_HALF_LIFE" envDefault:"5s" validate:"gt=0"`
	SingleAnchorConfidence float64       `env:"SINGLE_ANCHOR_CONFIDENCE" envDefault:"0.35" validate:"gt=0,lt=1"`
	ResidualScale          float64       `env:"RESIDUAL_SCALE" envDefault:"1.0" validate:"gt=0"`
	SolverIterations       int           `env:"SOLVER_ITERATIONS" envDefault:"25" validate:"min=1,max=1000"`
	ObservationBuffer      int           `env:"OBSERVATION_BUFFER" envDefault:"256" validate:"min=1"`
}

// Load reads configuration from the environment, seeded from .env when the
// file exists
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	return Parse()
}

// Parse reads and validates configuration from the current environment
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
