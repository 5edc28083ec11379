package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config represents the entire application configuration
type Config struct {
	Env      string         `json:"env"`
	Port     int            `json:"port"`
	AppName  string         `json:"app_name"`
	MongoDB  MongoDBConfig  `json:"mongodb"`
	Redis    RedisConfig    `json:"redis"`
	S3       S3Config       `json:"s3"`
	Storage  StorageConfig  `json:"storage"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	Ingest   IngestConfig   `json:"ingest"`
	Logging  LoggingConfig  `json:"logging"`
	CORS     CORSConfig     `json:"cors"`
}

// MongoDBConfig contains MongoDB connection details
type MongoDBConfig struct {
	URI      string `json:"uri"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       string `json:"db"`
}

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// S3Config contains credentials for the S3 blob store driver
type S3Config struct {
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
}

// StorageConfig selects the temporary blob store backend.
// Supported drivers: "redis" (default), "s3".
type StorageConfig struct {
	Driver  string `json:"driver"`
	TTLSecs int    `json:"ttl_seconds"`
}

// RabbitMQConfig contains RabbitMQ connection and queue topology details
type RabbitMQConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	VHost         string `json:"vhost"`
	ExchangeName  string `json:"exchange_name"`
	QueueName     string `json:"queue_name"`
	PrefetchCount int    `json:"prefetch_count"`
}

// IngestConfig tunes the file processing pipeline
type IngestConfig struct {
	BatchSize          int      `json:"batch_size"`
	ProgressInterval   int      `json:"progress_interval"`
	RequiredColumns    []string `json:"required_columns"`
	MaxAttempts        int      `json:"max_attempts"`
	BackoffBaseSecs    int      `json:"backoff_base_seconds"`
	JobTimeoutSecs     int      `json:"job_timeout_seconds"`
	StalledIntervalSec int      `json:"stalled_interval_seconds"`
	StalledAfterSecs   int      `json:"stalled_after_seconds"`
}

// LoggingConfig contains logging-related configurations
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age,omitempty"` // Optional, seconds that preflight requests can be cached
}

// LoadConfig reads configuration from the specified file path
func LoadConfig(filePath string) (*Config, error) {
	configData, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(configData, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = "redis"
	}
	if c.Storage.TTLSecs <= 0 {
		c.Storage.TTLSecs = 3600
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 1000
	}
	if c.Ingest.ProgressInterval <= 0 {
		c.Ingest.ProgressInterval = 1000
	}
	if len(c.Ingest.RequiredColumns) == 0 {
		c.Ingest.RequiredColumns = []string{"Name", "Gender", "Bio-ID"}
	}
	if c.Ingest.MaxAttempts <= 0 {
		c.Ingest.MaxAttempts = 3
	}
	if c.Ingest.BackoffBaseSecs <= 0 {
		c.Ingest.BackoffBaseSecs = 2
	}
	if c.Ingest.JobTimeoutSecs <= 0 {
		c.Ingest.JobTimeoutSecs = 300
	}
	if c.Ingest.StalledIntervalSec <= 0 {
		c.Ingest.StalledIntervalSec = 30
	}
	if c.Ingest.StalledAfterSecs <= 0 {
		c.Ingest.StalledAfterSecs = 60
	}
	if c.RabbitMQ.ExchangeName == "" {
		c.RabbitMQ.ExchangeName = "ingest"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "file-processing"
	}
	if c.RabbitMQ.PrefetchCount <= 0 {
		c.RabbitMQ.PrefetchCount = 4
	}
}
