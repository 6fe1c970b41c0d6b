// SPDX-License-Identifier: MIT

// Package config loads process configuration from the environment and the
// source-endpoint config file.
package config

import (
	"time"
)

// Config holds every tunable of the broker process.
type Config struct {
	// Process
	HTTPAddr     string
	DBPath       string
	LogLevel     string
	OTLPEndpoint string // empty disables tracing

	// Availability job store
	AvailStoreBackend string // memory | badger
	AvailStorePath    string
	JobTTL            time.Duration

	// Source endpoint configs
	SourcesConfigPath string

	// Health monitor
	HealthEnabled        bool
	SlowThreshold        time.Duration
	SlowRateThreshold    float64
	MinSamplesForBackoff int
	MaxBackoff           time.Duration

	// Fan-out
	FanoutTimeout    time.Duration
	FanoutSLA        time.Duration
	FanoutSLAHardCancel bool
	FanoutConcurrency   int

	// Poll
	PollWaitMax time.Duration
	PollStep    time.Duration
	PollBatch   int

	// Cache
	RedisAddr     string // empty = in-memory cache
	RedisPassword string
	RedisDB       int
}

// Load reads the full configuration from the environment.
func Load() Config {
	return Config{
		HTTPAddr:     ParseString("HTTP_ADDR", ":8080"),
		DBPath:       ParseString("DB_PATH", "rentmesh.db"),
		LogLevel:     ParseString("LOG_LEVEL", "info"),
		OTLPEndpoint: ParseString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		AvailStoreBackend: ParseString("AVAIL_STORE_BACKEND", "memory"),
		AvailStorePath:    ParseString("AVAIL_STORE_PATH", "availability"),
		JobTTL:            time.Duration(ParseInt("JOB_TTL_SECONDS", 600)) * time.Second,

		SourcesConfigPath: ParseString("SOURCES_CONFIG_PATH", ""),

		HealthEnabled:        ParseBool("HEALTH_ENABLED", true),
		SlowThreshold:        time.Duration(ParseInt("SLOW_THRESHOLD_MS", 3000)) * time.Millisecond,
		SlowRateThreshold:    ParseFloat("SLOW_RATE_THRESHOLD", 0.2),
		MinSamplesForBackoff: ParseInt("MIN_SAMPLES_FOR_BACKOFF", 100),
		MaxBackoff:           time.Duration(ParseInt("MAX_BACKOFF_HOURS", 24)) * time.Hour,

		FanoutTimeout:       time.Duration(ParseInt("FANOUT_TIMEOUT_MS", 10000)) * time.Millisecond,
		FanoutSLA:           time.Duration(ParseInt("FANOUT_SLA_MS", 120000)) * time.Millisecond,
		FanoutSLAHardCancel: ParseBool("FANOUT_SLA_HARD_CANCEL", false),
		FanoutConcurrency:   ParseInt("FANOUT_CONCURRENCY", 10),

		PollWaitMax: time.Duration(ParseInt("POLL_WAIT_MS_MAX", 10000)) * time.Millisecond,
		PollStep:    time.Duration(ParseInt("POLL_STEP_MS", 200)) * time.Millisecond,
		PollBatch:   ParseInt("POLL_BATCH", 200),

		RedisAddr:     ParseString("REDIS_ADDR", ""),
		RedisPassword: ParseString("REDIS_PASSWORD", ""),
		RedisDB:       ParseInt("REDIS_DB", 0),
	}
}
