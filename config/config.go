// Package config loads the environment-variable driven configuration used
// by the command-line entry points in cmd/.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pluresdb/corelog/wal"
)

// Config holds everything a long-running process needs to open a log and
// serve requests against it.
type Config struct {
	Dir             string        `json:"dir"`
	Durability      wal.Durability `json:"durability"`
	MaxSegmentBytes int64         `json:"max_segment_bytes"`
	Addr            string        `json:"addr"`
}

// Default returns the configuration used when no environment variables are
// set: a "./data" directory, wal-level durability, 64 MiB segments, and an
// RPC listener on :1729.
func Default() *Config {
	return &Config{
		Dir:             "data",
		Durability:      wal.DurabilityWal,
		MaxSegmentBytes: 64 << 20,
		Addr:            ":1729",
	}
}

// FromEnv starts from Default and overrides each field present in the
// environment:
//
//	WAL_DIR                the log directory
//	WAL_DURABILITY          "none" | "wal" | "full"
//	WAL_MAX_SEGMENT_BYTES   integer byte count
//	WAL_ADDR                RPC listen address
func FromEnv() (*Config, error) {
	cfg := Default()

	if v := os.Getenv("WAL_DIR"); v != "" {
		cfg.Dir = v
	}

	if v := os.Getenv("WAL_DURABILITY"); v != "" {
		d, err := parseDurability(v)
		if err != nil {
			return nil, err
		}
		cfg.Durability = d
	}

	if v := os.Getenv("WAL_MAX_SEGMENT_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: WAL_MAX_SEGMENT_BYTES: %w", err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("config: WAL_MAX_SEGMENT_BYTES must be positive, got %d", n)
		}
		cfg.MaxSegmentBytes = n
	}

	if v := os.Getenv("WAL_ADDR"); v != "" {
		cfg.Addr = v
	}

	return cfg, nil
}

func parseDurability(s string) (wal.Durability, error) {
	switch s {
	case "none":
		return wal.DurabilityNone, nil
	case "wal":
		return wal.DurabilityWal, nil
	case "full":
		return wal.DurabilityFull, nil
	default:
		return 0, fmt.Errorf("config: WAL_DURABILITY: unknown value %q (want none|wal|full)", s)
	}
}

// LogOptions converts Config into the functional options wal.Open expects.
func (c *Config) LogOptions() []wal.Option {
	return []wal.Option{
		wal.WithDurability(c.Durability),
		wal.WithMaxSegmentBytes(c.MaxSegmentBytes),
	}
}
