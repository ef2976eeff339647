package stores

import (
	"time"
)

// Config holds SQLite store configuration
type Config struct {
	Path            string        `yaml:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns,omitempty" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns,omitempty" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Operation string
	Status    string
	Limit     int
	Offset    int
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	RunID      string
	ExternalID string
	Level      string
	Limit      int
}

const defaultListLimit = 50

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
