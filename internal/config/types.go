// Package config loads and hot-reloads schedbot's configuration.
//
// Config files may be JSON or YAML. Both formats go through one strict
// JSON decoder (DisallowUnknownFields) so typos are caught early, also
// on hot reload.
package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`

	// History controls the fired-delivery history store.
	// If omitted, history recording is disabled.
	History *HistoryConfig `json:"history,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// OwnerUserIDs lists the operator user ids allowed to issue commands.
	// Normally exactly one entry; the bot is private.
	OwnerUserIDs []int64 `json:"owner_user_ids"`

	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// RatePerSec caps outgoing Telegram sends. 0 = adapter default.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig locates the durable snapshot files
// (channels.json / deliveries.json).
type StorageConfig struct {
	Dir string `json:"dir"`
}

// HistoryConfig controls the fired-delivery history store.
//
// Driver values:
//   - "file": append-only jsonl, dependency-free
//   - "sqlite": SQLite database file
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./data/history.db" }
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Retention bounds how long concluded deliveries are kept.
	// Go duration string; empty keeps history forever.
	Retention string `json:"retention,omitempty"`

	// PruneSchedule is a cron spec for the retention job (default "@daily").
	PruneSchedule string `json:"prune_schedule,omitempty"`
}
