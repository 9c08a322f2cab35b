// Package history keeps a durable record of concluded deliveries.
//
// The pending store forgets a delivery the moment it retires; history is
// where the conclusion (sent / skipped / failed) survives for the
// operator's /history command and for post-hoc debugging.
//
// Drivers:
//   - "file": append-only JSON Lines, dependency-free
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", history is disabled and Open returns
// (nil, nil).
package history

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "schedbot/pkg/logx"
)

var ErrDisabled = errors.New("history disabled")

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Record is one concluded delivery. Keep it compact and schema-stable.
type Record struct {
	DeliveryID      string    `json:"delivery_id"`
	Channel         string    `json:"channel"`
	RequesterChatID int64     `json:"requester_chat_id"`
	Text            string    `json:"text"`
	DueAt           time.Time `json:"due_at"`
	ConcludedAt     time.Time `json:"concluded_at"`
	Outcome         Outcome   `json:"outcome"`
	Detail          string    `json:"detail,omitempty"`
}

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the dispatcher and the /history
// command.
type Store interface {
	Append(ctx context.Context, r Record) error
	// Recent returns up to n records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	// Prune drops records concluded before cutoff and reports how many.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
