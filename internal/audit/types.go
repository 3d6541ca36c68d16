package audit

import (
	"context"
	"encoding/json"
	"time"
)

// Kind separates attack alarms raised by checks from policy alarms about
// the host's configuration.
type Kind string

const (
	KindAttack Kind = "attack"
	KindPolicy Kind = "policy"
)

// Alarm is one audit record.
type Alarm struct {
	RequestID  string          `json:"request_id,omitempty"`
	Kind       Kind            `json:"kind"`
	CheckType  string          `json:"check_type"`
	PolicyID   int             `json:"policy_id,omitempty"`
	Action     string          `json:"action"`
	Plugin     string          `json:"plugin,omitempty"`
	Message    string          `json:"message"`
	Confidence int             `json:"confidence,omitempty"`
	URL        string          `json:"url,omitempty"`
	Source     string          `json:"source,omitempty"`
	Params     json.RawMessage `json:"params"`
}

type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Alarm
}

type Store interface {
	Log(ctx context.Context, alarm Alarm) error
	GetAll(ctx context.Context) ([]Entry, error)
	Close() error
}

// Sink accepts alarms without blocking the caller.
type Sink interface {
	Report(ctx context.Context, alarm Alarm)
}
