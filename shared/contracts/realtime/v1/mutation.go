package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind is the mutation performed on a record.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// RecordExpense is the only record type published today.
const RecordExpense = "expense"

// MutationEvent is the payload of a mutation envelope. It is transient and
// never persisted. Record is omitted for deletes; Version is 0 then.
type MutationEvent struct {
	EventID    string          `json:"event_id"`
	Kind       Kind            `json:"kind"`
	RecordType string          `json:"record_type"`
	RecordID   string          `json:"record_id"`
	AccountID  string          `json:"account_id"`
	Version    int64           `json:"version"`
	Record     json.RawMessage `json:"record,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Validate checks the event is publishable.
func (e MutationEvent) Validate() error {
	if strings.TrimSpace(e.AccountID) == "" {
		return errors.New("missing account_id")
	}
	if strings.TrimSpace(e.RecordID) == "" {
		return errors.New("missing record_id")
	}
	if strings.TrimSpace(e.RecordType) == "" {
		return errors.New("missing record_type")
	}
	switch e.Kind {
	case KindCreate, KindUpdate:
		if len(e.Record) == 0 {
			return fmt.Errorf("%s event without record", e.Kind)
		}
		if e.Version < 1 {
			return fmt.Errorf("%s event with version %d", e.Kind, e.Version)
		}
	case KindDelete:
	default:
		return fmt.Errorf("unknown kind: %q", e.Kind)
	}
	return nil
}
