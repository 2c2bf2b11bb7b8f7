package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	GoalCreated       = "goal.created"
	GoalProgress      = "goal.progress"
	GoalCompleted     = "goal.completed"
	GoalArchived      = "goal.archived"
	GoalRenewed       = "goal.renewed"
	SaleRecorded      = "sale.recorded"
	SaleDeleted       = "sale.deleted"
	ExpenseRecorded   = "expense.recorded"
	ExpenseDeleted    = "expense.deleted"
	LedgerOpened      = "ledger.record_opened"
	LedgerEntryAdded  = "ledger.entry_added"
	LedgerEntryEdited = "ledger.entry_edited"
	LedgerDeleted     = "ledger.entries_deleted"
	LedgerCleared     = "ledger.cleared"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append records one audit event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	if actorID == "" {
		actorID = "system"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
