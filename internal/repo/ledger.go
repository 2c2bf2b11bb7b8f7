package repo

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"khata/internal/domain"
)

const ledgerColumns = `id,party_id,party_kind,amount,due_date,status,note,version,created_at,updated_at`

func (r Repo) InsertLedgerRecordTx(ctx context.Context, tx *sql.Tx, rec domain.LedgerRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ledger_records(`+ledgerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.PartyID, string(rec.PartyKind), rec.Amount, nullableDate(rec.DueDate), string(rec.Status),
		rec.Note, rec.Version, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
	return err
}

// UpdateLedgerRecordTx writes note, amount and status only if the row is still
// at rec.Version, then bumps the version. A lost race yields ConflictError.
func (r Repo) UpdateLedgerRecordTx(ctx context.Context, tx *sql.Tx, rec domain.LedgerRecord) error {
	res, err := tx.ExecContext(ctx, `UPDATE ledger_records SET note=?, amount=?, status=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		rec.Note, rec.Amount, string(rec.Status), formatTime(rec.UpdatedAt), rec.ID, rec.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &domain.ConflictError{RecordID: rec.ID}
	}
	return nil
}

func (r Repo) GetLedgerRecord(ctx context.Context, id string) (domain.LedgerRecord, error) {
	recs, err := r.listLedger(ctx, r.DB, `WHERE id=?`, id)
	if err != nil {
		return domain.LedgerRecord{}, err
	}
	if len(recs) == 0 {
		return domain.LedgerRecord{}, ErrNotFound
	}
	return recs[0], nil
}

// ListLedgerRecords returns a party's records oldest first, optionally filtered by status.
func (r Repo) ListLedgerRecords(ctx context.Context, partyID string, status domain.LedgerStatus) ([]domain.LedgerRecord, error) {
	return r.listLedgerByParty(ctx, r.DB, partyID, status)
}

func (r Repo) ListLedgerRecordsTx(ctx context.Context, tx *sql.Tx, partyID string) ([]domain.LedgerRecord, error) {
	return r.listLedgerByParty(ctx, tx, partyID, "")
}

func (r Repo) listLedgerByParty(ctx context.Context, q querier, partyID string, status domain.LedgerStatus) ([]domain.LedgerRecord, error) {
	if status != "" {
		return r.listLedger(ctx, q, `WHERE party_id=? AND status=? ORDER BY created_at, rowid`, partyID, string(status))
	}
	return r.listLedger(ctx, q, `WHERE party_id=? ORDER BY created_at, rowid`, partyID)
}

func (r Repo) listLedger(ctx context.Context, q querier, where string, args ...any) ([]domain.LedgerRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_records `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerRecord
	for rows.Next() {
		var rec domain.LedgerRecord
		var kind, status, createdAt, updatedAt string
		var due sql.NullString
		if err := rows.Scan(&rec.ID, &rec.PartyID, &kind, &rec.Amount, &due, &status, &rec.Note, &rec.Version, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		rec.PartyKind = domain.PartyKind(kind)
		rec.Status = domain.LedgerStatus(status)
		if rec.DueDate, err = optionalDate(due); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// ListParties summarizes every party holding records. The balance is the
// amount carried by the party's most recently updated record that still
// holds a non-zero amount; callers needing exact figures replay the notes.
func (r Repo) ListParties(ctx context.Context, kind domain.PartyKind) ([]domain.Party, error) {
	query := `SELECT party_id, party_kind, COUNT(*),
  COALESCE((SELECT amount FROM ledger_records l2 WHERE l2.party_id=l.party_id AND l2.amount NOT IN ('0','0.00') ORDER BY updated_at DESC, rowid DESC LIMIT 1), '0')
FROM ledger_records l`
	var args []any
	if kind != "" {
		query += ` WHERE party_kind=?`
		args = append(args, string(kind))
	}
	query += ` GROUP BY party_id, party_kind ORDER BY party_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Party
	for rows.Next() {
		var p domain.Party
		var k string
		if err := rows.Scan(&p.ID, &k, &p.Records, &p.Balance); err != nil {
			return nil, err
		}
		p.Kind = domain.PartyKind(k)
		p.Status = domain.LedgerPaid
		if p.Balance.GreaterThan(decimal.Zero) {
			p.Status = domain.LedgerPending
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
