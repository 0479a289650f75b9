package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// MemoryTxLog is the in-memory inventory transaction log. Append-only;
// ordering per (pharmacy, NDC) follows append order.
type MemoryTxLog struct {
	mu   sync.Mutex
	txns []model.InventoryTransaction
}

// NewMemoryTxLog creates an empty log.
func NewMemoryTxLog() *MemoryTxLog { return &MemoryTxLog{} }

func (l *MemoryTxLog) Append(_ context.Context, tx model.InventoryTransaction) (model.InventoryTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txns = append(l.txns, tx)
	return tx, nil
}

func (l *MemoryTxLog) List(_ context.Context, pharmacyID, ndc string) ([]model.InventoryTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.InventoryTransaction
	for _, tx := range l.txns {
		if tx.PharmacyID == pharmacyID && tx.NDC == ndc {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (l *MemoryTxLog) ListByPharmacy(_ context.Context, pharmacyID string) ([]model.InventoryTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.InventoryTransaction
	for _, tx := range l.txns {
		if tx.PharmacyID == pharmacyID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// SQLTxLog persists the inventory transaction log in the
// inventory_transactions table. The seq column orders the stream per
// (pharmacy, NDC).
type SQLTxLog struct {
	s *SQL
}

// NewSQLTxLog wraps an open database handle. The schema must already
// be migrated.
func NewSQLTxLog(db *sql.DB, dialect Dialect) *SQLTxLog {
	return &SQLTxLog{s: NewSQL(db, dialect)}
}

func (l *SQLTxLog) Append(ctx context.Context, tx model.InventoryTransaction) (model.InventoryTransaction, error) {
	doc, err := json.Marshal(tx)
	if err != nil {
		return model.InventoryTransaction{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	q := `INSERT INTO inventory_transactions
		(id, pharmacy_id, ndc, txn_type, delta, running_balance, reference, actor_id, witness_id, at, seq, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(t.seq), 0) + 1 FROM inventory_transactions t
			 WHERE t.pharmacy_id = ? AND t.ndc = ?), ?)`
	_, err = l.s.db.ExecContext(ctx, l.s.rebind(q),
		tx.ID, tx.PharmacyID, tx.NDC, string(tx.Type), tx.Delta, tx.RunningBalance,
		tx.Reference, tx.ActorID, tx.WitnessID, tx.At.Format(time.RFC3339Nano),
		tx.PharmacyID, tx.NDC, string(doc))
	if err != nil {
		return model.InventoryTransaction{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	return tx, nil
}

func (l *SQLTxLog) List(ctx context.Context, pharmacyID, ndc string) ([]model.InventoryTransaction, error) {
	q := `SELECT doc FROM inventory_transactions WHERE pharmacy_id = ? AND ndc = ? ORDER BY seq`
	return l.scan(ctx, q, pharmacyID, ndc)
}

func (l *SQLTxLog) ListByPharmacy(ctx context.Context, pharmacyID string) ([]model.InventoryTransaction, error) {
	q := `SELECT doc FROM inventory_transactions WHERE pharmacy_id = ? ORDER BY ndc, seq`
	return l.scan(ctx, q, pharmacyID)
}

func (l *SQLTxLog) scan(ctx context.Context, q string, args ...any) ([]model.InventoryTransaction, error) {
	rows, err := l.s.db.QueryContext(ctx, l.s.rebind(q), args...)
	if err != nil {
		return nil, rxerr.ErrSystemFailure.Wrap(err)
	}
	defer rows.Close()

	var out []model.InventoryTransaction
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, rxerr.ErrSystemFailure.Wrap(err)
		}
		var tx model.InventoryTransaction
		if err := json.Unmarshal([]byte(doc), &tx); err != nil {
			return nil, rxerr.ErrSystemFailure.Wrap(err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, rxerr.ErrSystemFailure.Wrap(err)
	}
	return out, nil
}
