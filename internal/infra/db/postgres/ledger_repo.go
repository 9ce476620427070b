package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"blobsubnet/internal/domain/ledger"
	"blobsubnet/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4/pgxpool"
)

// LedgerRepository persists the singleton ledger snapshot (as JSONB) and
// an append-only operation log, the way the teacher's postgres package
// persists one row per aggregate plus its history, adapted here to a
// single aggregate (there is exactly one ledger).
type LedgerRepository struct {
	pool *pgxpool.Pool
}

var _ repository.LedgerStateRepository = (*LedgerRepository)(nil)

func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

const ledgerSnapshotSingletonID = 1

func (r *LedgerRepository) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	return r.SaveSnapshotTx(ctx, nil, snap)
}

func (r *LedgerRepository) SaveSnapshotTx(ctx context.Context, tx repository.Tx, snap ledger.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal ledger snapshot: %w", err)
	}
	_, err = execSQL(ctx, r.pool, tx, `
		INSERT INTO ledger_snapshots (id, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = now()
	`, ledgerSnapshotSingletonID, payload)
	if err != nil {
		return fmt.Errorf("save ledger snapshot: %w", err)
	}
	return nil
}

func (r *LedgerRepository) LoadSnapshot(ctx context.Context) (*ledger.Snapshot, bool, error) {
	row, err := pickRow(ctx, r.pool, nil, `SELECT payload FROM ledger_snapshots WHERE id = $1`, ledgerSnapshotSingletonID)
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		return nil, false, nil
	}
	var snap ledger.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal ledger snapshot: %w", err)
	}
	return &snap, true, nil
}

func (r *LedgerRepository) AppendOperation(ctx context.Context, epoch int64, kind string, detail string) error {
	return r.AppendOperationTx(ctx, nil, epoch, kind, detail)
}

func (r *LedgerRepository) AppendOperationTx(ctx context.Context, tx repository.Tx, epoch int64, kind string, detail string) error {
	_, err := execSQL(ctx, r.pool, tx, `
		INSERT INTO ledger_operations (epoch, kind, detail, recorded_at)
		VALUES ($1, $2, $3, now())
	`, epoch, kind, detail)
	if err != nil {
		return fmt.Errorf("append ledger operation: %w", err)
	}
	return nil
}
