package repository

import (
	"context"

	"blobsubnet/internal/domain/ledger"
)

// LedgerStateRepository persists periodic snapshots of the ledger plus
// an append-only log of applied operations, mirroring the teacher's
// SubscriptionRepository's Tx-aware method pairs.
type LedgerStateRepository interface {
	// SaveSnapshot upserts the singleton ledger snapshot row.
	SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error
	SaveSnapshotTx(ctx context.Context, tx Tx, snap ledger.Snapshot) error

	// LoadSnapshot returns the most recently saved snapshot, or
	// (nil, false) if none exists yet.
	LoadSnapshot(ctx context.Context) (*ledger.Snapshot, bool, error)

	// AppendOperation records one applied write operation for audit/replay.
	AppendOperation(ctx context.Context, epoch int64, kind string, detail string) error
	AppendOperationTx(ctx context.Context, tx Tx, epoch int64, kind string, detail string) error
}
