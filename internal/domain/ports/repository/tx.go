// Package repository declares the storage-layer interfaces the usecase
// layer depends on, keeping transaction handles out of the domain layer
// the way the teacher's ports/repository package does.
package repository

import "context"

// Tx is an opaque transaction handle threaded through repository calls.
// Its concrete type is infra-defined (pgx.Tx for the Postgres
// implementation); repositories must accept a nil Tx as the
// non-transactional path.
type Tx interface{}

// NoTX is the sentinel non-transactional handle.
var NoTX Tx

// TransactionManager executes fn within a database transaction, passing
// the underlying handle through tx.
type TransactionManager interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
