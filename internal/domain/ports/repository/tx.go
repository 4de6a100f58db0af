package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

var NoTX interface{}

// TransactionManager executes fn inside a database transaction, passing the
// underlying handle as Tx. Repositories accept nil (NoTX) for the pool path and
// lock rows (SELECT ... FOR UPDATE) when handed a tx.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
//		p, err := purchases.FindByID(ctx, tx, id)
//		...
//		return purchases.UpdateStatus(ctx, tx, id, next, paymentID, method)
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
