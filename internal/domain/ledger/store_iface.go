package ledger

import "context"

type Store interface {
	// WithinTx runs fn in one database transaction; returning an error rolls
	// back every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
	GetBalance(ctx context.Context, employeeID, leaveTypeID string) (Balance, bool, error)
	ListBalances(ctx context.Context, employeeID string) ([]Balance, error)
	ListTransactions(ctx context.Context, filter Filter) ([]Transaction, error)
}

type TxStore interface {
	GetBalance(ctx context.Context, employeeID, leaveTypeID string) (Balance, bool, error)
	FindTransaction(ctx context.Context, transactionID string) (Transaction, bool, error)
	// InsertTransaction reports false when the id already exists.
	InsertTransaction(ctx context.Context, tx Transaction) (bool, error)
	// SaveBalance writes b only if the stored version still equals
	// expectedVersion (0 means the row must not exist yet).
	SaveBalance(ctx context.Context, b Balance, expectedVersion int64) (bool, error)
	ListTransactions(ctx context.Context, filter Filter) ([]Transaction, error)
}
