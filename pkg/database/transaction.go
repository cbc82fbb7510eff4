package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Querier
	IsOpen() bool
	// IsOwner reports whether this handle began the transaction. Only the owner
	// commits or rolls back; nested handles defer to it.
	IsOwner() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx. A Transaction obtained from a context that already
// carries an open transaction shares the underlying sqlx.Tx but does not own it.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
	parent   *Transaction
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

// GetTx joins the transaction stored in ctx or begins a new one and stores it in
// the returned context.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if existing := txFromContext(ctx); existing != nil {
		return ctx, &Transaction{Tx: existing.Tx, logger: logger, parent: existing}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	newTx := NewTx(tx, logger)
	ctx = context.WithValue(ctx, txKey, newTx)
	return ctx, newTx, nil
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	return txFromContext(ctx) != nil
}

func txFromContext(ctx context.Context) *Transaction {
	tx, ok := ctx.Value(txKey).(*Transaction)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil
	}
	return tx
}

func (t *Transaction) IsOpen() bool {
	if t.parent != nil {
		return t.parent.IsOpen()
	}
	return !t.isClosed
}

func (t *Transaction) IsOwner() bool {
	return t.parent == nil
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if !t.IsOwner() || t.isClosed {
		return nil
	}

	err := t.Tx.Rollback()
	t.isClosed = true
	if err != nil && err != sql.ErrTxDone {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}

	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if !t.IsOwner() || t.isClosed {
		return nil
	}

	err := t.Tx.Commit()
	t.isClosed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}

	return nil
}
