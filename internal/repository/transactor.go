package repository

import (
	"context"

	"gorm.io/gorm"
)

// Transactor runs units of work inside database transactions. Repositories
// pick up the transaction from the context they are called with.
type Transactor interface {
	// WithinTransaction joins the transaction already carried by ctx, or
	// starts one if there is none.
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// WithinNewTransaction always starts a fresh transaction on its own
	// connection. It commits or rolls back regardless of any transaction
	// carried by ctx.
	WithinNewTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFromContext(ctx); ok {
		return fn(ctx)
	}
	return t.WithinNewTransaction(ctx, fn)
}

func (t *GormTransactor) WithinNewTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(withTx(ctx, tx))
	})
}

// InTransaction reports whether ctx carries a transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := txFromContext(ctx)
	return ok
}

// WithoutTransaction detaches ctx from any carried transaction so that calls
// made with it run on their own connection.
func WithoutTransaction(ctx context.Context) context.Context {
	if !InTransaction(ctx) {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, (*gorm.DB)(nil))
}

func withTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// conn returns the transaction carried by ctx, or db bound to ctx.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := txFromContext(ctx); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
