/*
inventory.go - InventoryLedger: the only writer of product stock

PURPOSE:
  Applies signed stock adjustments: negative for sales, positive for
  restocking. A decrement that would take stock below zero fails with
  InsufficientStockError and changes nothing.

ATOMICITY:
  The read and the write happen in one unit of work. The read goes through
  LockStock (row lock where the backend has one) and the write through
  CompareAndSetStock, so two concurrent decrements can never both pass the
  check on the same value. The loser of a compare-and-swap gets
  ErrConcurrentModification and standalone adjustments retry it.

SEE ALSO:
  - billing.go: Adjusts stock inside the invoice unit of work
  - store.go: Stock contract
*/
package clinic

import (
	"context"
	"time"
)

// InventoryLedger adjusts product stock.
type InventoryLedger struct {
	*deps
}

// NewInventoryLedger creates a ledger over store.
func NewInventoryLedger(store TxStore, opts Options) *InventoryLedger {
	return &InventoryLedger{deps: newDeps(store, opts)}
}

// AdjustStock applies delta to a product's stock in its own unit of work.
func (l *InventoryLedger) AdjustStock(ctx context.Context, id ProductID, delta int) (change StockChange, err error) {
	start := time.Now()
	defer func() { l.observe("adjust_stock", start, err) }()

	if id == "" {
		return StockChange{}, &ValidationError{Field: "product_id", Message: "is required"}
	}
	if delta == 0 {
		return StockChange{}, &ValidationError{Field: "delta", Message: "must not be zero"}
	}

	err = l.retry(ctx, "adjust_stock", func() error {
		return l.store.WithTx(ctx, func(s Store) error {
			c, err := l.adjustIn(ctx, s, id, delta)
			change = c
			return err
		})
	})
	if err != nil {
		return StockChange{}, err
	}

	l.obs.ObserveStock(id, change.After)
	l.log.Info().
		Str("product_id", string(id)).
		Int("delta", delta).
		Int("stock", change.After).
		Msg("stock adjusted")
	return change, nil
}

// adjustIn performs the read-check-write within s.
func (l *InventoryLedger) adjustIn(ctx context.Context, s Store, id ProductID, delta int) (StockChange, error) {
	current, err := s.LockStock(ctx, id)
	if err != nil {
		return StockChange{}, Persistence("lock stock", err)
	}
	next := current + delta
	if next < 0 {
		return StockChange{}, &InsufficientStockError{ProductID: id, Available: current, Requested: -delta}
	}
	if err := s.CompareAndSetStock(ctx, id, current, next); err != nil {
		return StockChange{}, Persistence("update stock", err)
	}
	return StockChange{ProductID: id, Before: current, After: next, Delta: delta}, nil
}

// Stock returns the current stock of a product.
func (l *InventoryLedger) Stock(ctx context.Context, id ProductID) (int, error) {
	p, err := l.store.GetProduct(ctx, id)
	if err != nil {
		return 0, Persistence("load product", err)
	}
	return p.Stock, nil
}

// LowStock lists active products at or below their minimum stock.
func (l *InventoryLedger) LowStock(ctx context.Context) ([]Product, error) {
	out, err := l.store.ListLowStock(ctx)
	if err != nil {
		return nil, Persistence("list low stock", err)
	}
	return out, nil
}
