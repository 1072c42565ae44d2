package clinic_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/clinic"
)

func TestAdjustStock(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 10)

	change, err := f.svc.Inventory.AdjustStock(f.ctx, "floss", -2)
	require.NoError(t, err)
	assert.Equal(t, clinic.StockChange{ProductID: "floss", Before: 10, After: 8, Delta: -2}, change)

	change, err = f.svc.Inventory.AdjustStock(f.ctx, "floss", 5)
	require.NoError(t, err)
	assert.Equal(t, 13, change.After)
	assert.Equal(t, 13, f.stock(t, "floss"))

	level, ok := f.observe.stockOf("floss")
	assert.True(t, ok)
	assert.Equal(t, 13, level)
}

func TestAdjustStock_Insufficient(t *testing.T) {
	// GIVEN: One unit in stock
	// WHEN: Taking two
	// THEN: InsufficientStock with the shortage, stock unchanged

	f := newFixture(t, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 1)

	_, err := f.svc.Inventory.AdjustStock(f.ctx, "floss", -2)

	var short *clinic.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, clinic.ProductID("floss"), short.ProductID)
	assert.Equal(t, 1, short.Available)
	assert.Equal(t, 2, short.Requested)
	assert.Equal(t, 1, f.stock(t, "floss"))
}

func TestAdjustStock_DownToZero(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 3)

	change, err := f.svc.Inventory.AdjustStock(f.ctx, "floss", -3)
	require.NoError(t, err)
	assert.Equal(t, 0, change.After)
}

func TestAdjustStock_Validation(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 3)

	_, err := f.svc.Inventory.AdjustStock(f.ctx, "floss", 0)
	assert.ErrorIs(t, err, clinic.ErrValidation)

	_, err = f.svc.Inventory.AdjustStock(f.ctx, "", -1)
	assert.ErrorIs(t, err, clinic.ErrValidation)

	_, err = f.svc.Inventory.AdjustStock(f.ctx, "missing", -1)
	assert.ErrorIs(t, err, clinic.ErrProductNotFound)
}

func TestAdjustStock_ConcurrentDecrements(t *testing.T) {
	// GIVEN: 10 units in stock
	// WHEN: 25 concurrent single-unit decrements
	// THEN: Exactly 10 succeed, the rest see InsufficientStock, stock ends at 0

	f := newFixture(t, clinic.Options{})
	f.seedProduct(t, "gloves", "0.50", 10)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, short int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Inventory.AdjustStock(f.ctx, "gloves", -1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, clinic.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	assert.Equal(t, 15, short)
	assert.Equal(t, 0, f.stock(t, "gloves"))
}

func TestAdjustStock_RetriesLostRace(t *testing.T) {
	st := newFaultyStore()
	f := newFixtureOn(t, st, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 10)

	st.casConflicts = 2
	change, err := f.svc.Inventory.AdjustStock(f.ctx, "floss", -1)
	require.NoError(t, err)
	assert.Equal(t, 9, change.After)
	assert.Equal(t, 0, st.casConflicts)
}

func TestAdjustStock_RetriesDisabled(t *testing.T) {
	st := newFaultyStore()
	f := newFixtureOn(t, st, clinic.Options{StockRetries: -1})
	f.seedProduct(t, "floss", "3.25", 10)

	st.casConflicts = 1
	_, err := f.svc.Inventory.AdjustStock(f.ctx, "floss", -1)
	assert.ErrorIs(t, err, clinic.ErrConcurrentModification)
	assert.Equal(t, clinic.KindConflict, clinic.Kind(err))
	assert.Equal(t, 10, f.stock(t, "floss"))
}

func TestLowStock(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	for _, p := range []clinic.Product{
		{ID: "a-at-min", Name: "At minimum", Price: money("1.00"), Stock: 3, MinStock: 3, Active: true},
		{ID: "b-below", Name: "Below", Price: money("1.00"), Stock: 0, MinStock: 2, Active: true},
		{ID: "c-plenty", Name: "Plenty", Price: money("1.00"), Stock: 30, MinStock: 2, Active: true},
		{ID: "d-inactive", Name: "Retired", Price: money("1.00"), Stock: 0, MinStock: 5, Active: false},
	} {
		require.NoError(t, f.store.SaveProduct(f.ctx, p))
	}

	low, err := f.svc.Inventory.LowStock(f.ctx)
	require.NoError(t, err)

	require.Len(t, low, 2)
	assert.Equal(t, clinic.ProductID("a-at-min"), low[0].ID)
	assert.Equal(t, clinic.ProductID("b-below"), low[1].ID)
}
