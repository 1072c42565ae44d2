package clinic_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/clinic"
	"github.com/warp/clinic-engine/clinic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var (
	// testNow is the fixed clock: the day before the appointments below.
	testNow = time.Date(2025, time.January, 9, 12, 0, 0, 0, time.UTC)

	jan10At9  = time.Date(2025, time.January, 10, 9, 0, 0, 0, time.UTC)
	jan10At10 = time.Date(2025, time.January, 10, 10, 0, 0, 0, time.UTC)
	jan11At9  = time.Date(2025, time.January, 11, 9, 0, 0, 0, time.UTC)
)

// backend is what the fixture needs from a store.
type backend interface {
	clinic.TxStore
	clinic.CatalogStore
}

type fixture struct {
	ctx     context.Context
	store   backend
	svc     *clinic.Services
	observe *recordingObserver
}

// newFixture wires services over a fresh memory store. opts.Now defaults
// to testNow.
func newFixture(t *testing.T, opts clinic.Options) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewTxMemory(), opts)
}

func newFixtureOn(t *testing.T, st backend, opts clinic.Options) *fixture {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	obs := newRecordingObserver()
	if opts.Observer == nil {
		opts.Observer = obs
	}
	return &fixture{
		ctx:     context.Background(),
		store:   st,
		svc:     clinic.NewServices(st, opts),
		observe: obs,
	}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func moneyPtr(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

func decimalNull(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(money(s))
}

func (f *fixture) seedService(t *testing.T, id clinic.ServiceID, price string) {
	t.Helper()
	require.NoError(t, f.store.SaveService(f.ctx, clinic.Service{
		ID:     id,
		Name:   "Service " + string(id),
		Price:  money(price),
		Active: true,
	}))
}

func (f *fixture) seedProduct(t *testing.T, id clinic.ProductID, price string, stock int) {
	t.Helper()
	require.NoError(t, f.store.SaveProduct(f.ctx, clinic.Product{
		ID:       id,
		Name:     "Product " + string(id),
		Price:    money(price),
		Stock:    stock,
		MinStock: 1,
		Active:   true,
	}))
}

func (f *fixture) schedule(t *testing.T, practitioner clinic.PractitionerID, patient clinic.PatientID, at time.Time) *clinic.Appointment {
	t.Helper()
	appt, err := f.svc.Book.Schedule(f.ctx, clinic.ScheduleRequest{
		PractitionerID: practitioner,
		PatientID:      patient,
		When:           at,
		Reason:         "checkup",
	})
	require.NoError(t, err)
	return appt
}

func (f *fixture) attend(t *testing.T, id clinic.AppointmentID) {
	t.Helper()
	_, err := f.svc.Encounters.RecordEncounter(f.ctx, clinic.EncounterRequest{
		AppointmentID: id,
		Diagnosis:     "caries",
		Treatment:     "filling",
	})
	require.NoError(t, err)
}

func (f *fixture) state(t *testing.T, id clinic.AppointmentID) clinic.AppointmentState {
	t.Helper()
	appt, err := f.svc.Book.Get(f.ctx, id)
	require.NoError(t, err)
	return appt.State
}

func (f *fixture) stock(t *testing.T, id clinic.ProductID) int {
	t.Helper()
	n, err := f.svc.Inventory.Stock(f.ctx, id)
	require.NoError(t, err)
	return n
}

// attendedAppointment is the common billing setup: one attended
// appointment for practitioner P and patient A.
func (f *fixture) attendedAppointment(t *testing.T) *clinic.Appointment {
	t.Helper()
	appt := f.schedule(t, "P", "A", jan10At9)
	f.attend(t, appt.ID)
	return appt
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// faultyStore wraps the memory store and injects failures into the Store
// handed to transactions.
type faultyStore struct {
	*store.TxMemory

	// failUpdate, when set, is returned by UpdateAppointment.
	failUpdate error
	// casConflicts makes the next n CompareAndSetStock calls lose the race.
	casConflicts int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{TxMemory: store.NewTxMemory()}
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(clinic.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s clinic.Store) error {
		return fn(&faultyTx{Store: s, parent: f})
	})
}

type faultyTx struct {
	clinic.Store
	parent *faultyStore
}

func (t *faultyTx) UpdateAppointment(ctx context.Context, a clinic.Appointment) error {
	if t.parent.failUpdate != nil {
		return t.parent.failUpdate
	}
	return t.Store.UpdateAppointment(ctx, a)
}

func (t *faultyTx) CompareAndSetStock(ctx context.Context, id clinic.ProductID, expected, next int) error {
	if t.parent.casConflicts > 0 {
		t.parent.casConflicts--
		return clinic.ErrConcurrentModification
	}
	return t.Store.CompareAndSetStock(ctx, id, expected, next)
}

// =============================================================================
// OBSERVER
// =============================================================================

type recordingObserver struct {
	mu    sync.Mutex
	kinds map[string][]string
	stock map[clinic.ProductID]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		kinds: make(map[string][]string),
		stock: make(map[clinic.ProductID]int),
	}
}

func (o *recordingObserver) ObserveOperation(op, kind string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds[op] = append(o.kinds[op], kind)
}

func (o *recordingObserver) ObserveStock(product clinic.ProductID, level int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stock[product] = level
}

func (o *recordingObserver) kindsFor(op string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.kinds[op]...)
}

func (o *recordingObserver) stockOf(id clinic.ProductID) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, ok := o.stock[id]
	return n, ok
}
