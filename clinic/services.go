package clinic

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// OPTIONS - Shared runtime configuration of the services
// =============================================================================

// Observer receives operation outcomes. metrics.ClinicMetrics implements it.
type Observer interface {
	ObserveOperation(op, kind string, elapsed time.Duration)
	ObserveStock(product ProductID, level int)
}

type nopObserver struct{}

func (nopObserver) ObserveOperation(string, string, time.Duration) {}
func (nopObserver) ObserveStock(ProductID, int) {}

// Options configures the services. Zero values select defaults.
type Options struct {
	// Transitions defaults to ReferenceTransitions.
	Transitions TransitionTable

	// SlotCheck defaults to PointInTimeSlot.
	SlotCheck SlotCheck

	// TaxRate defaults to DefaultTaxRate when not Valid.
	TaxRate decimal.NullDecimal

	// Location defines calendar days for day views. Defaults to UTC.
	Location *time.Location

	// StockRetries bounds retries after ErrConcurrentModification.
	// Defaults to 3; negative disables retries.
	StockRetries int

	Now      func() time.Time
	NewID    func() string
	Logger   *zerolog.Logger
	Observer Observer
}

// deps is the state shared by the four components.
type deps struct {
	store       TxStore
	transitions TransitionTable
	slotFree    SlotCheck
	taxRate     decimal.Decimal
	loc         *time.Location
	retries     int
	now         func() time.Time
	newID       func() string
	log         zerolog.Logger
	obs         Observer
}

func newDeps(store TxStore, opts Options) *deps {
	d := &deps{
		store:       store,
		transitions: opts.Transitions,
		slotFree:    opts.SlotCheck,
		taxRate:     DefaultTaxRate,
		loc:         opts.Location,
		retries:     opts.StockRetries,
		now:         opts.Now,
		newID:       opts.NewID,
		log:         zerolog.Nop(),
		obs:         opts.Observer,
	}
	if d.slotFree == nil {
		d.slotFree = PointInTimeSlot
	}
	if opts.TaxRate.Valid {
		d.taxRate = opts.TaxRate.Decimal
	}
	if d.loc == nil {
		d.loc = time.UTC
	}
	switch {
	case d.retries == 0:
		d.retries = 3
	case d.retries < 0:
		d.retries = 0
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	if opts.Logger != nil {
		d.log = *opts.Logger
	}
	if d.obs == nil {
		d.obs = nopObserver{}
	}
	return d
}

// observe records the outcome of op. Rejections are logged at warn,
// infrastructure failures at error.
func (d *deps) observe(op string, start time.Time, err error) {
	kind := Kind(err)
	d.obs.ObserveOperation(op, kind, time.Since(start))
	switch {
	case err == nil:
	case IsClientError(err) || IsNotFound(err):
		d.log.Warn().Str("op", op).Str("kind", kind).Err(err).Msg("operation rejected")
	default:
		d.log.Error().Str("op", op).Str("kind", kind).Err(err).Msg("operation failed")
	}
}

// retry runs fn again while it fails with a retryable error.
func (d *deps) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsRetryable(err) || attempt >= d.retries || ctx.Err() != nil {
			return err
		}
		d.log.Debug().Str("op", op).Int("attempt", attempt+1).Msg("retrying after concurrent modification")
	}
}

// =============================================================================
// SERVICES - The wired component graph
// =============================================================================

// Services bundles the four components over one store.
type Services struct {
	Book       *AppointmentBook
	Encounters *EncounterRecorder
	Inventory  *InventoryLedger
	Billing    *BillingEngine
}

// NewServices wires AppointmentBook, EncounterRecorder, InventoryLedger and
// BillingEngine over store.
func NewServices(store TxStore, opts Options) *Services {
	book := NewAppointmentBook(store, opts)
	inventory := NewInventoryLedger(store, opts)
	return &Services{
		Book:       book,
		Encounters: NewEncounterRecorder(book),
		Inventory:  inventory,
		Billing:    NewBillingEngine(book, inventory),
	}
}
