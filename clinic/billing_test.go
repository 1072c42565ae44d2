package clinic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-engine/clinic"
	"github.com/warp/clinic-engine/clinic/store"
)

func invoiceFor(id clinic.AppointmentID, lines ...clinic.InvoiceLineRequest) clinic.InvoiceRequest {
	return clinic.InvoiceRequest{
		AppointmentID: id,
		Client:        clinic.Client{ID: "0912345678", Name: "Ana Torres", Address: "Av. Amazonas 123"},
		PaymentMethod: "cash",
		Lines:         lines,
	}
}

func serviceLine(id clinic.ServiceID, qty int) clinic.InvoiceLineRequest {
	return clinic.InvoiceLineRequest{Item: clinic.ServiceItem{ServiceID: id}, Quantity: qty}
}

func productLine(id clinic.ProductID, qty int) clinic.InvoiceLineRequest {
	return clinic.InvoiceLineRequest{Item: clinic.ProductItem{ProductID: id}, Quantity: qty}
}

// assertNotInvoiced checks that nothing of a failed invoice was kept.
func (f *fixture) assertNotInvoiced(t *testing.T, id clinic.AppointmentID) {
	t.Helper()
	_, err := f.svc.Billing.ForAppointment(f.ctx, id)
	assert.ErrorIs(t, err, clinic.ErrInvoiceNotFound)
	assert.Equal(t, clinic.StateAttended, f.state(t, id))
}

// =============================================================================
// END-TO-END LIFECYCLE
// =============================================================================

func TestIssueInvoice_FullVisit(t *testing.T) {
	// GIVEN: P has no appointments on 2025-01-10
	f := newFixture(t, clinic.Options{})
	f.seedService(t, "cleaning", "20.00")
	f.seedProduct(t, "toothpaste", "5.00", 10)

	// WHEN: A is booked at 09:00 and B asks for the same slot
	appt := f.schedule(t, "P", "A", jan10At9)
	assert.Equal(t, clinic.StatePending, appt.State)

	_, err := f.svc.Book.Schedule(f.ctx, clinic.ScheduleRequest{PractitionerID: "P", PatientID: "B", When: jan10At9})
	require.ErrorIs(t, err, clinic.ErrSlotConflict)

	// WHEN: A is seen
	f.attend(t, appt.ID)
	assert.Equal(t, clinic.StateAttended, f.state(t, appt.ID))

	// WHEN: A is billed for a cleaning and two tubes of toothpaste
	inv, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID,
		serviceLine("cleaning", 1),
		productLine("toothpaste", 2),
	))
	require.NoError(t, err)

	// THEN: 30.00 + 15% tax, stock consumed, appointment billed
	assertMoney(t, "30.00", inv.Header.Subtotal, "subtotal")
	assertMoney(t, "4.50", inv.Header.Tax, "tax")
	assertMoney(t, "34.50", inv.Header.Total, "total")
	assert.Equal(t, 8, f.stock(t, "toothpaste"))
	assert.Equal(t, clinic.StateBilled, f.state(t, appt.ID))

	require.Len(t, inv.Lines, 2)
	assert.Equal(t, clinic.ServiceItem{ServiceID: "cleaning"}, inv.Lines[0].Item)
	assertMoney(t, "20.00", inv.Lines[0].Subtotal, "line 0")
	assert.Equal(t, clinic.ProductItem{ProductID: "toothpaste"}, inv.Lines[1].Item)
	assertMoney(t, "5.00", inv.Lines[1].UnitPrice, "line 1 unit price")
	assertMoney(t, "10.00", inv.Lines[1].Subtotal, "line 1")
	assert.Equal(t, clinic.DefaultZone, inv.Lines[1].Zone)

	level, ok := f.observe.stockOf("toothpaste")
	assert.True(t, ok)
	assert.Equal(t, 8, level)

	// THEN: The invoice reads back by ID and by appointment
	byID, err := f.svc.Billing.Get(f.ctx, inv.Header.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Header.ID, byID.Header.ID)
	assert.Len(t, byID.Lines, 2)

	byAppt, err := f.svc.Billing.ForAppointment(f.ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Header.ID, byAppt.Header.ID)
}

func TestIssueInvoice_InsufficientStock_NothingWritten(t *testing.T) {
	// GIVEN: The same visit but only 1 tube in stock
	// WHEN: Billing 2 tubes
	// THEN: InsufficientStock; appointment stays attended, stock stays 1,
	//       no invoice exists

	f := newFixture(t, clinic.Options{})
	f.seedService(t, "cleaning", "20.00")
	f.seedProduct(t, "toothpaste", "5.00", 1)
	appt := f.attendedAppointment(t)

	_, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID,
		serviceLine("cleaning", 1),
		productLine("toothpaste", 2),
	))

	var short *clinic.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, clinic.ProductID("toothpaste"), short.ProductID)
	assert.Equal(t, 1, short.Available)
	assert.Equal(t, 2, short.Requested)

	assert.Equal(t, 1, f.stock(t, "toothpaste"))
	f.assertNotInvoiced(t, appt.ID)
	assert.Equal(t, []string{clinic.KindInsufficientStock}, f.observe.kindsFor("issue_invoice"))
}

func TestIssueInvoice_StockCheckSumsLinesPerProduct(t *testing.T) {
	// GIVEN: 5 in stock and two lines of 3 for the same product
	// THEN: Rejected up front for 6, not after consuming the first 3

	f := newFixture(t, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 5)
	appt := f.attendedAppointment(t)

	_, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID,
		productLine("floss", 3),
		productLine("floss", 3),
	))

	var short *clinic.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 6, short.Requested)
	assert.Equal(t, 5, f.stock(t, "floss"))
	f.assertNotInvoiced(t, appt.ID)
}

func TestComponents_WiredIndividually(t *testing.T) {
	// GIVEN: The four components built one by one over the same store
	st := store.NewTxMemory()
	opts := clinic.Options{Now: func() time.Time { return testNow }}
	book := clinic.NewAppointmentBook(st, opts)
	inventory := clinic.NewInventoryLedger(st, opts)
	svc := &clinic.Services{
		Book:       book,
		Encounters: clinic.NewEncounterRecorder(book),
		Inventory:  inventory,
		Billing:    clinic.NewBillingEngine(book, inventory),
	}
	f := &fixture{
		ctx:     context.Background(),
		store:   st,
		svc:     svc,
		observe: newRecordingObserver(),
	}
	f.seedService(t, "cleaning", "20.00")
	f.seedProduct(t, "floss", "3.25", 4)

	// WHEN: Running a visit through them
	appt := f.attendedAppointment(t)
	inv, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, serviceLine("cleaning", 1), productLine("floss", 2)))
	require.NoError(t, err)

	// THEN: They share the store and the clock
	assertMoney(t, "26.50", inv.Header.Subtotal, "subtotal")
	assert.True(t, testNow.Equal(inv.Header.IssuedAt))
	assert.Equal(t, clinic.StateBilled, f.state(t, appt.ID))
	assert.Equal(t, 2, f.stock(t, "floss"))
}

func TestIssueInvoice_RequiresAttended(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedService(t, "cleaning", "20.00")

	pending := f.schedule(t, "P", "A", jan10At9)
	_, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(pending.ID, serviceLine("cleaning", 1)))
	assert.ErrorIs(t, err, clinic.ErrInvalidTransition)

	cancelled := f.schedule(t, "P", "B", jan10At10)
	_, err = f.svc.Book.Cancel(f.ctx, cancelled.ID)
	require.NoError(t, err)
	_, err = f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(cancelled.ID, serviceLine("cleaning", 1)))
	assert.ErrorIs(t, err, clinic.ErrInvalidTransition)

	_, err = f.svc.Billing.IssueInvoice(f.ctx, invoiceFor("missing", serviceLine("cleaning", 1)))
	assert.ErrorIs(t, err, clinic.ErrAppointmentNotFound)
}

func TestIssueInvoice_Twice_Rejected(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedService(t, "cleaning", "20.00")
	appt := f.attendedAppointment(t)

	_, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, serviceLine("cleaning", 1)))
	require.NoError(t, err)

	_, err = f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, serviceLine("cleaning", 1)))
	assert.ErrorIs(t, err, clinic.ErrInvalidTransition)
}

func TestIssueInvoice_PricesAndZones(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedService(t, "filling", "45.00")
	appt := f.attendedAppointment(t)

	line := serviceLine("filling", 2)
	line.UnitPrice = moneyPtr("40.00")
	line.Subtotal = moneyPtr("80.00")
	line.Zone = "36"

	inv, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, line))
	require.NoError(t, err)

	assertMoney(t, "40.00", inv.Lines[0].UnitPrice, "unit price")
	assertMoney(t, "80.00", inv.Header.Subtotal, "subtotal")
	assertMoney(t, "12.00", inv.Header.Tax, "tax")
	assert.Equal(t, "36", inv.Lines[0].Zone)
	assert.Equal(t, "Service filling", inv.Lines[0].Description)

	// Later catalog changes do not touch issued lines
	f.seedService(t, "filling", "99.00")
	stored, err := f.svc.Billing.Get(f.ctx, inv.Header.ID)
	require.NoError(t, err)
	assertMoney(t, "40.00", stored.Lines[0].UnitPrice, "stored unit price")
}

func TestIssueInvoice_SubtotalMismatch_Rejected(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedService(t, "filling", "45.00")
	appt := f.attendedAppointment(t)

	line := serviceLine("filling", 2)
	line.Subtotal = moneyPtr("45.00")

	_, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, line))
	var ve *clinic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "lines[0].subtotal", ve.Field)
	f.assertNotInvoiced(t, appt.ID)
}

func TestIssueInvoice_LinesAddUpToSubtotal(t *testing.T) {
	// GIVEN: A catalog service priced below the cent
	// WHEN: Billing two units of it
	// THEN: The invoice is rejected before anything is written

	f := newFixture(t, clinic.Options{})
	f.seedService(t, "fluoride", "0.125")
	f.seedService(t, "cleaning", "20.00")
	appt := f.attendedAppointment(t)

	_, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID,
		serviceLine("cleaning", 1),
		serviceLine("fluoride", 2),
	))
	var ve *clinic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "lines[1].unit_price", ve.Field)
	f.assertNotInvoiced(t, appt.ID)

	// WHEN: The same lines carry whole-cent overrides
	line := serviceLine("fluoride", 2)
	line.UnitPrice = moneyPtr("0.13")
	inv, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, serviceLine("cleaning", 1), line))
	require.NoError(t, err)

	// THEN: The two-digit lines sum to the header subtotal
	sum := money("0")
	for _, l := range inv.Lines {
		sum = sum.Add(clinic.Round2(l.Subtotal))
	}
	assertMoney(t, "20.26", inv.Header.Subtotal, "subtotal")
	assert.True(t, sum.Equal(inv.Header.Subtotal), "lines %s != subtotal %s", sum, inv.Header.Subtotal)
}

func TestIssueInvoice_Validation(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedService(t, "cleaning", "20.00")
	appt := f.attendedAppointment(t)

	negative := serviceLine("cleaning", 1)
	negative.UnitPrice = moneyPtr("-1.00")
	subCent := serviceLine("cleaning", 1)
	subCent.UnitPrice = moneyPtr("0.125")

	tests := []struct {
		name  string
		req   clinic.InvoiceRequest
		field string
	}{
		{"no lines", invoiceFor(appt.ID), "lines"},
		{"zero quantity", invoiceFor(appt.ID, serviceLine("cleaning", 0)), "lines[0].quantity"},
		{"nil item", invoiceFor(appt.ID, clinic.InvoiceLineRequest{Quantity: 1}), "lines[0].item"},
		{"empty reference", invoiceFor(appt.ID, productLine("", 1)), "lines[0].item"},
		{"negative price", invoiceFor(appt.ID, negative), "lines[0].unit_price"},
		{"sub-cent price", invoiceFor(appt.ID, subCent), "lines[0].unit_price"},
		{"missing appointment", invoiceFor("", serviceLine("cleaning", 1)), "appointment_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Billing.IssueInvoice(f.ctx, tt.req)
			var ve *clinic.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	t.Run("missing client name", func(t *testing.T) {
		req := invoiceFor(appt.ID, serviceLine("cleaning", 1))
		req.Client.Name = " "
		_, err := f.svc.Billing.IssueInvoice(f.ctx, req)
		assert.ErrorIs(t, err, clinic.ErrValidation)
	})

	f.assertNotInvoiced(t, appt.ID)
}

func TestIssueInvoice_UnknownCatalogEntry(t *testing.T) {
	f := newFixture(t, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 5)
	appt := f.attendedAppointment(t)

	_, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID,
		productLine("floss", 1),
		serviceLine("missing", 1),
	))
	assert.ErrorIs(t, err, clinic.ErrServiceNotFound)
	assert.Equal(t, 5, f.stock(t, "floss"))
	f.assertNotInvoiced(t, appt.ID)
}

func TestIssueInvoice_FinalStepFails_AllRolledBack(t *testing.T) {
	// GIVEN: A store that fails the appointment update, the last step
	// WHEN: Issuing an invoice with a product line
	// THEN: Header, lines and the stock decrement are all discarded

	st := newFaultyStore()
	f := newFixtureOn(t, st, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 5)
	appt := f.attendedAppointment(t)

	st.failUpdate = errors.New("connection reset")
	_, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, productLine("floss", 2)))
	require.ErrorIs(t, err, clinic.ErrPersistence)

	st.failUpdate = nil
	assert.Equal(t, 5, f.stock(t, "floss"))
	f.assertNotInvoiced(t, appt.ID)
}

func TestIssueInvoice_RetriesLostStockRace(t *testing.T) {
	st := newFaultyStore()
	f := newFixtureOn(t, st, clinic.Options{})
	f.seedProduct(t, "floss", "3.25", 5)
	appt := f.attendedAppointment(t)

	st.casConflicts = 1
	inv, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, productLine("floss", 2)))
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, "floss"))

	// Exactly one invoice: the retried attempt
	byAppt, err := f.svc.Billing.ForAppointment(f.ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.Header.ID, byAppt.Header.ID)
}

func TestIssueInvoice_CustomTaxRate(t *testing.T) {
	f := newFixture(t, clinic.Options{TaxRate: decimalNull("0.12")})
	f.seedService(t, "xray", "12.50")
	appt := f.attendedAppointment(t)

	inv, err := f.svc.Billing.IssueInvoice(f.ctx, invoiceFor(appt.ID, serviceLine("xray", 2)))
	require.NoError(t, err)

	assert.True(t, money("0.12").Equal(f.svc.Billing.TaxRate()))
	assertMoney(t, "25.00", inv.Header.Subtotal, "subtotal")
	assertMoney(t, "3.00", inv.Header.Tax, "tax")
	assertMoney(t, "28.00", inv.Header.Total, "total")
}
