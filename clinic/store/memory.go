// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/clinic-engine/clinic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps guarded by one mutex. Each exported
// method locks; the unlocked variants on memoryData serve transactions.
type Memory struct {
	mu sync.RWMutex
	memoryData
}

type memoryData struct {
	appointments map[clinic.AppointmentID]clinic.Appointment
	encounters   map[clinic.AppointmentID][]clinic.Encounter
	products     map[clinic.ProductID]clinic.Product
	services     map[clinic.ServiceID]clinic.Service
	invoices     map[clinic.InvoiceID]clinic.InvoiceHeader
	lines        map[clinic.InvoiceID][]clinic.InvoiceLine
	byAppt       map[clinic.AppointmentID]clinic.InvoiceID
}

func NewMemory() *Memory {
	return &Memory{memoryData: newMemoryData()}
}

func newMemoryData() memoryData {
	return memoryData{
		appointments: make(map[clinic.AppointmentID]clinic.Appointment),
		encounters:   make(map[clinic.AppointmentID][]clinic.Encounter),
		products:     make(map[clinic.ProductID]clinic.Product),
		services:     make(map[clinic.ServiceID]clinic.Service),
		invoices:     make(map[clinic.InvoiceID]clinic.InvoiceHeader),
		lines:        make(map[clinic.InvoiceID][]clinic.InvoiceLine),
		byAppt:       make(map[clinic.AppointmentID]clinic.InvoiceID),
	}
}

// clone deep-copies the slices so a restored snapshot is not affected by
// appends made during a failed transaction.
func (d memoryData) clone() memoryData {
	c := newMemoryData()
	for k, v := range d.appointments {
		c.appointments[k] = v
	}
	for k, v := range d.encounters {
		c.encounters[k] = append([]clinic.Encounter{}, v...)
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.services {
		c.services[k] = v
	}
	for k, v := range d.invoices {
		c.invoices[k] = v
	}
	for k, v := range d.lines {
		c.lines[k] = append([]clinic.InvoiceLine{}, v...)
	}
	for k, v := range d.byAppt {
		c.byAppt[k] = v
	}
	return c
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

func (d *memoryData) slotTaken(a clinic.Appointment) bool {
	if a.State == clinic.StateCancelled {
		return false
	}
	for _, other := range d.appointments {
		if other.ID != a.ID &&
			other.State != clinic.StateCancelled &&
			other.PractitionerID == a.PractitionerID &&
			other.ScheduledAt.Equal(a.ScheduledAt) {
			return true
		}
	}
	return false
}

func (d *memoryData) insertAppointment(a clinic.Appointment) error {
	if d.slotTaken(a) {
		return clinic.ErrSlotConflict
	}
	d.appointments[a.ID] = a
	return nil
}

func (d *memoryData) updateAppointment(a clinic.Appointment) error {
	if _, ok := d.appointments[a.ID]; !ok {
		return clinic.ErrAppointmentNotFound
	}
	if d.slotTaken(a) {
		return clinic.ErrSlotConflict
	}
	d.appointments[a.ID] = a
	return nil
}

func (d *memoryData) getAppointment(id clinic.AppointmentID) (*clinic.Appointment, error) {
	a, ok := d.appointments[id]
	if !ok {
		return nil, clinic.ErrAppointmentNotFound
	}
	return &a, nil
}

func (d *memoryData) countActiveAt(practitioner clinic.PractitionerID, at time.Time) int {
	n := 0
	for _, a := range d.appointments {
		if a.PractitionerID == practitioner && a.State != clinic.StateCancelled && a.ScheduledAt.Equal(at) {
			n++
		}
	}
	return n
}

func (d *memoryData) listAppointments(f clinic.AppointmentFilter) []clinic.Appointment {
	states := make(map[clinic.AppointmentState]bool, len(f.States))
	for _, s := range f.States {
		states[s] = true
	}
	var out []clinic.Appointment
	for _, a := range d.appointments {
		if !f.From.IsZero() && a.ScheduledAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.ScheduledAt.Before(f.To) {
			continue
		}
		if len(states) > 0 && !states[a.State] {
			continue
		}
		if f.PractitionerID != "" && a.PractitionerID != f.PractitionerID {
			continue
		}
		if f.PatientQuery != "" {
			if f.PatientExact && string(a.PatientID) != f.PatientQuery {
				continue
			}
			if !f.PatientExact && !strings.Contains(string(a.PatientID), f.PatientQuery) {
				continue
			}
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// ENCOUNTERS
// =============================================================================

func (d *memoryData) insertEncounter(e clinic.Encounter) error {
	if _, ok := d.appointments[e.AppointmentID]; !ok {
		return clinic.ErrAppointmentNotFound
	}
	d.encounters[e.AppointmentID] = append(d.encounters[e.AppointmentID], e)
	return nil
}

func (d *memoryData) listEncounters(id clinic.AppointmentID) []clinic.Encounter {
	return append([]clinic.Encounter{}, d.encounters[id]...)
}

// =============================================================================
// CATALOG & INVENTORY
// =============================================================================

func (d *memoryData) getProduct(id clinic.ProductID) (*clinic.Product, error) {
	p, ok := d.products[id]
	if !ok {
		return nil, clinic.ErrProductNotFound
	}
	return &p, nil
}

func (d *memoryData) getService(id clinic.ServiceID) (*clinic.Service, error) {
	s, ok := d.services[id]
	if !ok {
		return nil, clinic.ErrServiceNotFound
	}
	return &s, nil
}

func (d *memoryData) listLowStock() []clinic.Product {
	var out []clinic.Product
	for _, p := range d.products {
		if p.Active && p.LowOnStock() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *memoryData) lockStock(id clinic.ProductID) (int, error) {
	p, ok := d.products[id]
	if !ok {
		return 0, clinic.ErrProductNotFound
	}
	return p.Stock, nil
}

func (d *memoryData) compareAndSetStock(id clinic.ProductID, expected, next int) error {
	p, ok := d.products[id]
	if !ok {
		return clinic.ErrProductNotFound
	}
	if p.Stock != expected {
		return clinic.ErrConcurrentModification
	}
	if next < 0 {
		return &clinic.InsufficientStockError{ProductID: id, Available: p.Stock, Requested: expected - next}
	}
	p.Stock = next
	d.products[id] = p
	return nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (d *memoryData) insertInvoice(h clinic.InvoiceHeader) error {
	if _, ok := d.appointments[h.AppointmentID]; !ok {
		return clinic.ErrAppointmentNotFound
	}
	if _, ok := d.byAppt[h.AppointmentID]; ok {
		return clinic.ErrAlreadyInvoiced
	}
	d.invoices[h.ID] = h
	d.byAppt[h.AppointmentID] = h.ID
	return nil
}

func (d *memoryData) insertInvoiceLines(lines []clinic.InvoiceLine) error {
	for _, l := range lines {
		if _, ok := d.invoices[l.InvoiceID]; !ok {
			return clinic.ErrInvoiceNotFound
		}
	}
	for _, l := range lines {
		d.lines[l.InvoiceID] = append(d.lines[l.InvoiceID], l)
	}
	return nil
}

func (d *memoryData) getInvoice(id clinic.InvoiceID) (*clinic.Invoice, error) {
	h, ok := d.invoices[id]
	if !ok {
		return nil, clinic.ErrInvoiceNotFound
	}
	return &clinic.Invoice{Header: h, Lines: append([]clinic.InvoiceLine{}, d.lines[id]...)}, nil
}

func (d *memoryData) getInvoiceByAppointment(id clinic.AppointmentID) (*clinic.Invoice, error) {
	invID, ok := d.byAppt[id]
	if !ok {
		return nil, clinic.ErrInvoiceNotFound
	}
	return d.getInvoice(invID)
}

func (d *memoryData) listInvoices() []clinic.InvoiceSummary {
	out := make([]clinic.InvoiceSummary, 0, len(d.invoices))
	for _, h := range d.invoices {
		out = append(out, clinic.InvoiceSummary{Header: h, Reason: d.appointments[h.AppointmentID].Reason})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Header, out[j].Header
		if !a.IssuedAt.Equal(b.IssuedAt) {
			return a.IssuedAt.After(b.IssuedAt)
		}
		return a.ID > b.ID
	})
	return out
}

// =============================================================================
// LOCKED ACCESSORS - clinic.Store on *Memory
// =============================================================================

func (m *Memory) InsertAppointment(_ context.Context, a clinic.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAppointment(a)
}

func (m *Memory) UpdateAppointment(_ context.Context, a clinic.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAppointment(a)
}

func (m *Memory) GetAppointment(_ context.Context, id clinic.AppointmentID) (*clinic.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAppointment(id)
}

func (m *Memory) CountActiveAt(_ context.Context, practitioner clinic.PractitionerID, at time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countActiveAt(practitioner, at), nil
}

func (m *Memory) ListAppointments(_ context.Context, f clinic.AppointmentFilter) ([]clinic.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAppointments(f), nil
}

func (m *Memory) InsertEncounter(_ context.Context, e clinic.Encounter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertEncounter(e)
}

func (m *Memory) ListEncounters(_ context.Context, id clinic.AppointmentID) ([]clinic.Encounter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEncounters(id), nil
}

func (m *Memory) GetProduct(_ context.Context, id clinic.ProductID) (*clinic.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProduct(id)
}

func (m *Memory) GetService(_ context.Context, id clinic.ServiceID) (*clinic.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getService(id)
}

func (m *Memory) SaveProduct(_ context.Context, p clinic.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *Memory) SaveService(_ context.Context, s clinic.Service) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
	return nil
}

func (m *Memory) ListLowStock(_ context.Context) ([]clinic.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLowStock(), nil
}

func (m *Memory) LockStock(_ context.Context, id clinic.ProductID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lockStock(id)
}

func (m *Memory) CompareAndSetStock(_ context.Context, id clinic.ProductID, expected, next int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compareAndSetStock(id, expected, next)
}

func (m *Memory) InsertInvoice(_ context.Context, h clinic.InvoiceHeader) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertInvoice(h)
}

func (m *Memory) InsertInvoiceLines(_ context.Context, lines []clinic.InvoiceLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertInvoiceLines(lines)
}

func (m *Memory) GetInvoice(_ context.Context, id clinic.InvoiceID) (*clinic.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvoice(id)
}

func (m *Memory) GetInvoiceByAppointment(_ context.Context, id clinic.AppointmentID) (*clinic.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getInvoiceByAppointment(id)
}

func (m *Memory) ListInvoices(_ context.Context) ([]clinic.InvoiceSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listInvoices(), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store lock is held for the whole of fn, so transactions are serial.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(clinic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := tm.memoryData.clone()
	if err := fn(&txMemoryView{data: &tm.memoryData}); err != nil {
		tm.memoryData = snapshot
		return err
	}
	return nil
}

// txMemoryView is the unlocked Store handed to a transaction.
type txMemoryView struct {
	data *memoryData
}

func (tv *txMemoryView) InsertAppointment(_ context.Context, a clinic.Appointment) error {
	return tv.data.insertAppointment(a)
}

func (tv *txMemoryView) UpdateAppointment(_ context.Context, a clinic.Appointment) error {
	return tv.data.updateAppointment(a)
}

func (tv *txMemoryView) GetAppointment(_ context.Context, id clinic.AppointmentID) (*clinic.Appointment, error) {
	return tv.data.getAppointment(id)
}

func (tv *txMemoryView) CountActiveAt(_ context.Context, practitioner clinic.PractitionerID, at time.Time) (int, error) {
	return tv.data.countActiveAt(practitioner, at), nil
}

func (tv *txMemoryView) ListAppointments(_ context.Context, f clinic.AppointmentFilter) ([]clinic.Appointment, error) {
	return tv.data.listAppointments(f), nil
}

func (tv *txMemoryView) InsertEncounter(_ context.Context, e clinic.Encounter) error {
	return tv.data.insertEncounter(e)
}

func (tv *txMemoryView) ListEncounters(_ context.Context, id clinic.AppointmentID) ([]clinic.Encounter, error) {
	return tv.data.listEncounters(id), nil
}

func (tv *txMemoryView) GetProduct(_ context.Context, id clinic.ProductID) (*clinic.Product, error) {
	return tv.data.getProduct(id)
}

func (tv *txMemoryView) GetService(_ context.Context, id clinic.ServiceID) (*clinic.Service, error) {
	return tv.data.getService(id)
}

func (tv *txMemoryView) SaveProduct(_ context.Context, p clinic.Product) error {
	tv.data.products[p.ID] = p
	return nil
}

func (tv *txMemoryView) SaveService(_ context.Context, s clinic.Service) error {
	tv.data.services[s.ID] = s
	return nil
}

func (tv *txMemoryView) ListLowStock(_ context.Context) ([]clinic.Product, error) {
	return tv.data.listLowStock(), nil
}

func (tv *txMemoryView) LockStock(_ context.Context, id clinic.ProductID) (int, error) {
	return tv.data.lockStock(id)
}

func (tv *txMemoryView) CompareAndSetStock(_ context.Context, id clinic.ProductID, expected, next int) error {
	return tv.data.compareAndSetStock(id, expected, next)
}

func (tv *txMemoryView) InsertInvoice(_ context.Context, h clinic.InvoiceHeader) error {
	return tv.data.insertInvoice(h)
}

func (tv *txMemoryView) InsertInvoiceLines(_ context.Context, lines []clinic.InvoiceLine) error {
	return tv.data.insertInvoiceLines(lines)
}

func (tv *txMemoryView) GetInvoice(_ context.Context, id clinic.InvoiceID) (*clinic.Invoice, error) {
	return tv.data.getInvoice(id)
}

func (tv *txMemoryView) GetInvoiceByAppointment(_ context.Context, id clinic.AppointmentID) (*clinic.Invoice, error) {
	return tv.data.getInvoiceByAppointment(id)
}

func (tv *txMemoryView) ListInvoices(_ context.Context) ([]clinic.InvoiceSummary, error) {
	return tv.data.listInvoices(), nil
}

var (
	_ clinic.TxStore = (*TxMemory)(nil)
	_ clinic.Store   = (*txMemoryView)(nil)
)
