/*
billing.go - BillingEngine: issuing an invoice for an attended appointment

PURPOSE:
  Closes the business cycle of an appointment. One call to IssueInvoice
  persists the header, persists the lines, consumes the stock of every
  product line and marks the appointment billed. Either all of it is
  committed or none of it is.

ORDER OF WORK (inside one unit of work):
  1. Validate the request shape (lines, quantities, item references)
  2. Load the appointment and check that EventBill is allowed
  3. Resolve catalog entries and snapshot unit prices
  4. Pre-flight stock: every product must cover the summed quantity
  5. Compute totals (money.go)
  6. Insert header, insert lines
  7. Decrement stock per product line
  8. Apply EventBill to the appointment

  Steps 1-4 detect every domain violation before anything is written.

SEE ALSO:
  - money.go: Rounding and totals
  - inventory.go: Stock adjustment
*/
package clinic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultZone annotates lines that do not target a tooth or zone.
const DefaultZone = "-"

// BillingEngine issues invoices.
type BillingEngine struct {
	*deps
	book      *AppointmentBook
	inventory *InventoryLedger
}

// NewBillingEngine creates an engine sharing book's store and options.
func NewBillingEngine(book *AppointmentBook, inventory *InventoryLedger) *BillingEngine {
	return &BillingEngine{deps: book.deps, book: book, inventory: inventory}
}

// InvoiceLineRequest is one requested line. UnitPrice defaults to the
// catalog price. Subtotal, when given, must equal Quantity × UnitPrice.
type InvoiceLineRequest struct {
	Item      LineItem
	Quantity  int
	UnitPrice *decimal.Decimal
	Subtotal  *decimal.Decimal
	Zone      string
}

// InvoiceRequest asks for an invoice closing an appointment.
type InvoiceRequest struct {
	AppointmentID AppointmentID
	Client        Client
	PaymentMethod PaymentMethod
	Lines         []InvoiceLineRequest
}

// TaxRate returns the rate applied to invoice subtotals.
func (e *BillingEngine) TaxRate() decimal.Decimal {
	return e.taxRate
}

// IssueInvoice validates, prices and persists an invoice.
func (e *BillingEngine) IssueInvoice(ctx context.Context, req InvoiceRequest) (_ *Invoice, err error) {
	start := time.Now()
	defer func() { e.observe("issue_invoice", start, err) }()

	if err := validateInvoiceRequest(req); err != nil {
		return nil, err
	}

	var inv *Invoice
	err = e.retry(ctx, "issue_invoice", func() error {
		return e.store.WithTx(ctx, func(s Store) error {
			var err error
			inv, err = e.issueIn(ctx, s, req)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	for _, l := range inv.Lines {
		if p, ok := l.Item.(ProductItem); ok {
			if stock, err := e.inventory.Stock(ctx, p.ProductID); err == nil {
				e.obs.ObserveStock(p.ProductID, stock)
			}
		}
	}
	e.log.Info().
		Str("invoice_id", string(inv.Header.ID)).
		Str("appointment_id", string(inv.Header.AppointmentID)).
		Str("total", inv.Header.Total.StringFixed(2)).
		Int("lines", len(inv.Lines)).
		Msg("invoice issued")
	return inv, nil
}

func (e *BillingEngine) issueIn(ctx context.Context, s Store, req InvoiceRequest) (*Invoice, error) {
	appt, err := e.book.checkIn(ctx, s, req.AppointmentID, EventBill)
	if err != nil {
		return nil, err
	}

	header := InvoiceHeader{
		ID:            InvoiceID(e.newID()),
		AppointmentID: appt.ID,
		IssuedAt:      NormalizeTime(e.now()),
		Client: Client{
			ID:      strings.TrimSpace(req.Client.ID),
			Name:    strings.TrimSpace(req.Client.Name),
			Address: strings.TrimSpace(req.Client.Address),
		},
		PaymentMethod: req.PaymentMethod,
	}

	lines, err := e.priceLines(ctx, s, header.ID, req.Lines)
	if err != nil {
		return nil, err
	}
	if err := e.preflightStock(ctx, s, lines); err != nil {
		return nil, err
	}

	totals := ComputeTotals(lines, e.taxRate)
	header.Subtotal = totals.Subtotal
	header.Tax = totals.Tax
	header.Total = totals.Total

	if err := s.InsertInvoice(ctx, header); err != nil {
		return nil, Persistence("insert invoice", err)
	}
	if err := s.InsertInvoiceLines(ctx, lines); err != nil {
		return nil, Persistence("insert invoice lines", err)
	}
	for _, l := range lines {
		p, ok := l.Item.(ProductItem)
		if !ok {
			continue
		}
		if _, err := e.inventory.adjustIn(ctx, s, p.ProductID, -l.Quantity); err != nil {
			return nil, err
		}
	}
	if _, err := e.book.transitionIn(ctx, s, appt.ID, EventBill); err != nil {
		return nil, err
	}
	return &Invoice{Header: header, Lines: lines}, nil
}

// priceLines resolves catalog entries and snapshots prices.
func (e *BillingEngine) priceLines(ctx context.Context, s Store, invoice InvoiceID, reqs []InvoiceLineRequest) ([]InvoiceLine, error) {
	lines := make([]InvoiceLine, 0, len(reqs))
	for i, r := range reqs {
		var (
			name  string
			price decimal.Decimal
		)
		switch item := r.Item.(type) {
		case ServiceItem:
			svc, err := s.GetService(ctx, item.ServiceID)
			if err != nil {
				return nil, Persistence("load service", err)
			}
			name, price = svc.Name, svc.Price
		case ProductItem:
			p, err := s.GetProduct(ctx, item.ProductID)
			if err != nil {
				return nil, Persistence("load product", err)
			}
			name, price = p.Name, p.Price
		default:
			return nil, &ValidationError{Field: fmt.Sprintf("lines[%d].item", i), Message: "must reference a service or a product"}
		}
		if r.UnitPrice != nil {
			price = *r.UnitPrice
		}
		if !IsCents(price) {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("lines[%d].unit_price", i),
				Message: fmt.Sprintf("%s has more than two decimal places", price.String()),
			}
		}
		subtotal := LineSubtotal(r.Quantity, price)
		if r.Subtotal != nil && !r.Subtotal.Equal(subtotal) {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("lines[%d].subtotal", i),
				Message: fmt.Sprintf("%s does not equal quantity × unit price (%s)", r.Subtotal.String(), subtotal.String()),
			}
		}
		zone := strings.TrimSpace(r.Zone)
		if zone == "" {
			zone = DefaultZone
		}
		lines = append(lines, InvoiceLine{
			ID:          InvoiceLineID(e.newID()),
			InvoiceID:   invoice,
			Item:        r.Item,
			Description: name,
			Quantity:    r.Quantity,
			UnitPrice:   price,
			Subtotal:    subtotal,
			Zone:        zone,
		})
	}
	return lines, nil
}

// preflightStock checks every product covers the summed quantity of its
// lines. Products are locked in ID order.
func (e *BillingEngine) preflightStock(ctx context.Context, s Store, lines []InvoiceLine) error {
	requested := make(map[ProductID]int)
	for _, l := range lines {
		if p, ok := l.Item.(ProductItem); ok {
			requested[p.ProductID] += l.Quantity
		}
	}
	ids := make([]ProductID, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		available, err := s.LockStock(ctx, id)
		if err != nil {
			return Persistence("lock stock", err)
		}
		if available < requested[id] {
			return &InsufficientStockError{ProductID: id, Available: available, Requested: requested[id]}
		}
	}
	return nil
}

func validateInvoiceRequest(req InvoiceRequest) error {
	if req.AppointmentID == "" {
		return &ValidationError{Field: "appointment_id", Message: "is required"}
	}
	if strings.TrimSpace(req.Client.ID) == "" {
		return &ValidationError{Field: "client.id", Message: "is required"}
	}
	if strings.TrimSpace(req.Client.Name) == "" {
		return &ValidationError{Field: "client.name", Message: "is required"}
	}
	if len(req.Lines) == 0 {
		return &ValidationError{Field: "lines", Message: "at least one line is required"}
	}
	for i, l := range req.Lines {
		if l.Item == nil || l.Item.Ref() == "" {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].item", i), Message: "must reference a service or a product"}
		}
		if l.Quantity <= 0 {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Message: "must be positive"}
		}
		if l.UnitPrice != nil && l.UnitPrice.IsNegative() {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].unit_price", i), Message: "must not be negative"}
		}
		if l.UnitPrice != nil && !IsCents(*l.UnitPrice) {
			return &ValidationError{Field: fmt.Sprintf("lines[%d].unit_price", i), Message: "must have at most two decimal places"}
		}
	}
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Get returns an invoice with its lines.
func (e *BillingEngine) Get(ctx context.Context, id InvoiceID) (*Invoice, error) {
	inv, err := e.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, Persistence("load invoice", err)
	}
	return inv, nil
}

// ForAppointment returns the invoice that closed an appointment.
func (e *BillingEngine) ForAppointment(ctx context.Context, id AppointmentID) (*Invoice, error) {
	inv, err := e.store.GetInvoiceByAppointment(ctx, id)
	if err != nil {
		return nil, Persistence("load invoice", err)
	}
	return inv, nil
}

// List returns the invoice history, newest first.
func (e *BillingEngine) List(ctx context.Context) ([]InvoiceSummary, error) {
	list, err := e.store.ListInvoices(ctx)
	if err != nil {
		return nil, Persistence("list invoices", err)
	}
	return list, nil
}
