package sqldb

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-engine/clinic"
)

// =============================================================================
// CATALOG
// =============================================================================

func (c *conn) GetProduct(ctx context.Context, id clinic.ProductID) (*clinic.Product, error) {
	var (
		p     clinic.Product
		pid   string
		brand sql.NullString
	)
	err := c.queryRow(ctx, `
		SELECT id, name, brand, price, stock, min_stock, active
		FROM products WHERE id = ?`, string(id),
	).Scan(&pid, &p.Name, &brand, &p.Price, &p.Stock, &p.MinStock, &p.Active)
	if err != nil {
		if isNoRows(err) {
			return nil, clinic.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	p.ID = clinic.ProductID(pid)
	p.Brand = brand.String
	return &p, nil
}

func (c *conn) GetService(ctx context.Context, id clinic.ServiceID) (*clinic.Service, error) {
	var (
		s   clinic.Service
		sid string
	)
	err := c.queryRow(ctx, `
		SELECT id, name, price, active
		FROM services WHERE id = ?`, string(id),
	).Scan(&sid, &s.Name, &s.Price, &s.Active)
	if err != nil {
		if isNoRows(err) {
			return nil, clinic.ErrServiceNotFound
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	s.ID = clinic.ServiceID(sid)
	return &s, nil
}

// SaveProduct upserts a catalog product, including its stock level.
func (c *conn) SaveProduct(ctx context.Context, p clinic.Product) error {
	_, err := c.exec(ctx, `
		INSERT INTO products (id, name, brand, price, stock, min_stock, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			brand = excluded.brand,
			price = excluded.price,
			stock = excluded.stock,
			min_stock = excluded.min_stock,
			active = excluded.active`,
		string(p.ID), p.Name, nullString(p.Brand), p.Price.String(), p.Stock, p.MinStock, p.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (c *conn) SaveService(ctx context.Context, s clinic.Service) error {
	_, err := c.exec(ctx, `
		INSERT INTO services (id, name, price, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			active = excluded.active`,
		string(s.ID), s.Name, s.Price.String(), s.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save service: %w", err)
	}
	return nil
}

func (c *conn) ListLowStock(ctx context.Context) ([]clinic.Product, error) {
	rows, err := c.query(ctx, `
		SELECT id, name, brand, price, stock, min_stock, active
		FROM products
		WHERE active AND stock <= min_stock
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list low stock: %w", err)
	}
	defer rows.Close()

	var out []clinic.Product
	for rows.Next() {
		var (
			p     clinic.Product
			pid   string
			brand sql.NullString
		)
		if err := rows.Scan(&pid, &p.Name, &brand, &p.Price, &p.Stock, &p.MinStock, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		p.ID = clinic.ProductID(pid)
		p.Brand = brand.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// INVENTORY
// =============================================================================

// LockStock reads the stock, holding the row lock when the dialect has one.
func (c *conn) LockStock(ctx context.Context, id clinic.ProductID) (int, error) {
	var stock int
	err := c.queryRow(ctx, `SELECT stock FROM products WHERE id = ?`+c.d.LockClause, string(id)).Scan(&stock)
	if err != nil {
		if isNoRows(err) {
			return 0, clinic.ErrProductNotFound
		}
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	return stock, nil
}

// CompareAndSetStock writes next only if stock still equals expected.
func (c *conn) CompareAndSetStock(ctx context.Context, id clinic.ProductID, expected, next int) error {
	if next < 0 {
		return &clinic.InsufficientStockError{ProductID: id, Available: expected, Requested: expected - next}
	}
	res, err := c.exec(ctx, `UPDATE products SET stock = ? WHERE id = ? AND stock = ?`, next, string(id), expected)
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := c.queryRow(ctx, `SELECT COUNT(*) FROM products WHERE id = ?`, string(id)).Scan(&exists); err != nil {
		return fmt.Errorf("failed to update stock: %w", err)
	}
	if exists == 0 {
		return clinic.ErrProductNotFound
	}
	return clinic.ErrConcurrentModification
}

// =============================================================================
// INVOICES (insert-only)
// =============================================================================

func (c *conn) InsertInvoice(ctx context.Context, h clinic.InvoiceHeader) error {
	_, err := c.exec(ctx, `
		INSERT INTO invoices
		(id, appointment_id, issued_at, client_id, client_name, client_address,
		 payment_method, subtotal, tax, total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(h.ID),
		string(h.AppointmentID),
		formatTime(h.IssuedAt),
		h.Client.ID,
		h.Client.Name,
		nullString(h.Client.Address),
		string(h.PaymentMethod),
		h.Subtotal.StringFixed(2),
		h.Tax.StringFixed(2),
		h.Total.StringFixed(2),
	)
	if err != nil {
		if c.d.uniqueViolation(err) {
			return clinic.ErrAlreadyInvoiced
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}
	return nil
}

// InsertInvoiceLines writes all lines through one prepared statement.
func (c *conn) InsertInvoiceLines(ctx context.Context, lines []clinic.InvoiceLine) error {
	if len(lines) == 0 {
		return nil
	}
	stmt, err := c.q.PrepareContext(ctx, c.d.Rebind(`
		INSERT INTO invoice_lines
		(id, invoice_id, line_no, kind, service_id, product_id, description,
		 quantity, unit_price, subtotal, zone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare invoice lines: %w", err)
	}
	defer stmt.Close()

	for i, l := range lines {
		var serviceID, productID sql.NullString
		switch item := l.Item.(type) {
		case clinic.ServiceItem:
			serviceID = nullString(string(item.ServiceID))
		case clinic.ProductItem:
			productID = nullString(string(item.ProductID))
		default:
			return fmt.Errorf("invoice line %d: unsupported item %T", i, l.Item)
		}
		_, err := stmt.ExecContext(ctx,
			string(l.ID),
			string(l.InvoiceID),
			i+1,
			string(l.Item.Kind()),
			serviceID,
			productID,
			l.Description,
			l.Quantity,
			l.UnitPrice.String(),
			l.Subtotal.String(),
			nullString(l.Zone),
		)
		if err != nil {
			return fmt.Errorf("failed to insert invoice line %d: %w", i+1, err)
		}
	}
	return nil
}

const invoiceColumns = `id, appointment_id, issued_at, client_id, client_name, client_address,
		payment_method, subtotal, tax, total`

func (c *conn) GetInvoice(ctx context.Context, id clinic.InvoiceID) (*clinic.Invoice, error) {
	return c.loadInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, string(id))
}

func (c *conn) GetInvoiceByAppointment(ctx context.Context, id clinic.AppointmentID) (*clinic.Invoice, error) {
	return c.loadInvoice(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE appointment_id = ?`, string(id))
}

// ListInvoices joins each header with the reason of its appointment.
func (c *conn) ListInvoices(ctx context.Context) ([]clinic.InvoiceSummary, error) {
	rows, err := c.query(ctx, `
		SELECT i.id, i.appointment_id, i.issued_at, i.client_id, i.client_name, i.client_address,
		       i.payment_method, i.subtotal, i.tax, i.total, a.reason
		FROM invoices i
		JOIN appointments a ON a.id = i.appointment_id
		ORDER BY i.issued_at DESC, i.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var out []clinic.InvoiceSummary
	for rows.Next() {
		var (
			h        clinic.InvoiceHeader
			id, appt string
			method   string
			address  sql.NullString
			reason   sql.NullString
			issued   timeValue
		)
		if err := rows.Scan(&id, &appt, &issued, &h.Client.ID, &h.Client.Name, &address,
			&method, &h.Subtotal, &h.Tax, &h.Total, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		h.ID = clinic.InvoiceID(id)
		h.AppointmentID = clinic.AppointmentID(appt)
		h.IssuedAt = issued.Time
		h.Client.Address = address.String
		h.PaymentMethod = clinic.PaymentMethod(method)
		out = append(out, clinic.InvoiceSummary{Header: h, Reason: reason.String})
	}
	return out, rows.Err()
}

func (c *conn) loadInvoice(ctx context.Context, query string, arg any) (*clinic.Invoice, error) {
	var (
		h        clinic.InvoiceHeader
		id, appt string
		method   string
		address  sql.NullString
		issued   timeValue
	)
	err := c.queryRow(ctx, query, arg).Scan(
		&id, &appt, &issued, &h.Client.ID, &h.Client.Name, &address,
		&method, &h.Subtotal, &h.Tax, &h.Total,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, clinic.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	h.ID = clinic.InvoiceID(id)
	h.AppointmentID = clinic.AppointmentID(appt)
	h.IssuedAt = issued.Time
	h.Client.Address = address.String
	h.PaymentMethod = clinic.PaymentMethod(method)

	lines, err := c.loadInvoiceLines(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	return &clinic.Invoice{Header: h, Lines: lines}, nil
}

func (c *conn) loadInvoiceLines(ctx context.Context, id clinic.InvoiceID) ([]clinic.InvoiceLine, error) {
	rows, err := c.query(ctx, `
		SELECT id, invoice_id, kind, service_id, product_id, description,
		       quantity, unit_price, subtotal, zone
		FROM invoice_lines
		WHERE invoice_id = ?
		ORDER BY line_no ASC`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load invoice lines: %w", err)
	}
	defer rows.Close()

	var out []clinic.InvoiceLine
	for rows.Next() {
		var (
			l                    clinic.InvoiceLine
			lineID, invID, kind  string
			serviceID, productID sql.NullString
			zone                 sql.NullString
			unitPrice, subtotal  decimal.Decimal
		)
		if err := rows.Scan(&lineID, &invID, &kind, &serviceID, &productID, &l.Description,
			&l.Quantity, &unitPrice, &subtotal, &zone); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		ref := serviceID.String
		if clinic.ItemKind(kind) == clinic.ItemProduct {
			ref = productID.String
		}
		l.ID = clinic.InvoiceLineID(lineID)
		l.InvoiceID = clinic.InvoiceID(invID)
		l.Item = clinic.NewLineItem(clinic.ItemKind(kind), ref)
		l.UnitPrice = unitPrice
		l.Subtotal = subtotal
		l.Zone = zone.String
		out = append(out, l)
	}
	return out, rows.Err()
}
