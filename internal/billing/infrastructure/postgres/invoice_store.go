package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	billing "clinic-billing/internal/billing/domain"
)

// InvoiceStore reads invoices and patient names from Postgres.
type InvoiceStore struct {
	db *sql.DB
}

// NewInvoiceStore constructs a store.
func NewInvoiceStore(db *sql.DB) *InvoiceStore {
	return &InvoiceStore{db: db}
}

// ListInvoicesInRange returns invoices with start <= invoice_date < end, patient name joined in.
func (s *InvoiceStore) ListInvoicesInRange(ctx context.Context, start, end time.Time) ([]billing.Invoice, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("invoice store: nil db")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT
	i.invoice_id,
	i.patient_id,
	TRIM(CONCAT_WS(' ', p.first_name, p.last_name)),
	i.invoice_date,
	i.total_amount,
	i.patient_portion,
	i.status
FROM invoices i
LEFT JOIN patients p ON p.patient_id = i.patient_id
WHERE i.invoice_date >= $1
	AND i.invoice_date < $2
ORDER BY i.invoice_date ASC, i.invoice_id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []billing.Invoice
	for rows.Next() {
		var inv billing.Invoice
		var name sql.NullString
		var portion decimal.NullDecimal
		var status sql.NullString
		if err := rows.Scan(
			&inv.ID,
			&inv.PatientID,
			&name,
			&inv.InvoiceDate,
			&inv.TotalAmount,
			&portion,
			&status,
		); err != nil {
			return nil, err
		}
		inv.InvoiceDate = inv.InvoiceDate.UTC()
		if name.Valid {
			inv.PatientName = name.String
		}
		if portion.Valid {
			value := portion.Decimal
			inv.PatientPortion = &value
		}
		if status.Valid {
			inv.Status = billing.InvoiceStatus(status.String)
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// PatientNames resolves "first last" display names for the given ids.
func (s *InvoiceStore) PatientNames(ctx context.Context, patientIDs []int64) (map[int64]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("invoice store: nil db")
	}
	names := make(map[int64]string, len(patientIDs))
	if len(patientIDs) == 0 {
		return names, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT patient_id, TRIM(CONCAT_WS(' ', first_name, last_name))
FROM patients
WHERE patient_id = ANY($1)`, patientIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}
