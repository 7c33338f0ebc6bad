package postgres

import (
	"context"
	"database/sql"
	"errors"

	billing "clinic-billing/internal/billing/domain"
)

// PaymentStore reads payments from Postgres.
type PaymentStore struct {
	db *sql.DB
}

// NewPaymentStore constructs a store.
func NewPaymentStore(db *sql.DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// ListPaymentsForInvoices returns every payment for the given invoices, keyed by invoice id.
// Payment dates are not filtered.
func (s *PaymentStore) ListPaymentsForInvoices(ctx context.Context, invoiceIDs []int64) (map[int64][]billing.Payment, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("payment store: nil db")
	}
	result := make(map[int64][]billing.Payment, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT payment_id, invoice_id, amount, payment_date
FROM payments
WHERE invoice_id = ANY($1)
ORDER BY invoice_id ASC, payment_date ASC, payment_id ASC`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p billing.Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.PaymentDate); err != nil {
			return nil, err
		}
		p.PaymentDate = p.PaymentDate.UTC()
		result[p.InvoiceID] = append(result[p.InvoiceID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
