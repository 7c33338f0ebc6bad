package billing

import (
	"context"
	"time"
)

// InvoiceStore reads issued invoices and patient display names.
type InvoiceStore interface {
	// ListInvoicesInRange returns invoices with start <= invoice_date < end.
	ListInvoicesInRange(ctx context.Context, start, end time.Time) ([]Invoice, error)
	PatientNames(ctx context.Context, patientIDs []int64) (map[int64]string, error)
}

// PaymentStore reads payments in bulk, keyed by invoice id.
type PaymentStore interface {
	ListPaymentsForInvoices(ctx context.Context, invoiceIDs []int64) (map[int64][]Payment, error)
}
