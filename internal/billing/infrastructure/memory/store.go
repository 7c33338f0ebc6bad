package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	billing "clinic-billing/internal/billing/domain"
)

// Store is an in-memory invoice, payment and patient store.
type Store struct {
	mu       sync.RWMutex
	invoices map[int64]billing.Invoice
	payments map[int64][]billing.Payment
	patients map[int64]string
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		invoices: make(map[int64]billing.Invoice),
		payments: make(map[int64][]billing.Payment),
		patients: make(map[int64]string),
	}
}

// PutPatient records a patient display name.
func (s *Store) PutPatient(id int64, name string) {
	s.mu.Lock()
	s.patients[id] = name
	s.mu.Unlock()
}

// PutInvoice inserts or replaces an invoice.
func (s *Store) PutInvoice(inv billing.Invoice) error {
	if inv.TotalAmount.IsNegative() {
		return billing.ErrNegativeAmount
	}
	s.mu.Lock()
	s.invoices[inv.ID] = inv
	s.mu.Unlock()
	return nil
}

// AddPayment appends a payment to its invoice.
func (s *Store) AddPayment(p billing.Payment) error {
	if !p.Amount.IsPositive() {
		return billing.ErrNonPositiveAmount
	}
	s.mu.Lock()
	s.payments[p.InvoiceID] = append(s.payments[p.InvoiceID], p)
	s.mu.Unlock()
	return nil
}

// ListInvoicesInRange returns invoices with start <= invoice_date < end, ordered by date then id.
func (s *Store) ListInvoicesInRange(ctx context.Context, start, end time.Time) ([]billing.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var result []billing.Invoice
	for _, inv := range s.invoices {
		date := inv.InvoiceDate.UTC()
		if date.Before(start) || !date.Before(end) {
			continue
		}
		result = append(result, cloneInvoice(inv))
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].InvoiceDate.Equal(result[j].InvoiceDate) {
			return result[i].InvoiceDate.Before(result[j].InvoiceDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// PatientNames resolves display names for the given ids. Unknown ids are omitted.
func (s *Store) PatientNames(ctx context.Context, patientIDs []int64) (map[int64]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make(map[int64]string, len(patientIDs))
	for _, id := range patientIDs {
		if name, ok := s.patients[id]; ok {
			names[id] = name
		}
	}
	return names, nil
}

// ListPaymentsForInvoices returns payments grouped by invoice id.
func (s *Store) ListPaymentsForInvoices(ctx context.Context, invoiceIDs []int64) (map[int64][]billing.Payment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64][]billing.Payment, len(invoiceIDs))
	for _, id := range invoiceIDs {
		list := s.payments[id]
		if len(list) == 0 {
			continue
		}
		copied := make([]billing.Payment, len(list))
		copy(copied, list)
		result[id] = copied
	}
	return result, nil
}

func cloneInvoice(inv billing.Invoice) billing.Invoice {
	if inv.PatientPortion != nil {
		portion := *inv.PatientPortion
		inv.PatientPortion = &portion
	}
	return inv
}
