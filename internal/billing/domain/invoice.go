package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is a display hint. Statements recompute it from payments.
type InvoiceStatus string

const (
	InvoiceStatusPending InvoiceStatus = "pending"
	InvoiceStatusPartial InvoiceStatus = "partial"
	InvoiceStatusPaid    InvoiceStatus = "paid"
)

// PaidEpsilon is the tolerance under which a remaining balance counts as settled (half a cent).
var PaidEpsilon = decimal.RequireFromString("0.005")

// Invoice is an issued invoice as returned by the invoice store.
type Invoice struct {
	ID             int64
	PatientID      int64
	PatientName    string
	InvoiceDate    time.Time
	TotalAmount    decimal.Decimal
	PatientPortion *decimal.Decimal
	Status         InvoiceStatus
}

// Portion returns the patient-responsibility amount, defaulting to the invoice total.
func (i Invoice) Portion() decimal.Decimal {
	if i.PatientPortion != nil {
		return *i.PatientPortion
	}
	return i.TotalAmount
}

// Payment is a recorded payment against an invoice.
type Payment struct {
	ID          int64
	InvoiceID   int64
	Amount      decimal.Decimal
	PaymentDate time.Time
}

// InvoiceBalance is the reconciled state of one invoice.
type InvoiceBalance struct {
	Invoice    Invoice
	TotalPaid  decimal.Decimal
	BalanceDue decimal.Decimal
	Overpaid   decimal.Decimal
	// Payments are the payments counted in TotalPaid, ordered by date then id.
	Payments []Payment
}

// Reconcile sums every payment for the invoice, regardless of payment date,
// and clamps the remaining balance at zero. Payments for other invoices are ignored.
func Reconcile(inv Invoice, payments []Payment) InvoiceBalance {
	paid := decimal.Zero
	var matched []Payment
	for _, p := range payments {
		if p.InvoiceID != inv.ID {
			continue
		}
		paid = paid.Add(p.Amount)
		matched = append(matched, p)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].PaymentDate.Equal(matched[j].PaymentDate) {
			return matched[i].PaymentDate.Before(matched[j].PaymentDate)
		}
		return matched[i].ID < matched[j].ID
	})
	raw := inv.TotalAmount.Sub(paid)
	result := InvoiceBalance{
		Invoice:    inv,
		TotalPaid:  paid,
		BalanceDue: raw,
		Overpaid:   decimal.Zero,
		Payments:   matched,
	}
	if raw.IsNegative() {
		result.BalanceDue = decimal.Zero
		if raw.Abs().GreaterThanOrEqual(PaidEpsilon) {
			result.Overpaid = raw.Abs()
		}
	}
	return result
}

// IsPaid reports whether the remaining balance is within PaidEpsilon of zero.
func (b InvoiceBalance) IsPaid() bool {
	return b.BalanceDue.Abs().LessThan(PaidEpsilon)
}

// IsOverpaid reports whether payments exceed the invoice total.
func (b InvoiceBalance) IsOverpaid() bool {
	return b.Overpaid.IsPositive()
}

// Status derives pending/partial/paid from the reconciled amounts.
func (b InvoiceBalance) Status() InvoiceStatus {
	switch {
	case b.IsPaid():
		return InvoiceStatusPaid
	case b.TotalPaid.IsPositive():
		return InvoiceStatusPartial
	default:
		return InvoiceStatusPending
	}
}
