package application

import (
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	billing "clinic-billing/internal/billing/domain"
)

const (
	BucketPaid   = "paid"
	BucketUnpaid = "unpaid"

	invoiceDateLayout = "2006-01-02"
	paymentDateLayout = time.RFC3339
)

// ErrUnknownBucket is returned when a bucket name is neither paid nor unpaid.
var ErrUnknownBucket = errors.New("statement: bucket must be paid or unpaid")

// Money is a decimal amount serialized as a JSON number with two decimals.
type Money struct {
	decimal.Decimal
}

// NewMoney wraps a decimal.
func NewMoney(d decimal.Decimal) Money { return Money{Decimal: d} }

// MarshalJSON rounds to cents only at the output boundary.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(2)), nil
}

// String returns the amount rounded to cents.
func (m Money) String() string { return m.StringFixed(2) }

// MonthlyStatement is the paid/unpaid reconciliation for invoices issued in one month.
type MonthlyStatement struct {
	Month     string               `json:"month"`
	Summary   StatementSummary     `json:"summary"`
	Anomalies []OverpaymentAnomaly `json:"anomalies,omitempty"`
}

// StatementSummary holds both buckets.
type StatementSummary struct {
	Paid   StatementBucket `json:"paid"`
	Unpaid StatementBucket `json:"unpaid"`
}

// StatementBucket is one of the paid/unpaid groups.
type StatementBucket struct {
	Totals   BucketTotals       `json:"totals"`
	Patients []PatientStatement `json:"patients"`
}

// BucketTotals are the summed amounts of a bucket or a patient.
type BucketTotals struct {
	TotalInvoiced    Money `json:"total_invoiced"`
	PaymentsReceived Money `json:"payments_received"`
	Balance          Money `json:"balance"`
}

// PatientStatement is the per-patient rollup inside a bucket.
type PatientStatement struct {
	PatientID        int64         `json:"patient_id"`
	PatientName      string        `json:"patient_name"`
	TotalInvoiced    Money         `json:"total_invoiced"`
	PaymentsReceived Money         `json:"payments_received"`
	Balance          Money         `json:"balance"`
	Invoices         []InvoiceLine `json:"invoices"`
}

// InvoiceLine is the per-invoice breakdown row.
type InvoiceLine struct {
	InvoiceID      int64         `json:"invoice_id"`
	InvoiceDate    string        `json:"invoice_date"`
	TotalAmount    Money         `json:"total_amount"`
	PatientPortion Money         `json:"patient_portion"`
	TotalPaid      Money         `json:"total_paid"`
	BalanceDue     Money         `json:"balance_due"`
	Status         string        `json:"status"`
	Overpaid       *Money        `json:"overpaid,omitempty"`
	Payments       []PaymentLine `json:"payments"`
}

// PaymentLine is one payment counted toward an invoice, whatever month it was received in.
type PaymentLine struct {
	PaymentID   int64  `json:"payment_id"`
	Amount      Money  `json:"amount"`
	PaymentDate string `json:"payment_date"`
}

// OverpaymentAnomaly flags an invoice whose payments exceed its total.
type OverpaymentAnomaly struct {
	InvoiceID   int64  `json:"invoice_id"`
	PatientID   int64  `json:"patient_id"`
	InvoiceDate string `json:"invoice_date"`
	TotalAmount Money  `json:"total_amount"`
	TotalPaid   Money  `json:"total_paid"`
	Overpaid    Money  `json:"overpaid"`
}

// OutstandingReport lists patients with a remaining balance on any invoice issued up to AsOf.
type OutstandingReport struct {
	AsOf      string               `json:"as_of"`
	Totals    BucketTotals         `json:"totals"`
	Patients  []PatientStatement   `json:"patients"`
	Anomalies []OverpaymentAnomaly `json:"anomalies,omitempty"`
}

// Bucket selects a bucket by name.
func (s *MonthlyStatement) Bucket(name string) (StatementBucket, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case BucketPaid:
		return s.Summary.Paid, nil
	case BucketUnpaid:
		return s.Summary.Unpaid, nil
	default:
		return StatementBucket{}, ErrUnknownBucket
	}
}

type patientAccumulator struct {
	id       int64
	name     string
	balances []billing.InvoiceBalance
}

// buildBucket groups reconciled invoices by patient and sums totals.
func buildBucket(balances []billing.InvoiceBalance) StatementBucket {
	byPatient := make(map[int64]*patientAccumulator)
	for _, b := range balances {
		acc, ok := byPatient[b.Invoice.PatientID]
		if !ok {
			acc = &patientAccumulator{id: b.Invoice.PatientID}
			byPatient[b.Invoice.PatientID] = acc
		}
		acc.balances = append(acc.balances, b)
	}

	patients := make([]PatientStatement, 0, len(byPatient))
	totalInvoiced := decimal.Zero
	totalPaid := decimal.Zero
	totalBalance := decimal.Zero
	for _, acc := range byPatient {
		sortBalances(acc.balances)
		patient := buildPatient(acc)
		totalInvoiced = totalInvoiced.Add(patient.TotalInvoiced.Decimal)
		totalPaid = totalPaid.Add(patient.PaymentsReceived.Decimal)
		totalBalance = totalBalance.Add(patient.Balance.Decimal)
		patients = append(patients, patient)
	}
	sortPatients(patients)

	return StatementBucket{
		Totals: BucketTotals{
			TotalInvoiced:    NewMoney(totalInvoiced),
			PaymentsReceived: NewMoney(totalPaid),
			Balance:          NewMoney(totalBalance),
		},
		Patients: patients,
	}
}

func buildPatient(acc *patientAccumulator) PatientStatement {
	invoiced := decimal.Zero
	paid := decimal.Zero
	balance := decimal.Zero
	lines := make([]InvoiceLine, 0, len(acc.balances))
	name := ""
	for _, b := range acc.balances {
		if name == "" {
			name = b.Invoice.PatientName
		}
		invoiced = invoiced.Add(b.Invoice.TotalAmount)
		paid = paid.Add(b.TotalPaid)
		balance = balance.Add(b.BalanceDue)
		lines = append(lines, buildLine(b))
	}
	return PatientStatement{
		PatientID:        acc.id,
		PatientName:      name,
		TotalInvoiced:    NewMoney(invoiced),
		PaymentsReceived: NewMoney(paid),
		Balance:          NewMoney(balance),
		Invoices:         lines,
	}
}

func buildLine(b billing.InvoiceBalance) InvoiceLine {
	line := InvoiceLine{
		InvoiceID:      b.Invoice.ID,
		InvoiceDate:    b.Invoice.InvoiceDate.UTC().Format(invoiceDateLayout),
		TotalAmount:    NewMoney(b.Invoice.TotalAmount),
		PatientPortion: NewMoney(b.Invoice.Portion()),
		TotalPaid:      NewMoney(b.TotalPaid),
		BalanceDue:     NewMoney(b.BalanceDue),
		Status:         string(b.Status()),
		Payments:       make([]PaymentLine, 0, len(b.Payments)),
	}
	for _, p := range b.Payments {
		line.Payments = append(line.Payments, PaymentLine{
			PaymentID:   p.ID,
			Amount:      NewMoney(p.Amount),
			PaymentDate: p.PaymentDate.UTC().Format(paymentDateLayout),
		})
	}
	if b.IsOverpaid() {
		over := NewMoney(b.Overpaid)
		line.Overpaid = &over
	}
	return line
}

func buildAnomalies(balances []billing.InvoiceBalance) []OverpaymentAnomaly {
	var anomalies []OverpaymentAnomaly
	for _, b := range balances {
		if !b.IsOverpaid() {
			continue
		}
		anomalies = append(anomalies, OverpaymentAnomaly{
			InvoiceID:   b.Invoice.ID,
			PatientID:   b.Invoice.PatientID,
			InvoiceDate: b.Invoice.InvoiceDate.UTC().Format(invoiceDateLayout),
			TotalAmount: NewMoney(b.Invoice.TotalAmount),
			TotalPaid:   NewMoney(b.TotalPaid),
			Overpaid:    NewMoney(b.Overpaid),
		})
	}
	sort.SliceStable(anomalies, func(i, j int) bool {
		return anomalies[i].InvoiceID < anomalies[j].InvoiceID
	})
	return anomalies
}

func sortBalances(balances []billing.InvoiceBalance) {
	sort.SliceStable(balances, func(i, j int) bool {
		a, b := balances[i].Invoice, balances[j].Invoice
		if !a.InvoiceDate.Equal(b.InvoiceDate) {
			return a.InvoiceDate.Before(b.InvoiceDate)
		}
		return a.ID < b.ID
	})
}

func sortPatients(patients []PatientStatement) {
	sort.SliceStable(patients, func(i, j int) bool {
		a := strings.ToLower(patients[i].PatientName)
		b := strings.ToLower(patients[j].PatientName)
		if a != b {
			return a < b
		}
		return patients[i].PatientID < patients[j].PatientID
	})
}
