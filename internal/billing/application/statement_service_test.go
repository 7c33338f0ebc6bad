package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	billing "clinic-billing/internal/billing/domain"
	"clinic-billing/internal/billing/infrastructure/memory"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// octoberStore holds two patients: A fully paid across October and November, B partly paid.
func octoberStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	store.PutPatient(1, "Alice Adams")
	store.PutPatient(2, "Bob Brown")
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 101, PatientID: 1, InvoiceDate: day(2023, 10, 5), TotalAmount: amount("100.00")}))
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 102, PatientID: 2, InvoiceDate: day(2023, 10, 20), TotalAmount: amount("200.00")}))
	require.NoError(t, store.AddPayment(billing.Payment{ID: 1, InvoiceID: 101, Amount: amount("60.00"), PaymentDate: day(2023, 10, 10)}))
	require.NoError(t, store.AddPayment(billing.Payment{ID: 2, InvoiceID: 101, Amount: amount("40.00"), PaymentDate: day(2023, 11, 2)}))
	require.NoError(t, store.AddPayment(billing.Payment{ID: 3, InvoiceID: 102, Amount: amount("50.00"), PaymentDate: day(2023, 10, 25)}))
	return store
}

func newService(t *testing.T, invoices billing.InvoiceStore, payments billing.PaymentStore, opts ...Option) *StatementService {
	t.Helper()
	svc, err := NewStatementService(invoices, payments, opts...)
	require.NoError(t, err)
	return svc
}

func assertMoney(t *testing.T, want string, got Money) {
	t.Helper()
	assert.Equal(t, want, got.String())
}

func TestMonthlyOctoberScenario(t *testing.T) {
	store := octoberStore(t)
	svc := newService(t, store, store)

	stmt, err := svc.Monthly(context.Background(), 10, 2023)
	require.NoError(t, err)
	assert.Equal(t, "10/2023", stmt.Month)

	require.Len(t, stmt.Summary.Paid.Patients, 1)
	a := stmt.Summary.Paid.Patients[0]
	assert.Equal(t, int64(1), a.PatientID)
	assert.Equal(t, "Alice Adams", a.PatientName)
	assertMoney(t, "100.00", a.TotalInvoiced)
	assertMoney(t, "100.00", a.PaymentsReceived)
	assertMoney(t, "0.00", a.Balance)
	require.Len(t, a.Invoices, 1)
	assert.Equal(t, "paid", a.Invoices[0].Status)
	assert.Equal(t, "2023-10-05", a.Invoices[0].InvoiceDate)
	require.Len(t, a.Invoices[0].Payments, 2)
	assert.Equal(t, int64(1), a.Invoices[0].Payments[0].PaymentID)
	late := a.Invoices[0].Payments[1]
	assert.Equal(t, int64(2), late.PaymentID)
	assert.Equal(t, "2023-11-02T00:00:00Z", late.PaymentDate)
	assertMoney(t, "40.00", late.Amount)

	require.Len(t, stmt.Summary.Unpaid.Patients, 1)
	b := stmt.Summary.Unpaid.Patients[0]
	assert.Equal(t, int64(2), b.PatientID)
	assertMoney(t, "200.00", b.TotalInvoiced)
	assertMoney(t, "50.00", b.PaymentsReceived)
	assertMoney(t, "150.00", b.Balance)
	assert.Equal(t, "partial", b.Invoices[0].Status)

	assertMoney(t, "100.00", stmt.Summary.Paid.Totals.TotalInvoiced)
	assertMoney(t, "150.00", stmt.Summary.Unpaid.Totals.Balance)
	assert.Empty(t, stmt.Anomalies)
}

func TestMonthlyBoundaryExclusion(t *testing.T) {
	store := octoberStore(t)
	store.PutPatient(3, "Cara Cole")
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 103, PatientID: 3, InvoiceDate: day(2023, 11, 1), TotalAmount: amount("75.00")}))
	svc := newService(t, store, store)

	oct, err := svc.Monthly(context.Background(), 10, 2023)
	require.NoError(t, err)
	assert.NotContains(t, invoiceIDs(oct), int64(103))

	nov, err := svc.Monthly(context.Background(), 11, 2023)
	require.NoError(t, err)
	assert.Equal(t, []int64{103}, invoiceIDs(nov))
	assert.Empty(t, nov.Summary.Paid.Patients)
	assert.NotNil(t, nov.Summary.Paid.Patients)
}

func TestMonthlyZeroAmountInvoiceIsPaid(t *testing.T) {
	store := memory.NewStore()
	store.PutPatient(5, "Zed Zero")
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 1, PatientID: 5, InvoiceDate: day(2024, 1, 15), TotalAmount: decimal.Zero}))
	svc := newService(t, store, store)

	stmt, err := svc.Monthly(context.Background(), 1, 2024)
	require.NoError(t, err)
	require.Len(t, stmt.Summary.Paid.Patients, 1)
	assert.Empty(t, stmt.Summary.Unpaid.Patients)
	assertMoney(t, "0.00", stmt.Summary.Paid.Patients[0].Balance)
}

func TestMonthlyEmptyPeriod(t *testing.T) {
	store := memory.NewStore()
	svc := newService(t, store, store)

	stmt, err := svc.Monthly(context.Background(), 2, 2020)
	require.NoError(t, err)
	data, err := json.Marshal(stmt)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"month": "02/2020",
		"summary": {
			"paid": {"totals": {"total_invoiced": 0.00, "payments_received": 0.00, "balance": 0.00}, "patients": []},
			"unpaid": {"totals": {"total_invoiced": 0.00, "payments_received": 0.00, "balance": 0.00}, "patients": []}
		}
	}`, string(data))
}

func TestMonthlyInvalidPeriod(t *testing.T) {
	store := memory.NewStore()
	svc := newService(t, store, store)
	for _, p := range [][2]int{{0, 2023}, {13, 2023}, {6, 1800}, {6, 2200}} {
		_, err := svc.Monthly(context.Background(), p[0], p[1])
		assert.ErrorIs(t, err, billing.ErrInvalidPeriod)
	}
}

func TestMonthlyPartitionAndTotals(t *testing.T) {
	store := memory.NewStore()
	names := []string{"delta", "Alpha", "charlie", "bravo"}
	for i, name := range names {
		store.PutPatient(int64(i+1), name)
	}
	var id int64
	for p := int64(1); p <= 4; p++ {
		for d := 1; d <= 6; d++ {
			id++
			total := decimal.NewFromInt(id * 7).Add(amount("0.35"))
			require.NoError(t, store.PutInvoice(billing.Invoice{ID: id, PatientID: p, InvoiceDate: day(2023, 3, d*4), TotalAmount: total}))
			switch id % 3 {
			case 0:
				require.NoError(t, store.AddPayment(billing.Payment{ID: id, InvoiceID: id, Amount: total, PaymentDate: day(2023, 4, 2)}))
			case 1:
				require.NoError(t, store.AddPayment(billing.Payment{ID: id, InvoiceID: id, Amount: amount("1.10"), PaymentDate: day(2023, 3, 28)}))
			}
		}
	}
	svc := newService(t, store, store, WithPaymentBatchSize(5))

	stmt, err := svc.Monthly(context.Background(), 3, 2023)
	require.NoError(t, err)

	ids := invoiceIDs(stmt)
	assert.Len(t, ids, int(id))
	seen := make(map[int64]bool)
	for _, invoiceID := range ids {
		assert.False(t, seen[invoiceID], "invoice %d appears twice", invoiceID)
		seen[invoiceID] = true
	}

	for _, bucket := range []StatementBucket{stmt.Summary.Paid, stmt.Summary.Unpaid} {
		invoiced, paid, balance := decimal.Zero, decimal.Zero, decimal.Zero
		for _, p := range bucket.Patients {
			assert.True(t, p.Balance.Equal(p.TotalInvoiced.Sub(p.PaymentsReceived.Decimal)), "patient %d balance", p.PatientID)
			invoiced = invoiced.Add(p.TotalInvoiced.Decimal)
			paid = paid.Add(p.PaymentsReceived.Decimal)
			balance = balance.Add(p.Balance.Decimal)
			for i := 1; i < len(p.Invoices); i++ {
				assert.LessOrEqual(t, p.Invoices[i-1].InvoiceDate, p.Invoices[i].InvoiceDate)
			}
		}
		assert.True(t, bucket.Totals.TotalInvoiced.Equal(invoiced))
		assert.True(t, bucket.Totals.PaymentsReceived.Equal(paid))
		assert.True(t, bucket.Totals.Balance.Equal(balance))
	}

	var unpaidNames []string
	for _, p := range stmt.Summary.Unpaid.Patients {
		unpaidNames = append(unpaidNames, p.PatientName)
	}
	assert.Equal(t, []string{"Alpha", "bravo", "charlie", "delta"}, unpaidNames)
}

func TestMonthlyDeterministicJSON(t *testing.T) {
	store := octoberStore(t)
	store.PutPatient(3, "alice adams")
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 104, PatientID: 3, InvoiceDate: day(2023, 10, 5), TotalAmount: amount("12.34")}))
	svc := newService(t, store, store, WithPaymentBatchSize(1))

	first, err := svc.Monthly(context.Background(), 10, 2023)
	require.NoError(t, err)
	want, err := json.Marshal(first)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := svc.Monthly(context.Background(), 10, 2023)
		require.NoError(t, err)
		got, err := json.Marshal(again)
		require.NoError(t, err)
		assert.Equal(t, string(want), string(got))
	}
}

func TestMonthlyConcurrentPeriodsShareStore(t *testing.T) {
	store := octoberStore(t)
	store.PutPatient(3, "Cara Cole")
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 103, PatientID: 3, InvoiceDate: day(2023, 11, 1), TotalAmount: amount("75.00")}))
	require.NoError(t, store.AddPayment(billing.Payment{ID: 4, InvoiceID: 103, Amount: amount("75.00"), PaymentDate: day(2023, 11, 3)}))
	svc := newService(t, store, store, WithPaymentBatchSize(1))

	render := func(month int) (string, error) {
		stmt, err := svc.Monthly(context.Background(), month, 2023)
		if err != nil {
			return "", err
		}
		data, err := json.Marshal(stmt)
		return string(data), err
	}
	want := make(map[int]string)
	for _, month := range []int{10, 11} {
		data, err := render(month)
		require.NoError(t, err)
		want[month] = data
	}

	const rounds = 50
	type result struct {
		month int
		data  string
		err   error
	}
	results := make(chan result, rounds*2)
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		for _, month := range []int{10, 11} {
			wg.Add(1)
			go func(month int) {
				defer wg.Done()
				data, err := render(month)
				results <- result{month: month, data: data, err: err}
			}(month)
		}
	}
	wg.Wait()
	close(results)

	for r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, want[r.month], r.data, "month %d", r.month)
	}
}

func TestMonthlyNoCentDrift(t *testing.T) {
	store := memory.NewStore()
	store.PutPatient(1, "Penny")
	for i := int64(1); i <= 1000; i++ {
		require.NoError(t, store.PutInvoice(billing.Invoice{ID: i, PatientID: 1, InvoiceDate: day(2022, 6, int(i%28)+1), TotalAmount: amount("0.10")}))
		for j := int64(0); j < 3; j++ {
			require.NoError(t, store.AddPayment(billing.Payment{ID: i*10 + j, InvoiceID: i, Amount: amount("0.01"), PaymentDate: day(2022, 7, 1)}))
		}
	}
	svc := newService(t, store, store)

	stmt, err := svc.Monthly(context.Background(), 6, 2022)
	require.NoError(t, err)
	require.Len(t, stmt.Summary.Unpaid.Patients, 1)
	p := stmt.Summary.Unpaid.Patients[0]
	assertMoney(t, "100.00", p.TotalInvoiced)
	assertMoney(t, "30.00", p.PaymentsReceived)
	assertMoney(t, "70.00", p.Balance)
}

func TestMonthlyOverpaymentIsFlagged(t *testing.T) {
	store := memory.NewStore()
	store.PutPatient(9, "Olive Over")
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 900, PatientID: 9, InvoiceDate: day(2023, 5, 3), TotalAmount: amount("80.00")}))
	require.NoError(t, store.AddPayment(billing.Payment{ID: 1, InvoiceID: 900, Amount: amount("100.00"), PaymentDate: day(2023, 5, 4)}))

	core, logs := observer.New(zap.WarnLevel)
	svc := newService(t, store, store, WithLogger(zap.New(core)))

	stmt, err := svc.Monthly(context.Background(), 5, 2023)
	require.NoError(t, err)
	require.Len(t, stmt.Summary.Paid.Patients, 1)
	line := stmt.Summary.Paid.Patients[0].Invoices[0]
	assertMoney(t, "0.00", line.BalanceDue)
	require.NotNil(t, line.Overpaid)
	assertMoney(t, "20.00", *line.Overpaid)

	require.Len(t, stmt.Anomalies, 1)
	assert.Equal(t, int64(900), stmt.Anomalies[0].InvoiceID)
	assertMoney(t, "20.00", stmt.Anomalies[0].Overpaid)

	entries := logs.FilterMessage("overpayment anomaly").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(900), entries[0].ContextMap()["invoice_id"])
}

func TestMonthlyResolvesMissingNames(t *testing.T) {
	store := memory.NewStore()
	store.PutPatient(4, "Named Later")
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 1, PatientID: 4, InvoiceDate: day(2023, 8, 1), TotalAmount: amount("10")}))
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 2, PatientID: 5, PatientName: "Inline Name", InvoiceDate: day(2023, 8, 2), TotalAmount: amount("10")}))
	svc := newService(t, store, store)

	stmt, err := svc.Monthly(context.Background(), 8, 2023)
	require.NoError(t, err)
	require.Len(t, stmt.Summary.Unpaid.Patients, 2)
	assert.Equal(t, "Inline Name", stmt.Summary.Unpaid.Patients[0].PatientName)
	assert.Equal(t, "Named Later", stmt.Summary.Unpaid.Patients[1].PatientName)
}

type failingPayments struct {
	err error
}

func (f failingPayments) ListPaymentsForInvoices(context.Context, []int64) (map[int64][]billing.Payment, error) {
	return nil, f.err
}

type failingInvoices struct {
	*memory.Store
	listErr  error
	namesErr error
}

func (f failingInvoices) ListInvoicesInRange(ctx context.Context, start, end time.Time) ([]billing.Invoice, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.Store.ListInvoicesInRange(ctx, start, end)
}

func (f failingInvoices) PatientNames(ctx context.Context, ids []int64) (map[int64]string, error) {
	if f.namesErr != nil {
		return nil, f.namesErr
	}
	return f.Store.PatientNames(ctx, ids)
}

func TestMonthlyUpstreamFailures(t *testing.T) {
	store := octoberStore(t)
	cause := errors.New("connection reset")

	cases := []struct {
		name      string
		invoices  billing.InvoiceStore
		payments  billing.PaymentStore
		wantStore string
	}{
		{"invoice store", failingInvoices{Store: store, listErr: cause}, store, billing.StoreInvoices},
		{"payment store", store, failingPayments{err: cause}, billing.StorePayments},
		{"patient names", failingInvoices{Store: store, namesErr: cause}, store, billing.StorePatients},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(t, tc.invoices, tc.payments)
			stmt, err := svc.Monthly(context.Background(), 10, 2023)
			assert.Nil(t, stmt)
			require.ErrorIs(t, err, billing.ErrUpstreamUnavailable)
			require.ErrorIs(t, err, cause)
			var upstream *billing.UpstreamUnavailableError
			require.ErrorAs(t, err, &upstream)
			assert.Equal(t, tc.wantStore, upstream.Store)
			assert.Equal(t, "10/2023", upstream.Period)
		})
	}
}

func TestMonthlyCancelledContext(t *testing.T) {
	store := octoberStore(t)
	svc := newService(t, store, store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stmt, err := svc.Monthly(ctx, 10, 2023)
	assert.Nil(t, stmt)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, billing.ErrUpstreamUnavailable)
}

type recordingPayments struct {
	billing.PaymentStore
	mu      sync.Mutex
	batches [][]int64
}

func (r *recordingPayments) ListPaymentsForInvoices(ctx context.Context, ids []int64) (map[int64][]billing.Payment, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]int64(nil), ids...))
	r.mu.Unlock()
	return r.PaymentStore.ListPaymentsForInvoices(ctx, ids)
}

func TestMonthlyBatchesPaymentLookups(t *testing.T) {
	store := octoberStore(t)
	recorder := &recordingPayments{PaymentStore: store}
	svc := newService(t, store, recorder, WithPaymentBatchSize(1))

	stmt, err := svc.Monthly(context.Background(), 10, 2023)
	require.NoError(t, err)
	assert.Len(t, recorder.batches, 2)
	for _, batch := range recorder.batches {
		assert.Len(t, batch, 1)
	}
	assertMoney(t, "150.00", stmt.Summary.Unpaid.Totals.Balance)
}

func TestNewStatementServiceRequiresStores(t *testing.T) {
	_, err := NewStatementService(nil, memory.NewStore())
	assert.ErrorIs(t, err, billing.ErrNilStore)
	_, err = NewStatementService(memory.NewStore(), nil)
	assert.ErrorIs(t, err, billing.ErrNilStore)
}

func TestOutstandingReport(t *testing.T) {
	store := octoberStore(t)
	store.PutPatient(3, "Cara Cole")
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 201, PatientID: 2, InvoiceDate: day(2023, 12, 1), TotalAmount: amount("40.00")}))
	require.NoError(t, store.PutInvoice(billing.Invoice{ID: 202, PatientID: 3, InvoiceDate: day(2024, 1, 10), TotalAmount: amount("15.00")}))
	svc := newService(t, store, store, WithClock(func() time.Time { return day(2024, 6, 1) }))

	report, err := svc.Outstanding(context.Background(), day(2023, 12, 1))
	require.NoError(t, err)
	assert.Equal(t, "2023-12-01", report.AsOf)
	require.Len(t, report.Patients, 1)
	assert.Equal(t, int64(2), report.Patients[0].PatientID)
	require.Len(t, report.Patients[0].Invoices, 2)
	assertMoney(t, "190.00", report.Totals.Balance)

	current, err := svc.Outstanding(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", current.AsOf)
	require.Len(t, current.Patients, 2)
	assert.Equal(t, "Bob Brown", current.Patients[0].PatientName)
	assert.Equal(t, "Cara Cole", current.Patients[1].PatientName)
	assertMoney(t, "205.00", current.Totals.Balance)
}

func TestChunkIDs(t *testing.T) {
	assert.Nil(t, chunkIDs(nil, 3))
	assert.Equal(t, [][]int64{{1, 2}, {3, 4}, {5}}, chunkIDs([]int64{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int64{{1, 2}}, chunkIDs([]int64{1, 2}, 0))
}

func invoiceIDs(stmt *MonthlyStatement) []int64 {
	var ids []int64
	for _, bucket := range []StatementBucket{stmt.Summary.Paid, stmt.Summary.Unpaid} {
		for _, p := range bucket.Patients {
			for _, line := range p.Invoices {
				ids = append(ids, line.InvoiceID)
			}
		}
	}
	return ids
}
