package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	billing "clinic-billing/internal/billing/domain"
	"clinic-billing/internal/observability/metrics"
)

const (
	defaultPaymentBatchSize = 500

	reportKindMonthly     = "monthly"
	reportKindOutstanding = "outstanding"
)

// StatementService reconciles invoices against payments into statement reports.
// It only reads from its stores and keeps no state between calls.
type StatementService struct {
	invoices  billing.InvoiceStore
	payments  billing.PaymentStore
	logger    *zap.Logger
	batchSize int
	now       func() time.Time
}

// Option configures a StatementService.
type Option func(*StatementService)

// WithLogger sets the logger used for anomalies and upstream failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *StatementService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPaymentBatchSize caps how many invoice ids go into one payment store call.
func WithPaymentBatchSize(size int) Option {
	return func(s *StatementService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithClock overrides the clock used for the default outstanding cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *StatementService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStatementService constructs a service.
func NewStatementService(invoices billing.InvoiceStore, payments billing.PaymentStore, opts ...Option) (*StatementService, error) {
	if invoices == nil || payments == nil {
		return nil, billing.ErrNilStore
	}
	s := &StatementService{
		invoices:  invoices,
		payments:  payments,
		logger:    zap.NewNop(),
		batchSize: defaultPaymentBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Monthly builds the paid/unpaid statement for invoices issued in (month, year).
// Payments count toward an invoice regardless of when they were received.
func (s *StatementService) Monthly(ctx context.Context, month, year int) (*MonthlyStatement, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementCompute(reportKindMonthly, result, time.Since(start))
	}()

	period, err := billing.NewStatementPeriod(month, year)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}

	balances, err := s.reconcile(ctx, period.Start(), period.End(), period.Label())
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	metrics.ObserveStatementInvoices(reportKindMonthly, len(balances))

	var paid, unpaid []billing.InvoiceBalance
	for _, b := range balances {
		if b.IsPaid() {
			paid = append(paid, b)
		} else {
			unpaid = append(unpaid, b)
		}
	}

	return &MonthlyStatement{
		Month: period.Label(),
		Summary: StatementSummary{
			Paid:   buildBucket(paid),
			Unpaid: buildBucket(unpaid),
		},
		Anomalies: buildAnomalies(balances),
	}, nil
}

// Outstanding lists every invoice issued on or before asOf (a calendar date) that still
// has a balance due. A zero asOf means today.
func (s *StatementService) Outstanding(ctx context.Context, asOf time.Time) (*OutstandingReport, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementCompute(reportKindOutstanding, result, time.Since(start))
	}()

	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()
	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	from := time.Date(billing.MinStatementYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	label := day.Format(invoiceDateLayout)

	balances, err := s.reconcile(ctx, from, day.AddDate(0, 0, 1), "until "+label)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	metrics.ObserveStatementInvoices(reportKindOutstanding, len(balances))

	var open []billing.InvoiceBalance
	for _, b := range balances {
		if !b.IsPaid() {
			open = append(open, b)
		}
	}
	bucket := buildBucket(open)
	return &OutstandingReport{
		AsOf:      label,
		Totals:    bucket.Totals,
		Patients:  bucket.Patients,
		Anomalies: buildAnomalies(balances),
	}, nil
}

// reconcile loads invoices issued in [from, to) with all their payments and computes balances.
func (s *StatementService) reconcile(ctx context.Context, from, to time.Time, label string) ([]billing.InvoiceBalance, error) {
	invoices, err := s.invoices.ListInvoicesInRange(ctx, from, to)
	if err != nil {
		return nil, s.upstreamError(billing.StoreInvoices, label, err)
	}
	invoices = selectInvoices(invoices, from, to)
	if len(invoices) == 0 {
		return nil, nil
	}

	payments, names, err := s.loadRelated(ctx, invoices, label)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	balances := make([]billing.InvoiceBalance, 0, len(invoices))
	overpaid := 0
	for _, inv := range invoices {
		if inv.PatientName == "" {
			inv.PatientName = names[inv.PatientID]
		}
		b := billing.Reconcile(inv, payments[inv.ID])
		if b.IsOverpaid() {
			overpaid++
			s.logger.Warn("overpayment anomaly",
				zap.String("period", label),
				zap.Int64("invoice_id", inv.ID),
				zap.Int64("patient_id", inv.PatientID),
				zap.String("total_amount", inv.TotalAmount.StringFixed(2)),
				zap.String("total_paid", b.TotalPaid.StringFixed(2)),
				zap.String("overpaid", b.Overpaid.StringFixed(2)),
			)
		}
		balances = append(balances, b)
	}
	metrics.AddOverpayments(overpaid)
	return balances, nil
}

// loadRelated fetches payment batches and missing patient names concurrently.
func (s *StatementService) loadRelated(ctx context.Context, invoices []billing.Invoice, label string) (map[int64][]billing.Payment, map[int64]string, error) {
	ids := make([]int64, 0, len(invoices))
	var unnamed []int64
	seenPatient := make(map[int64]struct{})
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
		if inv.PatientName != "" {
			continue
		}
		if _, ok := seenPatient[inv.PatientID]; ok {
			continue
		}
		seenPatient[inv.PatientID] = struct{}{}
		unnamed = append(unnamed, inv.PatientID)
	}

	batches := chunkIDs(ids, s.batchSize)
	results := make([]map[int64][]billing.Payment, len(batches))
	var names map[int64]string

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			found, err := s.payments.ListPaymentsForInvoices(gctx, batch)
			if err != nil {
				return s.upstreamError(billing.StorePayments, label, err)
			}
			results[i] = found
			return nil
		})
	}
	if len(unnamed) > 0 {
		g.Go(func() error {
			found, err := s.invoices.PatientNames(gctx, unnamed)
			if err != nil {
				return s.upstreamError(billing.StorePatients, label, err)
			}
			names = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	payments := make(map[int64][]billing.Payment, len(ids))
	for _, found := range results {
		for invoiceID, list := range found {
			payments[invoiceID] = append(payments[invoiceID], list...)
		}
	}
	return payments, names, nil
}

func (s *StatementService) upstreamError(store, label string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	metrics.IncUpstreamError(store)
	s.logger.Error("statement store fetch failed",
		zap.String("store", store),
		zap.String("period", label),
		zap.Error(err),
	)
	return &billing.UpstreamUnavailableError{Store: store, Period: label, Err: err}
}

// selectInvoices keeps invoices inside [from, to) and drops duplicate ids.
func selectInvoices(invoices []billing.Invoice, from, to time.Time) []billing.Invoice {
	seen := make(map[int64]struct{}, len(invoices))
	selected := make([]billing.Invoice, 0, len(invoices))
	for _, inv := range invoices {
		date := inv.InvoiceDate.UTC()
		if date.Before(from) || !date.Before(to) {
			continue
		}
		if _, ok := seen[inv.ID]; ok {
			continue
		}
		seen[inv.ID] = struct{}{}
		selected = append(selected, inv)
	}
	return selected
}

func chunkIDs(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = defaultPaymentBatchSize
	}
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
