package interfaces

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"clinic-billing/internal/audit"
	"clinic-billing/internal/auth"
	statementapp "clinic-billing/internal/billing/application"
	billing "clinic-billing/internal/billing/domain"
	"clinic-billing/internal/observability/metrics"
)

const (
	pathMonthly     = "/statements/monthly"
	pathExportCSV   = "/statements/monthly/export.csv"
	pathExportXLSX  = "/statements/monthly/export.xlsx"
	pathExportPDF   = "/statements/monthly/export.pdf"
	pathOutstanding = "/reports/outstanding-balances"

	headerDigest = "X-Report-Digest"
	asOfLayout   = "2006-01-02"
)

// StatementHandler serves statement reports and exports.
type StatementHandler struct {
	service     *statementapp.StatementService
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewStatementHandler constructs a handler.
func NewStatementHandler(service *statementapp.StatementService, auditLogger audit.Logger, logger *zap.Logger) (*StatementHandler, error) {
	if service == nil {
		return nil, errors.New("statement handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatementHandler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the handler's routes.
func (h *StatementHandler) Register(mux *http.ServeMux) {
	mux.Handle(pathMonthly, h)
	mux.Handle(pathMonthly+"/", h)
	mux.Handle(pathOutstanding, h)
}

// ServeHTTP dispatches statement routes.
func (h *StatementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	switch strings.TrimSuffix(r.URL.Path, "/") {
	case pathMonthly:
		h.handleMonthly(w, r)
	case pathExportCSV:
		h.handleExportCSV(w, r)
	case pathExportXLSX:
		h.handleExportXLSX(w, r)
	case pathExportPDF:
		h.handleExportPDF(w, r)
	case pathOutstanding:
		h.handleOutstanding(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *StatementHandler) handleMonthly(w http.ResponseWriter, r *http.Request) {
	stmt, period, ok := h.loadMonthly(w, r)
	if !ok {
		return
	}
	if h.writeJSONReport(w, r, stmt) {
		h.logAudit(r, "statement.view", period.Label(), map[string]any{
			"paid_patients":   len(stmt.Summary.Paid.Patients),
			"unpaid_patients": len(stmt.Summary.Unpaid.Patients),
			"anomalies":       len(stmt.Anomalies),
		})
	}
}

func (h *StatementHandler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport("csv", result, time.Since(start))
	}()

	bucketName := r.URL.Query().Get("bucket")
	if bucketName == "" {
		bucketName = statementapp.BucketUnpaid
	}
	bucketName = strings.ToLower(strings.TrimSpace(bucketName))
	if bucketName != statementapp.BucketPaid && bucketName != statementapp.BucketUnpaid {
		result = metrics.ResultError
		writeError(w, http.StatusBadRequest, "invalid_bucket", statementapp.ErrUnknownBucket.Error())
		return
	}

	stmt, period, ok := h.loadMonthly(w, r)
	if !ok {
		result = metrics.ResultError
		return
	}
	bucket, err := stmt.Bucket(bucketName)
	if err != nil {
		result = metrics.ResultError
		writeError(w, http.StatusBadRequest, "invalid_bucket", err.Error())
		return
	}
	data := BuildBucketCSV(bucket)
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	setAttachment(w, exportFilename(period, bucketName, "csv"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "statement.export", period.Label(), map[string]any{
		"format":   "csv",
		"bucket":   bucketName,
		"patients": len(bucket.Patients),
	})
}

func (h *StatementHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport("xlsx", result, time.Since(start))
	}()

	stmt, period, ok := h.loadMonthly(w, r)
	if !ok {
		result = metrics.ResultError
		return
	}
	data, err := BuildStatementXLSX(stmt)
	if err != nil {
		result = metrics.ResultError
		h.logger.Error("statement xlsx export failed", zap.String("period", period.Label()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export_failed", "export xlsx error")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	setAttachment(w, exportFilename(period, "", "xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "statement.export", period.Label(), map[string]any{"format": "xlsx"})
}

func (h *StatementHandler) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport("pdf", result, time.Since(start))
	}()

	stmt, period, ok := h.loadMonthly(w, r)
	if !ok {
		result = metrics.ResultError
		return
	}
	data, err := BuildStatementPDF(stmt)
	if err != nil {
		result = metrics.ResultError
		h.logger.Error("statement pdf export failed", zap.String("period", period.Label()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export_failed", "export pdf error")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	setAttachment(w, exportFilename(period, "", "pdf"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "statement.export", period.Label(), map[string]any{"format": "pdf"})
}

func (h *StatementHandler) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	var asOf time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("as_of")); raw != "" {
		parsed, err := time.Parse(asOfLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_as_of", "as_of must be YYYY-MM-DD")
			return
		}
		if parsed.Year() < billing.MinStatementYear || parsed.Year() > billing.MaxStatementYear {
			writeError(w, http.StatusBadRequest, "invalid_as_of",
				fmt.Sprintf("as_of year must be %d-%d", billing.MinStatementYear, billing.MaxStatementYear))
			return
		}
		asOf = parsed
	}
	report, err := h.service.Outstanding(r.Context(), asOf)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	if h.writeJSONReport(w, r, report) {
		h.logAudit(r, "report.outstanding", report.AsOf, map[string]any{
			"patients": len(report.Patients),
		})
	}
}

// loadMonthly parses year/month and computes the statement, writing the error response on failure.
func (h *StatementHandler) loadMonthly(w http.ResponseWriter, r *http.Request) (*statementapp.MonthlyStatement, billing.StatementPeriod, bool) {
	q := r.URL.Query()
	period, err := billing.ParseStatementPeriod(strings.TrimSpace(q.Get("month")), strings.TrimSpace(q.Get("year")))
	if err != nil {
		h.respondServiceError(w, r, err)
		return nil, billing.StatementPeriod{}, false
	}
	stmt, err := h.service.Monthly(r.Context(), period.Month(), period.Year())
	if err != nil {
		h.respondServiceError(w, r, err)
		return nil, billing.StatementPeriod{}, false
	}
	return stmt, period, true
}

// writeJSONReport writes a report with a content digest usable for conditional requests.
// It reports whether a body was sent.
func (h *StatementHandler) writeJSONReport(w http.ResponseWriter, r *http.Request, report any) bool {
	body, err := json.Marshal(report)
	if err != nil {
		h.logger.Error("encode report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "encode_failed", "encode report error")
		return false
	}
	digest := ReportDigest(body)
	etag := `"` + digest + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set(headerDigest, digest)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
		_, _ = w.Write([]byte("\n"))
	}
	return true
}

// ReportDigest is the hex sha256 of a serialized report.
func ReportDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func (h *StatementHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	var upstream *billing.UpstreamUnavailableError
	switch {
	case errors.Is(err, billing.ErrInvalidPeriod):
		writeError(w, http.StatusBadRequest, "invalid_period", err.Error())
	case errors.As(err, &upstream):
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable",
			fmt.Sprintf("%s store unavailable", upstream.Store))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Info("statement request cancelled", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
	default:
		h.logger.Error("statement request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *StatementHandler) logAudit(r *http.Request, action, resourceID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	meta["query"] = r.URL.RawQuery
	payload, _ := json.Marshal(meta)
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        action,
		ResourceType:  "statement",
		ResourceID:    resourceID,
		Metadata:      payload,
		PayloadDigest: audit.DigestJSON(payload),
		IP:            audit.ClientIP(r),
		UserAgent:     r.UserAgent(),
	}); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

func setAttachment(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
}

func exportFilename(period billing.StatementPeriod, bucket, ext string) string {
	name := fmt.Sprintf("statement-%04d-%02d", period.Year(), period.Month())
	if bucket != "" {
		name += "-" + bucket
	}
	return name + "." + ext
}
