package interfaces

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	statementapp "clinic-billing/internal/billing/application"
)

// CSVHeader is the fixed column contract consumed by spreadsheet tooling.
const CSVHeader = "patient_id,patient_name,total_invoiced,payments_received,balance"

// BuildBucketCSV renders one row per patient of a bucket. patient_name is always
// quoted with embedded quotes doubled; amounts carry two decimals.
func BuildBucketCSV(bucket statementapp.StatementBucket) []byte {
	var buf bytes.Buffer
	buf.WriteString(CSVHeader)
	buf.WriteByte('\n')
	for _, p := range bucket.Patients {
		buf.WriteString(strconv.FormatInt(p.PatientID, 10))
		buf.WriteByte(',')
		buf.WriteString(quoteCSV(p.PatientName))
		buf.WriteByte(',')
		buf.WriteString(p.TotalInvoiced.String())
		buf.WriteByte(',')
		buf.WriteString(p.PaymentsReceived.String())
		buf.WriteByte(',')
		buf.WriteString(p.Balance.String())
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func quoteCSV(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

// BuildStatementXLSX renders a workbook with a summary sheet, one sheet per bucket
// plus invoice and payment breakdown sheets.
func BuildStatementXLSX(stmt *statementapp.MonthlyStatement) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	summarySheet := "summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	_ = f.SetCellValue(summarySheet, "A1", "Monthly Statement")
	_ = f.SetCellValue(summarySheet, "A2", "Month")
	_ = f.SetCellValue(summarySheet, "B2", stmt.Month)
	_ = f.SetSheetRow(summarySheet, "A4", &[]any{"Bucket", "Patients", "Total Invoiced", "Payments Received", "Balance"})
	_ = f.SetCellStyle(summarySheet, "A4", "E4", headerStyle)
	buckets := []struct {
		name   string
		bucket statementapp.StatementBucket
	}{
		{statementapp.BucketPaid, stmt.Summary.Paid},
		{statementapp.BucketUnpaid, stmt.Summary.Unpaid},
	}
	for i, b := range buckets {
		row := 5 + i
		_ = f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", row), &[]any{
			b.name,
			len(b.bucket.Patients),
			cents(b.bucket.Totals.TotalInvoiced.Decimal),
			cents(b.bucket.Totals.PaymentsReceived.Decimal),
			cents(b.bucket.Totals.Balance.Decimal),
		})
		_ = f.SetCellStyle(summarySheet, fmt.Sprintf("C%d", row), fmt.Sprintf("E%d", row), moneyStyle)
	}

	for _, b := range buckets {
		if _, err := f.NewSheet(b.name); err != nil {
			return nil, err
		}
		_ = f.SetSheetRow(b.name, "A1", &[]any{"patient_id", "patient_name", "total_invoiced", "payments_received", "balance"})
		_ = f.SetCellStyle(b.name, "A1", "E1", headerStyle)
		for i, p := range b.bucket.Patients {
			row := i + 2
			_ = f.SetSheetRow(b.name, fmt.Sprintf("A%d", row), &[]any{
				p.PatientID,
				p.PatientName,
				cents(p.TotalInvoiced.Decimal),
				cents(p.PaymentsReceived.Decimal),
				cents(p.Balance.Decimal),
			})
			_ = f.SetCellStyle(b.name, fmt.Sprintf("C%d", row), fmt.Sprintf("E%d", row), moneyStyle)
		}
	}

	invoicesSheet := "invoices"
	if _, err := f.NewSheet(invoicesSheet); err != nil {
		return nil, err
	}
	_ = f.SetSheetRow(invoicesSheet, "A1", &[]any{
		"bucket", "patient_id", "patient_name", "invoice_id", "invoice_date",
		"total_amount", "patient_portion", "total_paid", "balance_due", "status",
	})
	_ = f.SetCellStyle(invoicesSheet, "A1", "J1", headerStyle)
	row := 2
	for _, b := range buckets {
		for _, p := range b.bucket.Patients {
			for _, inv := range p.Invoices {
				_ = f.SetSheetRow(invoicesSheet, fmt.Sprintf("A%d", row), &[]any{
					b.name,
					p.PatientID,
					p.PatientName,
					inv.InvoiceID,
					inv.InvoiceDate,
					cents(inv.TotalAmount.Decimal),
					cents(inv.PatientPortion.Decimal),
					cents(inv.TotalPaid.Decimal),
					cents(inv.BalanceDue.Decimal),
					inv.Status,
				})
				_ = f.SetCellStyle(invoicesSheet, fmt.Sprintf("F%d", row), fmt.Sprintf("I%d", row), moneyStyle)
				row++
			}
		}
	}

	paymentsSheet := "payments"
	if _, err := f.NewSheet(paymentsSheet); err != nil {
		return nil, err
	}
	_ = f.SetSheetRow(paymentsSheet, "A1", &[]any{
		"bucket", "patient_id", "invoice_id", "invoice_date", "payment_id", "payment_date", "amount",
	})
	_ = f.SetCellStyle(paymentsSheet, "A1", "G1", headerStyle)
	row = 2
	for _, b := range buckets {
		for _, p := range b.bucket.Patients {
			for _, inv := range p.Invoices {
				for _, pay := range inv.Payments {
					_ = f.SetSheetRow(paymentsSheet, fmt.Sprintf("A%d", row), &[]any{
						b.name,
						p.PatientID,
						inv.InvoiceID,
						inv.InvoiceDate,
						pay.PaymentID,
						pay.PaymentDate,
						cents(pay.Amount.Decimal),
					})
					_ = f.SetCellStyle(paymentsSheet, fmt.Sprintf("G%d", row), fmt.Sprintf("G%d", row), moneyStyle)
					row++
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementPDF renders a printable statement.
func BuildStatementPDF(stmt *statementapp.MonthlyStatement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 14)
	pdf.Cell(0, 8, "Patient Monthly Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Month: %s", stmt.Month))
	pdf.Ln(8)

	writeBucket := func(title string, bucket statementapp.StatementBucket) {
		pdf.SetFont("Arial", "B", 11)
		pdf.Cell(0, 6, fmt.Sprintf("%s (%d patients)", title, len(bucket.Patients)))
		pdf.Ln(7)
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(20, 6, "ID", "1", 0, "C", false, 0, "")
		pdf.CellFormat(70, 6, "Patient", "1", 0, "C", false, 0, "")
		pdf.CellFormat(33, 6, "Invoiced", "1", 0, "C", false, 0, "")
		pdf.CellFormat(33, 6, "Paid", "1", 0, "C", false, 0, "")
		pdf.CellFormat(33, 6, "Balance", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for _, p := range bucket.Patients {
			pdf.CellFormat(20, 6, strconv.FormatInt(p.PatientID, 10), "1", 0, "C", false, 0, "")
			pdf.CellFormat(70, 6, tr(p.PatientName), "1", 0, "L", false, 0, "")
			pdf.CellFormat(33, 6, p.TotalInvoiced.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(33, 6, p.PaymentsReceived.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(33, 6, p.Balance.String(), "1", 0, "R", false, 0, "")
			pdf.Ln(-1)
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(90, 6, "Total", "1", 0, "R", false, 0, "")
		pdf.CellFormat(33, 6, bucket.Totals.TotalInvoiced.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(33, 6, bucket.Totals.PaymentsReceived.String(), "1", 0, "R", false, 0, "")
		pdf.CellFormat(33, 6, bucket.Totals.Balance.String(), "1", 0, "R", false, 0, "")
		pdf.Ln(10)
	}
	writeBucket("Paid", stmt.Summary.Paid)
	writeBucket("Unpaid", stmt.Summary.Unpaid)

	if len(stmt.Anomalies) > 0 {
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Overpaid invoices")
		pdf.Ln(6)
		pdf.SetFont("Arial", "", 9)
		for _, a := range stmt.Anomalies {
			pdf.Cell(0, 5, fmt.Sprintf("Invoice %d (patient %d): paid %s against %s, over by %s",
				a.InvoiceID, a.PatientID, a.TotalPaid, a.TotalAmount, a.Overpaid))
			pdf.Ln(5)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cents(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
