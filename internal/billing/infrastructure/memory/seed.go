package memory

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	billing "clinic-billing/internal/billing/domain"
)

// Seed is the YAML fixture layout accepted by LoadSeed.
type Seed struct {
	Patients []struct {
		ID   int64  `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"patients"`
	Invoices []struct {
		ID             int64  `yaml:"id"`
		PatientID      int64  `yaml:"patient_id"`
		InvoiceDate    string `yaml:"invoice_date"`
		TotalAmount    string `yaml:"total_amount"`
		PatientPortion string `yaml:"patient_portion"`
		Status         string `yaml:"status"`
	} `yaml:"invoices"`
	Payments []struct {
		ID          int64  `yaml:"id"`
		InvoiceID   int64  `yaml:"invoice_id"`
		Amount      string `yaml:"amount"`
		PaymentDate string `yaml:"payment_date"`
	} `yaml:"payments"`
}

// LoadSeedFile reads a YAML fixture into a new store.
func LoadSeedFile(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("memory store: empty seed path")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadSeed(data)
}

// LoadSeed parses a YAML fixture into a new store.
func LoadSeed(data []byte) (*Store, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("memory store: parse seed: %w", err)
	}
	store := NewStore()
	for _, p := range seed.Patients {
		store.PutPatient(p.ID, p.Name)
	}
	for _, raw := range seed.Invoices {
		date, err := parseSeedTime(raw.InvoiceDate)
		if err != nil {
			return nil, fmt.Errorf("memory store: invoice %d: %w", raw.ID, err)
		}
		total, err := decimal.NewFromString(raw.TotalAmount)
		if err != nil {
			return nil, fmt.Errorf("memory store: invoice %d total: %w", raw.ID, err)
		}
		inv := billing.Invoice{
			ID:          raw.ID,
			PatientID:   raw.PatientID,
			InvoiceDate: date,
			TotalAmount: total,
			Status:      billing.InvoiceStatus(raw.Status),
		}
		if raw.PatientPortion != "" {
			portion, err := decimal.NewFromString(raw.PatientPortion)
			if err != nil {
				return nil, fmt.Errorf("memory store: invoice %d portion: %w", raw.ID, err)
			}
			inv.PatientPortion = &portion
		}
		if err := store.PutInvoice(inv); err != nil {
			return nil, fmt.Errorf("memory store: invoice %d: %w", raw.ID, err)
		}
	}
	for _, raw := range seed.Payments {
		date, err := parseSeedTime(raw.PaymentDate)
		if err != nil {
			return nil, fmt.Errorf("memory store: payment %d: %w", raw.ID, err)
		}
		amount, err := decimal.NewFromString(raw.Amount)
		if err != nil {
			return nil, fmt.Errorf("memory store: payment %d amount: %w", raw.ID, err)
		}
		if err := store.AddPayment(billing.Payment{
			ID:          raw.ID,
			InvoiceID:   raw.InvoiceID,
			Amount:      amount,
			PaymentDate: date,
		}); err != nil {
			return nil, fmt.Errorf("memory store: payment %d: %w", raw.ID, err)
		}
	}
	return store, nil
}

func parseSeedTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD or RFC3339", value)
	}
	return t, nil
}
