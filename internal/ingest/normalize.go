package ingest

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/billing/internal/billing"
)

// Column names one input field. Exports carry either the Spanish label or,
// when headers were lost, the spreadsheet column letter.
type Column struct {
	Label string
	Code  string
}

var (
	ColIdentification = Column{"Numero de Identificacion", "G"}
	ColName           = Column{"Nombre del Cliente", "F"}
	ColAddress        = Column{"Direccion", "H"}
	ColPhone          = Column{"Telefono", "I"}
	ColEmail          = Column{"Correo Electronico", "J"}
	ColInvoice        = Column{"Numero de Factura", "L"}
	ColPlatform       = Column{"Plataforma Utilizada", "K"}
	ColPeriod         = Column{"Periodo de Facturacion", "M"}
	ColBilled         = Column{"Monto Facturado", "N"}
	ColPaid           = Column{"Monto Pagado", "O"}
)

// Columns lists every recognised input column in export order.
var Columns = []Column{
	ColName, ColIdentification, ColAddress, ColPhone, ColEmail,
	ColPlatform, ColInvoice, ColPeriod, ColBilled, ColPaid,
}

// Record is one raw CSV row keyed by folded header name.
type Record struct {
	Line   int
	fields map[string]string
}

// NewRecord pairs a header row with a data row. Missing trailing cells are
// treated as empty and extra cells are dropped.
func NewRecord(line int, header, values []string) Record {
	fields := make(map[string]string, len(header))
	for i, h := range header {
		if i >= len(values) {
			break
		}
		key := headerKey(h)
		if key == "" {
			continue
		}
		if _, dup := fields[key]; !dup {
			fields[key] = values[i]
		}
	}
	return Record{Line: line, fields: fields}
}

// RecordFromMap builds a record from header/value pairs.
func RecordFromMap(line int, m map[string]string) Record {
	fields := make(map[string]string, len(m))
	for k, v := range m {
		fields[headerKey(k)] = v
	}
	return Record{Line: line, fields: fields}
}

// Get resolves a column, preferring a non-empty label over the letter code.
func (r Record) Get(c Column) string {
	if v := CleanCell(r.fields[headerKey(c.Label)]); v != "" {
		return v
	}
	return CleanCell(r.fields[headerKey(c.Code)])
}

func (r Record) empty() bool {
	for _, v := range r.fields {
		if CleanCell(v) != "" {
			return false
		}
	}
	return true
}

// Warning reports a value that was replaced by a default.
type Warning struct {
	Line    int    `json:"line"`
	Field   string `json:"field"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// TransactionDraft is the transaction half of a normalized row.
type TransactionDraft struct {
	InvoiceNumber string
	PlatformName  string
	BillingPeriod time.Time
	BilledAmount  decimal.Decimal
	PaidAmount    decimal.Decimal
}

// Status derives the payment status from the drafted amounts.
func (t TransactionDraft) Status() billing.Status {
	return billing.Derive(t.BilledAmount, t.PaidAmount)
}

// Row is a normalized record ready for the gateway.
type Row struct {
	Line        int
	Customer    billing.Customer
	Transaction TransactionDraft
	Warnings    []Warning
}

// Normalize converts a raw record into customer and transaction drafts.
// It never fails: unparseable amounts become zero and a missing or bad
// billing period becomes the first day of now's month, each with a Warning.
// Lookups and key checks happen in the gateway.
func Normalize(rec Record, now time.Time) Row {
	row := Row{Line: rec.Line}
	warn := func(c Column, value, msg string) {
		row.Warnings = append(row.Warnings, Warning{Line: rec.Line, Field: c.Label, Value: value, Message: msg})
	}

	first, last := SplitName(rec.Get(ColName))
	addr := SplitAddress(rec.Get(ColAddress))
	phone, ext := SplitPhone(rec.Get(ColPhone))

	row.Customer = billing.Customer{
		IdentificationNumber: rec.Get(ColIdentification),
		FirstName:            first,
		LastName:             last,
		StreetAddress:        addr.Street,
		City:                 addr.City,
		State:                addr.State,
		ZipCode:              addr.Zip,
		Phone:                phone,
		PhoneExtension:       ext,
		Email:                rec.Get(ColEmail),
	}

	tx := TransactionDraft{
		InvoiceNumber: rec.Get(ColInvoice),
		PlatformName:  rec.Get(ColPlatform),
	}

	raw := rec.Get(ColPeriod)
	if raw == "" {
		tx.BillingPeriod = billing.FirstOfMonth(now)
		warn(ColPeriod, raw, "billing period missing, defaulted to current month")
	} else if p, err := ParsePeriod(raw); err != nil {
		tx.BillingPeriod = billing.FirstOfMonth(now)
		warn(ColPeriod, raw, "billing period unreadable, defaulted to current month")
	} else {
		tx.BillingPeriod = p
	}

	tx.BilledAmount = amount(rec, ColBilled, warn)
	tx.PaidAmount = amount(rec, ColPaid, warn)

	row.Transaction = tx
	return row
}

func amount(rec Record, c Column, warn func(Column, string, string)) decimal.Decimal {
	raw := rec.Get(c)
	d, _, err := ParseAmount(raw)
	if errors.Is(err, errNegativeAmount) {
		warn(c, raw, "amount is negative, defaulted to 0")
		return decimal.Zero
	}
	if err != nil {
		warn(c, raw, "amount unreadable, defaulted to 0")
		return decimal.Zero
	}
	return d
}
