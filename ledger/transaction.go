// Package ledger holds committed transactions: the normalized, account
// linked form of extracted candidates.
package ledger

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mattsoldo/email-extractor-sub001/errors"
	"github.com/mattsoldo/email-extractor-sub001/extract"
)

// DefaultCurrency is used when a candidate names none.
const DefaultCurrency = "USD"

// Transaction is one committed financial event. Rows are immutable apart
// from RunCompleted.
type Transaction struct {
	ID              string                  `json:"id"`
	SourceEmailID   string                  `json:"source_email_id"`
	ExtractionRunID string                  `json:"extraction_run_id"`
	AccountID       *string                 `json:"account_id,omitempty"`
	ToAccountID     *string                 `json:"to_account_id,omitempty"`
	Type            extract.TransactionType `json:"type"`
	Date            time.Time               `json:"date"`
	Amount          decimal.Decimal         `json:"amount"`
	Currency        string                  `json:"currency"`
	Description     string                  `json:"description,omitempty"`
	Symbol          *string                 `json:"symbol,omitempty"`
	Quantity        *decimal.Decimal        `json:"quantity,omitempty"`
	Price           *decimal.Decimal        `json:"price,omitempty"`
	Fees            *decimal.Decimal        `json:"fees,omitempty"`
	Confidence      decimal.Decimal         `json:"confidence"`
	Data            SideData                `json:"data"`
	RunCompleted    bool                    `json:"run_completed"`
	CreatedAt       time.Time               `json:"created_at"`
}

// SideData carries type-specific fields and unknown extras in one payload.
type SideData struct {
	Kind    extract.Family
	Details extract.Details
	Extra   map[string]json.RawMessage
}

type sideDataJSON struct {
	Kind    extract.Family             `json:"kind,omitempty"`
	Details json.RawMessage            `json:"details,omitempty"`
	Extra   map[string]json.RawMessage `json:"extra,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (d SideData) MarshalJSON() ([]byte, error) {
	out := sideDataJSON{Kind: d.Kind, Extra: d.Extra}
	if d.Details != nil {
		raw, err := json.Marshal(d.Details)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode transaction details")
		}
		out.Details = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *SideData) UnmarshalJSON(data []byte) error {
	var in sideDataJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return errors.Wrap(err, "failed to decode transaction data")
	}
	details, err := extract.DecodeDetails(in.Kind, in.Details)
	if err != nil {
		return err
	}
	*d = SideData{Kind: in.Kind, Details: details, Extra: in.Extra}
	return nil
}

// Normalize maps a candidate and its resolved accounts onto a Transaction.
// ID, SourceEmailID and ExtractionRunID are left for the caller. A missing
// date becomes now.
func Normalize(c extract.Candidate, accountID, toAccountID *string, now time.Time) Transaction {
	date := now.UTC()
	if c.Date != nil {
		date = c.Date.UTC()
	}
	currency := strings.ToUpper(strings.TrimSpace(c.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	txn := Transaction{
		AccountID:   accountID,
		ToAccountID: toAccountID,
		Type:        c.Type,
		Date:        date,
		Amount:      c.Amount,
		Currency:    currency,
		Description: c.Description,
		Quantity:    c.Quantity,
		Price:       c.Price,
		Fees:        c.Fees,
		Confidence:  extract.ClampConfidence(c.Confidence),
		CreatedAt:   now.UTC(),
	}
	if sym := strings.ToUpper(strings.TrimSpace(c.Symbol)); sym != "" {
		txn.Symbol = &sym
	}
	if c.Details != nil {
		txn.Data.Kind = c.Details.Family()
		txn.Data.Details = c.Details
	}
	if len(c.Extra) > 0 {
		txn.Data.Extra = c.Extra
	}
	return txn
}
