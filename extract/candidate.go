package extract

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// DefaultConfidence is used when the model does not report one.
var DefaultConfidence = decimal.RequireFromString("0.5")

// Candidate is one financial event found in an email, before it is linked
// to durable accounts.
type Candidate struct {
	Type        TransactionType
	Date        *time.Time
	Amount      decimal.Decimal
	Currency    string
	Description string

	AccountNumber     string
	AccountName       string
	Institution       string
	AccountType       string
	AccountIsExternal bool

	ToAccountNumber     string
	ToAccountName       string
	ToInstitution       string
	ToAccountIsExternal bool

	Symbol   string
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
	Fees     *decimal.Decimal

	Confidence decimal.Decimal

	Details Details
	Extra   map[string]json.RawMessage
}

// Keys the extras bag uses for values that could not be decoded.
const (
	ExtraRawType = "rawType"
	ExtraRawDate = "rawDate"
)

// additionalFieldsKey is a nested object some prompts use for free-form
// fields. Its members are flattened into the candidate.
const additionalFieldsKey = "additionalFields"

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// ParseDate accepts the date spellings models commonly return.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseDecimal reads a decimal from a JSON number or a loosely formatted
// string such as "$1,234.50" or "(12.00)".
func ParseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return decimal.Zero, errors.New("empty decimal")
	}
	if raw[0] != '"' {
		return decimal.NewFromString(string(raw))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return decimal.Zero, err
	}
	return parseDecimalString(s)
}

func parseDecimalString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c decimal.Decimal) decimal.Decimal {
	if c.IsNegative() {
		return decimal.Zero
	}
	if c.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return c
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), true
	}
	// Account numbers sometimes arrive as bare numbers.
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func decodeBool(raw json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			return true, true
		case "false", "no", "":
			return false, true
		}
	}
	return false, false
}

// UnmarshalJSON decodes the flat object a model returns. Known keys fill
// typed fields, keys owned by the type family fill Details, and anything
// else lands in Extra.
func (c *Candidate) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "failed to parse transaction candidate")
	}

	if raw, ok := obj[additionalFieldsKey]; ok {
		var nested map[string]json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil {
			delete(obj, additionalFieldsKey)
			for k, v := range nested {
				if _, exists := obj[k]; !exists {
					obj[k] = v
				}
			}
		}
	}

	*c = Candidate{Confidence: DefaultConfidence}
	extra := make(map[string]json.RawMessage)

	take := func(key string) (json.RawMessage, bool) {
		raw, ok := obj[key]
		if !ok {
			return nil, false
		}
		delete(obj, key)
		if isNull(raw) {
			return nil, false
		}
		return raw, true
	}
	str := func(key string, dst *string) {
		if raw, ok := take(key); ok {
			if s, ok := decodeString(raw); ok {
				*dst = s
			} else {
				extra[key] = raw
			}
		}
	}
	flag := func(key string, dst *bool) {
		if raw, ok := take(key); ok {
			if b, ok := decodeBool(raw); ok {
				*dst = b
			} else {
				extra[key] = raw
			}
		}
	}
	optDecimal := func(key string) *decimal.Decimal {
		raw, ok := take(key)
		if !ok {
			return nil
		}
		d, err := ParseDecimal(raw)
		if err != nil {
			extra[key] = raw
			return nil
		}
		return &d
	}

	c.Type = TypeOther
	if raw, ok := take("type"); ok {
		s, _ := decodeString(raw)
		t, known := ParseTransactionType(s)
		c.Type = t
		if !known && s != "" {
			extra[ExtraRawType] = raw
		}
	}

	if raw, ok := take("date"); ok {
		s, _ := decodeString(raw)
		if t, ok := ParseDate(s); ok {
			c.Date = &t
		} else {
			extra[ExtraRawDate] = raw
		}
	}

	if raw, ok := take("amount"); ok {
		amount, err := ParseDecimal(raw)
		if err != nil {
			return errors.Wrapf(err, "failed to parse amount %s", string(raw))
		}
		c.Amount = amount
	}

	str("currency", &c.Currency)
	str("description", &c.Description)
	str("accountNumber", &c.AccountNumber)
	str("accountName", &c.AccountName)
	str("institution", &c.Institution)
	str("accountType", &c.AccountType)
	flag("accountIsExternal", &c.AccountIsExternal)
	str("toAccountNumber", &c.ToAccountNumber)
	str("toAccountName", &c.ToAccountName)
	str("toInstitution", &c.ToInstitution)
	flag("toAccountIsExternal", &c.ToAccountIsExternal)
	str("symbol", &c.Symbol)
	c.Quantity = optDecimal("quantity")
	c.Price = optDecimal("price")
	c.Fees = optDecimal("fees")

	if conf := optDecimal("confidence"); conf != nil {
		c.Confidence = ClampConfidence(*conf)
	}

	c.Details = takeDetails(c.Type.Family(), obj)

	for k, v := range obj {
		if _, exists := extra[k]; !exists {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		c.Extra = extra
	}
	return nil
}

// MarshalJSON writes the same flat shape UnmarshalJSON reads. Decimals are
// written as strings.
func (c Candidate) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(c.Extra)+16)
	for k, v := range c.Extra {
		out[k] = v
	}

	if c.Details != nil {
		data, err := json.Marshal(c.Details)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode details")
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, errors.Wrap(err, "failed to encode details")
		}
		for k, v := range fields {
			out[k] = v
		}
	}

	out["type"] = c.Type
	out["amount"] = c.Amount.String()
	out["confidence"] = c.Confidence.String()
	if c.Date != nil {
		out["date"] = FormatDate(*c.Date)
	}
	set := func(key, value string) {
		if value != "" {
			out[key] = value
		}
	}
	set("currency", c.Currency)
	set("description", c.Description)
	set("accountNumber", c.AccountNumber)
	set("accountName", c.AccountName)
	set("institution", c.Institution)
	set("accountType", c.AccountType)
	set("toAccountNumber", c.ToAccountNumber)
	set("toAccountName", c.ToAccountName)
	set("toInstitution", c.ToInstitution)
	set("symbol", c.Symbol)
	if c.AccountIsExternal {
		out["accountIsExternal"] = true
	}
	if c.ToAccountIsExternal {
		out["toAccountIsExternal"] = true
	}
	for key, d := range map[string]*decimal.Decimal{"quantity": c.Quantity, "price": c.Price, "fees": c.Fees} {
		if d != nil {
			out[key] = d.String()
		}
	}
	return json.Marshal(out)
}

// FormatDate writes midnight-UTC times as a bare date and anything else as
// RFC 3339.
func FormatDate(t time.Time) string {
	t = t.UTC()
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// HasAccount reports whether the candidate names a source account.
func (c *Candidate) HasAccount() bool {
	return c.AccountNumber != "" || c.AccountName != ""
}

// HasToAccount reports whether the candidate names a counterparty account.
func (c *Candidate) HasToAccount() bool {
	return c.ToAccountNumber != "" || c.ToAccountName != ""
}
