package extract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		raw   string
		want  TransactionType
		known bool
	}{
		{"dividend", TypeDividend, true},
		{"Stock Trade", TypeStockTrade, true},
		{"wire-transfer-in", TypeWireTransferIn, true},
		{"incoming_wire", TypeWireTransferIn, true},
		{"RSU_RELEASE", TypeRSURelease, true},
		{"crypto_airdrop", TypeOther, false},
		{"", TypeOther, false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, known := ParseTransactionType(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestTransactionType_Family(t *testing.T) {
	assert.Equal(t, FamilyOption, TypeOptionTrade.Family())
	assert.Equal(t, FamilyTrade, TypeStockTrade.Family())
	assert.Equal(t, FamilyRSU, TypeRSUVest.Family())
	assert.Equal(t, FamilyRSU, TypeRSURelease.Family())
	assert.Equal(t, FamilyTransfer, TypeWireTransferOut.Family())
	assert.Equal(t, FamilyTransfer, TypeDeposit.Family())
	assert.Equal(t, FamilySecurity, TypeDividend.Family())
	assert.Equal(t, FamilyNone, TypeFee.Family())
	assert.Equal(t, FamilyNone, TypeOther.Family())
}

func TestCandidate_UnmarshalJSON(t *testing.T) {
	t.Run("flat dividend", func(t *testing.T) {
		var c Candidate
		require.NoError(t, json.Unmarshal([]byte(`{
			"type": "dividend",
			"date": "2024-03-15",
			"amount": 1000.123456,
			"currency": "usd",
			"accountNumber": "XXXX-1802",
			"institution": "E*TRADE",
			"symbol": "VTI",
			"securityName": "Vanguard Total Stock Market ETF",
			"confidence": 0.92,
			"taxWithheld": "12.00"
		}`), &c))

		assert.Equal(t, TypeDividend, c.Type)
		require.NotNil(t, c.Date)
		assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), *c.Date)
		assert.Equal(t, "1000.123456", c.Amount.String())
		assert.Equal(t, "usd", c.Currency)
		assert.Equal(t, "XXXX-1802", c.AccountNumber)
		assert.True(t, c.Confidence.Equal(decimal.RequireFromString("0.92")))

		details, ok := c.Details.(*SecurityDetails)
		require.True(t, ok, "expected security details, got %T", c.Details)
		assert.Equal(t, "Vanguard Total Stock Market ETF", details.SecurityName)

		require.Contains(t, c.Extra, "taxWithheld")
		assert.JSONEq(t, `"12.00"`, string(c.Extra["taxWithheld"]))
		assert.NotContains(t, c.Extra, "securityName")
	})

	t.Run("option details and loose numbers", func(t *testing.T) {
		var c Candidate
		require.NoError(t, json.Unmarshal([]byte(`{
			"type": "option_trade",
			"amount": "$1,250.00",
			"quantity": 5,
			"fees": "(3.25)",
			"optionType": "call",
			"strikePrice": "150.5",
			"expirationDate": "2024-06-21"
		}`), &c))

		assert.Equal(t, "1250", c.Amount.String())
		require.NotNil(t, c.Quantity)
		assert.Equal(t, "5", c.Quantity.String())
		require.NotNil(t, c.Fees)
		assert.Equal(t, "-3.25", c.Fees.String())

		details, ok := c.Details.(*OptionDetails)
		require.True(t, ok)
		assert.Equal(t, "call", details.OptionType)
		require.NotNil(t, details.StrikePrice)
		assert.Equal(t, "150.5", details.StrikePrice.String())
		assert.Empty(t, c.Extra)
	})

	t.Run("unknown type keeps raw tag", func(t *testing.T) {
		var c Candidate
		require.NoError(t, json.Unmarshal([]byte(`{"type":"crypto_airdrop","amount":1}`), &c))
		assert.Equal(t, TypeOther, c.Type)
		assert.JSONEq(t, `"crypto_airdrop"`, string(c.Extra[ExtraRawType]))
	})

	t.Run("unparseable date is kept", func(t *testing.T) {
		var c Candidate
		require.NoError(t, json.Unmarshal([]byte(`{"type":"fee","amount":2,"date":"sometime last week"}`), &c))
		assert.Nil(t, c.Date)
		assert.JSONEq(t, `"sometime last week"`, string(c.Extra[ExtraRawDate]))
	})

	t.Run("confidence defaults and clamps", func(t *testing.T) {
		var missing, high, low Candidate
		require.NoError(t, json.Unmarshal([]byte(`{"type":"fee","amount":1}`), &missing))
		require.NoError(t, json.Unmarshal([]byte(`{"type":"fee","amount":1,"confidence":1.7}`), &high))
		require.NoError(t, json.Unmarshal([]byte(`{"type":"fee","amount":1,"confidence":-0.2}`), &low))
		assert.True(t, missing.Confidence.Equal(DefaultConfidence))
		assert.Equal(t, "1", high.Confidence.String())
		assert.Equal(t, "0", low.Confidence.String())
	})

	t.Run("additional fields are flattened", func(t *testing.T) {
		var c Candidate
		require.NoError(t, json.Unmarshal([]byte(`{
			"type": "wire_transfer_out",
			"amount": 5000,
			"toAccountName": "Landlord LLC",
			"toAccountIsExternal": "true",
			"additionalFields": {"referenceNumber": "FW123", "purpose": "rent"}
		}`), &c))

		assert.True(t, c.ToAccountIsExternal)
		details, ok := c.Details.(*TransferDetails)
		require.True(t, ok)
		assert.Equal(t, "FW123", details.ReferenceNumber)
		assert.JSONEq(t, `"rent"`, string(c.Extra["purpose"]))
	})

	t.Run("numeric account number", func(t *testing.T) {
		var c Candidate
		require.NoError(t, json.Unmarshal([]byte(`{"type":"deposit","amount":1,"accountNumber":987654321802}`), &c))
		assert.Equal(t, "987654321802", c.AccountNumber)
	})

	t.Run("bad amount is an error", func(t *testing.T) {
		var c Candidate
		err := json.Unmarshal([]byte(`{"type":"fee","amount":"lots"}`), &c)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse amount")
	})
}

func TestCandidate_MarshalJSON(t *testing.T) {
	input := `{
		"type": "stock_trade",
		"date": "2024-01-02T15:30:00Z",
		"amount": "1000.123456",
		"symbol": "AAPL",
		"quantity": "10",
		"action": "buy",
		"orderId": "A-1",
		"venue": "NASDAQ"
	}`
	var c Candidate
	require.NoError(t, json.Unmarshal([]byte(input), &c))

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var again Candidate
	require.NoError(t, json.Unmarshal(data, &again))
	assert.True(t, c.Amount.Equal(again.Amount))
	assert.Equal(t, c.Date, again.Date)
	assert.Equal(t, c.Details, again.Details)
	assert.Equal(t, c.Extra, again.Extra)

	var flat map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "1000.123456", flat["amount"])
	assert.Equal(t, "buy", flat["action"])
	assert.Equal(t, "NASDAQ", flat["venue"])
}
