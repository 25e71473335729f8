// Package extract defines what one extraction call produces: a Result
// holding zero or more transaction Candidates, and the Invoker boundary
// that turns an email into a Result.
package extract

import "strings"

// TransactionType is the closed set of financial events a candidate can be.
type TransactionType string

const (
	TypeDividend        TransactionType = "dividend"
	TypeInterest        TransactionType = "interest"
	TypeStockTrade      TransactionType = "stock_trade"
	TypeOptionTrade     TransactionType = "option_trade"
	TypeWireTransferIn  TransactionType = "wire_transfer_in"
	TypeWireTransferOut TransactionType = "wire_transfer_out"
	TypeFundsTransfer   TransactionType = "funds_transfer"
	TypeDeposit         TransactionType = "deposit"
	TypeWithdrawal      TransactionType = "withdrawal"
	TypeRSUVest         TransactionType = "rsu_vest"
	TypeRSURelease      TransactionType = "rsu_release"
	TypeAccountTransfer TransactionType = "account_transfer"
	TypeFee             TransactionType = "fee"
	TypeOther           TransactionType = "other"
)

// AllTypes lists every TransactionType in display order.
var AllTypes = []TransactionType{
	TypeDividend, TypeInterest, TypeStockTrade, TypeOptionTrade,
	TypeWireTransferIn, TypeWireTransferOut, TypeFundsTransfer,
	TypeDeposit, TypeWithdrawal, TypeRSUVest, TypeRSURelease,
	TypeAccountTransfer, TypeFee, TypeOther,
}

// typeAliases maps spellings models commonly produce onto the closed set.
var typeAliases = map[string]TransactionType{
	"wire_in":       TypeWireTransferIn,
	"incoming_wire": TypeWireTransferIn,
	"wire_out":      TypeWireTransferOut,
	"outgoing_wire": TypeWireTransferOut,
	"transfer":      TypeFundsTransfer,
	"trade":         TypeStockTrade,
	"option":        TypeOptionTrade,
	"options_trade": TypeOptionTrade,
	"rsu":           TypeRSUVest,
}

// ParseTransactionType normalizes raw into a known type. The second return
// is false when raw is not recognised, in which case TypeOther is returned.
func ParseTransactionType(raw string) (TransactionType, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if key == "" {
		return TypeOther, false
	}
	for _, t := range AllTypes {
		if string(t) == key {
			return t, true
		}
	}
	if t, ok := typeAliases[key]; ok {
		return t, true
	}
	return TypeOther, false
}

// Valid reports whether t is in the closed set.
func (t TransactionType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Family groups types that share type-specific fields.
type Family string

const (
	FamilyNone     Family = ""
	FamilyOption   Family = "option"
	FamilyTrade    Family = "trade"
	FamilyRSU      Family = "rsu"
	FamilyTransfer Family = "transfer"
	FamilySecurity Family = "security"
)

// Family returns the details family for t.
func (t TransactionType) Family() Family {
	switch t {
	case TypeOptionTrade:
		return FamilyOption
	case TypeStockTrade:
		return FamilyTrade
	case TypeRSUVest, TypeRSURelease:
		return FamilyRSU
	case TypeWireTransferIn, TypeWireTransferOut, TypeFundsTransfer,
		TypeAccountTransfer, TypeDeposit, TypeWithdrawal:
		return FamilyTransfer
	case TypeDividend, TypeInterest:
		return FamilySecurity
	default:
		return FamilyNone
	}
}
