package extract

import (
	"encoding/json"
	"reflect"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mattsoldo/email-extractor-sub001/errors"
)

// Details holds the fields specific to one type family. The concrete type
// is selected by the candidate's TransactionType.
type Details interface {
	Family() Family
}

// OptionDetails describes an option_trade.
type OptionDetails struct {
	OptionType     string           `json:"optionType,omitempty"`
	OptionAction   string           `json:"optionAction,omitempty"`
	Underlying     string           `json:"underlyingSymbol,omitempty"`
	StrikePrice    *decimal.Decimal `json:"strikePrice,omitempty"`
	ExpirationDate string           `json:"expirationDate,omitempty"`
	Contracts      *decimal.Decimal `json:"contracts,omitempty"`
	Premium        *decimal.Decimal `json:"premium,omitempty"`
}

// TradeDetails describes a stock_trade order.
type TradeDetails struct {
	Action         string `json:"action,omitempty"`
	OrderType      string `json:"orderType,omitempty"`
	OrderID        string `json:"orderId,omitempty"`
	SecurityName   string `json:"securityName,omitempty"`
	SettlementDate string `json:"settlementDate,omitempty"`
}

// RSUDetails describes an rsu_vest or rsu_release.
type RSUDetails struct {
	GrantID         string           `json:"grantId,omitempty"`
	GrantDate       string           `json:"grantDate,omitempty"`
	VestDate        string           `json:"vestDate,omitempty"`
	SharesVested    *decimal.Decimal `json:"sharesVested,omitempty"`
	SharesWithheld  *decimal.Decimal `json:"sharesWithheld,omitempty"`
	FairMarketValue *decimal.Decimal `json:"fairMarketValue,omitempty"`
	SecurityName    string           `json:"securityName,omitempty"`
}

// TransferDetails describes wires, transfers, deposits and withdrawals.
type TransferDetails struct {
	ReferenceNumber string `json:"referenceNumber,omitempty"`
	Method          string `json:"transferMethod,omitempty"`
	Direction       string `json:"direction,omitempty"`
	Memo            string `json:"memo,omitempty"`
}

// SecurityDetails describes dividend and interest payments.
type SecurityDetails struct {
	SecurityName string           `json:"securityName,omitempty"`
	PaymentDate  string           `json:"paymentDate,omitempty"`
	ExDate       string           `json:"exDate,omitempty"`
	RatePerShare *decimal.Decimal `json:"ratePerShare,omitempty"`
}

func (OptionDetails) Family() Family   { return FamilyOption }
func (TradeDetails) Family() Family    { return FamilyTrade }
func (RSUDetails) Family() Family      { return FamilyRSU }
func (TransferDetails) Family() Family { return FamilyTransfer }
func (SecurityDetails) Family() Family { return FamilySecurity }

func newDetails(f Family) Details {
	switch f {
	case FamilyOption:
		return &OptionDetails{}
	case FamilyTrade:
		return &TradeDetails{}
	case FamilyRSU:
		return &RSUDetails{}
	case FamilyTransfer:
		return &TransferDetails{}
	case FamilySecurity:
		return &SecurityDetails{}
	default:
		return nil
	}
}

var detailKeyCache sync.Map // reflect.Type -> []string

// detailKeys returns the JSON keys a Details struct owns.
func detailKeys(d Details) []string {
	t := reflect.TypeOf(d)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := detailKeyCache.Load(t); ok {
		return cached.([]string)
	}
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			keys = append(keys, name)
		}
	}
	detailKeyCache.Store(t, keys)
	return keys
}

// takeDetails moves the keys belonging to family f out of obj and decodes
// them. When they do not decode, obj is left untouched so the values end
// up in the extras bag instead of being lost.
func takeDetails(f Family, obj map[string]json.RawMessage) Details {
	d := newDetails(f)
	if d == nil {
		return nil
	}
	sub := make(map[string]json.RawMessage)
	for _, key := range detailKeys(d) {
		if raw, ok := obj[key]; ok && !isNull(raw) {
			sub[key] = raw
		}
	}
	if len(sub) == 0 {
		return nil
	}
	data, err := json.Marshal(sub)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, d); err != nil {
		return nil
	}
	for key := range sub {
		delete(obj, key)
	}
	return d
}

// DecodeDetails decodes a persisted details payload for family f.
func DecodeDetails(f Family, raw json.RawMessage) (Details, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, nil
	}
	d := newDetails(f)
	if d == nil {
		return nil, errors.Newf("no details type for family %q", f)
	}
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s details", f)
	}
	return d, nil
}
