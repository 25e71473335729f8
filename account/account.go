// Package account maps the loose account identifiers found in extracted
// transactions onto durable account records.
package account

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// UnknownAccountName is the display name of an account known only by its
// institution.
const UnknownAccountName = "Unknown Account"

// Account is one financial account or counterparty.
type Account struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"display_name"`
	Institution   string    `json:"institution,omitempty"`
	AccountNumber *string   `json:"account_number,omitempty"`
	MaskedNumber  *string   `json:"masked_number,omitempty"`
	AccountType   string    `json:"account_type,omitempty"`
	IsExternal    bool      `json:"is_external"`
	CorpusID      *string   `json:"corpus_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// numbers returns the normalized full and masked numbers that are set.
func (a *Account) numbers() []string {
	var nums []string
	for _, n := range []*string{a.AccountNumber, a.MaskedNumber} {
		if n != nil {
			if norm := NormalizeNumber(*n); norm != "" {
				nums = append(nums, norm)
			}
		}
	}
	return nums
}

// Corpus is a user-confirmed group of accounts that are the same entity.
type Corpus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SuggestionLevel grades a corpus suggestion.
type SuggestionLevel string

const (
	LevelLow    SuggestionLevel = "low"
	LevelMedium SuggestionLevel = "medium"
)

// CorpusSuggestion proposes that two accounts may belong in one corpus.
type CorpusSuggestion struct {
	ID          string          `json:"id"`
	AccountID   string          `json:"account_id"`
	CandidateID string          `json:"candidate_id"`
	Confidence  decimal.Decimal `json:"confidence"`
	Level       SuggestionLevel `json:"level"`
	Reasons     []string        `json:"reasons"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Identification is what a transaction says about an account.
type Identification struct {
	Number      string
	Name        string
	Institution string
	AccountType string
	IsExternal  bool
}

// Empty reports whether there is nothing to resolve: no number, no name
// and no institution.
func (id Identification) Empty() bool {
	return strings.TrimSpace(id.Number) == "" &&
		strings.TrimSpace(id.Name) == "" &&
		strings.TrimSpace(id.Institution) == ""
}

func (id Identification) cacheKey() string {
	return NormalizeNumber(id.Number) + "\x00" +
		strings.ToLower(strings.TrimSpace(id.Name)) + "\x00" +
		strings.ToLower(strings.TrimSpace(id.Institution))
}
