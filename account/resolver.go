package account

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	institutionWeight = decimal.RequireFromString("0.3")
	tokenWeight       = decimal.RequireFromString("0.15")
	maxSuggestion     = decimal.RequireFromString("0.7")
	mediumThreshold   = decimal.RequireFromString("0.5")
)

// Resolver resolves identifications against a snapshot of accounts. A
// Resolver is built per batch commit from the accounts read inside that
// commit's transaction and is not safe for concurrent use.
type Resolver struct {
	accounts    []*Account
	cache       map[string]string
	created     []*Account
	createdIDs  map[string]struct{}
	updated     []*Account
	updatedIDs  map[string]struct{}
	suggestions []CorpusSuggestion
	now         time.Time
	newID       func() string
}

// NewResolver creates a resolver over existing.
func NewResolver(existing []*Account, now time.Time) *Resolver {
	accounts := make([]*Account, len(existing))
	copy(accounts, existing)
	return &Resolver{
		accounts:   accounts,
		cache:      make(map[string]string),
		createdIDs: make(map[string]struct{}),
		updatedIDs: make(map[string]struct{}),
		now:        now.UTC(),
		newID:      uuid.NewString,
	}
}

// Resolve returns the account id for id, creating an account when nothing
// matches. ok is false when id carries no number, name or institution.
func (r *Resolver) Resolve(id Identification) (accountID string, ok bool) {
	if id.Empty() {
		return "", false
	}
	key := id.cacheKey()
	if cached, hit := r.cache[key]; hit {
		return cached, true
	}

	acct := r.match(id)
	if acct != nil {
		r.enrich(acct, id)
	} else {
		acct = r.create(id)
	}
	r.cache[key] = acct.ID
	return acct.ID, true
}

// Created returns accounts created by this resolver, in creation order.
func (r *Resolver) Created() []*Account { return r.created }

// Updated returns pre-existing accounts that were enriched.
func (r *Resolver) Updated() []*Account { return r.updated }

// Suggestions returns corpus suggestions raised while creating accounts.
func (r *Resolver) Suggestions() []CorpusSuggestion { return r.suggestions }

func (r *Resolver) match(id Identification) *Account {
	num := NormalizeNumber(id.Number)
	if num != "" {
		for _, a := range r.accounts {
			for _, n := range a.numbers() {
				if n == num {
					return a
				}
			}
		}
		for _, a := range r.accounts {
			for _, n := range a.numbers() {
				if NumbersMatch(n, num) {
					return a
				}
			}
		}
	}

	if strings.TrimSpace(id.Name) == "" {
		if num == "" {
			return r.matchUnknown(id.Institution)
		}
		return nil
	}
	for _, a := range r.accounts {
		if !NamesMatch(a.DisplayName, id.Name) {
			continue
		}
		nums := a.numbers()
		if num == "" || len(nums) == 0 {
			return a
		}
		for _, n := range nums {
			if l := lastFour(n); l != "" && l == lastFour(num) {
				return a
			}
		}
	}
	return nil
}

// matchUnknown finds the unnamed, unnumbered account at institution.
func (r *Resolver) matchUnknown(institution string) *Account {
	institution = strings.TrimSpace(institution)
	for _, a := range r.accounts {
		if a.DisplayName == UnknownAccountName && len(a.numbers()) == 0 &&
			strings.EqualFold(a.Institution, institution) {
			return a
		}
	}
	return nil
}

// enrich fills fields the account is missing. Existing values are never
// overwritten.
func (r *Resolver) enrich(a *Account, id Identification) {
	changed := false
	number := strings.TrimSpace(id.Number)
	if number != "" {
		if IsMasked(number) {
			if a.MaskedNumber == nil {
				a.MaskedNumber = &number
				changed = true
			}
		} else if a.AccountNumber == nil {
			a.AccountNumber = &number
			changed = true
		}
	}
	if a.Institution == "" && strings.TrimSpace(id.Institution) != "" {
		a.Institution = strings.TrimSpace(id.Institution)
		changed = true
	}
	if a.AccountType == "" && strings.TrimSpace(id.AccountType) != "" {
		a.AccountType = strings.TrimSpace(id.AccountType)
		changed = true
	}
	if name := strings.TrimSpace(id.Name); name != "" && r.placeholderName(a) {
		a.DisplayName = name
		changed = true
	}
	if !changed {
		return
	}
	a.UpdatedAt = r.now
	if _, isNew := r.createdIDs[a.ID]; isNew {
		return
	}
	if _, seen := r.updatedIDs[a.ID]; !seen {
		r.updatedIDs[a.ID] = struct{}{}
		r.updated = append(r.updated, a)
	}
}

// placeholderName reports whether the display name was filled from the
// number or the unknown fallback rather than a real name.
func (r *Resolver) placeholderName(a *Account) bool {
	if a.DisplayName == "" || a.DisplayName == UnknownAccountName {
		return true
	}
	for _, n := range []*string{a.AccountNumber, a.MaskedNumber} {
		if n != nil && a.DisplayName == *n {
			return true
		}
	}
	return false
}

func (r *Resolver) create(id Identification) *Account {
	number := strings.TrimSpace(id.Number)
	display := strings.TrimSpace(id.Name)
	if display == "" {
		display = number
	}
	if display == "" {
		display = UnknownAccountName
	}

	a := &Account{
		ID:          r.newID(),
		DisplayName: display,
		Institution: strings.TrimSpace(id.Institution),
		AccountType: strings.TrimSpace(id.AccountType),
		IsExternal:  id.IsExternal,
		CreatedAt:   r.now,
		UpdatedAt:   r.now,
	}
	if number != "" {
		if IsMasked(number) {
			a.MaskedNumber = &number
		} else {
			a.AccountNumber = &number
		}
	}

	r.suggest(a)
	r.accounts = append(r.accounts, a)
	r.created = append(r.created, a)
	r.createdIDs[a.ID] = struct{}{}
	return a
}

// suggest scores a new account against every known account on shared
// institution and shared meaningful name tokens.
func (r *Resolver) suggest(a *Account) {
	tokens := MeaningfulTokens(a.DisplayName)
	for _, other := range r.accounts {
		if a.CorpusID != nil && other.CorpusID != nil && *a.CorpusID == *other.CorpusID {
			continue
		}

		score := decimal.Zero
		var reasons []string
		if a.Institution != "" && strings.EqualFold(a.Institution, other.Institution) {
			score = score.Add(institutionWeight)
			reasons = append(reasons, "same institution: "+other.Institution)
		}
		for _, shared := range sharedTokens(tokens, MeaningfulTokens(other.DisplayName)) {
			score = score.Add(tokenWeight)
			reasons = append(reasons, "shared name token: "+shared)
		}
		if score.IsZero() {
			continue
		}
		if score.GreaterThan(maxSuggestion) {
			score = maxSuggestion
		}

		level := LevelMedium
		if score.LessThan(mediumThreshold) {
			level = LevelLow
		}
		r.suggestions = append(r.suggestions, CorpusSuggestion{
			ID:          r.newID(),
			AccountID:   a.ID,
			CandidateID: other.ID,
			Confidence:  score,
			Level:       level,
			Reasons:     reasons,
			CreatedAt:   r.now,
		})
	}
}

func sharedTokens(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, t := range b {
		set[t] = struct{}{}
	}
	var shared []string
	for _, t := range a {
		if _, ok := set[t]; ok {
			shared = append(shared, t)
		}
	}
	sort.Strings(shared)
	return shared
}
