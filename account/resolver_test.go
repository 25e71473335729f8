package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattsoldo/email-extractor-sub001/internal/util"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestResolver_IdempotentWithinCommit(t *testing.T) {
	r := NewResolver(nil, now)
	id := Identification{Number: "XXXX-1802", Name: "E*TRADE Brokerage", Institution: "E*TRADE"}

	first, ok := r.Resolve(id)
	require.True(t, ok)
	second, ok := r.Resolve(id)
	require.True(t, ok)

	assert.Equal(t, first, second)
	require.Len(t, r.Created(), 1)
	created := r.Created()[0]
	assert.Nil(t, created.AccountNumber)
	require.NotNil(t, created.MaskedNumber)
	assert.Equal(t, "XXXX-1802", *created.MaskedNumber)
}

func TestResolver_NewAccountsVisibleToLaterLookups(t *testing.T) {
	r := NewResolver(nil, now)

	masked, _ := r.Resolve(Identification{Number: "XXXX-1802", Institution: "E*TRADE"})
	full, _ := r.Resolve(Identification{Number: "987654321802", Name: "Brokerage"})

	assert.Equal(t, masked, full)
	require.Len(t, r.Created(), 1)
	acct := r.Created()[0]
	require.NotNil(t, acct.AccountNumber)
	assert.Equal(t, "987654321802", *acct.AccountNumber)
	assert.Equal(t, "Brokerage", acct.DisplayName, "placeholder display name replaced by a real one")
	assert.Empty(t, r.Updated(), "accounts created in this commit are not reported as updated")
}

func TestResolver_MatchPriority(t *testing.T) {
	existing := []*Account{
		{ID: "full", DisplayName: "Checking", AccountNumber: util.Ptr("5555-0001")},
		{ID: "masked", DisplayName: "Savings", MaskedNumber: util.Ptr("XXXX-7777"), Institution: "Ally"},
		{ID: "named", DisplayName: "Robinhood Individual"},
		{ID: "named-numbered", DisplayName: "Schwab One", AccountNumber: util.Ptr("44443333")},
	}

	tests := []struct {
		name string
		id   Identification
		want string
	}{
		{"exact normalized number", Identification{Number: "55550001"}, "full"},
		{"last four against masked", Identification{Number: "120000007777"}, "masked"},
		{"name without numbers", Identification{Name: "robinhood"}, "named"},
		{"name with agreeing last four", Identification{Name: "Schwab One", Number: "XX3333"}, "named-numbered"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(existing, now)
			got, ok := r.Resolve(tt.id)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
			assert.Empty(t, r.Created())
		})
	}

	t.Run("name with conflicting last four creates", func(t *testing.T) {
		r := NewResolver(existing, now)
		got, ok := r.Resolve(Identification{Name: "Schwab One", Number: "99999999"})
		require.True(t, ok)
		assert.NotEqual(t, "named-numbered", got)
		assert.Len(t, r.Created(), 1)
	})
}

func TestResolver_EnrichIsNonDestructive(t *testing.T) {
	existing := []*Account{{ID: "a1", DisplayName: "Ally Savings", MaskedNumber: util.Ptr("XXXX-7777"), CreatedAt: now, UpdatedAt: now}}
	later := now.Add(time.Hour)
	r := NewResolver(existing, later)

	got, _ := r.Resolve(Identification{Number: "120000007777", Name: "Something Else", Institution: "Ally Bank", AccountType: "savings"})
	assert.Equal(t, "a1", got)

	require.Len(t, r.Updated(), 1)
	acct := r.Updated()[0]
	assert.Equal(t, "Ally Savings", acct.DisplayName)
	assert.Equal(t, "XXXX-7777", *acct.MaskedNumber)
	assert.Equal(t, "120000007777", *acct.AccountNumber)
	assert.Equal(t, "Ally Bank", acct.Institution)
	assert.Equal(t, "savings", acct.AccountType)
	assert.Equal(t, later, acct.UpdatedAt)
}

func TestResolver_EmptyIdentification(t *testing.T) {
	r := NewResolver(nil, now)
	_, ok := r.Resolve(Identification{AccountType: "brokerage"})
	assert.False(t, ok)
	assert.Empty(t, r.Created())
}

func TestResolver_InstitutionOnlyCreatesUnknownAccount(t *testing.T) {
	r := NewResolver(nil, now)
	first, ok := r.Resolve(Identification{Institution: "Chase"})
	require.True(t, ok)
	again, ok := r.Resolve(Identification{Institution: "Chase"})
	require.True(t, ok)
	assert.Equal(t, first, again)

	require.Len(t, r.Created(), 1)
	acct := r.Created()[0]
	assert.Equal(t, UnknownAccountName, acct.DisplayName)
	assert.Equal(t, "Chase", acct.Institution)
	assert.Nil(t, acct.AccountNumber)
	assert.Nil(t, acct.MaskedNumber)

	t.Run("later commit reuses it", func(t *testing.T) {
		next := NewResolver([]*Account{acct}, now.Add(time.Hour))
		got, ok := next.Resolve(Identification{Institution: "chase"})
		require.True(t, ok)
		assert.Equal(t, acct.ID, got)
		assert.Empty(t, next.Created())
	})

	t.Run("other institution gets its own", func(t *testing.T) {
		other, ok := r.Resolve(Identification{Institution: "Ally"})
		require.True(t, ok)
		assert.NotEqual(t, first, other)
		assert.Len(t, r.Created(), 2)
	})
}

func TestResolver_ExternalFlag(t *testing.T) {
	r := NewResolver(nil, now)
	_, ok := r.Resolve(Identification{Name: "Landlord LLC", IsExternal: true})
	require.True(t, ok)
	assert.True(t, r.Created()[0].IsExternal)
}

func TestResolver_Suggestions(t *testing.T) {
	existing := []*Account{
		{ID: "fid-roth", DisplayName: "Fidelity Roth IRA", Institution: "Fidelity"},
		{ID: "other-bank", DisplayName: "Chase Checking", Institution: "Chase"},
		{ID: "grouped", DisplayName: "Fidelity Brokerage Roth", Institution: "Fidelity", CorpusID: util.Ptr("c1")},
	}
	r := NewResolver(existing, now)

	newID, _ := r.Resolve(Identification{Name: "Fidelity Roth Rollover", Institution: "fidelity", Number: "XXXX-9999"})

	byCandidate := map[string]CorpusSuggestion{}
	for _, sg := range r.Suggestions() {
		assert.Equal(t, newID, sg.AccountID)
		byCandidate[sg.CandidateID] = sg
	}
	require.Contains(t, byCandidate, "fid-roth")
	assert.NotContains(t, byCandidate, "other-bank")

	// institution 0.3 + two shared tokens 0.3
	sg := byCandidate["fid-roth"]
	assert.Equal(t, "0.6", sg.Confidence.String())
	assert.Equal(t, LevelMedium, sg.Level)
	assert.Len(t, sg.Reasons, 3)

	t.Run("single token is low", func(t *testing.T) {
		r := NewResolver([]*Account{{ID: "x", DisplayName: "Apex Clearing"}}, now)
		r.Resolve(Identification{Name: "Apex Wealth"})
		require.Len(t, r.Suggestions(), 1)
		assert.Equal(t, "0.15", r.Suggestions()[0].Confidence.String())
		assert.Equal(t, LevelLow, r.Suggestions()[0].Level)
	})

	t.Run("capped", func(t *testing.T) {
		r := NewResolver([]*Account{{ID: "x", DisplayName: "echo delta charlie bravo alpha", Institution: "Same"}}, now)
		r.Resolve(Identification{Name: "alpha bravo charlie delta echo foxtrot", Institution: "Same", Number: "1"})
		require.Len(t, r.Suggestions(), 1)
		assert.Equal(t, "0.7", r.Suggestions()[0].Confidence.String())
	})
}
