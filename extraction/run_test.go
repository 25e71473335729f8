package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattsoldo/email-extractor-sub001/extract"
)

func TestCounters_Add(t *testing.T) {
	a := Counters{EmailsProcessed: 2, TransactionsCreated: 3, InformationalCount: 1}
	b := Counters{EmailsProcessed: 1, ErrorCount: 1}
	assert.Equal(t, Counters{EmailsProcessed: 3, TransactionsCreated: 3, InformationalCount: 1, ErrorCount: 1}, a.Add(b))
}

func TestStats_Merge(t *testing.T) {
	var a Stats
	a.Observe(extract.Candidate{Type: extract.TypeDividend, Confidence: mustDecimal("0.9")})
	a.CanResume = true
	a.Error = "earlier failure"
	a.ProcessingTimeMs = 100

	var b Stats
	b.Observe(extract.Candidate{Type: extract.TypeDividend, Confidence: mustDecimal("0.6")})
	b.Observe(extract.Candidate{Type: extract.TypeFee, Confidence: mustDecimal("0.3")})
	b.ProcessingTimeMs = 50

	m := a.Merge(b)
	assert.Equal(t, map[extract.TransactionType]int{extract.TypeDividend: 2, extract.TypeFee: 1}, m.TypeCounts)
	assert.Equal(t, 3, m.ConfidenceCount)
	assert.Equal(t, "1.8", m.ConfidenceSum.String())
	require.NotNil(t, m.AverageConfidence)
	assert.Equal(t, "0.6", m.AverageConfidence.String())
	assert.Equal(t, int64(150), m.ProcessingTimeMs)
	assert.True(t, m.CanResume)
	assert.Equal(t, "earlier failure", m.Error)

	assert.Nil(t, Stats{}.Merge(Stats{}).AverageConfidence)
	assert.Equal(t, 1, a.TypeCounts[extract.TypeDividend], "merge does not mutate its inputs")
}

func TestRun_Key(t *testing.T) {
	r := &Run{SetID: "s", ModelID: "m", PromptID: "p", PromptHash: "h", SoftwareVersion: "1.0.0"}
	assert.Equal(t, GuardKey{SetID: "s", ModelID: "m", PromptID: "p", PromptHash: "h", SoftwareVersion: "1.0.0"}, r.Key())
}
