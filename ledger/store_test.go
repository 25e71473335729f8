package ledger

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/email"
	"github.com/mattsoldo/email-extractor-sub001/extract"
	qtest "github.com/mattsoldo/email-extractor-sub001/internal/testing"
)

func TestStore_InsertListMark(t *testing.T) {
	conn := qtest.CreateTestDB(t)
	ctx := context.Background()
	runID := qtest.SeedRun(t, conn, "run-1")

	rec := &email.Record{SetID: "seed-set", Subject: "trade confirmation"}
	require.NoError(t, email.NewStore(conn).AddRecord(ctx, rec))

	var txns []Transaction
	for _, raw := range []string{
		`{"type":"stock_trade","amount":"1000.123456","quantity":"3","price":"333.374485","action":"buy","date":"2024-01-03"}`,
		`{"type":"fee","amount":"0.01","date":"2024-01-02"}`,
		`{"type":"dividend","amount":"12","securityName":"Vanguard","date":"2024-01-04"}`,
	} {
		txn := Normalize(decodeCandidate(t, raw), nil, nil, now)
		txn.ID = uuid.NewString()
		txn.SourceEmailID = rec.ID
		txn.ExtractionRunID = runID
		txns = append(txns, txn)
	}

	s := NewStore(conn)
	require.NoError(t, db.WithTx(ctx, conn, func(tx *sql.Tx) error {
		return s.InsertTx(ctx, tx, txns, 2)
	}))

	n, err := s.CountByRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := s.ListByRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "0.01", list[0].Amount.String())
	assert.Equal(t, "1000.123456", list[1].Amount.String())
	assert.Equal(t, "333.374485", list[1].Price.String())
	trade, ok := list[1].Data.Details.(*extract.TradeDetails)
	require.True(t, ok)
	assert.Equal(t, "buy", trade.Action)
	assert.False(t, list[0].RunCompleted)

	marked, err := s.MarkRunCompleted(ctx, runID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, marked)

	list, err = s.ListByRun(ctx, runID)
	require.NoError(t, err)
	for _, txn := range list {
		assert.True(t, txn.RunCompleted)
	}
}
