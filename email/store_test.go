package email

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattsoldo/email-extractor-sub001/db"
	"github.com/mattsoldo/email-extractor-sub001/errors"
	qtest "github.com/mattsoldo/email-extractor-sub001/internal/testing"
)

func TestStore_Sets(t *testing.T) {
	s := NewStore(qtest.CreateTestDB(t))
	ctx := context.Background()

	set, err := s.CreateSet(ctx, "statements")
	require.NoError(t, err)

	again, err := s.CreateSet(ctx, "statements")
	require.NoError(t, err)
	assert.Equal(t, set.ID, again.ID)

	_, err = s.CreateSet(ctx, "  ")
	assert.True(t, errors.IsInvalidRequestError(err))

	byName, err := s.GetSetByName(ctx, "statements")
	require.NoError(t, err)
	assert.Equal(t, set.ID, byName.ID)

	_, err = s.GetSet(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))

	sets, err := s.ListSets(ctx)
	require.NoError(t, err)
	assert.Len(t, sets, 1)
}

func TestStore_Records(t *testing.T) {
	s := NewStore(qtest.CreateTestDB(t))
	ctx := context.Background()

	set, err := s.CreateSet(ctx, "inbox")
	require.NoError(t, err)

	var ids []string
	for _, subject := range []string{"a", "b", "c"} {
		rec := &Record{SetID: set.ID, Subject: subject, Body: "body " + subject}
		require.NoError(t, s.AddRecord(ctx, rec))
		ids = append(ids, rec.ID)
	}

	all, err := s.ListBySet(ctx, set.ID, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, StatusPending, all[0].Status)

	gotIDs, err := s.ListIDsBySet(ctx, set.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, gotIDs)

	subset, err := s.ListByIDs(ctx, []string{ids[2], "unknown", ids[0]}, 1)
	require.NoError(t, err)
	require.Len(t, subset, 2)
	assert.Equal(t, ids[2], subset[0].ID)
	assert.Equal(t, ids[0], subset[1].ID)
}

func TestStore_ApplyStatusUpdatesTx(t *testing.T) {
	conn := qtest.CreateTestDB(t)
	s := NewStore(conn)
	ctx := context.Background()

	set, err := s.CreateSet(ctx, "inbox")
	require.NoError(t, err)

	var ids []string
	for i := 0; i < 5; i++ {
		rec := &Record{SetID: set.ID, Subject: "s"}
		require.NoError(t, s.AddRecord(ctx, rec))
		ids = append(ids, rec.ID)
	}

	updates := []StatusUpdate{
		{ID: ids[0], Status: StatusCompleted, Payload: json.RawMessage(`{"isTransactional":true}`)},
		{ID: ids[1], Status: StatusCompleted},
		{ID: ids[2], Status: StatusInformational, Notes: "newsletter"},
		{ID: ids[3], Status: StatusFailed, Error: "timeout after 30s"},
		{ID: ids[4], Status: StatusCompleted},
	}

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.ApplyStatusUpdatesTx(ctx, tx, updates, 2))
	require.NoError(t, tx.Commit())

	counts, err := s.CountByStatus(ctx, set.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[StatusCompleted])
	assert.Equal(t, 1, counts[StatusInformational])
	assert.Equal(t, 1, counts[StatusFailed])

	failed, err := s.Get(ctx, ids[3])
	require.NoError(t, err)
	assert.Equal(t, "timeout after 30s", failed.Error)

	info, err := s.Get(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, "newsletter", info.Notes)

	done, err := s.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"isTransactional":true}`, string(done.ExtractedPayload))

	t.Run("rejects unknown status", func(t *testing.T) {
		err := db.WithTx(ctx, conn, func(tx *sql.Tx) error {
			return s.ApplyStatusUpdatesTx(ctx, tx, []StatusUpdate{{ID: ids[0], Status: "bogus"}}, 10)
		})
		assert.True(t, errors.IsInvalidRequestError(err))
	})
}
