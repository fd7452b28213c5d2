package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-harvester/internal/harvest"
)

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *ReviewStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewReviewStoreWithPool(mock, "")
	require.NoError(t, err)
	return mock, store
}

// anyArgs matches n bind parameters of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestInsertWritesOneStatementPerPage(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	day := time.Date(2022, time.June, 3, 0, 0, 0, 0, time.UTC)
	records := []harvest.Record{
		{SubjectID: "B0B2VRF2W9", Text: "good", Title: "t1", Location: "United States", Date: day, Verified: true, Rating: 4},
		{SubjectID: "B0B2VRF2W9", Text: "bad", Title: "", Location: harvest.UnknownLocation, Date: harvest.UnknownDate, Rating: 1},
	}

	mock.ExpectExec(`INSERT INTO reviews \(subject_id, text, title, location, date, verified, rating\) VALUES \(\$1, .*\), \(\$8, .*\$14\)`).
		WithArgs(
			"B0B2VRF2W9", "good", "t1", "United States", day, true, 4.0,
			"B0B2VRF2W9", "bad", "", harvest.UnknownLocation, harvest.UnknownDate, false, 1.0,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, store.Insert(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertNothing(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	require.NoError(t, store.Insert(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertSurfacesErrors(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(anyArgs(columnsPerRecord)...).
		WillReturnError(errors.New("disk full"))

	err := store.Insert(context.Background(), []harvest.Record{{SubjectID: "B0B2VRF2W9", Text: "x", Rating: 3}})
	require.EqualError(t, err, "insert reviews: disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupeRunsInReadCommittedTx(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectExec("DELETE FROM reviews AS dup").
		WithArgs("B0B2VRF2W9").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	removed, err := store.Dedupe(context.Background(), "B0B2VRF2W9")
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDedupeRollsBackOnError(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectExec("DELETE FROM reviews AS dup").
		WithArgs("B0B2VRF2W9").
		WillReturnError(errors.New("serialization failure"))
	mock.ExpectRollback()

	_, err := store.Dedupe(context.Background(), "B0B2VRF2W9")
	require.ErrorContains(t, err, "delete duplicates")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchAllScansRows(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	day := time.Date(2021, time.January, 15, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"id", "subject_id", "text", "title", "location", "date", "verified", "rating"}).
		AddRow(int64(1), "B0B2VRF2W9", "good", "t", "Canada", day, true, 4.5).
		AddRow(int64(4), "B0B2VRF2W9", "ok", "", "None", harvest.UnknownDate, false, 3.0)
	mock.ExpectQuery("SELECT id, subject_id, text").WithArgs("B0B2VRF2W9").WillReturnRows(rows)

	got, err := store.FetchAll(context.Background(), "B0B2VRF2W9")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, int64(4), got[1].ID)
	require.Equal(t, "Canada", got[0].Location)
	require.InDelta(t, 4.5, got[0].Rating, 0.0001)
	require.True(t, got[0].Verified)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reviews").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS reviews_subject_id_idx").WillReturnResult(pgxmock.NewResult("CREATE INDEX", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewReviewStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewReviewStoreWithPool(nil, "reviews")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewReviewStoreWithPool(mock, "reviews; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")
}

func TestInsertStatementChunks(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	records := make([]harvest.Record, maxRecordsPerInsert+1)
	for i := range records {
		records[i] = harvest.Record{SubjectID: "B0B2VRF2W9", Text: "x", Rating: 5}
	}
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(anyArgs(maxRecordsPerInsert * columnsPerRecord)...).
		WillReturnResult(pgxmock.NewResult("INSERT", int64(maxRecordsPerInsert)))
	mock.ExpectExec(`INSERT INTO reviews .* VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7\)$`).
		WithArgs(anyArgs(columnsPerRecord)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStopsAtFirstFailedChunk(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	records := make([]harvest.Record, maxRecordsPerInsert+1)
	for i := range records {
		records[i] = harvest.Record{SubjectID: "B0B2VRF2W9", Text: "x", Rating: 5}
	}
	mock.ExpectExec("INSERT INTO reviews").
		WithArgs(anyArgs(maxRecordsPerInsert * columnsPerRecord)...).
		WillReturnError(errors.New("too many parameters"))

	err := store.Insert(context.Background(), records)
	require.ErrorContains(t, err, "too many parameters")
	require.NoError(t, mock.ExpectationsWereMet())
}
