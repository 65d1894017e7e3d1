package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketpulse/indicatorengine/internal/errs"
)

func newMockStore(t *testing.T) (*postgresStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "postgres")
	s := NewPostgresStore(db, time.Second).(*postgresStore)
	return s, mock
}

func TestGetIndicatorsScansRows(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"timestamp", "indicator_id", "value", "confidence"}).
		AddRow(time.Unix(1000, 0).UTC(), "TWPA", 101.5, 0.9).
		AddRow(time.Unix(1060, 0).UTC(), "TWPA", 102.0, nil)
	mock.ExpectQuery("SELECT timestamp, indicator_id, value, confidence FROM indicators").
		WillReturnRows(rows)

	got, err := s.GetIndicators(context.Background(), "BTC-USD", nil, nil, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "TWPA", got[0].IndicatorID)
	assert.InDelta(t, 101.5, got[0].Value, 1e-9)
	require.NotNil(t, got[0].Confidence)
	assert.InDelta(t, 0.9, *got[0].Confidence, 1e-9)
	assert.Nil(t, got[1].Confidence)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIndicatorsBatchCommitsTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO indicators").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO indicators").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	n, err := s.InsertIndicatorsBatch(context.Background(), []IndicatorBatchRow{
		{SessionID: "s1", Symbol: "BTC-USD", IndicatorID: "TWPA", Timestamp: 1000, Value: 1.0},
		{SessionID: "s1", Symbol: "BTC-USD", IndicatorID: "TWPA", Timestamp: 1060, Value: 1.1},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertIndicatorsBatchEmptyIsNoop(t *testing.T) {
	s, _ := newMockStore(t)
	n, err := s.InsertIndicatorsBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestClassifyDistinguishesFatalFromTransient(t *testing.T) {
	fatal := classify("insert_indicators_batch", assertErr("duplicate key violates unique constraint"))
	assert.ErrorIs(t, fatal, errs.ErrFatalStore)

	transient := classify("get_indicators", assertErr("connection reset by peer"))
	assert.ErrorIs(t, transient, errs.ErrTransientStore)
}

func TestQueryWithWALRetryStopsOnNonRetryableResult(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context) ([]int, error) {
		calls++
		return []int{1, 2, 3}, nil
	}
	got, err := QueryWithWALRetry(context.Background(), "test_op", fn, isEmptyRetryable[int])
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 1, calls)
}

func TestQueryWithWALRetryExhaustsScheduleOnPersistentEmpty(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context) ([]int, error) {
		calls++
		return nil, nil
	}
	_, err := QueryWithWALRetry(context.Background(), "test_op", fn, isEmptyRetryable[int])
	assert.ErrorIs(t, err, errs.ErrTransientStore)
	assert.Equal(t, len(WALRetrySchedule), calls)
}

func TestQueryWithWALRetrySucceedsPartwayThroughSchedule(t *testing.T) {
	calls := 0
	fn := func(ctx context.Context) ([]int, error) {
		calls++
		if calls < 3 {
			return nil, nil
		}
		return []int{42}, nil
	}
	got, err := QueryWithWALRetry(context.Background(), "test_op", fn, isEmptyRetryable[int])
	require.NoError(t, err)
	assert.Equal(t, []int{42}, got)
	assert.Equal(t, 3, calls)
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertErr(msg string) error { return stringErr(msg) }
