package sink

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"tickerflow/internal/archive"
	"tickerflow/internal/model/enum"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockCatalog(t *testing.T) (*Catalog, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewCatalog(gdb), mock
}

func TestCatalogRecord(t *testing.T) {
	c, mock := newMockCatalog(t)
	created := time.Date(2025, 5, 23, 10, 4, 6, 0, time.UTC)
	c.now = func() time.Time { return created }
	first := time.Date(2025, 5, 23, 10, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "archived_objects"`)).
		WithArgs("kucoin/2025-05-23T10-04-05.json", "kucoin", 2, 128, first, created).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	err := c.Record(context.Background(), archive.ObjectInfo{
		Key:             "kucoin/2025-05-23T10-04-05.json",
		Source:          enum.SourceKucoin,
		Records:         2,
		Bytes:           128,
		FirstIngestedAt: first,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRecordError(t *testing.T) {
	c, mock := newMockCatalog(t)

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "archived_objects"`)).
		WillReturnError(errors.New("connection refused"))

	err := c.Record(context.Background(), archive.ObjectInfo{Key: "k", Source: enum.SourceBinance})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCatalogRange(t *testing.T) {
	c, mock := newMockCatalog(t)
	start := time.Date(2025, 5, 23, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	rows := sqlmock.NewRows([]string{"id", "object_key", "source", "records", "bytes", "first_ingested_at", "created_at"}).
		AddRow(1, "binance/2025-05-23T00-10-00.json", "binance", 40, 4096, start.Add(10*time.Minute), start.Add(10*time.Minute)).
		AddRow(2, "binance/2025-05-23T00-20-00.json", "binance", 35, 3900, start.Add(20*time.Minute), start.Add(20*time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "archived_objects" WHERE`)).
		WithArgs("binance", start, end).
		WillReturnRows(rows)

	got, err := c.Range(context.Background(), enum.SourceBinance, start, end)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "binance/2025-05-23T00-10-00.json", got[0].ObjectKey)
	assert.Equal(t, 35, got[1].Records)
	require.NoError(t, mock.ExpectationsWereMet())
}
