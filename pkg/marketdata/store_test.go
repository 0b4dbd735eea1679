package marketdata

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoadSnapshot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	markets := []string{CashMarket, "BTC/USDT", "ETH/USDT"}
	rows := pgxmock.NewRows([]string{"symbol", "open_time", "close"}).
		AddRow("BTC/USDT", at(0), 100.0).
		AddRow("ETH/USDT", at(0), 10.0).
		AddRow("BTC/USDT", at(1), 103.0).
		AddRow("ETH/USDT", at(1), 9.0)

	mock.ExpectQuery("SELECT symbol, open_time, close FROM candlesticks").
		WithArgs(markets, "1d", at(0), at(1)).
		WillReturnRows(rows)

	store := NewStore(mock)
	snapshot, err := store.LoadSnapshot(context.Background(), markets, "1d", at(0), at(1))
	require.NoError(t, err)

	assert.Equal(t, markets, snapshot.Markets)
	assert.Equal(t, [][]float64{{1, 100, 10}, {1, 103, 9}}, snapshot.Close)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoadSnapshotEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT symbol, open_time, close FROM candlesticks").
		WithArgs([]string{"BTC"}, "1h", at(0), at(5)).
		WillReturnRows(pgxmock.NewRows([]string{"symbol", "open_time", "close"}))

	_, err = NewStore(mock).LoadSnapshot(context.Background(), []string{"BTC"}, "1h", at(0), at(5))
	assert.ErrorContains(t, err, "no candlesticks found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT symbol, open_time, close FROM candlesticks").
		WillReturnError(errors.New("connection refused"))

	_, err = NewStore(mock).LoadCandles(context.Background(), []string{"BTC"}, "1h", at(0), at(5))
	assert.ErrorContains(t, err, "failed to query candlesticks")
}

func TestStoreWithoutPool(t *testing.T) {
	_, err := NewStore(nil).LoadCandles(context.Background(), nil, "1h", at(0), at(1))
	assert.Error(t, err)
}
