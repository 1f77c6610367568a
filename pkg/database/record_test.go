package database

import (
	"errors"
	"testing"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PortfolioAgent/pkg/model"
)

func price(date string, close float64) model.PriceRecord {
	return model.PriceRecord{Symbol: "000001.SZ", TradeDate: date, Close: null.FloatFrom(close)}
}

func priceSeries(symbol string, rows ...model.PriceRecord) *model.Series {
	s := model.NewSeries(symbol, model.KindPrice)
	s.Prices = rows
	return s
}

func TestUpsertDeduplicatesByPeriod(t *testing.T) {
	db := newTestDB(t)
	records := db.Records()

	res, err := records.Upsert(priceSeries("000001.SZ", price("2024-01-02", 10.0)))
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 1}, res)

	res, err = records.Upsert(priceSeries("000001.SZ", price("2024-01-02", 10.5)))
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Updated: 1}, res)

	res, err = records.Upsert(priceSeries("000001.SZ", price("2024-01-03", 11.0)))
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 1}, res)

	series, err := records.Query("000001.SZ", model.KindPrice, 10)
	require.NoError(t, err)
	require.Len(t, series.Prices, 2)
	assert.Equal(t, "2024-01-03", series.Prices[0].TradeDate)
	assert.Equal(t, 11.0, series.Prices[0].Close.Float64)
	assert.Equal(t, "2024-01-02", series.Prices[1].TradeDate)
	assert.Equal(t, 10.5, series.Prices[1].Close.Float64)
}

func TestUpsertKeepsExistingValuesForAbsentFields(t *testing.T) {
	db := newTestDB(t)
	records := db.Records()

	first := price("2024-01-02", 10.0)
	first.Open = null.FloatFrom(9.8)
	first.Volume = null.FloatFrom(12345)
	_, err := records.Upsert(priceSeries("000001.SZ", first))
	require.NoError(t, err)

	// 第二次只提供收盘价
	_, err = records.Upsert(priceSeries("000001.SZ", price("2024-01-02", 10.2)))
	require.NoError(t, err)

	series, err := records.Query("000001.SZ", model.KindPrice, 0)
	require.NoError(t, err)
	require.Len(t, series.Prices, 1)
	row := series.Prices[0]
	assert.Equal(t, 10.2, row.Close.Float64)
	assert.Equal(t, 9.8, row.Open.Float64)
	assert.Equal(t, 12345.0, row.Volume.Float64)
	assert.False(t, row.High.Valid)
}

func TestUpsertMergesDuplicatesWithinBatch(t *testing.T) {
	db := newTestDB(t)

	a := price("2024-01-02", 10.0)
	a.High = null.FloatFrom(10.4)
	b := price("2024-01-02", 10.1)

	res, err := db.Records().Upsert(priceSeries("000001.SZ", a, b))
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Inserted: 1}, res)

	series, err := db.Records().Query("000001.SZ", model.KindPrice, 10)
	require.NoError(t, err)
	require.Len(t, series.Prices, 1)
	assert.Equal(t, 10.1, series.Prices[0].Close.Float64)
	assert.Equal(t, 10.4, series.Prices[0].High.Float64)
}

func TestUpsertRejectsMissingIdentity(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Records().Upsert(priceSeries("000001.SZ", price("", 10.0)))
	var storageErr *StorageError
	require.True(t, errors.As(err, &storageErr))

	other := price("2024-01-02", 10.0)
	other.Symbol = "600000.SH"
	_, err = db.Records().Upsert(priceSeries("000001.SZ", other))
	require.True(t, errors.As(err, &storageErr))

	n, err := db.Records().Count("000001.SZ", model.KindPrice)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueryOrderingLimitAndIsolation(t *testing.T) {
	db := newTestDB(t)
	records := db.Records()

	_, err := records.Upsert(priceSeries("000001.SZ",
		price("2024-01-04", 12), price("2024-01-02", 10), price("2024-01-03", 11)))
	require.NoError(t, err)

	series, err := records.Query("000001.SZ", model.KindPrice, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-04", "2024-01-03"}, series.PeriodKeys())

	empty, err := records.Query("600000.SH", model.KindPrice, 10)
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
	assert.NotNil(t, empty.Rows())
}

func TestUpsertFinancialsAndValuations(t *testing.T) {
	db := newTestDB(t)
	records := db.Records()

	fin := model.NewSeries("000001.SZ", model.KindFinancial)
	fin.Financials = []model.FinancialRecord{
		{Symbol: "000001.SZ", Period: "2023-12-31", ROE: null.FloatFrom(0.11), Revenue: null.FloatFrom(1.5e11)},
		{Symbol: "000001.SZ", Period: "2023-09-30", ROE: null.FloatFrom(0.08)},
	}
	res, err := records.Upsert(fin)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	val := model.NewSeries("000001.SZ", model.KindValuation)
	val.Valuations = []model.ValuationRecord{
		{Symbol: "000001.SZ", Date: "2024-01-02", PE: null.FloatFrom(4.5), PB: null.FloatFrom(0.6)},
	}
	_, err = records.Upsert(val)
	require.NoError(t, err)

	got, err := records.Query("000001.SZ", model.KindFinancial, 1)
	require.NoError(t, err)
	require.Len(t, got.Financials, 1)
	assert.Equal(t, "2023-12-31", got.Financials[0].Period)
	assert.InDelta(t, 0.11, got.Financials[0].ROE.Float64, 1e-9)
	assert.False(t, got.Financials[0].Profit.Valid)

	gotVal, err := records.Query("000001.SZ", model.KindValuation, 10)
	require.NoError(t, err)
	require.Len(t, gotVal.Valuations, 1)
	assert.False(t, gotVal.Valuations[0].EVEBITDA.Valid)

	// 价格表不受影响
	n, err := records.Count("000001.SZ", model.KindPrice)
	require.NoError(t, err)
	assert.Zero(t, n)
}
