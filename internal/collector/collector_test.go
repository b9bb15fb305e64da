package collector

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3B132016/tws/internal/model"
)

var csvHeader = []string{
	"時間", "開盤價", "最高價", "最低價", "收盤價", "漲跌", "漲跌幅", "成交量",
	"外資買賣超", "外資持股", "外資比例", "自營商買賣超", "自營商持股", "融資", "融券", "券資比",
	"投信買賣超",
}

func csvRow(date, close, flow string) string {
	cols := make([]string, len(csvHeader))
	for i := range cols {
		cols[i] = "0"
	}
	cols[0], cols[4], cols[16] = date, close, flow
	return strings.Join(cols, ",")
}

func csvFile(rows ...string) string {
	return strings.Join(append([]string{strings.Join(csvHeader, ",")}, rows...), "\n") + "\n"
}

func TestCSVLoader_Read(t *testing.T) {
	data := csvFile(
		csvRow("2024/01/02", "100.5", "120"),
		csvRow("2024/01/03", "101", `"1,250"`),
		csvRow("2024/01/04", "102", "--"),
		csvRow("2024/01/05", "0", "30"),
		csvRow("2024/01/05", "103", "40"),
		csvRow("bad date", "103", "40"),
		csvRow("2024/01/08", "104", "-300"),
	)

	l := NewCSVLoader("", DefaultColumns())
	series, stats, err := l.Read("4977", strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, 7, stats.Rows)
	assert.Equal(t, 5, stats.Kept)
	assert.Equal(t, 2, stats.Dropped)
	assert.Equal(t, 1, stats.MissingFlow)
	assert.Equal(t, 2, series.Dropped)

	require.Equal(t, 5, series.Len())
	assert.Equal(t, 1250.0, series.Records[1].Flow)
	assert.True(t, math.IsNaN(series.Records[2].Flow))
	assert.Equal(t, 103.0, series.Records[3].Close)
	assert.Equal(t, -300.0, series.Records[4].Flow)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), series.Records[4].Time)
}

func TestCSVLoader_NewestFirstAndROCDates(t *testing.T) {
	data := csvFile(
		csvRow("113/01/04", "12", "3"),
		csvRow("113/01/03", "11", "2"),
		csvRow("113/01/02", "10", "1"),
	)
	series, stats, err := NewCSVLoader("", DefaultColumns()).Read("2330", strings.NewReader(data))
	require.NoError(t, err)
	assert.Zero(t, stats.Dropped)
	require.Equal(t, 3, series.Len())
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), series.Records[0].Time)
	assert.Equal(t, []float64{10, 11, 12}, series.Closes())
}

func TestCSVLoader_MissingColumns(t *testing.T) {
	_, _, err := NewCSVLoader("", DefaultColumns()).Read("x", strings.NewReader("a,b,c\n1,2,3\n"))
	assert.Error(t, err)

	cols := DefaultColumns()
	cols.FlowIndex = 40
	_, _, err = NewCSVLoader("", cols).Read("x", strings.NewReader(csvFile(csvRow("2024/01/02", "1", "1"))))
	assert.Error(t, err)
}

func TestCSVLoader_LoadFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1308.csv"), []byte(csvFile(csvRow("2024/01/02", "10", "5"))), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	l := NewCSVLoader(dir, DefaultColumns())
	series, err := l.Load(context.Background(), "1308")
	require.NoError(t, err)
	assert.Equal(t, "1308", series.SecurityID)
	assert.Equal(t, 1, series.Len())

	_, err = l.Load(context.Background(), "9999")
	assert.ErrorIs(t, err, ErrSecurityNotFound)

	ids, err := ListSecurities(dir, ".csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"1308"}, ids)
}

func TestHTMLLoader_Read(t *testing.T) {
	cols := DefaultColumns()
	cols.FlowIndex = 2

	sampleHTML := `
		<html><body>
		<table><tr><td>menu</td></tr></table>
		<table>
			<tr><th>時間</th><th>收盤價</th><th>投信買賣超</th></tr>
			<tr><td>2024/01/02</td><td>72.5</td><td>1,000</td></tr>
			<tr><td>2024/01/03</td><td>73</td><td>-50</td></tr>
			<tr><td>合計</td><td></td><td></td></tr>
		</table>
		</body></html>`

	series, stats, err := NewHTMLLoader("", ".xls", cols).Read("2454", strings.NewReader(sampleHTML))
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Dropped)
	require.Equal(t, 2, series.Len())
	assert.Equal(t, 1000.0, series.Records[0].Flow)
	assert.Equal(t, 73.0, series.Records[1].Close)
}

func TestHTMLLoader_NoTable(t *testing.T) {
	_, _, err := NewHTMLLoader("", "", DefaultColumns()).Read("x", strings.NewReader("<html><body><p>empty</p></body></html>"))
	assert.Error(t, err)
}

func TestCollector_Collect(t *testing.T) {
	src := &model.Series{SecurityID: "4977", Dropped: 2, Records: []model.DailyRecord{{Close: 10}}}
	c := NewCollector(&MockLoader{Series: map[string]*model.Series{"4977": src}}, zerolog.Nop(), nil)

	got, err := c.Collect(context.Background(), "4977")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Dropped)

	got.Records[0].Close = 99
	assert.Equal(t, 10.0, src.Records[0].Close)

	_, err = c.Collect(context.Background(), "0000")
	assert.ErrorIs(t, err, ErrSecurityNotFound)
}

func TestClassifyETFResponse(t *testing.T) {
	tests := []struct {
		body string
		want model.ETFHoldState
	}{
		{`{"status":"0","message":"no data"}`, model.ETFHoldNotFound},
		{`{"status":0}`, model.ETFHoldFound},
		{`{"status":"1","data":[]}`, model.ETFHoldFound},
		{`[{"etf":"0050"}]`, model.ETFHoldFound},
		{`[]`, model.ETFHoldNotFound},
		{`"nothing"`, model.ETFHoldNotFound},
	}
	for _, tt := range tests {
		got, err := classifyETFResponse([]byte(tt.body))
		require.NoError(t, err, tt.body)
		assert.Equal(t, tt.want, got, tt.body)
	}
}

func TestETFClient_LookupAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultETFPath, r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "tw", r.URL.Query().Get("stock_country"))
		switch r.URL.Query().Get("stock_symbol") {
		case "2330":
			fmt.Fprint(w, `[{"etf_code":"0050","weight":48.1}]`)
		case "5284":
			fmt.Fprint(w, `{"status":"0"}`)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewETFClient("key", zerolog.Nop(), WithETFBaseURL(srv.URL), WithETFRateLimit(1000))
	got, err := c.LookupAll(context.Background(), []string{"2330", "5284", "6830"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, model.ETFHoldFound, got[0].State)
	assert.Equal(t, model.ETFHoldNotFound, got[1].State)
	assert.Equal(t, model.ETFHoldError, got[2].State)
	assert.Equal(t, http.StatusBadGateway, got[2].HTTPStatus)
}
