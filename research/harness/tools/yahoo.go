package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const infoModules = "price,summaryDetail,defaultKeyStatistics,financialData,assetProfile"

// YahooSource reads history and quote summaries from the Yahoo Finance
// chart and quoteSummary endpoints.
type YahooSource struct {
	baseURL string
	client  *http.Client
}

// NewYahooSource creates a Yahoo client rooted at baseURL.
func NewYahooSource(baseURL string, timeout time.Duration) *YahooSource {
	return &YahooSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *yahooError) err(ticker string) error {
	if e == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %s %s", ErrNoData, ticker, e.Code, e.Description)
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"chart"`
}

// History returns daily (or coarser) bars. Rows with any missing field are
// dropped.
func (y *YahooSource) History(ctx context.Context, ticker, period, interval string) ([]Bar, error) {
	q := url.Values{}
	q.Set("range", period)
	q.Set("interval", interval)
	q.Set("includePrePost", "false")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(ticker), q.Encode())

	var resp chartResponse
	if err := fetchJSON(ctx, y.client, endpoint, nil, &resp); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoData, ticker)
		}
		return nil, err
	}
	if err := resp.Chart.Error.err(ticker); err != nil {
		return nil, err
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%w: %s: empty chart", ErrNoData, ticker)
	}

	r := resp.Chart.Result[0]
	quote := r.Indicators.Quote[0]
	bars := make([]Bar, 0, len(r.Timestamp))
	for i, ts := range r.Timestamp {
		o, h, l, c, v := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i), at(quote.Volume, i)
		if o == nil || h == nil || l == nil || c == nil || v == nil {
			continue
		}
		bars = append(bars, Bar{Time: time.Unix(ts, 0).UTC(), Open: *o, High: *h, Low: *l, Close: *c, Volume: *v})
	}
	return bars, nil
}

func at(xs []*float64, i int) *float64 {
	if i >= len(xs) {
		return nil
	}
	return xs[i]
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []map[string]map[string]json.RawMessage `json:"result"`
		Error  *yahooError                             `json:"error"`
	} `json:"quoteSummary"`
}

func (y *YahooSource) quoteSummary(ctx context.Context, ticker, modules string) (map[string]map[string]json.RawMessage, error) {
	endpoint := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=%s", y.baseURL, url.PathEscape(ticker), url.QueryEscape(modules))

	var resp quoteSummaryResponse
	if err := fetchJSON(ctx, y.client, endpoint, nil, &resp); err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoData, ticker)
		}
		return nil, err
	}
	if err := resp.QuoteSummary.Error.err(ticker); err != nil {
		return nil, err
	}
	if len(resp.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: %s: empty quote summary", ErrNoData, ticker)
	}
	return resp.QuoteSummary.Result[0], nil
}

// Info flattens the quote summary modules into one field map. Formatted
// values ({"raw": 1.2, "fmt": "1.20"}) are reduced to their raw value; the
// first module to define a field wins.
func (y *YahooSource) Info(ctx context.Context, ticker string) (map[string]any, error) {
	res, err := y.quoteSummary(ctx, ticker, infoModules)
	if err != nil {
		return nil, err
	}

	info := make(map[string]any)
	for _, module := range strings.Split(infoModules, ",") {
		for k, raw := range res[module] {
			if _, seen := info[k]; seen {
				continue
			}
			if v, ok := scalar(raw); ok {
				info[k] = v
			}
		}
	}
	return info, nil
}

// Calendar returns upcoming earnings and dividend dates.
func (y *YahooSource) Calendar(ctx context.Context, ticker string) (map[string]any, error) {
	res, err := y.quoteSummary(ctx, ticker, "calendarEvents")
	if err != nil {
		return nil, err
	}
	events := res["calendarEvents"]

	cal := map[string]any{}
	var earnings struct {
		EarningsDate []struct {
			Fmt string `json:"fmt"`
		} `json:"earningsDate"`
	}
	if err := json.Unmarshal(events["earnings"], &earnings); err == nil && len(earnings.EarningsDate) > 0 {
		dates := make([]string, 0, len(earnings.EarningsDate))
		for _, d := range earnings.EarningsDate {
			dates = append(dates, d.Fmt)
		}
		cal["Earnings Date"] = dates
	}
	for key, label := range map[string]string{"exDividendDate": "Ex-Dividend Date", "dividendDate": "Dividend Date"} {
		var d struct {
			Fmt string `json:"fmt"`
		}
		if err := json.Unmarshal(events[key], &d); err == nil && d.Fmt != "" {
			cal[label] = d.Fmt
		}
	}
	return cal, nil
}

// scalar reduces a quoteSummary value to a JSON scalar.
func scalar(raw json.RawMessage) (any, bool) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case string, float64, bool:
		return t, true
	case map[string]any:
		r, ok := t["raw"]
		return r, ok
	}
	return nil, false
}

var (
	_ MarketData         = (*YahooSource)(nil)
	_ FundamentalsSource = (*YahooSource)(nil)
)
