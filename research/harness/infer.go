package harness

import (
	"regexp"
	"strings"
)

var tickerToken = regexp.MustCompile(`\$?\b[A-Z]{1,5}\b`)

// tickerStopWords are upper-case tokens common in research queries that are
// not instruments.
var tickerStopWords = map[string]struct{}{
	"A": {}, "I": {}, "AN": {}, "AND": {}, "OR": {}, "VS": {}, "THE": {}, "FOR": {},
	"OF": {}, "TO": {}, "IN": {}, "ON": {}, "IS": {}, "IT": {}, "BY": {}, "AT": {},
	"ETF": {}, "ETFS": {}, "USD": {}, "EUR": {}, "CEO": {}, "CFO": {}, "AI": {},
	"EPS": {}, "PE": {}, "IPO": {}, "GDP": {}, "CPI": {}, "FED": {}, "YTD": {},
	"YOY": {}, "QOQ": {}, "Q1": {}, "Q2": {}, "Q3": {}, "Q4": {}, "US": {}, "USA": {},
	"SEC": {}, "ATH": {}, "DCA": {}, "ROI": {}, "ESG": {},
}

// InferTickers extracts candidate tickers from free text: upper-case tokens of
// one to five letters, optionally prefixed with $, outside a stop-word set.
// A $-prefixed token is always kept. Order is first occurrence.
func InferTickers(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tickerToken.FindAllString(text, -1) {
		cashtag := strings.HasPrefix(tok, "$")
		t := strings.TrimPrefix(tok, "$")
		if _, stop := tickerStopWords[t]; stop && !cashtag {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
