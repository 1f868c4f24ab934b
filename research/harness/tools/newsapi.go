package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const newsPageSize = 50

// NewsAPISource searches newsapi.org for recent articles.
type NewsAPISource struct {
	endpoint string
	apiKey   string
	client   *http.Client
	now      func() time.Time
}

// NewNewsAPISource creates a NewsAPI client. It returns nil when apiKey is
// empty so callers can leave Sources.News unset.
func NewNewsAPISource(endpoint, apiKey string, timeout time.Duration) *NewsAPISource {
	if apiKey == "" {
		return nil
	}
	return &NewsAPISource{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

type newsResponse struct {
	Status   string    `json:"status"`
	Code     string    `json:"code"`
	Message  string    `json:"message"`
	Articles []Article `json:"articles"`
}

// Articles returns up to 50 English articles mentioning ticker, newest first.
func (n *NewsAPISource) Articles(ctx context.Context, ticker string, lookbackDays int) ([]Article, error) {
	q := url.Values{}
	q.Set("q", ticker)
	q.Set("sortBy", "publishedAt")
	q.Set("language", "en")
	q.Set("pageSize", fmt.Sprint(newsPageSize))
	if lookbackDays > 0 {
		q.Set("from", n.now().AddDate(0, 0, -lookbackDays).Format("2006-01-02"))
	}

	// The key travels in a header so it never appears in URLs or errors.
	header := http.Header{"X-Api-Key": []string{n.apiKey}}

	var resp newsResponse
	if err := fetchJSON(ctx, n.client, n.endpoint+"?"+q.Encode(), header, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		if resp.Message == "" {
			return nil, errors.New("newsapi: unexpected status " + resp.Status)
		}
		return nil, fmt.Errorf("newsapi: %s: %s", resp.Code, resp.Message)
	}
	return resp.Articles, nil
}

var _ NewsSource = (*NewsAPISource)(nil)
