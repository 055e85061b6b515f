package cn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"trendlab/internal/domain"
	"trendlab/internal/util"
)

// DefaultBaseURL is the Eastmoney historical quote host.
const DefaultBaseURL = "https://push2his.eastmoney.com"

// ---------------------------------------------------------------------------
// EastmoneyClient — HTTP client for the Eastmoney kline endpoint.
// ---------------------------------------------------------------------------

// EastmoneyClient fetches forward-adjusted daily bars for China A-shares.
type EastmoneyClient struct {
	baseURL     string
	http        *http.Client
	limiter     *util.RateLimiter
	maxAttempts int
	retryDelay  time.Duration
	log         *slog.Logger
}

// NewEastmoneyClient creates a client allowing ratePerMin requests per
// minute. An empty baseURL selects DefaultBaseURL.
func NewEastmoneyClient(baseURL string, ratePerMin int) *EastmoneyClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &EastmoneyClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second},
		limiter:     util.NewRateLimiter(ratePerMin),
		maxAttempts: 4,
		retryDelay:  time.Second,
		log:         slog.Default().With("client", "eastmoney"),
	}
}

// klineResponse is the JSON envelope of the kline endpoint.
type klineResponse struct {
	RC   int `json:"rc"`
	Data *struct {
		Code   string   `json:"code"`
		Market int      `json:"market"`
		Name   string   `json:"name"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// SecID returns the Eastmoney security id: market 1 for Shanghai codes
// (starting with 6 or 9), 0 for Shenzhen and Beijing.
func SecID(symbol string) string {
	if strings.HasPrefix(symbol, "6") || strings.HasPrefix(symbol, "9") {
		return "1." + symbol
	}
	return "0." + symbol
}

// QueryDailyBars retrieves daily bars for symbol between start and end
// inclusive. An unknown symbol yields domain.ErrDataUnavailable.
func (c *EastmoneyClient) QueryDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	q := url.Values{}
	q.Set("secid", SecID(symbol))
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56,f57")
	q.Set("klt", "101") // daily
	q.Set("fqt", "1")   // forward adjusted
	q.Set("beg", start.Format("20060102"))
	q.Set("end", end.Format("20060102"))
	reqURL := c.baseURL + "/api/qt/stock/kline/get?" + q.Encode()

	var body []byte
	err := util.Retry(ctx, c.maxAttempts, c.retryDelay, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			c.log.Debug("request failed, retrying", "symbol", symbol, "err", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("eastmoney %s: status %d", symbol, resp.StatusCode)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			c.log.Debug("bad status, retrying", "symbol", symbol, "status", resp.StatusCode)
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}

	var kr klineResponse
	if err := json.Unmarshal(body, &kr); err != nil {
		return nil, fmt.Errorf("decoding eastmoney %s: %w", symbol, err)
	}
	if kr.Data == nil {
		return nil, fmt.Errorf("eastmoney %s: %w", symbol, domain.ErrDataUnavailable)
	}

	bars := make([]domain.Bar, 0, len(kr.Data.Klines))
	for _, line := range kr.Data.Klines {
		b, err := parseKline(symbol, line)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// parseKline parses "date,open,close,high,low,volume,amount[,...]". Volume
// is reported in lots of 100 shares.
func parseKline(symbol, line string) (domain.Bar, error) {
	f := strings.Split(line, ",")
	if len(f) < 7 {
		return domain.Bar{}, fmt.Errorf("kline %q: want at least 7 fields, got %d", line, len(f))
	}
	ts, err := time.Parse("2006-01-02", f[0])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("kline %q: %w", line, err)
	}

	var nums [6]float64
	for i := range nums {
		if nums[i], err = strconv.ParseFloat(f[i+1], 64); err != nil {
			return domain.Bar{}, fmt.Errorf("kline %q field %d: %w", line, i+1, err)
		}
	}
	shares := int64(nums[4] * 100)
	var vwap float64
	if shares > 0 {
		vwap = nums[5] / float64(shares)
	}
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      nums[0],
		Close:     nums[1],
		High:      nums[2],
		Low:       nums[3],
		Volume:    shares,
		VWAP:      vwap,
	}, nil
}
