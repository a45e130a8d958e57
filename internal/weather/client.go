// Package weather fetches current conditions from OpenWeatherMap and renders
// the chat report.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"weatherbot/internal/metrics"
	logx "weatherbot/pkg/logx"
)

var (
	// ErrBadStatus wraps non-2xx provider responses.
	ErrBadStatus = errors.New("weather: bad status")
	// ErrMalformed wraps bodies missing main.temp or weather[0].description.
	ErrMalformed = errors.New("weather: malformed response")
)

// Result is the outcome of one Fetch. Text is always sendable: the report on
// success, FailureText otherwise.
type Result struct {
	Report Report
	Text   string
	Err    error
}

func (r Result) OK() bool { return r.Err == nil }

// Fetcher is what the bot and broadcaster need from a weather source.
type Fetcher interface {
	Fetch(ctx context.Context, city string) Result
}

type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	log      logx.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client (tests, custom transports).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		log:      log.With(logx.Comp("weather")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// apiResponse is the subset of /data/2.5/weather we read.
type apiResponse struct {
	Name string `json:"name"`
	Main *struct {
		Temp *json.Number `json:"temp"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
}

// Fetch performs exactly one GET. Errors never escape as a second return
// value; they are logged and carried in Result.Err.
func (c *Client) Fetch(ctx context.Context, city string) Result {
	start := time.Now()
	rep, err := c.fetch(ctx, city)
	metrics.ObserveWeatherFetch(err == nil, time.Since(start))
	if err != nil {
		c.log.Error("weather fetch failed", logx.String("city", city), logx.Duration("took", time.Since(start)), logx.Err(err))
		return Result{Text: FailureText, Err: err}
	}
	c.log.Debug("weather fetched", logx.String("city", city), logx.Float64("temp_c", rep.TempC), logx.Duration("took", time.Since(start)))
	return Result{Report: rep, Text: rep.Text()}
}

func (c *Client) fetch(ctx context.Context, city string) (Report, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return Report{}, fmt.Errorf("weather endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", city)
	q.Set("appid", c.apiKey)
	q.Set("units", "metric")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Report{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Report{}, redactKey(err, c.apiKey)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Report{}, fmt.Errorf("%w: %d: %s", ErrBadStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var ar apiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ar); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ar.Main == nil || ar.Main.Temp == nil {
		return Report{}, fmt.Errorf("%w: missing main.temp", ErrMalformed)
	}
	if len(ar.Weather) == 0 {
		return Report{}, fmt.Errorf("%w: empty weather list", ErrMalformed)
	}

	t, err := ar.Main.Temp.Float64()
	if err != nil {
		return Report{}, fmt.Errorf("%w: main.temp: %v", ErrMalformed, err)
	}
	return Report{
		City:           city,
		TempC:          t,
		tempText:       integerText(*ar.Main.Temp),
		Description:    ar.Weather[0].Description,
		Recommendation: Recommendation(t),
	}, nil
}

// integerText returns n in decimal when the provider sent an integer
// literal, so 5 stays "5" rather than "5.0". Fractional and exponent forms
// return "" and are printed from TempC.
func integerText(n json.Number) string {
	s := n.String()
	if strings.ContainsAny(s, ".eE") {
		return ""
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatInt(i, 10)
}

// redactKey keeps the appid out of *url.Error messages.
func redactKey(err error, key string) error {
	if key == "" {
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		ue.URL = strings.ReplaceAll(ue.URL, url.QueryEscape(key), "REDACTED")
	}
	return err
}
