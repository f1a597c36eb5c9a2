// Package oanda reads closed candles from the OANDA v20 REST API and serves
// them as a market.DataSource.
package oanda

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrMissingToken = errors.New("oanda: missing token")

type Config struct {
	Env         string `yaml:"env" json:"env" default:"practice" validate:"oneof=practice demo live"`
	Granularity string `yaml:"granularity" json:"granularity" default:"M1"`
	Price       string `yaml:"price" json:"price" default:"M" validate:"oneof=M B A"`
	// Token is read from OANDA_TOKEN, never from the config file.
	Token   string        `yaml:"-" json:"-"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" default:"15s"`
}

type Client struct {
	BaseURL string // e.g. https://api-fxpractice.oanda.com
	Token   string
	HTTP    *http.Client
}

func BaseURL(env string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "practice", "demo", "":
		return "https://api-fxpractice.oanda.com", nil
	case "live":
		return "https://api-fxtrade.oanda.com", nil
	}
	return "", fmt.Errorf("unknown OANDA env %q (want practice|live)", env)
}

// NewClient builds a client for cfg.Env.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, ErrMissingToken
	}
	base, err := BaseURL(cfg.Env)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{BaseURL: base, Token: cfg.Token, HTTP: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (io.ReadCloser, error) {
	if c.Token == "" {
		return nil, ErrMissingToken
	}
	if c.BaseURL == "" {
		return nil, fmt.Errorf("oanda: missing base url")
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	u.Path = path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, fmt.Errorf("oanda %s http %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return resp.Body, nil
}
