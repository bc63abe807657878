package phone

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultNumverifyURL is the public validation endpoint.
const DefaultNumverifyURL = "http://apilayer.net/api/validate"

// NumverifyConfig configures NumverifyClient.
type NumverifyConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NumverifyClient looks numbers up against the numverify REST API.
type NumverifyClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewNumverifyClient builds a client. The API key is required.
func NewNumverifyClient(cfg NumverifyConfig) (*NumverifyClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("numverify api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultNumverifyURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NumverifyClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type numverifyResponse struct {
	Valid               bool   `json:"valid"`
	Number              string `json:"number"`
	LocalFormat         string `json:"local_format"`
	InternationalFormat string `json:"international_format"`
	CountryCode         string `json:"country_code"`
	Carrier             string `json:"carrier"`
	LineType            string `json:"line_type"`
	Error               *struct {
		Code int    `json:"code"`
		Info string `json:"info"`
	} `json:"error,omitempty"`
}

// Lookup implements Client.
func (c *NumverifyClient) Lookup(ctx context.Context, digits, country string) (Lookup, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return Lookup{}, fmt.Errorf("parse numverify url: %w", err)
	}
	q := u.Query()
	q.Set("access_key", c.apiKey)
	q.Set("number", digits)
	q.Set("country_code", country)
	q.Set("format", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Lookup{}, fmt.Errorf("build numverify request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Lookup{}, fmt.Errorf("numverify request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Lookup{}, fmt.Errorf("numverify api error: %s", resp.Status)
	}
	var body numverifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Lookup{}, fmt.Errorf("decode numverify response: %w", err)
	}
	// numverify reports quota and key problems with a 200 and an error object.
	if body.Error != nil {
		return Lookup{}, fmt.Errorf("numverify api error %d: %s", body.Error.Code, body.Error.Info)
	}
	return Lookup{
		Valid:               body.Valid,
		InternationalFormat: body.InternationalFormat,
		LineType:            body.LineType,
		Carrier:             body.Carrier,
	}, nil
}
