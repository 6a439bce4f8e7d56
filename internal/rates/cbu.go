package rates

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultCBUURL is the Central Bank of Uzbekistan daily rates feed. Rates are
// quoted in UZS per Nominal units of the foreign currency.
const DefaultCBUURL = "https://cbu.uz/uz/arkhiv-kursov-valyut/json/"

const maxPayloadBytes = 4 << 20

// CBUProvider fetches rates from a CBU-style JSON feed.
type CBUProvider struct {
	url             string
	client          *http.Client
	maxRetries      uint64
	initialInterval time.Duration
}

type CBUOption func(*CBUProvider)

func WithHTTPClient(c *http.Client) CBUOption {
	return func(p *CBUProvider) { p.client = c }
}

// WithRetries bounds the retries after the first attempt. Zero disables retrying.
func WithRetries(n uint64, initial time.Duration) CBUOption {
	return func(p *CBUProvider) {
		p.maxRetries = n
		p.initialInterval = initial
	}
}

func NewCBUProvider(url string, opts ...CBUOption) *CBUProvider {
	if strings.TrimSpace(url) == "" {
		url = DefaultCBUURL
	}
	p := &CBUProvider{
		url:             url,
		client:          &http.Client{Timeout: 15 * time.Second},
		maxRetries:      3,
		initialInterval: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// URL returns the feed address.
func (p *CBUProvider) URL() string {
	return p.url
}

// cbuRecord mirrors one element of the feed. Unknown fields are ignored.
type cbuRecord struct {
	Ccy     flexString `json:"Ccy"`
	CcyNmUZ flexString `json:"CcyNm_UZ"`
	CcyNmEN flexString `json:"CcyNm_EN"`
	Rate    flexString `json:"Rate"`
	Nominal flexString `json:"Nominal"`
}

// flexString accepts a JSON string, number or null so one odd field does not
// fail the whole payload.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

func (p *CBUProvider) Fetch(ctx context.Context) ([]Record, error) {
	var body []byte
	op := func() error {
		b, err := p.get(ctx)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initialInterval
	var b backoff.BackOff = backoff.WithMaxRetries(eb, p.maxRetries)
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return decodeCBU(body)
}

// get performs one request. Client errors are permanent; transport errors and
// 5xx responses are retried.
func (p *CBUProvider) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("get %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func decodeCBU(body []byte) ([]Record, error) {
	var raw []cbuRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if raw == nil {
		return nil, errors.New("decode payload: expected a JSON array")
	}
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		name := string(r.CcyNmUZ)
		if strings.TrimSpace(name) == "" {
			name = string(r.CcyNmEN)
		}
		out = append(out, Record{
			Code:        string(r.Ccy),
			DisplayName: name,
			Rate:        string(r.Rate),
			Nominal:     string(r.Nominal),
		})
	}
	return out, nil
}
