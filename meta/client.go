// Package meta resolves a content id into PSSH data and a license server URL
// via the external metadata service.
package meta

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnreachable      = errors.New("metadata service unreachable")
	ErrBadStatus        = errors.New("metadata service returned bad status")
	ErrMalformedBody    = errors.New("metadata response malformed")
	ErrIncompleteRecord = errors.New("metadata record incomplete")
)

const (
	DefaultTimeout = 10 * time.Second

	maxBodySize = 1 << 20
)

// Record is a validated metadata response: decoded PSSH bytes plus the
// license server URL to post the challenge to.
type Record struct {
	PSSH       []byte
	LicenseURL string
}

type Client struct {
	endpoint string
	httpc    *http.Client
	log      *zap.Logger
}

// NewClient creates a metadata client for the given endpoint. A non-positive
// timeout falls back to DefaultTimeout; resolution is always bounded.
func NewClient(endpoint string, timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		httpc:    &http.Client{Timeout: timeout},
		log:      log,
	}
}

// Resolve fetches and validates the metadata record for a content id. begin
// and end are passed through as-is and may be empty.
func (c *Client) Resolve(ctx context.Context, id, begin, end string) (*Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}

	q := req.URL.Query()
	q.Set("id", id)
	q.Set("begin", begin)
	q.Set("end", end)
	req.URL.RawQuery = q.Encode()

	c.log.Info("fetching pssh data",
		zap.String("id", id),
		zap.String("begin", begin),
		zap.String("end", end))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %s", ErrUnreachable, err)
	}

	var payload struct {
		PSSH       string `json:"pssh"`
		LicenseURL string `json:"wvlicence"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON", ErrMalformedBody)
	}

	if payload.PSSH == "" || payload.LicenseURL == "" {
		return nil, fmt.Errorf("%w: missing pssh or license url", ErrIncompleteRecord)
	}
	if u, err := url.Parse(payload.LicenseURL); err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("%w: license url is not absolute", ErrIncompleteRecord)
	}

	pssh, err := base64.StdEncoding.DecodeString(payload.PSSH)
	if err != nil {
		return nil, fmt.Errorf("%w: pssh is not valid base64", ErrMalformedBody)
	}
	if len(pssh) == 0 {
		return nil, fmt.Errorf("%w: pssh is empty", ErrIncompleteRecord)
	}

	c.log.Info("received pssh data",
		zap.String("id", id),
		zap.Int("pssh_len", len(pssh)))

	return &Record{PSSH: pssh, LicenseURL: payload.LicenseURL}, nil
}
