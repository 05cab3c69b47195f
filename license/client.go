// Package license exchanges a CDM challenge for a license response against
// the upstream license server.
package license

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUnreachable = errors.New("license server unreachable")
	ErrBadStatus   = errors.New("license server returned bad status")
)

const (
	DefaultTimeout = 10 * time.Second

	maxBodySize = 8 << 20
)

type Client struct {
	httpc *http.Client
	log   *zap.Logger
}

func NewClient(timeout time.Duration, log *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpc: &http.Client{Timeout: timeout},
		log:   log,
	}
}

// Exchange posts the challenge to licenseURL and returns the raw license
// response. Both payloads are opaque binary and are never logged.
func (c *Client) Exchange(ctx context.Context, licenseURL string, challenge []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, licenseURL, bytes.NewReader(challenge))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	c.log.Info("sending license challenge",
		zap.String("url", licenseURL),
		zap.Int("challenge_len", len(challenge)))

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %s", ErrUnreachable, err)
	}
	if len(body) > maxBodySize {
		// a truncated license must never reach the CDM
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", ErrBadStatus, maxBodySize)
	}

	c.log.Info("license response received", zap.Int("license_len", len(body)))

	return body, nil
}
