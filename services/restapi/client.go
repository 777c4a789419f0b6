package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo/console/core"
)

const maxErrorBody = 4 << 10

// Client talks JSON to the school backend.
type Client struct {
	baseURL  string
	http     *http.Client
	attempts int
	delay    time.Duration
	logger   core.Logger
}

// NewClient builds a Client from the API configuration.
func NewClient(conf core.APIConfig, logger core.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(conf.BaseURL, "/"),
		http:     &http.Client{Timeout: conf.Timeout},
		attempts: conf.RetryAttempts,
		delay:    conf.RetryDelay,
		logger:   logger,
	}
}

// Do sends a JSON request to path and decodes the (possibly enveloped) response into out.
// Transient failures are retried; credential rejections are returned right away.
func (c *Client) Do(ctx context.Context, method, path, bearer string, in, out interface{}) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	op := method + " " + path
	var policy backoff.BackOff = backoff.NewConstantBackOff(c.delay)
	policy = backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.attempts)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := c.send(ctx, op, method, path, bearer, body, out)
		if err == nil {
			return nil
		}
		if !core.IsNetwork(err) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		c.logger.Debug("restapi: request failed", map[string]interface{}{"op": op, "attempt": attempt, "error": err.Error()})
		return err
	}, policy)
}

func (c *Client) send(ctx context.Context, op, method, path, bearer string, body []byte, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.NewNetworkError(op, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.NewNetworkError(op, resp.StatusCode, err)
	}
	if err = classify(op, resp.StatusCode, data); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return decodeEnvelope(data, out)
}

// classify maps an HTTP status to the error kinds the session lifecycle understands.
func classify(op string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return core.NewCredentialError(status, errorMessage(body))
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return core.NewNetworkError(op, status, errors.New(http.StatusText(status)))
	default:
		return errors.Errorf("%s: unexpected status %d: %s", op, status, errorMessage(body))
	}
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(body []byte) string {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	var payload struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, msg := range []string{payload.Message, payload.Detail, payload.Error} {
			if msg != "" {
				return msg
			}
		}
	}
	return ""
}

// decodeEnvelope unwraps `{"data": ...}` responses; anything else is decoded as is.
func decodeEnvelope(body []byte, out interface{}) error {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err == nil {
		if data, ok := env["data"]; ok && !isNull(data) {
			body = data
		}
	}
	return errors.Wrap(json.Unmarshal(body, out), "decoding response")
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
