package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/boddenberg/fenix-agent-go/internal/infra/resilience"

	"go.uber.org/zap"
)

// ============================================================
// HTTP helpers for GET, POST and DELETE
// ============================================================

func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	return c.rest(ctx, c.cfg, http.MethodGet, path, nil, "")
}

// doPost inserts or calls an rpc. prefer is sent as the Prefer header.
func (c *Client) doPost(ctx context.Context, cfg resilience.Config, path string, data any, prefer string) ([]byte, error) {
	return c.rest(ctx, cfg, http.MethodPost, path, data, prefer)
}

func (c *Client) doDelete(ctx context.Context, path string) error {
	_, err := c.rest(ctx, c.cfg, http.MethodDelete, path, nil, "return=minimal")
	return err
}

func (c *Client) rest(ctx context.Context, cfg resilience.Config, method, path string, data any, prefer string) ([]byte, error) {
	var payload []byte
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		payload = b
	}
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	return c.send(ctx, cfg, method, url, "application/json", payload, map[string]string{"Prefer": prefer})
}

// send runs one request behind the breaker. 4xx answers are not retried.
func (c *Client) send(ctx context.Context, cfg resilience.Config, method, url, contentType string, payload []byte, headers map[string]string) ([]byte, error) {
	return resilience.Call(ctx, c.cb, cfg, func() ([]byte, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		req.Header.Set("apikey", c.serviceRoleKey)
		req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
		req.Header.Set("Content-Type", contentType)
		for k, v := range headers {
			if v != "" {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Error("supabase: request failed",
				zap.String("method", method),
				zap.String("url", url),
				zap.Error(err),
			)
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := readBody(resp)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.logger.Warn("supabase: non-2xx response",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("status", resp.StatusCode),
				zap.String("body", string(respBody)),
			)
			serr := &StatusError{Method: method, Path: url, Status: resp.StatusCode, Body: string(respBody)}
			if serr.retryable() {
				return nil, serr
			}
			return nil, resilience.Permanent(serr)
		}

		c.logger.Debug("supabase: request OK",
			zap.String("method", method),
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return respBody, nil
	})
}

// decodeRows unmarshals a PostgREST array. An empty body decodes to no rows.
func decodeRows[T any](body []byte, what string) ([]T, error) {
	var rows []T
	if len(bytes.TrimSpace(body)) == 0 {
		return rows, nil
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	return rows, nil
}

// firstRow decodes the single row an insert with return=representation yields.
func firstRow[T any](body []byte, what string) (*T, error) {
	rows, err := decodeRows[T](body, what)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("supabase: insert into " + what + " returned no row")
	}
	return &rows[0], nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
